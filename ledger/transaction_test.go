package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/storage"
)

func Test_Txn_Sign(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := NewAccount(*NewAddress(&privKey.PublicKey))

	txn := NewTransactionPayment("test", account, "0xabc", 10, "quote-1")
	signed, err := txn.Sign(privKey)
	require.NoError(t, err)
	require.NoError(t, signed.VerifySignature())
	require.Equal(t, txn.Hash(), signed.Hash())

	// tampering breaks the signature
	signed.Txn.Value = 11
	require.Error(t, signed.VerifySignature())
}

func Test_Txn_Sign_WrongSender(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := NewAccount(*NewAddress(&privKey.PublicKey))

	txn := NewTransactionPayment("test", account, "0xabc", 10, "")
	signed, err := txn.Sign(other)
	require.NoError(t, err)
	require.Error(t, signed.VerifySignature())
}

func Test_Txn_Coinbase_CannotBroadcast(t *testing.T) {
	txn := NewTransactionCoinbase("test", "0xabc", 10)
	signed, err := txn.Sign(nil)
	require.NoError(t, err)
	require.Error(t, signed.VerifySignature())
}

func Test_Txn_Exec(t *testing.T) {
	worldState := storage.NewBasicKV()
	from := NewAccount(*NewAddressFromHex("0xfrom"))
	from.balance = 15
	putAccount(worldState, from)

	txn := NewTransactionPayment("test", from, "0xto", 10, "")
	require.NoError(t, txn.Exec(worldState))

	from = GetAccountFromWorldState(worldState, "0xfrom")
	to := GetAccountFromWorldState(worldState, "0xto")
	require.Equal(t, uint64(5), from.GetBalance())
	require.Equal(t, uint64(1), from.GetNonce())
	require.Equal(t, uint64(10), to.GetBalance())

	// replay is refused
	err := txn.Exec(worldState)
	require.True(t, errors.Is(err, ErrBadNonce))

	// overdraft is refused and leaves the state untouched
	txn = NewTransactionPayment("test", from, "0xto", 10, "")
	hash := worldState.Hash()
	err = txn.Exec(worldState)
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.Equal(t, hash, worldState.Hash())
}

func Test_Block_Build(t *testing.T) {
	worldState := storage.NewBasicKV()
	transactions := []*Transaction{
		NewTransactionCoinbase("test", "0xa", 10),
		NewTransactionCoinbase("test", "0xb", 20),
	}

	bb := NewBlockBuilder()
	bb.SetPrevHash(DUMMY_PREVHASH).SetHeight(1).SetState(worldState)
	h := sha256.New()
	for _, txn := range transactions {
		signed, err := txn.Sign(nil)
		require.NoError(t, err)
		require.NoError(t, bb.AddTxn(signed))
		h.Write(txn.HashBytes())
	}

	// a failing transaction is recorded as failed
	bad := NewTransactionPayment("test", NewAccount(*NewAddressFromHex("0xa")), "0xb", 100, "")
	signedBad, err := bad.Sign(nil)
	require.NoError(t, err)
	require.Error(t, bb.AddTxn(signedBad))
	h.Write(bad.HashBytes())

	block := bb.Build()
	require.Equal(t, DUMMY_PREVHASH, block.PrevHash)
	require.Equal(t, uint64(1), block.Height)
	require.Equal(t, hex.EncodeToString(h.Sum(nil)), block.TransactionHash)
	require.Equal(t, hex.EncodeToString(worldState.Hash()), block.StateHash)
	require.Len(t, block.Transactions, 3)
	require.True(t, block.HasTxn(bad.Hash()))
	require.Contains(t, block.Failed, bad.Hash())
	require.Equal(t, uint64(10), GetAccountFromWorldState(block.States, "0xa").GetBalance())
}
