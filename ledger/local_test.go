package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func newFundedLedger(t *testing.T, balance uint64, opts ...LocalOption) (*Local, *ecdsa.PrivateKey, string) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := NewAddress(&privKey.PublicKey).Hex

	l := NewLocal(Genesis{
		ChainID:     "devnet",
		Allocations: map[string]uint64{addr: balance},
	}, opts...)
	return l, privKey, addr
}

func payment(t *testing.T, l *Local, key *ecdsa.PrivateKey, from string, value uint64) *SignedTransaction {
	info, err := l.Account(context.Background(), from)
	require.NoError(t, err)

	account := NewAccount(*NewAddressFromHex(from))
	account.nonce = info.Nonce
	txn := NewTransactionPayment(l.ChainID(), account, "0xcluster", value, "quote")
	signed, err := txn.Sign(key)
	require.NoError(t, err)
	return signed
}

func Test_Local_Genesis(t *testing.T) {
	l, _, addr := newFundedLedger(t, 100)

	info, err := l.Account(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), info.Balance)
	require.Equal(t, uint64(0), info.Nonce)
	require.Equal(t, uint64(0), l.Height())
}

func Test_Local_Broadcast_Commit(t *testing.T) {
	ctx := context.Background()
	l, key, addr := newFundedLedger(t, 100)

	txn := payment(t, l, key, addr, 30)
	hash, err := l.Broadcast(ctx, txn)
	require.NoError(t, err)
	require.Equal(t, txn.Hash(), hash)

	status, err := l.Status(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, TxPending, status)

	// the next nonce includes the pending transaction
	info, err := l.Account(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.Nonce)
	require.Equal(t, uint64(100), info.Balance)

	block := l.Commit()
	require.NotNil(t, block)
	require.Equal(t, uint64(1), block.Height)
	require.Nil(t, l.Commit())

	status, err = l.Status(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, status)

	committed, status, err := l.Transaction(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, status)
	require.Equal(t, uint64(30), committed.Value)
	require.Equal(t, "quote", committed.Memo)

	info, err = l.Account(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(70), info.Balance)
}

func Test_Local_Broadcast_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, key, addr := newFundedLedger(t, 100, WithAutoCommit())

	txn := payment(t, l, key, addr, 30)
	hash1, err := l.Broadcast(ctx, txn)
	require.NoError(t, err)
	hash2, err := l.Broadcast(ctx, txn)
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)

	info, err := l.Account(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(70), info.Balance)
	require.Equal(t, uint64(1), l.Height())
}

func Test_Local_Broadcast_Rejected(t *testing.T) {
	ctx := context.Background()
	l, key, addr := newFundedLedger(t, 10)

	_, err := l.Broadcast(ctx, payment(t, l, key, addr, 30))
	require.True(t, errors.Is(err, ErrRejected))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.False(t, errors.Is(err, ErrBadNonce))
	require.Contains(t, err.Error(), ErrInsufficientBalance.Error())

	account := NewAccount(*NewAddressFromHex(addr))
	wrongChain := NewTransactionPayment("other", account, "0xcluster", 1, "")
	signed, err := wrongChain.Sign(key)
	require.NoError(t, err)
	_, err = l.Broadcast(ctx, signed)
	require.True(t, errors.Is(err, ErrRejected))

	unknown, err := l.Status(ctx, signed.Hash())
	require.NoError(t, err)
	require.Equal(t, TxUnknown, unknown)
}

func Test_Local_Credit(t *testing.T) {
	l, _, addr := newFundedLedger(t, 0)
	l.Credit(addr, 42)

	info, err := l.Account(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(42), info.Balance)
}

func Test_Local_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, key, addr := newFundedLedger(t, 100)
	go l.Run(ctx, 10*time.Millisecond)

	hash, err := l.Broadcast(ctx, payment(t, l, key, addr, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := l.Status(ctx, hash)
		return err == nil && status == TxConfirmed
	}, time.Second, 10*time.Millisecond)
}

func Test_Genesis_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	content := "chain_id: devnet\nallocations:\n  \"0xabc\": 1000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	g, err := GenesisFromYAML(path)
	require.NoError(t, err)
	require.Equal(t, "devnet", g.ChainID)
	require.Equal(t, uint64(1000), g.Allocations["0xabc"])

	_, err = GenesisFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
