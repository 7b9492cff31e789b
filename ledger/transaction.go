package ledger

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/secretcompute/storage"
	"golang.org/x/xerrors"
)

// -----------------------------------------------------------------------------
// Transaction

type TxnType string

const (
	TxnTypeCoinbase TxnType = "txn-coinbase"
	TxnTypePayment  TxnType = "txn-payment"
)

var txnHandlerStore = map[TxnType]func(storage.KVStore, *Transaction) error{
	TxnTypeCoinbase: execCoinbase,
	TxnTypePayment:  execPayment,
}

// Transaction represents a transfer on the ledger. Memo carries the quote
// being paid.
type Transaction struct {
	ChainID string
	Nonce   uint64
	From    string
	To      string
	Type    TxnType
	Value   uint64
	Memo    string
}

// NewTransactionPayment creates a payment of value from the account.
func NewTransactionPayment(chainID string, from *Account, to string, value uint64, memo string) *Transaction {
	return &Transaction{
		ChainID: chainID,
		Nonce:   from.nonce,
		From:    from.addr.Hex,
		To:      to,
		Type:    TxnTypePayment,
		Value:   value,
		Memo:    memo,
	}
}

// NewTransactionCoinbase credits value to an address. It is never signed.
func NewTransactionCoinbase(chainID string, to string, value uint64) *Transaction {
	return &Transaction{
		ChainID: chainID,
		From:    ZeroAddress.Hex,
		To:      to,
		Type:    TxnTypeCoinbase,
		Value:   value,
	}
}

// HashBytes computes the hash of the transaction
func (txn *Transaction) HashBytes() []byte {
	h := sha256.New()

	h.Write([]byte(txn.ChainID))
	h.Write([]byte(fmt.Sprintf("%d", txn.Nonce)))
	h.Write([]byte(txn.From))
	h.Write([]byte(txn.To))
	h.Write([]byte(txn.Type))
	h.Write([]byte(fmt.Sprintf("%d", txn.Value)))
	h.Write([]byte(txn.Memo))

	return h.Sum(nil)
}

// Hash computes the hex-encoded hash of the transaction
func (txn *Transaction) Hash() string {
	return hex.EncodeToString(txn.HashBytes())
}

// String returns a description string for the transaction
func (txn *Transaction) String() string {
	return fmt.Sprintf("{%s: from=%s, to=%s, value=%d, nonce=%d}",
		txn.Type, txn.From, txn.To, txn.Value, txn.Nonce)
}

// Exec executes the transaction on worldState. worldState is left untouched
// when an error is returned.
func (txn *Transaction) Exec(worldState storage.KVStore) error {
	err := checkNonce(worldState, txn)
	if err != nil {
		return err
	}

	handler, ok := txnHandlerStore[txn.Type]
	if !ok {
		return xerrors.Errorf("invalid transaction type: %s", txn.Type)
	}
	err = handler(worldState, txn)
	if err != nil {
		return err
	}

	// advance nonce to avoid replay attack
	updateNonce(worldState, txn.From)
	return nil
}

// -----------------------------------------------------------------------------
// Signed Transaction

type SignedTransaction struct {
	Txn       Transaction
	Signature []byte
}

// Sign creates a signature for the transaction using the given private key
func (txn *Transaction) Sign(privateKey *ecdsa.PrivateKey) (*SignedTransaction, error) {
	// no signature if no key is provided
	if privateKey == nil {
		return &SignedTransaction{Txn: *txn}, nil
	}

	signature, err := crypto.Sign(txn.HashBytes(), privateKey)
	if err != nil {
		return nil, err
	}

	return &SignedTransaction{Txn: *txn, Signature: signature}, nil
}

// Hash is the hash of the inner transaction. Resubmitting the same signed
// transaction always gives the same hash.
func (signedTxn *SignedTransaction) Hash() string {
	return signedTxn.Txn.Hash()
}

// String returns a description string for the transaction
func (signedTxn *SignedTransaction) String() string {
	txn := signedTxn.Txn
	return fmt.Sprintf("{%s(signed): from=%s, id=%s, sig=%s}",
		txn.Type, txn.From, txn.Hash(), hex.EncodeToString(signedTxn.Signature))
}

// VerifySignature checks that the transaction is signed by its sender.
func (signedTxn *SignedTransaction) VerifySignature() error {
	txn := signedTxn.Txn
	if txn.Type == TxnTypeCoinbase {
		return xerrors.Errorf("coinbase transactions cannot be broadcast")
	}
	if len(signedTxn.Signature) != crypto.SignatureLength {
		return xerrors.Errorf("transaction %s has a malformed signature", txn.Hash())
	}

	digestHash := txn.HashBytes()
	publicKey, err := crypto.SigToPub(digestHash, signedTxn.Signature)
	if err != nil {
		return err
	}
	addr := NewAddress(publicKey)
	if addr.Hex != txn.From {
		return xerrors.Errorf("transaction %s is not signed by sender %s", txn.Hash(), txn.From)
	}
	// verify sig input needs to be in [R || S] format
	sigValid := crypto.VerifySignature(crypto.FromECDSAPub(publicKey), digestHash,
		signedTxn.Signature[:len(signedTxn.Signature)-1])
	if !sigValid {
		return xerrors.Errorf("transaction %s has invalid signature from %s", txn.Hash(), txn.From)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Transaction Polymorphism

func execCoinbase(worldState storage.KVStore, txn *Transaction) error {
	account := GetAccountFromWorldState(worldState, txn.To)
	account.balance += txn.Value
	putAccount(worldState, account)
	return nil
}

func execPayment(worldState storage.KVStore, txn *Transaction) error {
	from := GetAccountFromWorldState(worldState, txn.From)
	if from.balance < txn.Value {
		return xerrors.Errorf("%w: %s has %d, needs %d",
			ErrInsufficientBalance, txn.From, from.balance, txn.Value)
	}
	from.balance -= txn.Value
	putAccount(worldState, from)

	to := GetAccountFromWorldState(worldState, txn.To)
	to.balance += txn.Value
	putAccount(worldState, to)
	return nil
}

// -----------------------------------------------------------------------------
// Utilities

func checkNonce(worldState storage.KVStore, txn *Transaction) error {
	// Do nothing to zeroaddress
	if txn.From == ZeroAddress.Hex {
		return nil
	}

	account := GetAccountFromWorldState(worldState, txn.From)
	if account.nonce != txn.Nonce {
		return xerrors.Errorf("%w: transaction %s from %s. Expected: %d, Got: %d",
			ErrBadNonce, txn.Hash(), txn.From, account.nonce, txn.Nonce)
	}
	return nil
}

func updateNonce(worldState storage.KVStore, accountID string) {
	// Do nothing to zeroaddress
	if accountID == ZeroAddress.Hex {
		return
	}

	account := GetAccountFromWorldState(worldState, accountID)
	account.nonce++
	putAccount(worldState, account)
}
