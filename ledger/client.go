// Package ledger implements the payment side of the coordinator: signed
// transfer transactions, the ledger client interface and an in-memory devnet
// ledger.
package ledger

import (
	"context"
	"errors"
)

// TxStatus is the status of a transaction as seen by the ledger.
type TxStatus string

const (
	TxUnknown   TxStatus = "unknown"
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

var (
	// ErrBadNonce is returned when a transaction does not carry the next nonce
	// of its sender.
	ErrBadNonce = errors.New("bad nonce")
	// ErrInsufficientBalance is returned when the sender cannot pay.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrRejected is returned for transactions the ledger will never accept.
	ErrRejected = errors.New("transaction rejected")
)

// rejection is an ErrRejected that keeps the reason the transaction failed.
type rejection struct {
	reason error
}

func (r rejection) Error() string {
	return ErrRejected.Error() + ": " + r.reason.Error()
}

func (r rejection) Is(target error) bool {
	return target == ErrRejected
}

func (r rejection) Unwrap() error {
	return r.reason
}

// AccountInfo is the balance and next nonce of an address.
type AccountInfo struct {
	Address string
	Balance uint64
	// Nonce is the next nonce the address must use, pending transactions
	// included.
	Nonce uint64
}

// Client is the view the coordinator has of the payment ledger.
type Client interface {
	ChainID() string
	Account(ctx context.Context, addr string) (AccountInfo, error)
	// Broadcast submits a signed transaction and returns its hash. It is
	// idempotent: broadcasting an already known transaction returns its hash.
	Broadcast(ctx context.Context, txn *SignedTransaction) (string, error)
	Status(ctx context.Context, hash string) (TxStatus, error)
	// Transaction returns a committed transaction.
	Transaction(ctx context.Context, hash string) (Transaction, TxStatus, error)
}

// Account returns the account view of info, to build transactions from.
func (info AccountInfo) Account() *Account {
	return &Account{
		addr:    *NewAddressFromHex(info.Address),
		balance: info.Balance,
		nonce:   info.Nonce,
	}
}
