package payment

import (
	"crypto/ecdsa"
	"sync"

	"go.dedis.ch/secretcompute/keys"
)

// Wallet holds the key paying for operations. Transactions are built and
// broadcast under its lock so that one writer owns the nonce at a time. A
// wallet may be shared by several sessions.
type Wallet struct {
	sync.Mutex
	key   *ecdsa.PrivateKey
	addr  string
	nonce uint64
}

// NewWallet creates a wallet paying with key.
func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		key:  key,
		addr: keys.Address(&key.PublicKey),
	}
}

// WalletFromHex creates a wallet from a hex-encoded private key.
func WalletFromHex(s string) (*Wallet, error) {
	key, err := keys.ChainKeyFromHex(s)
	if err != nil {
		return nil, err
	}
	return NewWallet(key), nil
}

// Address returns the ledger address of the wallet.
func (w *Wallet) Address() string {
	return w.addr
}

// String implements fmt.Stringer. It never shows the key.
func (w *Wallet) String() string {
	return "wallet(" + w.addr + ")"
}
