package ledger

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/secretcompute/storage"
)

// -----------------------------------------------------------------------------
// Address

var ZeroAddress = Address{}

type Address struct {
	Hex string
}

func NewAddress(pubkey *ecdsa.PublicKey) *Address {
	return &Address{Hex: crypto.PubkeyToAddress(*pubkey).Hex()}
}

func NewAddressFromHex(hex string) *Address {
	return &Address{Hex: hex}
}

// -----------------------------------------------------------------------------
// Account

// Account is the world-state record of an address. Amounts are in the
// smallest ledger unit.
type Account struct {
	addr    Address
	balance uint64
	nonce   uint64
}

func NewAccount(addr Address) *Account {
	return &Account{
		addr:    addr,
		balance: 0,
		nonce:   0,
	}
}

func (ac *Account) GetAddress() Address {
	return ac.addr
}

func (ac *Account) GetBalance() uint64 {
	return ac.balance
}

func (ac *Account) GetNonce() uint64 {
	return ac.nonce
}

// Copy implements storage.Copyable
func (ac Account) Copy() storage.Copyable {
	return ac
}

// Hash implements storage.Hashable
func (ac Account) Hash() string {
	return storage.Hash(fmt.Sprintf("%s|%d|%d", ac.addr.Hex, ac.balance, ac.nonce))
}

// String implements fmt.Stringer
func (ac Account) String() string {
	return fmt.Sprintf("{%s: balance=%d, nonce=%d}", ac.addr.Hex, ac.balance, ac.nonce)
}

func accountKey(addr string) string {
	return "account|" + addr
}

// GetAccountFromWorldState returns the account of addr, or a fresh one.
func GetAccountFromWorldState(worldState storage.KVStore, addr string) *Account {
	object, ok := worldState.Get(accountKey(addr))
	if !ok {
		return NewAccount(*NewAddressFromHex(addr))
	}
	account := object.(Account)
	return &account
}

func putAccount(worldState storage.KVStore, account *Account) {
	err := worldState.Put(accountKey(account.addr.Hex), *account)
	if err != nil {
		panic(err)
	}
}
