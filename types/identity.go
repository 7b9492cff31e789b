package types

import (
	"encoding/hex"
	"fmt"
)

// -----------------------------------------------------------------------------
// Identity

// String implements fmt.Stringer. Only public material is printed.
func (i Identity) String() string {
	return fmt.Sprintf("{id=%s, pub=%s}", i.ID, shortHex(i.PublicKey))
}

// UserID returns the id used for permissions and program ownership.
func (n NetworkIdentity) UserID() string {
	return n.User.ID
}

// PartyID returns the id used when binding program parties.
func (n NetworkIdentity) PartyID() string {
	return n.Party.ID
}

// String implements fmt.Stringer.
func (n NetworkIdentity) String() string {
	return fmt.Sprintf("{user=%s, party=%s}", n.User.ID, n.Party.ID)
}

// Address returns the ledger address.
func (c ChainIdentity) Address() string {
	return c.ID
}

func shortHex(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}
