package types

// Identity is a (public key, derived id) pair for a party in the network.
type Identity struct {
	PublicKey []byte
	ID        string
}

// NetworkIdentity drives routing and authorization on the MPC cluster. The
// user id is derived from the user key, the party id from the node key.
type NetworkIdentity struct {
	User  Identity
	Party Identity
}

// ChainIdentity drives payment on the ledger. ID is the account address.
type ChainIdentity struct {
	Identity
}

// Auth authenticates a cluster request: Signature is made by the user key
// over the request digest.
type Auth struct {
	UserID    string
	PublicKey []byte
	Signature []byte
}
