// Package keys derives the identities an actor uses on the MPC cluster and on
// the payment ledger.
package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

const (
	userDomain  = "secretcompute/user-key\x00"
	nodeDomain  = "secretcompute/node-key\x00"
	chainDomain = "secretcompute/chain-key\x00"
)

// KeyPair holds the private keys of one actor. It must never be logged.
type KeyPair struct {
	user  *ecdsa.PrivateKey
	node  *ecdsa.PrivateKey
	chain *ecdsa.PrivateKey
}

// Derive deterministically derives the user, node and chain keys from seed.
// Identical seeds always give identical keys.
func Derive(seed string) (*KeyPair, error) {
	if seed == "" {
		return nil, mpcerr.New(mpcerr.Keys, mpcerr.OpDerive, mpcerr.ErrInvalidSeed,
			"seed is empty")
	}

	user, err := keyFromSeed(userDomain, seed)
	if err != nil {
		return nil, err
	}
	node, err := keyFromSeed(nodeDomain, seed)
	if err != nil {
		return nil, err
	}
	chain, err := keyFromSeed(chainDomain, seed)
	if err != nil {
		return nil, err
	}

	return &KeyPair{user: user, node: node, chain: chain}, nil
}

// DeriveKeys returns the public identities derived from seed.
func DeriveKeys(seed string) (types.NetworkIdentity, types.ChainIdentity, error) {
	kp, err := Derive(seed)
	if err != nil {
		return types.NetworkIdentity{}, types.ChainIdentity{}, err
	}
	return kp.Network(), kp.Chain(), nil
}

// ChainKeyFromHex decodes a hex-encoded secp256k1 private key, as found in
// the devnet environment file.
func ChainKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Keys, mpcerr.OpDerive, mpcerr.ErrInvalidSeed, err)
	}
	if len(raw) != 32 {
		return nil, mpcerr.New(mpcerr.Keys, mpcerr.OpDerive, mpcerr.ErrInvalidSeed,
			"private key is %d bytes, expected 32", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Keys, mpcerr.OpDerive, mpcerr.ErrInvalidSeed, err)
	}
	return key, nil
}

// WithChainKey returns a copy of the key pair paying with key instead of the
// seed-derived chain key.
func (k *KeyPair) WithChainKey(key *ecdsa.PrivateKey) *KeyPair {
	return &KeyPair{user: k.user, node: k.node, chain: key}
}

// Network returns the cluster identity.
func (k *KeyPair) Network() types.NetworkIdentity {
	return types.NetworkIdentity{
		User:  identity(&k.user.PublicKey),
		Party: identity(&k.node.PublicKey),
	}
}

// Chain returns the ledger identity.
func (k *KeyPair) Chain() types.ChainIdentity {
	return types.ChainIdentity{Identity: types.Identity{
		PublicKey: crypto.FromECDSAPub(&k.chain.PublicKey),
		ID:        Address(&k.chain.PublicKey),
	}}
}

// ChainKey returns the private key that signs ledger transactions.
func (k *KeyPair) ChainKey() *ecdsa.PrivateKey {
	return k.chain
}

// Authenticate signs digest with the user key.
func (k *KeyPair) Authenticate(digest []byte) (types.Auth, error) {
	sig, err := crypto.Sign(hash32(digest), k.user)
	if err != nil {
		return types.Auth{}, err
	}
	return types.Auth{
		UserID:    UserID(&k.user.PublicKey),
		PublicKey: crypto.FromECDSAPub(&k.user.PublicKey),
		Signature: sig,
	}, nil
}

// Verify checks that auth was made by its user over digest.
func Verify(auth types.Auth, digest []byte) error {
	if len(auth.Signature) != crypto.SignatureLength {
		return mpcerr.New(mpcerr.Cluster, mpcerr.OpAuthenticate, mpcerr.ErrUnauthenticated, "malformed signature")
	}
	pub, err := crypto.SigToPub(hash32(digest), auth.Signature)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpAuthenticate, mpcerr.ErrUnauthenticated, err)
	}
	if UserID(pub) != auth.UserID {
		return mpcerr.New(mpcerr.Cluster, mpcerr.OpAuthenticate, mpcerr.ErrUnauthenticated,
			"signature is not from user %s", auth.UserID)
	}
	// verify sig input needs to be in [R || S] format
	valid := crypto.VerifySignature(crypto.FromECDSAPub(pub), hash32(digest),
		auth.Signature[:len(auth.Signature)-1])
	if !valid {
		return mpcerr.New(mpcerr.Cluster, mpcerr.OpAuthenticate, mpcerr.ErrUnauthenticated, "invalid signature")
	}
	return nil
}

// UserID derives the network id of a public key.
func UserID(pub *ecdsa.PublicKey) string {
	return strings.ToLower(strings.TrimPrefix(crypto.PubkeyToAddress(*pub).Hex(), "0x"))
}

// Address derives the ledger address of a public key.
func Address(pub *ecdsa.PublicKey) string {
	return crypto.PubkeyToAddress(*pub).Hex()
}

func keyFromSeed(domain, seed string) (*ecdsa.PrivateKey, error) {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte(seed))

	key, err := crypto.ToECDSA(h.Sum(nil))
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Keys, mpcerr.OpDerive, mpcerr.ErrInvalidSeed, err)
	}
	return key, nil
}

func identity(pub *ecdsa.PublicKey) types.Identity {
	return types.Identity{
		PublicKey: crypto.FromECDSAPub(pub),
		ID:        UserID(pub),
	}
}

// hash32 brings any digest to the 32 bytes the signer expects.
func hash32(digest []byte) []byte {
	if len(digest) == 32 {
		return digest
	}
	h := sha256.Sum256(digest)
	return h[:]
}
