// Package cluster defines how the coordinator talks to an MPC cluster. The
// cluster is addressed by id on every call; requests that act on behalf of a
// user carry a signature made by the user key over the request digest.
package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"go.dedis.ch/secretcompute/types"
)

// Client is the view the coordinator has of an MPC cluster.
type Client interface {
	// Quote prices an operation.
	Quote(ctx context.Context, clusterID string, op types.Operation) (types.Quote, error)
	// Redeem exchanges a confirmed payment of a quote for a receipt. Redeeming
	// the same payment twice returns the same receipt.
	Redeem(ctx context.Context, clusterID string, req RedeemRequest) (types.Receipt, error)

	StoreProgram(ctx context.Context, clusterID string, req StoreProgramRequest) (types.ActionID, error)
	StoreValues(ctx context.Context, clusterID string, req StoreValuesRequest) (types.RawHandles, error)
	Compute(ctx context.Context, clusterID string, req ComputeRequest) (types.ComputeID, error)

	// Status returns the latest event of a computation.
	Status(ctx context.Context, clusterID string, req StatusRequest) (types.ComputeEvent, error)
	// Subscribe opens the stream of events addressed to a user.
	Subscribe(ctx context.Context, clusterID string, req SubscribeRequest) (EventStream, error)
}

// EventStream delivers compute events in order. Recv returns io.EOF once the
// stream is closed.
type EventStream interface {
	Recv(ctx context.Context) (types.ComputeEvent, error)
	Close() error
}

// -----------------------------------------------------------------------------
// Requests

// RedeemRequest claims a receipt for a paid quote.
type RedeemRequest struct {
	QuoteID string
	TxHash  string
	Payer   string
}

// StoreProgramRequest uploads a program artifact under the caller's user id.
type StoreProgramRequest struct {
	Name     string
	Artifact []byte
	Receipt  types.Receipt
	Auth     types.Auth `json:",omitempty"`
}

// Digest implements Signed.
func (r StoreProgramRequest) Digest() []byte {
	r.Auth = types.Auth{}
	return digestOf("store-program", r)
}

// StoreValuesRequest stores a set of values for TTL.
type StoreValuesRequest struct {
	Values      types.NamedValues
	Permissions types.Permissions
	TTL         time.Duration
	Receipt     types.Receipt
	Auth        types.Auth `json:",omitempty"`
}

// Digest implements Signed.
func (r StoreValuesRequest) Digest() []byte {
	r.Auth = types.Auth{}
	return digestOf("store-values", r)
}

// ComputeRequest runs a program over stored and inline values.
type ComputeRequest struct {
	Request types.ComputeRequest
	Auth    types.Auth `json:",omitempty"`
}

// Digest implements Signed.
func (r ComputeRequest) Digest() []byte {
	r.Auth = types.Auth{}
	return digestOf("compute", r)
}

// StatusRequest asks for the latest event of a computation.
type StatusRequest struct {
	ComputeID types.ComputeID
	Auth      types.Auth `json:",omitempty"`
}

// Digest implements Signed.
func (r StatusRequest) Digest() []byte {
	r.Auth = types.Auth{}
	return digestOf("status", r)
}

// SubscribeRequest opens the event stream of a user. PartyID additionally
// routes the events of computations that bind the party as an output.
type SubscribeRequest struct {
	UserID  string
	PartyID string
	Auth    types.Auth `json:",omitempty"`
}

// Digest implements Signed.
func (r SubscribeRequest) Digest() []byte {
	r.Auth = types.Auth{}
	return digestOf("subscribe", r)
}

// Signed is a request authenticated by its user.
type Signed interface {
	Digest() []byte
}

// digestOf hashes the JSON encoding of a request. encoding/json sorts map
// keys, so the digest survives a round trip over the wire.
func digestOf(kind string, v interface{}) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write(buf)
	return h.Sum(nil)
}
