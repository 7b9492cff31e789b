package types

import "time"

// OperationKind is the kind of a paid operation.
type OperationKind string

const (
	OpStoreProgram OperationKind = "store-program"
	OpStoreValues  OperationKind = "store-values"
	OpCompute      OperationKind = "compute"
)

// Operation describes a paid action precisely enough for a quote and a
// receipt to be bound to it.
type Operation struct {
	Kind OperationKind
	// Digest commits to the content of the operation.
	Digest string
	// Size is the number of bytes or values the operation stores.
	Size    int
	Program ProgramRef `json:",omitempty"`
	TTL     time.Duration
}

// Quote is the price the cluster asks for an operation.
type Quote struct {
	ID        string
	ClusterID string
	Operation Operation
	Price     uint64
	PayTo     string
	ExpiresAt time.Time
}

// Receipt proves that a quote was paid. It is single-use.
type Receipt struct {
	ID        string
	QuoteID   string
	ClusterID string
	Operation Operation
	TxHash    string
	Amount    uint64
	Payer     string
	Signature []byte
}

// ActionID identifies a store-program action.
type ActionID string

// ComputeID identifies a submitted computation.
type ComputeID string

// Bindings assigns concrete party ids to a program's logical parties.
type Bindings struct {
	Program ProgramRef
	Inputs  map[string]string
	Outputs map[string]string
}

// ComputeRequest is submitted once and yields a compute id.
type ComputeRequest struct {
	Bindings Bindings
	Handles  []string
	Inline   NamedValues
	Receipt  Receipt
}

// EventKind is the kind of a compute event.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventComputing EventKind = "computing"
	EventFinished  EventKind = "finished"
	EventError     EventKind = "error"
)

// ComputeEvent is a unit of the result stream.
type ComputeEvent struct {
	ComputeID ComputeID
	Kind      EventKind
	Result    map[string]Value `json:",omitempty"`
	Err       string           `json:",omitempty"`
}
