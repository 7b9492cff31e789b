package types

import (
	"math/big"
	"time"
)

// ValueType is the declared type of a named value.
type ValueType string

const (
	SecretUnsignedInteger ValueType = "SecretUnsignedInteger"
	SecretInteger         ValueType = "SecretInteger"
	SecretBlob            ValueType = "SecretBlob"
	PublicUnsignedInteger ValueType = "PublicUnsignedInteger"
	PublicInteger         ValueType = "PublicInteger"
)

// MaxUnsignedBits is the widest unsigned integer the network supports.
const MaxUnsignedBits = 64

// MaxBlobSize is the largest blob payload, in bytes.
const MaxBlobSize = 4096

// DefaultTTL is how long stored values are kept unless told otherwise.
const DefaultTTL = 5 * 24 * time.Hour

// Value is a typed payload. Integers use Int, blobs use Blob.
type Value struct {
	Type ValueType
	Int  *big.Int `json:",omitempty"`
	Blob []byte   `json:",omitempty"`
}

// NamedValue is a value with the name a program refers to it by.
type NamedValue struct {
	Name  string
	Value Value
}

// NamedValues is an ordered collection of named values.
type NamedValues []NamedValue

// ProgramRef identifies an uploaded program. It is built locally from the
// owner's user id and the program name.
type ProgramRef struct {
	Owner string
	Name  string
}

// Permissions tells which users may do what with a set of stored values.
type Permissions struct {
	Owner    string
	Retrieve map[string]struct{}
	Update   map[string]struct{}
	Delete   map[string]struct{}
	// Compute maps a user id to the programs it may use the values in.
	Compute map[string]map[ProgramRef]struct{}
}

// StoreHandle is an opaque reference to a stored value. Name is the value
// name the handle covers.
type StoreHandle struct {
	ID   string
	Name string
}

// StoreHandles is the normalized, ordered list of handles of a store.
type StoreHandles []StoreHandle

// HandleShape tags the shape the network used to report store handles.
type HandleShape string

const (
	HandleSingle HandleShape = "single"
	HandleList   HandleShape = "list"
	HandleMap    HandleShape = "map"
)

// RawHandles is the store handle response as the network reports it. Only
// the field matching Shape is set.
type RawHandles struct {
	Shape  HandleShape
	Single string            `json:",omitempty"`
	List   []string          `json:",omitempty"`
	Map    map[string]string `json:",omitempty"`
}
