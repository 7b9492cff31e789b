package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Operation

// StoreProgramOperation describes the upload of a program artifact.
func StoreProgramOperation(name string, artifact []byte) Operation {
	h := sha256.New()
	h.Write([]byte(OpStoreProgram))
	h.Write([]byte(name))
	h.Write(artifact)

	return Operation{
		Kind:   OpStoreProgram,
		Digest: hex.EncodeToString(h.Sum(nil)),
		Size:   len(artifact),
	}
}

// StoreValuesOperation describes the storage of values for ttl. Only names
// and types are committed to, never payloads.
func StoreValuesOperation(values NamedValues, ttl time.Duration) Operation {
	h := sha256.New()
	h.Write([]byte(OpStoreValues))
	writeValueShapes(h, values)
	h.Write([]byte(ttl.String()))

	return Operation{
		Kind:   OpStoreValues,
		Digest: hex.EncodeToString(h.Sum(nil)),
		Size:   len(values),
		TTL:    ttl,
	}
}

// ComputeOperation describes running program with the inline values.
func ComputeOperation(program ProgramRef, inline NamedValues) Operation {
	h := sha256.New()
	h.Write([]byte(OpCompute))
	h.Write([]byte(program.String()))
	writeValueShapes(h, inline)

	return Operation{
		Kind:    OpCompute,
		Digest:  hex.EncodeToString(h.Sum(nil)),
		Size:    len(inline),
		Program: program,
	}
}

type writer interface {
	Write([]byte) (int, error)
}

func writeValueShapes(h writer, values NamedValues) {
	sorted := append(NamedValues(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, v := range sorted {
		h.Write([]byte(v.Name))
		h.Write([]byte("|"))
		h.Write([]byte(v.Value.Type))
		h.Write([]byte(";"))
	}
}

// Matches tells if two operation descriptors designate the same operation.
func (o Operation) Matches(other Operation) bool {
	return o.Kind == other.Kind && o.Digest == other.Digest && o.Program == other.Program
}

// String implements fmt.Stringer.
func (o Operation) String() string {
	return fmt.Sprintf("{%s: digest=%s}", o.Kind, shortHex([]byte(o.Digest)))
}

// -----------------------------------------------------------------------------
// Quote & Receipt

// Expired tells if the quote can no longer be paid at now.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// String implements fmt.Stringer.
func (q Quote) String() string {
	return fmt.Sprintf("{quote %s: %s price=%d, expires=%s}",
		q.ID, q.Operation.Kind, q.Price, q.ExpiresAt.Format(time.RFC3339))
}

// HashBytes computes the digest the cluster signs when issuing the receipt.
func (r Receipt) HashBytes() []byte {
	h := sha256.New()
	h.Write([]byte(r.ID))
	h.Write([]byte(r.QuoteID))
	h.Write([]byte(r.ClusterID))
	h.Write([]byte(r.Operation.Kind))
	h.Write([]byte(r.Operation.Digest))
	h.Write([]byte(r.Operation.Program.String()))
	h.Write([]byte(r.TxHash))
	h.Write([]byte(fmt.Sprintf("%d", r.Amount)))
	h.Write([]byte(r.Payer))
	return h.Sum(nil)
}

// String implements fmt.Stringer.
func (r Receipt) String() string {
	return fmt.Sprintf("{receipt %s: %s tx=%s}", r.ID, r.Operation.Kind, r.TxHash)
}

// -----------------------------------------------------------------------------
// Bindings

// Parties returns every bound party name, sorted.
func (b Bindings) Parties() []string {
	names := make([]string, 0, len(b.Inputs)+len(b.Outputs))
	for name := range b.Inputs {
		names = append(names, name)
	}
	for name := range b.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String implements fmt.Stringer.
func (b Bindings) String() string {
	in := make([]string, 0, len(b.Inputs))
	for name, id := range b.Inputs {
		in = append(in, name+"→"+id)
	}
	out := make([]string, 0, len(b.Outputs))
	for name, id := range b.Outputs {
		out = append(out, name+"→"+id)
	}
	sort.Strings(in)
	sort.Strings(out)
	return fmt.Sprintf("{%s in=[%s] out=[%s]}", b.Program,
		strings.Join(in, ", "), strings.Join(out, ", "))
}

// -----------------------------------------------------------------------------
// ComputeEvent

// Terminal tells if no further events follow for the compute id.
func (e ComputeEvent) Terminal() bool {
	return e.Kind == EventFinished || e.Kind == EventError
}

// String implements fmt.Stringer.
func (e ComputeEvent) String() string {
	switch e.Kind {
	case EventError:
		return fmt.Sprintf("{compute %s: error: %s}", e.ComputeID, e.Err)
	case EventFinished:
		return fmt.Sprintf("{compute %s: finished with %d outputs}", e.ComputeID, len(e.Result))
	}
	return fmt.Sprintf("{compute %s: %s}", e.ComputeID, e.Kind)
}
