package types

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"go.dedis.ch/secretcompute/mpcerr"
	"golang.org/x/xerrors"
)

// -----------------------------------------------------------------------------
// Value

// NewSecretUnsignedInteger creates a secret unsigned integer. Negative inputs
// are accepted here and rejected by Check.
func NewSecretUnsignedInteger(v int64) Value {
	return Value{Type: SecretUnsignedInteger, Int: big.NewInt(v)}
}

// NewSecretInteger creates a secret signed integer.
func NewSecretInteger(v int64) Value {
	return Value{Type: SecretInteger, Int: big.NewInt(v)}
}

// NewSecretBlob creates a secret blob.
func NewSecretBlob(b []byte) Value {
	return Value{Type: SecretBlob, Blob: append([]byte(nil), b...)}
}

// NewPublicUnsignedInteger creates a public unsigned integer.
func NewPublicUnsignedInteger(v int64) Value {
	return Value{Type: PublicUnsignedInteger, Int: big.NewInt(v)}
}

var (
	minInt64 = big.NewInt(-1 << 63)
	maxInt64 = big.NewInt(1<<63 - 1)
)

// IsInteger tells if the type carries an integer payload.
func (t ValueType) IsInteger() bool {
	switch t {
	case SecretUnsignedInteger, SecretInteger, PublicUnsignedInteger, PublicInteger:
		return true
	}
	return false
}

// IsUnsigned tells if the type is an unsigned integer.
func (t ValueType) IsUnsigned() bool {
	return t == SecretUnsignedInteger || t == PublicUnsignedInteger
}

// Check verifies the payload shape matches the declared type.
func (v Value) Check() error {
	switch {
	case v.Type.IsUnsigned():
		if v.Int == nil || v.Blob != nil {
			return xerrors.Errorf("%w: %s needs an integer payload", mpcerr.ErrValueRange, v.Type)
		}
		if v.Int.Sign() < 0 {
			return xerrors.Errorf("%w: %s is negative (%s)", mpcerr.ErrValueRange, v.Type, v.Int)
		}
		if v.Int.BitLen() > MaxUnsignedBits {
			return xerrors.Errorf("%w: %s exceeds %d bits", mpcerr.ErrValueRange, v.Type, MaxUnsignedBits)
		}
	case v.Type.IsInteger():
		if v.Int == nil || v.Blob != nil {
			return xerrors.Errorf("%w: %s needs an integer payload", mpcerr.ErrValueRange, v.Type)
		}
		if v.Int.Cmp(minInt64) < 0 || v.Int.Cmp(maxInt64) > 0 {
			return xerrors.Errorf("%w: %s does not fit in 64 bits", mpcerr.ErrValueRange, v.Type)
		}
	case v.Type == SecretBlob:
		if v.Blob == nil || v.Int != nil {
			return xerrors.Errorf("%w: %s needs a blob payload", mpcerr.ErrValueRange, v.Type)
		}
		if len(v.Blob) > MaxBlobSize {
			return xerrors.Errorf("%w: blob of %d bytes exceeds %d", mpcerr.ErrValueRange, len(v.Blob), MaxBlobSize)
		}
	default:
		return xerrors.Errorf("%w: unknown type %q", mpcerr.ErrValueRange, v.Type)
	}
	return nil
}

// String implements fmt.Stringer. Secret payloads are never printed.
func (v Value) String() string {
	if strings.HasPrefix(string(v.Type), "Secret") {
		return fmt.Sprintf("%s(***)", v.Type)
	}
	if v.Int != nil {
		return fmt.Sprintf("%s(%s)", v.Type, v.Int)
	}
	return fmt.Sprintf("%s(%d bytes)", v.Type, len(v.Blob))
}

// Uint64 returns the integer payload as uint64.
func (v Value) Uint64() (uint64, bool) {
	if v.Int == nil || v.Int.Sign() < 0 || !v.Int.IsUint64() {
		return 0, false
	}
	return v.Int.Uint64(), true
}

// -----------------------------------------------------------------------------
// NamedValues

// Add appends a named value.
func (nv NamedValues) Add(name string, v Value) NamedValues {
	return append(nv, NamedValue{Name: name, Value: v})
}

// Lookup returns the value with the given name.
func (nv NamedValues) Lookup(name string) (Value, bool) {
	for _, v := range nv {
		if v.Name == name {
			return v.Value, true
		}
	}
	return Value{}, false
}

// Names returns the distinct names, sorted.
func (nv NamedValues) Names() []string {
	seen := make(map[string]struct{}, len(nv))
	names := make([]string, 0, len(nv))
	for _, v := range nv {
		if _, ok := seen[v.Name]; ok {
			continue
		}
		seen[v.Name] = struct{}{}
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Check verifies names are unique and non-empty and every payload matches
// its type. It returns the offending name along with the error.
func (nv NamedValues) Check() (string, error) {
	seen := make(map[string]struct{}, len(nv))
	for _, v := range nv {
		if v.Name == "" {
			return "", xerrors.Errorf("%w: empty value name", mpcerr.ErrValueRange)
		}
		if _, ok := seen[v.Name]; ok {
			return v.Name, xerrors.Errorf("%w: %s", mpcerr.ErrDuplicateValue, v.Name)
		}
		seen[v.Name] = struct{}{}

		err := v.Value.Check()
		if err != nil {
			return v.Name, err
		}
	}
	return "", nil
}

// String implements fmt.Stringer.
func (nv NamedValues) String() string {
	parts := make([]string, 0, len(nv))
	for _, v := range nv {
		parts = append(parts, fmt.Sprintf("%s=%s", v.Name, v.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// -----------------------------------------------------------------------------
// ProgramRef

// String returns the "owner/name" form used as program id.
func (r ProgramRef) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero tells if the reference is unset.
func (r ProgramRef) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// ParseProgramRef parses the "owner/name" form.
func ParseProgramRef(s string) (ProgramRef, error) {
	idx := strings.Index(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ProgramRef{}, xerrors.Errorf("invalid program id %q, expected owner/name", s)
	}
	return ProgramRef{Owner: s[:idx], Name: s[idx+1:]}, nil
}

// MarshalText implements encoding.TextMarshaler so that refs can be map keys
// on the wire.
func (r ProgramRef) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ProgramRef) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = ProgramRef{}
		return nil
	}
	ref, err := ParseProgramRef(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// -----------------------------------------------------------------------------
// Permissions

// DefaultPermissionsFor grants the owner retrieve, update and delete rights
// and no compute rights.
func DefaultPermissionsFor(user string) Permissions {
	return Permissions{
		Owner:    user,
		Retrieve: map[string]struct{}{user: {}},
		Update:   map[string]struct{}{user: {}},
		Delete:   map[string]struct{}{user: {}},
		Compute:  map[string]map[ProgramRef]struct{}{},
	}
}

// AddComputePermissions grants users the right to use the values in the
// listed programs.
func (p *Permissions) AddComputePermissions(grants map[string][]ProgramRef) {
	if p.Compute == nil {
		p.Compute = map[string]map[ProgramRef]struct{}{}
	}
	for user, programs := range grants {
		set, ok := p.Compute[user]
		if !ok {
			set = map[ProgramRef]struct{}{}
			p.Compute[user] = set
		}
		for _, ref := range programs {
			set[ref] = struct{}{}
		}
	}
}

// CanCompute tells if user may use the values in program ref.
func (p Permissions) CanCompute(user string, ref ProgramRef) bool {
	if set, ok := p.Compute[user]; ok {
		_, ok = set[ref]
		return ok
	}
	return false
}

// Programs returns every program referenced by compute grants.
func (p Permissions) Programs() []ProgramRef {
	seen := map[ProgramRef]struct{}{}
	refs := []ProgramRef{}
	for _, set := range p.Compute {
		for ref := range set {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// -----------------------------------------------------------------------------
// Store handles

// Normalize resolves the network's handle response into one handle per
// distinct value name, ordered by name. Map keys that are not value names
// give handles with no name, after the named ones.
func (r RawHandles) Normalize(names []string) (StoreHandles, error) {
	distinct := NamedValues{}
	for _, name := range names {
		distinct = distinct.Add(name, Value{})
	}
	ordered := distinct.Names()

	switch r.Shape {
	case HandleSingle:
		if r.Single == "" {
			return nil, xerrors.Errorf("%w: empty store id", mpcerr.ErrMalformedResponse)
		}
		return repeatHandle(r.Single, ordered), nil

	case HandleList:
		if len(r.List) == 1 && len(ordered) != 1 {
			return repeatHandle(r.List[0], ordered), nil
		}
		if len(r.List) != len(ordered) {
			return nil, xerrors.Errorf("%w: %d store ids for %d values",
				mpcerr.ErrMalformedResponse, len(r.List), len(ordered))
		}
		handles := make(StoreHandles, len(ordered))
		for i, name := range ordered {
			if r.List[i] == "" {
				return nil, xerrors.Errorf("%w: empty store id", mpcerr.ErrMalformedResponse)
			}
			handles[i] = StoreHandle{ID: r.List[i], Name: name}
		}
		return handles, nil

	case HandleMap:
		if len(r.Map) != len(ordered) {
			return nil, xerrors.Errorf("%w: %d store ids for %d values",
				mpcerr.ErrMalformedResponse, len(r.Map), len(ordered))
		}
		known := make(map[string]struct{}, len(ordered))
		handles := make(StoreHandles, 0, len(ordered))
		for _, name := range ordered {
			known[name] = struct{}{}
			id, ok := r.Map[name]
			if !ok {
				continue
			}
			if id == "" {
				return nil, xerrors.Errorf("%w: empty store id for %s", mpcerr.ErrMalformedResponse, name)
			}
			handles = append(handles, StoreHandle{ID: id, Name: name})
		}

		// ids under other keys are not attributed to a name
		others := make([]string, 0, len(r.Map)-len(handles))
		for k := range r.Map {
			if _, ok := known[k]; !ok {
				others = append(others, k)
			}
		}
		sort.Strings(others)
		for _, k := range others {
			if r.Map[k] == "" {
				return nil, xerrors.Errorf("%w: empty store id for %s", mpcerr.ErrMalformedResponse, k)
			}
			handles = append(handles, StoreHandle{ID: r.Map[k]})
		}
		return handles, nil
	}

	return nil, xerrors.Errorf("%w: unknown handle shape %q", mpcerr.ErrMalformedResponse, r.Shape)
}

func repeatHandle(id string, names []string) StoreHandles {
	handles := make(StoreHandles, len(names))
	for i, name := range names {
		handles[i] = StoreHandle{ID: id, Name: name}
	}
	return handles
}

// IDs returns the distinct handle ids, in order of first appearance.
func (h StoreHandles) IDs() []string {
	seen := map[string]struct{}{}
	ids := make([]string, 0, len(h))
	for _, handle := range h {
		if _, ok := seen[handle.ID]; ok {
			continue
		}
		seen[handle.ID] = struct{}{}
		ids = append(ids, handle.ID)
	}
	return ids
}

// String implements fmt.Stringer.
func (h StoreHandle) String() string {
	return fmt.Sprintf("%s:%s", h.Name, h.ID)
}
