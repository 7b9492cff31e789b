package program

import (
	"fmt"

	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

// BindingError tells why bindings do not fit a program. Kind is one of the
// mpcerr binding kinds.
type BindingError struct {
	Kind  error
	Party string
	msg   string
}

// Error implements error.
func (e *BindingError) Error() string {
	return fmt.Sprintf("party %s: %s", e.Party, e.msg)
}

// Unwrap returns the kind.
func (e *BindingError) Unwrap() error {
	return e.Kind
}

// CheckBindings verifies that b binds every declared party exactly once, in
// the role the program gives it.
func (m *Manifest) CheckBindings(b types.Bindings) error {
	for _, party := range b.Parties() {
		_, in := b.Inputs[party]
		_, out := b.Outputs[party]
		if in && out {
			return &BindingError{Kind: mpcerr.ErrDuplicateBinding, Party: party,
				msg: "bound both as input and as output"}
		}

		role, ok := m.Role(party)
		if !ok {
			return &BindingError{Kind: mpcerr.ErrUnknownParty, Party: party,
				msg: fmt.Sprintf("not declared by %s", m.Name)}
		}
		if (role == RoleInput) != in {
			return &BindingError{Kind: mpcerr.ErrPartyMismatch, Party: party,
				msg: fmt.Sprintf("declared as %s party", role)}
		}
	}

	for _, party := range m.InputParties() {
		if id, ok := b.Inputs[party]; !ok || id == "" {
			return &BindingError{Kind: mpcerr.ErrMissingPartyBinding, Party: party,
				msg: "input party is not bound"}
		}
	}
	for _, party := range m.OutputParties() {
		if id, ok := b.Outputs[party]; !ok || id == "" {
			return &BindingError{Kind: mpcerr.ErrMissingPartyBinding, Party: party,
				msg: "output party is not bound"}
		}
	}
	return nil
}

// CheckInput verifies that the value name is an input of the program provided
// by a party bound as input.
func (m *Manifest) CheckInput(b types.Bindings, name string) error {
	in, ok := m.Input(name)
	if !ok {
		return &BindingError{Kind: mpcerr.ErrPartyMismatch, Party: name,
			msg: fmt.Sprintf("%s is not an input of %s", name, m.Name)}
	}
	if _, ok := b.Inputs[in.Party]; !ok {
		return &BindingError{Kind: mpcerr.ErrPartyMismatch, Party: in.Party,
			msg: fmt.Sprintf("provides %s but is not bound as input", name)}
	}
	return nil
}

// Recipients returns the party ids receiving outputs under b.
func (m *Manifest) Recipients(b types.Bindings) []string {
	ids := []string{}
	for _, party := range m.Receivers() {
		if id, ok := b.Outputs[party]; ok {
			ids = append(ids, id)
		} else if id, ok := b.Inputs[party]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
