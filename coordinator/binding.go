package coordinator

import (
	"errors"

	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// BindingBuilder assigns party ids to the logical parties of a program. It
// records every assignment so that a name bound twice is reported by Build.
type BindingBuilder struct {
	session  *Session
	bindings types.Bindings
	dup      string
}

// Bind starts the bindings of a program.
func (s *Session) Bind(ref types.ProgramRef) *BindingBuilder {
	return &BindingBuilder{
		session: s,
		bindings: types.Bindings{
			Program: ref,
			Inputs:  map[string]string{},
			Outputs: map[string]string{},
		},
	}
}

// AddInputParty binds a party providing inputs.
func (b *BindingBuilder) AddInputParty(name, partyID string) *BindingBuilder {
	b.add(b.bindings.Inputs, name, partyID)
	return b
}

// AddOutputParty binds a party receiving outputs.
func (b *BindingBuilder) AddOutputParty(name, partyID string) *BindingBuilder {
	b.add(b.bindings.Outputs, name, partyID)
	return b
}

func (b *BindingBuilder) add(set map[string]string, name, partyID string) {
	_, in := b.bindings.Inputs[name]
	_, out := b.bindings.Outputs[name]
	if (in || out) && b.dup == "" {
		b.dup = name
	}
	set[name] = partyID
}

// Build checks the bindings against the parties the program declares.
func (b *BindingBuilder) Build() (types.Bindings, error) {
	if b.dup != "" {
		return types.Bindings{}, mpcerr.New(mpcerr.Compute, mpcerr.OpSubmit, mpcerr.ErrDuplicateBinding,
			"party bound more than once").WithField(b.dup)
	}

	_, err := b.session.checkBindings(b.bindings)
	if err != nil {
		return types.Bindings{}, err
	}
	return b.bindings, nil
}

// checkBindings validates bindings against the registered manifest.
func (s *Session) checkBindings(b types.Bindings) (*program.Manifest, error) {
	m, ok := s.manifest(b.Program)
	if !ok {
		return nil, mpcerr.New(mpcerr.Compute, mpcerr.OpSubmit, mpcerr.ErrUnknownProgram,
			"no manifest registered").WithField(b.Program.String())
	}

	err := m.CheckBindings(b)
	if err != nil {
		return nil, bindingError(err)
	}
	return m, nil
}

func bindingError(err error) error {
	var be *program.BindingError
	if errors.As(err, &be) {
		return mpcerr.Wrap(mpcerr.Compute, mpcerr.OpSubmit, be.Kind, be).WithField(be.Party)
	}
	return mpcerr.Classify(mpcerr.Compute, mpcerr.OpSubmit, err)
}
