// Package program reads devnet program artifacts. An artifact is a YAML
// manifest declaring the parties of a program, the inputs each party provides
// and the outputs each party receives.
package program

import (
	"fmt"
	"math/big"
	"sort"

	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Role is the part a party plays in a computation.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Input is a named value provided by a party.
type Input struct {
	Name  string          `yaml:"name"`
	Party string          `yaml:"party"`
	Type  types.ValueType `yaml:"type"`
}

// Output is a named result delivered to a party.
type Output struct {
	Name  string          `yaml:"name"`
	Party string          `yaml:"party"`
	Expr  string          `yaml:"expr"`
	Type  types.ValueType `yaml:"type"`
}

// Manifest describes a program.
type Manifest struct {
	Name    string   `yaml:"name"`
	Parties []string `yaml:"parties"`
	Inputs  []Input  `yaml:"inputs"`
	Outputs []Output `yaml:"outputs"`

	exprs map[string]*Expr
}

// Parse reads and checks a manifest.
func Parse(artifact []byte) (*Manifest, error) {
	m := &Manifest{}
	err := yaml.Unmarshal(artifact, m)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse program: %v", err)
	}

	err = m.compile()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) compile() error {
	if len(m.Parties) == 0 {
		return xerrors.Errorf("program %q declares no party", m.Name)
	}
	parties := map[string]struct{}{}
	for _, party := range m.Parties {
		if _, ok := parties[party]; ok || party == "" {
			return xerrors.Errorf("party %q declared twice or empty", party)
		}
		parties[party] = struct{}{}
	}

	inputs := map[string]struct{}{}
	for i, in := range m.Inputs {
		if _, ok := parties[in.Party]; !ok {
			return xerrors.Errorf("input %s belongs to undeclared party %q", in.Name, in.Party)
		}
		if _, ok := inputs[in.Name]; ok || !isVariable(in.Name) {
			return xerrors.Errorf("input %q declared twice or badly named", in.Name)
		}
		if in.Type == "" {
			m.Inputs[i].Type = types.SecretUnsignedInteger
		}
		inputs[in.Name] = struct{}{}
	}

	m.exprs = map[string]*Expr{}
	for i, out := range m.Outputs {
		if _, ok := parties[out.Party]; !ok {
			return xerrors.Errorf("output %s goes to undeclared party %q", out.Name, out.Party)
		}
		if _, ok := m.exprs[out.Name]; ok || out.Name == "" {
			return xerrors.Errorf("output %q declared twice or empty", out.Name)
		}
		expr, err := Compile(out.Expr)
		if err != nil {
			return xerrors.Errorf("output %s: %v", out.Name, err)
		}
		for _, v := range expr.Variables() {
			if _, ok := inputs[v]; !ok {
				return xerrors.Errorf("output %s reads unknown input %s", out.Name, v)
			}
		}
		if out.Type == "" {
			m.Outputs[i].Type = types.SecretUnsignedInteger
		}
		m.exprs[out.Name] = expr
	}
	return nil
}

// Declares tells if party is declared by the program.
func (m *Manifest) Declares(party string) bool {
	for _, p := range m.Parties {
		if p == party {
			return true
		}
	}
	return false
}

// Role returns the role of a declared party: a party providing inputs, or
// receiving nothing, is an input party; otherwise it is an output party.
func (m *Manifest) Role(party string) (Role, bool) {
	if !m.Declares(party) {
		return "", false
	}
	for _, in := range m.Inputs {
		if in.Party == party {
			return RoleInput, true
		}
	}
	for _, out := range m.Outputs {
		if out.Party == party {
			return RoleOutput, true
		}
	}
	return RoleInput, true
}

// InputParties returns the input parties, sorted.
func (m *Manifest) InputParties() []string {
	return m.partiesWith(RoleInput)
}

// OutputParties returns the output parties, sorted.
func (m *Manifest) OutputParties() []string {
	return m.partiesWith(RoleOutput)
}

func (m *Manifest) partiesWith(role Role) []string {
	parties := []string{}
	for _, p := range m.Parties {
		if r, _ := m.Role(p); r == role {
			parties = append(parties, p)
		}
	}
	sort.Strings(parties)
	return parties
}

// Input returns the declaration of an input.
func (m *Manifest) Input(name string) (Input, bool) {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Receivers returns the parties receiving at least one output, sorted.
func (m *Manifest) Receivers() []string {
	seen := map[string]struct{}{}
	parties := []string{}
	for _, out := range m.Outputs {
		if _, ok := seen[out.Party]; ok {
			continue
		}
		seen[out.Party] = struct{}{}
		parties = append(parties, out.Party)
	}
	sort.Strings(parties)
	return parties
}

// Run evaluates every output over values, which must hold every input.
func (m *Manifest) Run(values map[string]types.Value) (map[string]types.Value, error) {
	env := map[string]*big.Int{}
	for _, in := range m.Inputs {
		v, ok := values[in.Name]
		if !ok {
			return nil, xerrors.Errorf("missing input %s", in.Name)
		}
		if v.Type != in.Type {
			return nil, xerrors.Errorf("input %s is %s, expected %s", in.Name, v.Type, in.Type)
		}
		if v.Type.IsInteger() {
			env[in.Name] = v.Int
		}
	}

	result := make(map[string]types.Value, len(m.Outputs))
	for _, out := range m.Outputs {
		expr := m.exprs[out.Name]

		// blobs can only be passed through
		if vars := expr.Variables(); len(expr.postfix) == 1 && len(vars) == 1 {
			if v := values[vars[0]]; v.Type == types.SecretBlob {
				result[out.Name] = types.Value{Type: out.Type, Blob: v.Blob}
				continue
			}
		}

		n, err := expr.Eval(env)
		if err != nil {
			return nil, xerrors.Errorf("output %s: %v", out.Name, err)
		}
		v := types.Value{Type: out.Type, Int: n}
		err = v.Check()
		if err != nil {
			return nil, xerrors.Errorf("output %s: %w", out.Name, err)
		}
		result[out.Name] = v
	}
	return result, nil
}

// String implements fmt.Stringer.
func (m *Manifest) String() string {
	return fmt.Sprintf("{program %s: parties=%v, %d inputs, %d outputs}",
		m.Name, m.Parties, len(m.Inputs), len(m.Outputs))
}
