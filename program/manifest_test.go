package program

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/programs"
	"go.dedis.ch/secretcompute/types"
)

func Test_Manifest_Auction(t *testing.T) {
	m, err := Parse(programs.Auction)
	require.NoError(t, err)

	require.Equal(t, "auction", m.Name)
	require.Equal(t, []string{"Bidder0", "Bidder1", "Bidder2"}, m.InputParties())
	require.Equal(t, []string{"OutParty"}, m.OutputParties())
	require.Equal(t, []string{"OutParty"}, m.Receivers())

	role, ok := m.Role("OutParty")
	require.True(t, ok)
	require.Equal(t, RoleOutput, role)
	_, ok = m.Role("Nobody")
	require.False(t, ok)

	in, ok := m.Input("bid1")
	require.True(t, ok)
	require.Equal(t, "Bidder1", in.Party)
	require.Equal(t, types.SecretUnsignedInteger, in.Type)

	result, err := m.Run(map[string]types.Value{
		"bid0": types.NewSecretUnsignedInteger(100),
		"bid1": types.NewSecretUnsignedInteger(200),
		"bid2": types.NewSecretUnsignedInteger(150),
	})
	require.NoError(t, err)
	expected := map[string]int64{"highest_bid": 200, "bid0_amount": 100, "bid1_amount": 200, "bid2_amount": 150}
	require.Len(t, result, len(expected))
	for name, value := range expected {
		require.Equal(t, value, result[name].Int.Int64(), name)
	}
}

func Test_Manifest_Run_Errors(t *testing.T) {
	m, err := Parse([]byte(`
name: diff
parties: [A, B]
inputs:
  - {name: a, party: A}
outputs:
  - {name: d, party: B, expr: a - 10}
`))
	require.NoError(t, err)

	_, err = m.Run(map[string]types.Value{})
	require.Error(t, err)

	_, err = m.Run(map[string]types.Value{"a": types.NewSecretInteger(20)})
	require.Error(t, err)

	// unsigned output cannot be negative
	_, err = m.Run(map[string]types.Value{"a": types.NewSecretUnsignedInteger(5)})
	require.True(t, errors.Is(err, mpcerr.ErrValueRange))
}

func Test_Manifest_Blob(t *testing.T) {
	m, err := Parse([]byte(`
name: echo
parties: [A]
inputs:
  - {name: doc, party: A, type: SecretBlob}
outputs:
  - {name: copy, party: A, expr: doc, type: SecretBlob}
`))
	require.NoError(t, err)

	result, err := m.Run(map[string]types.Value{"doc": types.NewSecretBlob([]byte("hello"))})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), result["copy"].Blob)

	// a party that provides inputs is an input party even if it receives outputs
	require.Equal(t, []string{"A"}, m.InputParties())
	require.Empty(t, m.OutputParties())
}

func Test_Manifest_Invalid(t *testing.T) {
	invalid := []string{
		`name: x`,
		"parties: [A, A]",
		"parties: [A]\ninputs:\n  - {name: a, party: B}",
		"parties: [A]\ninputs:\n  - {name: a, party: A}\n  - {name: a, party: A}",
		"parties: [A]\noutputs:\n  - {name: o, party: A, expr: b}",
		"parties: [A]\noutputs:\n  - {name: o, party: B, expr: 1}",
		"parties: [",
	}

	for _, test := range invalid {
		_, err := Parse([]byte(test))
		require.Error(t, err, test)
	}
}

func Test_Source_Load(t *testing.T) {
	_, err := FromPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.True(t, errors.Is(err, mpcerr.ErrArtifactNotFound))

	_, err = FromBytes(nil).Load()
	require.True(t, errors.Is(err, mpcerr.ErrArtifactNotFound))

	path := filepath.Join(t.TempDir(), "auction.yaml")
	require.NoError(t, os.WriteFile(path, programs.Auction, 0o600))
	data, m, err := FromPath(path).LoadManifest()
	require.NoError(t, err)
	require.Equal(t, programs.Auction, data)
	require.Equal(t, "auction", m.Name)

	_, _, err = FromBytes([]byte("parties: [")).LoadManifest()
	require.True(t, errors.Is(err, mpcerr.ErrArtifactNotFound))
}
