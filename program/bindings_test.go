package program

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/programs"
	"go.dedis.ch/secretcompute/types"
)

func auctionBindings() types.Bindings {
	return types.Bindings{
		Program: types.ProgramRef{Owner: "owner", Name: "auction"},
		Inputs:  map[string]string{"Bidder0": "p0", "Bidder1": "p1", "Bidder2": "p2"},
		Outputs: map[string]string{"OutParty": "out"},
	}
}

func Test_Bindings_Check(t *testing.T) {
	m, err := Parse(programs.Auction)
	require.NoError(t, err)

	require.NoError(t, m.CheckBindings(auctionBindings()))
	require.Equal(t, []string{"out"}, m.Recipients(auctionBindings()))

	check := func(b types.Bindings, kind error, party string) {
		err := m.CheckBindings(b)
		require.True(t, errors.Is(err, kind), err)
		var be *BindingError
		require.True(t, errors.As(err, &be))
		require.Equal(t, party, be.Party)
	}

	b := auctionBindings()
	delete(b.Inputs, "Bidder1")
	check(b, mpcerr.ErrMissingPartyBinding, "Bidder1")

	b = auctionBindings()
	b.Outputs = map[string]string{}
	check(b, mpcerr.ErrMissingPartyBinding, "OutParty")

	b = auctionBindings()
	b.Inputs["OutParty"] = "x"
	check(b, mpcerr.ErrDuplicateBinding, "OutParty")

	b = auctionBindings()
	b.Inputs["Bidder3"] = "p3"
	check(b, mpcerr.ErrUnknownParty, "Bidder3")

	b = auctionBindings()
	delete(b.Inputs, "Bidder0")
	b.Outputs["Bidder0"] = "p0"
	check(b, mpcerr.ErrPartyMismatch, "Bidder0")
}

func Test_Bindings_NoOutputParty(t *testing.T) {
	m, err := Parse([]byte(`
name: sink
parties: [A]
inputs:
  - {name: a, party: A}
`))
	require.NoError(t, err)

	b := types.Bindings{Inputs: map[string]string{"A": "pa"}, Outputs: map[string]string{}}
	require.NoError(t, m.CheckBindings(b))
	require.Empty(t, m.Recipients(b))
}

func Test_Bindings_CheckInput(t *testing.T) {
	m, err := Parse(programs.Auction)
	require.NoError(t, err)

	require.NoError(t, m.CheckInput(auctionBindings(), "bid0"))

	err = m.CheckInput(auctionBindings(), "bid9")
	require.True(t, errors.Is(err, mpcerr.ErrPartyMismatch))

	b := auctionBindings()
	delete(b.Inputs, "Bidder2")
	err = m.CheckInput(b, "bid2")
	require.True(t, errors.Is(err, mpcerr.ErrPartyMismatch))
}
