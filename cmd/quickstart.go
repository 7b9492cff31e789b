package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/coordinator"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// DefaultAuctionBids are the bids the quickstart stores when none are given.
var DefaultAuctionBids = []string{"bid0=100", "bid1=200", "bid2=150"}

// Quickstart is a single-identity run: the program name, its source and the
// secrets to store.
type Quickstart struct {
	Name    string
	Source  program.Source
	Secrets []string
}

// Run stores the program and the secrets, binds every party of the program
// to the session's own party and waits for the result.
func (q Quickstart) Run(ctx context.Context, n *Network, opts ...coordinator.Option) (types.ComputeEvent, error) {
	_, m, err := q.Source.LoadManifest()
	if err != nil {
		return types.ComputeEvent{}, err
	}
	secrets, err := ParseSecrets(m, q.Secrets)
	if err != nil {
		return types.ComputeEvent{}, err
	}

	s, err := coordinator.NewSession(ctx, n.Conf, n.Cluster, n.Ledger, opts...)
	if err != nil {
		return types.ComputeEvent{}, err
	}
	defer s.Close()

	name := q.Name
	if name == "" {
		name = m.Name
	}
	_, ref, err := s.PayAndStoreProgram(ctx, name, q.Source)
	if err != nil {
		return types.ComputeEvent{}, err
	}
	log.Info().Msgf("program stored as %s", ref)

	var handles types.StoreHandles
	if len(secrets) > 0 {
		perms := s.DefaultPermissions()
		perms.AddComputePermissions(map[string][]types.ProgramRef{s.UserID(): {ref}})

		handles, err = s.PayAndStoreValues(ctx, secrets, perms)
		if err != nil {
			return types.ComputeEvent{}, err
		}
		log.Info().Msgf("secrets stored: %v", handles)
	}

	b := s.Bind(ref)
	for _, party := range m.InputParties() {
		b.AddInputParty(party, s.PartyID())
	}
	for _, party := range m.OutputParties() {
		b.AddOutputParty(party, s.PartyID())
	}
	bindings, err := b.Build()
	if err != nil {
		return types.ComputeEvent{}, err
	}

	id, err := s.PayAndSubmit(ctx, bindings, handles, nil)
	if err != nil {
		return types.ComputeEvent{}, err
	}
	log.Info().Msgf("computation %s submitted", id)

	return s.Result(ctx, id)
}
