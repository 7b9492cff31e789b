package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/coordinator"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Auction runs a program with one session per input party. The owner
// session, derived from the configured seed, stores the program, submits the
// computation and receives every output.
type Auction struct {
	Source program.Source
	// Inputs holds the name=value pairs of each input party.
	Inputs map[string][]string
}

// Run stores each party's values concurrently, then submits and waits for
// the result. Every session pays from the owner's wallet.
func (a Auction) Run(ctx context.Context, n *Network, opts ...coordinator.Option) (types.ComputeEvent, error) {
	_, m, err := a.Source.LoadManifest()
	if err != nil {
		return types.ComputeEvent{}, err
	}

	owner, err := coordinator.NewSession(ctx, n.Conf, n.Cluster, n.Ledger, opts...)
	if err != nil {
		return types.ComputeEvent{}, err
	}
	defer owner.Close()

	_, ref, err := owner.PayAndStoreProgram(ctx, m.Name, a.Source)
	if err != nil {
		return types.ComputeEvent{}, err
	}

	parties := m.InputParties()
	sessions := make([]*coordinator.Session, len(parties))
	for i, party := range parties {
		conf := n.Conf
		conf.Seed = fmt.Sprintf("%s/%s", n.Conf.Seed, party)

		partyOpts := append([]coordinator.Option{coordinator.WithWallet(owner.Payment().Wallet())}, opts...)
		s, err := coordinator.NewSession(ctx, conf, n.Cluster, n.Ledger, partyOpts...)
		if err != nil {
			return types.ComputeEvent{}, err
		}
		defer s.Close()

		s.TrustProgram(ref, m)
		sessions[i] = s
	}

	handles := make([]types.StoreHandles, len(parties))
	g, gctx := errgroup.WithContext(ctx)
	for i, party := range parties {
		i, party := i, party
		g.Go(func() error {
			values, err := ParseSecrets(m, a.Inputs[party])
			if err != nil {
				return xerrors.Errorf("%s: %w", party, err)
			}
			if len(values) == 0 {
				return nil
			}

			s := sessions[i]
			perms := s.DefaultPermissions()
			perms.AddComputePermissions(map[string][]types.ProgramRef{owner.UserID(): {ref}})

			handles[i], err = s.PayAndStoreValues(gctx, values, perms)
			if err != nil {
				return err
			}
			log.Info().Msgf("%s stored %v", party, handles[i])
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		return types.ComputeEvent{}, err
	}

	b := owner.Bind(ref)
	all := types.StoreHandles{}
	for i, party := range parties {
		b.AddInputParty(party, sessions[i].PartyID())
		all = append(all, handles[i]...)
	}
	for _, party := range m.OutputParties() {
		b.AddOutputParty(party, owner.PartyID())
	}
	bindings, err := b.Build()
	if err != nil {
		return types.ComputeEvent{}, err
	}

	id, err := owner.PayAndSubmit(ctx, bindings, all, nil)
	if err != nil {
		return types.ComputeEvent{}, err
	}
	log.Info().Msgf("computation %s submitted", id)

	return owner.Result(ctx, id)
}
