package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster/memnet"
	"go.dedis.ch/secretcompute/config"
	"go.dedis.ch/secretcompute/httpnet"
	"go.dedis.ch/secretcompute/ledger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// DefaultClusterID is the cluster id of the local devnet.
const DefaultClusterID = "devnet-cluster"

// Devnet is a local cluster and ledger, served over HTTP or used in process.
type Devnet struct {
	Ledger  *ledger.Local
	Cluster *memnet.Cluster
}

// NewDevnet creates a devnet. A zero blockInterval commits every transaction
// as soon as it is accepted.
func NewDevnet(clusterID string, genesis ledger.Genesis, blockInterval time.Duration,
	opts ...memnet.Option) (*Devnet, error) {

	var ledgerOpts []ledger.LocalOption
	if blockInterval <= 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithAutoCommit())
	}
	l := ledger.NewLocal(genesis, ledgerOpts...)

	c, err := memnet.New(clusterID, l, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cluster: %v", err)
	}

	return &Devnet{Ledger: l, Cluster: c}, nil
}

// Serve serves the devnet on addr and commits blocks every blockInterval
// until ctx is done.
func (d *Devnet) Serve(ctx context.Context, addr string, blockInterval time.Duration) error {
	srv := httpnet.NewServer(d.Cluster, d.Ledger)

	g, gctx := errgroup.WithContext(ctx)
	if blockInterval > 0 {
		g.Go(func() error {
			d.Ledger.Run(gctx, blockInterval)
			return nil
		})
	}
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})

	log.Info().Msgf("devnet %s (chain %s) serving on %s", d.Cluster.ID(), d.Ledger.ChainID(), addr)
	err := g.Wait()
	d.Cluster.Close()
	return err
}

// WriteEnv writes the env file sessions read to reach this devnet. Secrets
// are never written.
func (d *Devnet) WriteEnv(path, endpoint string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return xerrors.Errorf("failed to create env dir: %v", err)
	}

	env := map[string]string{
		config.EnvClusterID:       d.Cluster.ID(),
		config.EnvClusterEndpoint: endpoint,
		config.EnvLedgerEndpoint:  endpoint,
		config.EnvChainID:         d.Ledger.ChainID(),
	}
	err = godotenv.Write(env, path)
	if err != nil {
		return xerrors.Errorf("failed to write env file: %v", err)
	}

	log.Info().Msgf("devnet env written to %s", path)
	return nil
}
