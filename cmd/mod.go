// Package cmd implements the mpcclient commands: a local devnet, a one-shot
// quickstart and an interactive sealed-bid auction.
package cmd

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/config"
	"go.dedis.ch/secretcompute/httpnet"
	"go.dedis.ch/secretcompute/keys"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/payment"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
)

const (
	// DevnetChainID is the chain id of an in-process devnet.
	DevnetChainID = "nillion-chain-devnet"
	// DevnetFunds is credited to the session wallet of an in-process devnet.
	DevnetFunds = 1_000_000
)

// Options selects where the configuration is read from.
type Options struct {
	EnvFile    string
	ConfigFile string
}

// LoadConfig reads the YAML file if one is given, the env file otherwise.
// The env file is optional unless it was explicitly named.
func LoadConfig(opts Options) (config.Config, error) {
	if opts.ConfigFile != "" {
		return config.FromYAML(opts.ConfigFile)
	}

	path, required := opts.EnvFile, true
	if path == "" {
		path, required = config.DefaultEnvFile(), false
	}
	return config.FromEnv(path, required)
}

// Network is what sessions talk to: a remote devnet or one in this process.
type Network struct {
	Conf    config.Config
	Cluster cluster.Client
	Ledger  ledger.Client

	devnet *Devnet
}

// Connect reaches the endpoints of conf. Without a cluster endpoint it starts
// an in-process devnet and funds the session wallet.
func Connect(conf config.Config) (*Network, error) {
	if conf.ClusterEndpoint != "" {
		endpoint := conf.LedgerEndpoint
		if endpoint == "" {
			endpoint = conf.ClusterEndpoint
		}
		log.Info().Msgf("connecting to %s", conf.ClusterEndpoint)
		return &Network{
			Conf:    conf,
			Cluster: httpnet.NewClusterClient(conf.ClusterEndpoint),
			Ledger:  httpnet.NewLedgerClient(endpoint, conf.ChainID),
		}, nil
	}

	if conf.ClusterID == "" {
		conf.ClusterID = DefaultClusterID
	}
	if conf.ChainID == "" {
		conf.ChainID = DevnetChainID
	}

	d, err := NewDevnet(conf.ClusterID, ledger.Genesis{ChainID: conf.ChainID}, 0)
	if err != nil {
		return nil, err
	}

	addr, err := walletAddress(conf)
	if err != nil {
		d.Cluster.Close()
		return nil, err
	}
	d.Ledger.Credit(addr, DevnetFunds)

	log.Info().Msgf("started in-process devnet %s, funded %s", conf.ClusterID, addr)
	return &Network{Conf: conf, Cluster: d.Cluster, Ledger: d.Ledger, devnet: d}, nil
}

// Close stops the in-process devnet, if any.
func (n *Network) Close() {
	if n.devnet != nil {
		n.devnet.Cluster.Close()
	}
}

// walletAddress is the address sessions of conf pay from.
func walletAddress(conf config.Config) (string, error) {
	if conf.PrivateKey != "" {
		w, err := payment.WalletFromHex(conf.PrivateKey)
		if err != nil {
			return "", err
		}
		return w.Address(), nil
	}
	if conf.Seed == "" {
		return "", mpcerr.New(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, "seed is not set").WithField("seed")
	}

	kp, err := keys.Derive(conf.Seed)
	if err != nil {
		return "", err
	}
	return kp.Chain().Address(), nil
}

// -----------------------------------------------------------------------------
// Values

// ParseSecrets reads name=value pairs and types each value as the program
// declares its input.
func ParseSecrets(m *program.Manifest, pairs []string) (types.NamedValues, error) {
	values := types.NamedValues{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, xerrors.Errorf("expected name=value, got %q", pair)
		}

		v, err := parseValue(m, name, raw)
		if err != nil {
			return nil, err
		}
		values = values.Add(name, v)
	}
	return values, nil
}

func parseValue(m *program.Manifest, name, raw string) (types.Value, error) {
	in, ok := m.Input(name)
	if !ok {
		return types.Value{}, mpcerr.New(mpcerr.Compute, mpcerr.OpSubmit, mpcerr.ErrPartyMismatch,
			"program %s has no input %s", m.Name, name).WithField(name)
	}

	if !in.Type.IsInteger() {
		return types.Value{Type: in.Type, Blob: []byte(raw)}, nil
	}

	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return types.Value{}, mpcerr.New(mpcerr.Secrets, mpcerr.OpStoreValues, mpcerr.ErrValueRange,
			"%q is not an integer", raw).WithField(name)
	}
	return types.Value{Type: in.Type, Int: n}, nil
}

// -----------------------------------------------------------------------------
// Output

func printError(err error) {
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
}

// PrintResult prints a compute event and its outputs, sorted by name.
func PrintResult(ev types.ComputeEvent) {
	fmt.Printf("✅ computation %s %s\n", ev.ComputeID, ev.Kind)
	names := make([]string, 0, len(ev.Result))
	for name := range ev.Result {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("   %s = %s\n", name, ev.Result[name])
	}
}
