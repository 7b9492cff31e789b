package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cli "go.dedis.ch/secretcompute/cmd"
	"go.dedis.ch/secretcompute/config"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/programs"
)

func main() {
	var opts cli.Options
	var level string

	command := &cobra.Command{
		Use:          "mpcclient",
		Short:        "Store programs and secrets on a computation cluster and run them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(level)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			return nil
		},
	}

	command.PersistentFlags().StringVar(&opts.EnvFile, "env", "", "Env file to read (default "+config.DefaultEnvFile()+")")
	command.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML configuration, used instead of the env file")
	command.PersistentFlags().StringVar(&level, "log-level", "warn", "Log level")

	addDevnetCmd(command)
	addQuickstartCmd(command, &opts)
	addAuctionCmd(command, &opts)
	addKeysCmd(command, &opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// addDevnetCmd serves a local cluster and ledger
func addDevnetCmd(command *cobra.Command) {
	var addr, clusterID, genesisPath, envPath string
	var blockInterval time.Duration
	var fund map[string]int64

	devnetCmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run a local devnet",
		Long:  "Run a local cluster and ledger over HTTP and write the env file sessions read to reach it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			genesis := ledger.Genesis{ChainID: cli.DevnetChainID, Allocations: map[string]uint64{}}
			if genesisPath != "" {
				g, err := ledger.GenesisFromYAML(genesisPath)
				if err != nil {
					return err
				}
				genesis = *g
			}
			for a, amount := range fund {
				genesis.Allocations[a] += uint64(amount)
			}

			d, err := cli.NewDevnet(clusterID, genesis, blockInterval)
			if err != nil {
				return err
			}

			if envPath != "" {
				err = d.WriteEnv(envPath, endpointOf(addr))
				if err != nil {
					return err
				}
			}

			return d.Serve(cmd.Context(), addr, blockInterval)
		},
	}

	devnetCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:8080", "Address to serve on")
	devnetCmd.Flags().StringVar(&clusterID, "cluster-id", cli.DefaultClusterID, "Cluster id")
	devnetCmd.Flags().StringVar(&genesisPath, "genesis", "", "Genesis YAML of the ledger")
	devnetCmd.Flags().StringToInt64Var(&fund, "fund", nil, "Credit addresses at genesis, as address=amount")
	devnetCmd.Flags().DurationVar(&blockInterval, "block-interval", time.Second, "Block interval, 0 commits each transaction")
	devnetCmd.Flags().StringVar(&envPath, "write-env", config.DefaultEnvFile(), "Env file to write, empty to skip")

	command.AddCommand(devnetCmd)
}

// addQuickstartCmd runs a program end to end with a single identity
func addQuickstartCmd(command *cobra.Command, opts *cli.Options) {
	var programPath, name string
	var secrets []string

	quickstartCmd := &cobra.Command{
		Use:   "quickstart",
		Short: "Store a program and secrets, run it and print the result",
		Long: "Store a program and secrets, bind every party to this identity, run it and print the result. " +
			"Without a cluster endpoint, an in-process devnet is used",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := connect(opts)
			if err != nil {
				return err
			}
			defer n.Close()

			q := cli.Quickstart{Name: name, Source: program.FromBytes(programs.Auction), Secrets: secrets}
			if programPath != "" {
				q.Source = program.FromPath(programPath)
			} else if len(q.Secrets) == 0 {
				q.Secrets = cli.DefaultAuctionBids
			}

			ev, err := q.Run(cmd.Context(), n)
			if err != nil {
				return err
			}
			cli.PrintResult(ev)
			return nil
		},
	}

	quickstartCmd.Flags().StringVarP(&programPath, "program", "p", "", "Program artifact (default the sealed-bid auction)")
	quickstartCmd.Flags().StringVarP(&name, "name", "n", "", "Name to store the program under (default its declared name)")
	quickstartCmd.Flags().StringArrayVarP(&secrets, "secret", "s", nil, "Secret to store, as name=value")

	command.AddCommand(quickstartCmd)
}

// addAuctionCmd starts the interactive prompt
func addAuctionCmd(command *cobra.Command, opts *cli.Options) {
	var programPath string

	auctionCmd := &cobra.Command{
		Use:   "auction",
		Short: "Run sealed-bid auctions interactively",
		Long:  "Run sealed-bid auctions interactively, with one identity per bidder paying from the configured wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := connect(opts)
			if err != nil {
				return err
			}
			defer n.Close()

			src := program.FromBytes(programs.Auction)
			if programPath != "" {
				src = program.FromPath(programPath)
			}
			cli.StartCMD(cmd.Context(), n, src)
			return nil
		},
	}

	auctionCmd.Flags().StringVarP(&programPath, "program", "p", "", "Program artifact (default the sealed-bid auction)")

	command.AddCommand(auctionCmd)
}

// addKeysCmd prints the public identity derived from the seed
func addKeysCmd(command *cobra.Command, opts *cli.Options) {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the user id, party id and wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := cli.LoadConfig(*opts)
			if err != nil {
				return err
			}
			id, err := cli.Identity(conf)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}

	command.AddCommand(keysCmd)
}

func connect(opts *cli.Options) (*cli.Network, error) {
	conf, err := cli.LoadConfig(*opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("configuration: %s", conf)
	return cli.Connect(conf)
}

// endpointOf turns a listen address into the URL clients dial.
func endpointOf(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
