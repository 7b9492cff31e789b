// Package config holds the immutable configuration of a coordinator session.
// It is read once from an env file, the process environment or YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/payment"
	"go.dedis.ch/secretcompute/types"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvClusterID       = "NILLION_CLUSTER_ID"
	EnvLedgerEndpoint  = "NILLION_NILCHAIN_GRPC"
	EnvChainID         = "NILLION_NILCHAIN_CHAIN_ID"
	EnvPrivateKey      = "NILLION_NILCHAIN_PRIVATE_KEY_0"
	EnvSeed            = "NILLION_SEED"
	EnvClusterEndpoint = "NILLION_CLUSTER_ENDPOINT"
	EnvQuoteTTL        = "NILLION_QUOTE_TTL"
	EnvStreamTimeout   = "NILLION_STREAM_TIMEOUT"
)

const (
	// DefaultStreamTimeout bounds the wait for a compute result.
	DefaultStreamTimeout = 5 * time.Minute
	redacted             = "<redacted>"
)

// Config is the configuration of a session. It is passed by value and never
// modified after loading.
type Config struct {
	ClusterID       string `yaml:"cluster_id"`
	ClusterEndpoint string `yaml:"cluster_endpoint"`
	LedgerEndpoint  string `yaml:"ledger_endpoint"`
	ChainID         string `yaml:"chain_id"`

	// Seed derives the network identity and, without PrivateKey, the wallet.
	Seed string `yaml:"seed"`
	// PrivateKey is the hex-encoded wallet key.
	PrivateKey string `yaml:"private_key"`

	QuoteTTL      time.Duration   `yaml:"quote_ttl"`
	StreamTimeout time.Duration   `yaml:"stream_timeout"`
	ValueTTL      time.Duration   `yaml:"value_ttl"`
	Backoff       payment.Backoff `yaml:"backoff"`
}

// Default returns a configuration with every tunable set.
func Default() Config {
	return Config{
		QuoteTTL:      payment.DefaultQuoteTTL,
		StreamTimeout: DefaultStreamTimeout,
		ValueTTL:      types.DefaultTTL,
		Backoff:       payment.DefaultBackoff,
	}
}

// DefaultEnvFile is the env file written by the local devnet.
func DefaultEnvFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nillion", "nillion-devnet.env")
}

// FromEnv reads the env file at path, then the process environment, which
// takes precedence. A missing file is an error only if required is set.
func FromEnv(path string, required bool) (Config, error) {
	vars := map[string]string{}
	if path != "" {
		fileVars, err := godotenv.Read(path)
		switch {
		case err == nil:
			vars = fileVars
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Config{}, mpcerr.Wrap(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, err).WithField(path)
		}
	}

	lookup := func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return vars[name]
	}

	conf := Default()
	conf.ClusterID = lookup(EnvClusterID)
	conf.ClusterEndpoint = lookup(EnvClusterEndpoint)
	conf.LedgerEndpoint = lookup(EnvLedgerEndpoint)
	conf.ChainID = lookup(EnvChainID)
	conf.Seed = lookup(EnvSeed)
	conf.PrivateKey = lookup(EnvPrivateKey)

	for name, d := range map[string]*time.Duration{EnvQuoteTTL: &conf.QuoteTTL, EnvStreamTimeout: &conf.StreamTimeout} {
		v := lookup(name)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return Config{}, mpcerr.Wrap(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, err).WithField(name)
		}
		*d = parsed
	}

	return conf, nil
}

// FromYAML reads a YAML configuration. Unset tunables keep their default.
func FromYAML(path string) (Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return Config{}, mpcerr.Wrap(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, err).WithField(path)
	}

	conf := Default()
	err = yaml.Unmarshal(yamlFile, &conf)
	if err != nil {
		return Config{}, mpcerr.Wrap(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, err).WithField(path)
	}
	return conf, nil
}

// Validate checks that the configuration can start a session.
func (c Config) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return mpcerr.New(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, format, args...).WithField(field)
	}

	switch {
	case c.ClusterID == "":
		return invalid("cluster_id", "cluster id is not set")
	case c.Seed == "":
		return invalid("seed", "seed is not set")
	case c.QuoteTTL <= 0:
		return invalid("quote_ttl", "must be positive, got %s", c.QuoteTTL)
	case c.StreamTimeout < 0:
		return invalid("stream_timeout", "must not be negative, got %s", c.StreamTimeout)
	case c.ValueTTL <= 0:
		return invalid("value_ttl", "must be positive, got %s", c.ValueTTL)
	}
	return nil
}

// String implements fmt.Stringer. Secrets are never shown.
func (c Config) String() string {
	seed, key := "", ""
	if c.Seed != "" {
		seed = redacted
	}
	if c.PrivateKey != "" {
		key = redacted
	}
	return fmt.Sprintf("{cluster=%s endpoint=%s ledger=%s chain=%s seed=%s key=%s quote_ttl=%s stream_timeout=%s}",
		c.ClusterID, c.ClusterEndpoint, c.LedgerEndpoint, c.ChainID, seed, key, c.QuoteTTL, c.StreamTimeout)
}

// GoString implements fmt.GoStringer so that %#v does not leak secrets.
func (c Config) GoString() string {
	return "config.Config" + c.String()
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
