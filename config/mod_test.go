package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/mpcerr"
)

func Test_Config_FromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nillion-devnet.env")
	content := "NILLION_CLUSTER_ID=cluster-1\n" +
		"NILLION_NILCHAIN_GRPC=http://localhost:26649\n" +
		"NILLION_NILCHAIN_CHAIN_ID=nillion-chain-devnet\n" +
		"NILLION_NILCHAIN_PRIVATE_KEY_0=9a975f567428d054f2bf3092812e6c42f901ce07d9711bc77ee2cd81101f42c5\n" +
		"NILLION_SEED=my_seed\n" +
		"NILLION_QUOTE_TTL=30\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(EnvChainID, "overridden")

	conf, err := FromEnv(path, true)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	require.Equal(t, "cluster-1", conf.ClusterID)
	require.Equal(t, "http://localhost:26649", conf.LedgerEndpoint)
	require.Equal(t, "overridden", conf.ChainID)
	require.Equal(t, "my_seed", conf.Seed)
	require.Equal(t, 30*time.Second, conf.QuoteTTL)
	require.Equal(t, DefaultStreamTimeout, conf.StreamTimeout)

	// the env file does not leak into the process environment
	_, ok := os.LookupEnv(EnvSeed)
	require.False(t, ok)
}

func Test_Config_FromEnv_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	_, err := FromEnv(missing, false)
	require.NoError(t, err)

	_, err = FromEnv(missing, true)
	require.True(t, errors.Is(err, mpcerr.ErrConfig))
}

func Test_Config_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	content := "cluster_id: cluster-1\nseed: my_seed\nquote_ttl: 1m\nbackoff:\n  retry: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	conf, err := FromYAML(path)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())
	require.Equal(t, time.Minute, conf.QuoteTTL)
	require.Equal(t, uint(2), conf.Backoff.Retry)
	require.Equal(t, DefaultStreamTimeout, conf.StreamTimeout)

	_, err = FromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, errors.Is(err, mpcerr.ErrConfig))
}

func Test_Config_Validate(t *testing.T) {
	conf := Default()
	err := conf.Validate()
	require.True(t, errors.Is(err, mpcerr.ErrConfig))

	var e *mpcerr.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, "cluster_id", e.Field)

	conf.ClusterID = "cluster-1"
	conf.Seed = "my_seed"
	require.NoError(t, conf.Validate())

	conf.QuoteTTL = 0
	require.True(t, errors.Is(conf.Validate(), mpcerr.ErrConfig))
}

func Test_Config_String_Redacts(t *testing.T) {
	conf := Default()
	conf.Seed = "my_seed"
	conf.PrivateKey = "9a975f567428d054f2bf"

	for _, s := range []string{conf.String(), fmt.Sprintf("%v", conf), fmt.Sprintf("%+v", conf), fmt.Sprintf("%#v", conf)} {
		require.NotContains(t, s, "my_seed")
		require.NotContains(t, s, "9a975f567428d054f2bf")
	}
}
