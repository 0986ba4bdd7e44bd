package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/internal/testutil"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	p := cfg.Lotto.Params()
	assert.Equal(t, uint64(1_000_000), p.EntryFee)
	assert.Equal(t, 10*time.Minute, p.JoinWindow)
	assert.Equal(t, 10*time.Minute, p.RevealWindow)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id = "n1"
db_backend = "bolt"
block_interval = "500ms"

[genesis]
chain_id = "lotto-toml"

[lotto]
entry_fee = 42
join_window = "1m"
reveal_window = "2m"
admins = ["op"]
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, "bolt", cfg.DBBackend)
	assert.Equal(t, config.Duration(500*time.Millisecond), cfg.BlockInterval)
	assert.Equal(t, "lotto-toml", cfg.Genesis.ChainID)
	assert.Equal(t, uint64(42), cfg.Lotto.EntryFee)
	assert.Equal(t, time.Minute, cfg.Lotto.Params().JoinWindow)
	assert.Equal(t, []string{"op"}, cfg.Lotto.Admins)
	// untouched fields keep defaults
	assert.Equal(t, 8545, cfg.RPCPort)
}

func TestLoadJSONKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rpc_port": 9000, "lotto": {"join_window": "30s"}}`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, config.Duration(30*time.Second), cfg.Lotto.JoinWindow)
	assert.Equal(t, config.Duration(10*time.Minute), cfg.Lotto.RevealWindow)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"backend.json":  `{"db_backend": "sqlite"}`,
		"fee.json":      `{"lotto": {"entry_fee": 0}}`,
		"duration.json": `{"block_interval": "soon"}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := config.Load(path)
		assert.Error(t, err, name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"c.json", "c.toml"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := config.DefaultConfig()
		cfg.Lotto.Admins = []string{"a", "b"}
		cfg.TLS = &config.TLSConfig{Cert: "s.crt", Key: "s.key"}
		require.NoError(t, config.Save(cfg, path))

		got, err := config.Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg.Lotto, got.Lotto, name)
		assert.Equal(t, cfg.TLS, got.TLS, name)
	}
}

func TestGenesisCreditsAlloc(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{pub.Hex(): 500}
	st := testutil.NewStateDB()

	block, err := config.CreateGenesisBlock(cfg, st, priv, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), block.Header.Height)
	require.NoError(t, block.Verify(pub))

	acc, err := st.GetAccount(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(500), acc.Balance)

	cfg.Genesis.Alloc = map[string]uint64{"not-a-key": 1}
	_, err = config.CreateGenesisBlock(cfg, testutil.NewStateDB(), priv, 1)
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.LogLevel = "warn"
	require.NoError(t, cfg.SetupLogging(&buf))

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	cfg.LogLevel = "loud"
	assert.Error(t, cfg.SetupLogging(&buf))
}
