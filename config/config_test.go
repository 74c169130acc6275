package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supragya/NomadConnector/types"
)

const sampleConfig = `
log_level: debug
db_backend: memdb
home:
  name: ethereum
  domain: 6648936
  kind: http
  rpc: http://127.0.0.1:8545
  rate_limit: 20
  burst: 5
replicas:
  - name: moonbeam
    domain: 1650811245
    kind: http
    rpc: http://127.0.0.1:9545
    updater: "0x71c7656ec7ab88b098defb751b7401b5f6d8976f"
    optimistic_seconds: 1800
    connection_manager: http://127.0.0.1:9545
  - name: evmos
    domain: 1702260083
    kind: memory
    updater: "0x71c7656ec7ab88b098defb751b7401b5f6d8976f"
updater:
  interval: 5s
processor:
  cooldown: 1m
  denied_senders:
    - "0x00000000000000000000000071c7656ec7ab88b098defb751b7401b5f6d8976f"
    - "0x2222222222222222222222222222222222222222"
`

func load(t *testing.T, content string) (*Config, error) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	v := viper.New()
	Prepare(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return Load(v)
}

func TestLoadSample(t *testing.T) {
	cfg, err := load(t, sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, uint32(6648936), cfg.Home.Domain)
	assert.Equal(t, 20.0, cfg.Home.RateLimit)
	require.Len(t, cfg.Replicas, 2)
	assert.Equal(t, 30*time.Minute, cfg.Replicas[0].Optimistic())
	assert.Equal(t, 5*time.Second, cfg.Updater.Interval)
	assert.Equal(t, 10*time.Second, cfg.Relayer.Interval, "default kept")
	assert.Equal(t, time.Minute, cfg.Processor.Cooldown)
	assert.Equal(t, 5, cfg.Processor.MaxAttempts)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)

	updater, err := cfg.Replicas[0].TrustedUpdater()
	require.NoError(t, err)
	assert.Equal(t, "0x71c7656ec7ab88b098defb751b7401b5f6d8976f", updater.Hex())

	denied, err := cfg.Processor.Denied()
	require.NoError(t, err)
	require.Len(t, denied, 2)
	assert.Equal(t, updater.Identifier(), denied[0])
	addr, err := types.HexToAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	assert.Equal(t, addr.Identifier(), denied[1])

	r, ok := cfg.Replica("1702260083")
	require.True(t, ok)
	assert.Equal(t, "evmos", r.Name)
	_, ok = cfg.Replica("nope")
	assert.False(t, ok)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("NOMAD_UPDATER_INTERVAL", "42s")
	t.Setenv("NOMAD_LOG_FORMAT", "json")
	cfg, err := load(t, sampleConfig)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, cfg.Updater.Interval)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		replace [2]string
		errMsg  string
	}{
		{"no replicas", [2]string{"replicas:", "ignored:"}, "at least one replica"},
		{"duplicate domain", [2]string{"1702260083", "1650811245"}, "reuses domain"},
		{"home domain reused", [2]string{"1702260083", "6648936"}, "reuses domain"},
		{"bad updater", [2]string{`"0x71c7656ec7ab88b098defb751b7401b5f6d8976f"
updater:`, `"0x1234"
updater:`}, "updater"},
		{"unknown kind", [2]string{"kind: memory", "kind: carrier-pigeon"}, "unknown kind"},
		{"missing rpc", [2]string{"rpc: http://127.0.0.1:8545", "rpc: \"\""}, "rpc address"},
		{"bad level", [2]string{"log_level: debug", "log_level: loud"}, "log_level"},
		{"zero interval", [2]string{"interval: 5s", "interval: 0s"}, "updater.interval"},
		{"bad denied sender", [2]string{`"0x2222222222222222222222222222222222222222"`, `"0xzz"`}, "denied sender"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			content := strings.Replace(sampleConfig, tc.replace[0], tc.replace[1], 1)
			require.NotEqual(t, sampleConfig, content)
			_, err := load(t, content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestUpdaterRequiresKeyFile(t *testing.T) {
	cfg, err := load(t, sampleConfig)
	require.NoError(t, err)
	cfg.Updater.Enabled = true
	assert.Error(t, cfg.ValidateBasic())
	cfg.Updater.KeyFile = "updater.key"
	assert.NoError(t, cfg.ValidateBasic())
}
