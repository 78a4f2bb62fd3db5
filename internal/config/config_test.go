package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
server:
  port: 9000
  grpc_addr: ":9900"
database:
  host: db
  user: sm
  password: secret
  dbname: soundmint
auth:
  secret: s3cret
  dev_tokens: true
platform:
  owner: "0x00000000000000000000000000000000000000a1"
  fee_bps: 300
treasury:
  address: "0x000000000000000000000000000000000000feed"
  weekly_limit: 100000000000
  ceo: "0x00000000000000000000000000000000000000ce"
mint:
  max_batch_size: 5
nats:
  url: "nats://localhost:4222"
snapshot:
  interval: 30s
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, ":9900", cfg.Server.GRPCAddr)
				assert.True(t, cfg.Database.Enabled())
				assert.Equal(t, "host=db port=5432 user=sm password=secret dbname=soundmint sslmode=disable", cfg.Database.DSN())
				assert.Equal(t, "s3cret", cfg.Auth.Secret)
				assert.True(t, cfg.Auth.DevTokens)
				assert.Equal(t, uint32(300), cfg.Platform.FeeBps)
				assert.Equal(t, int64(100_000_000_000), cfg.Treasury.WeeklyLimit)
				assert.Equal(t, int64(10_000_000_000), cfg.Treasury.MaxWithdrawalAmount)
				assert.Equal(t, 5, cfg.Mint.MaxBatchSize)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, 30*time.Second, cfg.Snapshot.Interval)
				assert.Equal(t, "0x00000000000000000000000000000000000000ce", cfg.Treasury.CEO)
			},
		},
		{
			name:       "defaults",
			configFile: "debug: false\n",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.False(t, cfg.Database.Enabled())
				assert.Equal(t, "soundmint", cfg.Auth.Issuer)
				assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
				assert.Equal(t, uint32(250), cfg.Platform.FeeBps)
				assert.Equal(t, 7*24*time.Hour, cfg.Treasury.Window)
				assert.Equal(t, 20, cfg.Mint.MaxBatchSize)
				assert.Equal(t, "ETH", cfg.Mint.Currency)
				assert.Equal(t, "soundmint.events", cfg.NATS.SubjectPrefix)
				assert.Equal(t, 20, cfg.RateLimit.Burst)
				assert.True(t, cfg.Snapshot.Enabled)
				assert.Equal(t, 100, cfg.Snapshot.Keep)
				assert.Equal(t, 10*time.Minute, cfg.Snapshot.Interval)
			},
		},
		{
			name:        "fee out of range",
			configFile:  "platform:\n  fee_bps: 10001\n",
			expectError: true,
		},
		{
			name:        "invalid yaml",
			configFile:  "server: [",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.configFile), t.TempDir())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SOUNDMINT_SERVER_PORT", "7000")
	t.Setenv("SOUNDMINT_AUTH_SECRET", "from-env")
	t.Setenv("SOUNDMINT_TREASURY_WINDOW", "1h")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, time.Hour, cfg.Treasury.Window)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SOUNDMINT_MINT_CURRENCY=GWEI\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("SOUNDMINT_MINT_CURRENCY") })

	cfg, err := Load(writeConfig(t, "debug: true\n"), dir)
	require.NoError(t, err)
	assert.Equal(t, "GWEI", cfg.Mint.Currency)
}
