package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/store"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())

	cfg, err := Load()

	req.NoError(err)
	req.Equal(":8080", cfg.Port)
	req.Equal([]string{"http://localhost:8080"}, cfg.Origins())
	req.Equal(int64(4096), cfg.MaxMessageSize)
	req.Equal(5, cfg.RateLimitBurst)
	req.Equal(time.Second, cfg.RateLimitRefillInterval)
	req.Equal(store.DriverMemory, cfg.StoreDriver)
	req.Equal("relay.messages.stored", cfg.NatsSubject)
	req.NotEmpty(cfg.NodeID)
}

func TestLoad_From_Environment(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "250ms")
	t.Setenv("STORE_DRIVER", store.DriverBadger)
	t.Setenv("BADGER_PATH", "/var/lib/gorelay")
	t.Setenv("NODE_ID", "node-a")

	cfg, err := Load()

	req.NoError(err)
	req.Equal(":9090", cfg.Port)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.Origins())
	req.Equal(250*time.Millisecond, cfg.RateLimitRefillInterval)
	req.Equal("/var/lib/gorelay", cfg.BadgerPath)
	req.Equal("node-a", cfg.NodeID)
}

func TestLoad_Rejects_Invalid_Settings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"STORE_DRIVER": "mysql"},
		"postgres without url": {"STORE_DRIVER": store.DriverPostgres},
		"badger without path":  {"STORE_DRIVER": store.DriverBadger},
		"unknown log level":    {"LOG_LEVEL": "chatty"},
		"non positive burst":   {"RATE_LIMIT_BURST": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidate_Accepts_Every_Store_Driver(t *testing.T) {
	for _, driver := range store.Drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := Config{
				Port:                    ":8080",
				MaxMessageSize:          1,
				RateLimitBurst:          1,
				RateLimitRefillInterval: time.Second,
				SendBufferSize:          1,
				ShutdownTimeout:         time.Second,
				LogLevel:                "info",
				StoreDriver:             driver,
				DatabaseURL:             "postgres://localhost/gorelay",
				BadgerPath:              t.TempDir(),
				PresenceTTL:             time.Minute,
				NatsSubject:             "relay.messages.stored",
			}
			require.NoError(t, cfg.Validate())
		})
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}
