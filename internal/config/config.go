package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env    string `mapstructure:"env"`
	Ledger LedgerConfig
	Sync   SyncConfig
	API    APIConfig
	Redis  RedisConfig
}

// LedgerConfig names the remote ledger and the vault account on it.
type LedgerConfig struct {
	URL   string `mapstructure:"url"`
	Vault string `mapstructure:"vault"`
}

// VaultAddress parses the configured vault address.
func (l LedgerConfig) VaultAddress() (common.Address, error) {
	if !common.IsHexAddress(l.Vault) {
		return common.Address{}, fmt.Errorf("invalid vault address %q", l.Vault)
	}
	return common.HexToAddress(l.Vault), nil
}

// SyncConfig tunes the polling engine.
type SyncConfig struct {
	BackoffFloorSec   int    `mapstructure:"backoff_floor_sec"`
	BackoffCeilingSec int    `mapstructure:"backoff_ceiling_sec"`
	PageLimit         uint32 `mapstructure:"page_limit"`
	DepthSlots        int    `mapstructure:"depth_slots"`
	RecentTrades      int    `mapstructure:"recent_trades"`
}

// BackoffFloor returns the shortest poll delay.
func (s SyncConfig) BackoffFloor() time.Duration {
	return time.Duration(s.BackoffFloorSec) * time.Second
}

// BackoffCeiling returns the longest poll delay.
func (s SyncConfig) BackoffCeiling() time.Duration {
	return time.Duration(s.BackoffCeilingSec) * time.Second
}

// APIConfig holds the HTTP gateway settings.
type APIConfig struct {
	Addr    string   `mapstructure:"addr"`
	Origins []string `mapstructure:"origins"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Load reads configuration from environment variables prefixed with ARGUS_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")

	// Ledger defaults
	v.SetDefault("ledger.url", "http://localhost:8545")
	v.SetDefault("ledger.vault", "")

	// Sync defaults
	v.SetDefault("sync.backoff_floor_sec", 1)
	v.SetDefault("sync.backoff_ceiling_sec", 60)
	v.SetDefault("sync.page_limit", 100)
	v.SetDefault("sync.depth_slots", 6)
	v.SetDefault("sync.recent_trades", 12)

	// API defaults
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.origins", "http://localhost:3000")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	cfg := &Config{}

	cfg.Env = v.GetString("env")

	cfg.Ledger = LedgerConfig{
		URL:   v.GetString("ledger.url"),
		Vault: v.GetString("ledger.vault"),
	}

	cfg.Sync = SyncConfig{
		BackoffFloorSec:   v.GetInt("sync.backoff_floor_sec"),
		BackoffCeilingSec: v.GetInt("sync.backoff_ceiling_sec"),
		PageLimit:         v.GetUint32("sync.page_limit"),
		DepthSlots:        v.GetInt("sync.depth_slots"),
		RecentTrades:      v.GetInt("sync.recent_trades"),
	}

	cfg.API = APIConfig{
		Addr:    v.GetString("api.addr"),
		Origins: splitList(v.GetString("api.origins")),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		Enabled:  v.GetBool("redis.enabled"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.BackoffFloorSec <= 0 {
		return fmt.Errorf("backoff floor must be positive, got %d", c.Sync.BackoffFloorSec)
	}
	if c.Sync.BackoffCeilingSec < c.Sync.BackoffFloorSec {
		return fmt.Errorf("backoff ceiling %d below floor %d",
			c.Sync.BackoffCeilingSec, c.Sync.BackoffFloorSec)
	}
	if c.Sync.DepthSlots <= 0 {
		return fmt.Errorf("depth slots must be positive, got %d", c.Sync.DepthSlots)
	}
	if c.Sync.RecentTrades <= 0 {
		return fmt.Errorf("recent trades must be positive, got %d", c.Sync.RecentTrades)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
