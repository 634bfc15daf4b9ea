// Package config loads the exchange process's configuration from flags,
// environment variables, and an optional config file, all merged through
// viper the way the corpus's gateway services do.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/guardian"
	"github.com/nexuscore/exchange/internal/matching"
)

// Config is everything cmd/server needs to boot one instrument's exchange.
type Config struct {
	Port            int
	JournalPath     string
	JournalCapacity int
	MaxOrderQty     uint32
	MaxDeviationPct int64
	MarginRatioPct  int64
	BandPct         int64
	AllowShorting   bool
	LogLevel        string
}

// Default returns the exchange's out-of-the-box configuration.
func Default() Config {
	return Config{
		Port:            8080,
		JournalPath:     "nexus.journal",
		JournalCapacity: 64 << 20,
		MaxOrderQty:     1_000_000,
		MaxDeviationPct: 20,
		MarginRatioPct:  100,
		BandPct:         10,
		AllowShorting:   true,
		LogLevel:        "info",
	}
}

// Load merges defaults, an optional config file at configPath (if non-empty
// and present), and NEXUS_-prefixed environment variables, in that order of
// increasing precedence.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", cfg.Port)
	v.SetDefault("journal_path", cfg.JournalPath)
	v.SetDefault("journal_capacity", cfg.JournalCapacity)
	v.SetDefault("max_order_qty", cfg.MaxOrderQty)
	v.SetDefault("max_deviation_pct", cfg.MaxDeviationPct)
	v.SetDefault("margin_ratio_pct", cfg.MarginRatioPct)
	v.SetDefault("band_pct", cfg.BandPct)
	v.SetDefault("allow_shorting", cfg.AllowShorting)
	v.SetDefault("log_level", cfg.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// An explicit path that does not exist surfaces as an os error,
			// not as viper's ConfigFileNotFoundError.
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	cfg.Port = v.GetInt("port")
	cfg.JournalPath = v.GetString("journal_path")
	cfg.JournalCapacity = v.GetInt("journal_capacity")
	cfg.MaxOrderQty = uint32(v.GetInt("max_order_qty"))
	cfg.MaxDeviationPct = v.GetInt64("max_deviation_pct")
	cfg.MarginRatioPct = v.GetInt64("margin_ratio_pct")
	cfg.BandPct = v.GetInt64("band_pct")
	cfg.AllowShorting = v.GetBool("allow_shorting")
	cfg.LogLevel = v.GetString("log_level")
	return cfg, nil
}

// RiskConfig derives the matching engine's gate configuration.
func (c Config) RiskConfig() matching.RiskConfig {
	return matching.RiskConfig{
		MaxQuantity:          fixedpoint.NewQuantity(c.MaxOrderQty),
		MaxPriceDeviationPct: c.MaxDeviationPct * fixedpoint.Scale,
	}
}

// GuardianConfig derives the margin gate's configuration.
func (c Config) GuardianConfig() guardian.GuardianConfig {
	return guardian.GuardianConfig{
		MaxOrderQty:   fixedpoint.NewQuantity(c.MaxOrderQty),
		MarginRatio:   c.MarginRatioPct * fixedpoint.Scale / 100,
		BandPct:       c.BandPct * fixedpoint.Scale / 100,
		MinBandAbs:    fixedpoint.NewPrice(0),
		AllowShorting: c.AllowShorting,
	}
}
