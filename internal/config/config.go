// Package config defines the server's configuration, loaded from a YAML
// file with FENRIR_* environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"fenrir/internal/common"
)

// Config is the top-level server configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// ServerConfig controls the TCP order-entry listener and the secondary
// WebSocket market-data fan-out (internal/net.Server, internal/net/stream.go).
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	Port          int    `mapstructure:"port"`
	Exchange      string `mapstructure:"exchange"`
	WebsocketPort int    `mapstructure:"websocket_port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InstrumentConfig names one tradeable instrument the engine should spin
// up a book for at startup.
type InstrumentConfig struct {
	Ticker    string `mapstructure:"ticker"`
	AssetType string `mapstructure:"asset_type"`
}

// Instrument resolves this config entry into the engine's Instrument type.
func (i InstrumentConfig) Instrument() (common.Instrument, error) {
	asset, err := parseAssetType(i.AssetType)
	if err != nil {
		return common.Instrument{}, err
	}
	return common.Instrument{Ticker: i.Ticker, AssetType: asset}, nil
}

func parseAssetType(s string) (common.AssetType, error) {
	switch strings.ToUpper(s) {
	case "EQUITY", "EQUITIES":
		return common.Equities, nil
	case "CURRENCY", "CURRENCIES":
		return common.Currency, nil
	case "FUTURE", "FUTURES":
		return common.Future, nil
	case "COMMODITY", "COMMODITIES":
		return common.Commodity, nil
	default:
		return 0, fmt.Errorf("unknown asset_type %q", s)
	}
}

// Load reads config from a YAML file, with FENRIR_* environment variables
// overriding matching keys (dots replaced by underscores, e.g.
// FENRIR_SERVER_PORT overrides server.port).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Exchange == "" {
		return fmt.Errorf("server.exchange is required")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	for _, i := range c.Instruments {
		if _, err := i.Instrument(); err != nil {
			return err
		}
	}
	return nil
}
