package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	ConditionsFile    string `mapstructure:"CONDITIONS_FILE"`
	APIToken          string `mapstructure:"API_TOKEN"`
	MaxResultsDefault int    `mapstructure:"MAX_RESULTS_DEFAULT"`
	IngestSeed        int64  `mapstructure:"INGEST_SEED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CONDITIONS_FILE", "conditions.json")
	v.SetDefault("MAX_RESULTS_DEFAULT", 20)
	v.SetDefault("INGEST_SEED", 42)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CONDITIONS_FILE")
	v.BindEnv("API_TOKEN")
	v.BindEnv("MAX_RESULTS_DEFAULT")
	v.BindEnv("INGEST_SEED")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run with. The conditions
// file path must be set because the server has nothing to serve without it,
// and MAX_RESULTS_DEFAULT bounds retrieval output so it must be positive.
func (c *Config) Validate() error {
	if c.ConditionsFile == "" {
		return fmt.Errorf("CONDITIONS_FILE is required")
	}
	if c.MaxResultsDefault <= 0 {
		return fmt.Errorf("MAX_RESULTS_DEFAULT must be positive, got %d", c.MaxResultsDefault)
	}
	return nil
}
