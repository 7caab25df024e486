// Package config loads application configuration and bootstraps logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Linkage     LinkageConfig     `yaml:"linkage" mapstructure:"linkage"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MatchConfig configures arbitration thresholds and deterministic tier knobs.
// Thresholds are run configuration, not per-tier constants.
type MatchConfig struct {
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold" mapstructure:"auto_accept_threshold"`
	ReviewThreshold     float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	CitySimilarity      float64 `yaml:"city_similarity" mapstructure:"city_similarity"`
	IndustrySimilarity  float64 `yaml:"industry_similarity" mapstructure:"industry_similarity"`
	BlockParallelism    int     `yaml:"block_parallelism" mapstructure:"block_parallelism"`
}

// LinkageConfig configures the probabilistic (Fellegi-Sunter) matcher.
type LinkageConfig struct {
	FieldSpecPath  string  `yaml:"field_spec_path" mapstructure:"field_spec_path"`
	Seed           int64   `yaml:"seed" mapstructure:"seed"`
	EMIterations   int     `yaml:"em_iterations" mapstructure:"em_iterations"`
	USampleSize    int     `yaml:"u_sample_size" mapstructure:"u_sample_size"`
	MinReviewScore float64 `yaml:"min_review_score" mapstructure:"min_review_score"`
	ArtifactDir    string  `yaml:"artifact_dir" mapstructure:"artifact_dir"`
}

// ConsolidateConfig configures the canonical-identity consolidator.
type ConsolidateConfig struct {
	DedupeSimilarity float64 `yaml:"dedupe_similarity" mapstructure:"dedupe_similarity"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ORGMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("match.auto_accept_threshold", 0.85)
	v.SetDefault("match.review_threshold", 0.55)
	v.SetDefault("match.city_similarity", 0.55)
	v.SetDefault("match.industry_similarity", 0.60)
	v.SetDefault("match.block_parallelism", 4)
	// Empty means the built-in field spec; see fieldspec.yaml for the shape.
	v.SetDefault("linkage.field_spec_path", "")
	v.SetDefault("linkage.seed", 0)
	v.SetDefault("linkage.em_iterations", 20)
	v.SetDefault("linkage.u_sample_size", 50000)
	v.SetDefault("linkage.min_review_score", 0.50)
	v.SetDefault("linkage.artifact_dir", "/tmp/orgmatch")
	v.SetDefault("consolidate.dedupe_similarity", 0.95)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that required settings are present before a run.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (set ORGMATCH_STORE_DATABASE_URL)")
	}
	if c.Match.ReviewThreshold > c.Match.AutoAcceptThreshold {
		return eris.Errorf("config: review_threshold %.2f exceeds auto_accept_threshold %.2f",
			c.Match.ReviewThreshold, c.Match.AutoAcceptThreshold)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
