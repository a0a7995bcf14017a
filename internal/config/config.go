// Package config loads and validates the fraudgraph configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/rules"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from defaults, an optional YAML file and
// FRAUDGRAPH_* environment overrides, in that order. Unknown YAML keys are
// rejected.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// The profile picks the defaults the file is layered on.
		var head struct {
			Profile domain.Profile `yaml:"profile"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
		if head.Profile == domain.ProfileCluster {
			cfg = domain.ClusterConfig()
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
	} else if os.Getenv("FRAUDGRAPH_PROFILE") == string(domain.ProfileCluster) {
		cfg = domain.ClusterConfig()
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the cross-field constraints tags cannot
// express.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ConfigError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	p := cfg.Pipeline
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	if p.AdvancedWeights != nil {
		if err := p.AdvancedWeights.Validate(); err != nil {
			return &domain.ConfigError{Field: "pipeline.advancedWeights", Reason: err.Error()}
		}
	}

	tiers := p.Refiner.Tiers
	if !(tiers.VeryHigh >= tiers.High && tiers.High >= tiers.Medium && tiers.Medium >= tiers.Low) {
		return &domain.ConfigError{Field: "pipeline.refiner.tiers", Reason: "must be ordered very_high >= high >= medium >= low"}
	}
	if p.Refiner.HighPercentile < p.Refiner.RecallPercentile {
		return &domain.ConfigError{Field: "pipeline.refiner.highPercentile", Reason: "must not be below recallPercentile"}
	}
	if err := validateFilterRules(p.Refiner.FilterRules); err != nil {
		return err
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.SQLitePath == "" {
		return &domain.ConfigError{Field: "store.sqlitePath", Reason: "required for the sqlite driver"}
	}
	return nil
}

// validateFilterRules compiles every configured filter expression against the
// refiner's CEL environment.
func validateFilterRules(filterRules []domain.FilterRule) error {
	if len(filterRules) == 0 {
		return nil
	}
	engine, err := rules.NewEngine(1)
	if err != nil {
		return err
	}
	defer engine.Close()

	for i, rule := range filterRules {
		if err := engine.ValidateRule(rule); err != nil {
			return &domain.ConfigError{
				Field:  fmt.Sprintf("pipeline.refiner.filterRules[%d]", i),
				Reason: err.Error(),
			}
		}
	}
	return nil
}

// LoadWeights reads a JSON object mapping feature keys to weights. Keys not
// in the recognised feature set are rejected and missing keys weigh 0.
func LoadWeights(path string) (domain.Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Weights{}, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(data)
}

// ParseWeights decodes a JSON weight map.
func ParseWeights(data []byte) (domain.Weights, error) {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Weights{}, fmt.Errorf("%w: weights: %v", domain.ErrInvalidConfig, err)
	}

	known := make(map[string]bool, len(domain.AllFeatures))
	for _, f := range domain.AllFeatures {
		known[string(f)] = true
	}
	for key := range raw {
		if !known[key] {
			return domain.Weights{}, fmt.Errorf("%w: %q", domain.ErrUnknownWeight, key)
		}
	}

	// Round-trip through the struct so the field mapping lives in one place.
	var w domain.Weights
	normalized, err := json.Marshal(raw)
	if err != nil {
		return domain.Weights{}, err
	}
	if err := json.Unmarshal(normalized, &w); err != nil {
		return domain.Weights{}, fmt.Errorf("%w: weights: %v", domain.ErrInvalidConfig, err)
	}
	if err := w.Validate(); err != nil {
		return domain.Weights{}, err
	}
	return w, nil
}

func applyEnv(cfg *domain.Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &domain.ConfigError{Field: key, Reason: err.Error()}
			}
			*dst = n
		}
		return nil
	}
	float := func(key string, dst *float64) error {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return &domain.ConfigError{Field: key, Reason: err.Error()}
			}
			*dst = f
		}
		return nil
	}

	str("FRAUDGRAPH_STORE_DRIVER", &cfg.Store.Driver)
	str("FRAUDGRAPH_SQLITE_PATH", &cfg.Store.SQLitePath)
	str("FRAUDGRAPH_POSTGRES_HOST", &cfg.Store.PostgresHost)
	str("FRAUDGRAPH_POSTGRES_USER", &cfg.Store.PostgresUser)
	str("FRAUDGRAPH_POSTGRES_PASSWORD", &cfg.Store.PostgresPassword)
	str("FRAUDGRAPH_POSTGRES_DB", &cfg.Store.PostgresDB)
	str("FRAUDGRAPH_POSTGRES_SSLMODE", &cfg.Store.PostgresSSLMode)
	str("FRAUDGRAPH_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("FRAUDGRAPH_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("FRAUDGRAPH_NATS_URL", &cfg.EventBus.NATSUrl)
	str("FRAUDGRAPH_NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("FRAUDGRAPH_LOG_LEVEL", &cfg.Logging.Level)
	str("FRAUDGRAPH_REPORT_PATH", &cfg.Report.Path)
	str("FRAUDGRAPH_S3_REGION", &cfg.Report.S3Region)
	str("FRAUDGRAPH_S3_ENDPOINT", &cfg.Report.S3Endpoint)

	if mode, ok := os.LookupEnv("FRAUDGRAPH_MODE"); ok && mode != "" {
		m, err := domain.ParseFilterMode(mode)
		if err != nil {
			return err
		}
		cfg.Pipeline.Refiner.Mode = m
	}
	if err := integer("FRAUDGRAPH_POSTGRES_PORT", &cfg.Store.PostgresPort); err != nil {
		return err
	}
	if err := integer("FRAUDGRAPH_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := integer("FRAUDGRAPH_BATCH_SIZE", &cfg.Pipeline.BatchSize); err != nil {
		return err
	}
	if err := float("FRAUDGRAPH_PERCENTILE", &cfg.Pipeline.Percentile); err != nil {
		return err
	}

	if os.Getenv("FRAUDGRAPH_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	return nil
}
