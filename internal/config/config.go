package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
	"github.com/i474232898/climate-region-aggregation/internal/log"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string

	// RegionSetFile points at a YAML region set. Empty selects the embedded
	// AR6 land regions.
	RegionSetFile string
	// ClassifierURL selects a remote region mask service instead of the
	// local polygon classifier.
	ClassifierURL string `validate:"omitempty,url"`

	// HTTPTimeout applies to outbound classifier calls.
	HTTPTimeout time.Duration `validate:"gt=0"`

	// RecomputeInterval controls how often configured datasets are aggregated.
	RecomputeInterval time.Duration `validate:"gt=0"`

	Datasets []climate.Dataset `validate:"dive"`

	// In-memory store retention.
	StoreMaxHistory int           // max number of snapshots per dataset (0 = unlimited)
	StoreMaxAge     time.Duration // max age of snapshots (0 = unlimited)
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Infof("no .env file found or error loading it: %v", err)
	}
	return fromEnv()
}

func fromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:          getenvDefault("PORT", "8080"),
		LogLevel:      strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		LogFile:       os.Getenv("LOG_FILE"),
		RegionSetFile: os.Getenv("REGION_SET_FILE"),
		ClassifierURL: os.Getenv("CLASSIFIER_URL"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	// Recompute interval: default one hour.
	if cfg.RecomputeInterval, err = getenvDuration("RECOMPUTE_INTERVAL", "60m"); err != nil {
		return nil, err
	}

	// Store retention.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 48) // two days at hourly recompute
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	if cfg.Datasets, err = parseDatasets(os.Getenv("DATASETS")); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseDatasets reads a comma separated list of name=path#variable entries.
// The variable defaults to the dataset name.
func parseDatasets(s string) ([]climate.Dataset, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []climate.Dataset
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || rest == "" {
			return nil, fmt.Errorf("invalid DATASETS entry %q: want name=path#variable", entry)
		}
		path, variable, _ := strings.Cut(rest, "#")
		if path == "" {
			return nil, fmt.Errorf("invalid DATASETS entry %q: empty path", entry)
		}
		if variable == "" {
			variable = name
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate dataset %q in DATASETS", name)
		}
		seen[name] = true
		out = append(out, climate.Dataset{Name: name, Path: path, Variable: variable})
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
