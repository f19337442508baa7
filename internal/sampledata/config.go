package sampledata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	// Kind is "parquet" (a directory with one sub-directory per table) or
	// "sqlite" (a single database file).
	Kind         string
	Output       string
	FirstSeason  int
	Seasons      int
	Weeks        int
	Teams        int
	PlaysPerGame int
	Seed         int64
}

func DefaultConfig() Config {
	return Config{
		Kind:         "parquet",
		Output:       "data/nfl",
		FirstSeason:  2022,
		Seasons:      2,
		Weeks:        17,
		Teams:        8,
		PlaysPerGame: 120,
		Seed:         time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "STATLINE_SAMPLE_KIND", &cfg.Kind); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "STATLINE_SAMPLE_OUTPUT", &cfg.Output); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "STATLINE_SAMPLE_FIRST_SEASON", &cfg.FirstSeason); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "STATLINE_SAMPLE_SEASONS", &cfg.Seasons); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "STATLINE_SAMPLE_WEEKS", &cfg.Weeks); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "STATLINE_SAMPLE_TEAMS", &cfg.Teams); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "STATLINE_SAMPLE_PLAYS_PER_GAME", &cfg.PlaysPerGame); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "STATLINE_SAMPLE_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Kind {
	case "parquet", "sqlite":
	default:
		return fmt.Errorf("invalid STATLINE_SAMPLE_KIND: %q", c.Kind)
	}
	if strings.TrimSpace(c.Output) == "" {
		return fmt.Errorf("STATLINE_SAMPLE_OUTPUT is required")
	}
	if c.Seasons <= 0 {
		return fmt.Errorf("STATLINE_SAMPLE_SEASONS must be > 0")
	}
	if c.Weeks <= 0 {
		return fmt.Errorf("STATLINE_SAMPLE_WEEKS must be > 0")
	}
	if c.Teams < 2 || c.Teams%2 != 0 || c.Teams > len(teamCodes) {
		return fmt.Errorf("STATLINE_SAMPLE_TEAMS must be an even number between 2 and %d", len(teamCodes))
	}
	if c.PlaysPerGame <= 0 {
		return fmt.Errorf("STATLINE_SAMPLE_PLAYS_PER_GAME must be > 0")
	}
	return nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
