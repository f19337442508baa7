package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	Schema        SchemaConfig
	Query         QueryConfig
	Prompt        PromptConfig
	Providers     ProvidersConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins []string
}

type DatasetConfig struct {
	Kind         string
	Path         string
	ObjectKey    string
	MaxOpenConns int
	// IntegritySchedule is the cron spec for comparing the local dataset
	// with its object store copy.
	IntegritySchedule string
}

type SchemaConfig struct {
	Tables          []string
	AnnotationsPath string
	// PrimaryTable is counted for the status endpoint.
	PrimaryTable string
}

type QueryConfig struct {
	Timeout       time.Duration
	RowCap        int
	DefaultLimit  int
	MaxConcurrent int
}

type PromptConfig struct {
	MaxSchemaChars int
}

type ProvidersConfig struct {
	Default       string
	Timeout       time.Duration
	RatePerMinute int
	Ollama        OllamaConfig
	Gemini        GeminiConfig
	OpenAI        OpenAIConfig
}

type OllamaConfig struct {
	Enabled bool
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type HistoryConfig struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	Retention       time.Duration
	PruneSchedule   string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
	// QueriesPerMinute throttles POST /v1/query per caller; zero disables it.
	QueriesPerMinute int
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("STATLINE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid STATLINE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "STATLINE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "STATLINE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "STATLINE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "STATLINE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "STATLINE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyList(lookup, "STATLINE_CORS_ALLOWED_ORIGINS", &cfg.HTTP.CORSAllowedOrigins) },

		func() error { return applyString(lookup, "STATLINE_DATASET_KIND", &cfg.Dataset.Kind) },
		func() error { return applyString(lookup, "STATLINE_DATASET_PATH", &cfg.Dataset.Path) },
		func() error { return applyString(lookup, "STATLINE_DATASET_OBJECT_KEY", &cfg.Dataset.ObjectKey) },
		func() error { return applyInt(lookup, "STATLINE_DATASET_MAX_OPEN_CONNS", &cfg.Dataset.MaxOpenConns) },
		func() error {
			return applyString(lookup, "STATLINE_DATASET_INTEGRITY_SCHEDULE", &cfg.Dataset.IntegritySchedule)
		},

		func() error { return applyList(lookup, "STATLINE_SCHEMA_TABLES", &cfg.Schema.Tables) },
		func() error { return applyString(lookup, "STATLINE_SCHEMA_ANNOTATIONS", &cfg.Schema.AnnotationsPath) },
		func() error { return applyString(lookup, "STATLINE_SCHEMA_PRIMARY_TABLE", &cfg.Schema.PrimaryTable) },

		func() error { return applyDuration(lookup, "STATLINE_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "STATLINE_QUERY_ROW_CAP", &cfg.Query.RowCap) },
		func() error { return applyInt(lookup, "STATLINE_QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit) },
		func() error { return applyInt(lookup, "STATLINE_QUERY_MAX_CONCURRENT", &cfg.Query.MaxConcurrent) },

		func() error { return applyInt(lookup, "STATLINE_PROMPT_MAX_SCHEMA_CHARS", &cfg.Prompt.MaxSchemaChars) },

		func() error { return applyString(lookup, "STATLINE_PROVIDER_DEFAULT", &cfg.Providers.Default) },
		func() error { return applyDuration(lookup, "STATLINE_PROVIDER_TIMEOUT", &cfg.Providers.Timeout) },
		func() error {
			return applyInt(lookup, "STATLINE_PROVIDER_RATE_PER_MINUTE", &cfg.Providers.RatePerMinute)
		},
		func() error { return applyBool(lookup, "STATLINE_OLLAMA_ENABLED", &cfg.Providers.Ollama.Enabled) },
		func() error { return applyString(lookup, "STATLINE_OLLAMA_BASE_URL", &cfg.Providers.Ollama.BaseURL) },
		func() error { return applyString(lookup, "STATLINE_OLLAMA_MODEL", &cfg.Providers.Ollama.Model) },
		func() error { return applyString(lookup, "STATLINE_GEMINI_BASE_URL", &cfg.Providers.Gemini.BaseURL) },
		func() error { return applyString(lookup, "GEMINI_API_KEY", &cfg.Providers.Gemini.APIKey) },
		func() error { return applyString(lookup, "STATLINE_GEMINI_API_KEY", &cfg.Providers.Gemini.APIKey) },
		func() error { return applyString(lookup, "STATLINE_GEMINI_MODEL", &cfg.Providers.Gemini.Model) },
		func() error { return applyString(lookup, "STATLINE_OPENAI_BASE_URL", &cfg.Providers.OpenAI.BaseURL) },
		func() error { return applyString(lookup, "STATLINE_OPENAI_API_KEY", &cfg.Providers.OpenAI.APIKey) },
		func() error { return applyString(lookup, "STATLINE_OPENAI_MODEL", &cfg.Providers.OpenAI.Model) },
		func() error {
			return applyFloat(lookup, "STATLINE_OPENAI_TEMPERATURE", &cfg.Providers.OpenAI.Temperature)
		},

		func() error { return applyBool(lookup, "STATLINE_HISTORY_ENABLED", &cfg.History.Enabled) },
		func() error { return applyString(lookup, "STATLINE_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyInt(lookup, "STATLINE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns) },
		func() error { return applyInt(lookup, "STATLINE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "STATLINE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "STATLINE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "STATLINE_HISTORY_RETENTION", &cfg.History.Retention) },
		func() error {
			return applyString(lookup, "STATLINE_HISTORY_PRUNE_SCHEDULE", &cfg.History.PruneSchedule)
		},

		func() error { return applyString(lookup, "STATLINE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "STATLINE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "STATLINE_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "STATLINE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "STATLINE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "STATLINE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "STATLINE_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "STATLINE_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "STATLINE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "STATLINE_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "STATLINE_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "STATLINE_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyInt(lookup, "STATLINE_AUTH_QUERIES_PER_MINUTE", &cfg.Auth.QueriesPerMinute) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Dataset.Kind {
	case "duckdb", "sqlite", "parquet":
	default:
		return Config{}, fmt.Errorf("invalid STATLINE_DATASET_KIND: %q", cfg.Dataset.Kind)
	}
	if cfg.Query.RowCap <= 0 {
		return Config{}, fmt.Errorf("STATLINE_QUERY_ROW_CAP must be > 0")
	}
	if cfg.Query.DefaultLimit <= 0 {
		return Config{}, fmt.Errorf("STATLINE_QUERY_DEFAULT_LIMIT must be > 0")
	}
	if cfg.Query.DefaultLimit > cfg.Query.RowCap {
		cfg.Query.DefaultLimit = cfg.Query.RowCap
	}
	if cfg.Auth.QueriesPerMinute < 0 {
		return Config{}, fmt.Errorf("STATLINE_AUTH_QUERIES_PER_MINUTE must be >= 0")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return Config{}, fmt.Errorf("STATLINE_HISTORY_DSN is required when history is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "statline-api"},
		HTTP: HTTPConfig{
			Address:            ":8080",
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       90 * time.Second,
			IdleTimeout:        60 * time.Second,
			CORSAllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Dataset: DatasetConfig{
			Kind:              "sqlite",
			Path:              "nfl_complete_database.db",
			MaxOpenConns:      8,
			IntegritySchedule: "@every 6h",
		},
		Schema: SchemaConfig{
			PrimaryTable: "plays",
		},
		Query: QueryConfig{
			Timeout:       30 * time.Second,
			RowCap:        1000,
			DefaultLimit:  100,
			MaxConcurrent: 8,
		},
		Prompt: PromptConfig{
			MaxSchemaChars: 12000,
		},
		Providers: ProvidersConfig{
			Default:       "gpt-oss",
			Timeout:       30 * time.Second,
			RatePerMinute: 30,
			Ollama: OllamaConfig{
				Enabled: true,
				BaseURL: "http://localhost:11434",
				Model:   "gpt-oss:20b",
			},
			Gemini: GeminiConfig{
				BaseURL: "https://generativelanguage.googleapis.com",
				Model:   "gemini-2.5-flash",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com",
				Model:   "gpt-5",
			},
		},
		History: HistoryConfig{
			Enabled:         false,
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			Retention:       30 * 24 * time.Hour,
			PruneSchedule:   "@every 1h",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "statline",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "datasets",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Auth.QueriesPerMinute = 30
		cfg.HTTP.CORSAllowedOrigins = nil
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
