package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RAGCHAT_STORE_DSN.
const EnvPrefix = "RAGCHAT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Lock      LockConfig      `mapstructure:"lock"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	// Provider is "openai" or "hashing".
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	Dimensions        int    `mapstructure:"dimensions"`
	HashingDimensions int    `mapstructure:"hashing_dimensions"`
	MaxInputChars     int    `mapstructure:"max_input_chars"`
	MaxChunks         int    `mapstructure:"max_chunks"`
}

type StoreConfig struct {
	// Type is one of sqlite, postgres, mysql, mssql, mongo, neo4j, inmemory.
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RetrievalConfig struct {
	// Engine is one of bruteforce, pgvector, qdrant, chromem.
	Engine string `mapstructure:"engine"`
	TopK   int    `mapstructure:"top_k"`
	// MinScore drops weaker matches when positive.
	MinScore float64        `mapstructure:"min_score"`
	PGVector PGVectorConfig `mapstructure:"pgvector"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Chromem  ChromemConfig  `mapstructure:"chromem"`
}

type PGVectorConfig struct {
	// DSN defaults to the store DSN when the store is postgres.
	DSN string `mapstructure:"dsn"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
	VectorSize int    `mapstructure:"vector_size"`
}

type ChromemConfig struct {
	// Dir persists the index; empty keeps it in memory.
	Dir string `mapstructure:"dir"`
}

type ChatConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
}

type LockConfig struct {
	// Type is none, local or redis.
	Type     string        `mapstructure:"type"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.addr":             ":8000",
	"server.static_dir":       "",
	"server.shutdown_timeout": 10 * time.Second,

	"openai.api_key":     "",
	"openai.base_url":    "",
	"openai.model":       "gpt-4o-mini",
	"openai.max_tokens":  1000,
	"openai.temperature": 0.7,
	"openai.max_retries": 2,
	"openai.timeout":     60 * time.Second,

	"embedding.provider":           "openai",
	"embedding.model":              "text-embedding-3-small",
	"embedding.dimensions":         0,
	"embedding.hashing_dimensions": 256,
	"embedding.max_input_chars":    8000,
	"embedding.max_chunks":         16,

	"store.type":     "sqlite",
	"store.dsn":      "ragchat.db",
	"store.username": "",
	"store.password": "",
	"store.db_name":  "",

	"retrieval.engine":             "bruteforce",
	"retrieval.top_k":              5,
	"retrieval.min_score":          0.0,
	"retrieval.pgvector.dsn":       "",
	"retrieval.qdrant.host":        "localhost",
	"retrieval.qdrant.port":        6334,
	"retrieval.qdrant.api_key":     "",
	"retrieval.qdrant.use_tls":     false,
	"retrieval.qdrant.collection":  "ragchat_messages",
	"retrieval.qdrant.vector_size": 1536,
	"retrieval.chromem.dir":        "",

	"chat.max_message_length": 10000,
	"chat.request_timeout":    60 * time.Second,
	"chat.system_prompt":      "",

	"lock.type":      "local",
	"lock.redis_url": "redis://localhost:6379/0",
	"lock.ttl":       2 * time.Minute,

	"log.level":  "info",
	"log.format": "text",
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults, an optional config file, a .env
// file in the working directory and the environment, in increasing priority.
// OPENAI_API_KEY is honoured when RAGCHAT_OPENAI_API_KEY is unset.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Retrieval.PGVector.DSN == "" && cfg.Store.Type == "postgres" {
		cfg.Retrieval.PGVector.DSN = cfg.Store.DSN
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

// Validate checks backend names and limits.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(oneOf("store.type", c.Store.Type, "sqlite", "postgres", "mysql", "mssql", "mongo", "neo4j", "inmemory"))
	add(oneOf("embedding.provider", c.Embedding.Provider, "openai", "hashing"))
	add(oneOf("retrieval.engine", c.Retrieval.Engine, "bruteforce", "pgvector", "qdrant", "chromem"))
	add(oneOf("lock.type", c.Lock.Type, "none", "local", "redis"))
	add(oneOf("log.format", c.Log.Format, "text", "json"))

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add(err)
	}
	if c.Retrieval.TopK <= 0 {
		add(errors.New("retrieval.top_k must be positive"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		add(errors.New("chat.max_message_length must be positive"))
	}
	if c.Chat.RequestTimeout < 0 {
		add(errors.New("chat.request_timeout must not be negative"))
	}
	if c.Store.Type != "inmemory" && c.Store.DSN == "" {
		add(errors.New("store.dsn is required"))
	}
	if c.Retrieval.Engine == "pgvector" && c.Retrieval.PGVector.DSN == "" {
		add(errors.New("retrieval.pgvector.dsn is required"))
	}
	if c.Retrieval.Engine == "qdrant" && c.Retrieval.Qdrant.VectorSize <= 0 {
		add(errors.New("retrieval.qdrant.vector_size must be positive"))
	}
	if c.OpenAI.APIKey == "" {
		add(errors.New("openai.api_key (or OPENAI_API_KEY) is required"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
