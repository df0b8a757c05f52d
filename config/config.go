package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Storage StorageConfig `mapstructure:"storage"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains the language-model provider configuration.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// ToolsConfig groups the tool adapter settings.
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig contains web search adapter settings.
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "serper":
		if strings.TrimSpace(w.SerperAPIKey) == "" {
			return fmt.Errorf("tools.web_search.serper_api_key required for serper")
		}
	case "brave":
		if strings.TrimSpace(w.BraveAPIKey) == "" {
			return fmt.Errorf("tools.web_search.brave_api_key required for brave")
		}
	default:
		return fmt.Errorf("tools.web_search.provider must be serper or brave")
	}
	return nil
}

// WebFetchConfig contains scrape adapter settings.
type WebFetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// StorageConfig contains storage and queue settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// MemoryConfig controls semantic memory behaviour.
type MemoryConfig struct {
	Semantic SemanticMemoryConfig `mapstructure:"semantic"`
}

// SemanticMemoryConfig defines embedding storage and retrieval behaviour.
// Thresholds and chunk sizes are product parameters; the defaults below were
// chosen empirically and are deliberately tunable.
type SemanticMemoryConfig struct {
	ReportNamespace     string  `mapstructure:"report_namespace"`
	SourceNamespace     string  `mapstructure:"source_namespace"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	SearchTopK          int     `mapstructure:"search_top_k"`
	SearchThreshold     float64 `mapstructure:"search_threshold"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	MaxEmbedChars       int     `mapstructure:"max_embed_chars"`
}

// Normalize applies defaults for unset semantic memory values.
func (c SemanticMemoryConfig) Normalize() SemanticMemoryConfig {
	if c.ReportNamespace == "" {
		c.ReportNamespace = "research-jobs"
	}
	if c.SourceNamespace == "" {
		c.SourceNamespace = "research-sources"
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 1536
	}
	if c.SearchTopK <= 0 {
		c.SearchTopK = 5
	}
	if c.SearchThreshold <= 0 {
		c.SearchThreshold = 0.35
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1200
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 6
	}
	if c.MaxEmbedChars <= 0 {
		c.MaxEmbedChars = 32000
	}
	return c
}

// JobsConfig contains job pipeline settings.
type JobsConfig struct {
	MaxTopicChars   int           `mapstructure:"max_topic_chars"`
	RetrieveTimeout time.Duration `mapstructure:"retrieve_timeout"`
	ResearchTimeout time.Duration `mapstructure:"research_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IndexTimeout    time.Duration `mapstructure:"index_timeout"`
	Stream          string        `mapstructure:"stream"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	ReclaimMinIdle  time.Duration `mapstructure:"reclaim_min_idle"`
}

// Normalize applies defaults for unset job pipeline values.
func (j JobsConfig) Normalize() JobsConfig {
	if j.MaxTopicChars <= 0 {
		j.MaxTopicChars = 512
	}
	if j.RetrieveTimeout <= 0 {
		j.RetrieveTimeout = 30 * time.Second
	}
	if j.ResearchTimeout <= 0 {
		j.ResearchTimeout = 3 * time.Minute
	}
	if j.WriteTimeout <= 0 {
		j.WriteTimeout = 2 * time.Minute
	}
	if j.IndexTimeout <= 0 {
		j.IndexTimeout = time.Minute
	}
	if j.Stream == "" {
		j.Stream = "job.enqueued"
	}
	if j.ConsumerGroup == "" {
		j.ConsumerGroup = "job-workers"
	}
	if j.ReclaimInterval <= 0 {
		j.ReclaimInterval = 30 * time.Second
	}
	if j.ReclaimMinIdle <= 0 {
		j.ReclaimMinIdle = 5 * time.Minute
	}
	return j
}

// LoadConfig loads config from file with COGNITO_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.5)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("tools.web_search.provider", "serper")
	viper.SetDefault("tools.web_search.max_results", 5)
	viper.SetDefault("tools.web_search.timeout", "15s")
	viper.SetDefault("tools.web_search.max_attempts", 3)
	viper.SetDefault("tools.web_search.retry_backoff", "500ms")
	viper.SetDefault("tools.web_fetch.fetcher", "chromedp")
	viper.SetDefault("tools.web_fetch.timeout", "15s")
	viper.SetDefault("tools.web_fetch.max_chars", 20000)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("COGNITO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Memory.Semantic = config.Memory.Semantic.Normalize()
	config.Jobs = config.Jobs.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Tools.WebSearch.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
