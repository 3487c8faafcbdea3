package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Search   SearchConfig   `mapstructure:"search"`
}

// LLMConfig holds the inference backend configuration
type LLMConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig points at the SQLite file backing chat history.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig sets the minimum log level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SearchConfig holds the result cap used when a search request gives none.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "http://localhost:1234/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "local-model")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.system_prompt", "You are a helpful assistant.")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("database.path", "chatd.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("search.default_limit", 10)
}

// Load reads the file named by CONFIG_PATH, or config.yaml in the working
// directory when unset.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile reads configuration from path. An empty path searches for
// config.yaml in the working directory; a missing config.yaml is not an
// error. CHATD_* environment variables override file values
// (CHATD_LLM_BASE_URL overrides llm.base_url).
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if config.Search.DefaultLimit <= 0 {
		config.Search.DefaultLimit = 10
	}

	return &config, nil
}
