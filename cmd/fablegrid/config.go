// Copyright 2026 The Fablegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the name of the config file.
const DefaultConfigFileName = "fablegrid"

// Config holds all configuration for the Fablegrid server.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Model3D     Model3DConfig     `mapstructure:"model3d"`
	World       WorldConfig       `mapstructure:"world"`
	Game        GameConfig        `mapstructure:"game"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	Host         string     `mapstructure:"host"`
	Port         int        `mapstructure:"port"`
	APIKey       string     `mapstructure:"api_key"`
	JWTSecret    string     `mapstructure:"jwt_secret"`
	RoomCapacity int        `mapstructure:"room_capacity"`
	CORS         CORSConfig `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration for the HTTP endpoints.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LLMConfig holds the text and image generation provider settings.
type LLMConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
	MaxTokens       int    `mapstructure:"max_tokens"`

	// ImageProvider selects openai, flux, or disabled.
	ImageProvider string `mapstructure:"image_provider"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	FluxAPIKey    string `mapstructure:"flux_api_key"`
}

// RedisConfig holds the transient store connection.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig holds the durable store connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// ObjectStoreConfig holds the public asset storage settings.
type ObjectStoreConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	ServiceKey string `mapstructure:"service_key"`
}

// Model3DConfig holds the image-to-3D provider settings.
type Model3DConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// WorldConfig holds generation parameters.
type WorldConfig struct {
	// Seed drives the biome noise field; worlds with the same seed lay the
	// same biomes.
	Seed int64 `mapstructure:"seed"`
	// DefaultPremise is the world premise used when seed generation fails.
	DefaultPremise string `mapstructure:"default_premise"`
}

// GameConfig holds gameplay tunables.
type GameConfig struct {
	AllowAnyCombatMove  bool `mapstructure:"allow_any_combat_move"`
	RateLimit           int  `mapstructure:"rate_limit"`
	RateIntervalMinutes int  `mapstructure:"rate_interval_minutes"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file, environment, and flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/fablegrid/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; defaults + env vars + flags apply.
	}

	viper.SetEnvPrefix("FABLEGRID")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.room_capacity", 8)

	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.allow_credentials", false)
	viper.SetDefault("server.cors.max_age", 86400)

	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.image_provider", "openai")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("world.seed", 1)
	viper.SetDefault("world.default_premise",
		"A fractured realm where forgotten roads knit themselves back together as travelers walk them.")

	viper.SetDefault("game.allow_any_combat_move", false)
	viper.SetDefault("game.rate_limit", 50)
	viper.SetDefault("game.rate_interval_minutes", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
