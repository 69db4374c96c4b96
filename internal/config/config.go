// Package config loads runtime settings from Viper (environment variables
// prefixed MMBRIDGE_ and an optional mmbridge.yaml).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full runtime configuration.
type Settings struct {
	Server     ServerSettings
	Mattermost MattermostSettings
	Redis      RedisSettings
	DataDir    string
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// MattermostSettings configures the remote chat server connection.
type MattermostSettings struct {
	// Host is the Mattermost server base URL.
	Host string
	// BotToken authenticates the bridge's bot identity.
	BotToken string
	// WebhookHost is the public root URL Mattermost calls back on; it
	// becomes the manifest's http.root_url.
	WebhookHost string
	// Timeout bounds each API call.
	Timeout time.Duration
}

// RedisSettings configures the shared sync-marker backend. An empty Addr
// selects the in-process marker instead.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// Load reads settings from Viper. Defaults suit a local single-node run;
// the Mattermost host and bot token have no defaults and must be set
// before the bridge can talk to a server.
func Load() Settings {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.cors_origins", []string{"*"})
	viper.SetDefault("mattermost.timeout", "10s")

	return Settings{
		Server: ServerSettings{
			Host:            viper.GetString("server.host"),
			Port:            viper.GetInt("server.port"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			CORSOrigins:     viper.GetStringSlice("server.cors_origins"),
		},
		Mattermost: MattermostSettings{
			Host:        viper.GetString("mattermost.host"),
			BotToken:    viper.GetString("mattermost.bot_token"),
			WebhookHost: viper.GetString("mattermost.webhook_host"),
			Timeout:     viper.GetDuration("mattermost.timeout"),
		},
		Redis: RedisSettings{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		DataDir: viper.GetString("data_dir"),
	}
}

// Validate checks the settings needed to reach the Mattermost server.
func (s Settings) Validate() error {
	if s.Mattermost.Host == "" {
		return fmt.Errorf("mattermost.host is required")
	}
	if s.Mattermost.BotToken == "" {
		return fmt.Errorf("mattermost.bot_token is required")
	}
	return nil
}
