// Package relay parses relay command configuration and starts the server.
package relay

import (
	"context"
	"flag"
	"time"

	platformcmd "github.com/louisbranch/anonrelay/internal/platform/cmd"
	server "github.com/louisbranch/anonrelay/internal/relay/app"
)

// Config holds relay command configuration. Environment values provide the
// defaults; flags override.
type Config struct {
	HTTPAddr      string        `env:"ANONRELAY_HTTP_ADDR" envDefault:":8080"`
	PathPrefix    string        `env:"ANONRELAY_PATH_PREFIX" envDefault:"relay"`
	BotToken      string        `env:"ANONRELAY_BOT_TOKEN"`
	OwnerID       int64         `env:"ANONRELAY_OWNER_ID"`
	SecretToken   string        `env:"ANONRELAY_SECRET_TOKEN"`
	PublicBaseURL string        `env:"ANONRELAY_PUBLIC_BASE_URL"`
	StoragePath   string        `env:"ANONRELAY_STORAGE_PATH" envDefault:"relay.db"`
	SweepInterval time.Duration `env:"ANONRELAY_SWEEP_INTERVAL" envDefault:"10m"`
}

// ParseConfig loads env defaults and then parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The relay HTTP listen address")
	fs.StringVar(&cfg.PathPrefix, "path-prefix", cfg.PathPrefix, "URL prefix for the relay routes")
	fs.StringVar(&cfg.BotToken, "bot-token", cfg.BotToken, "Telegram bot token")
	fs.Int64Var(&cfg.OwnerID, "owner-id", cfg.OwnerID, "Chat id of the owner account")
	fs.StringVar(&cfg.SecretToken, "secret-token", cfg.SecretToken, "Shared webhook secret")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "Public base URL used to register the webhook")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Path to the relay SQLite database")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often expired rows are swept")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the relay server.
func Run(ctx context.Context, cfg Config) error {
	return server.Run(ctx, server.Config{
		HTTPAddr:      cfg.HTTPAddr,
		PathPrefix:    cfg.PathPrefix,
		BotToken:      cfg.BotToken,
		OwnerID:       cfg.OwnerID,
		SecretToken:   cfg.SecretToken,
		PublicBaseURL: cfg.PublicBaseURL,
		StoragePath:   cfg.StoragePath,
		SweepInterval: cfg.SweepInterval,
	})
}
