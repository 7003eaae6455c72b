package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/moderation"
)

const envPrefix = "NG_"

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		DefaultLanguage  string   `env:"LANG,default=en"`
		EnabledHandlers  []string `env:"HANDLERS,default=guard"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.ngguard"`
		Workers          int      `env:"WORKERS,default=8"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		APIRequestsPS    float64  `env:"API_RPS,default=25"`
		Blacklist        []string `env:"BLACKLIST,delimiter=;"`
		Moderation       Moderation
	}

	Moderation struct {
		SpamInterval     time.Duration   `env:"MOD_SPAM_INTERVAL,default=10s"`
		WarningThreshold int             `env:"MOD_WARNING_THRESHOLD,default=5"`
		WarningCooldown  time.Duration   `env:"MOD_WARNING_COOLDOWN,default=30s"`
		MuteTiers        []time.Duration `env:"MOD_MUTE_TIERS,default=30s,60s,120s"`
		BanThreshold     int             `env:"MOD_BAN_THRESHOLD,default=4"`
		OffenseDecay     time.Duration   `env:"MOD_OFFENSE_DECAY,default=0s"`
		GatewayTimeout   time.Duration   `env:"MOD_GATEWAY_TIMEOUT,default=10s"`
		ForceMuteDefault time.Duration   `env:"MOD_FORCEMUTE_DEFAULT,default=30s"`
		SweepInterval    time.Duration   `env:"MOD_SWEEP_INTERVAL,default=10m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads the process configuration once. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			globalErr = fmt.Errorf("load .env: %w", err)
			return
		}
		cfg, err := Process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// Process builds a Config from NG_ prefixed variables of lookuper.
func Process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(envPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

func (m Moderation) Policy() moderation.Policy {
	return moderation.Policy{
		SpamInterval:     m.SpamInterval,
		WarningThreshold: m.WarningThreshold,
		WarningCooldown:  m.WarningCooldown,
		MuteTiers:        append([]time.Duration(nil), m.MuteTiers...),
		BanThreshold:     m.BanThreshold,
		OffenseDecay:     m.OffenseDecay,
		GatewayTimeout:   m.GatewayTimeout,
	}
}

func (c Config) HandlerEnabled(name string) bool {
	for _, h := range c.EnabledHandlers {
		if h == name {
			return true
		}
	}
	return false
}
