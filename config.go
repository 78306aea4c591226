package mirror

import (
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/utils"
	"github.com/pkg/errors"
)

// EnvConfig is the process level configuration of a mirror daemon.
type EnvConfig struct {
	Name        string     `env:"MIRROR_NAME" envDefault:"mirror"`
	JournalDir  string     `env:"MIRROR_JOURNAL_DIR"`
	JournalSync bool       `env:"MIRROR_JOURNAL_SYNC"`
	RecentLimit int        `env:"MIRROR_RECENT_LIMIT" envDefault:"1024"`
	LogLevel    slog.Level `env:"MIRROR_LOG_LEVEL" envDefault:"INFO"`
	Listen      []string   `env:"MIRROR_LISTEN" envSeparator:","`
	Connect     []string   `env:"MIRROR_CONNECT" envSeparator:","`
	MetricsAddr string     `env:"MIRROR_METRICS_ADDR"`

	// Types are group container types as "tag=name:layout".
	Types []string `env:"MIRROR_TYPES" envSeparator:";"`
}

// ParseEnv loads EnvConfig from MIRROR_* variables.
func ParseEnv() (cfg EnvConfig, err error) {
	if err = env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}

// Registry registers the configured group types.
func (cfg EnvConfig) Registry() (*Registry, error) {
	reg := NewRegistry()
	for _, t := range cfg.Types {
		spec, err := elements.ParseTypeSpec(t)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec.Tag, spec.Name, spec.Factory()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Options converts the config into mirror options with a stderr logger.
func (cfg EnvConfig) Options() Options {
	return Options{
		Name:        cfg.Name,
		JournalDir:  cfg.JournalDir,
		JournalSync: cfg.JournalSync,
		RecentLimit: cfg.RecentLimit,
		Logger:      utils.NewDefaultLogger(cfg.LogLevel),
	}
}
