package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Watch re-decodes the configuration whenever the config file changes and
// hands a freshly allocated value to onChange. Requires a prior LoadConfig that found a file.
func Watch(logger zerolog.Logger, onChange func(*Config)) {
	viper.OnConfigChange(reloadHandler(logger, onChange))
	viper.WatchConfig()
}

func reloadHandler(logger zerolog.Logger, onChange func(*Config)) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode()
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("config reload failed; keeping previous values")
			return
		}
		logger.Info().Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	}
}
