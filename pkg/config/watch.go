package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// WatchLogLevel re-reads LOG_LEVEL from envFile whenever the file changes
// and applies it to logger. It blocks until ctx is done. A LOG_LEVEL set in
// the process environment always wins, so nothing is watched in that case.
func WatchLogLevel(ctx context.Context, envFile string, logger *logrus.Logger) error {
	if envFile == "" {
		return nil
	}
	if _, ok := os.LookupEnv("LOG_LEVEL"); ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace the file, so watch the directory and filter by name
	target := filepath.Clean(envFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			level, err := readLogLevel(target)
			if err != nil {
				logger.WithError(err).Warn("ignoring env file change")
				continue
			}
			if level != logger.GetLevel() {
				logger.SetLevel(level)
				logger.WithField("level", level.String()).Info("log level changed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("env file watcher error")
		}
	}
}

func readLogLevel(envFile string) (logrus.Level, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.SetDefault("log_level", "info")
	if err := v.ReadInConfig(); err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(v.GetString("log_level"))
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return level, nil
}
