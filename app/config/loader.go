package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedcourier/feedcourier/app/database"
)

type Loader struct {
	feedsDir string
	cache    map[string]*Config
	mu       sync.RWMutex
}

func NewLoader(feedsDir string) *Loader {
	return &Loader{
		feedsDir: feedsDir,
		cache:    make(map[string]*Config),
	}
}

func (l *Loader) Run() error {
	if _, err := os.Stat(l.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(l.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		// Derive feed name from filename (remove .yml extension)
		fileName := filepath.Base(file)
		feedName := fileName[:len(fileName)-4]

		config, err := l.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", feedName, "enabled", config.Settings.Enabled, "schedules", len(config.Schedules))
	}

	return nil
}

func (l *Loader) LoadConfig(feedName string) (*Config, error) {
	configFile := l.getConfigFilePath(feedName)
	feedConfig, err := l.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	// Set feed name from parameter
	feedConfig.Name = feedName

	if err := l.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[feedConfig.Name] = feedConfig

	return feedConfig, nil
}

func (l *Loader) GetConfig(feedName string) (*Config, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	feedConfig, ok := l.cache[feedName]
	if !ok {
		return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
	}
	return feedConfig, nil
}

func (l *Loader) GetConfigs() map[string]*Config {
	l.mu.RLock()
	defer l.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(l.cache))
	for k, v := range l.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (l *Loader) GetEnabledConfigs() map[string]*Config {
	l.mu.RLock()
	defer l.mu.RUnlock()

	enabledConfigs := make(map[string]*Config)
	for k, v := range l.cache {
		if v.Settings.Enabled {
			enabledConfigs[k] = v
		}
	}
	return enabledConfigs
}

func (l *Loader) GetConfigCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

func (l *Loader) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if feedConfig.Settings.RefreshInterval == 0 {
		feedConfig.Settings.RefreshInterval = 3600
	}
	if feedConfig.Settings.Timeout == 0 {
		feedConfig.Settings.Timeout = 30
	}

	return &feedConfig, nil
}

func (l *Loader) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	requiredFeedFields := map[string]string{
		"feed name": feedConfig.Name,
		"feed URL":  feedConfig.URL,
	}

	for fieldName, fieldValue := range requiredFeedFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"refresh interval": feedConfig.Settings.RefreshInterval,
		"timeout":          feedConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	seenNames := make(map[string]bool)
	for i, schedule := range feedConfig.Schedules {
		if schedule.Name == "" {
			return fmt.Errorf("schedule at index %d must have a name", i)
		}
		if seenNames[schedule.Name] {
			return fmt.Errorf("duplicate schedule name: %s", schedule.Name)
		}
		seenNames[schedule.Name] = true

		if err := validateSchedule(schedule); err != nil {
			return fmt.Errorf("schedule '%s': %w", schedule.Name, err)
		}
	}

	return nil
}

func validateSchedule(schedule ConfigSchedule) error {
	switch schedule.Mode {
	case database.ModeImmediate:
		// No timer parameters needed
	case database.ModeInterval:
		if schedule.IntervalMinutes <= 0 {
			return fmt.Errorf("interval_minutes must be positive for interval mode")
		}
	case database.ModeFixedTimes:
		if len(schedule.FixedTimes) == 0 {
			return fmt.Errorf("fixed_times mode requires at least one time")
		}
		for _, ft := range schedule.FixedTimes {
			if _, err := time.Parse("15:04", ft); err != nil {
				return fmt.Errorf("invalid fixed time '%s': expected HH:MM", ft)
			}
		}
	default:
		return fmt.Errorf("invalid mode: %s", schedule.Mode)
	}

	for i, target := range schedule.Targets {
		if target == "" {
			return fmt.Errorf("target at index %d is empty", i)
		}
	}

	return nil
}

func (l *Loader) getConfigFilePath(feedName string) string {
	return filepath.Join(l.feedsDir, feedName+".yml")
}
