package config

// Configuration types

type Config struct {
	Name      string           // Derived from filename (without .yml extension)
	URL       string           `yaml:"url"`
	Settings  ConfigSettings   `yaml:"settings"`
	Schedules []ConfigSchedule `yaml:"schedules"`
}

type ConfigSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	Timeout         int  `yaml:"timeout"`          // seconds
}

type ConfigSchedule struct {
	Name            string   `yaml:"name"`
	Mode            string   `yaml:"mode"` // immediate, interval, fixed_times
	IntervalMinutes int      `yaml:"interval_minutes"`
	FixedTimes      []string `yaml:"fixed_times"` // "HH:MM"
	Targets         []string `yaml:"targets"`
	RequireApproval bool     `yaml:"require_approval"`
	Enabled         *bool    `yaml:"enabled"` // nil means enabled
}

func (cs ConfigSchedule) IsEnabled() bool {
	return cs.Enabled == nil || *cs.Enabled
}
