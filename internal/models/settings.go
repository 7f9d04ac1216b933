package models

// BackgroundSyncSettings is the operator-facing tuning surface for the
// background sync orchestrator.
type BackgroundSyncSettings struct {
	Enabled                 bool `yaml:"enabled" json:"enabled"`
	SyncOnlyWhenCharging    bool `yaml:"sync_only_when_charging" json:"sync_only_when_charging"`
	MinimumBatteryLevel     int  `yaml:"minimum_battery_level" json:"minimum_battery_level"`
	MaxConcurrentOperations int  `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`
	SyncIntervalMinutes     int  `yaml:"sync_interval_minutes" json:"sync_interval_minutes"`
	MaxRetryAttempts        int  `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	PriorityThreshold       int  `yaml:"priority_threshold" json:"priority_threshold"`
}

// DefaultBackgroundSyncSettings returns the default sync policy.
func DefaultBackgroundSyncSettings() BackgroundSyncSettings {
	return BackgroundSyncSettings{
		Enabled:                 true,
		SyncOnlyWhenCharging:    false,
		MinimumBatteryLevel:     20,
		MaxConcurrentOperations: 3,
		SyncIntervalMinutes:     5,
		MaxRetryAttempts:        5,
		PriorityThreshold:       0,
	}
}
