package models

// ConnectionType is the transport the device is currently using.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
	ConnectionUnknown  ConnectionType = "unknown"
)

// ConnectionQuality is the coarse link quality classification.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityOffline   ConnectionQuality = "offline"
)

// ConnectivityStatus is a point-in-time snapshot of the device's network
// and power conditions. It is recomputed in memory and never persisted.
// Optional fields are nil when the platform capability is absent.
type ConnectivityStatus struct {
	IsOnline          bool              `json:"is_online"`
	ConnectionType    ConnectionType    `json:"connection_type"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	LastConnected     int64             `json:"last_connected,omitempty"`
	NetworkSpeedMbps  *float64          `json:"network_speed_mbps,omitempty"`
	BatteryLevel      *int              `json:"battery_level,omitempty"` // percent 0-100
	IsCharging        *bool             `json:"is_charging,omitempty"`
}

// Meaningful compares the fields whose change warrants a notification.
// Timestamp-only churn is not meaningful.
func (s ConnectivityStatus) Meaningful(other ConnectivityStatus) bool {
	if s.IsOnline != other.IsOnline ||
		s.ConnectionType != other.ConnectionType ||
		s.ConnectionQuality != other.ConnectionQuality {
		return true
	}
	if !eqIntPtr(s.BatteryLevel, other.BatteryLevel) {
		return true
	}
	if !eqBoolPtr(s.IsCharging, other.IsCharging) {
		return true
	}
	return !eqFloatPtr(s.NetworkSpeedMbps, other.NetworkSpeedMbps)
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
