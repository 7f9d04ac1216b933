// Package connectivity observes network and power signals and computes
// a sync-suitability score for the orchestrator.
package connectivity

import "github.com/relieflab/fieldsync/internal/models"

// NetworkInfo is a snapshot of the platform's network-information
// capability.
type NetworkInfo struct {
	Type           models.ConnectionType
	EffectiveClass string // "4g", "3g", "2g", "slow-2g", or empty when unreported
	DownlinkMbps   *float64
}

// NetworkInfoProvider exposes the optional network-information
// capability. ok is false when the platform does not provide it.
type NetworkInfoProvider interface {
	NetworkInfo() (info NetworkInfo, ok bool)
}

// PowerStatus is a snapshot of the platform's power capability.
type PowerStatus struct {
	Level    *int // percent 0-100
	Charging *bool
}

// PowerStatusProvider exposes the optional power-status capability.
type PowerStatusProvider interface {
	PowerStatus() (status PowerStatus, ok bool)
}

// NopNetworkInfo is the stub selected at startup when the platform has
// no network-information capability. Absence degrades precision, never
// functionality.
type NopNetworkInfo struct{}

func (NopNetworkInfo) NetworkInfo() (NetworkInfo, bool) {
	return NetworkInfo{}, false
}

// NopPowerStatus is the stub selected when the platform has no power
// capability.
type NopPowerStatus struct{}

func (NopPowerStatus) PowerStatus() (PowerStatus, bool) {
	return PowerStatus{}, false
}

// StaticNetworkInfo reports a fixed network snapshot. Useful for tests
// and for hosts whose link never changes (ethernet-attached kiosks).
type StaticNetworkInfo struct {
	Info NetworkInfo
}

func (p StaticNetworkInfo) NetworkInfo() (NetworkInfo, bool) {
	return p.Info, true
}

// StaticPowerStatus reports a fixed power snapshot.
type StaticPowerStatus struct {
	Status PowerStatus
}

func (p StaticPowerStatus) PowerStatus() (PowerStatus, bool) {
	return p.Status, true
}
