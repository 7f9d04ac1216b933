package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/models"
	"github.com/relieflab/fieldsync/internal/remote"
)

// Prober performs an active connectivity test against a lightweight
// remote endpoint.
type Prober interface {
	Probe(ctx context.Context) (*remote.ProbeResult, error)
}

// Monitor owns the connectivity snapshot. It recomputes the snapshot on
// every relevant platform signal and notifies subscribers only when the
// derived status meaningfully changed, which debounces platform event
// storms.
type Monitor struct {
	mu      sync.RWMutex
	network NetworkInfoProvider
	power   PowerStatusProvider
	prober  Prober
	logger  *zap.Logger

	status      models.ConnectivityStatus
	lastEmitted *models.ConnectivityStatus

	subs      map[int]func(models.ConnectivityStatus)
	nextSubID int
}

// NewMonitor creates a Monitor. Nil providers select the no-op stubs.
func NewMonitor(network NetworkInfoProvider, power PowerStatusProvider, prober Prober, logger *zap.Logger) *Monitor {
	if network == nil {
		network = NopNetworkInfo{}
	}
	if power == nil {
		power = NopPowerStatus{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		network: network,
		power:   power,
		prober:  prober,
		logger:  logger,
		subs:    make(map[int]func(models.ConnectivityStatus)),
	}
	// Assume online until the platform says otherwise.
	m.status = m.compute(true, time.Now().Unix())
	return m
}

// Status returns the last computed snapshot. Never blocks.
func (m *Monitor) Status() models.ConnectivityStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnChange registers a callback and returns its unsubscribe handle. The
// callback is invoked once immediately with the current status, then on
// every meaningful change.
func (m *Monitor) OnChange(cb func(models.ConnectivityStatus)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = cb
	current := m.status
	m.mu.Unlock()

	cb(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SetOnline feeds the platform's online/offline transition signal.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	lastConnected := m.status.LastConnected
	if online {
		lastConnected = time.Now().Unix()
	}
	m.status = m.compute(online, lastConnected)
	m.notifyLocked()
	m.mu.Unlock()
}

// Refresh recomputes the snapshot from the capability providers,
// keeping the current online state.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	m.status = m.compute(m.status.IsOnline, m.status.LastConnected)
	m.notifyLocked()
	m.mu.Unlock()
}

// compute derives a fresh snapshot. Caller holds the lock (or is the
// constructor).
func (m *Monitor) compute(online bool, lastConnected int64) models.ConnectivityStatus {
	status := models.ConnectivityStatus{
		IsOnline:       online,
		ConnectionType: models.ConnectionUnknown,
		LastConnected:  lastConnected,
	}

	info, haveNetwork := m.network.NetworkInfo()
	if haveNetwork {
		if info.Type != "" {
			status.ConnectionType = info.Type
		}
		status.NetworkSpeedMbps = info.DownlinkMbps
	}

	if !online {
		status.ConnectionQuality = models.QualityOffline
	} else {
		status.ConnectionQuality = deriveQuality(info, haveNetwork)
	}

	if power, ok := m.power.PowerStatus(); ok {
		status.BatteryLevel = power.Level
		status.IsCharging = power.Charging
	}

	return status
}

// deriveQuality classifies link quality primarily from the reported
// effective network class, falling back to the measured downlink
// estimate when the class is unavailable.
func deriveQuality(info NetworkInfo, haveNetwork bool) models.ConnectionQuality {
	if haveNetwork && info.EffectiveClass != "" {
		switch info.EffectiveClass {
		case "4g":
			return models.QualityExcellent
		case "3g":
			return models.QualityGood
		default: // "2g", "slow-2g"
			return models.QualityPoor
		}
	}

	if haveNetwork && info.DownlinkMbps != nil {
		switch mbps := *info.DownlinkMbps; {
		case mbps >= 10:
			return models.QualityExcellent
		case mbps >= 1.5:
			return models.QualityGood
		default:
			return models.QualityPoor
		}
	}

	// No capability: degrade to a neutral classification, never an error.
	return models.QualityGood
}

// notifyLocked emits the current status to subscribers when it differs
// meaningfully from the last emitted snapshot. Caller holds the lock.
func (m *Monitor) notifyLocked() {
	if m.lastEmitted != nil && !m.status.Meaningful(*m.lastEmitted) {
		return
	}

	emitted := m.status
	m.lastEmitted = &emitted

	cbs := make([]func(models.ConnectivityStatus), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}

	m.logger.Debug("connectivity changed",
		zap.Bool("online", emitted.IsOnline),
		zap.String("type", string(emitted.ConnectionType)),
		zap.String("quality", string(emitted.ConnectionQuality)))

	// Callbacks run outside the lock to avoid re-entrancy deadlocks.
	go func() {
		for _, cb := range cbs {
			cb(emitted)
		}
	}()
}

// SuitabilityScore computes the 0-100 sync-suitability score from the
// current snapshot. Offline is always zero.
func (m *Monitor) SuitabilityScore() int {
	return Score(m.Status())
}

// Score computes the suitability score for a given snapshot.
func Score(s models.ConnectivityStatus) int {
	if !s.IsOnline {
		return 0
	}

	score := 30

	switch s.ConnectionQuality {
	case models.QualityExcellent:
		score += 40
	case models.QualityGood:
		score += 25
	case models.QualityPoor:
		score += 5
	}

	switch s.ConnectionType {
	case models.ConnectionWifi, models.ConnectionEthernet:
		score += 20
	case models.ConnectionCellular:
		score += 10
	default:
		score += 5
	}

	charging := s.IsCharging != nil && *s.IsCharging
	if charging {
		score += 10
	} else if s.BatteryLevel != nil {
		switch level := *s.BatteryLevel; {
		case level < 20:
			score -= 15
		case level < 50:
			score -= 5
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// IsGoodForSync reports whether a sync attempt is currently worthwhile.
func (m *Monitor) IsGoodForSync() bool {
	s := m.Status()
	if !s.IsOnline || s.ConnectionQuality == models.QualityPoor {
		return false
	}
	charging := s.IsCharging != nil && *s.IsCharging
	if s.BatteryLevel != nil && *s.BatteryLevel < 15 && !charging {
		return false
	}
	return true
}

// Test runs an active probe against the remote probe endpoint and folds
// a successful measurement back into the snapshot.
func (m *Monitor) Test(ctx context.Context) (*remote.ProbeResult, error) {
	if m.prober == nil {
		return &remote.ProbeResult{Success: false}, nil
	}

	result, err := m.prober.Probe(ctx)
	if err != nil {
		return nil, err
	}

	if result.Success && result.EstimatedMbps != nil {
		m.mu.Lock()
		m.status.NetworkSpeedMbps = result.EstimatedMbps
		m.notifyLocked()
		m.mu.Unlock()
	}

	return result, nil
}
