package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/metrics"
	"github.com/relieflab/fieldsync/internal/models"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// HistoryLimit bounds retained pass metrics; older entries drop FIFO.
const HistoryLimit = 50

// SyncQueue is the queue surface the orchestrator drives.
type SyncQueue interface {
	Eligible(minScore int) ([]*models.QueueRecord, error)
	Attempt(ctx context.Context, rec *models.QueueRecord) error
	Depth() (int, error)
}

// ConnectivitySource provides the suitability gate inputs.
type ConnectivitySource interface {
	Status() models.ConnectivityStatus
	IsGoodForSync() bool
	SuitabilityScore() int
	OnChange(cb func(models.ConnectivityStatus)) func()
}

// BackgroundTrigger is the optional host-level mechanism that can wake
// the orchestrator when connectivity returns. The orchestrator works
// correctly without it, via its own timer and explicit triggers.
type BackgroundTrigger interface {
	OnWake(cb func()) (unsubscribe func())
	Pause()
	Resume()
}

// NopTrigger is selected when the host provides no background trigger.
type NopTrigger struct{}

func (NopTrigger) OnWake(func()) func() { return func() {} }
func (NopTrigger) Pause()               {}
func (NopTrigger) Resume()              {}

// PassMetrics accumulates the outcome of one sync pass.
type PassMetrics struct {
	Reason      string    `json:"reason"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Aborted     bool      `json:"aborted"`
	Errors      []string  `json:"errors,omitempty"`
}

// Orchestrator schedules, batches, throttles, and retries sync passes.
type Orchestrator struct {
	settings models.BackgroundSyncSettings
	queue    SyncQueue
	conn     ConnectivitySource
	trigger  BackgroundTrigger
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu             sync.Mutex
	state          State
	backoff        Backoff
	history        []PassMetrics
	passInProgress bool
	wasSuitable    bool
	running        bool

	onComplete []func(PassMetrics)
	onError    []func(error)

	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubConn   func()
	unsubWake   func()
}

// NewOrchestrator creates an Orchestrator. trigger and m may be nil.
func NewOrchestrator(settings models.BackgroundSyncSettings, q SyncQueue, conn ConnectivitySource, trigger BackgroundTrigger, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if trigger == nil {
		trigger = NopTrigger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		settings: settings,
		queue:    q,
		conn:     conn,
		trigger:  trigger,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		state:    StateIdle,
		backoff:  NewBackoff(),
		stopCh:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnPassComplete registers a completion notification callback.
func (o *Orchestrator) OnPassComplete(cb func(PassMetrics)) {
	o.mu.Lock()
	o.onComplete = append(o.onComplete, cb)
	o.mu.Unlock()
}

// OnError registers a pass-level error callback.
func (o *Orchestrator) OnError(cb func(error)) {
	o.mu.Lock()
	o.onError = append(o.onError, cb)
	o.mu.Unlock()
}

// History returns the retained pass metrics, oldest first.
func (o *Orchestrator) History() []PassMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PassMetrics, len(o.history))
	copy(out, o.history)
	return out
}

// BackoffState returns the current backoff value.
func (o *Orchestrator) BackoffState() Backoff {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.backoff
}

// Start begins automatic scheduling: a recurring timer at the
// configured interval plus connectivity-recovery triggers.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.wasSuitable = o.conn.IsGoodForSync()
	o.mu.Unlock()

	o.unsubConn = o.conn.OnChange(func(status models.ConnectivityStatus) {
		o.handleConnectivityChange(ctx)
	})

	o.unsubWake = o.trigger.OnWake(func() {
		go o.TriggerImmediateSync(ctx, "host_wake")
	})

	o.wg.Add(1)
	go o.timerLoop(ctx)

	o.logger.Info("sync orchestrator started",
		zap.Int("interval_minutes", o.settings.SyncIntervalMinutes),
		zap.Int("max_concurrent", o.settings.MaxConcurrentOperations))
}

// Stop halts scheduling and waits for the timer loop to exit. In-flight
// attempts run to completion or transport timeout.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	close(o.stopCh)
	if o.unsubConn != nil {
		o.unsubConn()
	}
	if o.unsubWake != nil {
		o.unsubWake()
	}
	o.wg.Wait()

	o.logger.Info("sync orchestrator stopped")
}

// Pause suspends triggering regardless of schedule and signals the
// host-level mechanism to stand down.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.state = StatePaused
	o.mu.Unlock()
	o.trigger.Pause()
	o.logger.Info("sync orchestrator paused")
}

// Resume re-enables triggering and starts a pass if conditions are
// currently suitable.
func (o *Orchestrator) Resume(ctx context.Context) {
	o.mu.Lock()
	if o.state == StatePaused {
		o.state = StateIdle
	}
	o.mu.Unlock()
	o.trigger.Resume()
	o.logger.Info("sync orchestrator resumed")

	o.TriggerImmediateSync(ctx, "resume")
}

func (o *Orchestrator) timerLoop(ctx context.Context) {
	defer o.wg.Done()

	interval := time.Duration(o.settings.SyncIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			go o.TriggerImmediateSync(ctx, "scheduled")
		}
	}
}

// handleConnectivityChange triggers an immediate pass when the
// suitability gate newly passes after a connectivity recovery.
func (o *Orchestrator) handleConnectivityChange(ctx context.Context) {
	suitable := o.conn.IsGoodForSync()

	o.mu.Lock()
	recovered := suitable && !o.wasSuitable
	o.wasSuitable = suitable
	o.mu.Unlock()

	if recovered {
		go o.TriggerImmediateSync(ctx, "connectivity_recovery")
	}
}

// TriggerImmediateSync runs one full sync pass unless the suitability
// gate rejects current conditions. Returns the pass metrics, or nil if
// no pass ran.
func (o *Orchestrator) TriggerImmediateSync(ctx context.Context, reason string) *PassMetrics {
	if ok, why := o.gate(); !ok {
		o.logger.Debug("sync trigger rejected",
			zap.String("reason", reason),
			zap.String("gate", why))
		return nil
	}

	o.mu.Lock()
	if o.passInProgress {
		o.mu.Unlock()
		return nil
	}
	o.passInProgress = true
	o.state = StateRunning
	o.mu.Unlock()

	pass := o.runPass(ctx, reason)

	o.mu.Lock()
	o.passInProgress = false
	if o.state == StateRunning {
		o.state = StateIdle
	}
	o.mu.Unlock()

	return pass
}

// gate evaluates whether a sync pass may proceed right now.
func (o *Orchestrator) gate() (bool, string) {
	if !o.settings.Enabled {
		return false, "disabled"
	}

	o.mu.Lock()
	paused := o.state == StatePaused
	coolingDown := o.backoff.CoolingDown(o.now())
	o.mu.Unlock()

	if paused {
		return false, "paused"
	}
	if coolingDown {
		return false, "backoff cooldown"
	}
	if !o.conn.IsGoodForSync() {
		return false, "connectivity unsuitable"
	}

	status := o.conn.Status()
	charging := status.IsCharging != nil && *status.IsCharging
	if o.settings.SyncOnlyWhenCharging && !charging {
		return false, "not charging"
	}
	if status.BatteryLevel != nil && *status.BatteryLevel < o.settings.MinimumBatteryLevel && !charging {
		return false, "battery below minimum"
	}

	return true, ""
}

// suitableForNextBatch re-checks conditions between batches. Backoff is
// not consulted here; it only gates pass starts.
func (o *Orchestrator) suitableForNextBatch() bool {
	if !o.conn.IsGoodForSync() {
		return false
	}
	status := o.conn.Status()
	charging := status.IsCharging != nil && *status.IsCharging
	if o.settings.SyncOnlyWhenCharging && !charging {
		return false
	}
	if status.BatteryLevel != nil && *status.BatteryLevel < o.settings.MinimumBatteryLevel && !charging {
		return false
	}
	return true
}

// runPass executes the batch-processing algorithm over currently
// eligible queue records.
func (o *Orchestrator) runPass(ctx context.Context, reason string) *PassMetrics {
	pass := PassMetrics{Reason: reason, StartedAt: o.now()}

	defer func() {
		if r := recover(); r != nil {
			// The orchestrator faulting must not crash the host.
			err := fmt.Errorf("sync pass panicked: %v", r)
			o.logger.Error("sync pass fault", zap.Error(err))
			o.recordFailure(&pass, err)
			o.finishPass(&pass)
		}
	}()

	items, err := o.queue.Eligible(o.settings.PriorityThreshold)
	if err != nil {
		o.recordFailure(&pass, err)
		o.finishPass(&pass)
		return &pass
	}

	// Records past the retry ceiling stay queued but are not attempted.
	eligible := items[:0]
	for _, rec := range items {
		if rec.RetryCount < o.settings.MaxRetryAttempts {
			eligible = append(eligible, rec)
		}
	}

	o.logger.Info("sync pass started",
		zap.String("reason", reason),
		zap.Int("eligible", len(eligible)))

	batchSize := o.settings.MaxConcurrentOperations
	for start := 0; start < len(eligible); start += batchSize {
		if start > 0 && !o.suitableForNextBatch() {
			pass.Aborted = true
			o.logger.Info("sync pass aborted, conditions degraded",
				zap.Int("remaining", len(eligible)-start))
			break
		}

		end := start + batchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		o.runBatch(ctx, eligible[start:end], &pass)
	}

	o.finishPass(&pass)
	return &pass
}

// runBatch dispatches all items concurrently and awaits every outcome.
// A single item's failure never aborts the batch.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*models.QueueRecord, pass *PassMetrics) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, rec := range batch {
		wg.Add(1)
		go func(rec *models.QueueRecord) {
			defer wg.Done()
			err := o.queue.Attempt(ctx, rec)

			mu.Lock()
			pass.Processed++
			if err != nil {
				pass.Failed++
				pass.Errors = append(pass.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			} else {
				pass.Succeeded++
			}
			mu.Unlock()
		}(rec)
	}

	wg.Wait()
}

func (o *Orchestrator) recordFailure(pass *PassMetrics, err error) {
	pass.Errors = append(pass.Errors, err.Error())

	o.mu.Lock()
	callbacks := make([]func(error), len(o.onError))
	copy(callbacks, o.onError)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(err)
	}
}

// finishPass folds pass results into backoff state, metrics, and the
// bounded history, then emits the completion notification.
func (o *Orchestrator) finishPass(pass *PassMetrics) {
	pass.CompletedAt = o.now()

	failed := pass.Failed > 0 || pass.Aborted || len(pass.Errors) > 0

	o.mu.Lock()
	if failed {
		o.backoff = o.backoff.Fail(o.now())
	} else {
		o.backoff = o.backoff.Reset()
	}
	backoff := o.backoff

	o.history = append(o.history, *pass)
	if len(o.history) > HistoryLimit {
		o.history = o.history[len(o.history)-HistoryLimit:]
	}
	callbacks := make([]func(PassMetrics), len(o.onComplete))
	copy(callbacks, o.onComplete)
	o.mu.Unlock()

	o.publishMetrics(pass, backoff)

	o.logger.Info("sync pass completed",
		zap.String("reason", pass.Reason),
		zap.Int("processed", pass.Processed),
		zap.Int("succeeded", pass.Succeeded),
		zap.Int("failed", pass.Failed),
		zap.Bool("aborted", pass.Aborted))

	for _, cb := range callbacks {
		cb(*pass)
	}
}

func (o *Orchestrator) publishMetrics(pass *PassMetrics, backoff Backoff) {
	if o.metrics == nil {
		return
	}

	result := "success"
	if pass.Failed > 0 || len(pass.Errors) > 0 {
		result = "failure"
	} else if pass.Aborted {
		result = "aborted"
	}

	o.metrics.PassesTotal.WithLabelValues(result).Inc()
	o.metrics.PassDuration.Observe(pass.CompletedAt.Sub(pass.StartedAt).Seconds())
	o.metrics.ItemsProcessedTotal.Add(float64(pass.Processed))
	o.metrics.ItemsSucceededTotal.Add(float64(pass.Succeeded))
	o.metrics.ItemsFailedTotal.Add(float64(pass.Failed))
	o.metrics.BackoffMultiplier.Set(float64(backoff.Multiplier))
	o.metrics.SuitabilityScore.Set(float64(o.conn.SuitabilityScore()))

	if depth, err := o.queue.Depth(); err == nil {
		o.metrics.QueueDepth.Set(float64(depth))
	}
}
