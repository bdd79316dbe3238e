// Package engine wires the fusion engine's rules and window model into a
// single driver goroutine: a mailbox-fed ingest path and a cron-scheduled
// evaluation tick that dispatches per-device work across a worker pool.
//
// Rule() wiring lives here rather than in pkg/fusion itself because the
// rule implementations (pkg/fusion/rules) import pkg/fusion for its shared
// types; housing the driver in pkg/fusion would create an import cycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amoskys/amoskys/pkg/fusion"
	"github.com/amoskys/amoskys/pkg/fusion/rules"
	fusionstore "github.com/amoskys/amoskys/pkg/fusion/store"
	"github.com/amoskys/amoskys/pkg/lane"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
)

// Config configures a Driver.
type Config struct {
	WindowCap          int
	WindowTTL          time.Duration
	EvaluationSchedule string
	Workers            int
	EnabledRules       []string
	Store              *fusionstore.Store
	Metrics            *metrics.Manager
}

// Driver owns every device's correlation window and risk state behind a
// mutex; ingestion arrives over a bounded mailbox channel that Run's
// goroutine drains, and evaluation runs on a cron schedule dispatched across
// a bounded worker pool.
type Driver struct {
	cfg Config

	mu         sync.Mutex
	windows    map[string]*fusion.Window
	riskStates map[string]*fusion.RiskState
	dirty      map[string]bool

	rules []fusion.Rule

	mailbox chan fusion.TelemetryEventView
	cron    *cron.Cron
	pool    *lane.WorkerPool

	ruleErrors map[string]int
	ruleMu     sync.Mutex
}

// New builds a Driver from cfg. It does not start the mailbox drain loop or
// the cron scheduler; call Run for that.
func New(cfg Config) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	allRules := rules.All()
	selected := allRules
	if len(cfg.EnabledRules) > 0 {
		enabled := map[string]bool{}
		for _, name := range cfg.EnabledRules {
			enabled[name] = true
		}
		selected = selected[:0]
		for _, r := range allRules {
			if enabled[r.Name()] {
				selected = append(selected, r)
			}
		}
	}

	d := &Driver{
		cfg:        cfg,
		windows:    map[string]*fusion.Window{},
		riskStates: map[string]*fusion.RiskState{},
		dirty:      map[string]bool{},
		rules:      selected,
		mailbox:    make(chan fusion.TelemetryEventView, 4096),
		ruleErrors: map[string]int{},
	}
	d.pool = lane.NewWorkerPool(cfg.Workers, d.evaluateTask)
	return d
}

// Ingest enqueues ev into the mailbox for the driver goroutine to fold into
// the event's device window. Non-blocking; a full mailbox drops the event
// and the caller should treat it as backpressure from the fusion engine.
func (d *Driver) Ingest(ev fusion.TelemetryEventView) bool {
	select {
	case d.mailbox <- ev:
		return true
	default:
		return false
	}
}

// Run drives the mailbox and the evaluation schedule until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.pool.Start()
	defer d.pool.Stop()

	schedule := d.cfg.EvaluationSchedule
	if schedule == "" {
		schedule = "@every 60s"
	}
	c := cron.New(cron.WithSeconds())
	d.cron = c
	_, err := c.AddFunc(schedule, func() { d.tick(ctx) })
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.mailbox:
			d.ingestLocked(ev)
		}
	}
}

func (d *Driver) ingestLocked(ev fusion.TelemetryEventView) {
	now := time.Now().UTC()

	d.mu.Lock()
	w, ok := d.windows[ev.DeviceID]
	if !ok {
		w = fusion.NewWindow(d.cfg.WindowCap, d.cfg.WindowTTL)
		d.windows[ev.DeviceID] = w
	}
	droppedForCapacity := w.Append(ev, now)
	d.dirty[ev.DeviceID] = true
	size := w.Len()
	d.mu.Unlock()

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordEventIngested(string(ev.Type))
		d.cfg.Metrics.SetWindowSize(ev.DeviceID, float64(size))
		if droppedForCapacity {
			d.cfg.Metrics.RecordWindowOverflow(ev.DeviceID)
		}
	}
}

// tick dispatches an Evaluate for every device with activity since the last
// tick. Any partially computed tick is discarded on cancellation; the next
// tick recomputes from the (still-advancing) in-memory window.
func (d *Driver) tick(ctx context.Context) {
	d.mu.Lock()
	var devices []string
	for deviceID, isDirty := range d.dirty {
		if isDirty {
			devices = append(devices, deviceID)
		}
	}
	for _, deviceID := range devices {
		d.dirty[deviceID] = false
	}
	d.mu.Unlock()

	for _, deviceID := range devices {
		if ctx.Err() != nil {
			return
		}
		d.pool.Submit(lane.NewTaskFunc(deviceID, "fusion-evaluate", 0, func(taskCtx context.Context) error {
			d.Evaluate(taskCtx, deviceID)
			return nil
		}))
	}
}

func (d *Driver) evaluateTask(t lane.Task) {
	if tf, ok := t.(*lane.TaskFunc); ok {
		_ = tf.Execute(context.Background())
	}
}

// Evaluate runs every enabled rule against deviceID's current window,
// recomputes its risk state, and durably persists incidents and the risk
// snapshot. Returns the incidents emitted this tick.
func (d *Driver) Evaluate(ctx context.Context, deviceID string) []fusion.Incident {
	now := time.Now().UTC()

	d.mu.Lock()
	w, ok := d.windows[deviceID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	w.Trim(now)
	events := w.Events()
	risk, ok := d.riskStates[deviceID]
	if !ok {
		risk = fusion.NewRiskState(deviceID)
		d.riskStates[deviceID] = risk
	}
	d.mu.Unlock()

	var incidents []fusion.Incident
	for _, r := range d.rules {
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.RecordRuleEvaluation(r.Name())
		}
		found := d.evaluateRuleSafely(r, events, deviceID)
		incidents = append(incidents, found...)
	}

	risk.Recompute(events, incidents, now)

	if d.cfg.Store != nil {
		for _, inc := range incidents {
			if err := d.cfg.Store.AppendIncident(ctx, inc); err != nil {
				logger.Error("fusion: failed to persist incident", "incident_id", inc.IncidentID, "error", err)
				continue
			}
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.RecordIncidentEmitted(inc.RuleName, string(inc.Severity))
			}
		}
		if err := d.cfg.Store.UpsertDeviceRisk(ctx, risk.Snapshot()); err != nil {
			logger.Error("fusion: failed to persist device risk", "device_id", deviceID, "error", err)
		}
	}

	return incidents
}

// evaluateRuleSafely runs r.Evaluate, catching, logging, and counting any
// panic so one misbehaving rule never prevents the others from running.
func (d *Driver) evaluateRuleSafely(r fusion.Rule, events []fusion.TelemetryEventView, deviceID string) (incidents []fusion.Incident) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("fusion: rule evaluation panicked", "rule", r.Name(), "device_id", deviceID, "panic", rec)
			d.ruleMu.Lock()
			d.ruleErrors[r.Name()]++
			d.ruleMu.Unlock()
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.RecordRuleError(r.Name())
			}
			incidents = nil
		}
	}()
	return r.Evaluate(events, deviceID)
}

// RuleErrorCount returns the number of recovered panics for a rule by name.
func (d *Driver) RuleErrorCount(ruleName string) int {
	d.ruleMu.Lock()
	defer d.ruleMu.Unlock()
	return d.ruleErrors[ruleName]
}
