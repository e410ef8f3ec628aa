// Package gate implements the notification gate state machine: cooldown,
// hysteresis, daily quota, emergency stop, and dedup for a stream of
// Decisions. It splits durable and ephemeral state across the
// store.TabularStore (audit log) and store.KVStore (gating state)
// contracts rather than keeping its own in-memory globals.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalengine/internal/store"
	"signalengine/internal/transport"
	"signalengine/pkg/model"
)

// Result reports what the gate decided for one Decision.
type Result struct {
	Notified bool
	Reason   string // suppression reason, or "" when Notified
}

// Gate wires the kv store, tabular store, and transport together.
type Gate struct {
	kv        store.KVStore
	tabular   store.TabularStore
	transport transport.Transport
	token     string
	recipient string
	formatter func(model.Decision) string

	// locks holds one *sync.Mutex per instrument ID so that concurrent
	// Submit calls for the same instrument are serialized.
	locks sync.Map
}

// New builds a Gate. formatter renders a Decision into the plain-text
// payload sent over the transport; pass nil to use DefaultFormatter.
func New(kv store.KVStore, tabular store.TabularStore, tr transport.Transport, token, recipient string, formatter func(model.Decision) string) *Gate {
	if formatter == nil {
		formatter = DefaultFormatter
	}
	return &Gate{kv: kv, tabular: tabular, transport: tr, token: token, recipient: recipient, formatter: formatter}
}

// DefaultFormatter renders one multiline payload per Decision, matching
// one multiline payload per Decision.
func DefaultFormatter(d model.Decision) string {
	msg := fmt.Sprintf("%s %s (confidence %.0f%%, horizon %dd)\n", d.InstrumentID, d.Action, d.Confidence*100, d.HorizonDays)
	for _, r := range d.Reasons {
		msg += "- " + r + "\n"
	}
	for _, w := range d.Warnings {
		msg += "! " + w + "\n"
	}
	return msg
}

// Submit applies the gating state machine to one Decision and, when the
// decision passes every check, dispatches it via the transport.
func (g *Gate) Submit(ctx context.Context, th model.Thresholds, d model.Decision) (Result, error) {
	lock, _ := g.locks.LoadOrStore(d.InstrumentID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	stopped, err := g.kv.IsEmergencyStop(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("gate: checking emergency stop: %w", err)
	}
	if stopped {
		return Result{Reason: "emergency stop active"}, nil
	}

	utcDate := d.Timestamp.UTC().Format("2006-01-02")
	count, err := g.kv.GetDailyNotifyCount(ctx, utcDate)
	if err != nil {
		return Result{}, fmt.Errorf("gate: reading daily count: %w", err)
	}
	if count >= th.MaxPerDay {
		if err := g.kv.SetEmergencyStop(ctx, true); err != nil {
			return Result{}, fmt.Errorf("gate: setting emergency stop: %w", err)
		}
		g.dispatchLimitAlert(ctx, d.Timestamp)
		return Result{Reason: "daily limit reached; emergency stop set"}, nil
	}

	if d.Action == model.ActionHold {
		return Result{Reason: "action is HOLD"}, nil
	}

	inCooldown, err := g.kv.IsInCooldown(ctx, d.InstrumentID)
	if err != nil {
		return Result{}, fmt.Errorf("gate: checking cooldown: %w", err)
	}
	if inCooldown {
		return Result{Reason: "in cooldown"}, nil
	}

	prev, hasPrev, err := g.kv.GetPreviousSignal(ctx, d.InstrumentID)
	if err != nil {
		return Result{}, fmt.Errorf("gate: reading previous signal: %w", err)
	}

	if d.Action == model.ActionWatch {
		if hasPrev && prev.Action == model.ActionWatch {
			return Result{Reason: "previous action was also WATCH"}, nil
		}
	} else {
		// BUY or SELL.
		if hasPrev && isOppositeSide(prev.Action, d.Action) {
			if d.Confidence <= 0.5+th.HysteresisBuffer {
				return Result{Reason: "hysteresis buffer not cleared"}, nil
			}
		} else if d.Confidence < 0.5 {
			return Result{Reason: "confidence below 0.5"}, nil
		}
	}

	return g.notify(ctx, th, d)
}

func isOppositeSide(prev, next model.Action) bool {
	return (prev == model.ActionSell && next == model.ActionBuy) ||
		(prev == model.ActionBuy && next == model.ActionSell)
}

func (g *Gate) notify(ctx context.Context, th model.Thresholds, d model.Decision) (Result, error) {
	msg := g.formatter(d)
	success, sendErr := g.transport.SendPush(ctx, g.token, g.recipient, msg)

	logEntry := model.NotificationLog{
		ID:           uuid.NewString(),
		InstrumentID: d.InstrumentID,
		Action:       d.Action,
		Message:      msg,
		Success:      success,
		Timestamp:    d.Timestamp,
	}
	if sendErr != nil {
		logEntry.Err = sendErr.Error()
	}
	if err := g.tabular.InsertNotificationLog(ctx, logEntry); err != nil {
		return Result{}, fmt.Errorf("gate: writing audit log: %w", err)
	}

	if !success {
		return Result{Reason: "transport failure"}, nil
	}

	if err := g.kv.SetCooldown(ctx, d.InstrumentID, th.CooldownHours); err != nil {
		return Result{}, fmt.Errorf("gate: setting cooldown: %w", err)
	}
	utcDate := d.Timestamp.UTC().Format("2006-01-02")
	if _, err := g.kv.IncrementDailyNotifyCount(ctx, utcDate); err != nil {
		return Result{}, fmt.Errorf("gate: incrementing daily count: %w", err)
	}
	if err := g.kv.SetPreviousSignal(ctx, d.InstrumentID, store.PreviousDecision{
		Action:     d.Action,
		Confidence: d.Confidence,
		At:         d.Timestamp,
	}); err != nil {
		return Result{}, fmt.Errorf("gate: updating previous signal: %w", err)
	}

	return Result{Notified: true}, nil
}

// ResetEmergencyStop clears the daily emergency-stop flag, for the
// administrative "reset-stop" endpoint.
func (g *Gate) ResetEmergencyStop(ctx context.Context) error {
	return g.kv.SetEmergencyStop(ctx, false)
}

// SendRaw dispatches a plain-text message outside the per-instrument
// gating sequence, for summary and system messages that have their own
// audit-logging and scheduling (the daily/weekly summary jobs).
func (g *Gate) SendRaw(ctx context.Context, text string) (bool, error) {
	return g.transport.SendPush(ctx, g.token, g.recipient, text)
}

// dispatchLimitAlert fires the single "limit reached" alert outside the
// normal gating sequence, as part of safety-breach handling.
// Its own transport failure is swallowed: the alert is best-effort and must
// not block the emergency-stop from taking effect.
func (g *Gate) dispatchLimitAlert(ctx context.Context, at time.Time) {
	msg := "daily notification limit reached; emergency stop engaged"
	success, sendErr := g.transport.SendPush(ctx, g.token, g.recipient, msg)
	entry := model.NotificationLog{
		ID:        uuid.NewString(),
		Action:    "SYSTEM",
		Message:   msg,
		Success:   success,
		Timestamp: at,
	}
	if sendErr != nil {
		entry.Err = sendErr.Error()
	}
	_ = g.tabular.InsertNotificationLog(ctx, entry)
}
