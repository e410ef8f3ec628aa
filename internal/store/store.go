// Package store declares the thin interfaces the core consumes from its
// external collaborators: a tabular store (durable rows) and a key-value
// store (ephemeral gating/config state). Concrete implementations live in
// the sqlitestore and kvstore subpackages.
package store

import (
	"context"
	"time"

	"signalengine/pkg/model"
)

// TabularStore owns durable instruments, holdings, prices, snapshots,
// signal history, and audit logs.
type TabularStore interface {
	UpsertInstrument(ctx context.Context, in model.Instrument) error
	GetAllSymbols(ctx context.Context, activeOnly bool) ([]model.Instrument, error)
	UpsertHolding(ctx context.Context, h model.Holding) error
	GetAllHoldings(ctx context.Context) ([]model.Holding, error)
	GetHoldingSymbolIDs(ctx context.Context) ([]string, error)
	UpdateHoldingPrice(ctx context.Context, instrumentID string, price float64, at time.Time) error

	InsertDailyPrice(ctx context.Context, bar model.Bar) error
	GetDailyPrices(ctx context.Context, instrumentID string, days int) ([]model.Bar, error)

	GetUpcomingEvents(ctx context.Context, horizonDays int) ([]model.Event, error)

	InsertSignalHistory(ctx context.Context, d model.Decision) error
	GetLatestSignalHistory(ctx context.Context, instrumentID string) (*model.Decision, error)
	InsertNotificationLog(ctx context.Context, log model.NotificationLog) error

	SavePortfolioSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error
	GetMonthStartValue(ctx context.Context, date string) (float64, error)
	GetSnapshot(ctx context.Context, date string) (*model.PortfolioSnapshot, error)
	CalculateMonthlyPnL(ctx context.Context, current float64) (float64, error)
	CalculateWeeklyPnL(ctx context.Context, current float64) (float64, error)

	CleanupIntradayPrices(ctx context.Context) error
}

// PreviousDecision is the hysteresis snapshot the Gate stores per instrument.
type PreviousDecision struct {
	Action     model.Action `json:"action"`
	Confidence float64      `json:"confidence"`
	At         time.Time    `json:"at"`
}

// KVStore owns ephemeral per-instrument gating state and configuration.
// All TTLs are relative to the call's wall-clock time.
type KVStore interface {
	GetPreviousSignal(ctx context.Context, instrumentID string) (*PreviousDecision, bool, error)
	SetPreviousSignal(ctx context.Context, instrumentID string, d PreviousDecision) error

	IsInCooldown(ctx context.Context, instrumentID string) (bool, error)
	SetCooldown(ctx context.Context, instrumentID string, hours int) error

	GetDailyNotifyCount(ctx context.Context, utcDate string) (int, error)
	IncrementDailyNotifyCount(ctx context.Context, utcDate string) (int, error)

	IsEmergencyStop(ctx context.Context) (bool, error)
	SetEmergencyStop(ctx context.Context, stop bool) error

	GetThresholds(ctx context.Context) (model.Thresholds, bool, error)
	SetThresholds(ctx context.Context, th model.Thresholds) error
}
