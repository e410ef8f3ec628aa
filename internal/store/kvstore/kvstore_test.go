package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"signalengine/internal/store"
	"signalengine/pkg/model"
)

func TestCooldownExpiresAfterTTL(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }

	ctx := context.Background()
	if err := s.SetCooldown(ctx, "AAPL", 1); err != nil {
		t.Fatalf("SetCooldown: %v", err)
	}
	inCooldown, err := s.IsInCooldown(ctx, "AAPL")
	if err != nil || !inCooldown {
		t.Fatalf("expected in cooldown, got %v err=%v", inCooldown, err)
	}

	now = now.Add(2 * time.Hour)
	inCooldown, err = s.IsInCooldown(ctx, "AAPL")
	if err != nil || inCooldown {
		t.Fatalf("expected cooldown expired, got %v err=%v", inCooldown, err)
	}
}

func TestDailyNotifyCountIncrements(t *testing.T) {
	s, _ := New("")
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, err := s.IncrementDailyNotifyCount(ctx, "2026-01-01")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != i {
			t.Errorf("count = %d, want %d", n, i)
		}
	}
}

func TestEmergencyStopPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv.json")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := s1.SetEmergencyStop(ctx, true); err != nil {
		t.Fatalf("SetEmergencyStop: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	stop, err := s2.IsEmergencyStop(ctx)
	if err != nil || !stop {
		t.Fatalf("expected emergency stop to persist, got %v err=%v", stop, err)
	}
}

func TestPreviousSignalRoundTrip(t *testing.T) {
	s, _ := New("")
	ctx := context.Background()
	_, ok, err := s.GetPreviousSignal(ctx, "AAPL")
	if err != nil || ok {
		t.Fatalf("expected no previous signal, got ok=%v err=%v", ok, err)
	}

	want := store.PreviousDecision{Action: model.ActionBuy, Confidence: 0.7, At: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	if err := s.SetPreviousSignal(ctx, "AAPL", want); err != nil {
		t.Fatalf("SetPreviousSignal: %v", err)
	}
	got, ok, err := s.GetPreviousSignal(ctx, "AAPL")
	if err != nil || !ok || got.Action != want.Action || got.Confidence != want.Confidence || !got.At.Equal(want.At) {
		t.Fatalf("expected %+v back, got %+v ok=%v err=%v", want, got, ok, err)
	}
}
