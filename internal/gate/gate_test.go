package gate

import (
	"context"
	"testing"
	"time"

	"signalengine/internal/store"
	"signalengine/internal/store/kvstore"
	"signalengine/internal/store/sqlitestore"
	"signalengine/pkg/model"
)

type fakeTransport struct {
	succeed bool
	calls   int
}

func (f *fakeTransport) SendPush(ctx context.Context, token, recipient, text string) (bool, error) {
	f.calls++
	if f.succeed {
		return true, nil
	}
	return false, nil
}

func newTestGate(t *testing.T, tr *fakeTransport) (*Gate, func()) {
	t.Helper()
	kv, err := kvstore.New("")
	if err != nil {
		t.Fatalf("kvstore.New: %v", err)
	}
	ts, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	g := New(kv, ts, tr, "token", "user1", nil)
	return g, func() { ts.Close() }
}

func decisionAt(id string, action model.Action, conf float64, at time.Time) model.Decision {
	return model.Decision{InstrumentID: id, Action: action, Confidence: conf, Timestamp: at}
}

func TestHoldIsAlwaysSuppressed(t *testing.T) {
	tr := &fakeTransport{succeed: true}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	res, err := g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionHold, 0.9, time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected HOLD to be suppressed")
	}
}

func TestCooldownSuppressesRepeatNotify(t *testing.T) {
	tr := &fakeTransport{succeed: true}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	now := time.Now()
	res, err := g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionBuy, 0.8, now))
	if err != nil || !res.Notified {
		t.Fatalf("expected first BUY to notify, got %+v err=%v", res, err)
	}

	res, err = g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionBuy, 0.8, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected second BUY within cooldown to be suppressed")
	}
	if tr.calls != 1 {
		t.Errorf("expected exactly one transport call, got %d", tr.calls)
	}
}

func TestHysteresisBlocksWeakFlip(t *testing.T) {
	tr := &fakeTransport{succeed: true}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	now := time.Now()
	// A notified SELL would also start a cooldown, measured on the wall
	// clock, that blocks any further notify for this instrument; seed the
	// previous SELL directly so only hysteresis is under test.
	err := g.kv.SetPreviousSignal(context.Background(), "AAPL", store.PreviousDecision{Action: model.ActionSell, Confidence: 0.8, At: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := now.Add(time.Minute)

	res, err := g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionBuy, 0.53, later))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected weak flip (0.53 <= 0.55) to be suppressed")
	}

	res, err = g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionBuy, 0.56, later.Add(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Notified {
		t.Error("expected strong flip (0.56 > 0.55) to notify")
	}
}

func TestWatchOnlyNotifiesOnChange(t *testing.T) {
	tr := &fakeTransport{succeed: true}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	now := time.Now()
	res, err := g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionWatch, 0.5, now))
	if err != nil || !res.Notified {
		t.Fatalf("expected first WATCH to notify, got %+v err=%v", res, err)
	}

	res, err = g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionWatch, 0.5, now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected repeated WATCH to be suppressed")
	}
}

func TestDailyCapTriggersEmergencyStop(t *testing.T) {
	tr := &fakeTransport{succeed: true}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	th.MaxPerDay = 3
	now := time.Now()

	for i := 0; i < 3; i++ {
		id := "SYM" + string(rune('A'+i))
		res, err := g.Submit(context.Background(), th, decisionAt(id, model.ActionBuy, 0.9, now))
		if err != nil || !res.Notified {
			t.Fatalf("expected notify %d, got %+v err=%v", i, res, err)
		}
	}

	res, err := g.Submit(context.Background(), th, decisionAt("SYMX", model.ActionBuy, 0.9, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected 4th attempt to be suppressed by daily cap")
	}

	stopped, err := g.kv.IsEmergencyStop(context.Background())
	if err != nil || !stopped {
		t.Fatalf("expected emergency stop set, got %v err=%v", stopped, err)
	}
}

func TestTransportFailureDoesNotSetCooldown(t *testing.T) {
	tr := &fakeTransport{succeed: false}
	g, cleanup := newTestGate(t, tr)
	defer cleanup()

	th := model.DefaultThresholds()
	now := time.Now()
	res, err := g.Submit(context.Background(), th, decisionAt("AAPL", model.ActionBuy, 0.9, now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified {
		t.Error("expected failed transport to not count as notified")
	}

	inCooldown, err := g.kv.IsInCooldown(context.Background(), "AAPL")
	if err != nil || inCooldown {
		t.Errorf("expected no cooldown set after transport failure, got %v err=%v", inCooldown, err)
	}
}
