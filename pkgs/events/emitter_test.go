package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	if err := e.Start(); err != nil {
		t.Fatalf("nil Start: %v", err)
	}
	e.Emit(EventSaleEnded, SeverityInfo, nil)
	e.Subscribe("x", func(*Event) {})
	e.Unsubscribe("x")
	e.Stop()
	if em, dr := e.Stats(); em != 0 || dr != 0 {
		t.Fatalf("nil Stats = (%d, %d), want (0, 0)", em, dr)
	}
}

func TestEmitDeliversToSubscribers(t *testing.T) {
	e := NewEmitter(DefaultConfig("test-campaign"))

	var mu sync.Mutex
	var got []*Event
	e.Subscribe("collector", func(ev *Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Emit(EventContributionReceived, SeverityInfo, map[string]interface{}{"value": "100"})
	e.Emit(EventSaleEnded, SeverityInfo, nil)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	if got[0].Type != EventContributionReceived || got[1].Type != EventSaleEnded {
		t.Fatalf("event order = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].Campaign != "test-campaign" {
		t.Fatalf("campaign = %q, want test-campaign", got[0].Campaign)
	}
	if got[0].ID == "" {
		t.Fatal("event ID not set")
	}
	if got[0].Payload["value"] != "100" {
		t.Fatalf("payload value = %v, want 100", got[0].Payload["value"])
	}
}

func TestEmitBeforeStartIsDropped(t *testing.T) {
	e := NewEmitter(DefaultConfig("test"))
	e.Emit(EventSaleEnded, SeverityInfo, nil)
	if em, _ := e.Stats(); em != 0 {
		t.Fatalf("emitted = %d before Start, want 0", em)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter(&EmitterConfig{
		BufferSize:     16,
		EventTimeout:   time.Second,
		DropOnOverflow: true,
		Campaign:       "test",
	})

	var mu sync.Mutex
	count := 0
	e.Subscribe("counter", func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Emit(EventRefundPaid, SeverityInfo, nil)
	// Stop drains the first event; restart is not supported, so use a
	// fresh emitter to verify the unsubscribed handler stays silent.
	e.Stop()

	mu.Lock()
	first := count
	mu.Unlock()
	if first != 1 {
		t.Fatalf("delivered %d events, want 1", first)
	}

	e2 := NewEmitter(DefaultConfig("test"))
	e2.Subscribe("counter", func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	e2.Unsubscribe("counter")
	if err := e2.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e2.Emit(EventRefundPaid, SeverityInfo, nil)
	e2.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count != first {
		t.Fatalf("unsubscribed handler still ran: count = %d", count)
	}
}
