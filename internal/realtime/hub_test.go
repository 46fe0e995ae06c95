package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func scoreEvent(payload *ScorePayload) *Event {
	return &Event{Type: EventScore, Timestamp: time.Now(), Data: payload}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := scoreEvent(&ScorePayload{CustomerID: 1, FraudProbability: 0.01})
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert},
	}}

	score := scoreEvent(&ScorePayload{CustomerID: 1})
	alert := &Event{Type: EventAlert, Data: &ScorePayload{CustomerID: 1, Alerts: []string{"x"}}}

	if h.shouldSend(client, score) {
		t.Error("Should NOT receive plain score events")
	}
	if !h.shouldSend(client, alert) {
		t.Error("Should receive alert events")
	}
}

func TestShouldSend_CustomerFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		CustomerIDs: []int64{42},
	}}

	matching := scoreEvent(&ScorePayload{CustomerID: 42})
	notMatching := scoreEvent(&ScorePayload{CustomerID: 7})

	if !h.shouldSend(client, matching) {
		t.Error("Should match the watched customer")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other customers")
	}
}

func TestShouldSend_RiskLevelFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		RiskLevels: []string{"HIGH", "CRITICAL"},
	}}

	high := scoreEvent(&ScorePayload{CustomerID: 1, RiskLevel: "HIGH"})
	low := scoreEvent(&ScorePayload{CustomerID: 1, RiskLevel: "LOW"})

	if !h.shouldSend(client, high) {
		t.Error("Should receive HIGH scores")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive LOW scores")
	}
}

func TestShouldSend_MinProbabilityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinProbability: 0.5,
	}}

	risky := scoreEvent(&ScorePayload{CustomerID: 1, FraudProbability: 0.8})
	quiet := scoreEvent(&ScorePayload{CustomerID: 1, FraudProbability: 0.1})

	if !h.shouldSend(client, risky) {
		t.Error("Should receive risky scores")
	}
	if h.shouldSend(client, quiet) {
		t.Error("Should NOT receive quiet scores")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := scoreEvent(&ScorePayload{CustomerID: 1})
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonPayloadData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		CustomerIDs: []int64{42},
	}}

	// Event with non-payload data should not crash
	event := &Event{
		Type: EventScore,
		Data: "string data not a payload",
	}

	// Customer filter skips non-payload data, so the event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-payload data should pass through when the customer filter cannot inspect it")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(scoreEvent(&ScorePayload{CustomerID: 1}))
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(scoreEvent(&ScorePayload{CustomerID: 1, FraudProbability: 0.42}))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastScoreEmitsAlertEvent(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventAlert}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// No alerts: nothing for an alert-only subscriber.
	h.BroadcastScore(&ScorePayload{CustomerID: 1, Alerts: []string{}})
	time.Sleep(100 * time.Millisecond)
	select {
	case <-client.send:
		t.Error("Alert-only client should not receive alert-free scores")
	default:
	}

	// With alerts: the alert event comes through.
	h.BroadcastScore(&ScorePayload{CustomerID: 1, Alerts: []string{"spike"}})
	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive the alert event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only watches customer 42
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{CustomerIDs: []int64{42}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Another customer's score (should be filtered out)
	h.Broadcast(scoreEvent(&ScorePayload{CustomerID: 7}))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive other customers' events")
	default:
		// Good - filtered out
	}

	// The watched customer's score (should be received)
	h.Broadcast(scoreEvent(&ScorePayload{CustomerID: 42}))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive the watched customer's event")
	}
}
