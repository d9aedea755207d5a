//go:build integration

package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// These tests need a broker on 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func connectForTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIntegration_RoundTrip(t *testing.T) {
	c := connectForTest(t, "inputemu-int-roundtrip")
	topic := Topics{Root: "inputemu-test"}.IPCClient("roundtrip")

	got := make(chan []byte, 1)
	if err := c.Subscribe(topic, 1, func(_ string, p []byte) error {
		got <- p
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Publish(topic, []byte(`{"id":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case p := <-got:
		if string(p) != `{"id":1}` {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_OrderPreserved(t *testing.T) {
	c := connectForTest(t, "inputemu-int-order")
	topic := Topics{Root: "inputemu-test"}.IPCServer()

	const n = 50
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	if err := c.Subscribe(topic, 1, func(_ string, p []byte) error {
		var v int
		if err := json.Unmarshal(p, &v); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v)
		if len(seen) == n {
			close(done)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := range n {
		b, _ := json.Marshal(i)
		if err := c.Publish(topic, b, 1, false); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("not all messages received")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("message %d = %d, order not preserved", i, v)
		}
	}
}

func TestIntegration_RetainedPresence(t *testing.T) {
	connectForTest(t, "inputemu-int-presence")
	watcher := connectForTest(t, "inputemu-int-watcher")

	got := make(chan Presence, 4)
	if err := watcher.Subscribe(Topics{}.SystemStatus("inputemu-int-presence"), 1, func(_ string, p []byte) error {
		var pr Presence
		if err := json.Unmarshal(p, &pr); err != nil {
			return err
		}
		got <- pr
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case pr := <-got:
		if pr.Status != StatusOnline {
			t.Errorf("retained status = %q, want online", pr.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained presence not delivered")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	c := connectForTest(t, "inputemu-int-tracking")
	handler := func(string, []byte) error { return nil }

	topics := []string{"inputemu-test/a", "inputemu-test/b", "inputemu-test/+/c"}
	for _, topic := range topics {
		if err := c.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%q) error = %v", topic, err)
		}
	}
	if c.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", c.SubscriptionCount(), len(topics))
	}
	if err := c.Unsubscribe("inputemu-test/a"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription("inputemu-test/a") {
		t.Error("unsubscribed topic still tracked")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999
	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() succeeded against a closed port")
	}
}
