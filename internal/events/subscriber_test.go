package events

import (
	"context"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestListenDeliversWildcardTraffic(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, nil)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url, nil)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := sub.Listen(ctx, "calyx.>")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := pub.Publish(ctx, TopicGrantsSwept, GrantsSwept{Count: 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.conn.Flush()

	select {
	case m := <-msgs:
		if m.Subject != TopicGrantsSwept {
			t.Errorf("Subject = %q, want %q", m.Subject, TopicGrantsSwept)
		}
		if !strings.Contains(string(m.Data), `"count":1`) {
			t.Errorf("Data = %s, want count 1 payload", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url, nil)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := sub.Listen(ctx, TopicStageAdvanced)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
