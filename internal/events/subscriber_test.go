package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/model"
)

var _ Subscriber = (*NATSSubscriber)(nil)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
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

// connectPair returns a publisher and subscriber on the same server.
func connectPair(t *testing.T, url string) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return pub, sub
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return nil
}

func TestNATS_WriteNotificationsReachWildcard(t *testing.T) {
	pub, sub := connectPair(t, startTestNATS(t))
	ctx := context.Background()

	ch, stop, err := sub.Subscribe(TopicWrites)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	for _, tc := range []struct {
		topic string
		note  WriteNotification
	}{
		{TopicConsentGranted, WriteNotification{Patient: "0xaa", Provider: "0xbb", ConsentID: model.Uint64Ptr(1), TransactionHash: "0x01"}},
		{TopicConsentRevoked, WriteNotification{Patient: "0xaa", ConsentID: model.Uint64Ptr(1), TransactionHash: "0x02"}},
		{TopicRequestResponded, WriteNotification{Patient: "0xaa", RequestID: model.Uint64Ptr(4), TransactionHash: "0x03"}},
	} {
		t.Run(tc.topic, func(t *testing.T) {
			if err := pub.Publish(ctx, tc.topic, tc.note); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			var got WriteNotification
			if err := json.Unmarshal(receive(t, ch), &got); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if diff := cmp.Diff(tc.note, got); diff != "" {
				t.Errorf("notification (-sent +got):\n%s", diff)
			}
		})
	}
}

func TestNATS_IndexAdvancedStaysOffWriteTopics(t *testing.T) {
	pub, sub := connectPair(t, startTestNATS(t))
	ctx := context.Background()

	ch, stop, err := sub.Subscribe(TopicWrites)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := pub.Publish(ctx, TopicIndexAdvanced, IndexAdvanced{EventType: model.EventConsentGranted, BlockNumber: 9}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	marker := WriteNotification{Patient: "0xaa", TransactionHash: "0xmarker"}
	if err := pub.Publish(ctx, TopicConsentGranted, marker); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got WriteNotification
	if err := json.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.TransactionHash != "0xmarker" {
		t.Errorf("first delivery = %+v, want the write marker", got)
	}
}

func TestNATSPublisher_CloseFlushesPending(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	defer sub.Close()
	ch, stop, err := sub.Subscribe(TopicIndexAdvanced)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicIndexAdvanced, IndexAdvanced{Inserted: 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	var got IndexAdvanced
	if err := json.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", got.Inserted)
	}
}

func TestNATSPublisher_CanceledContextPair(t *testing.T) {
	pub, _ := connectPair(t, startTestNATS(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicConsentGranted, WriteNotification{}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestNATSSubscriber_Stop(t *testing.T) {
	for _, tc := range []struct {
		name    string
		publish int
		stops   int
	}{
		{"idle", 0, 1},
		{"repeated", 0, 3},
		{"while publishing", 200, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pub, sub := connectPair(t, startTestNATS(t))
			ch, stop, err := sub.Subscribe(TopicWrites)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := range tc.publish {
					_ = pub.Publish(context.Background(), TopicConsentRevoked,
						WriteNotification{Patient: "0xaa", ConsentID: model.Uint64Ptr(uint64(i))})
				}
			}()
			for range tc.stops {
				stop()
			}
			<-done

			if _, ok := <-ch; ok {
				t.Fatal("channel still open after stop")
			}
		})
	}
}

func TestNATSSubscriber_AcceptsHandlers(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	sub, err := NewNATSSubscriber(startTestNATS(t),
		nats.DisconnectErrHandler(func(*nats.Conn, error) {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	defer sub.Close()
	if !sub.conn.IsConnected() {
		t.Fatal("subscriber not connected")
	}
	if got := sub.conn.Opts.Name; got != "consentd-subscriber" {
		t.Errorf("connection name = %q", got)
	}
}

// waitSubscribed blocks until sub has registered a subscription.
func waitSubscribed(t *testing.T, sub *NATSSubscriber) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sub.conn.NumSubscriptions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInvalidator_IDOnlyWritesOverNATS(t *testing.T) {
	pub, sub := connectPair(t, startTestNATS(t))
	target := &recordingInvalidator{seen: make(chan struct{}, 4)}
	inv := NewInvalidator(target, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = inv.Run(ctx, sub) }()
	waitSubscribed(t, sub)

	revoke := WriteNotification{Patient: "0xaa", ConsentID: model.Uint64Ptr(7), TransactionHash: "0xr7"}
	respond := WriteNotification{Patient: "0xaa", RequestID: model.Uint64Ptr(3), TransactionHash: "0xq3"}
	for topic, note := range map[string]WriteNotification{TopicConsentRevoked: revoke, TopicRequestResponded: respond} {
		if err := pub.Publish(ctx, topic, note); err != nil {
			t.Fatalf("Publish %s: %v", topic, err)
		}
	}
	for range 2 {
		select {
		case <-target.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for invalidation")
		}
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	byPattern := func(want string) bool {
		for _, ch := range target.changes {
			if slices.Contains(ch.Patterns(), want) {
				return true
			}
		}
		return false
	}
	for _, want := range []string{
		cache.Key(cache.EntityConsent, 7),
		cache.Key(cache.EntityProviderConsents) + ":*",
		cache.Key(cache.EntityRequest, 3),
		cache.Key(cache.EntityPending) + ":*",
	} {
		if !byPattern(want) {
			t.Errorf("no invalidation covered %q", want)
		}
	}
}
