package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// clientName prefixes the connection name shown in NATS monitoring.
	clientName = "consentd"

	// subscriptionBuffer is the number of undelivered payloads a subscription
	// holds before new ones are dropped.
	subscriptionBuffer = 64

	// flushTimeout bounds how long Close waits for queued publishes.
	flushTimeout = 5 * time.Second
)

// dial connects to url as the named role. Both sides reconnect forever; the
// caller's options are applied last and may override that.
func dial(url, role string, opts []nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(clientName + "-" + role),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting %s to NATS at %s: %w", role, url, err)
	}
	return nc, nil
}

// NATSPublisher emits write and index notifications as JSON on NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url (CONSENTD_NATS_URL).
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, "publisher", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s notification: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close flushes queued notifications before closing, so a one-shot
// `consentd index sync` does not lose its consent.index.advanced events.
func (p *NATSPublisher) Close() error {
	defer p.conn.Close()
	if p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flushing publisher: %w", err)
	}
	return nil
}

// NATSSubscriber delivers notifications from NATS subjects as raw payloads.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Extra options such as disconnect or
// reconnect handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, "subscriber", opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// subscription bridges a NATS callback to a buffered channel. deliver and
// stop share mu so a payload is never sent on a closed channel. Payloads still
// buffered at stop are discarded.
type subscription struct {
	sub  *nats.Subscription
	ch   chan []byte
	mu   sync.Mutex
	done bool
	once sync.Once
}

func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- msg.Data:
	default:
		// A dropped write notification only delays invalidation until the
		// entry's TTL runs out.
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.done = true
	drain:
		for {
			select {
			case <-s.ch:
			default:
				break drain
			}
		}
		close(s.ch)
	})
}

// Subscribe implements Subscriber. topic may use NATS wildcards such as
// TopicWrites. The subscription is registered on the server before Subscribe
// returns.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	sub := &subscription{ch: make(chan []byte, subscriptionBuffer)}
	ns, err := s.conn.Subscribe(topic, sub.deliver)
	if err != nil {
		sub.stop()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sub.sub = ns
	if err := s.conn.Flush(); err != nil {
		sub.stop()
		return nil, nil, fmt.Errorf("registering subscription to %s: %w", topic, err)
	}
	return sub.ch, sub.stop, nil
}

// Close implements Subscriber.
func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
