package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the durable topic exchange delivery events go to.
	ExchangeName = "mailqueue.events"

	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
	dialTimeout      = 5 * time.Second
	heartbeat        = 10 * time.Second
)

// ErrBrokerUnavailable is returned while the broker cannot be reached.
var ErrBrokerUnavailable = errors.New("rabbitmq broker unavailable")

// RabbitMQ owns one broker connection. Startup waits for the broker with
// backoff; afterwards a lost connection is re-dialed at most once per backoff
// window so publishers fail fast while the broker is down.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	dial        func(url string) (*amqp.Connection, error)
	now         func() time.Time

	redialWait time.Duration
	nextDialAt time.Time
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := &RabbitMQ{url: url, dial: dialBroker, now: time.Now}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := r.connectWithBackoff(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func dialBroker(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	if err := r.ensureConnected(); err != nil {
		return nil, err
	}

	ch, err := r.current().Channel()
	if err != nil {
		r.dropConnection()
		if errRedial := r.ensureConnected(); errRedial != nil {
			return nil, errRedial
		}
		ch, err = r.current().Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after redial: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", ExchangeName, err)
	}

	return ch, nil
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *RabbitMQ) connected() bool {
	conn := r.current()
	return conn != nil && !conn.IsClosed()
}

func (r *RabbitMQ) dropConnection() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

// ensureConnected makes at most one dial attempt and never sleeps.
func (r *RabbitMQ) ensureConnected() error {
	if r.connected() {
		return nil
	}

	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if r.connected() {
		return nil
	}

	now := r.clock()
	if now.Before(r.nextDialAt) {
		return fmt.Errorf("%w: next redial in %s", ErrBrokerUnavailable, r.nextDialAt.Sub(now).Round(time.Millisecond))
	}

	conn, err := r.dial(r.url)
	if err != nil {
		r.redialWait = nextBackoff(r.redialWait)
		r.nextDialAt = now.Add(r.redialWait)
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	r.redialWait = 0
	r.nextDialAt = time.Time{}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

// connectWithBackoff keeps dialing until the broker answers or ctx is done.
func (r *RabbitMQ) connectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	var wait time.Duration
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return nil
		}

		wait = nextBackoff(wait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

func (r *RabbitMQ) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return reconnectBackoff
	}
	current *= 2
	if current > maxBackoff {
		return maxBackoff
	}
	return current
}
