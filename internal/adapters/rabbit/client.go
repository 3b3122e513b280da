package rabbit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

var (
	ErrNotConnected = errors.New("rabbit: client is not connected")
	ErrClosed       = errors.New("rabbit: client is closed")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type RetryConfig struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client owns the process's single broker connection. It is built once in
// main and handed to publishers and listeners.
type Client struct {
	url    string
	retry  RetryConfig
	logger observability.Logger

	dial   func(url string) (*amqp.Connection, error)
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration

	mu       sync.RWMutex
	state    State
	conn     *amqp.Connection
	done     chan struct{}
	doneOnce sync.Once
}

func NewClient(url string, retry RetryConfig, logger observability.Logger) *Client {
	return &Client{
		url:    url,
		retry:  retry,
		logger: logger,
		dial:   amqp.Dial,
		sleep:  sleepContext,
		jitter: func() time.Duration { return time.Duration(rand.Int64N(int64(time.Second))) },
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// Connect dials with exponential backoff plus up to a second of jitter and
// declares the shared topology. Running out of attempts is returned to the
// caller, which is expected to abort startup.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.retry.Retries; attempt++ {
		conn, err := c.dial(c.url)
		if err == nil {
			if err = declareTopology(conn); err == nil {
				c.connected(conn)
				c.logger.WithField("attempt", attempt).Info("connected to broker")
				return nil
			}
			conn.Close()
		}
		lastErr = err

		if attempt == c.retry.Retries {
			break
		}
		delay := Backoff(attempt, c.retry.BaseDelay, c.retry.MaxDelay) + c.jitter()
		c.logger.WithFields(map[string]interface{}{"attempt": attempt, "retry_in": delay.String()}).WithError(err).Warn("failed to connect to broker")
		if err := c.sleep(ctx, delay); err != nil {
			c.setState(StateDisconnected)
			return errors.Wrap(err, "connect to broker")
		}
	}

	c.setState(StateDisconnected)
	return errors.Wrapf(lastErr, "connect to broker: gave up after %d attempts", c.retry.Retries)
}

// Backoff returns min(base*2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max || d/base != time.Duration(1)<<uint(attempt) {
		return max
	}
	return d
}

func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return nil, errors.Wrapf(ErrNotConnected, "state %s", c.state)
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	return ch, nil
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once an established connection ends, whether by Close or
// by the broker going away. The client does not reconnect on its own.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.state = StateClosed
	c.mu.Unlock()

	if conn == nil {
		c.doneOnce.Do(func() { close(c.done) })
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) connected(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go func() {
		amqpErr := <-closed
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		if amqpErr != nil {
			c.logger.WithError(amqpErr).Error("broker connection lost")
		}
		c.doneOnce.Do(func() { close(c.done) })
	}()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
