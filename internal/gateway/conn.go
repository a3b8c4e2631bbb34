package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusAuthenticated Status = "authenticated"
	StatusDegraded      Status = "degraded"
)

// ErrStopped is returned when starting a connection after Stop.
var ErrStopped = errors.New("connection stopped")

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = time.Minute
)

// ConnOptions configures the state machine.
type ConnOptions struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// RandomizationFactor overrides the backoff jitter when non-nil.
	// Tests pin it to zero for deterministic delays.
	RandomizationFactor *float64
	Clock               Clock
	Logger              *slog.Logger
}

// Conn drives the transport lifecycle:
//
//	disconnected -> connecting -> authenticated -> {degraded, disconnected}
//
// Transport errors degrade the connection and schedule a capped-exponential
// reconnect; the attempt counter resets on successful re-authentication.
// Reconnection is indefinite; Stop is the only terminal transition and
// cancels any pending reconnect timer.
type Conn struct {
	session  Session
	handlers Handlers
	logger   *slog.Logger
	clock    Clock
	bo       *backoff.ExponentialBackOff

	mu       sync.Mutex
	status   Status
	attempts int
	stopped  bool
	timer    Timer
	unbind   func()
	botID    string
	botName  string
}

// NewConn creates a connection state machine over the given session.
func NewConn(session Session, handlers Handlers, opts ConnOptions) *Conn {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BackoffBase
	bo.MaxInterval = opts.BackoffCap
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	if opts.RandomizationFactor != nil {
		bo.RandomizationFactor = *opts.RandomizationFactor
	}
	bo.Reset()

	return &Conn{
		session:  session,
		handlers: handlers,
		logger:   opts.Logger.With(slog.String("component", "gateway")),
		clock:    opts.Clock,
		bo:       bo,
		status:   StatusDisconnected,
	}
}

// Start opens the transport and begins the authentication round-trip. A
// failed initial open is not an error; it degrades the connection and
// schedules a reconnect like any later transport fault.
func (c *Conn) Start() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.status = StatusConnecting
	if c.unbind == nil {
		c.unbind = c.session.Bind(Handlers{
			Ready:             c.onReady,
			Disconnect:        c.onDisconnect,
			MessageCreate:     c.handlers.MessageCreate,
			MessageUpdate:     c.handlers.MessageUpdate,
			MessageDelete:     c.handlers.MessageDelete,
			InteractionCreate: c.handlers.InteractionCreate,
		})
	}
	c.mu.Unlock()

	c.logger.Info("connecting")
	if err := c.session.Open(); err != nil {
		c.logger.Error("open failed", slog.Any("error", err))
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return nil
		}
		c.status = StatusDegraded
		c.scheduleReconnectLocked()
	}
	return nil
}

// Stop suppresses any scheduled reconnect and closes the transport with a
// normal closure. Disconnected is terminal.
func (c *Conn) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.status = StatusDisconnected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unbind := c.unbind
	c.unbind = nil
	c.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	c.logger.Info("stopping")
	return c.session.Close()
}

// Status returns the current lifecycle state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the consecutive failed attempt count since the last
// successful authentication.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// BotIdentity returns the authenticated bot's ID and name, empty before the
// first successful authentication.
func (c *Conn) BotIdentity() (id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID, c.botName
}

func (c *Conn) onReady(botID, botName string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.status = StatusAuthenticated
	c.attempts = 0
	c.bo.Reset()
	c.botID = botID
	c.botName = botName
	c.mu.Unlock()

	c.logger.Info("authenticated", slog.String("bot_id", botID), slog.String("bot_name", botName))
	if c.handlers.Ready != nil {
		c.handlers.Ready(botID, botName)
	}
}

func (c *Conn) onDisconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.status = StatusDegraded
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("transport closed, reconnect scheduled")
	if c.handlers.Disconnect != nil {
		c.handlers.Disconnect()
	}
}

func (c *Conn) scheduleReconnectLocked() {
	if c.timer != nil {
		// A reconnect is already pending.
		return
	}
	delay := c.bo.NextBackOff()
	c.attempts++
	c.logger.Info("reconnect scheduled",
		slog.Int("attempt", c.attempts),
		slog.Duration("delay", delay),
	)
	c.timer = c.clock.AfterFunc(delay, c.reconnect)
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnecting
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("reconnecting", slog.Int("attempt", attempt))
	if err := c.session.Open(); err != nil {
		c.logger.Error("reconnect failed", slog.Int("attempt", attempt), slog.Any("error", err))
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return
		}
		c.status = StatusDegraded
		c.scheduleReconnectLocked()
	}
}
