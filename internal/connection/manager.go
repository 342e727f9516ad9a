package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WeAreBini/pricefeed/internal/protocol"
)

// Manager owns the single push connection process-wide. It runs the
// connection state machine, the heartbeat, and backoff reconnection, and
// exposes a non-blocking send plus the decoded inbound message stream.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// Replayed as one subscribe frame on every successful connect.
	symbols SymbolSource

	out   chan protocol.Message
	sendq chan []byte

	// State machine. gen invalidates goroutines and timers belonging to a
	// superseded connection attempt.
	mu             sync.Mutex
	state          State
	attempts       int
	lastConnected  time.Time
	lastErr        error
	client         *Client
	gen            int
	reconnectTimer *time.Timer
	hbDone         chan struct{}
	lastPong       time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		state:  StateDisconnected,
		out:    make(chan protocol.Message, cfg.MessageBufferSize),
		sendq:  make(chan []byte, cfg.SendBufferSize),
	}
}

// SetSymbolSource sets the provider of the full subscription set. Must be
// called before Start.
func (m *Manager) SetSymbolSource(src SymbolSource) {
	m.symbols = src
}

// Start begins the manager and initiates the first connect attempt.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.writerLoop()

	m.Connect()
	return nil
}

// Stop tears the manager down: closes the connection, cancels every timer,
// and waits for goroutines bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.Disconnect()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Every goroutine has exited, so nothing can send on out anymore.
		close(m.out)
	case <-ctx.Done():
		// A goroutine may still be running and holding a send on out;
		// leave the channel open so it cannot panic on a closed channel.
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Connect starts a connection attempt. No-op while already connecting or
// connected. From ERROR this is the manual recovery path and resets the
// attempt counter. With no endpoint configured the manager stays
// DISCONNECTED and the system runs on polling alone.
func (m *Manager) Connect() {
	if m.cfg.URL == "" {
		m.logger.Info("no push endpoint configured, running in polling mode")
		return
	}

	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	if m.state == StateError {
		m.attempts = 0
		m.lastErr = nil
	}
	m.stopReconnectTimerLocked()
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.wg.Add(1)
	go m.attempt(gen)
}

// Disconnect cleanly closes the connection and cancels all timers.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectTimerLocked()
	if m.hbDone != nil {
		close(m.hbDone)
		m.hbDone = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	wasIdle := m.state == StateDisconnected
	m.state = StateDisconnected
	m.attempts = 0
	m.mu.Unlock()

	if !wasIdle {
		m.logger.Info("push connection closed")
	}
}

// Send queues a frame for the write loop. Never blocks the caller.
func (m *Manager) Send(data []byte) error {
	select {
	case m.sendq <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Messages returns the stream of decoded inbound messages. Heartbeat frames
// are consumed internally and never appear here.
func (m *Manager) Messages() <-chan protocol.Message {
	return m.out
}

// Connected reports whether the push channel is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Status returns a snapshot of the state machine.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.state,
		Attempts:      m.attempts,
		LastConnected: m.lastConnected,
		LastError:     m.lastErr,
	}
}

// attempt dials the endpoint and, on success, installs the new connection.
func (m *Manager) attempt(gen int) {
	defer m.wg.Done()

	client := NewClient(ClientConfig{
		URL:              m.cfg.URL,
		HandshakeTimeout: m.cfg.ConnectTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	}, m.logger)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	err := client.Connect(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			client.Close()
		}
		return
	}

	if err != nil {
		m.mu.Unlock()
		m.connectionLost(gen, err)
		return
	}

	m.client = client
	m.state = StateConnected
	m.attempts = 0
	m.lastConnected = time.Now()
	m.lastPong = time.Now()
	hbDone := make(chan struct{})
	m.hbDone = hbDone
	m.mu.Unlock()

	m.logger.Info("push connection established", "url", m.cfg.URL)

	m.replaySubscriptions()

	m.wg.Add(2)
	go m.readPump(gen, client)
	go m.heartbeatLoop(gen, client, hbDone)
}

// replaySubscriptions sends the full current subscription set as a single
// subscribe frame.
func (m *Manager) replaySubscriptions() {
	if m.symbols == nil {
		return
	}
	syms := m.symbols.Symbols()
	if len(syms) == 0 {
		return
	}

	data, err := protocol.Subscribe(syms)
	if err != nil {
		m.logger.Error("encode subscription replay", "error", err)
		return
	}
	if err := m.Send(data); err != nil {
		m.logger.Warn("queue subscription replay", "error", err)
		return
	}
	m.logger.Info("replayed subscriptions", "symbols", len(syms))
}

// connectionLost handles a transport failure for the connection identified
// by gen: schedules a backoff retry, or enters ERROR past the attempt cap.
func (m *Manager) connectionLost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateDisconnected || m.state == StateError {
		m.mu.Unlock()
		return
	}

	m.gen++
	if m.hbDone != nil {
		close(m.hbDone)
		m.hbDone = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.lastErr = err

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = StateError
		attempts := m.attempts
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted, falling back to polling",
			"attempts", attempts,
			"error", err,
		)
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, m.attempts)
	m.attempts++
	attempt := m.attempts
	m.state = StateReconnecting
	retryGen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() { m.retry(retryGen) })
	m.mu.Unlock()

	m.logger.Warn("push connection lost, scheduling reconnect",
		"attempt", attempt,
		"delay", delay,
		"error", err,
	)
}

// retry fires from the reconnect timer and starts the next attempt.
func (m *Manager) retry(gen int) {
	select {
	case <-m.ctx.Done():
		return
	default:
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.gen++
	g := m.gen
	m.mu.Unlock()

	m.wg.Add(1)
	go m.attempt(g)
}

// readPump decodes inbound frames from one connection and routes them.
func (m *Manager) readPump(gen int, client *Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.connectionLost(gen, err)
			return

		case raw, ok := <-client.Messages():
			if !ok {
				return
			}

			msg, err := protocol.Decode(raw.Data)
			if err != nil {
				// Protocol errors drop the frame, never the connection.
				m.logger.Warn("dropping unreadable frame", "error", err)
				continue
			}

			switch msg.Type {
			case protocol.TypePong:
				m.mu.Lock()
				if gen == m.gen {
					m.lastPong = time.Now()
				}
				m.mu.Unlock()

			case protocol.TypePing:
				if data, err := protocol.Pong(); err == nil {
					client.Send(data)
				}

			default:
				select {
				case m.out <- msg:
				case <-m.ctx.Done():
					return
				default:
					m.logger.Warn("inbound buffer full, dropping message", "type", msg.Type)
				}
			}
		}
	}
}

// heartbeatLoop pings on a fixed interval and forces a reconnect when no
// pong arrives within twice the interval.
func (m *Manager) heartbeatLoop(gen int, client *Client, done chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if data, err := protocol.Ping(); err == nil {
				if err := client.Send(data); err != nil {
					m.logger.Debug("heartbeat send failed", "error", err)
				}
			}

			m.mu.Lock()
			silent := time.Since(m.lastPong) > 2*m.cfg.HeartbeatInterval
			m.mu.Unlock()

			if silent {
				m.connectionLost(gen, ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// writerLoop drains the send queue onto the current connection. Frames
// queued while disconnected are dropped; the subscription replay covers
// whatever state they would have established.
func (m *Manager) writerLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case data := <-m.sendq:
			m.mu.Lock()
			client := m.client
			connected := m.state == StateConnected
			m.mu.Unlock()

			if !connected || client == nil {
				m.logger.Debug("dropping outbound frame, not connected")
				continue
			}
			if err := client.Send(data); err != nil {
				m.logger.Warn("outbound send failed", "error", err)
			}
		}
	}
}

// stopReconnectTimerLocked cancels a pending backoff timer. Caller holds mu.
func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// backoffDelay computes min(base << attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt >= 31 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}
