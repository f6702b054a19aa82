package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AllMarketMiniTickers is the stream carrying every symbol's rolling 24h mini ticker.
const AllMarketMiniTickers = "!miniTicker@arr"

// TickerEvent is one rolling 24h ticker update from a Binance market stream.
// Numeric fields arrive as decimal strings.
type TickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	QuoteVolume string `json:"q"`
}

// streamRequest is a live subscription request on a raw stream connection.
type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Manager manages a single WebSocket connection to a Binance market stream endpoint.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	messageChan     chan *TickerEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	writeMu         sync.Mutex
	subscribed      map[string]bool // stream names, e.g. "!miniTicker@arr"
	requestID       atomic.Int64
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	ReconnectMaxAttempts  int // 0 redials until Close
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	backoff := Backoff{
		Initial:    cfg.ReconnectInitialDelay,
		Max:        cfg.ReconnectMaxDelay,
		Multiplier: cfg.ReconnectBackoffMult,
		Jitter:     0.2,
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(backoff, cfg.ReconnectMaxAttempts, cfg.Logger),
		config:       cfg,
		messageChan:  make(chan *TickerEvent, cfg.MessageBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
	}
}

// Start dials the endpoint and launches the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// connect establishes a WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// Connected reports whether the connection is currently up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Subscribe adds streams to the live connection. Already subscribed streams are skipped.
func (m *Manager) Subscribe(_ context.Context, streams []string) error {
	return m.setStreams("SUBSCRIBE", streams, true)
}

// Unsubscribe removes streams from the live connection. Unknown streams are skipped.
func (m *Manager) Unsubscribe(_ context.Context, streams []string) error {
	return m.setStreams("UNSUBSCRIBE", streams, false)
}

// setStreams flips the streams not already in the wanted state, sends method
// for them, and flips them back if the write fails.
func (m *Manager) setStreams(method string, streams []string, want bool) error {
	m.mu.Lock()
	changed := make([]string, 0, len(streams))
	for _, s := range streams {
		if m.subscribed[s] != want {
			m.markLocked(s, want)
			changed = append(changed, s)
		}
	}
	m.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}

	err := m.send(method, changed)
	if err != nil {
		m.mu.Lock()
		for _, s := range changed {
			m.markLocked(s, !want)
		}
		m.mu.Unlock()
		m.publishSubscriptionCount()
		return fmt.Errorf("send %s: %w", method, err)
	}

	total := m.publishSubscriptionCount()
	if !want {
		UnsubscriptionsTotal.Inc()
	}

	m.logger.Info("stream-subscriptions-changed",
		zap.String("method", method),
		zap.Strings("streams", changed),
		zap.Int("subscribed", total))

	return nil
}

func (m *Manager) markLocked(stream string, on bool) {
	if on {
		m.subscribed[stream] = true
		return
	}
	delete(m.subscribed, stream)
}

func (m *Manager) publishSubscriptionCount() int {
	m.mu.RLock()
	n := len(m.subscribed)
	m.mu.RUnlock()

	SubscriptionCount.Set(float64(n))
	return n
}

// Subscriptions returns the subscribed stream names, sorted.
func (m *Manager) Subscriptions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// send writes a stream request. gorilla allows one concurrent writer, so
// writes are serialized on writeMu.
func (m *Manager) send(method string, streams []string) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return errors.New("not connected")
	}

	req := streamRequest{Method: method, Params: streams, ID: m.requestID.Add(1)}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(req)
}

// readLoop reads messages from the WebSocket.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("read-error", zap.Error(err))
			}

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		events, ok := m.decode(message)
		if !ok {
			continue
		}

		received := time.Now()
		for _, ev := range events {
			MessagesReceivedTotal.WithLabelValues(ev.EventType).Inc()
			if ev.EventTime > 0 {
				TickerLagSeconds.Observe(received.Sub(time.UnixMilli(ev.EventTime)).Seconds())
			}

			select {
			case m.messageChan <- ev:
			default:
				m.logger.Warn("message-channel-full", zap.String("symbol", ev.Symbol))
				MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
			}
		}
	}
}

// decode turns a frame into ticker events. All-market streams send arrays,
// single-symbol streams send one object, and subscription replies carry an id.
func (m *Manager) decode(message []byte) ([]*TickerEvent, bool) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return nil, false
	}

	if trimmed[0] == '[' {
		var events []*TickerEvent
		err := json.Unmarshal(trimmed, &events)
		if err != nil {
			m.logUnparseable(trimmed, err)
			return nil, false
		}
		return events, true
	}

	var envelope struct {
		TickerEvent
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	err := json.Unmarshal(trimmed, &envelope)
	if err != nil {
		m.logUnparseable(trimmed, err)
		return nil, false
	}

	if envelope.ID != nil {
		if envelope.Error != nil {
			m.logger.Warn("websocket-request-rejected",
				zap.Int64("id", *envelope.ID),
				zap.Int("code", envelope.Error.Code),
				zap.String("msg", envelope.Error.Msg))
		} else {
			m.logger.Debug("websocket-control-message", zap.Int64("id", *envelope.ID))
		}
		return nil, false
	}

	if envelope.Symbol == "" {
		m.logUnparseable(trimmed, errors.New("missing symbol"))
		return nil, false
	}

	ev := envelope.TickerEvent
	return []*TickerEvent{&ev}, true
}

func (m *Manager) logUnparseable(message []byte, err error) {
	preview := string(message[:min(len(message), 100)])
	m.logger.Debug("websocket-unparseable-message",
		zap.Error(err),
		zap.Int("bytes", len(message)),
		zap.String("preview", preview))
}

// pingLoop sends periodic PING frames and drops connections whose pongs stopped.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			if m.config.PongTimeout > 0 {
				lastPong := time.Unix(m.lastPongTime.Load(), 0)
				if time.Since(lastPong) > m.config.PongTimeout {
					m.logger.Warn("pong-timeout", zap.Duration("since-last-pong", time.Since(lastPong)))
					// Closing unblocks readLoop, which marks the connection down.
					conn.Close()
					continue
				}
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop handles reconnection when connection drops.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, ErrReconnectExhausted):
			// Stops the ping loop too; consumers see it through Done.
			m.logger.Error("stream-reconnect-gave-up", zap.Error(err))
			m.cancel()
			return
		case err != nil:
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		err = m.resubscribeAll()
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll replays every subscription on a fresh connection.
func (m *Manager) resubscribeAll() error {
	streams := m.Subscriptions()
	if len(streams) == 0 {
		return nil
	}

	err := m.send("SUBSCRIBE", streams)
	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-streams", zap.Int("count", len(streams)))

	return nil
}

// MessageChan returns the channel of ticker events. It is closed by Close.
func (m *Manager) MessageChan() <-chan *TickerEvent {
	return m.messageChan
}

// Done is closed once the manager stops, by Close or after reconnecting gave up.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Close gracefully closes the WebSocket manager.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.messageChan)

	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
