package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type message struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
	deadline bool
	closed   bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{channel: channel, payload: payload})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

type countingNotifier struct {
	opened, closed int
	err            error
}

func (c *countingNotifier) TradeOpened(context.Context, execution.Position) error {
	c.opened++
	return c.err
}

func (c *countingNotifier) TradeClosed(context.Context, execution.Position) error {
	c.closed++
	return c.err
}

func position() execution.Position {
	return execution.Position{
		ID:             "pos-1",
		TradeID:        "trade-1",
		Exchange:       "binance",
		Path:           []string{"BTC", "ETH", "USDT", "BTC"},
		Size:           10,
		Status:         execution.StatusClosed,
		CloseReason:    execution.ReasonTakeProfit,
		RealizedProfit: 0.2,
	}
}

func TestRedisSink_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewRedisSinkWithPublisher(pub, RedisConfig{Channel: "triarb:trades", Logger: zaptest.NewLogger(t)})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	require.NoError(t, sink.TradeOpened(context.Background(), position()))
	require.NoError(t, sink.TradeClosed(context.Background(), position()))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "triarb:trades", pub.messages[0].channel)
	assert.True(t, pub.deadline, "publish is bounded by a timeout")

	var evt Event
	require.NoError(t, json.Unmarshal(pub.messages[1].payload, &evt))
	assert.Equal(t, EventTradeClosed, evt.Type)
	assert.Equal(t, "pos-1", evt.Position.ID)
	assert.Equal(t, execution.ReasonTakeProfit, evt.Position.CloseReason)
	assert.Equal(t, fixed, evt.SentAt)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &raw))
	assert.Equal(t, EventTradeOpened, raw["type"])
}

func TestRedisSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	sink := NewRedisSinkWithPublisher(pub, RedisConfig{Channel: "c", Logger: zaptest.NewLogger(t)})

	err := sink.TradeOpened(context.Background(), position())
	assert.ErrorContains(t, err, "connection refused")

	require.NoError(t, sink.Close())
	assert.True(t, pub.closed)
}

func TestMulti(t *testing.T) {
	ok := &countingNotifier{}
	failing := &countingNotifier{err: errors.New("down")}
	log := NewLogSink(zaptest.NewLogger(t))
	m := Multi{failing, log, ok}

	err := m.TradeOpened(context.Background(), position())
	assert.ErrorContains(t, err, "down")
	assert.NoError(t, Multi{log, ok}.TradeClosed(context.Background(), position()))

	assert.Equal(t, 1, ok.opened, "later sinks still run")
	assert.Equal(t, 1, ok.closed)
	assert.Equal(t, 1, failing.opened)
}

func TestImplementsNotifier(t *testing.T) {
	var _ execution.Notifier = (*LogSink)(nil)
	var _ execution.Notifier = (*RedisSink)(nil)
	var _ execution.Notifier = Multi(nil)
}
