package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/execution"
	"go.uber.org/zap"
)

// sqlStore holds the queries shared by the SQL backends. Queries are written
// with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	logger  *zap.Logger
	backend string
	rebind  func(string) string
}

func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO opportunities (
			id, exchange, path, profit_percent, volume, volatility, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		opp.ID,
		opp.Exchange,
		JoinPath(opp.Path),
		opp.ProfitPercent,
		opp.Volume,
		opp.Volatility,
		opp.DetectedAt,
	)
	observe(s.backend, "store_opportunity", start, err)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	s.logger.Debug("opportunity-stored",
		zap.String("opportunity-id", opp.ID),
		zap.String("exchange", opp.Exchange),
		zap.Float64("profit-percent", opp.ProfitPercent))
	return nil
}

func (s *sqlStore) AddTrade(ctx context.Context, rec execution.TradeRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO trades (
			id, user_id, exchange, path, profit, volume, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.TradeID,
		rec.UserID,
		rec.Exchange,
		JoinPath(rec.Path),
		rec.Profit,
		rec.Volume,
		TradeOpen,
		rec.OpenedAt,
	)
	observe(s.backend, "add_trade", start, err)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	s.logger.Debug("trade-stored", zap.String("trade-id", rec.TradeID), zap.String("exchange", rec.Exchange))
	return nil
}

func (s *sqlStore) CloseTrade(ctx context.Context, tradeID string, profit float64) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE trades SET status = ?, profit = ?, closed_at = ? WHERE id = ?
	`), TradeClosed, profit, time.Now().UTC(), tradeID)
	observe(s.backend, "close_trade", start, err)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close trade: no trade with id %s", tradeID)
	}

	s.logger.Debug("trade-closed-stored", zap.String("trade-id", tradeID), zap.Float64("profit", profit))
	return nil
}

// Trades lists a user's trades, newest first. An empty status matches all.
func (s *sqlStore) Trades(ctx context.Context, userID, status string) ([]Trade, error) {
	q := `SELECT id, user_id, exchange, path, profit, volume, status, created_at, closed_at
		FROM trades WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t        Trade
			closedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Exchange, &t.Path, &t.Profit, &t.Volume,
			&t.Status, &t.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if closedAt.Valid {
			ts := closedAt.Time
			t.ClosedAt = &ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

// Stats aggregates a user's closed trades.
func (s *sqlStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var (
		st                          Stats
		total, avg, avgWin, avgLoss sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0),
		       SUM(profit),
		       AVG(profit),
		       AVG(CASE WHEN profit > 0 THEN profit END),
		       AVG(CASE WHEN profit <= 0 THEN -profit END)
		FROM trades
		WHERE user_id = ? AND status = ?
	`), userID, TradeClosed).Scan(&st.TotalTrades, &st.ProfitableTrades, &total, &avg, &avgWin, &avgLoss)
	if err != nil {
		return Stats{}, fmt.Errorf("query trade stats: %w", err)
	}

	st.TotalProfit = total.Float64
	st.AvgProfit = avg.Float64
	st.AvgWin = avgWin.Float64
	st.AvgLoss = avgLoss.Float64
	return st, nil
}

func (s *sqlStore) Close() error {
	s.logger.Info("closing-storage", zap.String("backend", s.backend))
	return s.db.Close()
}
