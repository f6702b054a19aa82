package httpserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/autotrader"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/storage"
	"go.uber.org/zap"
)

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HopResponse is one leg of an opportunity.
type HopResponse struct {
	Symbol   string  `json:"symbol"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Price    float64 `json:"price"`
	Inverted bool    `json:"inverted"`
	Volume   float64 `json:"volume"`
}

// OpportunityResponse is the wire form of an opportunity.
type OpportunityResponse struct {
	ID            string        `json:"id"`
	Exchange      string        `json:"exchange"`
	Path          []string      `json:"path"`
	ProfitPercent float64       `json:"profit_percent"`
	Volume        float64       `json:"volume"`
	Volatility    float64       `json:"volatility"`
	DetectedAt    time.Time     `json:"detected_at"`
	Hops          []HopResponse `json:"hops"`
}

// PairResponse is one tradable pair.
type PairResponse struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// SettingsUpdate is a partial executor settings change. A trading mode is
// applied before the explicit fields, so explicit values win over its preset.
type SettingsUpdate struct {
	TradingEnabled    *bool    `json:"trading_enabled"`
	DryRun            *bool    `json:"dry_run"`
	TradingMode       *string  `json:"trading_mode"`
	MaxPositionSize   *float64 `json:"max_position_size"`
	MaxConcurrent     *int     `json:"max_concurrent_trades"`
	StopLossPercent   *float64 `json:"stop_loss_percent"`
	TakeProfitPercent *float64 `json:"take_profit_percent"`
}

// AutoTraderResponse reports auto-trader state.
type AutoTraderResponse struct {
	Running                bool     `json:"running"`
	Exchanges              []string `json:"exchanges"`
	TradingIntervalSeconds float64  `json:"trading_interval_seconds"`
	MinProfitPercent       float64  `json:"min_profit_percent"`
	MaxTradeVolume         float64  `json:"max_trade_volume"`
}

// AutoTraderUpdate is a partial auto-trader config change.
type AutoTraderUpdate struct {
	Exchanges              []string `json:"exchanges"`
	TradingIntervalSeconds *float64 `json:"trading_interval_seconds"`
	MinProfitPercent       *float64 `json:"min_profit_percent"`
	MaxTradeVolume         *float64 `json:"max_trade_volume"`
}

// StatsResponse is trade statistics plus the advisory Kelly fraction.
type StatsResponse struct {
	storage.Stats
	WinRate float64  `json:"win_rate"`
	Kelly   *float64 `json:"kelly_fraction,omitempty"`
}

type apiHandler struct {
	cfg     *Config
	logger  *zap.Logger
	baseCtx context.Context
}

func newAPIHandler(cfg *Config) *apiHandler {
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &apiHandler{cfg: cfg, logger: cfg.Logger, baseCtx: baseCtx}
}

func toOpportunityResponse(o *arbitrage.Opportunity) OpportunityResponse {
	hops := make([]HopResponse, len(o.Hops))
	for i, h := range o.Hops {
		hops[i] = HopResponse{
			Symbol:   h.Symbol,
			From:     h.From,
			To:       h.To,
			Price:    h.Price,
			Inverted: h.Inverted,
			Volume:   h.Volume,
		}
	}
	return OpportunityResponse{
		ID:            o.ID,
		Exchange:      o.Exchange,
		Path:          o.Path,
		ProfitPercent: o.ProfitPercent,
		Volume:        o.Volume,
		Volatility:    o.Volatility,
		DetectedAt:    o.DetectedAt,
		Hops:          hops,
	}
}

// exchangeParam resolves {exchange}, writing a 404 for exchanges not configured.
func (h *apiHandler) exchangeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	exchange := chi.URLParam(r, "exchange")
	if len(h.cfg.Exchanges) > 0 && !slices.Contains(h.cfg.Exchanges, exchange) {
		h.writeError(w, "unknown exchange: "+exchange, http.StatusNotFound)
		return "", false
	}
	return exchange, true
}

// listOpportunities handles GET /api/opportunities/{exchange}?limit=N.
func (h *apiHandler) listOpportunities(w http.ResponseWriter, r *http.Request) {
	exchange, ok := h.exchangeParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	opps := h.cfg.Opportunities.Opportunities(r.Context(), exchange)
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}

	out := make([]OpportunityResponse, 0, len(opps))
	for _, o := range opps {
		out = append(out, toOpportunityResponse(o))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// topOpportunity handles GET /api/opportunities/{exchange}/top.
func (h *apiHandler) topOpportunity(w http.ResponseWriter, r *http.Request) {
	exchange, ok := h.exchangeParam(w, r)
	if !ok {
		return
	}

	top, found := h.cfg.Opportunities.GetTop(r.Context(), exchange)
	if !found {
		h.writeError(w, "no opportunity available", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, toOpportunityResponse(top))
}

// listPositions handles GET /api/positions?status=open.
func (h *apiHandler) listPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	positions := h.cfg.Positions.Positions()
	out := make([]execution.Position, 0, len(positions))
	for _, p := range positions {
		if status == "" || string(p.Status) == status {
			out = append(out, p)
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// getPosition handles GET /api/positions/{id}.
func (h *apiHandler) getPosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := h.cfg.Positions.Position(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, "position not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, pos)
}

// closePosition handles POST /api/positions/{id}/close.
func (h *apiHandler) closePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res := h.cfg.Positions.Close(r.Context(), id, "manual")
	switch {
	case res.NotFound:
		h.writeError(w, "position not found or not open", http.StatusNotFound)
		return
	case res.Error != nil:
		h.logger.Warn("manual-close-failed", zap.String("position-id", id), zap.Error(res.Error))
		h.writeError(w, res.Error.Error(), http.StatusBadGateway)
		return
	}

	h.logger.Info("position-closed-manually",
		zap.String("position-id", id),
		zap.Float64("realized-profit", res.RealizedProfit))

	pos, _ := h.cfg.Positions.Position(id)
	h.writeJSON(w, http.StatusOK, pos)
}

// getSettings handles GET /api/settings.
func (h *apiHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cfg.Positions.Settings())
}

// updateSettings handles PUT /api/settings. Fields are applied one at a time;
// the first invalid one stops the update and is reported.
func (h *apiHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var u SettingsUpdate
	if !h.decode(w, r, &u) {
		return
	}

	p := h.cfg.Positions
	err := applySettings(p, u)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	settings := p.Settings()
	h.logger.Info("executor-settings-updated",
		zap.Bool("trading-enabled", settings.TradingEnabled),
		zap.Bool("dry-run", settings.DryRun),
		zap.String("trading-mode", string(settings.TradingMode)))

	h.writeJSON(w, http.StatusOK, settings)
}

func applySettings(p PositionManager, u SettingsUpdate) error {
	if u.TradingMode != nil {
		mode, err := execution.ParseTradingMode(*u.TradingMode)
		if err != nil {
			return err
		}
		if err := p.SetTradingMode(mode); err != nil {
			return err
		}
	}
	if u.MaxPositionSize != nil {
		if err := p.SetMaxPositionSize(*u.MaxPositionSize); err != nil {
			return err
		}
	}
	if u.MaxConcurrent != nil {
		if err := p.SetMaxConcurrent(*u.MaxConcurrent); err != nil {
			return err
		}
	}
	if u.StopLossPercent != nil {
		if err := p.SetStopLoss(*u.StopLossPercent); err != nil {
			return err
		}
	}
	if u.TakeProfitPercent != nil {
		if err := p.SetTakeProfit(*u.TakeProfitPercent); err != nil {
			return err
		}
	}
	if u.DryRun != nil {
		p.SetDryRun(*u.DryRun)
	}
	if u.TradingEnabled != nil {
		p.EnableTrading(*u.TradingEnabled)
	}
	return nil
}

// riskStatus handles GET /api/risk.
func (h *apiHandler) riskStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cfg.Risk.Status())
}

// listPairs handles GET /api/pairs.
func (h *apiHandler) listPairs(w http.ResponseWriter, _ *http.Request) {
	pairs := h.cfg.Pairs.Known()
	out := make([]PairResponse, len(pairs))
	for i, p := range pairs {
		out[i] = PairResponse{Symbol: p.Symbol, Base: p.Base, Quote: p.Quote}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) autoTraderResponse() AutoTraderResponse {
	cfg := h.cfg.AutoTrader.Config()
	return AutoTraderResponse{
		Running:                h.cfg.AutoTrader.Running(),
		Exchanges:              cfg.Exchanges,
		TradingIntervalSeconds: cfg.TradingInterval.Seconds(),
		MinProfitPercent:       cfg.MinProfitPercent,
		MaxTradeVolume:         cfg.MaxTradeVolume,
	}
}

// autoTraderStatus handles GET /api/autotrader.
func (h *apiHandler) autoTraderStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.autoTraderResponse())
}

// updateAutoTraderConfig handles PUT /api/autotrader/config.
func (h *apiHandler) updateAutoTraderConfig(w http.ResponseWriter, r *http.Request) {
	var body AutoTraderUpdate
	if !h.decode(w, r, &body) {
		return
	}

	u := autotrader.ConfigUpdate{
		Exchanges:        body.Exchanges,
		MinProfitPercent: body.MinProfitPercent,
		MaxTradeVolume:   body.MaxTradeVolume,
	}
	if body.TradingIntervalSeconds != nil {
		d := time.Duration(*body.TradingIntervalSeconds * float64(time.Second))
		u.TradingInterval = &d
	}

	_, err := h.cfg.AutoTrader.UpdateConfig(u)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, h.autoTraderResponse())
}

// startAutoTrader handles POST /api/autotrader/start.
func (h *apiHandler) startAutoTrader(w http.ResponseWriter, _ *http.Request) {
	h.cfg.AutoTrader.Start(h.baseCtx)
	h.writeJSON(w, http.StatusOK, h.autoTraderResponse())
}

// stopAutoTrader handles POST /api/autotrader/stop.
func (h *apiHandler) stopAutoTrader(w http.ResponseWriter, _ *http.Request) {
	h.cfg.AutoTrader.Stop()
	h.writeJSON(w, http.StatusOK, h.autoTraderResponse())
}

// breakerStatus handles GET /api/circuit-breaker.
func (h *apiHandler) breakerStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cfg.Breaker.GetStatus())
}

// listTrades handles GET /api/trades?status=open|closed.
func (h *apiHandler) listTrades(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != storage.TradeOpen && status != storage.TradeClosed {
		h.writeError(w, "status must be open or closed", http.StatusBadRequest)
		return
	}

	trades, err := h.cfg.Trades.Trades(r.Context(), h.cfg.UserID, status)
	if err != nil {
		h.logger.Error("list-trades-failed", zap.Error(err))
		h.writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []storage.Trade{}
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// tradeStats handles GET /api/trades/stats.
func (h *apiHandler) tradeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cfg.Trades.Stats(r.Context(), h.cfg.UserID)
	if err != nil {
		h.logger.Error("trade-stats-failed", zap.Error(err))
		h.writeError(w, "failed to load trade statistics", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Stats: stats, WinRate: stats.WinRate()}
	if k, err := risk.Kelly(stats.WinRate(), stats.AvgWin, stats.AvgLoss); err == nil {
		resp.Kelly = &k
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body, writing a 400 on failure.
func (h *apiHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.writeError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func (h *apiHandler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *apiHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
