package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"bntrader/internal/book"
	"bntrader/internal/engine"
	"bntrader/internal/logger"
	"bntrader/internal/mode"
	"bntrader/internal/model"
	"bntrader/internal/store/sqlite"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server exposes the trader's REST and WebSocket surface.
type Server struct {
	eng     *engine.Engine
	tracker *book.Tracker
	modes   *mode.Controller
	hub     *Hub
	store   *sqlite.Store
	loc     *time.Location
	audit   *slog.Logger

	srv *http.Server
}

// NewServer builds the HTTP server on the given address.
func NewServer(addr string, eng *engine.Engine, tracker *book.Tracker, modes *mode.Controller, hub *Hub, store *sqlite.Store, loc *time.Location) *Server {
	s := &Server{
		eng: eng, tracker: tracker, modes: modes, hub: hub, store: store, loc: loc,
		audit: logger.Init("dashboard", slog.LevelInfo),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handlePositions)
		r.Get("/orders", s.handleOrders)
		r.Get("/state", s.handleState)
		r.Get("/summary", s.handleSummary)
		r.Get("/mode", s.handleGetMode)
		r.Post("/mode", s.handleSetMode)
		r.Post("/order", s.handleManualOrder)
		r.Post("/gtt", s.handleGTT)
		r.Post("/cancel", s.handleCancel)
		r.Post("/exit", s.handleExit)
		r.Post("/panic", s.handlePanic)
	})
	r.Get("/ws", s.handleWS)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[dashboard] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[dashboard] server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, total := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"total_pnl": total,
		"realized":  s.tracker.RealizedPnL(),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if d := r.URL.Query().Get("date"); d != "" && s.store != nil {
		day, err := time.ParseInLocation("2006-01-02", d, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		orders, err := s.store.LoadOrdersByDate(day, s.loc)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": s.eng.Orders()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.State())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	day := time.Now().In(s.loc)
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		day = parsed
	}
	writeJSON(w, http.StatusOK, s.tracker.GetDailySummary(day, s.loc))
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	paper, auto := s.modes.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"paper_mode":     paper,
		"auto_trade":     auto,
		"tripped":        s.modes.Tripped(),
		"daily_realized": s.modes.DailyRealized(),
	})
}

type modeRequest struct {
	PaperMode      *bool  `json:"paper_mode"`
	AutoTrade      *bool  `json:"auto_trade"`
	MaxDailyLoss   *int64 `json:"max_daily_loss"`
	MaxDailyProfit *int64 `json:"max_daily_profit"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxDailyLoss != nil || req.MaxDailyProfit != nil {
		l := mode.Limits{}
		if req.MaxDailyLoss != nil {
			l.MaxDailyLoss = *req.MaxDailyLoss
		}
		if req.MaxDailyProfit != nil {
			l.MaxDailyProfit = *req.MaxDailyProfit
		}
		if err := s.modes.UpdateLimits(l); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.PaperMode != nil {
		s.modes.SetPaperMode(*req.PaperMode)
	}
	if req.AutoTrade != nil {
		if err := s.modes.SetAutoTrade(*req.AutoTrade); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
	}
	paper, auto := s.modes.Snapshot()
	logger.Audit(r.Context(), s.audit, "mode_change",
		slog.Bool("paper_mode", paper), slog.Bool("auto_trade", auto))
	s.handleGetMode(w, r)
}

type orderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Qty    int64  `json:"qty"`
	Price  int64  `json:"price"` // paise, 0 = use last quote
}

func (s *Server) handleManualOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side := model.Side(req.Side)
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, http.StatusBadRequest, errors.New("side must be BUY or SELL"))
		return
	}
	reqID := uuid.NewString()
	ctx := logger.WithTraceID(r.Context(), reqID)
	o, err := s.eng.ManualOrder(ctx, req.Symbol, side, req.Qty, req.Price)
	if err != nil {
		log.Printf("[dashboard] manual order %s failed: %v", reqID, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"request_id": reqID, "order": o, "error": err.Error()})
		return
	}
	logger.Audit(ctx, s.audit, "manual_order",
		slog.String("symbol", req.Symbol), slog.String("side", req.Side),
		slog.Int64("qty", req.Qty), slog.String("order_id", o.ID))
	writeJSON(w, http.StatusOK, map[string]any{"request_id": reqID, "order": o})
}

type gttRequest struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Qty          int64  `json:"qty"`
	Price        int64  `json:"price"`         // paise
	TriggerPrice int64  `json:"trigger_price"` // paise
}

func (s *Server) handleGTT(w http.ResponseWriter, r *http.Request) {
	var req gttRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side := model.Side(req.Side)
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, http.StatusBadRequest, errors.New("side must be BUY or SELL"))
		return
	}
	reqID := uuid.NewString()
	ctx := logger.WithTraceID(r.Context(), reqID)
	o, err := s.eng.PlaceGTT(ctx, req.Symbol, side, req.Qty, req.Price, req.TriggerPrice)
	if err != nil {
		if errors.Is(err, engine.ErrGTTUnsupported) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"request_id": reqID, "order": o, "error": err.Error()})
		return
	}
	logger.Audit(ctx, s.audit, "gtt_order",
		slog.String("symbol", req.Symbol), slog.String("side", req.Side),
		slog.Int64("qty", req.Qty), slog.Int64("trigger", req.TriggerPrice),
		slog.String("order_id", o.ID))
	writeJSON(w, http.StatusOK, map[string]any{"request_id": reqID, "order": o})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.CancelOrder(r.Context(), req.OrderID); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ExitPosition(r.Context()); err != nil {
		if errors.Is(err, engine.ErrFlat) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	logger.Audit(r.Context(), s.audit, "manual_exit")
	writeJSON(w, http.StatusOK, map[string]string{"status": "exited"})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Panic(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	logger.Audit(r.Context(), s.audit, "panic_exit")
	writeJSON(w, http.StatusOK, map[string]string{"status": "flat"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[dashboard] ws upgrade error: %v", err)
		return
	}
	s.hub.handleConn(conn)
}
