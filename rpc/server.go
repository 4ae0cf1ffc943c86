// Package rpc exposes the node over HTTP: transaction submission plus
// read-only queries against the stock ledger tables. The error table is the
// only diagnostic channel for contract-level failures, so callers poll
// /v1/stock/errors/{txId} after their transaction's block is committed.
package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veridibloc/core"
	"veridibloc/mempool"
	"veridibloc/native/stock"
)

// Server wires the HTTP API around a node and, when a stock contract is
// deployed, its query surface.
type Server struct {
	node   *core.Node
	ledger *stock.Engine
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the HTTP API. The ledger may be nil when no stock
// contract is deployed; its routes then answer 404.
func NewServer(node *core.Node, ledger *stock.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{node: node, ledger: ledger, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	limiter := newRateLimiter(20, 5)
	r.Route("/v1", func(r chi.Router) {
		r.With(limiter.middleware).Post("/transactions", s.handleSubmit)
		r.Get("/height", s.handleHeight)
		r.Get("/events", s.handleEvents)
		if s.ledger != nil {
			r.Route("/stock", func(r chi.Router) {
				r.Get("/stats", s.handleStats)
				r.Get("/lots/{id}", s.handleLot)
				r.Get("/groups/{id}", s.handleGroup)
				r.Get("/errors/{txId}", s.handleError)
				r.Get("/accounts/{id}/roles", s.handleRoles)
			})
		}
	})
	return r
}

type submitRequest struct {
	Sender   int64   `json:"sender"`
	Contract int64   `json:"contract"`
	Amount   int64   `json:"amount"`
	Message  []int64 `json:"message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	err := s.node.SubmitTransaction(req.Sender, req.Contract, req.Amount, req.Message)
	switch {
	case errors.Is(err, core.ErrUnknownContract):
		writeError(w, http.StatusNotFound, "unknown contract")
	case errors.Is(err, core.ErrBelowActivation):
		writeError(w, http.StatusUnprocessableEntity, "amount below activation fee")
	case errors.Is(err, mempool.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "pending queue full")
	case err != nil:
		s.logger.Error("transaction submission failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHeight(w http.ResponseWriter, _ *http.Request) {
	height, err := s.node.Height()
	if err != nil {
		s.logger.Error("height query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"height": height})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	recent := s.node.Events().Recent()
	writeJSON(w, http.StatusOK, map[string]any{"events": recent})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.ledger.Stats()
	if err != nil {
		s.logger.Error("stats query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	remaining, err := s.ledger.LotRemaining(id)
	if err != nil {
		s.logger.Error("lot query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"originId": id, "remainingQuantity": remaining})
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	groupID, total, err := s.ledger.GroupByExternalID(id)
	if err != nil {
		s.logger.Error("group query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if groupID == 0 {
		writeError(w, http.StatusNotFound, "no group for this id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"externalId": id, "groupId": groupID, "totalQuantity": total})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "txId")
	if !ok {
		return
	}
	code, err := s.ledger.ErrorCode(id)
	if err != nil {
		s.logger.Error("error-table query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := map[string]any{"txId": id, "code": int64(code)}
	if code != 0 {
		resp["name"] = code.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userTier, err := s.ledger.UserTier(id)
	if err == nil {
		var partnerTier int64
		partnerTier, err = s.ledger.PartnerTier(id)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]int64{"account": id, "userTier": userTier, "partnerTier": partnerTier})
			return
		}
	}
	s.logger.Error("roles query failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
