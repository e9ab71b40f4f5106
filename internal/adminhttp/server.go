// Package adminhttp exposes the operator-facing HTTP surface: health and
// Prometheus metrics, a read-only mirror of the titan.rpc.execution.*
// bus RPCs for tooling that prefers HTTP, and the signed operator
// command endpoint — adapted from the teacher's walletserver
// routes/middleware gorilla/mux pattern and cmd/xchainserver's bare
// net/http+mux server.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/peycheff-com/titan-execution-core/internal/creds"
	"github.com/peycheff-com/titan-execution-core/internal/lifecycle"
	"github.com/peycheff-com/titan-execution-core/internal/reconcile"
	"github.com/peycheff-com/titan-execution-core/internal/safety"
	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Canceller cancels every in-flight order, the action a HARD_HALT
// triggers (§5). lifecycle.Partitions satisfies this.
type Canceller interface {
	CancelAllOpen(ctx context.Context, reason string) (int, error)
}

// Server is the admin HTTP surface, one per process.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	st        *store.Store
	core      *safety.Core
	risk      *safety.RiskMachine
	verifier  *creds.Verifier
	roles     *creds.RoleTable
	adapters  map[string]venue.Adapter
	metrics   *reconcile.Metrics
	canceller Canceller
	log       *logrus.Logger
}

// SetCanceller hooks the order-cancelling side effect of HARD_HALT into
// the operator command handler.
func (s *Server) SetCanceller(c Canceller) {
	s.canceller = c
}

// NewServer wires the router and returns a Server bound to addr.
func NewServer(addr string, st *store.Store, core *safety.Core, risk *safety.RiskMachine, verifier *creds.Verifier, roles *creds.RoleTable, adapters map[string]venue.Adapter, metrics *reconcile.Metrics, log *logrus.Logger) *Server {
	s := &Server{
		st: st, core: core, risk: risk, verifier: verifier, roles: roles,
		adapters: adapters, metrics: metrics, log: log,
	}
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(log))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/api/execution/get_positions/{venue}/{account}", s.handleGetPositions).Methods(http.MethodGet)
	r.HandleFunc("/api/execution/get_balances/{venue}/{account}", s.handleGetBalances).Methods(http.MethodGet)
	r.HandleFunc("/api/execution/get_orders/{venue}/{account}", s.handleGetOrders).Methods(http.MethodGet)
	r.HandleFunc("/api/operator/command", s.handleOperatorCommand).Methods(http.MethodPost)
	s.router = r
	s.httpServer = &http.Server{Addr: addr, Handler: r, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	return s
}

// ListenAndServe blocks serving the admin HTTP surface until the server
// is shut down or fails to bind.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	opState := s.core.Snapshot()
	lastSeq, _ := s.st.LastSeq()
	writeJSON(w, http.StatusOK, map[string]any{
		"arm":         opState.Arm,
		"halt":        opState.Halt,
		"risk_state":  s.risk.Current(),
		"leader_term": opState.LeaderTerm,
		"last_seq":    lastSeq,
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	venueName, account := vars["venue"], vars["account"]

	prefix := []byte(venueName + "/" + account + "/")
	var positions []lifecycle.Position
	err := s.st.Scan(store.NSPositions, prefix, func(_, value []byte) bool {
		var p lifecycle.Position
		if err := json.Unmarshal(value, &p); err == nil {
			positions = append(positions, p)
		}
		return true
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleGetOrders lists orders for (venue, account). ?open=true narrows
// to non-terminal orders, the view operators want during an incident.
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	venueName, account := vars["venue"], vars["account"]
	openOnly := r.URL.Query().Get("open") == "true"

	orders := []lifecycle.Order{}
	err := s.st.Scan(store.NSOrders, nil, func(_, value []byte) bool {
		var o lifecycle.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return true
		}
		if o.Venue != venueName || o.Account != account {
			return true
		}
		if openOnly && o.State.IsTerminal() {
			return true
		}
		orders = append(orders, o)
		return true
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	venueName, account := vars["venue"], vars["account"]

	adapter, ok := s.adapters[venueName]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown venue"})
		return
	}
	balances, err := adapter.GetBalances(r.Context(), account)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// handleOperatorCommand accepts a signed wire.OperatorCommand, enforcing
// the same HMAC verification and RBAC role table as the bus command path
// (§4.3's operator path "additionally enforces an RBAC role table").
func (s *Server) handleOperatorCommand(w http.ResponseWriter, r *http.Request) {
	var cmd wire.OperatorCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid command body"})
		return
	}
	keyID := r.Header.Get("X-Titan-Key-Id")
	if err := s.verifier.VerifyOperatorCommand(&cmd, keyID); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}
	if !s.roles.CanExecuteAction(cmd.ActorID, string(cmd.Action)) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "actor lacks required role"})
		return
	}

	var err error
	switch cmd.Action {
	case wire.ActionArm:
		err = s.core.Arm(&cmd, cmd.PolicyHash)
		// An admin-signed ARM is the only path back to NORMAL risk.
		if err == nil && s.roles.HasRole(cmd.ActorID, creds.RoleAdmin) {
			err = s.core.ResetRisk(&cmd)
		}
	case wire.ActionDisarm:
		err = s.core.Disarm(&cmd)
	case wire.ActionHalt:
		err = s.core.Halt(&cmd, wire.HaltHard)
		if err == nil && s.canceller != nil {
			if n, cancelErr := s.canceller.CancelAllOpen(r.Context(), "HARD_HALT"); cancelErr == nil {
				s.log.WithField("cancelled", n).Warn("hard halt applied")
			}
		}
	case wire.ActionResume:
		err = s.core.Resume(&cmd)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unrecognized action"})
		return
	}
	if err == safety.ErrStateConflict {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "state_hash conflict"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.core.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
