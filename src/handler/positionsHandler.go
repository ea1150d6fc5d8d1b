package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type positionLister interface {
	Active() []model.Position
}

type protectedLister interface {
	Snapshot() []ledger.ProtectedOrder
}

type reconciliationLister interface {
	ListRecent(ctx context.Context, exchange string, limit int) ([]model.ReconciliationRecord, error)
}

type eventLister interface {
	ListRecent(ctx context.Context, limit int) ([]model.EventLog, error)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

// ListPositionsHandler returns the live ledger, optionally filtered by exchange,
// symbol and status.
func ListPositionsHandler(src positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		exchange := strings.ToLower(strings.TrimSpace(q.Get("exchange")))
		symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
		status := strings.ToLower(strings.TrimSpace(q.Get("status")))

		out := make([]model.Position, 0)
		for _, p := range src.Active() {
			if exchange != "" && strings.ToLower(p.Exchange) != exchange {
				continue
			}
			if symbol != "" && p.Symbol != symbol {
				continue
			}
			if status != "" && p.Status != status {
				continue
			}
			out = append(out, p)
		}
		writeJSON(w, out)
	}
}

// ListProtectedOrdersHandler returns every order id cleanup sweeps must not touch.
func ListProtectedOrdersHandler(src protectedLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Snapshot())
	}
}

// ListReconciliationsHandler returns the newest reconciliation records.
func ListReconciliationsHandler(repo reconciliationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r, 100, 1000)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		records, err := repo.ListRecent(r.Context(), strings.ToLower(r.URL.Query().Get("exchange")), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list reconciliation records")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	}
}

// ListEventsHandler returns the newest audit events.
func ListEventsHandler(repo eventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r, 100, 1000)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		events, err := repo.ListRecent(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list events")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	}
}
