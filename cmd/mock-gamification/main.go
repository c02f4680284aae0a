package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type pointsRequest struct {
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Amount    string `json:"amount"`
	Points    int64  `json:"points"`
	Reference string `json:"reference"`
}

// ledger keeps running point totals per user and remembers references so a
// retried award is not counted twice.
type ledger struct {
	mu     sync.Mutex
	totals map[string]int64
	seen   map[string]bool
}

func (l *ledger) award(req pointsRequest) (total int64, duplicate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := req.UserID + "/" + req.Action + "/" + req.Reference
	if req.Reference != "" && l.seen[key] {
		return l.totals[req.UserID], true
	}
	l.seen[key] = true
	l.totals[req.UserID] += req.Points
	return l.totals[req.UserID], false
}

func (l *ledger) total(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[userID]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func main() {
	logging.Init(logging.Options{Service: "mock-gamification", Level: "info", Format: logging.FormatFor(os.Getenv("APP_ENV"))})

	addr := os.Getenv("MOCK_GAMIFICATION_ADDR")
	if addr == "" {
		addr = ":8082"
	}
	book := &ledger{totals: make(map[string]int64), seen: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /points", func(w http.ResponseWriter, r *http.Request) {
		var req pointsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Points <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and positive points required"})
			return
		}
		total, duplicate := book.award(req)
		slog.Info("points awarded",
			"user_id", req.UserID,
			"action", req.Action,
			"amount", req.Amount,
			"points", req.Points,
			"reference", req.Reference,
			"duplicate", duplicate,
			"total", total,
		)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "total": total, "duplicate": duplicate})
	})
	mux.HandleFunc("GET /points/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("user_id")
		writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "total": book.total(id)})
	})

	slog.Info("mock gamification started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
