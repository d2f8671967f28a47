package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/predict"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports whether the ledger is loaded and which model provider
// serves predictions.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	if s.ledger != nil && s.ledger.Ready() {
		checks["ledger"] = "ok"
	} else {
		checks["ledger"] = "not_loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.predictions.Enabled() {
		checks["predictions"] = s.predictions.Provider()
	} else {
		checks["predictions"] = "disabled"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	rateLimitHits, suspicious := s.metrics.snapshot()

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", suspicious)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.ActiveClients())

	if c := s.predictions.Cache(); c != nil {
		st := c.Stats()
		fmt.Fprintf(w, "# HELP prediction_cache_hits_total Prediction cache hits\n")
		fmt.Fprintf(w, "# TYPE prediction_cache_hits_total counter\n")
		fmt.Fprintf(w, "prediction_cache_hits_total %d\n\n", st.Hits)
		fmt.Fprintf(w, "# HELP prediction_cache_misses_total Prediction cache misses\n")
		fmt.Fprintf(w, "# TYPE prediction_cache_misses_total counter\n")
		fmt.Fprintf(w, "prediction_cache_misses_total %d\n\n", st.Misses)
	}

	if s.ledger != nil {
		fmt.Fprintf(w, "# HELP ledger_transactions Stored transactions\n")
		fmt.Fprintf(w, "# TYPE ledger_transactions gauge\n")
		fmt.Fprintf(w, "ledger_transactions %d\n\n", len(s.ledger.Transactions(ledger.Filter{})))
	}

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.started).Seconds())
}

type dashboardResponse struct {
	Balance            core.Money         `json:"balance"`
	Drift              core.Money         `json:"drift"`
	Recent             []core.Transaction `json:"recent"`
	Month              core.MonthReport   `json:"month"`
	PredictionsEnabled bool               `json:"predictionsEnabled"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	today := s.ledger.Today()
	writeJSON(w, http.StatusOK, dashboardResponse{
		Balance:            s.ledger.Balance(),
		Drift:              s.ledger.Drift(),
		Recent:             s.ledger.Recent(recentCount),
		Month:              s.ledger.MonthReport(today.Year(), today.Month()),
		PredictionsEnabled: s.predictions.Enabled(),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpList, err)
		return
	}
	txs := s.ledger.Transactions(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

type mutationResponse struct {
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Balance     core.Money        `json:"balance"`
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}

	in, err := s.parseExpense(p)
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}

	t, err := s.ledger.AddExpense(r.Context(), in)
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}
	s.logMutation(r.Context(), log.OpCreate, t)
	writeJSON(w, http.StatusCreated, mutationResponse{Transaction: &t, Balance: s.ledger.Balance()})
}

func (s *Server) parseExpense(p *RequestBodyParser) (core.NewExpense, error) {
	amount, err := core.ParseMoney(p.Get("amount"))
	if err != nil {
		return core.NewExpense{}, err
	}
	category, err := core.ParseCategory(p.Get("category"))
	if err != nil {
		return core.NewExpense{}, err
	}
	date := s.ledger.Today()
	if v := p.Get("date"); v != "" {
		if date, err = core.ParseDate(v); err != nil {
			return core.NewExpense{}, err
		}
	}
	return core.NewExpense{
		Name:        p.Get("name"),
		Amount:      amount,
		Category:    category,
		Date:        date,
		Description: p.Get("description"),
	}, nil
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}

	amount, err := core.ParseMoney(p.Get("amount"))
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}

	t, err := s.ledger.AddFunds(r.Context(), amount, p.Get("description"))
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpCreate, err)
		return
	}
	s.logMutation(r.Context(), log.OpCreate, t)
	writeJSON(w, http.StatusCreated, mutationResponse{Transaction: &t, Balance: s.ledger.Balance()})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))

	found, err := s.ledger.DeleteTransaction(r.Context(), id)
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpDelete, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldTransactionID, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": id,
		"balance": s.ledger.Balance(),
	})
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeDomainError(r.Context(), w, log.OpUpdate, err)
		return
	}

	balance, err := core.ParseBalance(p.Get("balance"))
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpUpdate, err)
		return
	}
	if err := s.ledger.UpdateCurrentBalance(r.Context(), balance); err != nil {
		s.writeDomainError(r.Context(), w, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance": s.ledger.Balance(),
		"drift":   s.ledger.Drift(),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categories":     core.ExpenseCategories(),
		"incomeCategory": core.FundsAdded,
		"periods":        predict.Periods,
		"defaultPeriod":  predict.DefaultPeriod,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.ledger.Today())
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.MonthReport(params.Year, params.Month))
}

type predictionResponse struct {
	Prediction predict.Result `json:"prediction"`
	Impact     predict.Impact `json:"impact"`
	Period     string         `json:"period"`
	Provider   string         `json:"provider"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeDomainError(r.Context(), w, log.OpPredict, err)
		return
	}

	period, err := predict.NormalizePeriod(p.Get("period"))
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpPredict, err)
		return
	}

	// History is a copy; the ledger lock is not held during the model call.
	res, err := s.predictions.Predict(r.Context(), s.ledger.Expenses(), period)
	if err != nil {
		s.writeDomainError(r.Context(), w, log.OpPredict, err)
		return
	}

	writeJSON(w, http.StatusOK, predictionResponse{
		Prediction: res,
		Impact:     predict.ComputeImpact(s.ledger.Balance(), res),
		Period:     period,
		Provider:   s.predictions.Provider(),
	})
}

func (s *Server) logMutation(ctx context.Context, op string, t core.Transaction) {
	s.access.LogTransaction(ctx, op, t.ID, string(t.Type), string(t.Category), t.Amount.Cents)
}
