package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"
)

type goalView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	TargetAmount     string    `json:"target_amount"`
	CurrentAmount    string    `json:"current_amount"`
	Currency         string    `json:"currency"`
	SourceAccountID  string    `json:"source_account_id"`
	SavingsAccountID string    `json:"savings_account_id"`
	CreatedAt        time.Time `json:"created_at"`
}

func toGoalView(g core.SavingsGoal, currency core.Currency) goalView {
	return goalView{
		ID:               g.ID,
		Name:             g.Name,
		TargetAmount:     g.TargetAmount.Decimal(currency).StringFixed(currency.Exponent()),
		CurrentAmount:    g.CurrentAmount.Decimal(currency).StringFixed(currency.Exponent()),
		Currency:         string(currency),
		SourceAccountID:  g.SourceAccountID,
		SavingsAccountID: g.SavingsAccountID,
		CreatedAt:        g.CreatedAt,
	}
}

type createGoalRequest struct {
	Name             string `json:"name"`
	TargetAmount     string `json:"target_amount"` // in the savings account's currency
	SourceAccountID  string `json:"source_account_id"`
	SavingsAccountID string `json:"savings_account_id"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		goals, err := s.svc.Goals(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		views := make([]goalView, 0, len(goals))
		for _, g := range goals {
			currency, err := s.goalCurrency(r, g)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			views = append(views, toGoalView(g, currency))
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": views})

	case http.MethodPost:
		var req createGoalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SavingsAccountID == "" || req.SourceAccountID == "" {
			writeError(w, http.StatusBadRequest, "missing source_account_id or savings_account_id")
			return
		}

		savings, err := s.svc.Account(r.Context(), req.SavingsAccountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		target, err := core.ParseDecimal(req.TargetAmount, savings.Currency)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid target amount")
			return
		}

		goal := core.SavingsGoal{
			Name:             sanitizeInput(req.Name),
			TargetAmount:     target,
			SourceAccountID:  req.SourceAccountID,
			SavingsAccountID: req.SavingsAccountID,
		}
		if err := goal.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		created, err := s.svc.CreateGoal(r.Context(), goal)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toGoalView(created, savings.Currency))

	default:
		methodNotAllowed(w, "GET", "POST")
	}
}

type addToGoalRequest struct {
	ID    string `json:"id"`
	Delta string `json:"delta"` // decimal, negative for corrections
}

func (s *Server) handleGoalAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req addToGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	goal, err := s.findGoal(r, req.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	currency, err := s.goalCurrency(r, goal)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	d, err := decimal.NewFromString(req.Delta)
	if err != nil || d.IsZero() {
		writeError(w, http.StatusUnprocessableEntity, "invalid delta")
		return
	}
	delta, err := core.FromDecimal(d, currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid delta")
		return
	}

	if err := s.svc.AddToGoal(r.Context(), req.ID, delta); err != nil {
		writeDomainError(w, r, err)
		return
	}
	updated, err := s.findGoal(r, req.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalView(updated, currency))
}

func (s *Server) findGoal(r *http.Request, id string) (core.SavingsGoal, error) {
	goals, err := s.svc.Goals(r.Context())
	if err != nil {
		return core.SavingsGoal{}, err
	}
	for _, g := range goals {
		if g.ID == id {
			return g, nil
		}
	}
	return core.SavingsGoal{}, gateway.ErrNotFound
}

// goalCurrency resolves the currency a goal's amounts are held in, which is
// the currency of its savings account.
func (s *Server) goalCurrency(r *http.Request, g core.SavingsGoal) (core.Currency, error) {
	account, err := s.svc.Account(r.Context(), g.SavingsAccountID)
	if err != nil {
		return "", err
	}
	return account.Currency, nil
}
