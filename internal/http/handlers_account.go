package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
)

type accountView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Currency       string    `json:"currency"`
	InitialBalance string    `json:"initial_balance"`
	Active         bool      `json:"active"`
	HasDPS         bool      `json:"has_dps"`
	DPSType        string    `json:"dps_type,omitempty"`
	DPSAmountType  string    `json:"dps_amount_type,omitempty"`
	DPSFixedAmount string    `json:"dps_fixed_amount,omitempty"`
	DPSPercent     string    `json:"dps_percent,omitempty"`
	SavingsAccount string    `json:"savings_account_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAccountView(a core.Account) accountView {
	v := accountView{
		ID:             a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       string(a.Currency),
		InitialBalance: a.InitialBalance.Decimal(a.Currency).StringFixed(a.Currency.Exponent()),
		Active:         a.Active,
		HasDPS:         a.HasDPS,
		SavingsAccount: a.DPSSavingsAccountID,
		CreatedAt:      a.CreatedAt,
	}
	if a.HasDPS {
		v.DPSType = string(a.DPSType)
		v.DPSAmountType = string(a.DPSAmountType)
		switch a.DPSAmountType {
		case core.AmountFixed:
			v.DPSFixedAmount = a.DPSFixedAmount.Decimal(a.Currency).StringFixed(a.Currency.Exponent())
		case core.AmountPercent:
			v.DPSPercent = a.DPSPercent.String()
		}
	}
	return v
}

type createAccountRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			account, err := s.svc.Account(r.Context(), id)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toAccountView(account))
			return
		}
		accounts, err := s.svc.Accounts(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		views := make([]accountView, 0, len(accounts))
		for _, a := range accounts {
			views = append(views, toAccountView(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": views})

	case http.MethodPost:
		var req createAccountRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		currency := core.Currency(sanitizeInput(req.Currency))
		initial := core.Money{}
		if req.InitialBalance != "" {
			d, err := decimal.NewFromString(req.InitialBalance)
			if err != nil || d.Sign() < 0 {
				writeError(w, http.StatusUnprocessableEntity, "invalid initial balance")
				return
			}
			initial, err = core.FromDecimal(d, currency)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "invalid initial balance")
				return
			}
		}

		account := core.Account{
			Name:           sanitizeInput(req.Name),
			Type:           core.AccountType(sanitizeInput(req.Type)),
			Currency:       currency,
			InitialBalance: initial,
			Active:         true,
		}
		if err := account.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		created, err := s.svc.CreateAccount(r.Context(), account)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAccountView(created))

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing id")
			return
		}
		if err := s.svc.DeleteAccount(r.Context(), id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		s.invalidateBalance(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, "GET", "POST", "DELETE")
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account_id")
		return
	}

	if view, ok := s.balances.Get(accountID); ok {
		writeJSON(w, http.StatusOK, view)
		return
	}

	balance, currency, err := s.svc.Balance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	view := balanceView{
		AccountID: accountID,
		Units:     balance.Units,
		Amount:    balance.Decimal(currency).StringFixed(currency.Exponent()),
		Currency:  string(currency),
	}
	s.balances.Set(accountID, view)
	writeJSON(w, http.StatusOK, view)
}
