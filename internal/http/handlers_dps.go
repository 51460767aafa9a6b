package http

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/dps"
)

type enableDPSRequest struct {
	AccountID        string `json:"account_id"`
	Type             string `json:"type"`        // daily, weekly, monthly, yearly
	AmountType       string `json:"amount_type"` // fixed or percent
	FixedAmount      string `json:"fixed_amount"`
	Percent          string `json:"percent"`
	SavingsAccountID string `json:"savings_account_id"`
}

func (s *Server) handleDPSEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req enableDPSRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "missing account_id")
		return
	}

	account, err := s.svc.Account(r.Context(), req.AccountID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	enable := dps.EnableRequest{
		AccountID:        req.AccountID,
		Type:             core.RepetitionType(req.Type),
		AmountType:       core.DPSAmountType(req.AmountType),
		SavingsAccountID: req.SavingsAccountID,
	}
	switch enable.AmountType {
	case core.AmountFixed:
		amount, err := core.ParseDecimal(req.FixedAmount, account.Currency)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid fixed amount")
			return
		}
		enable.FixedAmount = amount
	case core.AmountPercent:
		percent, err := decimal.NewFromString(req.Percent)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid percent")
			return
		}
		enable.Percent = percent
	default:
		writeError(w, http.StatusUnprocessableEntity, "amount_type must be fixed or percent")
		return
	}

	updated, err := s.dpsMgr.Enable(r.Context(), enable)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(updated))
}

type dpsAccountRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func (s *Server) handleDPSDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req dpsAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "missing account_id")
		return
	}
	if err := s.dpsMgr.Disable(r.Context(), req.AccountID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDPSContribute(w http.ResponseWriter, r *http.Request) {
	s.handleDPSMove(w, r, s.dpsMgr.Contribute)
}

func (s *Server) handleDPSWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleDPSMove(w, r, s.dpsMgr.Withdraw)
}

func (s *Server) handleDPSMove(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, accountID string, amount core.Money) (core.Transfer, error),
) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req dpsAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "missing account_id")
		return
	}

	account, err := s.svc.Account(r.Context(), req.AccountID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	amount, err := core.ParseDecimal(req.Amount, account.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	committed, err := move(r.Context(), req.AccountID, amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.invalidateBalance(committed.Expense.AccountID, committed.Income.AccountID)
	writeJSON(w, http.StatusCreated, toTransferView(committed))
}

type dpsTransferRecordView struct {
	ID            string    `json:"id"`
	Correlator    string    `json:"correlator"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Units         int64     `json:"units"`
	Direction     string    `json:"direction"`
	Date          time.Time `json:"date"`
}

func (s *Server) handleDPSTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account_id")
		return
	}
	records, err := s.svc.DPSTransfers(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]dpsTransferRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, dpsTransferRecordView{
			ID:            rec.ID,
			Correlator:    rec.Correlator,
			FromAccountID: rec.FromAccountID,
			ToAccountID:   rec.ToAccountID,
			Units:         rec.Amount.Units,
			Direction:     string(rec.Direction),
			Date:          rec.Date,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dps_transfers": views})
}
