package http

import (
	"net/http"
	"time"

	"finledger/internal/core"
	"finledger/internal/gateway"
)

type transactionView struct {
	ID          string    `json:"id"`
	DisplayCode string    `json:"display_code"`
	AccountID   string    `json:"account_id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	Date        time.Time `json:"date"`
	Note        string    `json:"note,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

func toTransactionView(tx core.Transaction) transactionView {
	return transactionView{
		ID:          tx.ID,
		DisplayCode: tx.DisplayCode,
		AccountID:   tx.AccountID,
		Type:        string(tx.Type),
		Amount:      tx.Amount.Decimal(tx.Currency).StringFixed(tx.Currency.Exponent()),
		Currency:    string(tx.Currency),
		Category:    tx.Category,
		Date:        tx.Date,
		Note:        tx.Note,
		Tags:        tx.Tags,
	}
}

type recordTransactionRequest struct {
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Category  string `json:"category"`
	Date      string `json:"date"` // YYYY-MM-DD, defaults to today
	Note      string `json:"note"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accountID := r.URL.Query().Get("account_id")
		f := gateway.Filter{
			Type:     core.TransactionType(r.URL.Query().Get("type")),
			Category: r.URL.Query().Get("category"),
		}
		if v := r.URL.Query().Get("since"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid since date")
				return
			}
			f.Since = t
		}
		if v := r.URL.Query().Get("until"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid until date")
				return
			}
			f.Until = t
		}

		txs, err := s.svc.Transactions(r.Context(), accountID, f)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		views := make([]transactionView, 0, len(txs))
		for _, tx := range txs {
			views = append(views, toTransactionView(tx))
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": views})

	case http.MethodPost:
		var req recordTransactionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.AccountID == "" {
			writeError(w, http.StatusBadRequest, "missing account_id")
			return
		}
		txType := core.TransactionType(req.Type)
		if txType != core.Income && txType != core.Expense {
			writeError(w, http.StatusUnprocessableEntity, "type must be income or expense")
			return
		}

		// Amounts arrive as decimal strings in the account's currency.
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

		tx := core.Transaction{
			AccountID: req.AccountID,
			Type:      txType,
			Amount:    amount,
			Category:  sanitizeInput(req.Category),
			Note:      sanitizeInput(req.Note),
		}
		if req.Date != "" {
			date, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "invalid date, want YYYY-MM-DD")
				return
			}
			tx.Date = date
		}

		recorded, err := s.svc.RecordTransaction(r.Context(), tx)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		s.invalidateBalance(recorded.AccountID)
		writeJSON(w, http.StatusCreated, toTransactionView(recorded))

	default:
		methodNotAllowed(w, "GET", "POST")
	}
}
