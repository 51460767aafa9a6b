package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/transfer"
)

type transferView struct {
	Correlator string          `json:"correlator"`
	Kind       string          `json:"kind"`
	Expense    transactionView `json:"expense"`
	Income     transactionView `json:"income"`
}

func toTransferView(tr core.Transfer) transferView {
	return transferView{
		Correlator: tr.Correlator,
		Kind:       string(tr.Kind),
		Expense:    toTransactionView(tr.Expense),
		Income:     toTransactionView(tr.Income),
	}
}

type commitTransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"` // in the source account's currency
	Rate          string `json:"rate"`   // optional; resolved via the rate provider when absent
	Category      string `json:"category"`
	Note          string `json:"note"`
	Date          string `json:"date"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.svc.Transfers(r.Context(), r.URL.Query().Get("account_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		complete := make([]transferView, 0, len(rec.Complete))
		for _, tr := range rec.Complete {
			complete = append(complete, toTransferView(tr))
		}
		partial := make(map[string][]transactionView, len(rec.Partial))
		for correlator, legs := range rec.Partial {
			views := make([]transactionView, 0, len(legs))
			for _, tx := range legs {
				views = append(views, toTransactionView(tx))
			}
			partial[correlator] = views
		}
		malformed := make([]transactionView, 0, len(rec.Malformed))
		for _, tx := range rec.Malformed {
			malformed = append(malformed, toTransactionView(tx))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"complete":  complete,
			"partial":   partial,
			"malformed": malformed,
		})

	case http.MethodPost:
		var req commitTransferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.FromAccountID == "" || req.ToAccountID == "" {
			writeError(w, http.StatusBadRequest, "missing from_account_id or to_account_id")
			return
		}

		from, err := s.svc.Account(r.Context(), req.FromAccountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		amount, err := core.ParseDecimal(req.Amount, from.Currency)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid amount")
			return
		}

		rate, err := s.resolveRate(r, req, from.Currency)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		treq := transfer.Request{
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        amount,
			Rate:          rate,
			Category:      sanitizeInput(req.Category),
			Note:          sanitizeInput(req.Note),
		}
		if req.Date != "" {
			date, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "invalid date, want YYYY-MM-DD")
				return
			}
			treq.Date = date
		}

		committed, err := s.svc.Transfer(r.Context(), treq)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		s.invalidateBalance(req.FromAccountID, req.ToAccountID)
		writeJSON(w, http.StatusCreated, toTransferView(committed))

	default:
		methodNotAllowed(w, "GET", "POST")
	}
}

// resolveRate picks the exchange rate for a transfer request: an explicit
// rate wins, same-currency pairs are always 1, and anything else goes through
// the configured rate provider.
func (s *Server) resolveRate(r *http.Request, req commitTransferRequest, fromCurrency core.Currency) (decimal.Decimal, error) {
	if req.Rate != "" {
		rate, err := decimal.NewFromString(req.Rate)
		if err != nil {
			return decimal.Decimal{}, core.ErrInvalidExchangeRate
		}
		return rate, nil
	}

	to, err := s.svc.Account(r.Context(), req.ToAccountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if to.Currency == fromCurrency {
		return decimal.NewFromInt(1), nil
	}
	if s.rateProv == nil {
		return decimal.Decimal{}, core.ErrInvalidExchangeRate
	}
	return s.rateProv.Rate(r.Context(), fromCurrency, to.Currency)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	from := core.Currency(r.URL.Query().Get("from"))
	to := core.Currency(r.URL.Query().Get("to"))
	if from.Validate() != nil || to.Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid currency pair")
		return
	}
	if s.rateProv == nil {
		writeError(w, http.StatusServiceUnavailable, "rate provider not configured")
		return
	}

	rate, err := s.rateProv.Rate(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"from": string(from),
		"to":   string(to),
		"rate": rate.String(),
	})
}
