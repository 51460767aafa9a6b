package http

import (
	"net/http"
	"time"

	"finledger/internal/core"
)

type allocationView struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Mode          string    `json:"mode"`
	ModeValue     string    `json:"mode_value"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAllocationView(rec core.DonationSavingRecord) allocationView {
	return allocationView{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		Mode:          string(rec.Mode),
		ModeValue:     rec.ModeValue.String(),
		Amount:        rec.Amount.Decimal(rec.Currency).StringFixed(rec.Currency.Exponent()),
		Currency:      string(rec.Currency),
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
	}
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	records, err := s.svc.ListAllocations(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]allocationView, 0, len(records))
	for _, rec := range records {
		views = append(views, toAllocationView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": views})
}

func (s *Server) handleAllocationToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	rec, err := s.svc.Allocations().ToggleStatus(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationView(rec))
}

// totalsView keeps donated and pending apart per currency; clients must not
// sum the two.
type totalsView struct {
	Donated string `json:"donated"`
	Pending string `json:"pending"`
}

func (s *Server) handleAllocationTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	totals, err := s.svc.Allocations().Totals(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make(map[string]totalsView, len(totals))
	for currency, t := range totals {
		views[string(currency)] = totalsView{
			Donated: t.Donated.Decimal(currency).StringFixed(currency.Exponent()),
			Pending: t.Pending.Decimal(currency).StringFixed(currency.Exponent()),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": views})
}
