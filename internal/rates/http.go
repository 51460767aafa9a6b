package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
)

// HTTPProvider fetches rates from a JSON endpoint of the form
// GET {base}?from=USD&to=EUR -> {"rate": "0.92"}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type rateResponse struct {
	// Rate arrives as a JSON string or number; json.Number keeps either form
	// out of binary floating point.
	Rate json.Number `json:"rate"`
}

func (p *HTTPProvider) Rate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("from", string(from))
	q.Set("to", string(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("fetch rate %s/%s: status %d", from, to, resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rate response: %w", err)
	}

	r, err := decimal.NewFromString(body.Rate.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", core.ErrInvalidExchangeRate, body.Rate)
	}
	if err := validateRate(r); err != nil {
		return decimal.Decimal{}, err
	}

	slog.DebugContext(ctx, "Fetched exchange rate", "from", from, "to", to, "rate", r)
	return r, nil
}
