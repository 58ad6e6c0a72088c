package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"banking-ledger/auth"

	"github.com/shopspring/decimal"
)

// ExchangeRate is the Frankfurter /latest response.
type ExchangeRate struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	q := url.Values{"from": {from}, "to": {to}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate service returned %s", resp.Status)
	}

	var exchangeRate ExchangeRate
	if err := json.NewDecoder(resp.Body).Decode(&exchangeRate); err != nil {
		return decimal.Zero, err
	}

	rate, ok := exchangeRate.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate not found for %s", to)
	}

	return rate, nil
}

// Amounts outside these bounds are refused before Mul and Round, which
// would otherwise rescale "1e999999999" into a billion-digit integer.
const (
	maxIntegerDigits = 15
	minExponent      = -10
)

func validAmount(amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	return amount.Exponent() >= minExponent &&
		amount.NumDigits()+int(amount.Exponent()) <= maxIntegerDigits
}

type Conversion struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Converted decimal.Decimal `json:"converted"`
}

// ConvertHandler serves GET /convert?from=USD&to=EUR&amount=10.
func (c *Client) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	amountStr := r.URL.Query().Get("amount")

	if from == "" || to == "" || amountStr == "" {
		auth.RespondWithError(w, http.StatusBadRequest, "Missing required query parameters: from, to, amount")
		return
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil || !validAmount(amount) {
		auth.RespondWithError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	rate, err := c.GetRate(r.Context(), from, to)
	if err != nil {
		auth.RespondWithError(w, http.StatusBadGateway, fmt.Sprintf("Failed to get exchange rate: %v", err))
		return
	}

	auth.JSON(w, http.StatusOK, Conversion{
		From:      strings.ToUpper(from),
		To:        strings.ToUpper(to),
		Amount:    amount,
		Rate:      rate,
		Converted: amount.Mul(rate).Round(2),
	})
}
