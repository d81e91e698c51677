package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SessionRequest is everything SSLCommerz needs to open a hosted payment page.
type SessionRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string

	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerAddress  string
	CustomerCity     string
	CustomerPostcode string
	CustomerCountry  string

	ProductName     string
	ProductCategory string
	NumItems        int
}

type Session struct {
	SessionKey  string
	RedirectURL string
}

// Validation is the server-to-server verdict on a callback's val_id.
type Validation struct {
	Status        string
	TransactionID string
	ValidationID  string
	Amount        decimal.Decimal
	Currency      string
	BankTranID    string
	CardType      string
}

// Valid reports whether SSLCommerz vouches for the transaction.
func (v *Validation) Valid() bool {
	return v.Status == "VALID" || v.Status == "VALIDATED"
}

type SSLCommerzGateway struct {
	baseURL       string
	storeID       string
	storePassword string
	httpClient    *http.Client
}

func NewSSLCommerzGateway(baseURL, storeID, storePassword string, httpClient *http.Client) *SSLCommerzGateway {
	return &SSLCommerzGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		storeID:       storeID,
		storePassword: storePassword,
		httpClient:    httpClient,
	}
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// InitSession creates a hosted payment session. It is not retried so a slow
// gateway can never end up with two sessions for one transaction.
func (g *SSLCommerzGateway) InitSession(ctx context.Context, r SessionRequest) (*Session, error) {
	form := url.Values{}
	form.Set("store_id", g.storeID)
	form.Set("store_passwd", g.storePassword)
	form.Set("total_amount", r.Amount.StringFixed(2))
	form.Set("currency", strings.ToUpper(r.Currency))
	form.Set("tran_id", r.TransactionID)
	form.Set("success_url", r.SuccessURL)
	form.Set("fail_url", r.FailURL)
	form.Set("cancel_url", r.CancelURL)
	form.Set("ipn_url", r.IPNURL)
	form.Set("cus_name", r.CustomerName)
	form.Set("cus_email", r.CustomerEmail)
	form.Set("cus_phone", r.CustomerPhone)
	form.Set("cus_add1", r.CustomerAddress)
	form.Set("cus_city", r.CustomerCity)
	form.Set("cus_postcode", r.CustomerPostcode)
	form.Set("cus_country", r.CustomerCountry)
	form.Set("shipping_method", "YES")
	form.Set("ship_name", r.CustomerName)
	form.Set("ship_add1", r.CustomerAddress)
	form.Set("ship_city", r.CustomerCity)
	form.Set("ship_postcode", r.CustomerPostcode)
	form.Set("ship_country", r.CustomerCountry)
	form.Set("num_of_item", strconv.Itoa(r.NumItems))
	form.Set("product_name", r.ProductName)
	form.Set("product_category", r.ProductCategory)
	form.Set("product_profile", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/gwprocess/v4/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp sessionResponse
	if err := g.do(req, "init session", &resp); err != nil {
		return nil, err
	}

	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		reason := resp.FailedReason
		if reason == "" {
			reason = "session was not created"
		}
		return nil, &Error{Gateway: "sslcommerz", Op: "init session", Message: reason}
	}

	return &Session{SessionKey: resp.SessionKey, RedirectURL: resp.GatewayPageURL}, nil
}

type validationResponse struct {
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	ValID      string `json:"val_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	BankTranID string `json:"bank_tran_id"`
	CardType   string `json:"card_type"`
}

// Validate asks SSLCommerz whether valID belongs to a genuine, completed
// transaction. It is a read and is retried once on transient failures.
func (g *SSLCommerzGateway) Validate(ctx context.Context, valID string) (*Validation, error) {
	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", g.storeID)
	q.Set("store_passwd", g.storePassword)
	q.Set("format", "json")
	endpoint := g.baseURL + "/validator/api/validationserverAPI.php?" + q.Encode()

	return retryOnce(ctx, "sslcommerz validate", func() (*Validation, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var resp validationResponse
		if err := g.do(req, "validate", &resp); err != nil {
			return nil, err
		}

		v := &Validation{
			Status:        strings.ToUpper(resp.Status),
			TransactionID: resp.TranID,
			ValidationID:  resp.ValID,
			Currency:      resp.Currency,
			BankTranID:    resp.BankTranID,
			CardType:      resp.CardType,
		}
		if resp.Amount != "" {
			amount, err := decimal.NewFromString(resp.Amount)
			if err != nil {
				return nil, &Error{Gateway: "sslcommerz", Op: "validate", Message: "malformed amount", Err: err}
			}
			v.Amount = amount
		}
		return v, nil
	})
}

func (g *SSLCommerzGateway) do(req *http.Request, op string, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Error{Gateway: "sslcommerz", Op: op, Message: "payment provider unavailable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Gateway: "sslcommerz", Op: op, Message: "payment provider unavailable", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Gateway: "sslcommerz", Op: op, Message: fmt.Sprintf("unexpected response %d", resp.StatusCode), Status: resp.StatusCode}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Gateway: "sslcommerz", Op: op, Message: "malformed response", Err: err}
	}
	return nil
}
