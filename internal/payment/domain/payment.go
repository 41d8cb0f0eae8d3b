package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ParseStatus maps a remote status string onto the canonical set.
// ok is false for values that carry no settlement meaning.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "successful", "succeeded", "completed", "paid":
		return StatusSuccess, true
	case "failed", "failure", "declined", "rejected", "error", "cancelled", "canceled":
		return StatusFailed, true
	case "pending", "processing", "in_progress":
		return StatusPending, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Customer struct {
	Phone string  `json:"phone"`
	Name  *string `json:"name,omitempty"`
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	Customer      Customer        `json:"customer"`
	MerchantID    string          `json:"merchantId"`
	Reference     *string         `json:"reference,omitempty"`
	OTP           *string         `json:"otp,omitempty"`
	CallbackURL   *string         `json:"callbackUrl,omitempty"`
}

const DefaultCurrency = "LSL"

func (r PaymentRequest) Validate() error {
	if strings.TrimSpace(r.PaymentMethod) == "" {
		return invalidRequest("paymentMethod is required")
	}
	if !r.Amount.IsPositive() {
		return invalidRequest("amount must be positive")
	}
	return nil
}

// CurrencyOrDefault returns the request currency, LSL when blank.
func (r PaymentRequest) CurrencyOrDefault() string {
	if c := strings.TrimSpace(r.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return DefaultCurrency
}

type PaymentResponse struct {
	ID                string          `json:"id"`
	Status            Status          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"paymentMethod"`
	CreatedAt         time.Time       `json:"createdAt"`
	CompletedAt       *time.Time      `json:"completedAt"`
	Errors            []string        `json:"errors"`
	MerchantID        string          `json:"merchantId"`
	CustomerPhone     *string         `json:"customerPhone"`
	ProviderReference string          `json:"providerReference"`
	CallbackURL       string          `json:"callbackUrl,omitempty"`
}

// MarshalJSON renders the amount as a JSON number.
func (p PaymentResponse) MarshalJSON() ([]byte, error) {
	type plain PaymentResponse
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(p), json.Number(p.Amount.String())})
}

// NewPending builds the initial view of a payment owned by method.
func NewPending(id, method string, req PaymentRequest, now time.Time) PaymentResponse {
	p := PaymentResponse{
		ID:            id,
		Status:        StatusPending,
		Amount:        req.Amount,
		Currency:      req.CurrencyOrDefault(),
		PaymentMethod: method,
		CreatedAt:     now.UTC(),
		Errors:        []string{},
		MerchantID:    req.MerchantID,
	}
	if phone := strings.TrimSpace(req.Customer.Phone); phone != "" {
		p.CustomerPhone = &phone
	}
	if req.CallbackURL != nil {
		p.CallbackURL = strings.TrimSpace(*req.CallbackURL)
	}
	return p
}

// Succeed moves a pending payment to success. Terminal payments are left alone.
func (p *PaymentResponse) Succeed(now time.Time) bool {
	if p.Status.Terminal() {
		return false
	}
	t := now.UTC()
	p.Status = StatusSuccess
	p.CompletedAt = &t
	return true
}

// Fail moves a pending payment to failed and appends diagnostics.
func (p *PaymentResponse) Fail(msgs ...string) bool {
	if p.Status.Terminal() {
		return false
	}
	p.Status = StatusFailed
	p.CompletedAt = nil
	p.AddErrors(msgs...)
	return true
}

func (p *PaymentResponse) AddErrors(msgs ...string) {
	for _, m := range msgs {
		if strings.TrimSpace(m) != "" {
			p.Errors = append(p.Errors, m)
		}
	}
}

func (p PaymentResponse) IsTerminal() bool {
	return p.Status.Terminal()
}

func (p PaymentResponse) Clone() PaymentResponse {
	c := p
	c.Errors = append([]string{}, p.Errors...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.CustomerPhone != nil {
		s := *p.CustomerPhone
		c.CustomerPhone = &s
	}
	return c
}

// SessionEntry caches remote-wallet session artifacts for one payment.
type SessionEntry struct {
	PaymentID         string
	ProviderReference string
	SessionToken      *string
	CreatedAt         time.Time
	LastStatusCheck   *time.Time
}

type Wallet struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Country string `json:"country"`
}
