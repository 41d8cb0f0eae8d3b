// Package mywallet integrates the MyWallet merchant API: login, checkUser,
// payMerchant with the customer's one-time code, and checkStatus polling.
//
// Session tokens and provider references are written to a SessionStore so a
// restarted process can keep reconciling pending payments with the cached
// token instead of logging in again.
package mywallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	Method         = "mywallet"
	DefaultTimeout = 30 * time.Second

	msgConfigMissing = "MyWallet configuration missing."
	msgNonSuccess    = "MyWallet payMerchant returned a non-success status."
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

func (c Config) complete() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// PaymentSource loads a persisted payment after a restart.
type PaymentSource interface {
	FindByID(ctx context.Context, id string) (domain.PaymentResponse, error)
}

type SessionStore interface {
	FindSession(ctx context.Context, paymentID string) (domain.SessionEntry, error)
	UpsertSession(ctx context.Context, e domain.SessionEntry) error
}

type entry struct {
	mu        sync.Mutex
	payment   domain.PaymentResponse
	token     *string
	createdAt time.Time
	lastCheck *time.Time
}

type Provider struct {
	log      *slog.Logger
	cfg      Config
	client   *Client
	payments PaymentSource
	sessions SessionStore
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewProvider builds the MyWallet rail. A nil httpClient gets one bounded by
// cfg.Timeout.
func NewProvider(log *slog.Logger, cfg Config, httpClient *http.Client, payments PaymentSource, sessions SessionStore) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if !cfg.complete() {
		log.Warn("mywallet configuration incomplete, payments will fail")
	}
	return &Provider{
		log:      log.With("method", Method),
		cfg:      cfg,
		client:   NewClient(httpClient, cfg.BaseURL),
		payments: payments,
		sessions: sessions,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

func (p *Provider) CreatePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	id := domain.NewPaymentID(Method)
	reference := id
	if req.Reference != nil && strings.TrimSpace(*req.Reference) != "" {
		reference = strings.TrimSpace(*req.Reference)
	}
	payment := domain.NewPending(id, Method, req, p.now())
	payment.ProviderReference = reference

	if err := ValidateOTP(req.OTP); err != nil {
		p.log.Warn("mywallet one-time code rejected", "payment_id", id, "err", err)
		payment.Fail(err.Error())
		return p.remember(ctx, payment, nil), nil
	}
	if !p.cfg.complete() {
		payment.Fail(msgConfigMissing)
		return p.remember(ctx, payment, nil), nil
	}

	// The three calls share one cfg.Timeout budget so a create always
	// answers inside the HTTP write timeout.
	authCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	token, err := p.authorize(authCtx, &payment, req)
	cancel()
	if err != nil {
		p.log.Error("mywallet payment creation failed", "payment_id", id, "reference", reference, "err", err)
		payment.Fail(err.Error())
	}
	return p.remember(ctx, payment, token), nil
}

// authorize runs login, checkUser and payMerchant, applying the result to
// payment. The session token is returned whenever login succeeded.
func (p *Provider) authorize(ctx context.Context, payment *domain.PaymentResponse, req domain.PaymentRequest) (*string, error) {
	sessionToken, err := p.client.Login(ctx, p.cfg.Username, p.cfg.Password)
	if err != nil {
		return nil, err
	}
	token := &sessionToken

	phone := ""
	if payment.CustomerPhone != nil {
		phone = *payment.CustomerPhone
	}
	paymentToken, err := p.client.CheckUser(ctx, sessionToken, CheckUserRequest{
		RecipientCell: phone,
		Amount:        req.Amount,
		Reference:     payment.ProviderReference,
	})
	if err != nil {
		return token, err
	}

	res, err := p.client.PayMerchant(ctx, sessionToken, paymentToken, strings.TrimSpace(*req.OTP))
	if err != nil {
		return token, err
	}
	if res.Reference != "" {
		payment.ProviderReference = res.Reference
	}

	status, ok := domain.ParseStatus(res.Status)
	if !ok {
		status = domain.StatusFailed
	}
	switch status {
	case domain.StatusSuccess:
		payment.Succeed(p.now())
		payment.AddErrors(res.Messages...)
	case domain.StatusFailed:
		payment.Fail(res.Messages...)
	default:
		payment.AddErrors(res.Messages...)
	}
	if status != domain.StatusSuccess && len(payment.Errors) == 0 {
		payment.AddErrors(msgNonSuccess)
	}
	return token, nil
}

// remember records the attempt in the session store and, while it is still
// pending, in memory. A session store failure only costs a later re-login,
// so it is logged, not returned.
func (p *Provider) remember(ctx context.Context, payment domain.PaymentResponse, token *string) domain.PaymentResponse {
	if payment.Status == domain.StatusPending {
		e := &entry{payment: payment.Clone(), token: token, createdAt: payment.CreatedAt}
		p.mu.Lock()
		p.entries[payment.ID] = e
		p.mu.Unlock()
	}

	err := p.sessions.UpsertSession(ctx, domain.SessionEntry{
		PaymentID:         payment.ID,
		ProviderReference: payment.ProviderReference,
		SessionToken:      token,
		CreatedAt:         payment.CreatedAt,
	})
	if err != nil {
		p.log.Error("mywallet session cache write failed", "payment_id", payment.ID, "err", err)
	}
	return payment
}

func (p *Provider) GetPayment(ctx context.Context, id string) (*domain.PaymentResponse, error) {
	if !strings.HasPrefix(id, Method+"_") {
		return nil, nil
	}
	e, err := p.lookup(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.payment.Status == domain.StatusPending && e.payment.ProviderReference != "" {
		p.reconcile(ctx, e)
	}
	if e.payment.Status != domain.StatusPending {
		p.forget(id)
	}
	out := e.payment.Clone()
	return &out, nil
}

// forget drops a settled payment; the ledger owns it from here on.
func (p *Provider) forget(id string) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// lookup returns the cached entry, rebuilding it from the ledger and the
// session store after a restart. Only pending payments are cached.
func (p *Provider) lookup(ctx context.Context, id string) (*entry, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if ok {
		return e, nil
	}

	payment, err := p.payments.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mywallet payment %s: %w", id, err)
	}
	e = &entry{payment: payment, createdAt: payment.CreatedAt}

	session, err := p.sessions.FindSession(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load mywallet session %s: %w", id, err)
	default:
		e.token = session.SessionToken
		e.createdAt = session.CreatedAt
		e.lastCheck = session.LastStatusCheck
		if e.payment.ProviderReference == "" {
			e.payment.ProviderReference = session.ProviderReference
		}
	}

	if e.payment.Status != domain.StatusPending {
		return e, nil
	}
	p.mu.Lock()
	if existing, ok := p.entries[id]; ok {
		e = existing
	} else {
		p.entries[id] = e
	}
	p.mu.Unlock()
	return e, nil
}

// reconcile refreshes a pending payment from checkStatus. Failures leave
// the payment at its last known status. Caller holds e.mu.
func (p *Provider) reconcile(ctx context.Context, e *entry) {
	id := e.payment.ID
	cached := e.token != nil && *e.token != ""

	var token string
	if cached {
		token = *e.token
	} else {
		if !p.cfg.complete() {
			p.log.Warn("mywallet reconcile skipped, configuration missing", "payment_id", id)
			return
		}
		t, err := p.client.Login(ctx, p.cfg.Username, p.cfg.Password)
		if err != nil {
			p.log.Warn("mywallet reconcile login failed", "payment_id", id, "err", err)
			return
		}
		token = t
	}

	raw, err := p.client.CheckStatus(ctx, token, e.payment.ProviderReference)
	if err != nil {
		p.log.Warn("mywallet reconcile failed", "payment_id", id, "err", err)
		var gerr *GatewayError
		if cached && errors.As(err, &gerr) && gerr.StatusCode == http.StatusUnauthorized {
			e.token = nil
			p.saveSession(ctx, e)
		}
		return
	}

	now := p.now()
	e.token = &token
	e.lastCheck = &now
	switch status, _ := domain.ParseStatus(raw); status {
	case domain.StatusSuccess:
		e.payment.Succeed(now)
	case domain.StatusFailed:
		e.payment.Fail(fmt.Sprintf("MyWallet checkStatus reported %s", raw))
	}
	p.saveSession(ctx, e)
}

func (p *Provider) saveSession(ctx context.Context, e *entry) {
	err := p.sessions.UpsertSession(ctx, domain.SessionEntry{
		PaymentID:         e.payment.ID,
		ProviderReference: e.payment.ProviderReference,
		SessionToken:      e.token,
		CreatedAt:         e.createdAt,
		LastStatusCheck:   e.lastCheck,
	})
	if err != nil {
		p.log.Error("mywallet session cache write failed", "payment_id", e.payment.ID, "err", err)
	}
}

// GetBalance is unsupported: the MyWallet API exposes no balance endpoint.
func (p *Provider) GetBalance(context.Context, string) (*decimal.Decimal, error) {
	return nil, nil
}
