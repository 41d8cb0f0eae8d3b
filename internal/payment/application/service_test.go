package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/application"
	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/memory"
	"github.com/dmehra2102/payment-aggregator/internal/payment/providers/simulator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingLedger wraps the memory ledger and records writes.
type countingLedger struct {
	*memory.Ledger
	mu       sync.Mutex
	upserts  int
	findErr  error
	writeErr error
}

func (c *countingLedger) FindByID(ctx context.Context, id string) (domain.PaymentResponse, error) {
	if c.findErr != nil {
		return domain.PaymentResponse{}, c.findErr
	}
	return c.Ledger.FindByID(ctx, id)
}

func (c *countingLedger) Upsert(ctx context.Context, p domain.PaymentResponse) error {
	c.mu.Lock()
	c.upserts++
	c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	return c.Ledger.Upsert(ctx, p)
}

func (c *countingLedger) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts
}

// stubProvider serves canned answers.
type stubProvider struct {
	create    func(domain.PaymentRequest) (domain.PaymentResponse, error)
	payments  map[string]domain.PaymentResponse
	getErr    error
	balance   *decimal.Decimal
	getCalled int
}

func (s *stubProvider) CreatePayment(_ context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	return s.create(req)
}

func (s *stubProvider) GetPayment(_ context.Context, id string) (*domain.PaymentResponse, error) {
	s.getCalled++
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *stubProvider) GetBalance(context.Context, string) (*decimal.Decimal, error) {
	return s.balance, nil
}

func request(method string, amount int64) domain.PaymentRequest {
	return domain.PaymentRequest{
		Amount:        decimal.NewFromInt(amount),
		Currency:      "LSL",
		PaymentMethod: method,
		MerchantID:    "merchant-1",
		Customer:      domain.Customer{Phone: "+26650000000"},
	}
}

func simulated(t *testing.T, rails ...simulator.Rail) *application.Registry {
	t.Helper()
	sched := simulator.NewScheduler(context.Background())
	t.Cleanup(func() { _ = sched.Close() })
	providers := make(map[string]application.Provider, len(rails))
	for _, r := range rails {
		providers[r.Code] = simulator.NewProvider(discard(), r, sched)
	}
	return application.RegistryOf(providers)
}

func TestCreatePaymentUnsupportedMethod(t *testing.T) {
	ledger := &countingLedger{Ledger: memory.NewLedger()}
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	_, err := svc.CreatePayment(context.Background(), request("paypal", 10))
	require.ErrorIs(t, err, domain.ErrUnsupportedMethod)
	assert.Contains(t, err.Error(), "paypal")
	assert.Zero(t, ledger.writes())
}

func TestCreatePaymentInvalidAmount(t *testing.T) {
	ledger := &countingLedger{Ledger: memory.NewLedger()}
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	_, err := svc.CreatePayment(context.Background(), request("card", 0))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, ledger.writes())
}

func TestCardPaymentSettlesImmediately(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	created, err := svc.CreatePayment(ctx, request("CARD", 250))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, created.Status)
	assert.Equal(t, "card", created.PaymentMethod)
	require.NotNil(t, created.CompletedAt)

	stored, err := ledger.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)

	fetched, err := svc.GetPayment(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, domain.StatusSuccess, fetched.Status)
}

func TestDelayedRailSettlesAndLedgerFollows(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	rail := simulator.Mpesa()
	rail.Settlement = 30 * time.Millisecond
	svc := application.NewService(discard(), simulated(t, rail), ledger)

	created, err := svc.CreatePayment(ctx, request("mpesa", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Nil(t, created.CompletedAt)

	require.Eventually(t, func() bool {
		p, err := svc.GetPayment(ctx, created.ID)
		return err == nil && p.Status == domain.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := ledger.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestCreatePaymentProviderFault(t *testing.T) {
	ledger := &countingLedger{Ledger: memory.NewLedger()}
	broken := &stubProvider{create: func(domain.PaymentRequest) (domain.PaymentResponse, error) {
		return domain.PaymentResponse{}, errors.New("connection reset")
	}}
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"cpay": broken}), ledger)

	_, err := svc.CreatePayment(context.Background(), request("cpay", 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, ledger.writes())
}

func TestCreatePaymentPersistenceFault(t *testing.T) {
	ledger := &countingLedger{Ledger: memory.NewLedger(), writeErr: errors.New("disk full")}
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	_, err := svc.CreatePayment(context.Background(), request("card", 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestFailedBusinessOutcomeIsPersisted(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	declining := &stubProvider{create: func(req domain.PaymentRequest) (domain.PaymentResponse, error) {
		p := domain.NewPending("khetsi_declined1", "khetsi", req, time.Now())
		p.Fail("insufficient funds")
		return p, nil
	}}
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"khetsi": declining}), ledger)

	resp, err := svc.CreatePayment(ctx, request("khetsi", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)

	stored, err := ledger.FindByID(ctx, "khetsi_declined1")
	require.NoError(t, err)
	assert.Equal(t, []string{"insufficient funds"}, stored.Errors)
}

func TestGetPaymentRecoversFromProviders(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	now := time.Now().UTC()
	known := domain.NewPending("eft_abc", "eft", request("eft", 40), now)
	first := &stubProvider{}
	second := &stubProvider{payments: map[string]domain.PaymentResponse{known.ID: known}}
	registry := application.RegistryOf(map[string]application.Provider{"cpay": first, "eft": second})
	svc := application.NewService(discard(), registry, ledger)

	got, err := svc.GetPayment(ctx, known.ID)
	require.NoError(t, err)
	assert.Equal(t, known.ID, got.ID)
	assert.Equal(t, 1, first.getCalled)

	stored, err := ledger.FindByID(ctx, known.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestGetPaymentScanSkipsFailingProviders(t *testing.T) {
	ctx := context.Background()
	known := domain.NewPending("mpesa_zz", "mpesa", request("mpesa", 40), time.Now())
	failing := &stubProvider{getErr: errors.New("timeout")}
	knows := &stubProvider{payments: map[string]domain.PaymentResponse{known.ID: known}}
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"card": failing, "mpesa": knows}), memory.NewLedger())

	got, err := svc.GetPayment(ctx, known.ID)
	require.NoError(t, err)
	assert.Equal(t, known.ID, got.ID)
}

func TestGetPaymentNotFound(t *testing.T) {
	svc := application.NewService(discard(), simulated(t, simulator.Card(), simulator.Eft()), memory.NewLedger())

	_, err := svc.GetPayment(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPaymentLedgerFault(t *testing.T) {
	ledger := &countingLedger{Ledger: memory.NewLedger(), findErr: errors.New("pool closed")}
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	_, err := svc.GetPayment(context.Background(), "card_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPaymentUnknownToProviderReturnsStored(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	stored := domain.NewPending("cpay_1", "cpay", request("cpay", 5), time.Now())
	require.NoError(t, ledger.Upsert(ctx, stored))
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"cpay": &stubProvider{}}), ledger)

	got, err := svc.GetPayment(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestGetPaymentIgnoresTerminalRegression(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	now := time.Now()
	settled := domain.NewPending("ecocash_1", "ecocash", request("ecocash", 5), now)
	settled.Succeed(now)
	require.NoError(t, ledger.Upsert(ctx, settled))

	stale := domain.NewPending(settled.ID, "ecocash", request("ecocash", 5), now)
	provider := &stubProvider{payments: map[string]domain.PaymentResponse{stale.ID: stale}}
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"ecocash": provider}), ledger)

	got, err := svc.GetPayment(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestGetAllPaymentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"card_a", "card_b", "card_c"} {
		require.NoError(t, ledger.Upsert(ctx, domain.NewPending(id, "card", request("card", 1), base.Add(time.Duration(i)*time.Minute))))
	}
	svc := application.NewService(discard(), simulated(t, simulator.Card()), ledger)

	all, err := svc.GetAllPayments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"card_c", "card_b", "card_a"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestGetBalance(t *testing.T) {
	ctx := context.Background()
	svc := application.NewService(discard(), simulated(t, simulator.Card(), simulator.Mpesa(), simulator.Cpay()), memory.NewLedger())

	b, ok, err := svc.GetBalance(ctx, "MPESA", "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, b)
	assert.True(t, decimal.RequireFromString("1234.56").Equal(*b))

	b, ok, err = svc.GetBalance(ctx, "card", "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, b)

	first, _, _ := svc.GetBalance(ctx, "cpay", "acc-1")
	again, _, _ := svc.GetBalance(ctx, "cpay", "acc-1")
	require.NotNil(t, first)
	assert.True(t, first.Equal(*again))

	_, ok, err = svc.GetBalance(ctx, "bitcoin", "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = svc.GetBalance(ctx, "  ", "acc-1")
	assert.False(t, ok)
}

func TestListWalletsIsACopy(t *testing.T) {
	svc := application.NewService(discard(), application.RegistryOf(nil), memory.NewLedger())

	wallets := svc.ListWallets()
	require.Len(t, wallets, 7)
	wallets[0].Name = "changed"
	assert.Equal(t, "M-Pesa", svc.ListWallets()[0].Name)
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	now := time.Now()

	settles := domain.NewPending("eft_1", "eft", request("eft", 5), now)
	declines := domain.NewPending("eft_2", "eft", request("eft", 5), now.Add(time.Second))
	stays := domain.NewPending("eft_3", "eft", request("eft", 5), now.Add(2*time.Second))
	done := domain.NewPending("eft_4", "eft", request("eft", 5), now.Add(3*time.Second))
	done.Succeed(now)
	for _, p := range []domain.PaymentResponse{settles, declines, stays, done} {
		require.NoError(t, ledger.Upsert(ctx, p))
	}

	settledView := settles.Clone()
	settledView.Succeed(now)
	declinedView := declines.Clone()
	declinedView.Fail("rejected by bank")
	provider := &stubProvider{payments: map[string]domain.PaymentResponse{
		settles.ID:  settledView,
		declines.ID: declinedView,
		stays.ID:    stays,
	}}
	svc := application.NewService(discard(), application.RegistryOf(map[string]application.Provider{"eft": provider}), ledger)

	res, err := svc.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, application.ReconcileResult{Checked: 3, Settled: 1, Failed: 1}, res)

	got, err := ledger.FindByID(ctx, declines.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}
