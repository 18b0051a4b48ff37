package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
	"github.com/virtualmercado/shopdrive-sub004/pkg/mercadopago"
	"github.com/virtualmercado/shopdrive-sub004/pkg/pagbank"
	"github.com/virtualmercado/shopdrive-sub004/pkg/resend"
)

var fixedNow = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

// memoryRepo is an in-memory Repository that enforces version checks like the SQL does.
type memoryRepo struct {
	store.Repository

	mu        sync.Mutex
	subs      map[uuid.UUID]*domain.Subscription
	payments  map[uuid.UUID]*domain.Payment
	plans     map[string]*domain.Plan
	contacts  map[uuid.UUID]*domain.MerchantContact
	logs      []domain.SubscriptionLog
	token     string
	tokenErr  error
	applyErr  error
	declines  []string
	cards     []domain.CardInfo
	suspended []uuid.UUID

	applyCalls  int
	reloadCalls int
	// beforeApply runs before each ApplyReconciliation, e.g. to simulate a concurrent writer.
	beforeApply func(r *memoryRepo)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		subs:     make(map[uuid.UUID]*domain.Subscription),
		payments: make(map[uuid.UUID]*domain.Payment),
		plans:    make(map[string]*domain.Plan),
		contacts: make(map[uuid.UUID]*domain.MerchantContact),
		tokenErr: store.ErrCredentialsNotFound,
	}
}

func (r *memoryRepo) addSubscription(sub *domain.Subscription) *domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return sub
}

func (r *memoryRepo) addPayment(p *domain.Payment) *domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments[p.ID] = &cp
	return p
}

func (r *memoryRepo) subscription(id uuid.UUID) domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.subs[id]
}

func (r *memoryRepo) payment(id uuid.UUID) domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.payments[id]
}

func (r *memoryRepo) logCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func (r *memoryRepo) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *memoryRepo) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.UserID == userID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (r *memoryRepo) ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.SubscriptionStatusPastDue && sub.GracePeriodEnd != nil && !sub.GracePeriodEnd.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *memoryRepo) SuspendSubscription(ctx context.Context, update store.SubscriptionUpdate, entry domain.SubscriptionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[update.ID]
	if !ok || sub.Version != update.ExpectedVersion {
		return store.ErrVersionConflict
	}
	sub.Status = update.Status
	sub.Version++
	r.logs = append(r.logs, entry)
	r.suspended = append(r.suspended, update.ID)
	return nil
}

func (r *memoryRepo) SaveValidatedCard(ctx context.Context, sub *domain.Subscription, card domain.CardInfo, entry domain.SubscriptionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.subs[sub.ID]
	c := card
	stored.Card = &c
	stored.LastDeclineCode = nil
	stored.Version++
	r.cards = append(r.cards, card)
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memoryRepo) RecordCardDecline(ctx context.Context, subID uuid.UUID, code, message string, at time.Time, entry domain.SubscriptionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.subs[subID]
	stored.LastDeclineCode = &code
	stored.LastDeclineMessage = &message
	r.declines = append(r.declines, code)
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memoryRepo) GetPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadCalls++
	p, ok := r.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) GetPaymentByGatewayID(ctx context.Context, provider, gatewayID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Provider == provider && p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (r *memoryRepo) GetLatestPaymentBySubscriptionID(ctx context.Context, subID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Payment
	for _, p := range r.payments {
		if p.SubscriptionID != subID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrPaymentNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryRepo) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusPending && p.HasGatewayID() && !p.CreatedAt.After(createdBefore) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) CreatePayment(ctx context.Context, p *domain.Payment, entry domain.SubscriptionLog) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.Version = 1
	cp.CreatedAt = fixedNow
	cp.UpdatedAt = fixedNow
	r.payments[p.ID] = &cp
	r.logs = append(r.logs, entry)
	out := cp
	return &out, nil
}

func (r *memoryRepo) ApplyReconciliation(ctx context.Context, write store.ReconciliationWrite) error {
	if r.beforeApply != nil {
		r.beforeApply(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.applyErr != nil {
		return r.applyErr
	}

	p, ok := r.payments[write.Payment.ID]
	if !ok || p.Version != write.Payment.ExpectedVersion {
		return store.ErrVersionConflict
	}
	var sub *domain.Subscription
	if write.Subscription != nil {
		sub = r.subs[write.Subscription.ID]
		if sub == nil || sub.Version != write.Subscription.ExpectedVersion {
			return store.ErrVersionConflict
		}
	}

	p.Status = write.Payment.Status
	if write.Payment.PaidAt != nil {
		p.PaidAt = write.Payment.PaidAt
	}
	if write.Payment.RefundedAt != nil {
		p.RefundedAt = write.Payment.RefundedAt
	}
	if len(write.Payment.GatewayResponse) > 0 {
		p.GatewayResponse = write.Payment.GatewayResponse
	}
	p.Version++

	if sub != nil {
		sub.Status = write.Subscription.Status
		if write.Subscription.ClearGracePeriod {
			sub.GracePeriodEnd = nil
		}
		sub.Version++
	}

	r.logs = append(r.logs, write.Logs...)
	return nil
}

func (r *memoryRepo) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

func (r *memoryRepo) GetMerchantContact(ctx context.Context, userID uuid.UUID) (*domain.MerchantContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[userID]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryRepo) GetGatewayAccessToken(ctx context.Context, provider string) (string, error) {
	if r.tokenErr != nil {
		return "", r.tokenErr
	}
	return r.token, nil
}

type mercadoPagoStub struct {
	mu sync.Mutex

	payments map[string]*mercadopago.Payment
	getErr   error
	getCalls int
	tokens   []string

	createResp *mercadopago.Payment
	createErr  error
	createKeys []string
	createReqs []mercadopago.PaymentRequest

	cancelErr error
	cancelled []string

	orders map[string]*mercadopago.MerchantOrder
}

func (m *mercadoPagoStub) GetPayment(ctx context.Context, token, id string) (*mercadopago.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	m.tokens = append(m.tokens, token)
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, &mercadopago.ErrorResponse{StatusCode: 404, Code: "not_found"}
	}
	cp := *p
	return &cp, nil
}

func (m *mercadoPagoStub) CreatePayment(ctx context.Context, token, key string, req mercadopago.PaymentRequest) (*mercadopago.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createKeys = append(m.createKeys, key)
	m.createReqs = append(m.createReqs, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	cp := *m.createResp
	return &cp, nil
}

func (m *mercadoPagoStub) CancelPayment(ctx context.Context, token, id string) (*mercadopago.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &mercadopago.Payment{Status: "cancelled"}, nil
}

func (m *mercadoPagoStub) GetMerchantOrder(ctx context.Context, token, id string) (*mercadopago.MerchantOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	order, ok := m.orders[id]
	if !ok {
		return nil, &mercadopago.ErrorResponse{StatusCode: 404}
	}
	return order, nil
}

type pagBankStub struct {
	charges map[string]*pagbank.Charge
}

func (p *pagBankStub) GetCharge(ctx context.Context, token, id string) (*pagbank.Charge, error) {
	c, ok := p.charges[id]
	if !ok {
		return nil, &pagbank.ErrorResponse{StatusCode: 404}
	}
	return c, nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type limiterStub struct {
	blocked    bool
	retryAfter time.Duration
	err        error
	calls      int
	subjects   []uuid.UUID
	windows    []time.Duration
}

func (l *limiterStub) RegisterAttempt(ctx context.Context, subscriptionID uuid.UUID, limit int, window time.Duration, now time.Time) (AttemptDecision, error) {
	l.calls++
	l.subjects = append(l.subjects, subscriptionID)
	l.windows = append(l.windows, window)
	if l.err != nil {
		return AttemptDecision{}, l.err
	}
	if l.blocked {
		return AttemptDecision{Allowed: false, Attempts: limit, RetryAfter: l.retryAfter}, nil
	}
	return AttemptDecision{Allowed: true, Attempts: l.calls}, nil
}

type emailSenderStub struct {
	mu   sync.Mutex
	sent []resend.SendEmailRequest
	err  error
}

func (e *emailSenderStub) SendEmail(ctx context.Context, email resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, email)
	if e.err != nil {
		return nil, e.err
	}
	return &resend.SendEmailResponse{ID: "email_1"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	repo      *memoryRepo
	mp        *mercadoPagoStub
	pb        *pagBankStub
	publisher *publisherStub
	limiter   *limiterStub
	svc       *Service
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		repo:      newMemoryRepo(),
		mp:        &mercadoPagoStub{payments: map[string]*mercadopago.Payment{}, orders: map[string]*mercadopago.MerchantOrder{}},
		pb:        &pagBankStub{charges: map[string]*pagbank.Charge{}},
		publisher: &publisherStub{},
		limiter:   &limiterStub{},
	}
	if opts.MercadoPagoAccessToken == "" {
		opts.MercadoPagoAccessToken = "APP_USR-test"
	}
	env.svc = NewService(env.repo, env.mp, env.pb, env.publisher, env.limiter, discardLogger(), opts)
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

// seedPending stores a subscription and a pending Mercado Pago payment linked to gatewayID.
func (e *testEnv) seedPending(status, cycle, gatewayID string) (*domain.Subscription, *domain.Payment) {
	sub := e.repo.addSubscription(&domain.Subscription{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		PlanID:       "pro",
		BillingCycle: cycle,
		Status:       status,
		Version:      1,
	})
	gid := gatewayID
	payment := e.repo.addPayment(&domain.Payment{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		UserID:           sub.UserID,
		Provider:         domain.ProviderMercadoPago,
		GatewayPaymentID: &gid,
		Status:           domain.PaymentStatusPending,
		Method:           domain.PaymentMethodPix,
		AmountCents:      4990,
		Currency:         "BRL",
		Version:          1,
		CreatedAt:        fixedNow.Add(-time.Hour),
	})
	return sub, payment
}

func (e *testEnv) gatewayReports(id, status, detail string) {
	e.mp.mu.Lock()
	defer e.mp.mu.Unlock()
	e.mp.payments[id] = &mercadopago.Payment{
		ID:           gatewayIDNumber(id),
		Status:       status,
		StatusDetail: detail,
		Raw:          []byte(`{"id":` + id + `,"status":"` + status + `"}`),
	}
}

func gatewayIDNumber(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}
