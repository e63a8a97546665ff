package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/mail"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository with the same not-found and
// insert-if-absent semantics as the GORM implementation.
type fakeRepo struct {
	mu sync.Mutex

	users     map[string]*models.User
	subs      map[string]*models.Subscription
	customers map[string]*models.BillingCustomer
	events    map[string]*models.WebhookEvent
	prices    map[string]*models.PlanPriceMapping

	nextUserID uint
	nextSubID  uint

	subscriptionWrites     int
	failUpsertSubscription bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[string]*models.User),
		subs:      make(map[string]*models.Subscription),
		customers: make(map[string]*models.BillingCustomer),
		events:    make(map[string]*models.WebhookEvent),
		prices:    make(map[string]*models.PlanPriceMapping),
	}
}

func subKey(gateway, txnID string) string   { return gateway + "|" + txnID }
func evtKey(gateway, eventID string) string { return gateway + "|" + eventID }

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsertSubscription {
		return errors.New("db unavailable")
	}

	key := subKey(sub.Gateway, sub.GatewayTransactionID)
	if existing, ok := r.subs[key]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		r.nextSubID++
		sub.ID = r.nextSubID
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	r.subs[key] = &cp
	r.subscriptionWrites++
	return nil
}

func (r *fakeRepo) FindSubscriptionByGatewayTxn(gateway, txnID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[subKey(gateway, txnID)]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID && (sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing) {
			matches = append(matches, sub)
		}
	}
	if len(matches) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	cp := *matches[0]
	return &cp, nil
}

func (r *fakeRepo) FindUserByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[email]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) EnsureUserByEmail(email, name string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[email]; ok {
		cp := *user
		return &cp, nil
	}
	r.nextUserID++
	user := &models.User{
		ID:     r.nextUserID,
		Email:  email,
		Name:   name,
		Plan:   "free",
		Status: models.STATUS_ACTIVE,
	}
	r.users[email] = user
	cp := *user
	return &cp, nil
}

func (r *fakeRepo) UpdateUserPlan(userID uint, plan string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == userID {
			user.Plan = plan
			return nil
		}
	}
	return nil
}

func (r *fakeRepo) FindCustomerByGatewayAndEmail(gateway, email string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Gateway == gateway && c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindCustomerByGatewayID(gateway, customerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[gateway+"|"+customerID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpsertCustomer(c *models.BillingCustomer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.customers[c.Gateway+"|"+c.CustomerID] = &cp
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := evtKey(event.Gateway, event.EventID)
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	cp := *event
	cp.CreatedAt = time.Now()
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) CompleteWebhookEvent(gateway, eventID, state, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.events[evtKey(gateway, eventID)]
	if !ok || stored.State != models.WebhookEventProcessing {
		return false, nil
	}
	now := time.Now()
	stored.State = state
	stored.Error = errMsg
	stored.CompletedAt = &now
	return true, nil
}

func (r *fakeRepo) FindActivePriceMapping(gateway, plan, billingCycle string) (*models.PlanPriceMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.prices[gateway+"|"+plan+"|"+billingCycle]; ok && m.IsActive {
		cp := *m
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) eventState(gateway, eventID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.events[evtKey(gateway, eventID)]; ok {
		return stored.State
	}
	return ""
}

func (r *fakeRepo) subscription(gateway, txnID string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[subKey(gateway, txnID)]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (r *fakeRepo) user(email string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[email]; ok {
		cp := *user
		return &cp
	}
	return nil
}

// fakeGateway returns canned webhook results without touching the network.
type fakeGateway struct {
	name       string
	configured bool
	result     *WebhookResult
	err        error
}

func (g *fakeGateway) Name() string       { return g.name }
func (g *fakeGateway) IsConfigured() bool { return g.configured }

func (g *fakeGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	cp := *g.result
	return &cp, nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error) {
	return nil, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, id string, immediate bool) error {
	return nil
}

func (g *fakeGateway) GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error) {
	return nil, nil
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	return nil, nil
}

// fakeNotifier records notification sends on channels so tests can wait for
// the async dispatch.
type fakeNotifier struct {
	confirmations chan string
	cancellations chan string
	fail          bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		confirmations: make(chan string, 4),
		cancellations: make(chan string, 4),
	}
}

func (n *fakeNotifier) SendSubscriptionConfirmation(recipient string, d mail.ConfirmationDetails) error {
	n.confirmations <- recipient
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *fakeNotifier) SendSubscriptionCanceled(recipient string, d mail.CancellationDetails) error {
	n.cancellations <- recipient
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}
