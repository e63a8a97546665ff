package billing

import (
	"time"

	"github.com/draftdeck/draftdeck/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing engine. Correctness
// under concurrent webhook deliveries is pushed to the storage layer: unique
// keys plus atomic insert/update, no in-process locks.
type Repository interface {
	UpsertSubscription(sub *models.Subscription) error
	FindSubscriptionByGatewayTxn(gateway, txnID string) (*models.Subscription, error)
	FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error)

	FindUserByEmail(email string) (*models.User, error)
	EnsureUserByEmail(email, name string) (*models.User, error)
	UpdateUserPlan(userID uint, plan string) error

	FindCustomerByGatewayAndEmail(gateway, email string) (*models.BillingCustomer, error)
	FindCustomerByGatewayID(gateway, customerID string) (*models.BillingCustomer, error)
	UpsertCustomer(c *models.BillingCustomer) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	CompleteWebhookEvent(gateway, eventID, state, errMsg string) (bool, error)

	FindActivePriceMapping(gateway, plan, billingCycle string) (*models.PlanPriceMapping, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "gateway_transaction_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan",
			"billing_cycle",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("gateway = ? AND gateway_transaction_id = ?", sub.Gateway, sub.GatewayTransactionID).
		First(sub).Error
}

func (r *gormRepository) FindSubscriptionByGatewayTxn(gateway, txnID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("gateway = ? AND gateway_transaction_id = ?", gateway, txnID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindActiveSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, []string{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusTrialing,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) EnsureUserByEmail(email, name string) (*models.User, error) {
	user := &models.User{
		Email:  email,
		Name:   name,
		Plan:   "free",
		Status: models.STATUS_ACTIVE,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(user).Error; err != nil {
		return nil, err
	}
	return r.FindUserByEmail(email)
}

func (r *gormRepository) UpdateUserPlan(userID uint, plan string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("plan", plan).Error
}

func (r *gormRepository) FindCustomerByGatewayAndEmail(gateway, email string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.Where("gateway = ? AND email = ?", gateway, email).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) FindCustomerByGatewayID(gateway, customerID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.Where("gateway = ? AND customer_id = ?", gateway, customerID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpsertCustomer(c *models.BillingCustomer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "gateway"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"email",
			"name",
			"metadata_json",
			"updated_at",
		}),
	}).Create(c).Error; err != nil {
		return err
	}

	return r.db.Where("gateway = ? AND customer_id = ?", c.Gateway, c.CustomerID).
		First(c).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("gateway = ? AND event_id = ?", event.Gateway, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) CompleteWebhookEvent(gateway, eventID, state, errMsg string) (bool, error) {
	now := time.Now()
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("gateway = ? AND event_id = ? AND state = ?", gateway, eventID, models.WebhookEventProcessing).
		Updates(map[string]interface{}{
			"state":        state,
			"error":        errMsg,
			"completed_at": &now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindActivePriceMapping(gateway, plan, billingCycle string) (*models.PlanPriceMapping, error) {
	var m models.PlanPriceMapping
	err := r.db.
		Where("gateway = ? AND plan = ? AND billing_cycle = ? AND is_active = ?", gateway, plan, billingCycle, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
