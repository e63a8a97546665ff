package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/draftdeck/draftdeck/internal/pkg/cache"
	"github.com/draftdeck/draftdeck/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// PlanPrice is the resolved provider-side price for one (gateway, plan,
// cycle) triple: either a provider price reference or a raw amount in minor
// units, depending on how the gateway is billed.
type PlanPrice struct {
	ProviderPriceRef string `json:"provider_price_ref"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

// PriceResolver resolves plan/cycle pairs to provider prices. It is built
// once at startup and injected into the gateways; DB mappings win over env
// fallbacks, results are cached in Redis with a TTL and an explicit Refresh.
type PriceResolver struct {
	repo Repository
	ttl  time.Duration
}

func NewPriceResolver(repo Repository, ttl time.Duration) *PriceResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PriceResolver{repo: repo, ttl: ttl}
}

// Resolve returns the provider price for (gateway, plan, cycle) or
// ErrPriceNotConfigured when no mapping exists.
func (p *PriceResolver) Resolve(gateway, plan, billingCycle string) (*PlanPrice, error) {
	gw := strings.ToLower(strings.TrimSpace(gateway))
	pl := strings.ToLower(strings.TrimSpace(plan))
	cycle := normalizeCycle(billingCycle)

	key := priceCacheKey(gw, pl, cycle)
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var price PlanPrice
		if err := json.Unmarshal([]byte(raw), &price); err == nil {
			return &price, nil
		}
	}

	price, err := p.lookup(gw, pl, cycle)
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(price); merr == nil {
		if cerr := cache.Set(key, string(raw), p.ttl); cerr != nil {
			log.Warnf("pricing: caching %s failed: %v", key, cerr)
		}
	}
	return price, nil
}

func (p *PriceResolver) lookup(gateway, plan, cycle string) (*PlanPrice, error) {
	m, err := p.repo.FindActivePriceMapping(gateway, plan, cycle)
	if err == nil {
		return &PlanPrice{
			ProviderPriceRef: m.ProviderPriceRef,
			AmountMinorUnits: m.AmountMinorUnits,
			Currency:         m.Currency,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Env fallback, e.g. STRIPE_PRICE_PRO_MONTHLY or PAYMOB_AMOUNT_PRO_MONTHLY.
	upper := func(s string) string { return strings.ToUpper(s) }
	if ref := strings.TrimSpace(env.GetEnv(fmt.Sprintf("%s_PRICE_%s_%s", upper(gateway), upper(plan), upper(cycle)), "")); ref != "" {
		return &PlanPrice{ProviderPriceRef: ref, Currency: p.currency(gateway)}, nil
	}
	if raw := strings.TrimSpace(env.GetEnv(fmt.Sprintf("%s_AMOUNT_%s_%s", upper(gateway), upper(plan), upper(cycle)), "")); raw != "" {
		amount, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil && amount > 0 {
			return &PlanPrice{AmountMinorUnits: amount, Currency: p.currency(gateway)}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s/%s", ErrPriceNotConfigured, gateway, plan, cycle)
}

func (p *PriceResolver) currency(gateway string) string {
	return strings.ToLower(env.GetEnv(fmt.Sprintf("%s_CURRENCY", strings.ToUpper(gateway)), "usd"))
}

// Refresh drops all cached price entries so the next Resolve rereads the
// mappings. Called from the admin resync path after mapping edits.
func (p *PriceResolver) Refresh(gateways []string) {
	plans := []string{"pro", "team", "enterprise"}
	cycles := []string{"monthly", "yearly"}
	for _, gw := range gateways {
		for _, plan := range plans {
			for _, cycle := range cycles {
				if err := cache.Delete(priceCacheKey(gw, plan, cycle)); err != nil {
					log.Warnf("pricing: refresh delete %s/%s/%s failed: %v", gw, plan, cycle, err)
				}
			}
		}
	}
}

func priceCacheKey(gateway, plan, cycle string) string {
	return fmt.Sprintf("billing:price:%s:%s:%s", gateway, plan, cycle)
}
