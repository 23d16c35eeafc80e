package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/doxvl/legalization-api/internal/domain"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
)

const pricingCollection = "pricing"

type pricingRuleDocument struct {
	CountryCode    string    `firestore:"countryCode"`
	ServiceType    string    `firestore:"serviceType"`
	Version        int       `firestore:"version"`
	OfficialFee    int64     `firestore:"officialFee"`
	ServiceFee     int64     `firestore:"serviceFee"`
	BasePrice      int64     `firestore:"basePrice"`
	OfficialFeeTBC bool      `firestore:"officialFeeTBC"`
	Currency       string    `firestore:"currency"`
	ProcessingDays int       `firestore:"processingDays"`
	EffectiveFrom  time.Time `firestore:"effectiveFrom"`
	IsActive       bool      `firestore:"isActive"`
	UpdatedBy      string    `firestore:"updatedBy,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

// PricingRuleRepository stores one immutable document per rule version, e.g. "SE_apostille_v2".
type PricingRuleRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[pricingRuleDocument]
	clock    func() time.Time
}

// NewPricingRuleRepository constructs a Firestore-backed pricing rule repository.
func NewPricingRuleRepository(provider *pfirestore.Provider) (*PricingRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("pricing rule repository requires firestore provider")
	}
	return &PricingRuleRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[pricingRuleDocument](provider, pricingCollection),
		clock:    time.Now,
	}, nil
}

// ListEffective loads every version for the country and resolves the effective one per service.
func (r *PricingRuleRepository) ListEffective(ctx context.Context, country domain.CountryCode, at time.Time) ([]domain.PricingRule, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("countryCode", "==", string(country))
	})
	if err != nil {
		return nil, err
	}
	versions := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		versions = append(versions, decodePricingRule(doc.Data))
	}
	return domain.EffectiveRules(versions, at), nil
}

// ListVersions returns all versions of one rule, oldest first.
func (r *PricingRuleRepository) ListVersions(ctx context.Context, key domain.RuleKey) ([]domain.PricingRule, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("countryCode", "==", string(key.Country)).Where("serviceType", "==", string(key.Service))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodePricingRule(doc.Data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Publish stores the rule as the next version of its key. Existing versions are never rewritten.
func (r *PricingRuleRepository) Publish(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	key := rule.Key()
	if key.Country == "" || key.Service == "" {
		return domain.PricingRule{}, errors.New("pricing rule repository: country and service are required")
	}
	now := r.clock().UTC()

	var stored domain.PricingRule
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		versions, err := r.ListVersions(ctx, key)
		if err != nil {
			return err
		}
		next := rule
		next.Version = 1
		if n := len(versions); n > 0 {
			next.Version = versions[n-1].Version + 1
		}
		doc := encodePricingRule(next)
		doc.CreatedAt = now
		if _, err := r.base.Create(ctx, pricingRuleID(key, next.Version), doc); err != nil {
			return err
		}
		stored = next
		return nil
	})
	if err != nil {
		return domain.PricingRule{}, err
	}
	return stored, nil
}

func pricingRuleID(key domain.RuleKey, version int) string {
	return fmt.Sprintf("%s_v%d", key.String(), version)
}

func encodePricingRule(rule domain.PricingRule) pricingRuleDocument {
	return pricingRuleDocument{
		CountryCode:    string(rule.Country),
		ServiceType:    string(rule.Service),
		Version:        rule.Version,
		OfficialFee:    rule.OfficialFee,
		ServiceFee:     rule.ServiceFee,
		BasePrice:      rule.BasePrice(),
		OfficialFeeTBC: rule.OfficialFeeTBC,
		Currency:       rule.Currency,
		ProcessingDays: rule.ProcessingDays,
		EffectiveFrom:  rule.EffectiveFrom.UTC(),
		IsActive:       rule.Active,
		UpdatedBy:      rule.UpdatedBy,
	}
}

func decodePricingRule(doc pricingRuleDocument) domain.PricingRule {
	return domain.PricingRule{
		Country:        domain.CountryCode(doc.CountryCode),
		Service:        domain.ServiceCode(doc.ServiceType),
		Version:        doc.Version,
		OfficialFee:    doc.OfficialFee,
		ServiceFee:     doc.ServiceFee,
		OfficialFeeTBC: doc.OfficialFeeTBC,
		Currency:       doc.Currency,
		ProcessingDays: doc.ProcessingDays,
		EffectiveFrom:  doc.EffectiveFrom.UTC(),
		Active:         doc.IsActive,
		UpdatedBy:      doc.UpdatedBy,
	}
}
