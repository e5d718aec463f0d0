// Package rulesets stores alerting rule sets attached to portfolios and
// holdings. A parent carries at most one rule set and references it by id.
package rulesets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"
)

// ConditionInput is a condition as submitted by clients
type ConditionInput struct {
	ConditionID string                 `json:"conditionId"`
	Type        domain.ConditionType   `json:"type" validate:"required"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// RuleInput is a rule as submitted by clients
type RuleInput struct {
	RuleID          string                 `json:"ruleId"`
	RuleType        domain.RuleType        `json:"ruleType" validate:"required,oneof=BUY SELL"`
	LogicalOperator domain.LogicalOperator `json:"logicalOperator" validate:"omitempty,oneof=AND OR"`
	Status          domain.RuleStatus      `json:"status" validate:"omitempty,oneof=ENABLED PAUSED"`
	Conditions      []ConditionInput       `json:"conditions" validate:"required,min=1,dive"`
}

// CreateInput holds a new rule set
type CreateInput struct {
	ParentID   string            `json:"parentId" validate:"required"`
	ParentType domain.ParentType `json:"parentType" validate:"required,oneof=PORTFOLIO HOLDING"`
	Rules      []RuleInput       `json:"rules" validate:"dive"`
}

// UpdateInput replaces a rule set's rules
type UpdateInput struct {
	Rules []RuleInput `json:"rules" validate:"dive"`
}

// Service implements rule set operations
type Service struct {
	store *docstore.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewService creates a rule set service
func NewService(store *docstore.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.With().Str("service", "rulesets").Logger(),
	}
}

// Create stores a rule set and links it from its parent
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.RuleSet, error) {
	rules, err := buildRules(in.Rules)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rs := &domain.RuleSet{
		RuleSetID:  uuid.NewString(),
		UserID:     userID,
		ParentID:   in.ParentID,
		ParentType: in.ParentType,
		Rules:      rules,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	err = s.store.Update(ctx, func(tx *docstore.Tx) error {
		return linkParentTx(tx, rs, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_set_id", rs.RuleSetID).Str("parent_id", rs.ParentID).Str("parent_type", string(rs.ParentType)).Msg("Rule set created")
	return rs, nil
}

// Get returns one of the user's rule sets
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.RuleSet, error) {
	var rs *domain.RuleSet
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		rs, err = getOwnedTx(tx, userID, id)
		return err
	})
	return rs, err
}

// ListByUser returns the user's rule sets, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.RuleSet, error) {
	list := []domain.RuleSet{}
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		if err := tx.Find(&list, badgerhold.Where("UserID").Eq(userID)); err != nil {
			return fmt.Errorf("failed to list rule sets: %w", err)
		}
		return nil
	})
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].RuleSetID < list[j].RuleSetID
	})
	return list, err
}

// Update replaces the rules of a rule set
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*domain.RuleSet, error) {
	rules, err := buildRules(in.Rules)
	if err != nil {
		return nil, err
	}

	var updated *domain.RuleSet
	err = s.store.Update(ctx, func(tx *docstore.Tx) error {
		rs, err := getOwnedTx(tx, userID, id)
		if err != nil {
			return err
		}
		rs.Rules = rules
		rs.ModifiedAt = s.now()
		if err := tx.Upsert(rs.RuleSetID, rs); err != nil {
			return fmt.Errorf("failed to save rule set: %w", err)
		}
		updated = rs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a rule set and clears its parent's reference
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		rs, err := getOwnedTx(tx, userID, id)
		if err != nil {
			return err
		}
		if err := unlinkParentTx(tx, rs, s.now()); err != nil {
			return err
		}
		if err := tx.Delete(rs.RuleSetID, domain.RuleSet{}); err != nil {
			return fmt.Errorf("failed to delete rule set: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("rule_set_id", id).Msg("Rule set deleted")
	return nil
}

func getOwnedTx(tx *docstore.Tx, userID, id string) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	if err := tx.Get(id, &rs); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.CodeRuleSetNotFound, "Rule set not found")
		}
		return nil, fmt.Errorf("failed to load rule set: %w", err)
	}
	if rs.UserID != userID {
		return nil, domain.NewForbidden(domain.CodeRuleSetForbidden, "Rule set belongs to another user")
	}
	return &rs, nil
}

// linkParentTx inserts rs and sets the parent's ruleSetId
func linkParentTx(tx *docstore.Tx, rs *domain.RuleSet, now time.Time) error {
	switch rs.ParentType {
	case domain.ParentPortfolio:
		p, err := portfolio.GetOwnedTx(tx, rs.UserID, rs.ParentID, domain.CodeRuleSetForbidden)
		if err != nil {
			return err
		}
		if p.RuleSetID != nil {
			return parentConflict()
		}
		p.RuleSetID = &rs.RuleSetID
		p.ModifiedAt = now
		if err := tx.Upsert(p.PortfolioID, p); err != nil {
			return fmt.Errorf("failed to link portfolio: %w", err)
		}

	case domain.ParentHolding:
		h, err := ownedHoldingTx(tx, rs.UserID, rs.ParentID)
		if err != nil {
			return err
		}
		if h.RuleSetID != nil {
			return parentConflict()
		}
		h.RuleSetID = &rs.RuleSetID
		h.ModifiedAt = now
		if err := tx.Upsert(h.HoldingID, h); err != nil {
			return fmt.Errorf("failed to link holding: %w", err)
		}

	default:
		return domain.NewValidation(domain.CodeRuleSetValidation, "parentType must be PORTFOLIO or HOLDING")
	}

	if err := tx.Insert(rs.RuleSetID, rs); err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}
	return nil
}

// unlinkParentTx clears the parent's reference. A parent that is already
// gone is not an error.
func unlinkParentTx(tx *docstore.Tx, rs *domain.RuleSet, now time.Time) error {
	switch rs.ParentType {
	case domain.ParentPortfolio:
		var p domain.Portfolio
		if err := tx.Get(rs.ParentID, &p); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load portfolio: %w", err)
		}
		if p.RuleSetID == nil || *p.RuleSetID != rs.RuleSetID {
			return nil
		}
		p.RuleSetID = nil
		p.ModifiedAt = now
		return tx.Upsert(p.PortfolioID, &p)

	case domain.ParentHolding:
		var h domain.Holding
		if err := tx.Get(rs.ParentID, &h); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load holding: %w", err)
		}
		if h.RuleSetID == nil || *h.RuleSetID != rs.RuleSetID {
			return nil
		}
		h.RuleSetID = nil
		h.ModifiedAt = now
		return tx.Upsert(h.HoldingID, &h)
	}
	return nil
}

func ownedHoldingTx(tx *docstore.Tx, userID, id string) (*domain.Holding, error) {
	var h domain.Holding
	if err := tx.Get(id, &h); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.CodeHoldingNotFound, "Holding not found")
		}
		return nil, fmt.Errorf("failed to load holding: %w", err)
	}
	if h.UserID != userID {
		return nil, domain.NewForbidden(domain.CodeRuleSetForbidden, "Holding belongs to another user")
	}
	return &h, nil
}

func parentConflict() error {
	return domain.NewConflict(domain.CodeRuleSetParentConflict, "The parent already has a rule set.")
}

// buildRules validates condition types and assigns missing ids and defaults
func buildRules(in []RuleInput) ([]domain.Rule, error) {
	rules := make([]domain.Rule, 0, len(in))
	for _, ri := range in {
		rule := domain.Rule{
			RuleID:          ri.RuleID,
			RuleType:        ri.RuleType,
			LogicalOperator: ri.LogicalOperator,
			Status:          ri.Status,
			Conditions:      make([]domain.Condition, 0, len(ri.Conditions)),
		}
		if rule.RuleID == "" {
			rule.RuleID = uuid.NewString()
		}
		if rule.LogicalOperator == "" {
			rule.LogicalOperator = domain.OperatorAnd
		}
		if rule.Status == "" {
			rule.Status = domain.RuleEnabled
		}
		if rule.RuleType != domain.RuleBuy && rule.RuleType != domain.RuleSell {
			return nil, domain.NewValidation(domain.CodeRuleSetValidation, "ruleType must be BUY or SELL")
		}

		for _, ci := range ri.Conditions {
			if !ci.Type.Valid() {
				return nil, domain.NewValidation(domain.CodeRuleSetValidation,
					fmt.Sprintf("unsupported condition type %q", ci.Type))
			}
			c := domain.Condition{ConditionID: ci.ConditionID, Type: ci.Type, Parameters: ci.Parameters}
			if c.ConditionID == "" {
				c.ConditionID = uuid.NewString()
			}
			if c.Parameters == nil {
				c.Parameters = map[string]interface{}{}
			}
			rule.Conditions = append(rule.Conditions, c)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
