// Package portfolio manages portfolios: creation with per-user unique
// names, partial updates guarded by the cash reserve invariant, and
// cascading deletion that keeps the owner's default portfolio valid.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"
)

// CreateInput holds the fields of a new portfolio
type CreateInput struct {
	Name            string              `json:"name" validate:"required,min=1,max=100"`
	Description     string              `json:"description" validate:"max=500"`
	DefaultCurrency domain.Currency     `json:"defaultCurrency" validate:"required,oneof=EUR USD GBP"`
	CashReserve     domain.CashReserve  `json:"cashReserve"`
	TaxSettings     *domain.TaxSettings `json:"taxSettings"`
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	Name            *string             `json:"name" validate:"omitempty,min=1,max=100"`
	Description     *string             `json:"description" validate:"omitempty,max=500"`
	DefaultCurrency *domain.Currency    `json:"defaultCurrency" validate:"omitempty,oneof=EUR USD GBP"`
	CashReserve     *domain.CashReserve `json:"cashReserve"`
	TaxSettings     *domain.TaxSettings `json:"taxSettings"`
}

// Service implements portfolio operations over the document store
type Service struct {
	store          *docstore.Store
	defaultTaxRate float64
	now            func() time.Time
	log            zerolog.Logger
}

// NewService creates a portfolio service. defaultTaxRate applies to
// portfolios created without tax settings.
func NewService(store *docstore.Store, defaultTaxRate float64, log zerolog.Logger) *Service {
	return &Service{
		store:          store,
		defaultTaxRate: defaultTaxRate,
		now:            func() time.Time { return time.Now().UTC() },
		log:            log.With().Str("service", "portfolio").Logger(),
	}
}

func validateReserve(c domain.CashReserve) error {
	if !c.Valid() {
		return domain.NewValidation(domain.CodeCashReserveInvalid,
			"Cash reserve amounts must be non-negative and warChestAmount must not exceed totalAmount")
	}
	return nil
}

func validateTax(t domain.TaxSettings) error {
	if t.CapitalGainTaxRate < 0 || t.CapitalGainTaxRate > 100 {
		return domain.NewValidation(domain.CodePortfolioValidation, "capitalGainTaxRate must be between 0 and 100")
	}
	return nil
}

// Create stores a new portfolio for userID
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Portfolio, error) {
	var created *domain.Portfolio
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		p, err := s.CreateTx(tx, userID, in)
		created = p
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("portfolio_id", created.PortfolioID).Str("user_id", userID).Msg("Portfolio created")
	return created, nil
}

// CreateTx builds and inserts a portfolio inside an existing transaction
func (s *Service) CreateTx(tx *docstore.Tx, userID string, in CreateInput) (*domain.Portfolio, error) {
	if err := validateReserve(in.CashReserve); err != nil {
		return nil, err
	}

	tax := domain.TaxSettings{CapitalGainTaxRate: s.defaultTaxRate}
	if in.TaxSettings != nil {
		if err := validateTax(*in.TaxSettings); err != nil {
			return nil, err
		}
		tax = *in.TaxSettings
	}

	now := s.now()
	p := &domain.Portfolio{
		PortfolioID:     uuid.NewString(),
		UserID:          userID,
		Name:            in.Name,
		Description:     in.Description,
		DefaultCurrency: in.DefaultCurrency,
		CashReserve:     in.CashReserve,
		TaxSettings:     tax,
		CreatedAt:       now,
		ModifiedAt:      now,
	}

	if err := InsertTx(tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID returns a portfolio regardless of owner. Callers check ownership.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Portfolio, error) {
	var p *domain.Portfolio
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		p, err = GetTx(tx, id)
		return err
	})
	return p, err
}

// GetByName returns the user's portfolio with exactly this name
func (s *Service) GetByName(ctx context.Context, userID, name string) (*domain.Portfolio, error) {
	var p *domain.Portfolio
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var claim domain.PortfolioNameClaim
		if err := tx.Get(domain.NameClaimKey(userID, name), &claim); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.NewNotFound(domain.CodePortfolioNotFound, "Portfolio not found")
			}
			return fmt.Errorf("failed to load name claim: %w", err)
		}
		var err error
		p, err = GetTx(tx, claim.PortfolioID)
		return err
	})
	return p, err
}

// ListByUser returns every portfolio owned by userID, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	var list []domain.Portfolio
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		list, err = ListByUserTx(tx, userID)
		return err
	})
	if list == nil {
		list = []domain.Portfolio{}
	}
	return list, err
}

// ListAll returns every stored portfolio. Used by the snapshot job.
func (s *Service) ListAll(ctx context.Context) ([]domain.Portfolio, error) {
	var list []domain.Portfolio
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		if err := tx.Find(&list, nil); err != nil {
			return fmt.Errorf("failed to list portfolios: %w", err)
		}
		return nil
	})
	SortByCreation(list)
	return list, err
}

// Update applies patch to the portfolio. Renaming to the portfolio's own
// name is a no-op; renaming to another of the owner's names conflicts.
// The stored document is unchanged when any check fails.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*domain.Portfolio, error) {
	var updated *domain.Portfolio
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		p, err := GetTx(tx, id)
		if err != nil {
			return err
		}

		if patch.Name != nil && *patch.Name != p.Name {
			oldName := p.Name
			p.Name = *patch.Name
			if err := claimNameTx(tx, p); err != nil {
				return err
			}
			if err := releaseNameTx(tx, p.UserID, oldName); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.DefaultCurrency != nil {
			p.DefaultCurrency = *patch.DefaultCurrency
		}
		if patch.CashReserve != nil {
			if err := validateReserve(*patch.CashReserve); err != nil {
				return err
			}
			p.CashReserve = *patch.CashReserve
		}
		if patch.TaxSettings != nil {
			if err := validateTax(*patch.TaxSettings); err != nil {
				return err
			}
			p.TaxSettings = *patch.TaxSettings
		}

		p.ModifiedAt = s.now()
		if err := tx.Upsert(p.PortfolioID, p); err != nil {
			return fmt.Errorf("failed to save portfolio: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the portfolio with its holdings, rule sets and name
// claim. If it was the owner's default, the oldest remaining portfolio
// becomes the default, or the default is cleared when none remain.
// Deleting a portfolio that does not exist succeeds.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	var (
		deleted    bool
		newDefault *string
	)
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		deleted, newDefault = false, nil

		p, err := GetOwnedTx(tx, userID, id, domain.CodePortfolioDeleteDenied)
		if domain.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		holdingIDs, err := deleteHoldingsTx(tx, id)
		if err != nil {
			return err
		}
		if err := deleteRuleSetsTx(tx, userID, append(holdingIDs, id)); err != nil {
			return err
		}
		if err := releaseNameTx(tx, userID, p.Name); err != nil {
			return err
		}
		if err := tx.Delete(id, domain.Portfolio{}); err != nil {
			return fmt.Errorf("failed to delete portfolio: %w", err)
		}

		newDefault, err = s.reassignDefaultTx(tx, userID, id)
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return err
	}

	if deleted {
		ev := s.log.Info().Str("portfolio_id", id).Str("user_id", userID)
		if newDefault != nil {
			ev = ev.Str("new_default", *newDefault)
		}
		ev.Msg("Portfolio deleted")
	}
	return nil
}

// reassignDefaultTx repairs the owner's default after deletedID is gone
func (s *Service) reassignDefaultTx(tx *docstore.Tx, userID, deletedID string) (*string, error) {
	var user domain.User
	if err := tx.Get(userID, &user); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.DefaultPortfolioID == nil || *user.DefaultPortfolioID != deletedID {
		return user.DefaultPortfolioID, nil
	}

	remaining, err := ListByUserTx(tx, userID)
	if err != nil {
		return nil, err
	}

	user.DefaultPortfolioID = nil
	for _, p := range remaining {
		if p.PortfolioID != deletedID {
			pid := p.PortfolioID
			user.DefaultPortfolioID = &pid
			break
		}
	}

	user.ModifiedAt = s.now()
	if err := tx.Upsert(userID, &user); err != nil {
		return nil, fmt.Errorf("failed to update default portfolio: %w", err)
	}
	return user.DefaultPortfolioID, nil
}

func deleteHoldingsTx(tx *docstore.Tx, portfolioID string) ([]string, error) {
	var holdings []domain.Holding
	if err := tx.Find(&holdings, badgerhold.Where("PortfolioID").Eq(portfolioID)); err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		if err := tx.Delete(h.HoldingID, domain.Holding{}); err != nil {
			return nil, fmt.Errorf("failed to delete holding %s: %w", h.HoldingID, err)
		}
		ids = append(ids, h.HoldingID)
	}
	return ids, nil
}

func deleteRuleSetsTx(tx *docstore.Tx, userID string, parentIDs []string) error {
	parents := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}

	var sets []domain.RuleSet
	if err := tx.Find(&sets, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return fmt.Errorf("failed to list rule sets: %w", err)
	}
	for _, rs := range sets {
		if !parents[rs.ParentID] {
			continue
		}
		if err := tx.Delete(rs.RuleSetID, domain.RuleSet{}); err != nil {
			return fmt.Errorf("failed to delete rule set %s: %w", rs.RuleSetID, err)
		}
	}
	return nil
}
