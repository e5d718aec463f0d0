// Package holdings manages positions inside portfolios and the purchase
// lots that make them up. Every operation checks ownership through the
// parent portfolio in the same transaction as the write.
package holdings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"
)

// LotInput is a purchase as submitted by clients
type LotInput struct {
	PurchaseDate  string  `json:"purchaseDate" validate:"required"`
	Quantity      float64 `json:"quantity"`
	PurchasePrice float64 `json:"purchasePrice"`
}

// CreateInput holds the fields of a new holding
type CreateInput struct {
	Ticker       string              `json:"ticker" validate:"required,max=20"`
	ISIN         string              `json:"ISIN" validate:"omitempty,len=12,alphanum"`
	WKN          string              `json:"WKN" validate:"omitempty,len=6,alphanum"`
	SecurityType domain.SecurityType `json:"securityType" validate:"required,oneof=STOCK ETF FUND"`
	AssetClass   domain.AssetClass   `json:"assetClass" validate:"required,oneof=EQUITY CRYPTO COMMODITY"`
	Currency     domain.Currency     `json:"currency" validate:"required,oneof=EUR USD GBP"`
	AnnualCosts  *float64            `json:"annualCosts" validate:"omitempty,gte=0"`
	Lots         []LotInput          `json:"lots" validate:"dive"`
}

// Patch is a partial holding update; nil fields are left unchanged
type Patch struct {
	ISIN         *string              `json:"ISIN" validate:"omitempty,len=12,alphanum"`
	WKN          *string              `json:"WKN" validate:"omitempty,len=6,alphanum"`
	SecurityType *domain.SecurityType `json:"securityType" validate:"omitempty,oneof=STOCK ETF FUND"`
	AssetClass   *domain.AssetClass   `json:"assetClass" validate:"omitempty,oneof=EQUITY CRYPTO COMMODITY"`
	Currency     *domain.Currency     `json:"currency" validate:"omitempty,oneof=EUR USD GBP"`
	AnnualCosts  *float64             `json:"annualCosts" validate:"omitempty,gte=0"`
}

// Service implements holding and lot operations
type Service struct {
	store *docstore.Store
	bus   *events.Bus
	now   func() time.Time
	log   zerolog.Logger
}

// NewService creates a holdings service. bus may be nil.
func NewService(store *docstore.Store, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.With().Str("service", "holdings").Logger(),
	}
}

// Add creates a holding in one of the user's portfolios
func (s *Service) Add(ctx context.Context, userID, portfolioID string, in CreateInput) (*domain.Holding, error) {
	ticker := normalizeTicker(in.Ticker)
	if ticker == "" {
		return nil, domain.NewValidation(domain.CodeHoldingValidation, "ticker is required")
	}

	now := s.now()
	lots := make([]domain.Lot, 0, len(in.Lots))
	for _, li := range in.Lots {
		lot, err := s.newLot(li, now)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	h := &domain.Holding{
		HoldingID:    uuid.NewString(),
		PortfolioID:  portfolioID,
		UserID:       userID,
		Ticker:       ticker,
		ISIN:         strings.ToUpper(in.ISIN),
		WKN:          strings.ToUpper(in.WKN),
		SecurityType: in.SecurityType,
		AssetClass:   in.AssetClass,
		Currency:     in.Currency,
		AnnualCosts:  in.AnnualCosts,
		Lots:         lots,
		CreatedAt:    now,
		ModifiedAt:   now,
	}

	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		if _, err := portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioUpdateDenied); err != nil {
			return err
		}
		if err := ensureTickerFreeTx(tx, portfolioID, ticker, ""); err != nil {
			return err
		}
		if err := tx.Insert(h.HoldingID, h); err != nil {
			return fmt.Errorf("failed to insert holding: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("holding_id", h.HoldingID).Str("ticker", ticker).Str("portfolio_id", portfolioID).Msg("Holding added")
	s.changed(userID, portfolioID, "holding_added")
	return h, nil
}

// Get returns a holding with its parent portfolio
func (s *Service) Get(ctx context.Context, userID, portfolioID, holdingID string) (*domain.Holding, *domain.Portfolio, error) {
	var (
		h *domain.Holding
		p *domain.Portfolio
	)
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		p, err = portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioForbidden)
		if err != nil {
			return err
		}
		h, err = getInPortfolioTx(tx, portfolioID, holdingID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return h, p, nil
}

// List returns the holdings of one of the user's portfolios
func (s *Service) List(ctx context.Context, userID, portfolioID string) ([]domain.Holding, *domain.Portfolio, error) {
	var (
		list []domain.Holding
		p    *domain.Portfolio
	)
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		p, err = portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioForbidden)
		if err != nil {
			return err
		}
		list, err = find(tx, badgerhold.Where("PortfolioID").Eq(portfolioID))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return list, p, nil
}

// ListByPortfolio returns a portfolio's holdings without an ownership check
func (s *Service) ListByPortfolio(ctx context.Context, portfolioID string) ([]domain.Holding, error) {
	return s.query(ctx, badgerhold.Where("PortfolioID").Eq(portfolioID))
}

// ListByUser returns every holding the user owns across portfolios
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Holding, error) {
	return s.query(ctx, badgerhold.Where("UserID").Eq(userID))
}

// ListAll returns every stored holding
func (s *Service) ListAll(ctx context.Context) ([]domain.Holding, error) {
	return s.query(ctx, nil)
}

func (s *Service) query(ctx context.Context, q *badgerhold.Query) ([]domain.Holding, error) {
	var list []domain.Holding
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		list, err = find(tx, q)
		return err
	})
	return list, err
}

// Update applies patch to a holding
func (s *Service) Update(ctx context.Context, userID, portfolioID, holdingID string, patch Patch) (*domain.Holding, error) {
	return s.mutate(ctx, userID, portfolioID, holdingID, "holding_updated", func(h *domain.Holding) error {
		if patch.ISIN != nil {
			h.ISIN = strings.ToUpper(*patch.ISIN)
		}
		if patch.WKN != nil {
			h.WKN = strings.ToUpper(*patch.WKN)
		}
		if patch.SecurityType != nil {
			h.SecurityType = *patch.SecurityType
		}
		if patch.AssetClass != nil {
			h.AssetClass = *patch.AssetClass
		}
		if patch.Currency != nil {
			h.Currency = *patch.Currency
		}
		if patch.AnnualCosts != nil {
			costs := *patch.AnnualCosts
			h.AnnualCosts = &costs
		}
		return nil
	})
}

// Delete removes a holding and the rule set attached to it
func (s *Service) Delete(ctx context.Context, userID, portfolioID, holdingID string) error {
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		if _, err := portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioUpdateDenied); err != nil {
			return err
		}
		h, err := getInPortfolioTx(tx, portfolioID, holdingID)
		if err != nil {
			return err
		}
		if h.RuleSetID != nil {
			if err := tx.Delete(*h.RuleSetID, domain.RuleSet{}); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("failed to delete rule set: %w", err)
			}
		}
		if err := tx.Delete(holdingID, domain.Holding{}); err != nil {
			return fmt.Errorf("failed to delete holding: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("holding_id", holdingID).Str("portfolio_id", portfolioID).Msg("Holding deleted")
	s.changed(userID, portfolioID, "holding_deleted")
	return nil
}

// Move transfers a holding to another portfolio of the same user. The
// destination must not already hold the same ticker.
func (s *Service) Move(ctx context.Context, userID, portfolioID, holdingID, destinationID string) (*domain.Holding, error) {
	var moved *domain.Holding
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		if _, err := portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioUpdateDenied); err != nil {
			return err
		}
		h, err := getInPortfolioTx(tx, portfolioID, holdingID)
		if err != nil {
			return err
		}
		if destinationID == portfolioID {
			moved = h
			return nil
		}
		if _, err := portfolio.GetOwnedTx(tx, userID, destinationID, domain.CodePortfolioUpdateDenied); err != nil {
			return err
		}
		if err := ensureTickerFreeTx(tx, destinationID, h.Ticker, h.HoldingID); err != nil {
			return err
		}

		h.PortfolioID = destinationID
		h.ModifiedAt = s.now()
		if err := tx.Upsert(h.HoldingID, h); err != nil {
			return fmt.Errorf("failed to move holding: %w", err)
		}
		moved = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	if destinationID != portfolioID {
		s.log.Info().Str("holding_id", holdingID).Str("from", portfolioID).Str("to", destinationID).Msg("Holding moved")
		s.changed(userID, portfolioID, "holding_moved")
		s.changed(userID, destinationID, "holding_moved")
	}
	return moved, nil
}

// AddLot appends a purchase lot to a holding
func (s *Service) AddLot(ctx context.Context, userID, portfolioID, holdingID string, in LotInput) (*domain.Holding, error) {
	lot, err := s.newLot(in, s.now())
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, portfolioID, holdingID, "lot_added", func(h *domain.Holding) error {
		h.Lots = append(h.Lots, lot)
		return nil
	})
}

// UpdateLot replaces the purchase details of a lot
func (s *Service) UpdateLot(ctx context.Context, userID, portfolioID, holdingID, lotID string, in LotInput) (*domain.Holding, error) {
	now := s.now()
	replacement, err := s.newLot(in, now)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, portfolioID, holdingID, "lot_updated", func(h *domain.Holding) error {
		i := h.FindLot(lotID)
		if i < 0 {
			return domain.NewNotFound(domain.CodeLotNotFound, "Lot not found")
		}
		replacement.LotID = lotID
		replacement.CreatedAt = h.Lots[i].CreatedAt
		h.Lots[i] = replacement
		return nil
	})
}

// DeleteLot removes a lot from a holding
func (s *Service) DeleteLot(ctx context.Context, userID, portfolioID, holdingID, lotID string) (*domain.Holding, error) {
	return s.mutate(ctx, userID, portfolioID, holdingID, "lot_deleted", func(h *domain.Holding) error {
		i := h.FindLot(lotID)
		if i < 0 {
			return domain.NewNotFound(domain.CodeLotNotFound, "Lot not found")
		}
		h.Lots = append(h.Lots[:i], h.Lots[i+1:]...)
		return nil
	})
}

// mutate loads an owned holding, applies fn and saves it in one transaction
func (s *Service) mutate(ctx context.Context, userID, portfolioID, holdingID, action string, fn func(*domain.Holding) error) (*domain.Holding, error) {
	var out *domain.Holding
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		if _, err := portfolio.GetOwnedTx(tx, userID, portfolioID, domain.CodePortfolioUpdateDenied); err != nil {
			return err
		}
		h, err := getInPortfolioTx(tx, portfolioID, holdingID)
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
		h.ModifiedAt = s.now()
		if err := tx.Upsert(h.HoldingID, h); err != nil {
			return fmt.Errorf("failed to save holding: %w", err)
		}
		out = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.changed(userID, portfolioID, action)
	return out, nil
}

// newLot validates a lot: positive quantity and price, and a purchase
// date that is not in the future
func (s *Service) newLot(in LotInput, now time.Time) (domain.Lot, error) {
	if in.Quantity <= 0 {
		return domain.Lot{}, domain.NewValidation(domain.CodeLotInvalid, "quantity must be greater than 0")
	}
	if in.PurchasePrice <= 0 {
		return domain.Lot{}, domain.NewValidation(domain.CodeLotInvalid, "purchasePrice must be greater than 0")
	}

	date, err := parseDate(in.PurchaseDate)
	if err != nil {
		return domain.Lot{}, domain.NewValidation(domain.CodeLotInvalid, "purchaseDate must be a date in YYYY-MM-DD format")
	}
	if date.After(now.UTC().Truncate(24 * time.Hour)) {
		return domain.Lot{}, domain.NewValidation(domain.CodeLotInvalid, "purchaseDate must not be in the future")
	}

	return domain.Lot{
		LotID:         uuid.NewString(),
		PurchaseDate:  date.Format(domain.DateLayout),
		Quantity:      in.Quantity,
		PurchasePrice: in.PurchasePrice,
		CreatedAt:     now,
		ModifiedAt:    now,
	}, nil
}

func (s *Service) changed(userID, portfolioID, action string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish("holdings", &events.PortfolioChangedData{UserID: userID, PortfolioID: portfolioID, Action: action})
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(domain.DateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func getInPortfolioTx(tx *docstore.Tx, portfolioID, holdingID string) (*domain.Holding, error) {
	var h domain.Holding
	if err := tx.Get(holdingID, &h); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.CodeHoldingNotFound, "Holding not found")
		}
		return nil, fmt.Errorf("failed to load holding %s: %w", holdingID, err)
	}
	if h.PortfolioID != portfolioID {
		return nil, domain.NewNotFound(domain.CodeHoldingNotFound, "Holding not found")
	}
	return &h, nil
}

func ensureTickerFreeTx(tx *docstore.Tx, portfolioID, ticker, exceptID string) error {
	existing, err := find(tx, badgerhold.Where("PortfolioID").Eq(portfolioID).And("Ticker").Eq(ticker))
	if err != nil {
		return err
	}
	for _, h := range existing {
		if h.HoldingID != exceptID {
			return domain.NewConflict(domain.CodeDuplicateHolding,
				fmt.Sprintf("The portfolio already holds %s.", ticker))
		}
	}
	return nil
}

func find(tx *docstore.Tx, q *badgerhold.Query) ([]domain.Holding, error) {
	list := []domain.Holding{}
	if err := tx.Find(&list, q); err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].HoldingID < list[j].HoldingID
	})
	return list, nil
}
