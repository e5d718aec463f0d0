package portfolio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/timshannon/badgerhold/v4"
)

// Transaction-scoped helpers shared with the user and holding services.
// They only read and write through tx, so callers compose them into a
// single atomic operation.

// GetTx loads a portfolio by id
func GetTx(tx *docstore.Tx, id string) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := tx.Get(id, &p); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.CodePortfolioNotFound, "Portfolio not found")
		}
		return nil, fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}
	return &p, nil
}

// GetOwnedTx loads a portfolio and checks it belongs to userID.
// forbiddenCode distinguishes read, update and delete denials.
func GetOwnedTx(tx *docstore.Tx, userID, id, forbiddenCode string) (*domain.Portfolio, error) {
	p, err := GetTx(tx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.NewForbidden(forbiddenCode, "Portfolio belongs to another user")
	}
	return p, nil
}

// ListByUserTx returns the user's portfolios oldest first
func ListByUserTx(tx *docstore.Tx, userID string) ([]domain.Portfolio, error) {
	var list []domain.Portfolio
	if err := tx.Find(&list, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	SortByCreation(list)
	return list, nil
}

// SortByCreation orders portfolios by creation time, then id
func SortByCreation(list []domain.Portfolio) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].PortfolioID < list[j].PortfolioID
	})
}

// claimNameTx reserves name for the portfolio, failing on a duplicate
func claimNameTx(tx *docstore.Tx, p *domain.Portfolio) error {
	claim := domain.PortfolioNameClaim{UserID: p.UserID, Name: p.Name, PortfolioID: p.PortfolioID}
	err := tx.Insert(domain.NameClaimKey(p.UserID, p.Name), &claim)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return domain.NewConflict(domain.CodeDuplicateName,
			fmt.Sprintf("A portfolio with the name '%s' already exists.", p.Name))
	}
	if err != nil {
		return fmt.Errorf("failed to claim portfolio name: %w", err)
	}
	return nil
}

func releaseNameTx(tx *docstore.Tx, userID, name string) error {
	err := tx.Delete(domain.NameClaimKey(userID, name), domain.PortfolioNameClaim{})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to release portfolio name: %w", err)
	}
	return nil
}

// InsertTx stores a new portfolio together with its name claim
func InsertTx(tx *docstore.Tx, p *domain.Portfolio) error {
	if err := claimNameTx(tx, p); err != nil {
		return err
	}
	if err := tx.Insert(p.PortfolioID, p); err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}
	return nil
}
