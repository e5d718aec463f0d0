// Package users manages user profiles: provisioning on first sign-in and
// settings updates.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

const defaultPortfolioDescription = "Your default portfolio."

// SettingsInput is a settings update; nil fields are left unchanged
type SettingsInput struct {
	DefaultPortfolioID      *string                       `json:"defaultPortfolioId"`
	NotificationPreferences *[]domain.NotificationChannel `json:"notificationPreferences"`
}

// Service implements user operations
type Service struct {
	store      *docstore.Store
	portfolios *portfolio.Service
	now        func() time.Time
	log        zerolog.Logger
}

// NewService creates a user service
func NewService(store *docstore.Store, portfolios *portfolio.Service, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		portfolios: portfolios,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With().Str("service", "users").Logger(),
	}
}

// GetByUID returns a stored user
func (s *Service) GetByUID(ctx context.Context, uid string) (*domain.User, error) {
	var u *domain.User
	err := s.store.View(ctx, func(tx *docstore.Tx) error {
		var err error
		u, err = getTx(tx, uid)
		return err
	})
	return u, err
}

// Provision returns the user for id, creating it on first access. A caller
// who already owns portfolios gets the oldest one as default; otherwise a
// default portfolio is created. Concurrent first requests produce exactly
// one user and one default portfolio.
func (s *Service) Provision(ctx context.Context, id *auth.Identity) (*domain.User, error) {
	if id == nil || id.Subject == "" {
		return nil, domain.NewUnauthenticated("missing identity")
	}

	var (
		user    *domain.User
		created bool
	)
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		created = false
		existing, err := getTx(tx, id.Subject)
		if err == nil {
			user = existing
			return nil
		}
		if !domain.IsNotFound(err) {
			return err
		}

		pid, err := s.defaultPortfolioTx(tx, id.Subject)
		if err != nil {
			return err
		}

		now := s.now()
		user = &domain.User{
			UID:                     id.Subject,
			Username:                usernameFor(id),
			Email:                   id.Email,
			SubscriptionStatus:      domain.SubscriptionFree,
			NotificationPreferences: []domain.NotificationChannel{domain.ChannelEmail},
			DefaultPortfolioID:      &pid,
			CreatedAt:               now,
			ModifiedAt:              now,
		}
		if err := tx.Insert(user.UID, user); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.log.Info().Str("user_id", user.UID).Str("default_portfolio", *user.DefaultPortfolioID).Msg("User provisioned")
	}
	return user, nil
}

// defaultPortfolioTx picks the oldest portfolio the user already owns,
// creating the default one when there is none
func (s *Service) defaultPortfolioTx(tx *docstore.Tx, uid string) (string, error) {
	owned, err := portfolio.ListByUserTx(tx, uid)
	if err != nil {
		return "", err
	}
	if len(owned) > 0 {
		return owned[0].PortfolioID, nil
	}

	p, err := s.portfolios.CreateTx(tx, uid, portfolio.CreateInput{
		Name:            domain.DefaultPortfolioName,
		Description:     defaultPortfolioDescription,
		DefaultCurrency: domain.CurrencyEUR,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create default portfolio: %w", err)
	}
	return p.PortfolioID, nil
}

// UpdateSettings changes the default portfolio and notification channels.
// The default must be one of the user's portfolios at commit time.
func (s *Service) UpdateSettings(ctx context.Context, uid string, in SettingsInput) (*domain.User, error) {
	var channels []domain.NotificationChannel
	if in.NotificationPreferences != nil {
		var err error
		channels, err = normalizeChannels(*in.NotificationPreferences)
		if err != nil {
			return nil, err
		}
	}

	var updated *domain.User
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		u, err := getTx(tx, uid)
		if err != nil {
			return err
		}

		if in.DefaultPortfolioID != nil {
			p, err := portfolio.GetTx(tx, *in.DefaultPortfolioID)
			if err != nil && !domain.IsNotFound(err) {
				return err
			}
			if p == nil || p.UserID != uid {
				return domain.NewForbidden(domain.CodeInvalidDefault, "Invalid default portfolio specified.")
			}
			pid := p.PortfolioID
			u.DefaultPortfolioID = &pid
		}
		if in.NotificationPreferences != nil {
			u.NotificationPreferences = channels
		}

		u.ModifiedAt = s.now()
		if err := tx.Upsert(uid, u); err != nil {
			return fmt.Errorf("failed to save user settings: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func getTx(tx *docstore.Tx, uid string) (*domain.User, error) {
	var u domain.User
	if err := tx.Get(uid, &u); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.CodeUserNotFound, "User profile not found.")
		}
		return nil, fmt.Errorf("failed to load user %s: %w", uid, err)
	}
	if u.NotificationPreferences == nil {
		u.NotificationPreferences = []domain.NotificationChannel{}
	}
	return &u, nil
}

// normalizeChannels rejects unknown channels and drops duplicates,
// keeping first-seen order
func normalizeChannels(in []domain.NotificationChannel) ([]domain.NotificationChannel, error) {
	seen := make(map[domain.NotificationChannel]bool, len(in))
	out := make([]domain.NotificationChannel, 0, len(in))
	for _, c := range in {
		if !c.Valid() {
			return nil, domain.NewValidation(domain.CodeInvalidChannel,
				fmt.Sprintf("Invalid notification channel %q.", c))
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func usernameFor(id *auth.Identity) string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if id.Email != "" {
		name, _, _ := strings.Cut(id.Email, "@")
		return name
	}
	return id.Subject
}
