// Package di provides dependency injection wiring and initialization.
package di

import (
	"errors"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/backup"
	"github.com/aristath/sentinel-invest/internal/clientdata"
	"github.com/aristath/sentinel-invest/internal/clients/alphavantage"
	"github.com/aristath/sentinel-invest/internal/clients/openfigi"
	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/aristath/sentinel-invest/internal/idempotency"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/aristath/sentinel-invest/internal/modules/holdings"
	"github.com/aristath/sentinel-invest/internal/modules/marketdata"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/aristath/sentinel-invest/internal/modules/rulesets"
	"github.com/aristath/sentinel-invest/internal/modules/snapshots"
	"github.com/aristath/sentinel-invest/internal/modules/users"
	"github.com/aristath/sentinel-invest/internal/realtime"
	"github.com/aristath/sentinel-invest/internal/scheduler"
	"github.com/aristath/sentinel-invest/internal/server"
)

// Container holds every long-lived dependency of the process
type Container struct {
	// SQLite databases, one file each under the data directory
	IdempotencyDB *database.DB // idempotency records, durable
	HistoryDB     *database.DB // daily bars, indicators and snapshots
	ClientDataDB  *database.DB // cached provider responses

	// Document store for users, portfolios, holdings and rule sets
	Store *docstore.Store

	Bus *events.Bus

	// Auth
	Verifier      auth.TokenVerifier
	Authenticator *auth.Authenticator
	Revoker       auth.Revoker

	// Repositories
	IdempotencyRepo *idempotency.Repository
	ClientDataRepo  *clientdata.Repository
	MarketDataRepo  *marketdata.Repository
	SnapshotRepo    *snapshots.Repository

	// Clients
	AlphaVantage *alphavantage.Client
	OpenFIGI     *openfigi.Client

	// Services
	PortfolioService *portfolio.Service
	HoldingService   *holdings.Service
	UserService      *users.Service
	RuleSetService   *rulesets.Service
	PriceService     *enrichment.PriceService
	Valuator         *enrichment.Valuator
	SyncService      *marketdata.SyncService
	SnapshotService  *snapshots.Service
	BackupService    *backup.Service // nil when backups are not configured

	Idempotency *idempotency.Middleware
	Hub         *realtime.Hub
	Scheduler   *scheduler.Scheduler

	// HTTP surface
	Routes []server.RouteRegistrar
	Tasks  []server.RouteRegistrar
	System *server.SystemHandlers
}

// Databases returns the open SQLite databases
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.IdempotencyDB, c.HistoryDB, c.ClientDataDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close stops background components and closes every store
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Hub != nil {
		c.Hub.Stop()
	}

	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
