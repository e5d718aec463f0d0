package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/backup"
	"github.com/aristath/sentinel-invest/internal/clientdata"
	"github.com/aristath/sentinel-invest/internal/clients/alphavantage"
	"github.com/aristath/sentinel-invest/internal/clients/openfigi"
	"github.com/aristath/sentinel-invest/internal/config"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/aristath/sentinel-invest/internal/idempotency"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/aristath/sentinel-invest/internal/modules/holdings"
	holdingshandlers "github.com/aristath/sentinel-invest/internal/modules/holdings/handlers"
	"github.com/aristath/sentinel-invest/internal/modules/marketdata"
	marketdatahandlers "github.com/aristath/sentinel-invest/internal/modules/marketdata/handlers"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	portfoliohandlers "github.com/aristath/sentinel-invest/internal/modules/portfolio/handlers"
	"github.com/aristath/sentinel-invest/internal/modules/rulesets"
	rulesetshandlers "github.com/aristath/sentinel-invest/internal/modules/rulesets/handlers"
	"github.com/aristath/sentinel-invest/internal/modules/snapshots"
	snapshotshandlers "github.com/aristath/sentinel-invest/internal/modules/snapshots/handlers"
	"github.com/aristath/sentinel-invest/internal/modules/users"
	usershandlers "github.com/aristath/sentinel-invest/internal/modules/users/handlers"
	"github.com/aristath/sentinel-invest/internal/realtime"
	"github.com/aristath/sentinel-invest/internal/scheduler"
	"github.com/aristath/sentinel-invest/internal/server"
	"github.com/rs/zerolog"
)

// credentialTimeout bounds credential resolution at startup
const credentialTimeout = 15 * time.Second

// InitializeServices builds repositories, clients, services and handlers on
// top of the opened databases
func InitializeServices(container *Container, cfg *config.Config, version string, log zerolog.Logger) error {
	container.Bus = events.NewBus(log)

	if err := initializeAuth(container, cfg, log); err != nil {
		return err
	}

	// Repositories
	container.IdempotencyRepo = idempotency.NewRepository(container.IdempotencyDB.Conn())
	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())
	container.MarketDataRepo = marketdata.NewRepository(container.HistoryDB.Conn())
	container.SnapshotRepo = snapshots.NewRepository(container.HistoryDB.Conn())

	container.Idempotency = idempotency.NewMiddleware(
		container.IdempotencyRepo,
		container.Authenticator,
		idempotency.Options{
			RecordTTL:        cfg.Idempotency.RecordTTL,
			ReservationLease: cfg.Idempotency.ReservationLease,
		},
		log,
	)

	// Market data provider, with responses persisted in client_data
	container.AlphaVantage = alphavantage.NewClient(
		cfg.MarketData.AlphaVantageAPIKey,
		log,
		alphavantage.WithBaseURL(cfg.MarketData.BaseURL),
		alphavantage.WithStore(container.ClientDataRepo),
		alphavantage.WithDailyLimit(cfg.MarketData.DailyRequestLimit),
		alphavantage.WithRequestsPerMinute(cfg.MarketData.RequestsPerMinute),
	)
	container.OpenFIGI = openfigi.NewClient(
		cfg.MarketData.OpenFIGIAPIKey,
		log,
		openfigi.WithBaseURL(cfg.MarketData.OpenFIGIBaseURL),
		openfigi.WithStore(container.ClientDataRepo),
	)
	if cfg.MarketData.AlphaVantageAPIKey == "" {
		log.Warn().Msg("ALPHA_VANTAGE_API_KEY not set - market data sync and search will fail")
	}

	// Domain services
	container.PortfolioService = portfolio.NewService(container.Store, cfg.Valuation.DefaultTaxRate, log)
	container.HoldingService = holdings.NewService(container.Store, container.Bus, log)
	container.UserService = users.NewService(container.Store, container.PortfolioService, log)
	container.RuleSetService = rulesets.NewService(container.Store, log)

	// Valuation
	container.PriceService = enrichment.NewPriceService(container.MarketDataRepo, cfg.Valuation.PriceCacheTTL, log)
	container.Valuator = enrichment.NewValuator(
		enrichment.NewEngine(cfg.Valuation.PriceFreshness),
		container.PriceService,
		log,
	)

	container.SyncService = marketdata.NewSyncService(
		container.MarketDataRepo,
		container.AlphaVantage,
		container.HoldingService,
		container.PriceService,
		container.Bus,
		cfg.MarketData.SyncConcurrency,
		log,
	)
	container.SyncService.BackfillDays = cfg.MarketData.BackfillDays

	container.SnapshotService = snapshots.NewService(
		container.SnapshotRepo,
		container.PortfolioService,
		container.HoldingService,
		container.Valuator,
		container.Bus,
		log,
	)

	if err := initializeBackup(container, cfg, log); err != nil {
		return err
	}

	// Realtime stream
	container.Hub = realtime.NewHub(container.Bus, cfg.AllowedOrigins, log)
	container.Hub.Start()

	container.Scheduler = scheduler.New(container.Bus, log)

	// HTTP handlers
	container.Routes = []server.RouteRegistrar{
		usershandlers.NewHandler(container.UserService, container.Revoker, log),
		portfoliohandlers.NewHandler(
			container.PortfolioService,
			container.HoldingService,
			container.Valuator,
			container.SnapshotService,
			log,
		),
		holdingshandlers.NewHandler(container.HoldingService, container.Valuator, log),
		rulesetshandlers.NewHandler(container.RuleSetService, log),
	}
	container.Tasks = []server.RouteRegistrar{
		marketdatahandlers.NewHandler(container.SyncService, container.AlphaVantage, container.OpenFIGI, log),
		snapshotshandlers.NewHandler(container.SnapshotService, container.HoldingService, log),
	}
	container.System = server.NewSystemHandlers(
		container.Databases(),
		cfg.DataDir,
		version,
		container.Scheduler,
		container.Hub,
		log,
	)

	log.Info().Msg("Services initialized")
	return nil
}

// initializeAuth builds the token verifier, the authenticator and the
// refresh token revoker
func initializeAuth(container *Container, cfg *config.Config, log zerolog.Logger) error {
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Mode:       auth.Mode(cfg.Auth.TokenMode),
		ProjectID:  cfg.Auth.ProjectID,
		HMACSecret: cfg.Auth.HMACSecret,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}
	container.Verifier = verifier
	container.Authenticator = auth.NewAuthenticator(verifier, log)

	resolver, err := auth.NewCredentialResolver(auth.CredentialConfig{
		Strategy:       auth.CredentialStrategy(cfg.Auth.CredentialStrategy),
		ProjectID:      cfg.Auth.ProjectID,
		KeyFile:        cfg.Auth.CredentialsFile,
		DefaultKeyFile: cfg.Auth.DefaultKeyFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create credential resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
	defer cancel()

	creds, err := resolver.Resolve(ctx)
	if err != nil {
		if !cfg.DevMode {
			return fmt.Errorf("failed to resolve service credentials: %w", err)
		}
		log.Warn().Err(err).Msg("Service credentials unavailable - logout will not revoke tokens")
		container.Revoker = auth.NoopRevoker{}
		return nil
	}

	// creds only outlive ctx through their token source, which refreshes
	// with its own context
	container.Revoker = auth.NewIdentityToolkitRevoker(context.Background(), creds, cfg.Auth.EmulatorHost, log)
	return nil
}

// initializeBackup builds the backup service when a bucket is configured
func initializeBackup(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.Backup.Enabled() {
		log.Info().Msg("Backups disabled (BACKUP_S3_BUCKET not set)")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
	defer cancel()

	store, err := backup.NewS3Store(ctx, cfg.Backup, log)
	if err != nil {
		return fmt.Errorf("failed to create backup store: %w", err)
	}

	sources := []backup.Source{backup.DocumentSource{Store: container.Store}}
	for _, db := range container.Databases() {
		sources = append(sources, backup.SQLiteSource{DB: db})
	}

	container.BackupService = backup.NewService(store, sources, backup.Options{
		Prefix:        cfg.Backup.Prefix,
		RetentionDays: cfg.Backup.RetentionDays,
		StagingDir:    filepath.Join(cfg.DataDir, "tmp"),
	}, container.Bus, log)
	return nil
}
