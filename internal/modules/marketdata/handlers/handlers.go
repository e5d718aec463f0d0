// Package handlers provides HTTP handlers for market data tasks and
// instrument lookup.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/aristath/sentinel-invest/internal/clients/openfigi"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/marketdata"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Syncer runs a market data sync
type Syncer interface {
	Sync(ctx context.Context) (*marketdata.SyncResult, error)
}

// IdentifierResolver maps security identifiers to exchange listings
type IdentifierResolver interface {
	Lookup(ctx context.Context, idType openfigi.IDType, value string) ([]openfigi.Listing, error)
}

// identifier formats accepted by the lookup, keyed by query parameter
var identifierParams = []struct {
	param  string
	idType openfigi.IDType
	format *regexp.Regexp
}{
	{"isin", openfigi.IDTypeISIN, regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)},
	{"wkn", openfigi.IDTypeWKN, regexp.MustCompile(`^[A-Z0-9]{6}$`)},
	{"cusip", openfigi.IDTypeCUSIP, regexp.MustCompile(`^[A-Z0-9]{9}$`)},
}

// SyncResponse is returned by the manual sync trigger
type SyncResponse struct {
	Message string                 `json:"message"`
	Result  *marketdata.SyncResult `json:"result"`
}

// Handler handles market data HTTP requests
type Handler struct {
	syncer      Syncer
	searcher    marketdata.SymbolSearcher
	identifiers IdentifierResolver
	log         zerolog.Logger
}

// NewHandler creates a market data handler. identifiers may be nil, which
// leaves the identifier lookup unmounted.
func NewHandler(syncer Syncer, searcher marketdata.SymbolSearcher, identifiers IdentifierResolver, log zerolog.Logger) *Handler {
	return &Handler{
		syncer:      syncer,
		searcher:    searcher,
		identifiers: identifiers,
		log:         log.With().Str("handler", "marketdata").Logger(),
	}
}

// RegisterRoutes registers market data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tasks/run-daily-market-sync", h.HandleRunSync)
	r.Get("/instruments/search", h.HandleSearch)
	if h.identifiers != nil {
		r.Get("/instruments/lookup", h.HandleLookup)
	}
}

// HandleRunSync runs the daily sync synchronously
func (h *Handler) HandleRunSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context())
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, SyncResponse{
		Message: "Market data synchronization job completed successfully.",
		Result:  result,
	})
}

// HandleSearch looks up instruments matching ?q=
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" || len(q) > 50 {
		httputil.WriteError(w, h.log, domain.NewValidation(domain.CodeMarketDataQueryInvalid,
			"query parameter q must be 1-50 characters"))
		return
	}

	matches, err := h.searcher.SearchSymbols(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, h.log, domain.NewUpstream(domain.CodeMarketDataUnavailable,
			"Market data provider is unavailable.", err))
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, matches)
}

// HandleLookup resolves exactly one of ?isin=, ?wkn= or ?cusip= to the
// security's exchange listings
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var (
		idType openfigi.IDType
		value  string
		given  int
	)
	for _, p := range identifierParams {
		raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(p.param)))
		if raw == "" {
			continue
		}
		given++
		if !p.format.MatchString(raw) {
			httputil.WriteError(w, h.log, domain.NewValidation(domain.CodeMarketDataQueryInvalid,
				"invalid "+p.param+" format"))
			return
		}
		idType, value = p.idType, raw
	}
	if given != 1 {
		httputil.WriteError(w, h.log, domain.NewValidation(domain.CodeMarketDataQueryInvalid,
			"exactly one of isin, wkn or cusip is required"))
		return
	}

	listings, err := h.identifiers.Lookup(r.Context(), idType, value)
	if errors.Is(err, openfigi.ErrUnknownIdentifier) {
		httputil.WriteError(w, h.log, domain.NewNotFound(domain.CodeInstrumentNotFound,
			"No instrument found for "+value))
		return
	}
	if err != nil {
		httputil.WriteError(w, h.log, domain.NewUpstream(domain.CodeMarketDataUnavailable,
			"Identifier lookup service is unavailable.", err))
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, listings)
}
