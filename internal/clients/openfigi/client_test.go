package openfigi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/sentinel-invest/internal/clientdata"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFIGI struct {
	server *httptest.Server
	calls  atomic.Int32
	fail   atomic.Bool
}

func newFakeFIGI(t *testing.T) *fakeFIGI {
	f := &fakeFIGI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mapping", r.URL.Path)

		if f.fail.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req []mappingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req, 1)

		var resp []mappingResponse
		switch {
		case req[0].IDType == IDTypeISIN && req[0].IDValue == "US0378331005",
			req[0].IDType == IDTypeWKN && req[0].IDValue == "865985":
			resp = []mappingResponse{{Data: []Listing{
				{FIGI: "BBG000B9XRY4", Ticker: "AAPL", ExchCode: "US", Name: "APPLE INC", SecurityType: "Common Stock"},
				{FIGI: "BBG000BCKLV4", Ticker: "APC", ExchCode: "GR", Name: "APPLE INC", SecurityType: "Common Stock"},
			}}}
		case req[0].IDValue == "BROKEN":
			resp = []mappingResponse{{Error: "Invalid idValue format"}}
		default:
			resp = []mappingResponse{{Warning: "No identifier found."}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(f *fakeFIGI, store *clientdata.Repository) *Client {
	c := NewClient("key", zerolog.Nop(), WithBaseURL(f.server.URL+"/"), WithStore(store))
	c.limiter.SetLimit(1000)
	c.limiter.SetBurst(1000)
	return c
}

func TestLookup_ISIN(t *testing.T) {
	f := newFakeFIGI(t)
	c := newTestClient(f, nil)

	listings, err := c.Lookup(context.Background(), IDTypeISIN, " us0378331005 ")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "AAPL", listings[0].Ticker)
	assert.Equal(t, "GR", listings[1].ExchCode)
}

func TestLookup_WKN(t *testing.T) {
	f := newFakeFIGI(t)
	c := newTestClient(f, nil)

	listings, err := c.Lookup(context.Background(), IDTypeWKN, "865985")
	require.NoError(t, err)
	assert.Len(t, listings, 2)
}

func TestLookup_Unknown(t *testing.T) {
	f := newFakeFIGI(t)
	c := newTestClient(f, nil)

	_, err := c.Lookup(context.Background(), IDTypeISIN, "XX0000000000")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)

	_, err = c.Lookup(context.Background(), IDTypeISIN, "BROKEN")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownIdentifier)
}

func TestLookup_PersistentCache(t *testing.T) {
	f := newFakeFIGI(t)
	store := clientdata.NewRepository(testingpkg.NewTestDB(t, "client_data").Conn())
	c := newTestClient(f, store)
	ctx := context.Background()

	_, err := c.Lookup(ctx, IDTypeISIN, "US0378331005")
	require.NoError(t, err)
	_, err = c.Lookup(ctx, IDTypeISIN, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestLookup_StaleFallback(t *testing.T) {
	f := newFakeFIGI(t)
	store := clientdata.NewRepository(testingpkg.NewTestDB(t, "client_data").Conn())
	ctx := context.Background()

	cached := []Listing{{Ticker: "AAPL", ExchCode: "US"}}
	require.NoError(t, store.Store(ctx, clientdata.TableFIGI, "ID_ISIN:US0378331005", cached, -time.Hour))

	f.fail.Store(true)
	listings, err := newTestClient(f, store).Lookup(ctx, IDTypeISIN, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, cached, listings)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestLookup_FailureWithoutFallback(t *testing.T) {
	f := newFakeFIGI(t)
	f.fail.Store(true)

	_, err := newTestClient(f, nil).Lookup(context.Background(), IDTypeISIN, "US0378331005")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
