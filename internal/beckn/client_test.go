package beckn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/staysettle/internal/circuitbreaker"
	"github.com/mbd888/staysettle/internal/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path   string
	auth   string
	ctype  string
	body   map[string]json.RawMessage
	header Context
}

func gatewayServer(t *testing.T, status int, reply string, calls *atomic.Int32, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if got != nil {
			got.path = r.URL.Path
			got.auth = r.Header.Get("Authorization")
			got.ctype = r.Header.Get("Content-Type")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &got.body)
			_ = json.Unmarshal(got.body["context"], &got.header)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, APIKey: "secret", Timeout: 2 * time.Second}, nil).
		WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

func TestSearchSendsEnvelope(t *testing.T) {
	var got captured
	reply := `{"message":{"catalog":{"providers":[{"id":"homestay-1","items":[{"id":"room-1","price":{"currency":"INR","value":"2500"}}]}]}}}`
	srv := gatewayServer(t, http.StatusOK, reply, nil, &got)
	c := newTestClient(srv.URL)

	bctx := newTestFactory().New(ActionSearch, "txn-1")
	start := time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 12, 11, 0, 0, 0, time.UTC)
	lo, hi := decimal.NewFromInt(1000), decimal.NewFromInt(3000)
	providers, err := c.Search(context.Background(), bctx, Intent{
		GPS: "12.97,77.59", Start: &start, End: &end, Guests: 2, MinPrice: &lo, MaxPrice: &hi,
	})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "homestay-1", providers[0].ID)

	assert.Equal(t, "/search", got.path)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, "application/json", got.ctype)
	assert.Equal(t, "txn-1", got.header.TransactionID)
	assert.Equal(t, bctx.MessageID, got.header.MessageID)

	var msg struct {
		Intent struct {
			Category struct {
				Descriptor Descriptor `json:"descriptor"`
			} `json:"category"`
			Location Location `json:"location"`
			Time     Time     `json:"time"`
			Item     struct {
				Quantity Quantity `json:"quantity"`
			} `json:"item"`
			Payment Payment `json:"payment"`
		} `json:"intent"`
	}
	require.NoError(t, json.Unmarshal(got.body["message"], &msg))
	assert.Equal(t, DefaultCategory, msg.Intent.Category.Descriptor.Name)
	assert.Equal(t, "12.97,77.59", msg.Intent.Location.GPS)
	assert.Equal(t, "2026-06-10T14:00:00.000Z", msg.Intent.Time.Range.Start)
	assert.Equal(t, 2, msg.Intent.Item.Quantity.Count)
	assert.Equal(t, "1000-3000", msg.Intent.Payment.Params.Amount)
	assert.Equal(t, "INR", msg.Intent.Payment.Params.Currency)
}

func TestSearchWithoutCatalogIsEmpty(t *testing.T) {
	srv := gatewayServer(t, http.StatusOK, `{"message":{}}`, nil, nil)
	providers, err := newTestClient(srv.URL).Search(context.Background(), newTestFactory().New(ActionSearch, "t"), Intent{})
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestConfirmWithoutOrderReturnsNil(t *testing.T) {
	srv := gatewayServer(t, http.StatusOK, `{}`, nil, nil)
	order, err := newTestClient(srv.URL).Confirm(context.Background(), newTestFactory().New(ActionConfirm, "t"), &Order{ID: "o-1"})
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := gatewayServer(t, http.StatusBadGateway, `upstream down`, &calls, nil)

	_, err := newTestClient(srv.URL).Track(context.Background(), newTestFactory().New(ActionTrack, "t"), "o-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, ActionTrack, te.Action)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := gatewayServer(t, http.StatusBadRequest, `{"error":"bad"}`, &calls, nil)

	_, err := newTestClient(srv.URL).Select(context.Background(), newTestFactory().New(ActionSelect, "t"), &Order{})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"message":{"order":{"id":"o-1","state":"Active"}}}`)
	}))
	defer srv.Close()

	order, err := newTestClient(srv.URL).Init(context.Background(), newTestFactory().New(ActionInit, "t"), &Order{})
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "Active", order.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProtocolErrorIsReturned(t *testing.T) {
	srv := gatewayServer(t, http.StatusOK, `{"error":{"code":"30004","message":"item not found"}}`, nil, nil)

	_, err := newTestClient(srv.URL).Select(context.Background(), newTestFactory().New(ActionSelect, "t"), &Order{})
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "30004", pe.Code)
	assert.False(t, IsRetryable(err))
}

func TestOpenCircuitFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := gatewayServer(t, http.StatusInternalServerError, ``, &calls, nil)
	c := newTestClient(srv.URL).
		WithRetryPolicy(retry.Policy{MaxAttempts: 1}).
		WithBreaker(circuitbreaker.New(2, time.Minute))
	f := newTestFactory()

	for range 2 {
		_, err := c.Track(context.Background(), f.New(ActionTrack, "t"), "o-1")
		require.Error(t, err)
	}
	_, err := c.Track(context.Background(), f.New(ActionTrack, "t"), "o-1")
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())

	// Breakers are per action.
	_, err = c.Cancel(context.Background(), f.New(ActionCancel, "t"), "o-1", "1")
	assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestRegisterAndUpdateCatalog(t *testing.T) {
	var got captured
	srv := gatewayServer(t, http.StatusOK, `{"provider_id":"net-prov-9"}`, nil, &got)
	c := newTestClient(srv.URL)
	f := newTestFactory()

	id, err := c.Register(context.Background(), f.New(ActionRegister, "t"), &Provider{ID: "homestay-1"})
	require.NoError(t, err)
	assert.Equal(t, "net-prov-9", id)
	assert.Equal(t, "/register", got.path)

	err = c.UpdateCatalog(context.Background(), f.New(ActionUpdate, "t"), "net-prov-9", &Catalog{})
	require.NoError(t, err)
	assert.Equal(t, "/update", got.path)

	var msg struct {
		ProviderID string `json:"provider_id"`
	}
	require.NoError(t, json.Unmarshal(got.body["message"], &msg))
	assert.Equal(t, "net-prov-9", msg.ProviderID)
}

func TestCancelledContextStops(t *testing.T) {
	srv := gatewayServer(t, http.StatusOK, `{}`, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).Support(ctx, newTestFactory().New(ActionSupport, "t"), SupportRequest{OrderID: "o-1"})
	require.Error(t, err)
}
