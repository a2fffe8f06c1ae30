package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateOrder_SendsIdempotencyKeyOnce(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "ORD-1", r.Header.Get("Idempotency-Key"))

		var req CreateOrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pending", req.PaymentStatus)
		assert.True(t, req.Total.Equal(decimal.RequireFromString("14.00")))
		writeJSON(w, http.StatusCreated, OrderReceipt{OrderNumber: "100042", CreatedAt: time.Unix(0, 0).UTC()})
	})

	c := New(srv.URL)
	receipt, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		LocalOrderID:  "ORD-1",
		Lines:         []OrderLine{{ProductID: 7, Quantity: 1, UnitPrice: decimal.RequireFromString("14.00")}},
		Total:         decimal.RequireFromString("14.00"),
		PaymentMethod: "invoice",
		PaymentStatus: "pending",
	})
	require.NoError(t, err)
	assert.Equal(t, "100042", receipt.OrderNumber)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCreateOrder_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"message": "upstream down"})
	})

	_, err := New(srv.URL, WithRetries(3, time.Millisecond)).CreateOrder(context.Background(), CreateOrderRequest{LocalOrderID: "ORD-1"})
	apiErr := AsAPIError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGet_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "CH", r.URL.Query().Get("country"))
		assert.Equal(t, "1500", r.URL.Query().Get("weight"))
		writeJSON(w, http.StatusOK, Quote{Price: decimal.RequireFromString("9.00"), ZoneLabel: "Schweiz", RangeLabel: "1-2 kg"})
	})

	quote, err := New(srv.URL, WithRetries(3, time.Millisecond)).Quote(context.Background(), "ch", 1500)
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.RequireFromString("9.00")))
	assert.Equal(t, "Schweiz", quote.ZoneLabel)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "session_expired", "message": "Session expired"}})
	})

	_, err := New(srv.URL, WithRetries(3, time.Millisecond)).ResolveSession(context.Background(), "tok")
	apiErr := AsAPIError(err)
	require.NotNil(t, apiErr)
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, "session_expired", apiErr.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestResolveSession_SendsBearer(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, User{ID: "u-1", Email: "anna@example.ch"})
	})

	user, err := New(srv.URL, WithAPIKey("service-key")).ResolveSession(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).CreateOrder(ctx, CreateOrderRequest{LocalOrderID: "ORD-1"})

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.True(t, netErr.Timeout())
	assert.True(t, IsNetwork(err))
}

func TestDecodeAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"flat", `{"code":"x","message":"Out of stock"}`, "Out of stock"},
		{"wrapped", `{"error":{"message":"Invalid postal code","fields":{"postalCode":"bad"}}}`, "Invalid postal code"},
		{"string", `{"error":"nope"}`, "nope"},
		{"text", `gateway exploded`, "gateway exploded"},
		{"empty", ``, "Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeAPIError(http.StatusBadRequest, []byte(tt.body)).Message)
		})
	}
}

func TestPaymentSettings(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settings/payment", r.URL.Path)
		writeJSON(w, http.StatusOK, PaymentSettings{
			Currency: "CHF",
			Methods:  []MethodSetting{{Method: "invoice", Enabled: true}, {Method: "card", Enabled: false}},
		})
	})

	settings, err := New(srv.URL).PaymentSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CHF", settings.Currency)
	require.Len(t, settings.Methods, 2)
	assert.True(t, settings.Methods[0].Enabled)
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/register":
			var req RegisterRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusCreated, User{ID: "u-9", Email: req.Email})
		case "/auth/login":
			writeJSON(w, http.StatusOK, Session{Token: "tok", User: User{ID: "u-9"}})
		default:
			http.NotFound(w, r)
		}
	})
	c := New(srv.URL)

	user, err := c.Register(context.Background(), RegisterRequest{Email: "anna@example.ch", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u-9", user.ID)

	session, err := c.Login(context.Background(), "anna@example.ch", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.Token)
}

func TestCaptureClient(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/payment_intents":
			assert.Equal(t, "intent-ORD-1", r.Header.Get("Idempotency-Key"))
			writeJSON(w, http.StatusOK, Intent{ID: "pi_1", Currency: "CHF"})
		case "/payment_intents/pi_1/confirm":
			writeJSON(w, http.StatusOK, Capture{ID: "ch_1", Status: CaptureSucceeded})
		default:
			http.NotFound(w, r)
		}
	})
	c := NewCaptureClient(srv.URL, "sk_test")

	intent, err := c.CreateIntent(context.Background(), decimal.RequireFromString("28.00"), "CHF", "ORD-1")
	require.NoError(t, err)
	capture, err := c.Confirm(context.Background(), intent.ID, Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"})
	require.NoError(t, err)
	assert.Equal(t, CaptureSucceeded, capture.Status)
}

func TestCardStringMasksNumber(t *testing.T) {
	c := Card{Number: "4242424242424242", ExpMonth: 3, ExpYear: 2031, CVC: "999"}
	s := c.String()
	assert.Equal(t, "card ****4242 03/2031", s)
	assert.NotContains(t, s, "999")
}

type countingPricer struct {
	calls int
	err   error
}

func (p *countingPricer) Quote(_ context.Context, country string, weight int) (Quote, error) {
	p.calls++
	if p.err != nil {
		return Quote{}, p.err
	}
	return Quote{Price: decimal.NewFromInt(int64(weight / 100)), ZoneLabel: country}, nil
}

func TestCachedPricer(t *testing.T) {
	next := &countingPricer{}
	p, err := NewCachedPricer(next, 2)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Quote(ctx, "ch", 500)
	require.NoError(t, err)
	_, err = p.Quote(ctx, "CH", 500)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	next.err = errors.New("down")
	_, err = p.Quote(ctx, "DE", 500)
	require.Error(t, err)
	assert.Equal(t, 1, p.Len(), "failures are not cached")
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, PaymentSettings{})
	})
	c := New(srv.URL, WithRateLimit(0.001, 1))

	_, err := c.PaymentSettings(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.PaymentSettings(ctx)
	assert.True(t, IsNetwork(err))
}
