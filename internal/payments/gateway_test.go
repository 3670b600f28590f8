package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

func signedValues(g *Gateway, pairs map[string]string) url.Values {
	values := url.Values{}
	for k, v := range pairs {
		values.Set(k, v)
	}
	values.Set(signatureParam, g.sign(values))
	return values
}

func TestVerifyCallbackRoundTrip(t *testing.T) {
	g := NewGateway("https://pay.example.test", "SPA01", "supersecret", "https://spa.example.test/payments/return", 0)

	values := signedValues(g, map[string]string{
		"orderId":       "spaabc123",
		"transactionId": "gw-789",
		"responseCode":  "00",
		"amount":        "150000",
	})

	data, err := g.VerifyCallback(values)
	require.NoError(t, err)
	assert.Equal(t, "spaabc123", data.OrderRef)
	assert.Equal(t, "gw-789", data.TxnRef)
	assert.True(t, data.Success())
	assert.Equal(t, int64(150000), data.AmountCents)
}

func TestVerifyCallbackRejectsTampering(t *testing.T) {
	g := NewGateway("https://pay.example.test", "SPA01", "supersecret", "", 0)

	values := signedValues(g, map[string]string{
		"orderId":      "spaabc123",
		"responseCode": "00",
		"amount":       "150000",
	})
	values.Set("amount", "1")

	_, err := g.VerifyCallback(values)
	assert.True(t, apperr.IsKind(err, apperr.KindExternalAuth))
}

func TestVerifyCallbackRejectsUnsigned(t *testing.T) {
	g := NewGateway("https://pay.example.test", "SPA01", "supersecret", "", 0)

	_, err := g.VerifyCallback(url.Values{"orderId": {"spaabc123"}})
	assert.True(t, apperr.IsKind(err, apperr.KindExternalAuth))
}

func TestVerifyCallbackRejectsForeignSecret(t *testing.T) {
	ours := NewGateway("https://pay.example.test", "SPA01", "supersecret", "", 0)
	theirs := NewGateway("https://pay.example.test", "SPA01", "someothersecret", "", 0)

	values := signedValues(theirs, map[string]string{
		"orderId":      "spaabc123",
		"responseCode": "00",
		"amount":       "150000",
	})

	_, err := ours.VerifyCallback(values)
	assert.True(t, apperr.IsKind(err, apperr.KindExternalAuth))
}

func TestCreatePaymentURLSignsAndParsesResponse(t *testing.T) {
	secret := "supersecret"
	var received url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		received = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":       "00",
			"paymentUrl": "https://pay.example.test/checkout/abc",
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "SPA01", secret, "https://spa.example.test/payments/return", 5*time.Second)
	g.now = func() time.Time { return time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC) }

	payURL, err := g.CreatePaymentURL(context.Background(), CreateOrder{
		OrderID:     "spaabc123",
		AmountCents: 150000,
		Description: "Deep Tissue Massage",
		ProductCode: "spa_booking",
		ClientIP:    "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.test/checkout/abc", payURL)

	require.NotNil(t, received)
	assert.Equal(t, "spaabc123", received.Get("orderId"))
	assert.Equal(t, "150000", received.Get("amount"))

	// The request must verify under our own secret.
	sig := received.Get(signatureParam)
	received.Del(signatureParam)
	assert.Equal(t, g.sign(received), sig)
}

func TestCreatePaymentURLGatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "13", "message": "invalid terminal"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "SPA01", "supersecret", "", time.Second)
	_, err := g.CreatePaymentURL(context.Background(), CreateOrder{OrderID: "spaabc123", AmountCents: 1000})
	assert.Error(t, err)
}

func TestCreatePaymentURLValidation(t *testing.T) {
	g := NewGateway("https://pay.example.test", "SPA01", "supersecret", "", 0)

	_, err := g.CreatePaymentURL(context.Background(), CreateOrder{AmountCents: 1000})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = g.CreatePaymentURL(context.Background(), CreateOrder{OrderID: "spaabc123"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
