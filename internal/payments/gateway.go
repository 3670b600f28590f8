package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

// ResponseCodeSuccess is the gateway's verdict for a captured payment.
// Anything else is a failure of some flavor.
const ResponseCodeSuccess = "00"

const signatureParam = "signature"

// CreateOrder is the input to a hosted-checkout URL.
type CreateOrder struct {
	OrderID     string
	AmountCents int64
	Description string
	ProductCode string
	ClientIP    string
}

// CallbackData is the verified content of a gateway callback.
type CallbackData struct {
	OrderRef     string
	TxnRef       string
	ResponseCode string
	AmountCents  int64
}

// Success reports whether the gateway captured the payment.
func (c CallbackData) Success() bool { return c.ResponseCode == ResponseCodeSuccess }

// Gateway builds signed hosted-checkout URLs and verifies callback
// signatures. The gateway protocol signs the sorted, URL-encoded query
// string with HMAC-SHA512 over a shared secret.
type Gateway struct {
	baseURL    string
	terminalID string
	secret     []byte
	returnURL  string
	client     *http.Client
	now        func() time.Time
}

// NewGateway constructs a gateway client. The timeout bounds the outbound
// checkout call; callbacks are inbound and carry no timeout of their own.
func NewGateway(baseURL, terminalID, secret, returnURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		terminalID: terminalID,
		secret:     []byte(secret),
		returnURL:  returnURL,
		client:     &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// CreatePaymentURL registers the order with the gateway and returns the
// hosted-checkout URL the client browser is redirected to. The call is
// bounded by the client timeout; on timeout the payment stays pending and
// is reconciled by the async notification if the order went through.
func (g *Gateway) CreatePaymentURL(ctx context.Context, order CreateOrder) (string, error) {
	if order.OrderID == "" {
		return "", apperr.New(apperr.KindValidation, "order id is required")
	}
	if order.AmountCents <= 0 {
		return "", apperr.New(apperr.KindValidation, "amount must be positive")
	}

	params := url.Values{}
	params.Set("terminalId", g.terminalID)
	params.Set("orderId", order.OrderID)
	params.Set("amount", strconv.FormatInt(order.AmountCents, 10))
	params.Set("orderInfo", order.Description)
	params.Set("orderType", order.ProductCode)
	params.Set("clientIp", order.ClientIP)
	params.Set("returnUrl", g.returnURL)
	params.Set("createDate", g.now().UTC().Format("20060102150405"))
	params.Set(signatureParam, g.sign(params))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/paygate/create", strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("payments: build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: gateway create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payments: gateway create returned status %d", resp.StatusCode)
	}

	var body struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		PaymentURL string `json:"paymentUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("payments: decode gateway response: %w", err)
	}
	if body.Code != ResponseCodeSuccess || body.PaymentURL == "" {
		return "", fmt.Errorf("payments: gateway rejected order %s: %s %s", order.OrderID, body.Code, body.Message)
	}
	return body.PaymentURL, nil
}

// VerifyCallback checks the callback signature and extracts the fields the
// reconciler needs. Unsigned or tampered callbacks never get past here.
func (g *Gateway) VerifyCallback(values url.Values) (CallbackData, error) {
	got := values.Get(signatureParam)
	if got == "" {
		return CallbackData{}, apperr.New(apperr.KindExternalAuth, "callback is unsigned")
	}

	unsigned := url.Values{}
	for k, vs := range values {
		if k == signatureParam {
			continue
		}
		for _, v := range vs {
			unsigned.Add(k, v)
		}
	}
	want := g.sign(unsigned)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return CallbackData{}, apperr.New(apperr.KindExternalAuth, "callback signature mismatch")
	}

	amount, err := strconv.ParseInt(values.Get("amount"), 10, 64)
	if err != nil {
		return CallbackData{}, apperr.New(apperr.KindValidation, "callback amount is not a number")
	}
	return CallbackData{
		OrderRef:     values.Get("orderId"),
		TxnRef:       values.Get("transactionId"),
		ResponseCode: values.Get("responseCode"),
		AmountCents:  amount,
	}, nil
}

// sign computes HMAC-SHA512 over the sorted key=value query string.
func (g *Gateway) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}

	mac := hmac.New(sha512.New, g.secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
