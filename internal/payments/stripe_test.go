package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

const testWebhookSecret = "whsec_test"

type fakeSessions struct {
	created    *stripe.CheckoutSessionParams
	session    *stripe.CheckoutSession
	err        error
	listParams *stripe.CheckoutSessionListLineItemsParams
	lineItems  []*stripe.LineItem
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeSessions) LineItems(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error) {
	f.listParams = params
	return f.lineItems, f.err
}

func sign(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const completedPayload = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "amount_total": 4500,
    "currency": "eur",
    "payment_status": "paid",
    "customer_details": {"email": "buyer@example.com", "name": "Amira"},
    "shipping_details": {"name": "Amira B", "address": {"line1": "12 Rue de Marseille", "city": "Tunis", "postal_code": "1000", "country": "TN"}},
    "metadata": {"payerId": "u1", "itemIds": "P1,P2", "quantities": "1,2"}
  }}
}`

func newTestGateway(t *testing.T, sessions *fakeSessions) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(StripeGatewayConfig{WebhookSecret: testWebhookSecret, Sessions: sessions})
	require.NoError(t, err)
	return gw
}

func TestVerifyEventCheckoutCompleted(t *testing.T) {
	gw := newTestGateway(t, &fakeSessions{})
	payload := []byte(completedPayload)

	evt, err := gw.VerifyEvent(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	require.NotNil(t, evt.Checkout)
	assert.Equal(t, "cs_test_1", evt.Checkout.SessionID)
	assert.Equal(t, int64(4500), evt.Checkout.AmountTotal)
	assert.Equal(t, "buyer@example.com", evt.Checkout.Email)
	assert.Equal(t, "P1,P2", evt.Checkout.Metadata["itemIds"])
	require.NotNil(t, evt.Checkout.Shipping)
	assert.Equal(t, "Tunis", evt.Checkout.Shipping.City)
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	gw := newTestGateway(t, &fakeSessions{})
	payload := []byte(completedPayload)

	_, err := gw.VerifyEvent(payload, sign(payload, "whsec_other", time.Now()))
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	_, err = gw.VerifyEvent(payload, "")
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	stale := sign(payload, testWebhookSecret, time.Now().Add(-time.Hour))
	_, err = gw.VerifyEvent(payload, stale)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifyEventWithoutSecret(t *testing.T) {
	gw, err := NewStripeGateway(StripeGatewayConfig{Sessions: &fakeSessions{}})
	require.NoError(t, err)
	_, err = gw.VerifyEvent([]byte(`{}`), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

func TestVerifyEventIgnoresOtherTypes(t *testing.T) {
	gw := newTestGateway(t, &fakeSessions{})
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`)

	evt, err := gw.VerifyEvent(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.created", evt.Type)
	assert.Nil(t, evt.Checkout)
}

func TestSessionLineItemsListsEveryLine(t *testing.T) {
	sessions := &fakeSessions{lineItems: []*stripe.LineItem{
		{Description: "Whey", Quantity: 1, AmountTotal: 2500, Price: &stripe.Price{UnitAmount: 2500}},
		{Description: "Creatine", Quantity: 2, AmountSubtotal: 2000, AmountTotal: 2000},
	}}
	for i := 0; i < 10; i++ {
		sessions.lineItems = append(sessions.lineItems, &stripe.LineItem{
			Description: fmt.Sprintf("Bar %d", i),
			Quantity:    1,
			AmountTotal: 300,
			Price:       &stripe.Price{UnitAmount: 300 + int64(i)},
		})
	}
	gw := newTestGateway(t, sessions)

	items, err := gw.SessionLineItems(context.Background(), "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, sessions.listParams)
	assert.Equal(t, "cs_test_1", stripe.StringValue(sessions.listParams.Session))
	assert.Equal(t, int64(lineItemPageSize), stripe.Int64Value(sessions.listParams.Limit))
	require.Len(t, items, 12)
	assert.Equal(t, int64(2500), items[0].UnitAmount)
	assert.Equal(t, int64(1000), items[1].UnitAmount)
	assert.Equal(t, int64(309), items[11].UnitAmount)
	assert.Equal(t, "Bar 9", items[11].Description)
}

func TestSessionLineItemsWrapsErrors(t *testing.T) {
	gw := newTestGateway(t, &fakeSessions{err: errors.New("stripe 503")})

	_, err := gw.SessionLineItems(context.Background(), "cs_test_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cs_test_1")
}

func TestCreateCheckoutSession(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/pay/cs_new", ExpiresAt: 1735689600}}
	gw, err := NewStripeGateway(StripeGatewayConfig{Sessions: sessions, ShippingCountries: []string{"TN"}})
	require.NoError(t, err)

	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Lines:    []CheckoutLine{{ProductID: "P1", Name: "Whey", Quantity: 2, UnitAmount: 2500}},
		Currency: "EUR",
		Metadata: map[string]string{"payerId": "u1", "itemIds": "P1", "quantities": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", session.ID)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), session.ExpiresAt)

	params := sessions.created
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, "eur", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(2500), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "P1", params.Metadata["itemIds"])
	require.NotNil(t, params.ShippingAddressCollection)

	_, err = gw.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	assert.Error(t, err)
}
