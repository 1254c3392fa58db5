package di

import (
	"reflect"
	"testing"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/config"
)

func TestStripeGatewayConfigCarriesShippingCountries(t *testing.T) {
	got := stripeGatewayConfig(config.PSPConfig{
		StripeAPIKey:        "sk_test",
		StripeWebhookSecret: "whsec_test",
		ShippingCountries:   []string{"TN", "DZ"},
	}, nil)

	if got.APIKey != "sk_test" || got.WebhookSecret != "whsec_test" {
		t.Fatalf("unexpected credentials %+v", got)
	}
	if !reflect.DeepEqual(got.ShippingCountries, []string{"TN", "DZ"}) {
		t.Fatalf("expected shipping countries to reach the gateway, got %v", got.ShippingCountries)
	}
}
