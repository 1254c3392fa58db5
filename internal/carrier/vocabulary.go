package carrier

import (
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/textutil"
)

// Mapping is the outcome of looking up a raw carrier status.
type Mapping struct {
	// Status is empty when the raw value must not change the order status.
	Status domain.OrderStatus
	// Known is false for values absent from the table.
	Known bool
}

// vocabulary is keyed by textutil.Fold of the carrier's raw string. Pre-pickup values are listed
// with an empty status so they are recognised but never move the order.
var vocabulary = map[string]domain.OrderStatus{
	"en attente":                 "",
	"en attente d'enlevement":    "",
	"enregistre":                 "",
	"colis enregistre":           "",
	"cree":                       "",
	"awaiting pickup":            "",
	"pending":                    "",
	"pris en charge":             domain.OrderStatusShipped,
	"enleve":                     domain.OrderStatusShipped,
	"expedie":                    domain.OrderStatusShipped,
	"en transit":                 domain.OrderStatusShipped,
	"en cours":                   domain.OrderStatusShipped,
	"en cours d'acheminement":    domain.OrderStatusShipped,
	"en cours de livraison":      domain.OrderStatusShipped,
	"en livraison":               domain.OrderStatusShipped,
	"arrive au depot":            domain.OrderStatusShipped,
	"au depot":                   domain.OrderStatusShipped,
	"en agence":                  domain.OrderStatusShipped,
	"in transit":                 domain.OrderStatusShipped,
	"out for delivery":           domain.OrderStatusShipped,
	"livre":                      domain.OrderStatusDelivered,
	"livree":                     domain.OrderStatusDelivered,
	"colis livre":                domain.OrderStatusDelivered,
	"livre au destinataire":      domain.OrderStatusDelivered,
	"delivered":                  domain.OrderStatusDelivered,
	"retour":                     domain.OrderStatusCancelled,
	"retourne":                   domain.OrderStatusCancelled,
	"retour expediteur":          domain.OrderStatusCancelled,
	"retourne a l'expediteur":    domain.OrderStatusCancelled,
	"retour a l'expediteur":      domain.OrderStatusCancelled,
	"refuse":                     domain.OrderStatusCancelled,
	"colis refuse":               domain.OrderStatusCancelled,
	"refuse par le destinataire": domain.OrderStatusCancelled,
	"anomalie":                   domain.OrderStatusCancelled,
	"adresse incorrecte":         domain.OrderStatusCancelled,
	"annule":                     domain.OrderStatusCancelled,
	"perdu":                      domain.OrderStatusCancelled,
	"returned":                   domain.OrderStatusCancelled,
}

// MapStatus looks raw up in the fixed vocabulary, ignoring case, accents and spacing.
// Unknown values map to no change.
func MapStatus(raw string) Mapping {
	status, ok := vocabulary[textutil.Fold(raw)]
	return Mapping{Status: status, Known: ok}
}
