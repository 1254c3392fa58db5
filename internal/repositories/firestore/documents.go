package firestore

import (
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

const (
	productsCollection          = "products"
	ordersCollection            = "orders"
	paymentReferencesCollection = "paymentReferences"
	outboxCollection            = "notificationOutbox"

	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusParked  = "parked"

	// Firestore rejects transactions with more than 500 writes.
	maxTransactionWrites = 500
)

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt,omitempty"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{ID: id, Name: d.Name, Price: d.Price, Stock: d.Stock}
}

type orderItemDocument struct {
	ProductID       string `firestore:"productId"`
	Name            string `firestore:"name"`
	Quantity        int64  `firestore:"quantity"`
	PriceAtPurchase int64  `firestore:"priceAtPurchase"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type shortfallDocument struct {
	ProductID string `firestore:"productId"`
	Requested int64  `firestore:"requested"`
	Taken     int64  `firestore:"taken"`
}

type orderDocument struct {
	OrderNumber              string              `firestore:"orderNumber"`
	CustomerID               string              `firestore:"customerId,omitempty"`
	Items                    []orderItemDocument `firestore:"items"`
	Total                    int64               `firestore:"total"`
	Currency                 string              `firestore:"currency"`
	Status                   string              `firestore:"status"`
	PaymentMethod            string              `firestore:"paymentMethod"`
	ExternalPaymentReference string              `firestore:"externalPaymentReference,omitempty"`
	TrackingNumber           string              `firestore:"trackingNumber,omitempty"`
	CarrierStatus            string              `firestore:"carrierStatus,omitempty"`
	ContactName              string              `firestore:"contactName"`
	ContactEmail             string              `firestore:"contactEmail,omitempty"`
	ContactPhone             string              `firestore:"contactPhone,omitempty"`
	Address                  *addressDocument    `firestore:"address,omitempty"`
	Notes                    string              `firestore:"notes,omitempty"`
	Shortfalls               []shortfallDocument `firestore:"shortfalls,omitempty"`
	CreatedAt                time.Time           `firestore:"createdAt"`
	UpdatedAt                time.Time           `firestore:"updatedAt"`
	CarrierSyncedAt          *time.Time          `firestore:"carrierSyncedAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:              order.OrderNumber,
		CustomerID:               order.CustomerID,
		Total:                    order.Total,
		Currency:                 order.Currency,
		Status:                   string(order.Status),
		PaymentMethod:            string(order.PaymentMethod),
		ExternalPaymentReference: order.ExternalPaymentReference,
		TrackingNumber:           order.TrackingNumber,
		CarrierStatus:            order.CarrierStatus,
		ContactName:              order.Contact.Name,
		ContactEmail:             order.Contact.Email,
		ContactPhone:             order.Contact.Phone,
		Notes:                    order.Notes,
		CreatedAt:                order.CreatedAt.UTC(),
		UpdatedAt:                order.UpdatedAt.UTC(),
		CarrierSyncedAt:          order.CarrierSyncedAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, s := range order.Shortfalls {
		doc.Shortfalls = append(doc.Shortfalls, shortfallDocument(s))
	}
	if order.Address != nil {
		addr := addressDocument(*order.Address)
		doc.Address = &addr
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                       id,
		OrderNumber:              d.OrderNumber,
		CustomerID:               d.CustomerID,
		Total:                    d.Total,
		Currency:                 d.Currency,
		Status:                   domain.OrderStatus(d.Status),
		PaymentMethod:            domain.PaymentMethod(d.PaymentMethod),
		ExternalPaymentReference: d.ExternalPaymentReference,
		TrackingNumber:           d.TrackingNumber,
		CarrierStatus:            d.CarrierStatus,
		Contact:                  domain.Contact{Name: d.ContactName, Email: d.ContactEmail, Phone: d.ContactPhone},
		Notes:                    d.Notes,
		CreatedAt:                d.CreatedAt,
		UpdatedAt:                d.UpdatedAt,
		CarrierSyncedAt:          d.CarrierSyncedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, s := range d.Shortfalls {
		order.Shortfalls = append(order.Shortfalls, domain.StockShortfall(s))
	}
	if d.Address != nil {
		addr := domain.Address(*d.Address)
		order.Address = &addr
	}
	return order
}

type paymentClaimDocument struct {
	OrderID     string    `firestore:"orderId"`
	OrderNumber string    `firestore:"orderNumber"`
	ClaimedAt   time.Time `firestore:"claimedAt"`
}

type outboxDocument struct {
	Kind          string     `firestore:"kind"`
	Status        string     `firestore:"status"`
	OrderID       string     `firestore:"orderId"`
	OrderNumber   string     `firestore:"orderNumber"`
	Email         string     `firestore:"email,omitempty"`
	Name          string     `firestore:"name,omitempty"`
	Total         int64      `firestore:"total"`
	Currency      string     `firestore:"currency"`
	Attempts      int        `firestore:"attempts"`
	LastError     string     `firestore:"lastError,omitempty"`
	LastAttemptAt *time.Time `firestore:"lastAttemptAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	SentAt        *time.Time `firestore:"sentAt,omitempty"`
}

func newOutboxDocument(n domain.Notification) outboxDocument {
	return outboxDocument{
		Kind:        string(n.Kind),
		Status:      outboxStatusPending,
		OrderID:     n.OrderID,
		OrderNumber: n.OrderNumber,
		Email:       n.Email,
		Name:        n.Name,
		Total:       n.Total,
		Currency:    n.Currency,
		CreatedAt:   n.CreatedAt.UTC(),
	}
}

func (d outboxDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:          id,
		Kind:        domain.NotificationKind(d.Kind),
		OrderID:     d.OrderID,
		OrderNumber: d.OrderNumber,
		Email:       d.Email,
		Name:        d.Name,
		Total:       d.Total,
		Currency:    d.Currency,
		Attempts:    d.Attempts,
		LastError:   d.LastError,
		CreatedAt:   d.CreatedAt,
		SentAt:      d.SentAt,
	}
}
