package domain

import (
	"slices"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed but not paid (cash on delivery).
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the payment gateway captured the charge.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the carrier has the parcel.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was returned or cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered, OrderStatusCancelled},
}

// Valid reports whether the status is part of the known vocabulary.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition may leave this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from s to target follows the forward-only lifecycle.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s == target {
		return true
	}
	return slices.Contains(orderStatusTransitions[s], target)
}

// PaymentMethod identifies how an order is settled.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
)

// Order is the unit of fulfillment. Items and Total are write-once.
type Order struct {
	ID                       string
	OrderNumber              string
	CustomerID               string
	Items                    []OrderItem
	Total                    int64
	Currency                 string
	Status                   OrderStatus
	PaymentMethod            PaymentMethod
	ExternalPaymentReference string
	TrackingNumber           string
	CarrierStatus            string
	Contact                  Contact
	Address                  *Address
	Notes                    string
	Shortfalls               []StockShortfall
	CreatedAt                time.Time
	UpdatedAt                time.Time
	CarrierSyncedAt          *time.Time
}

// OrderItem snapshots a purchased product at order time.
type OrderItem struct {
	ProductID       string
	Name            string
	Quantity        int64
	PriceAtPurchase int64
}

// Subtotal returns quantity multiplied by the captured unit price.
func (i OrderItem) Subtotal() int64 {
	return i.Quantity * i.PriceAtPurchase
}

// Contact holds the customer's reachable details.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Address is a delivery address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// Product is the stock-bearing catalogue record. Price is in minor currency units.
type Product struct {
	ID    string
	Name  string
	Price int64
	Stock int64
}

// StockLine requests a quantity of one product.
type StockLine struct {
	ProductID string
	Quantity  int64
}

// StockShortfall records quantity that could not be taken from stock when an already paid order was materialised.
type StockShortfall struct {
	ProductID string
	Requested int64
	Taken     int64
}

// Missing returns how many units were not available.
func (s StockShortfall) Missing() int64 {
	return s.Requested - s.Taken
}

// CartLine is a client-held cart entry. ClaimedUnitPrice is informational only.
type CartLine struct {
	ProductID        string
	Quantity         int64
	ClaimedUnitPrice int64
}

// NotificationKind identifies the message a downstream mailer should render.
type NotificationKind string

const (
	NotificationOrderConfirmation NotificationKind = "order.confirmation"
)

// Notification is an outbox entry consumed by the mail relay.
type Notification struct {
	ID          string
	Kind        NotificationKind
	OrderID     string
	OrderNumber string
	Email       string
	Name        string
	Total       int64
	Currency    string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	SentAt      *time.Time
}

// TrackingStatus is one carrier observation for a tracking number.
type TrackingStatus struct {
	TrackingNumber string
	RawStatus      string
}
