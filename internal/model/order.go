package model

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusValidated OrderStatus = "validated"
	OrderStatusBlocked   OrderStatus = "blocked"
	OrderStatusCanceled  OrderStatus = "canceled"
)

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusValidated, OrderStatusBlocked, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// ParseOrderStatus normalizes input; returns (value, true) if valid.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Order is the DB entity persisted in the orders table. It is the
// representative aggregate on the producing side: validating an order
// emits an outbox event, compensation blocks or cancels it.
type Order struct {
	ID            string      `db:"id"` // ULID
	CustomerID    string      `db:"customer_id"`
	AssigneeID    *string     `db:"assignee_id"` // nullable staff member
	Status        OrderStatus `db:"status"`
	BlockedReason *string     `db:"blocked_reason"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}
