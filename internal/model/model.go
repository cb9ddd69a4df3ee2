package model

import (
	"strings"

	"rpn/internal/variant"
)

// BoxType is the package size of a line item.
type BoxType string

const (
	BoxFull BoxType = "FULL"
	BoxHalf BoxType = "HALF"
)

// MaxFlavors is how many flavors a box of this type can hold.
func (b BoxType) MaxFlavors() int {
	if b == BoxHalf {
		return 1
	}
	return 2
}

// Label is the printed name of the box type.
func (b BoxType) Label() string {
	if b == BoxHalf {
		return "Box Half"
	}
	return "Box Full"
}

// Status of an order as reported by the order API.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderLineItem is one box of an order.
type OrderLineItem struct {
	BoxType BoxType `json:"box_type"`
	Name    string  `json:"name"`
	Qty     int64   `json:"qty"`
	Price   int64   `json:"price,omitempty"`
	Topping string  `json:"topping,omitempty"`
}

// Subtotal is the line total in rupiah.
func (i OrderLineItem) Subtotal() int64 { return i.Qty * i.Price }

// Order is the record served by the order API.
type Order struct {
	ID           int64           `json:"id"`
	OrderNumber  string          `json:"order_number"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone,omitempty"`
	PickupDate   string          `json:"pickup_date"`
	Status       Status          `json:"status"`
	Items        []OrderLineItem `json:"items"`
	Total        int64           `json:"total"`
	CreatedAt    int64           `json:"created_at"`
}

// Menu holds the configured unit prices per box type.
type Menu struct {
	FullPrice int64 `json:"full_price" koanf:"full_price"`
	HalfPrice int64 `json:"half_price" koanf:"half_price"`
}

// DefaultMenu is the price list used when none is configured.
var DefaultMenu = Menu{FullPrice: 65000, HalfPrice: 35000}

func (m Menu) PriceOf(b BoxType) int64 {
	if b == BoxHalf {
		return m.HalfPrice
	}
	return m.FullPrice
}

// Normalize returns a copy of o with canonical variant names, unit prices
// filled from the menu where the API left them empty, and a recomputed total.
// Items with a non-positive quantity are dropped.
func Normalize(o Order, menu Menu) Order {
	out := o
	out.Items = make([]OrderLineItem, 0, len(o.Items))
	out.Total = 0
	for _, it := range o.Items {
		if it.Qty <= 0 {
			continue
		}
		if it.BoxType != BoxHalf {
			it.BoxType = BoxFull
		}
		it.Name = variant.Normalize(it.Name)
		it.Topping = strings.TrimSpace(it.Topping)
		if it.Price <= 0 {
			it.Price = menu.PriceOf(it.BoxType)
		}
		out.Items = append(out.Items, it)
		out.Total += it.Subtotal()
	}
	return out
}
