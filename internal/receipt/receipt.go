// Package receipt lays out order receipts for the counter's thermal printer.
package receipt

import (
	"rpn/internal/model"
)

// PrintableReceipt is built at print time from an order and never stored.
type PrintableReceipt struct {
	StoreName    string      `json:"store_name"`
	OrderNumber  string      `json:"order_number"`
	CustomerName string      `json:"customer_name"`
	Date         string      `json:"date"`
	Items        []PrintLine `json:"items"`
	Total        int64       `json:"total"`
}

type PrintLine struct {
	Name    string `json:"name"`
	Variant string `json:"variant,omitempty"`
	Qty     int64  `json:"qty"`
	Price   int64  `json:"price"`
	Total   int64  `json:"total"`
}

// FromOrder builds the receipt of a normalized order. The item name is the
// canonical flavor name, the topping (if any) goes on the variant line.
func FromOrder(storeName string, o model.Order, menu model.Menu) PrintableReceipt {
	o = model.Normalize(o, menu)
	r := PrintableReceipt{
		StoreName:    storeName,
		OrderNumber:  o.OrderNumber,
		CustomerName: o.CustomerName,
		Date:         o.PickupDate,
		Items:        make([]PrintLine, 0, len(o.Items)),
		Total:        o.Total,
	}
	for _, it := range o.Items {
		name := it.Name
		if name == "" {
			name = it.BoxType.Label()
		}
		r.Items = append(r.Items, PrintLine{
			Name:    name,
			Variant: it.Topping,
			Qty:     it.Qty,
			Price:   it.Price,
			Total:   it.Subtotal(),
		})
	}
	return r
}
