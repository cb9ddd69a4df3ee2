// Package sales folds paid orders into per-day tallies for the finance view.
package sales

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rpn/internal/model"
	"rpn/internal/state"
)

const (
	dayLayout = "2006-01-02"
	// totalBox is the pseudo box type of the per-day order total key.
	totalBox = "ORDERS"
	// guardBox keys one marker per counted order.
	guardBox = "APPLIED"
)

var ErrNoOrderID = errors.New("sales: order has no id")

// Key returns the composite key day#box#variant.
func Key(day string, box model.BoxType, variant string) string {
	return fmt.Sprintf("%s#%s#%s", day, box, variant)
}

// DayPrefix selects every key of day.
func DayPrefix(day string) string { return day + "#" }

func totalKey(day string) string { return Key(day, totalBox, "") }

func guardKey(day string, id int64) string {
	return Key(day, guardBox, strconv.FormatInt(id, 10))
}

// ParseKey splits a key built by Key. The variant may itself contain '#'.
func ParseKey(k string) (day string, box model.BoxType, variant string, ok bool) {
	parts := strings.SplitN(k, "#", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], model.BoxType(parts[1]), parts[2], true
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

// Day is the sales day of an order: its pickup date, else its creation day.
func Day(o model.Order) string {
	if _, err := time.Parse(dayLayout, o.PickupDate); err == nil {
		return o.PickupDate
	}
	ts := o.CreatedAt
	if ts <= 0 {
		ts = NowUnix()
	}
	return time.Unix(ts, 0).UTC().Format(dayLayout)
}

// Batch is the tally change set of one paid order. Guard marks the order as
// counted; Seq is its order ID. Ops holds one op per key, the day total last.
type Batch struct {
	Guard string
	Seq   int64
	Ops   []state.Op
}

func (b Batch) Empty() bool { return len(b.Ops) == 0 }

// Plan computes the tally changes of o without touching any store. Items
// sharing a key are merged first so each key sees the order once. A
// cancelled order, or one without items, plans nothing.
func Plan(menu model.Menu, o model.Order) (Batch, error) {
	if o.Status == model.StatusCancelled {
		return Batch{}, nil
	}
	if o.ID <= 0 {
		return Batch{}, ErrNoOrderID
	}
	o = model.Normalize(o, menu)
	day := Day(o)

	var ops []state.Op
	index := make(map[string]int)
	var boxes int64
	for _, it := range o.Items {
		k := Key(day, it.BoxType, it.Name)
		i, seen := index[k]
		if !seen {
			i = len(ops)
			index[k] = i
			ops = append(ops, state.Op{Key: k})
		}
		ops[i].Amount += it.Subtotal()
		ops[i].Qty += it.Qty
		boxes += it.Qty
	}
	if len(ops) == 0 {
		return Batch{}, nil
	}
	ops = append(ops, state.Op{Key: totalKey(day), Amount: o.Total, Qty: boxes})
	return Batch{Guard: guardKey(day, o.ID), Seq: o.ID, Ops: ops}, nil
}

// Recorded reports whether the order behind b is already in st.
func Recorded(st state.Store, b Batch) bool {
	if b.Empty() {
		return false
	}
	_, ok := st.Get(b.Guard)
	return ok
}

// Commit writes b to st in one batch. It reports false when the order was
// counted before; orders may arrive in any ID order.
func Commit(st state.Store, b Batch) (bool, error) {
	if b.Empty() {
		return false, nil
	}
	applied, err := st.ApplyOnce(b.Guard, b.Seq, b.Ops)
	if err != nil {
		return false, fmt.Errorf("apply order %d: %w", b.Seq, err)
	}
	return applied, nil
}

type Row struct {
	Box     model.BoxType `json:"box_type"`
	Variant string        `json:"variant"`
	Qty     int64         `json:"qty"`
	Amount  int64         `json:"amount"`
	Orders  int64         `json:"orders"`
}

type Summary struct {
	Day     string `json:"day"`
	Revenue int64  `json:"revenue"`
	Boxes   int64  `json:"boxes"`
	Orders  int64  `json:"orders"`
	Rows    []Row  `json:"rows"`
}

// Summarize reads the tallies of day. Rows are sorted by quantity, largest
// first, then by variant name.
func Summarize(st state.Store, day string) (Summary, error) {
	sum := Summary{Day: day, Rows: []Row{}}
	err := st.Prefix(DayPrefix(day), func(k string, t state.Tally) error {
		d, box, v, ok := ParseKey(k)
		if !ok || d != day {
			return nil
		}
		switch box {
		case totalBox:
			sum.Revenue, sum.Boxes, sum.Orders = t.Amount, t.Qty, t.Orders
			return nil
		case guardBox:
			return nil
		}
		sum.Rows = append(sum.Rows, Row{Box: box, Variant: v, Qty: t.Qty, Amount: t.Amount, Orders: t.Orders})
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	sort.SliceStable(sum.Rows, func(i, j int) bool {
		a, b := sum.Rows[i], sum.Rows[j]
		if a.Qty != b.Qty {
			return a.Qty > b.Qty
		}
		if a.Variant != b.Variant {
			return a.Variant < b.Variant
		}
		return a.Box < b.Box
	})
	return sum, nil
}
