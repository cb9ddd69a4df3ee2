package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"rpn/internal/model"
	"rpn/internal/variant"
)

var (
	flavors   = []string{"Coklat", "Keju", "Tiramisu", "Green Tea", "Strawberry", "Original", "Choco Kraft"}
	toppings  = []string{"", "", "Meses", "Almond", "Oreo"}
	customers = []string{"Budi", "Siti", "Andi", "Rina", "Dewi", "Agus"}
)

func main() {
	var count int
	var outputFile string
	var day string
	flag.IntVar(&count, "count", 100, "number of orders to generate")
	flag.StringVar(&outputFile, "output", "orders.paid.jsonl", "output file")
	flag.StringVar(&day, "day", time.Now().Format("2006-01-02"), "pickup date of the orders")
	flag.Parse()

	if err := generateOrders(count, outputFile, day); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

// randomSelection picks flavors the way the order form does: toggles in
// random order, capped at what the box holds.
func randomSelection(rng *rand.Rand, box model.BoxType) variant.Selection {
	var sel variant.Selection
	picks := 1 + rng.Intn(3)
	for i := 0; i < picks; i++ {
		sel.Toggle(flavors[rng.Intn(len(flavors))], box.MaxFlavors())
	}
	return sel
}

func generateOrders(count int, outputFile, day string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	baseTime := time.Now().UTC().Unix()

	enc := json.NewEncoder(file)
	for i := 0; i < count; i++ {
		o := model.Order{
			ID:           int64(i + 1),
			OrderNumber:  fmt.Sprintf("RPN-%04d", i+1),
			CustomerName: customers[rng.Intn(len(customers))],
			PickupDate:   day,
			Status:       model.StatusPaid,
			CreatedAt:    baseTime + int64(i*10),
		}
		for n := 1 + rng.Intn(3); n > 0; n-- {
			box := model.BoxFull
			if rng.Intn(3) == 0 {
				box = model.BoxHalf
			}
			sel := randomSelection(rng, box)
			o.Items = append(o.Items, model.OrderLineItem{
				BoxType: box,
				Name:    sel.Name(),
				Qty:     int64(1 + rng.Intn(3)),
				Topping: toppings[rng.Intn(len(toppings))],
			})
		}
		o = model.Normalize(o, model.DefaultMenu)
		if err := enc.Encode(&o); err != nil {
			return fmt.Errorf("encode order %d: %w", i+1, err)
		}
	}

	log.Printf("generated %d orders to %s", count, outputFile)
	return nil
}
