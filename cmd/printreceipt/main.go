package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rpn/internal/bluetooth"
	"rpn/internal/config"
	"rpn/internal/escpos"
	"rpn/internal/logging"
	"rpn/internal/model"
	"rpn/internal/printer"
	"rpn/internal/receipt"
)

func main() {
	var (
		cfgPath string
		order   string
		dump    string
		preview bool
	)
	flag.StringVar(&cfgPath, "config", "", "config file (yaml)")
	flag.StringVar(&order, "order", "", "order JSON file, - for stdin")
	flag.StringVar(&dump, "dump", "", "write the ESC/POS bytes to this file instead of printing, - for stdout")
	flag.BoolVar(&preview, "preview", false, "print the receipt text to stdout instead of printing")
	flag.Parse()

	if err := run(cfgPath, order, dump, preview); err != nil {
		fmt.Fprintln(os.Stderr, "printreceipt:", err)
		if printer.KindOf(err) != 0 {
			fmt.Fprintln(os.Stderr, printer.UserMessage(err))
		}
		os.Exit(1)
	}
}

func readOrder(path string) (model.Order, error) {
	var o model.Order
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return o, fmt.Errorf("read order: %w", err)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}

func run(cfgPath, orderPath, dump string, preview bool) error {
	if orderPath == "" {
		return fmt.Errorf("-order is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := logging.Init("printreceipt", cfg.Log.Level)

	o, err := readOrder(orderPath)
	if err != nil {
		return err
	}
	rc := receipt.FromOrder(cfg.Store.Name, o, cfg.Menu)

	if preview {
		for _, l := range receipt.Preview(rc) {
			fmt.Println(l)
		}
		return nil
	}
	if dump != "" {
		data, err := receipt.Render(rc, escpos.NewEncoder())
		if err != nil {
			return err
		}
		if dump == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(dump, data, 0o644)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter := printer.DefaultFilter()
	filter.Address = cfg.Printer.Address
	filter.NamePrefix = cfg.Printer.NamePrefix
	p := printer.New(bluetooth.New(cfg.Printer.ScanTimeout, log), printer.Options{
		Filter:    filter,
		ChunkSize: cfg.Printer.ChunkSize,
		Logger:    log,
		Observer: func(s printer.State) {
			lvl := slog.LevelDebug
			if s.Terminal() {
				lvl = slog.LevelInfo
			}
			log.Log(ctx, lvl, "printer", "state", s.String())
		},
	})
	if err := p.Print(logging.WithJobID(ctx, rc.OrderNumber), rc); err != nil {
		return err
	}
	log.Info("receipt printed", "order_number", rc.OrderNumber, "total", receipt.FormatRupiah(rc.Total))
	return nil
}
