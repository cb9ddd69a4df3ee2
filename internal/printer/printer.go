package printer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"rpn/internal/escpos"
	"rpn/internal/metrics"
	"rpn/internal/receipt"
)

type Options struct {
	Filter    Filter
	ChunkSize int
	// Observer, if set, is called on every state transition in order.
	Observer   func(State)
	NewEncoder func() receipt.Encoder
	Logger     *slog.Logger
	Metrics    *metrics.Registry
}

type Printer struct {
	bt         Bluetooth
	filter     Filter
	chunkSize  int
	observer   func(State)
	newEncoder func() receipt.Encoder
	log        *slog.Logger
	m          *metrics.Registry
	busy       atomic.Bool
}

func New(bt Bluetooth, opts Options) *Printer {
	p := &Printer{
		bt:         bt,
		filter:     opts.Filter,
		chunkSize:  opts.ChunkSize,
		observer:   opts.Observer,
		newEncoder: opts.NewEncoder,
		log:        opts.Logger,
		m:          opts.Metrics,
	}
	if len(p.filter.Services) == 0 {
		p.filter.Services = []string{ServiceUUID}
	}
	if p.chunkSize <= 0 || p.chunkSize > DefaultChunkSize {
		p.chunkSize = DefaultChunkSize
	}
	if p.newEncoder == nil {
		p.newEncoder = func() receipt.Encoder { return escpos.NewEncoder() }
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Print runs one full print cycle for r. On failure the returned error is a
// *Error wrapping the cause unchanged. Once a connection is up it is released
// on every exit path. Cancelling ctx stops transmission before the next chunk.
func (p *Printer) Print(ctx context.Context, r receipt.PrintableReceipt) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.busy.Store(false)

	run := &printRun{p: p, log: p.log.With("order_number", r.OrderNumber)}
	start := time.Now()
	err := run.exec(ctx, r)
	if p.m != nil {
		p.m.PrintLatencySec.Observe(time.Since(start).Seconds())
		if err != nil {
			p.m.PrintFailures.WithLabelValues(KindOf(err).String()).Inc()
		} else {
			p.m.ReceiptsPrinted.Inc()
		}
	}
	return err
}

// Busy reports whether a print is in flight.
func (p *Printer) Busy() bool { return p.busy.Load() }

type printRun struct {
	p     *Printer
	log   *slog.Logger
	state State
	dev   Device
}

// enter moves the run to s. Nothing follows a terminal state.
func (r *printRun) enter(s State) {
	if r.state.Terminal() {
		return
	}
	r.state = s
	r.log.Debug("print state", "state", s.String())
	if r.p.observer != nil {
		r.p.observer(s)
	}
}

func (r *printRun) fail(kind Kind, err error) error {
	pe := &Error{Kind: kind, State: r.state, Err: err}
	r.release()
	r.enter(StateFailed)
	r.log.Warn("print failed", "kind", kind.String(), "state", pe.State.String(), "err", err)
	return pe
}

// release disconnects if the link is still up. A disconnect error is logged
// and does not change the outcome of the print.
func (r *printRun) release() {
	if r.dev == nil || !r.dev.Connected() {
		return
	}
	if err := r.dev.Disconnect(); err != nil {
		r.log.Warn("disconnect failed", "device", r.dev.Name(), "err", err)
	}
}

func (r *printRun) exec(ctx context.Context, rc receipt.PrintableReceipt) error {
	r.enter(StateRequestingDevice)
	dev, err := r.p.bt.RequestDevice(ctx, r.p.filter)
	if err != nil {
		return r.fail(KindDeviceSelection, err)
	}
	if dev == nil {
		return r.fail(KindDeviceSelection, fmt.Errorf("no device chosen"))
	}
	r.dev = dev

	r.enter(StateConnectingGATT)
	server, err := dev.Connect(ctx)
	if err != nil {
		return r.fail(KindConnection, err)
	}

	r.enter(StateDiscoveringService)
	svc, err := server.PrimaryService(ctx, ServiceUUID)
	if err != nil {
		return r.fail(KindConnection, err)
	}

	r.enter(StateDiscoveringCharacteristic)
	char, err := svc.Characteristic(ctx, CharacteristicUUID)
	if err != nil {
		return r.fail(KindConnection, err)
	}

	r.enter(StateEncoding)
	data, err := r.encode(rc)
	if err != nil {
		return r.fail(KindEncoding, err)
	}

	r.enter(StateTransmitting)
	chunks := Chunk(data, r.chunkSize(char))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return r.fail(KindTransmission, err)
		}
		if err := char.WriteValue(ctx, c); err != nil {
			r.log.Debug("chunk write rejected", "chunk", i, "chunks", len(chunks))
			return r.fail(KindTransmission, err)
		}
		if r.p.m != nil {
			r.p.m.ChunksSent.Inc()
			r.p.m.BytesSent.Add(float64(len(c)))
		}
	}

	r.enter(StateDisconnecting)
	r.release()
	r.enter(StateDone)
	r.log.Info("receipt printed", "device", dev.Name(), "bytes", len(data), "chunks", len(chunks))
	return nil
}

// chunkSize is the configured size, lowered to what the link accepts.
func (r *printRun) chunkSize(char Characteristic) int {
	size := r.p.chunkSize
	if wl, ok := char.(WriteLimiter); ok {
		if n := wl.MaxWriteLen(); n > 0 && n < size {
			r.log.Debug("chunk size capped by link", "configured", size, "max_write", n)
			size = n
		}
	}
	return size
}

// encode turns a panicking encoder into an error.
func (r *printRun) encode(rc receipt.PrintableReceipt) (data []byte, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("encoder panic: %v", v)
		}
	}()
	return receipt.Render(rc, r.p.newEncoder())
}
