// Package agent is the counter print agent: it takes paid orders from the
// order feed or from staff, keeps the sales tallies, and prints receipts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rpn/internal/changelog"
	"rpn/internal/feed"
	"rpn/internal/ledger"
	"rpn/internal/logging"
	"rpn/internal/manifest"
	"rpn/internal/metrics"
	"rpn/internal/model"
	"rpn/internal/receipt"
	"rpn/internal/sales"
	"rpn/internal/snapshot"
	"rpn/internal/state"
)

// Printer prints one receipt. *printer.Printer satisfies it.
type Printer interface {
	Print(ctx context.Context, r receipt.PrintableReceipt) error
}

// busyReporter is implemented by printers that know when a print is in flight.
type busyReporter interface {
	Busy() bool
}

type Outcome int

const (
	// OutcomeIgnored means the order is not paid and nothing happened.
	OutcomeIgnored Outcome = iota
	// OutcomeDuplicate means the order was printed before.
	OutcomeDuplicate
	OutcomePrinted
	// OutcomePrintFailed means tallies were recorded but the receipt did not
	// come out. The claim is released so staff can reprint.
	OutcomePrintFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomePrinted:
		return "printed"
	case OutcomePrintFailed:
		return "print_failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result reports what HandleOrder did with one order.
type Result struct {
	Outcome Outcome
	// Applied holds the tally changes this call made; empty when the order
	// was counted before.
	Applied  []state.Op
	PrintErr error
}

type Options struct {
	StoreName string
	Menu      model.Menu
	Store     state.Store
	Ledger    ledger.Ledger
	Changelog changelog.Writer
	Printer   Printer
	Spooler   *Spooler
	Logger    *slog.Logger
	Metrics   *metrics.Registry
}

type Service struct {
	storeName string
	menu      model.Menu
	st        state.Store
	ledger    ledger.Ledger
	clog      changelog.Writer
	printer   Printer
	spool     *Spooler
	log       *slog.Logger
	m         *metrics.Registry

	// mu serializes the recorded check, the changelog append and the commit
	// of each order, and keeps snapshots consistent with the changelog offset.
	mu sync.Mutex
}

func NewService(opts Options) *Service {
	s := &Service{
		storeName: opts.StoreName,
		menu:      opts.Menu,
		st:        opts.Store,
		ledger:    opts.Ledger,
		clog:      opts.Changelog,
		printer:   opts.Printer,
		spool:     opts.Spooler,
		log:       opts.Logger,
		m:         opts.Metrics,
	}
	if s.menu == (model.Menu{}) {
		s.menu = model.DefaultMenu
	}
	if s.ledger == nil {
		s.ledger = ledger.NewMemoryLedger(ledger.DefaultTTL)
	}
	if s.clog == nil {
		s.clog = changelog.Discard{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// HandleOrder processes an order delivered by the feed. An order seen before
// is reported as a duplicate and not printed again. The error is non-nil only
// when the ledger, the tallies or the changelog failed; a print failure is
// reported in the Result.
func (s *Service) HandleOrder(ctx context.Context, o model.Order) (Result, error) {
	return s.handle(ctx, o, false)
}

// Reprint prints an order on staff request even if it was printed before.
// Tallies are still applied at most once.
func (s *Service) Reprint(ctx context.Context, o model.Order) (Result, error) {
	return s.handle(ctx, o, true)
}

func (s *Service) handle(ctx context.Context, o model.Order, force bool) (Result, error) {
	if o.Status != model.StatusPaid {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	ctx = logging.WithJobID(ctx, uuid.NewString())
	log := s.log.With("order_number", o.OrderNumber)
	o = model.Normalize(o, s.menu)
	if s.m != nil {
		s.m.OrdersIngested.Inc()
	}

	err := s.ledger.Claim(ctx, o.OrderNumber)
	switch {
	case errors.Is(err, ledger.ErrAlreadyClaimed) && !force:
		if s.m != nil {
			s.m.OrdersDuplicate.Inc()
		}
		log.InfoContext(ctx, "order already printed", "order_id", o.ID)
		return Result{Outcome: OutcomeDuplicate}, nil
	case errors.Is(err, ledger.ErrAlreadyClaimed):
	case err != nil:
		return Result{}, fmt.Errorf("claim %s: %w", o.OrderNumber, err)
	}

	applied, err := s.record(ctx, o)
	if err != nil {
		s.release(ctx, o.OrderNumber)
		return Result{}, err
	}

	res := Result{Outcome: OutcomePrinted, Applied: applied}
	if perr := s.print(ctx, receipt.FromOrder(s.storeName, o, s.menu)); perr != nil {
		s.release(ctx, o.OrderNumber)
		res.Outcome, res.PrintErr = OutcomePrintFailed, perr
		log.WarnContext(ctx, "receipt not printed", "err", perr)
		return res, nil
	}
	log.InfoContext(ctx, "receipt printed", "order_id", o.ID, "tallies", len(applied))
	return res, nil
}

// record counts o once. The changelog entry is written before the store
// changes, so a failed append leaves nothing to lose and the redelivered
// order is logged and counted then.
func (s *Service) record(ctx context.Context, o model.Order) ([]state.Op, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := sales.Plan(s.menu, o)
	if err != nil {
		return nil, fmt.Errorf("tally %s: %w", o.OrderNumber, err)
	}
	if b.Empty() {
		return nil, nil
	}
	if sales.Recorded(s.st, b) {
		if s.m != nil {
			s.m.TallySkipped.Inc()
		}
		return nil, nil
	}

	e := changelog.Entry{Guard: b.Guard, Seq: b.Seq, OrderNumber: o.OrderNumber, Deltas: b.Ops, TS: sales.NowUnix()}
	if err := s.clog.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append changelog %s: %w", o.OrderNumber, err)
	}
	if s.m != nil {
		s.m.ChangelogAppended.Inc()
	}
	applied, err := sales.Commit(s.st, b)
	if err != nil {
		return nil, fmt.Errorf("tally %s: %w", o.OrderNumber, err)
	}
	if !applied {
		return nil, nil
	}
	if s.m != nil {
		s.m.TallyApplied.Add(float64(len(b.Ops)))
	}
	return b.Ops, nil
}

func (s *Service) print(ctx context.Context, r receipt.PrintableReceipt) error {
	if s.printer == nil {
		return errors.New("agent: no printer configured")
	}
	job := func(ctx context.Context) error { return s.printer.Print(ctx, r) }
	if s.spool == nil {
		return job(ctx)
	}
	return s.spool.Submit(ctx, job)
}

func (s *Service) release(ctx context.Context, orderNumber string) {
	if err := s.ledger.Release(ctx, orderNumber); err != nil {
		s.log.ErrorContext(ctx, "release claim", "err", err)
	}
}

// PrinterBusy reports whether the printer is transmitting a receipt. A
// printer that cannot tell is reported idle.
func (s *Service) PrinterBusy() bool {
	b, ok := s.printer.(busyReporter)
	return ok && b.Busy()
}

// FeedHandler adapts HandleOrder to the order feed. Only infrastructure
// errors stop the feed; a failed print waits for a staff reprint.
func (s *Service) FeedHandler() feed.Handler {
	return func(ctx context.Context, o model.Order) error {
		_, err := s.HandleOrder(ctx, o)
		return err
	}
}

// Preview returns the receipt of o as plain text lines without printing.
func (s *Service) Preview(o model.Order) []string {
	return receipt.Preview(receipt.FromOrder(s.storeName, o, s.menu))
}

// Summary returns the tallies of one sales day.
func (s *Service) Summary(day string) (sales.Summary, error) {
	return sales.Summarize(s.st, day)
}

// Snapshot writes the tallies under a new id and publishes it with the
// changelog offset reached so far. No tally changes while it runs.
func (s *Service) Snapshot(ctx context.Context, snap snapshot.Snapshotter, pub manifest.Publisher, offset func() int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := snapshot.NewID(time.Now())
	if err := snap.WriteSnapshot(id, s.st); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	var off int64
	if offset != nil {
		off = offset()
	}
	if err := pub.PublishLatest(ctx, id, off); err != nil {
		return "", fmt.Errorf("publish manifest: %w", err)
	}
	s.log.InfoContext(ctx, "snapshot published", "snapshot_id", id, "offset", off)
	return id, nil
}
