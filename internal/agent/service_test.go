package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rpn/internal/changelog"
	"rpn/internal/ledger"
	"rpn/internal/manifest"
	"rpn/internal/metrics"
	"rpn/internal/model"
	"rpn/internal/printer"
	"rpn/internal/receipt"
	"rpn/internal/sales"
	"rpn/internal/snapshot"
	"rpn/internal/state"
)

type fakePrinter struct {
	mu      sync.Mutex
	err     error
	busy    bool
	printed []receipt.PrintableReceipt
}

func (p *fakePrinter) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *fakePrinter) Print(_ context.Context, r receipt.PrintableReceipt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.printed = append(p.printed, r)
	return nil
}

func (p *fakePrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.printed)
}

type memLog struct {
	mu      sync.Mutex
	entries []changelog.Entry
	err     error
	// failures makes the next n appends fail with err.
	failures int
}

func (m *memLog) Append(_ context.Context, e changelog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return m.err
	}
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type fixture struct {
	svc     *Service
	st      *state.InMemoryStore
	printer *fakePrinter
	clog    *memLog
	ledger  *ledger.MemoryLedger
	reg     *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:      state.NewInMemoryStore(),
		printer: &fakePrinter{},
		clog:    &memLog{},
		ledger:  ledger.NewMemoryLedger(0),
		reg:     metrics.NewRegistry(),
	}
	spool := NewSpooler(4)
	t.Cleanup(spool.Close)
	f.svc = NewService(Options{
		StoreName: "Raja Pisang Nugget",
		Menu:      model.DefaultMenu,
		Store:     f.st,
		Ledger:    f.ledger,
		Changelog: f.clog,
		Printer:   f.printer,
		Spooler:   spool,
		Metrics:   f.reg,
	})
	return f
}

func paidOrder() model.Order {
	return model.Order{
		ID:           7,
		OrderNumber:  "RPN-007",
		CustomerName: "Siti",
		PickupDate:   "2024-03-09",
		Status:       model.StatusPaid,
		Items: []model.OrderLineItem{
			{BoxType: model.BoxFull, Name: "Keju Dengan Coklat", Qty: 2},
			{BoxType: model.BoxHalf, Name: "Original", Qty: 1},
		},
	}
}

func TestHandleOrder_PrintsAndTallies(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.HandleOrder(context.Background(), paidOrder())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != OutcomePrinted {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if f.printer.count() != 1 {
		t.Fatalf("printed %d receipts", f.printer.count())
	}
	if got := f.printer.printed[0].Items[0].Name; got != "Mix Coklat Dan Keju" {
		t.Fatalf("receipt item = %q", got)
	}

	sum, err := f.svc.Summary("2024-03-09")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Orders != 1 || sum.Boxes != 3 || sum.Revenue != 2*65000+35000 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(f.clog.entries) != 1 || len(res.Applied) != 3 {
		t.Fatalf("entries=%d applied=%d", len(f.clog.entries), len(res.Applied))
	}
	e := f.clog.entries[0]
	if e.Guard != "2024-03-09#APPLIED#7" || e.Seq != 7 || e.OrderNumber != "RPN-007" || len(e.Deltas) != 3 {
		t.Fatalf("entry = %+v", e)
	}
	first := e.Deltas[0]
	if first.Key != sales.Key("2024-03-09", model.BoxFull, "Mix Coklat Dan Keju") || first.Amount != 130000 || first.Qty != 2 {
		t.Fatalf("delta = %+v", first)
	}
	if claimed, _ := f.ledger.Claimed(context.Background(), "RPN-007"); !claimed {
		t.Fatalf("order not claimed after print")
	}
	if testutil.ToFloat64(f.reg.OrdersIngested) != 1 || testutil.ToFloat64(f.reg.ChangelogAppended) != 1 {
		t.Fatalf("metrics not updated")
	}
}

func TestHandleOrder_DuplicateDeliveryPrintsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.HandleOrder(ctx, paidOrder()); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if f.printer.count() != 1 {
		t.Fatalf("printed %d receipts", f.printer.count())
	}
	if len(f.clog.entries) != 1 {
		t.Fatalf("entries = %d", len(f.clog.entries))
	}
	if testutil.ToFloat64(f.reg.OrdersDuplicate) != 2 {
		t.Fatalf("duplicates not counted")
	}
}

func TestHandleOrder_IgnoresUnpaid(t *testing.T) {
	f := newFixture(t)
	for _, st := range []model.Status{model.StatusPending, model.StatusCancelled, model.StatusCompleted} {
		o := paidOrder()
		o.Status = st
		res, err := f.svc.HandleOrder(context.Background(), o)
		if err != nil || res.Outcome != OutcomeIgnored {
			t.Fatalf("%s: outcome=%v err=%v", st, res.Outcome, err)
		}
	}
	if f.printer.count() != 0 || len(f.clog.entries) != 0 {
		t.Fatalf("unpaid order had effects")
	}
}

func TestHandleOrder_PrintFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.printer.err = &printer.Error{Kind: printer.KindConnection, State: printer.StateConnectingGATT, Err: errors.New("gatt down")}

	res, err := f.svc.HandleOrder(ctx, paidOrder())
	if err != nil {
		t.Fatalf("print failure must not be an error: %v", err)
	}
	if res.Outcome != OutcomePrintFailed || !errors.Is(res.PrintErr, printer.ErrConnection) {
		t.Fatalf("res = %+v", res)
	}
	if claimed, _ := f.ledger.Claimed(ctx, "RPN-007"); claimed {
		t.Fatalf("claim kept after failed print")
	}

	f.printer.err = nil
	res, err = f.svc.HandleOrder(ctx, paidOrder())
	if err != nil || res.Outcome != OutcomePrinted {
		t.Fatalf("retry: outcome=%v err=%v", res.Outcome, err)
	}
	if len(res.Applied) != 0 {
		t.Fatalf("tallies applied twice: %+v", res.Applied)
	}
	sum, _ := f.svc.Summary("2024-03-09")
	if sum.Orders != 1 {
		t.Fatalf("orders = %d", sum.Orders)
	}
}

func TestReprint_IgnoresClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.HandleOrder(ctx, paidOrder()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	res, err := f.svc.Reprint(ctx, paidOrder())
	if err != nil || res.Outcome != OutcomePrinted {
		t.Fatalf("reprint: outcome=%v err=%v", res.Outcome, err)
	}
	if f.printer.count() != 2 {
		t.Fatalf("printed %d receipts", f.printer.count())
	}
	if len(f.clog.entries) != 1 || len(res.Applied) != 0 {
		t.Fatalf("reprint changed tallies")
	}
}

func TestHandleOrder_ChangelogFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.clog.err = errors.New("disk full")
	_, err := f.svc.HandleOrder(context.Background(), paidOrder())
	if !errors.Is(err, f.clog.err) {
		t.Fatalf("err = %v", err)
	}
	if f.printer.count() != 0 {
		t.Fatalf("printed despite changelog failure")
	}
	if claimed, _ := f.ledger.Claimed(context.Background(), "RPN-007"); claimed {
		t.Fatalf("claim kept after failure")
	}
}

func TestHandleOrder_RedeliveryAfterChangelogFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clog.err, f.clog.failures = errors.New("broker down"), 1

	if _, err := f.svc.HandleOrder(ctx, paidOrder()); !errors.Is(err, f.clog.err) {
		t.Fatalf("first delivery err = %v", err)
	}
	if sum, _ := f.svc.Summary("2024-03-09"); sum.Orders != 0 {
		t.Fatalf("store changed before the changelog: %+v", sum)
	}

	f.clog.err = nil
	res, err := f.svc.HandleOrder(ctx, paidOrder())
	if err != nil || res.Outcome != OutcomePrinted || len(res.Applied) != 3 {
		t.Fatalf("redelivery: res=%+v err=%v", res, err)
	}
	if len(f.clog.entries) != 1 || len(f.clog.entries[0].Deltas) != 3 {
		t.Fatalf("entries = %+v", f.clog.entries)
	}

	// the changelog alone rebuilds the live tallies
	rebuilt := state.NewInMemoryStore()
	for _, e := range f.clog.entries {
		if _, err := rebuilt.ApplyOnce(e.Guard, e.Seq, e.Deltas); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	live, _ := f.svc.Summary("2024-03-09")
	replayed, _ := sales.Summarize(rebuilt, "2024-03-09")
	if live.Revenue != replayed.Revenue || live.Orders != replayed.Orders || live.Boxes != replayed.Boxes {
		t.Fatalf("live %+v, replayed %+v", live, replayed)
	}
}

func TestHandleOrder_LowerIDPaidLaterIsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	later := paidOrder()
	later.ID, later.OrderNumber = 10, "RPN-010"
	for _, o := range []model.Order{later, paidOrder()} {
		if res, err := f.svc.HandleOrder(ctx, o); err != nil || len(res.Applied) != 3 {
			t.Fatalf("%s: res=%+v err=%v", o.OrderNumber, res, err)
		}
	}
	sum, _ := f.svc.Summary("2024-03-09")
	if sum.Orders != 2 || sum.Revenue != 2*165000 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestFeedHandler_PrintFailureDoesNotStopFeed(t *testing.T) {
	f := newFixture(t)
	f.printer.err = errors.New("offline")
	if err := f.svc.FeedHandler()(context.Background(), paidOrder()); err != nil {
		t.Fatalf("feed handler: %v", err)
	}
}

func TestSnapshot_PublishesOffset(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.HandleOrder(context.Background(), paidOrder()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	dir := t.TempDir()
	snaps := snapshot.NewFilesystemSnapshotter(dir)
	mani := manifest.NewFilesystemManifest(dir)

	id, err := f.svc.Snapshot(context.Background(), snaps, mani, func() int64 { return int64(len(f.clog.entries)) })
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	m, err := mani.ReadLatest(context.Background())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if m.SnapshotID != id || m.LastChangelogOffset != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	all, err := snaps.LoadSnapshot(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// three tallies plus the order guard
	if len(all) != 4 {
		t.Fatalf("snapshot holds %d keys", len(all))
	}
}
