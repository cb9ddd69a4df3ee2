package receipt

import (
	"fmt"
	"strings"

	"rpn/internal/escpos"
)

// Separator is one full line of a 58mm printer.
var Separator = strings.Repeat("-", 32)

// Encoder is the subset of a printer command builder the layout needs.
// *escpos.Encoder satisfies it.
type Encoder interface {
	Initialize()
	Align(a escpos.Alignment)
	Bold(on bool)
	Line(text string)
	Encode() ([]byte, error)
}

// Render writes r to enc and returns the encoded stream.
func Render(r PrintableReceipt, enc Encoder) ([]byte, error) {
	enc.Initialize()

	enc.Align(escpos.AlignCenter)
	enc.Bold(true)
	enc.Line(r.StoreName)
	enc.Bold(false)
	enc.Line(r.Date)
	enc.Line("Order: " + r.OrderNumber)
	enc.Line(Separator)

	enc.Align(escpos.AlignLeft)
	enc.Line("Cust: " + r.CustomerName)
	enc.Line(Separator)

	for _, it := range r.Items {
		enc.Line(it.Name)
		enc.Line(fmt.Sprintf("%d x %s = %s", it.Qty, FormatRupiah(it.Price), FormatRupiah(it.Total)))
		if it.Variant != "" {
			enc.Line("  (" + it.Variant + ")")
		}
	}

	enc.Line(Separator)
	enc.Align(escpos.AlignRight)
	enc.Bold(true)
	enc.Line("TOTAL: Rp " + FormatRupiah(r.Total))
	enc.Bold(false)

	enc.Align(escpos.AlignCenter)
	enc.Line(Separator)
	enc.Line("Terima Kasih!")
	enc.Line("")
	enc.Line("")

	return enc.Encode()
}

// Preview returns the printed text of r, one entry per line.
func Preview(r PrintableReceipt) []string {
	var tr textRecorder
	_, _ = Render(r, &tr)
	return tr.lines
}

type textRecorder struct {
	lines []string
}

func (t *textRecorder) Initialize() { t.lines = t.lines[:0] }

func (t *textRecorder) Align(escpos.Alignment) {}

func (t *textRecorder) Bold(bool) {}

func (t *textRecorder) Line(text string) { t.lines = append(t.lines, text) }

func (t *textRecorder) Encode() ([]byte, error) { return nil, nil }
