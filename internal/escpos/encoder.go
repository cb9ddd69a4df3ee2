// Package escpos builds ESC/POS command streams for 58mm thermal printers.
package escpos

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	esc = 0x1b
	lf  = 0x0a
)

type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

func (a Alignment) String() string {
	switch a {
	case AlignLeft:
		return "left"
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	}
	return fmt.Sprintf("align(%d)", byte(a))
}

// Encoder accumulates commands and text. Text is transcoded to code page 437,
// the printers' power-on character table. The first transcoding error is kept
// and returned by Encode.
type Encoder struct {
	buf  bytes.Buffer
	text *encoding.Encoder
	err  error
}

func NewEncoder() *Encoder {
	return &Encoder{text: encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())}
}

// Initialize starts a new stream: anything written before, and any pending
// text error, is dropped, then the printer is reset (ESC @).
func (e *Encoder) Initialize() {
	e.buf.Reset()
	e.err = nil
	e.buf.WriteByte(esc)
	e.buf.WriteByte('@')
}

// Align sets justification (ESC a n).
func (e *Encoder) Align(a Alignment) {
	e.buf.WriteByte(esc)
	e.buf.WriteByte('a')
	e.buf.WriteByte(byte(a))
}

// Bold toggles emphasized mode (ESC E n).
func (e *Encoder) Bold(on bool) {
	var n byte
	if on {
		n = 1
	}
	e.buf.WriteByte(esc)
	e.buf.WriteByte('E')
	e.buf.WriteByte(n)
}

// Line prints text followed by a line feed. Control bytes in text are
// replaced by spaces so user input cannot inject commands.
func (e *Encoder) Line(text string) {
	if text != "" {
		out, err := e.text.Bytes([]byte(text))
		if err != nil && e.err == nil {
			e.err = fmt.Errorf("escpos: encode %q: %w", text, err)
		}
		for i, b := range out {
			if b < 0x20 || b == 0x7f {
				out[i] = ' '
			}
		}
		e.buf.Write(out)
	}
	e.buf.WriteByte(lf)
}

// Encode returns a copy of the accumulated stream.
func (e *Encoder) Encode() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return bytes.Clone(e.buf.Bytes()), nil
}
