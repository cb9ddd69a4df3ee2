package printer

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindDeviceSelection Kind = iota + 1
	KindConnection
	KindTransmission
	KindEncoding
)

var (
	ErrDeviceSelection = errors.New("printer: device selection failed")
	ErrConnection      = errors.New("printer: connection failed")
	ErrTransmission    = errors.New("printer: transmission failed")
	ErrEncoding        = errors.New("printer: encoding failed")

	// ErrBusy is returned when a print is already running on the same Printer.
	ErrBusy = errors.New("printer: print already in progress")
)

func (k Kind) String() string {
	switch k {
	case KindDeviceSelection:
		return "device_selection"
	case KindConnection:
		return "connection"
	case KindTransmission:
		return "transmission"
	case KindEncoding:
		return "encoding"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindDeviceSelection:
		return ErrDeviceSelection
	case KindConnection:
		return ErrConnection
	case KindTransmission:
		return ErrTransmission
	case KindEncoding:
		return ErrEncoding
	}
	return nil
}

// Error is the failure of one print. errors.Is matches both the kind
// sentinel and the underlying cause.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("printer: %s failed in %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of a print failure, or 0 when err is not one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

const userMessage = "Pastikan Bluetooth aktif dan pilih printer yang benar"

// UserMessage is what the counter staff sees for any failed print. Staff
// cannot act differently per kind, so there is only one message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return userMessage
}
