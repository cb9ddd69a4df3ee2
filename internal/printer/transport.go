// Package printer delivers encoded receipts to a BLE thermal printer.
//
// A print is one full request, connect, discover, transmit and disconnect
// cycle. Connections are never pooled or reused across prints.
package printer

import "context"

// GATT identifiers of the common 58mm printer profile.
const (
	ServiceUUID        = "000018f0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "00002af1-0000-1000-8000-00805f9b34fb"
)

// Filter narrows the devices offered by RequestDevice.
type Filter struct {
	Services   []string
	NamePrefix string
	// Address pins a previously paired device; empty accepts any match.
	Address string
}

// DefaultFilter matches any device advertising the printer service.
func DefaultFilter() Filter { return Filter{Services: []string{ServiceUUID}} }

type Bluetooth interface {
	// RequestDevice selects a nearby device matching f. It fails when no
	// device is chosen or the platform has no usable adapter.
	RequestDevice(ctx context.Context, f Filter) (Device, error)
}

type Device interface {
	Name() string
	Connect(ctx context.Context) (GATTServer, error)
	Connected() bool
	Disconnect() error
}

type GATTServer interface {
	PrimaryService(ctx context.Context, uuid string) (Service, error)
}

type Service interface {
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

type Characteristic interface {
	// WriteValue returns once the write has been handed to the controller.
	WriteValue(ctx context.Context, p []byte) error
}

// WriteLimiter is implemented by characteristics whose link caps the payload
// of one write, for example at the negotiated ATT MTU.
type WriteLimiter interface {
	// MaxWriteLen returns the largest payload of one write, or 0 if unknown.
	MaxWriteLen() int
}
