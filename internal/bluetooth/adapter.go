// Package bluetooth implements the printer transport on the host BLE stack.
package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"rpn/internal/printer"
)

var (
	ErrNoDevice              = errors.New("bluetooth: no matching printer found")
	ErrServiceNotFound       = errors.New("bluetooth: service not found")
	ErrCharacteristicMissing = errors.New("bluetooth: characteristic not found")
)

const DefaultScanTimeout = 10 * time.Second

// Adapter scans for and connects to printers. The headless agent has no
// picker, so RequestDevice takes the first advertisement matching the filter.
type Adapter struct {
	ad          *bluetooth.Adapter
	scanTimeout time.Duration
	log         *slog.Logger

	enableOnce sync.Once
	enableErr  error
}

func New(scanTimeout time.Duration, log *slog.Logger) *Adapter {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{ad: bluetooth.DefaultAdapter, scanTimeout: scanTimeout, log: log}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() { a.enableErr = a.ad.Enable() })
	return a.enableErr
}

func (a *Adapter) RequestDevice(ctx context.Context, f printer.Filter) (printer.Device, error) {
	if err := a.enable(); err != nil {
		return nil, fmt.Errorf("bluetooth: enable adapter: %w", err)
	}
	services, err := parseUUIDs(f.Services)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.scanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- a.ad.Scan(func(ad *bluetooth.Adapter, res bluetooth.ScanResult) {
			if !matches(res.AdvertisementPayload, res.Address.String(), services, f) {
				return
			}
			select {
			case found <- res:
			default:
			}
			_ = ad.StopScan()
		})
	}()

	select {
	case res := <-found:
		<-scanErr
		a.log.Info("printer found", "address", res.Address.String(), "name", res.LocalName(), "rssi", res.RSSI)
		return &device{ad: a.ad, addr: res.Address, name: res.LocalName()}, nil
	case err := <-scanErr:
		// The scan ended on its own; a result may have raced the return.
		select {
		case res := <-found:
			return &device{ad: a.ad, addr: res.Address, name: res.LocalName()}, nil
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("bluetooth: scan: %w", err)
		}
		return nil, ErrNoDevice
	case <-ctx.Done():
		_ = a.ad.StopScan()
		<-scanErr
		return nil, fmt.Errorf("%w: %w", ErrNoDevice, ctx.Err())
	}
}

func matches(p bluetooth.AdvertisementPayload, addr string, services []bluetooth.UUID, f printer.Filter) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, addr) {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(p.LocalName(), f.NamePrefix) {
		return false
	}
	for _, u := range services {
		if !p.HasServiceUUID(u) {
			return false
		}
	}
	return true
}

func parseUUIDs(in []string) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(in))
	for _, s := range in {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("bluetooth: parse uuid %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

type device struct {
	ad   *bluetooth.Adapter
	addr bluetooth.Address
	name string

	mu        sync.Mutex
	dev       bluetooth.Device
	connected bool
}

func (d *device) Name() string {
	if d.name != "" {
		return d.name
	}
	return d.addr.String()
}

func (d *device) Connect(ctx context.Context) (printer.GATTServer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := d.ad.Connect(d.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("bluetooth: connect %s: %w", d.addr.String(), err)
	}
	d.mu.Lock()
	d.dev, d.connected = dev, true
	d.mu.Unlock()
	return &server{dev: dev}, nil
}

func (d *device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.connected = false
	return d.dev.Disconnect()
}

type server struct{ dev bluetooth.Device }

func (s *server) PrimaryService(ctx context.Context, uuid string) (printer.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	svcs, err := s.dev.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("bluetooth: discover service %s: %w", uuid, err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, uuid)
	}
	return &service{svc: svcs[0]}, nil
}

type service struct{ svc bluetooth.DeviceService }

func (s *service) Characteristic(ctx context.Context, uuid string) (printer.Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("bluetooth: discover characteristic %s: %w", uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicMissing, uuid)
	}
	return &characteristic{ch: chars[0]}, nil
}

type characteristic struct {
	ch bluetooth.DeviceCharacteristic
}

// attHeader is the opcode and handle carried by every ATT write.
const attHeader = 3

// chunkLimit is the payload one ATT write can carry at mtu, or 0 when the
// MTU is unknown.
func chunkLimit(mtu uint16) int {
	if int(mtu) <= attHeader {
		return 0
	}
	return int(mtu) - attHeader
}

// WriteValue sends one chunk. See write for the platform write mode.
func (c *characteristic) WriteValue(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := c.write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("bluetooth: short write %d of %d bytes", n, len(p))
	}
	return nil
}
