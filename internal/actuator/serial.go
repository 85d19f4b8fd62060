package actuator

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Serial defaults for Arduino-class boards.
const (
	DefaultBaudRate = 9600
	// DefaultSettle covers the reset an Arduino performs when the port is opened.
	DefaultSettle = 2 * time.Second
)

// Options configures a serial connection.
type Options struct {
	BaudRate int
	Settle   time.Duration
}

// DefaultOptions returns the options used by the firmware.
func DefaultOptions() Options {
	return Options{
		BaudRate: DefaultBaudRate,
		Settle:   DefaultSettle,
	}
}

// Opener opens a connection to the board on a device path.
type Opener interface {
	Open(ctx context.Context, device string) (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, device string) (io.ReadWriteCloser, error)

func (f OpenerFunc) Open(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	return f(ctx, device)
}

// SerialOpener opens real serial ports.
type SerialOpener struct {
	Options Options
}

// Open opens device, waits for the board to settle and discards any boot output.
func (o SerialOpener) Open(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	baud := o.Options.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}

	if o.Options.Settle > 0 {
		timer := time.NewTimer(o.Options.Settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.Close()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}

	return p, nil
}
