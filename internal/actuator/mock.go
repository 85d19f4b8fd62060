package actuator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
)

// MockDevice imitates the firmware over an in-memory stream.
// Replies registered for a command are written back, CRLF-terminated,
// when that command is received.
type MockDevice struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies map[string][]string
	pr      *io.PipeReader
	pw      *io.PipeWriter
	closed  bool
}

// NewMockDevice creates a device that answers nothing until replies are registered.
func NewMockDevice() *MockDevice {
	pr, pw := io.Pipe()
	return &MockDevice{
		replies: make(map[string][]string),
		pr:      pr,
		pw:      pw,
	}
}

// NewFirmwareMock returns a device that answers like the sorting firmware:
// a score line then SELESAI for BOTOL, and SELESAI alone for TIDAK.
func NewFirmwareMock(points int) *MockDevice {
	d := NewMockDevice()
	d.Reply(CommandBottle, pointsPrefix+strconv.Itoa(points), AckDone)
	d.Reply(CommandNoBottle, AckDone)
	return d
}

// Reply sets the lines sent back when cmd is received.
func (d *MockDevice) Reply(cmd Command, lines ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[cmd.Token()] = lines
}

// Write records p and schedules the replies for the command it carries.
func (d *MockDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	d.written.Write(p)
	replies := d.replies[strings.TrimSpace(string(p))]
	d.mu.Unlock()

	if len(replies) > 0 {
		go func() {
			for _, line := range replies {
				if _, err := d.pw.Write([]byte(line + "\r\n")); err != nil {
					return
				}
			}
		}()
	}
	return len(p), nil
}

// Read returns reply bytes.
func (d *MockDevice) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

// Close ends the stream.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.pw.Close()
	return d.pr.Close()
}

// Written returns everything written to the device so far.
func (d *MockDevice) Written() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.String()
}

// IsClosed reports whether Close has been called.
func (d *MockDevice) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// MockOpener hands out a MockDevice for every Open call.
type MockOpener struct {
	Device *MockDevice
	Err    error
	Opened []string
}

// Open returns the configured device.
func (o *MockOpener) Open(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	o.Opened = append(o.Opened, device)
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Device == nil {
		return nil, errors.New("mock opener has no device")
	}
	return o.Device, nil
}
