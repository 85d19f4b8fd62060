// Package port discovers the serial port a microcontroller is attached to.
package port

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrDeviceNotFound is returned when no serial port matches a known signature.
var ErrDeviceNotFound = errors.New("no matching serial device found")

// DefaultSignatures are the description substrings of common Arduino-compatible boards.
var DefaultSignatures = []string{"Arduino", "CH340", "USB-SERIAL"}

// Descriptor describes one serial port visible to the operating system.
type Descriptor struct {
	Device      string
	Description string
	IsUSB       bool
	VID         string
	PID         string
}

// Lister enumerates serial ports.
type Lister interface {
	ListPorts() ([]Descriptor, error)
}

// SystemLister lists the ports of the host using the OS enumerator.
type SystemLister struct{}

// ListPorts returns the ports reported by the operating system, in enumeration order.
func (SystemLister) ListPorts() ([]Descriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]Descriptor, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" {
			desc = d.Name
		}
		ports = append(ports, Descriptor{
			Device:      d.Name,
			Description: desc,
			IsUSB:       d.IsUSB,
			VID:         d.VID,
			PID:         d.PID,
		})
	}
	return ports, nil
}

// Matches reports whether the port description contains any of the signatures.
// Matching is a case-sensitive substring test.
func (d Descriptor) Matches(signatures []string) bool {
	for _, sig := range signatures {
		if sig != "" && strings.Contains(d.Description, sig) {
			return true
		}
	}
	return false
}

// FindDevicePort returns the device of the first enumerated port whose
// description matches one of the signatures. Nil signatures mean DefaultSignatures.
func FindDevicePort(l Lister, signatures []string) (string, error) {
	if signatures == nil {
		signatures = DefaultSignatures
	}

	ports, err := l.ListPorts()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}

	for _, p := range ports {
		if p.Matches(signatures) {
			return p.Device, nil
		}
	}
	return "", ErrDeviceNotFound
}

// Resolve returns device unchanged when it is set, otherwise it runs auto-discovery.
func Resolve(l Lister, device string, signatures []string) (string, error) {
	if device != "" {
		return device, nil
	}
	return FindDevicePort(l, signatures)
}
