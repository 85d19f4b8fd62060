package port

import (
	"errors"
	"testing"
)

func TestFindDevicePort(t *testing.T) {
	tests := []struct {
		name    string
		ports   []Descriptor
		want    string
		wantErr error
	}{
		{
			name:  "arduino uno",
			ports: []Descriptor{{Device: "/dev/ttyACM0", Description: "Arduino Uno"}},
			want:  "/dev/ttyACM0",
		},
		{
			name:  "ch340 clone",
			ports: []Descriptor{{Device: "COM3", Description: "USB-SERIAL CH340 (COM3)"}},
			want:  "COM3",
		},
		{
			name:  "ch340 signature alone",
			ports: []Descriptor{{Device: "COM7", Description: "CH340 adapter"}},
			want:  "COM7",
		},
		{
			name:  "usb-serial signature",
			ports: []Descriptor{{Device: "/dev/ttyUSB0", Description: "USB-SERIAL converter"}},
			want:  "/dev/ttyUSB0",
		},
		{
			name: "first match wins in enumeration order",
			ports: []Descriptor{
				{Device: "/dev/ttyS0", Description: "ttyS0"},
				{Device: "/dev/ttyUSB1", Description: "CH340"},
				{Device: "/dev/ttyACM0", Description: "Arduino Mega"},
			},
			want: "/dev/ttyUSB1",
		},
		{
			name: "no signature present",
			ports: []Descriptor{
				{Device: "/dev/ttyS0", Description: "ttyS0"},
				{Device: "/dev/ttyUSB0", Description: "FT232R USB UART"},
			},
			wantErr: ErrDeviceNotFound,
		},
		{
			name:    "match is case sensitive",
			ports:   []Descriptor{{Device: "/dev/ttyACM0", Description: "arduino leonardo"}},
			wantErr: ErrDeviceNotFound,
		},
		{
			name:    "no ports",
			ports:   nil,
			wantErr: ErrDeviceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindDevicePort(&MockLister{Ports: tt.ports}, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FindDevicePort() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindDevicePort() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FindDevicePort() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindDevicePort_CustomSignatures(t *testing.T) {
	l := &MockLister{Ports: []Descriptor{
		{Device: "/dev/ttyACM0", Description: "Arduino Uno"},
		{Device: "/dev/ttyUSB0", Description: "CP2102 USB to UART"},
	}}

	got, err := FindDevicePort(l, []string{"CP2102"})
	if err != nil {
		t.Fatalf("FindDevicePort() error = %v", err)
	}
	if got != "/dev/ttyUSB0" {
		t.Errorf("FindDevicePort() = %q, want /dev/ttyUSB0", got)
	}
}

func TestFindDevicePort_ListError(t *testing.T) {
	listErr := errors.New("permission denied")
	_, err := FindDevicePort(&MockLister{Err: listErr}, nil)
	if !errors.Is(err, listErr) {
		t.Errorf("expected wrapped list error, got %v", err)
	}
	if errors.Is(err, ErrDeviceNotFound) {
		t.Error("list failure should not be reported as device not found")
	}
}

func TestResolve_FixedDeviceSkipsEnumeration(t *testing.T) {
	l := &MockLister{Err: errors.New("should not be called")}

	got, err := Resolve(l, "/dev/ttyUSB3", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "/dev/ttyUSB3" {
		t.Errorf("Resolve() = %q, want /dev/ttyUSB3", got)
	}
	if l.Calls != 0 {
		t.Errorf("ListPorts called %d times, want 0", l.Calls)
	}
}

func TestResolve_AutoDiscovery(t *testing.T) {
	l := &MockLister{Ports: []Descriptor{{Device: "COM4", Description: "Arduino Nano"}}}

	got, err := Resolve(l, "", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "COM4" {
		t.Errorf("Resolve() = %q, want COM4", got)
	}
}
