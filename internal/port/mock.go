package port

// MockLister returns a fixed list of ports, or an error.
type MockLister struct {
	Ports []Descriptor
	Err   error
	Calls int
}

// ListPorts returns the configured ports.
func (m *MockLister) ListPorts() ([]Descriptor, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Ports, nil
}
