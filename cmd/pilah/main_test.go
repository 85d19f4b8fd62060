package main

import "testing"

func TestStatusURL(t *testing.T) {
	tests := []struct {
		addr      string
		dashboard bool
		want      string
	}{
		{":8080", false, "http://localhost:8080/api/runs"},
		{":8080", true, "http://localhost:8080/"},
		{"192.168.1.20:9000", true, "http://192.168.1.20:9000/"},
	}

	for _, tt := range tests {
		if got := statusURL(tt.addr, tt.dashboard); got != tt.want {
			t.Errorf("statusURL(%q, %v) = %q, want %q", tt.addr, tt.dashboard, got, tt.want)
		}
	}
}

func TestRun_Help(t *testing.T) {
	if code := run([]string{"--help"}); code != 0 {
		t.Errorf("run(--help) = %d, want 0", code)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	if code := run([]string{"--budget", "0s"}); code != 2 {
		t.Errorf("run(--budget 0s) = %d, want 2", code)
	}
}
