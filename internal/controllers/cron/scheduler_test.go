package cron

import (
	"context"
	"testing"
)

type noopJob struct{}

func (noopJob) Run(context.Context) {}

func TestSchedulerSpecFormats(t *testing.T) {
	s := NewScheduler(context.Background())

	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"six fields with seconds", "0 0 3 * * *", false},
		{"every descriptor", "@every 1h", false},
		{"daily descriptor", "@daily", false},
		{"five fields rejected", "0 3 * * *", true},
		{"garbage rejected", "never", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Add(tt.spec, noopJob{})
			if tt.wantErr && err == nil {
				t.Errorf("Add(%q) accepted, want parse error", tt.spec)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Add(%q): %v", tt.spec, err)
			}
		})
	}
}
