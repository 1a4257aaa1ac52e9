package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()

	d := c.Dispatcher
	if d.Workers != 4 {
		t.Errorf("workers = %d, want 4", d.Workers)
	}
	if d.BatchSize != 50 {
		t.Errorf("batchSize = %d, want 50", d.BatchSize)
	}
	if d.MaxBatchSize != 200 {
		t.Errorf("maxBatchSize = %d, want 4x batch", d.MaxBatchSize)
	}
	if d.HighWatermark != 500 || d.LowWatermark != 25 {
		t.Errorf("watermarks = %d/%d, want 500/25", d.HighWatermark, d.LowWatermark)
	}
	if d.MaxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5", d.MaxRetries)
	}
	if d.Lease != 30*time.Second || d.PollPeriod != time.Second {
		t.Errorf("lease/poll = %v/%v", d.Lease, d.PollPeriod)
	}
	if d.Breaker.FailureThreshold != 5 || d.Breaker.OpenDuration != time.Minute {
		t.Errorf("breaker defaults = %d/%v", d.Breaker.FailureThreshold, d.Breaker.OpenDuration)
	}

	p := c.Producer
	if p.MaxAttempts != 3 || p.SendTimeout != 10*time.Second || p.AsyncTimeout != 30*time.Second {
		t.Errorf("producer defaults = %d/%v/%v", p.MaxAttempts, p.SendTimeout, p.AsyncTimeout)
	}

	cl := c.Cleanup
	if cl.RetentionDays != 7 || cl.BatchLimit != 1000 {
		t.Errorf("cleanup defaults = %d/%d", cl.RetentionDays, cl.BatchLimit)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := Config{
		Dispatcher: Dispatcher{
			Workers:      8,
			BatchSize:    20,
			MaxBatchSize: 25,
			MaxRetries:   2,
		},
	}
	c.applyDefaults()

	if c.Dispatcher.Workers != 8 || c.Dispatcher.BatchSize != 20 {
		t.Error("explicit values must survive defaulting")
	}
	if c.Dispatcher.MaxBatchSize != 25 {
		t.Errorf("maxBatchSize = %d, want explicit 25", c.Dispatcher.MaxBatchSize)
	}
	if c.Dispatcher.MaxRetries != 2 {
		t.Errorf("maxRetries = %d, want explicit 2", c.Dispatcher.MaxRetries)
	}
	if c.Dispatcher.HighWatermark != 200 {
		t.Errorf("highWatermark = %d, want 10x explicit batch", c.Dispatcher.HighWatermark)
	}
}
