package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestConfigSystem_Integration exercises the config system end to end in
// memory: concurrent readers, concurrent KV-style section updates through
// the manager, and subscribers draining notifications.
func TestConfigSystem_Integration(t *testing.T) {
	cm := newTestManager(newTestConfig("integration-test"))
	defer cm.Stop(time.Second)

	const numWorkers = 50
	const iterations = 100
	var wg sync.WaitGroup
	errCh := make(chan error, numWorkers)

	// Subscribers drain whatever arrives
	for i := 0; i < 4; i++ {
		updates := cm.OnChange("search")
		go func() {
			for range updates {
			}
		}()
	}

	// Concurrent readers
	for i := 0; i < numWorkers/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				cfg := cm.GetConfig().Get()

				if cfg.Platform.ID != "integration-test" {
					errCh <- fmt.Errorf("config corruption detected: %q", cfg.Platform.ID)
					return
				}
				if cfg.Search.SNRThreshold <= 0 {
					errCh <- fmt.Errorf("invalid threshold observed: %g", cfg.Search.SNRThreshold)
					return
				}
			}
		}()
	}

	// Concurrent writers through the KV update path
	for i := 0; i < numWorkers/2; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < iterations/10; j++ {
				threshold := 4.0 + float64(worker%4)
				value := fmt.Sprintf(`{"snr_threshold": %g}`, threshold)
				cm.handleUpdate("search", []byte(value))
			}
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errCh)
		for err := range errCh {
			t.Fatalf("Integration test failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Integration test timed out")
	}
}

// TestUpdateConfig_MalformedValues verifies that broken KV payloads never
// corrupt the running configuration.
func TestUpdateConfig_MalformedValues(t *testing.T) {
	cm := newTestManager(newTestConfig("integration-test"))
	before := cm.config.Get()

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"truncated json", "search", `{"snr_threshold": 4`},
		{"wrong type", "detectors", `{"not": "a list"}`},
		{"array for object", "bank", `[1, 2, 3]`},
		{"unbalanced brackets", "platform", `{"id": "x"`},
		{"out of range", "search", `{"block_capacity": -1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cm.updateConfig(tc.key, []byte(tc.value))
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}

	// The running config is untouched
	after := cm.config.Get()
	if before.Search.SNRThreshold != after.Search.SNRThreshold {
		t.Error("search config changed after rejected updates")
	}
	if len(before.Detectors) != len(after.Detectors) {
		t.Error("detector list changed after rejected updates")
	}
}

// TestUpdateConfig_SectionRoundTrip pushes every watched section through the
// update path and reads it back.
func TestUpdateConfig_SectionRoundTrip(t *testing.T) {
	cm := newTestManager(newTestConfig("integration-test"))

	search := SearchConfig{
		SNRThreshold:      5.0,
		MinTriggerSupport: 4,
		TimingMargin:      time.Millisecond,
		CoincidenceWindow: 2 * time.Second,
		GapTolerance:      16,
		BackpressureBound: 10 * time.Second,
		EmitSingles:       true,
		ChisqEnabled:      false,
		BlockCapacity:     8,
	}
	data, err := json.Marshal(search)
	if err != nil {
		t.Fatal(err)
	}
	if err := cm.updateConfig("search", data); err != nil {
		t.Fatalf("search update: %v", err)
	}

	got := cm.config.Get().Search
	if got != search {
		t.Errorf("search round trip mismatch:\n got %+v\nwant %+v", got, search)
	}
}
