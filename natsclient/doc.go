// Package natsclient provides a robust NATS client with circuit breaker protection,
// automatic reconnection, and JetStream/KV support for the streaming search pipeline.
//
// The package wraps the standard NATS Go client with reliability features: a
// circuit breaker for failure protection, exponential backoff on reconnection,
// and context propagation through every operation. It carries all messaging in
// the search: strain blocks in, triggers and ranked events out, checkpoints
// and template-bank registrations in the KV store.
//
// # Core Features
//
// Circuit Breaker: fails fast after a threshold of consecutive failures
// (default 5). The circuit opens to stop further attempts, then tests the
// connection again with exponential backoff. A search node behind a flapping
// link degrades instead of spinning.
//
// Connection Lifecycle: Disconnected → Connecting → Connected → Reconnecting →
// Connected, with configurable callbacks on each transition. Strain ingest
// components use the callbacks to flag themselves unhealthy while the link is
// down.
//
// JetStream: streams, consumers, and Key-Value buckets with circuit breaker
// integration. Trigger and event traffic rides JetStream so a restarted
// ranking consumer replays what it missed.
//
// KVStore: high-level KV abstraction with automatic CAS retry and JSON
// helpers. The pipeline controller persists its strain checkpoint through it.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	err = client.Connect(ctx)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Publish a strain block for one detector
//	err = client.Publish(ctx, "strain.H1", blockData)
//
//	// Subscribe to every detector's strain feed
//	err = client.Subscribe(ctx, "strain.*", func(msgCtx context.Context, data []byte) {
//	    // Handle message with context (30s timeout per message)
//	    fmt.Printf("block: %d bytes\n", len(data))
//	})
//
// # Advanced Configuration
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithMaxReconnects(-1),  // Infinite reconnects
//	    natsclient.WithReconnectWait(2*time.Second),
//	    natsclient.WithCircuitBreakerThreshold(10),
//	    natsclient.WithDisconnectCallback(func(err error) {
//	        log.Printf("Disconnected: %v", err)
//	    }),
//	    natsclient.WithReconnectCallback(func() {
//	        log.Println("Reconnected successfully")
//	    }),
//	)
//
// # JetStream Operations
//
//	// Create the trigger stream
//	stream, err := client.CreateStream(ctx, jetstream.StreamConfig{
//	    Name:     "TRIGGERS",
//	    Subjects: []string{"triggers.>"},
//	})
//
//	// Publish a single-detector trigger
//	err = client.PublishToStream(ctx, "triggers.L1", triggerData)
//
//	// Consume the stream
//	err = client.ConsumeStream(ctx, "TRIGGERS", "triggers.>", func(data []byte) {
//	    // Feed the coincidence stage
//	})
//
// # Key-Value Store
//
// Checkpoint persistence with atomic updates:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket:   "spiir-checkpoints",
//	    History:  5,
//	    Replicas: 3,
//	})
//
//	kvStore := client.NewKVStore(bucket)
//
//	// Atomic JSON update with automatic CAS retry
//	err = kvStore.UpdateJSON(ctx, "pipeline.H1", func(cp map[string]any) error {
//	    // May be called again on a revision conflict
//	    cp["sample_index"] = lastIndex
//	    cp["epoch"] = epoch
//	    return nil
//	})
//
//	var cp map[string]any
//	err = kvStore.GetJSON(ctx, "pipeline.H1", &cp)
//
// # Circuit Breaker Pattern
//
//	// Circuit states:
//	// - Closed: Normal operation, requests pass through
//	// - Open: Failures exceeded threshold, failing fast
//	// - Half-Open: Testing if system recovered
//
//	err := client.Connect(ctx)
//	if errors.Is(err, natsclient.ErrCircuitOpen) {
//	    log.Println("Circuit breaker is open, backing off...")
//	    time.Sleep(client.Backoff())
//	}
//
// # Connection Status and Health
//
//	status := client.Status()
//	switch status {
//	case natsclient.StatusConnected:
//	    // Healthy and ready
//	case natsclient.StatusReconnecting:
//	    // Temporarily disconnected, reconnecting
//	case natsclient.StatusCircuitOpen:
//	    // Circuit breaker is open
//	case natsclient.StatusDisconnected:
//	    // Not connected
//	}
//
//	statusInfo := client.GetStatus()
//	log.Printf("Status: %v, Failures: %d, RTT: %v",
//	    statusInfo.Status,
//	    statusInfo.FailureCount,
//	    statusInfo.RTT)
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	err := client.WaitForConnection(ctx)
//
// Health monitoring with callbacks:
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithHealthCheck(10*time.Second),
//	    natsclient.WithHealthChangeCallback(func(healthy bool) {
//	        if healthy {
//	            log.Println("Connection restored")
//	        } else {
//	            log.Println("Connection lost")
//	        }
//	    }),
//	)
//
// # Error Handling
//
//	err := client.Publish(ctx, "events.ranked", data)
//	if err != nil {
//	    if errors.Is(err, natsclient.ErrCircuitOpen) {
//	        // Back off and retry later
//	        return
//	    }
//	    if errors.Is(err, natsclient.ErrNotConnected) {
//	        // Trigger reconnection
//	        return
//	    }
//	    log.Printf("Publish failed: %v", err)
//	}
//
// KV-specific error handling:
//
//	err := kvStore.UpdateJSON(ctx, key, updateFn)
//	if err != nil {
//	    if natsclient.IsKVNotFoundError(err) {
//	        // First run for this detector, no checkpoint yet
//	    }
//	    if natsclient.IsKVConflictError(err) {
//	        // Too many concurrent updates
//	    }
//	}
//
// # Connection Options
//
//	WithMaxReconnects(n int)              // Maximum reconnection attempts (-1 = infinite)
//	WithReconnectWait(d time.Duration)    // Wait between reconnection attempts
//	WithTimeout(d time.Duration)          // Connection timeout
//	WithDrainTimeout(d time.Duration)     // Timeout for graceful shutdown
//	WithPingInterval(d time.Duration)     // Health check interval
//	WithCircuitBreakerThreshold(n int)    // Failures before circuit opens
//	WithMaxBackoff(d time.Duration)       // Maximum backoff duration
//	WithLogger(logger Logger)             // Custom logger for debug output
//	WithHealthCheck(d time.Duration)      // Enable health monitoring
//	WithClientName(name string)           // Client identification
//
// # Authentication and Security
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithCredentials("username", "password"),
//	)
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithToken("auth-token"),
//	)
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithTLS(true),
//	    natsclient.WithTLSCerts("client.crt", "client.key"),
//	    natsclient.WithTLSCA("ca.crt"),
//	)
//
// Credentials are cleared from memory when the client is closed.
//
// # Testing
//
// Test utilities spin up a real NATS server via testcontainers:
//
//	func TestTriggerPublish(t *testing.T) {
//	    testClient := natsclient.NewTestClient(t,
//	        natsclient.WithJetStream(),
//	        natsclient.WithKV(),
//	    )
//	    defer testClient.Close()
//
//	    client := testClient.Client
//	    err := client.Publish(ctx, "triggers.H1", triggerData)
//	    assert.NoError(t, err)
//	}
//
// # Thread Safety
//
// The Client type is safe for concurrent use. Connection state is managed with
// atomic operations and mutexes; subscriptions and consumers can be created
// from any goroutine. Close is a no-op after the first call.
//
// # Architecture Integration
//
//   - component: components receive the client through Dependencies
//   - pipeline: the search controller persists checkpoints in the KV store
//   - input/output: strain readers subscribe, event emitters publish
//   - engine: coordinates component communication over NATS
//
// Data flow:
//
//	Component → Client → Circuit Breaker → NATS Connection → NATS Server
package natsclient
