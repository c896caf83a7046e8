package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/types"
)

// Update is a configuration change notification. Path names the concrete
// key that changed ("search", "components.udp-strain-h1"); Config is the
// full configuration after the change was applied.
type Update struct {
	Path   string
	Config *SafeConfig
}

// Manager keeps the running configuration in sync with the spiir-config
// KV bucket and fans out change notifications. Operators retune search
// knobs through KV mid-run; components subscribe to the slices they care
// about instead of polling.
type Manager struct {
	config      *SafeConfig
	kv          jetstream.KeyValue
	kvStore     *natsclient.KVStore
	watchers    []jetstream.KeyWatcher
	subscribers map[string][]chan Update // pattern -> channels
	mu          sync.RWMutex             // protects subscribers
	logger      *slog.Logger

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewConfigManager creates a manager bound to the spiir-config bucket,
// creating the bucket if this is the first pipeline instance up.
func NewConfigManager(cfg *Config, natsClient *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if natsClient == nil {
		return nil, fmt.Errorf("nats client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()
	kv, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      "spiir-config",
		Description: "Search runtime configuration",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/get KV bucket: %w", err)
	}

	return &Manager{
		config:      NewSafeConfig(cfg),
		kv:          kv,
		kvStore:     natsClient.NewKVStore(kv),
		subscribers: make(map[string][]chan Update),
		logger:      logger,
	}, nil
}

// GetConfig returns the current configuration.
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes matching the pattern.
// The channel receives the current configuration immediately, then an
// Update per matching change. Patterns are exact keys ("search"), a
// section wildcard ("services.*") or a prefix wildcard
// ("components.udp-*").
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	select {
	case ch <- Update{Path: pattern, Config: cm.config}:
	default:
	}

	return ch
}

// Start reconciles the file config against KV and begins watching for
// changes. Reconciliation direction follows the version field: a newer
// file wins and is pushed to KV, otherwise KV is authoritative since it
// may hold operator edits made while this instance was down.
func (cm *Manager) Start(ctx context.Context) error {
	cm.shutdownCh = make(chan struct{})

	hasConfig, err := cm.hasKVConfig(ctx)
	if err != nil {
		cm.logger.Warn("Failed to check KV config existence", "error", err)
		hasConfig = false
	}

	if !hasConfig {
		cm.logger.Info("First boot detected, pushing config to KV")
		if err := cm.PushToKV(ctx); err != nil {
			// The search can still run on the file config; operators just
			// won't see the initial state in KV.
			cm.logger.Error("Failed to push initial config to KV", "error", err)
		}
	} else {
		fileVersion := cm.config.Get().Version
		kvVersion, err := cm.getKVVersion(ctx)
		if err != nil {
			cm.logger.Warn("Failed to get KV version, syncing from KV", "error", err)
			if err := cm.syncFromKV(ctx); err != nil {
				cm.logger.Warn("Failed to sync from KV on startup", "error", err)
			}
		} else {
			cmp, err := CompareVersions(fileVersion, kvVersion)
			switch {
			case err != nil:
				cm.logger.Warn("Failed to compare versions, syncing from KV",
					"file_version", fileVersion,
					"kv_version", kvVersion,
					"error", err)
				if err := cm.syncFromKV(ctx); err != nil {
					cm.logger.Warn("Failed to sync from KV on startup", "error", err)
				}
			case cmp > 0:
				cm.logger.Info("File version is newer than KV, updating KV",
					"file_version", fileVersion,
					"kv_version", kvVersion)
				if err := cm.PushToKV(ctx); err != nil {
					cm.logger.Error("Failed to update KV with newer config", "error", err)
				}
			case cmp < 0:
				cm.logger.Warn("File version is older than KV, using KV config",
					"file_version", fileVersion,
					"kv_version", kvVersion,
					"hint", "bump file version to update KV")
				if err := cm.syncFromKV(ctx); err != nil {
					cm.logger.Warn("Failed to sync from KV on startup", "error", err)
				}
			default:
				// Equal versions still sync from KV; an operator may have
				// edited without bumping.
				cm.logger.Info("File and KV versions match, syncing from KV",
					"version", fileVersion)
				if err := cm.syncFromKV(ctx); err != nil {
					cm.logger.Warn("Failed to sync from KV on startup", "error", err)
				}
			}
		}
	}

	// Single-level wildcards only: services.* matches services.gracedb
	// but not services.gracedb.enabled. Property-level keys are not a
	// supported write shape.
	patterns := []string{
		"services.*",
		"components.*",
		"platform",
		"nats",
		"search",    // detection knobs
		"bank",      // template bank location
		"detectors", // enabled detector set
		"classify",  // source classification
	}

	cm.watchers = make([]jetstream.KeyWatcher, 0, len(patterns))

	cleanup := func() {
		for _, w := range cm.watchers {
			if w != nil {
				_ = w.Stop()
			}
		}
		cm.watchers = nil
	}

	for _, pattern := range patterns {
		// UpdatesOnly because existing values were just synced. A pattern
		// with no keys yet is fine; its watcher arrives with the keys.
		watcher, err := cm.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
		if err != nil {
			cm.logger.Debug("Failed to create watcher", "pattern", pattern, "error", err)
			continue
		}
		cm.watchers = append(cm.watchers, watcher)
	}

	if len(cm.watchers) == 0 {
		cleanup()
		return fmt.Errorf("failed to create any watchers")
	}

	for _, watcher := range cm.watchers {
		cm.wg.Add(1)
		go cm.processWatcher(ctx, watcher)
	}

	return nil
}

// Stop halts the watchers and closes all subscriber channels.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if cm.shutdownCh != nil {
		close(cm.shutdownCh)
	}

	for _, watcher := range cm.watchers {
		if watcher != nil {
			_ = watcher.Stop()
		}
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
	}

	// Subscriber channels close only after every watcher goroutine has
	// stopped sending.
	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

func (cm *Manager) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.shutdownCh:
			return
		case entry := <-watcher.Updates():
			// UpdatesOnly should never deliver nil, but a closed watcher can.
			if entry != nil {
				cm.handleUpdate(entry.Key(), entry.Value())
			}
		}
	}
}

// handleUpdate applies one KV change and notifies matching subscribers.
func (cm *Manager) handleUpdate(key string, value []byte) {
	if cm.stopped.Load() {
		return
	}

	if err := cm.updateConfig(key, value); err != nil {
		cm.logger.Error("Failed to update configuration",
			"key", key,
			"error", err)
		return
	}

	update := Update{Path: key, Config: cm.config}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if cm.matchesPattern(key, pattern) {
			for _, ch := range channels {
				if cm.stopped.Load() {
					return
				}

				// Non-blocking send; slow subscribers miss intermediate
				// updates and catch up from Config on the next one
				select {
				case ch <- update:
				default:
				}
			}
		}
	}
}

// matchesPattern reports whether a key matches a subscription pattern.
func (cm *Manager) matchesPattern(key, pattern string) bool {
	if pattern == key {
		return true
	}

	// "services.*" matches "services.gracedb"
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(key, prefix+".")
	}

	// "components.udp-*" matches "components.udp-strain-h1"
	if strings.Contains(pattern, "*") {
		parts := strings.SplitN(pattern, "*", 2)
		if len(parts) > 0 {
			return strings.HasPrefix(key, parts[0])
		}
	}

	return false
}

// updateConfig applies one KV entry to the in-memory configuration. An
// empty value is a deletion. Keys deeper than two parts were never
// written by PushToKV and are rejected upstream.
func (cm *Manager) updateConfig(key string, value []byte) error {
	if len(value) > 0 {
		if len(value) > maxConfigSize {
			return fmt.Errorf("config value too large: %d bytes > %d", len(value), maxConfigSize)
		}
		if err := validateJSONDepth(value); err != nil {
			return fmt.Errorf("invalid JSON structure in KV update: %w", err)
		}
	}

	parts := strings.Split(key, ".")
	if len(parts) < 1 {
		return fmt.Errorf("invalid key format: %s", key)
	}

	currentConfig := cm.config.Get()

	switch parts[0] {
	case "services":
		if len(parts) != 2 {
			return fmt.Errorf("invalid service key format: %s", key)
		}
		serviceName := parts[1]

		if len(value) == 0 {
			delete(currentConfig.Services, serviceName)
		} else {
			if currentConfig.Services == nil {
				currentConfig.Services = make(types.ServiceConfigs)
			}
			var svcConfig types.ServiceConfig
			if err := json.Unmarshal(value, &svcConfig); err != nil {
				return fmt.Errorf("failed to parse service config: %w", err)
			}
			currentConfig.Services[serviceName] = svcConfig
		}

	case "components":
		if len(parts) != 2 {
			return fmt.Errorf("invalid component key format: %s", key)
		}
		componentName := parts[1]

		if len(value) == 0 {
			delete(currentConfig.Components, componentName)
		} else {
			var compConfig types.ComponentConfig
			if err := json.Unmarshal(value, &compConfig); err != nil {
				return fmt.Errorf("parse component config: %w", err)
			}
			if currentConfig.Components == nil {
				currentConfig.Components = make(ComponentConfigs)
			}
			currentConfig.Components[componentName] = compConfig
		}

	case "platform":
		if err := json.Unmarshal(value, &currentConfig.Platform); err != nil {
			return fmt.Errorf("parse platform config: %w", err)
		}

	case "nats":
		if err := json.Unmarshal(value, &currentConfig.NATS); err != nil {
			return fmt.Errorf("parse NATS config: %w", err)
		}

	case "search":
		if err := json.Unmarshal(value, &currentConfig.Search); err != nil {
			return fmt.Errorf("parse search config: %w", err)
		}

	case "bank":
		if err := json.Unmarshal(value, &currentConfig.Bank); err != nil {
			return fmt.Errorf("parse bank config: %w", err)
		}

	case "detectors":
		var detectors []string
		if err := json.Unmarshal(value, &detectors); err != nil {
			return fmt.Errorf("parse detector list: %w", err)
		}
		currentConfig.Detectors = detectors

	case "classify":
		if err := json.Unmarshal(value, &currentConfig.Classify); err != nil {
			return fmt.Errorf("parse classify config: %w", err)
		}

	default:
		// Unknown top-level keys are ignored so a newer deployment can
		// add sections without breaking older instances.
		return nil
	}

	return cm.config.Update(currentConfig)
}

// sanitizeNATSKey replaces characters NATS keys cannot carry.
func sanitizeNATSKey(key string) string {
	return strings.ReplaceAll(key, " ", "_")
}

// PushToKV writes the current configuration to KV, section by section.
// Used on first boot and whenever the file version outruns KV.
func (cm *Manager) PushToKV(ctx context.Context) error {
	cfg := cm.config.Get()

	// Version goes first so a concurrent reader never sees new sections
	// under an old version.
	cm.logger.Debug("PushToKV: checking version", "version", cfg.Version)
	if cfg.Version != "" {
		data, err := json.Marshal(cfg.Version)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		cm.logger.Info("Pushing version to KV", "version", cfg.Version)
		if _, err := cm.kvStore.Put(ctx, "version", data); err != nil {
			return fmt.Errorf("push version: %w", err)
		}
	} else {
		cm.logger.Warn("Config version is empty, not pushing to KV")
	}

	for name, svcConfig := range cfg.Services {
		key := fmt.Sprintf("services.%s", sanitizeNATSKey(name))
		data, err := json.Marshal(svcConfig)
		if err != nil {
			return fmt.Errorf("marshal service %s: %w", name, err)
		}
		if _, err := cm.kvStore.Put(ctx, key, data); err != nil {
			return fmt.Errorf("push service %s: %w", name, err)
		}
	}

	for name, compConfig := range cfg.Components {
		key := fmt.Sprintf("components.%s", sanitizeNATSKey(name))
		data, err := json.Marshal(compConfig)
		if err != nil {
			return fmt.Errorf("marshal component %s: %w", name, err)
		}
		if _, err := cm.kvStore.Put(ctx, key, data); err != nil {
			return fmt.Errorf("push component %s: %w", name, err)
		}
	}

	// len > 2 skips sections that marshal to an empty object.
	if data, err := json.Marshal(cfg.Platform); err == nil && len(data) > 2 {
		if _, err := cm.kvStore.Put(ctx, "platform", data); err != nil {
			return fmt.Errorf("push platform: %w", err)
		}
	}

	if data, err := json.Marshal(cfg.NATS); err == nil && len(data) > 2 {
		if _, err := cm.kvStore.Put(ctx, "nats", data); err != nil {
			return fmt.Errorf("push nats: %w", err)
		}
	}

	if data, err := json.Marshal(cfg.Search); err == nil && len(data) > 2 {
		if _, err := cm.kvStore.Put(ctx, "search", data); err != nil {
			return fmt.Errorf("push search: %w", err)
		}
	}

	if data, err := json.Marshal(cfg.Bank); err == nil && len(data) > 2 {
		if _, err := cm.kvStore.Put(ctx, "bank", data); err != nil {
			return fmt.Errorf("push bank: %w", err)
		}
	}

	if len(cfg.Detectors) > 0 {
		data, err := json.Marshal(cfg.Detectors)
		if err != nil {
			return fmt.Errorf("marshal detectors: %w", err)
		}
		if _, err := cm.kvStore.Put(ctx, "detectors", data); err != nil {
			return fmt.Errorf("push detectors: %w", err)
		}
	}

	if data, err := json.Marshal(cfg.Classify); err == nil && len(data) > 2 {
		if _, err := cm.kvStore.Put(ctx, "classify", data); err != nil {
			return fmt.Errorf("push classify: %w", err)
		}
	}

	return nil
}

func (cm *Manager) hasKVConfig(ctx context.Context) (bool, error) {
	keys, err := cm.kv.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("list KV keys: %w", err)
	}
	return len(keys) > 0, nil
}

// getKVVersion reads the stored config version. A missing or unparsable
// version key reads as 0.0.0 so any versioned file config supersedes it.
func (cm *Manager) getKVVersion(ctx context.Context) (string, error) {
	entry, err := cm.kv.Get(ctx, "version")
	if err != nil {
		return "0.0.0", nil
	}

	var version string
	if err := json.Unmarshal(entry.Value(), &version); err != nil {
		cm.logger.Warn("Failed to parse version from KV, treating as 0.0.0", "error", err)
		return "0.0.0", nil
	}

	return version, nil
}

// syncFromKV loads every section key from KV and applies it to the
// in-memory config. Property-level keys are skipped; a bad section is
// logged and the sync continues.
func (cm *Manager) syncFromKV(ctx context.Context) error {
	keys, err := cm.kv.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list KV keys: %w", err)
	}

	for _, key := range keys {
		parts := strings.Split(key, ".")
		if len(parts) > 2 {
			cm.logger.Debug("Skipping property-level key during sync", "key", key)
			continue
		}

		entry, err := cm.kv.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("Failed to get KV entry during sync",
				"key", key,
				"error", err)
			continue
		}

		if err := cm.updateConfig(key, entry.Value()); err != nil {
			cm.logger.Warn("Failed to apply KV config during sync",
				"key", key,
				"error", err)
		}
	}

	cm.logger.Info("Synced configuration from KV", "keys", len(keys))
	return nil
}
