package wasmplugin

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hlc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/rpc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/sqlexec"
)

// SchedulerCommand is a timer request a guest enqueued during a call.
// Schedule is set for schedule commands; CancelName for cancels.
type SchedulerCommand struct {
	Schedule   *pluginapi.TimerConfig
	CancelName string
}

// SubscriptionCommand is a hook subscription request a guest enqueued
// during a call.
type SubscriptionCommand struct {
	Pattern     string
	Unsubscribe bool
}

type commandQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *commandQueue[T]) push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

func (q *commandQueue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// HostContext holds everything the host functions of one plugin
// instance need. Host functions cannot act on the sandbox directly, so
// timer and subscription requests are enqueued here and drained by the
// handler after the guest call returns.
type HostContext struct {
	PluginName        string
	KV                kv.Store
	Blob              blob.Store
	Cluster           cluster.Controller
	NodeID            uint64
	SecretKey         ed25519.PrivateKey
	Clock             *hlc.Clock
	Permissions       pluginapi.Permissions
	AllowedKVPrefixes []string
	HookService       *hooks.Service
	HooksConfig       hooks.Config
	SQL               sqlexec.Executor
	Services          []rpc.ServiceExecutor
	Logger            *logrus.Logger
	Metrics           *observability.Metrics

	schedulerCommands    commandQueue[SchedulerCommand]
	subscriptionCommands commandQueue[SubscriptionCommand]
}

// NewHostContext creates a host context for one plugin instance.
// Permissions default to all-denied; AllowedKVPrefixes defaults to the
// plugin's private namespace.
func NewHostContext(pluginName string, kvStore kv.Store, blobStore blob.Store, controller cluster.Controller, nodeID uint64, logger *logrus.Logger) *HostContext {
	if logger == nil {
		logger = logrus.New()
	}
	return &HostContext{
		PluginName:        pluginName,
		KV:                kvStore,
		Blob:              blobStore,
		Cluster:           controller,
		NodeID:            nodeID,
		Logger:            logger,
		AllowedKVPrefixes: []string{pluginapi.DefaultKVPrefix(pluginName)},
	}
}

// WithPermissions sets the capability grants.
func (h *HostContext) WithPermissions(p pluginapi.Permissions) *HostContext {
	h.Permissions = p
	return h
}

// WithKVPrefixes sets the allowed KV namespace. An empty list resolves
// to the plugin's default private prefix.
func (h *HostContext) WithKVPrefixes(prefixes []string) *HostContext {
	if len(prefixes) == 0 {
		prefixes = []string{pluginapi.DefaultKVPrefix(h.PluginName)}
	}
	h.AllowedKVPrefixes = prefixes
	return h
}

// WithSecretKey sets the node signing key.
func (h *HostContext) WithSecretKey(key ed25519.PrivateKey) *HostContext {
	h.SecretKey = key
	return h
}

// WithClock sets the hybrid logical clock.
func (h *HostContext) WithClock(clock *hlc.Clock) *HostContext {
	h.Clock = clock
	return h
}

// WithHooks sets the hook service and config.
func (h *HostContext) WithHooks(service *hooks.Service, config hooks.Config) *HostContext {
	h.HookService = service
	h.HooksConfig = config
	return h
}

// WithSQL sets the read-only SQL executor.
func (h *HostContext) WithSQL(exec sqlexec.Executor) *HostContext {
	h.SQL = exec
	return h
}

// WithServices sets the domain service executors.
func (h *HostContext) WithServices(services []rpc.ServiceExecutor) *HostContext {
	h.Services = services
	return h
}

// WithMetrics sets the runtime metrics.
func (h *HostContext) WithMetrics(m *observability.Metrics) *HostContext {
	h.Metrics = m
	return h
}

// DrainSchedulerCommands removes and returns pending timer requests.
func (h *HostContext) DrainSchedulerCommands() []SchedulerCommand {
	return h.schedulerCommands.drain()
}

// DrainSubscriptionCommands removes and returns pending subscription
// requests.
func (h *HostContext) DrainSubscriptionCommands() []SubscriptionCommand {
	return h.subscriptionCommands.drain()
}

// checkPermission fails before any I/O when the capability is denied.
func (h *HostContext) checkPermission(capability string, granted bool) error {
	if granted {
		return nil
	}
	msg := fmt.Sprintf("permission denied: plugin '%s' lacks '%s' capability", h.PluginName, capability)
	h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "capability": capability}).Warn(msg)
	if h.Metrics != nil {
		h.Metrics.PermissionDeniedTotal.WithLabelValues(h.PluginName, capability).Inc()
	}
	return fmt.Errorf("%s", msg)
}

// validateKeyPrefix enforces namespace isolation for one key. An empty
// prefix list means unrestricted access.
func (h *HostContext) validateKeyPrefix(key, operation string) error {
	if len(h.AllowedKVPrefixes) == 0 {
		return nil
	}
	for _, prefix := range h.AllowedKVPrefixes {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return nil
		}
	}
	msg := fmt.Sprintf("KV namespace violation: plugin '%s' %s key '%s' outside allowed prefixes %v",
		h.PluginName, operation, key, h.AllowedKVPrefixes)
	h.Logger.Warn(msg)
	return fmt.Errorf("%s", msg)
}

// ---------------------------------------------------------------------------
// Logging and clock
// ---------------------------------------------------------------------------

// LogInfo logs an informational message from the guest.
func (h *HostContext) LogInfo(message string) {
	h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "guest_message": message}).Info("wasm plugin log")
}

// LogDebug logs a debug message from the guest.
func (h *HostContext) LogDebug(message string) {
	h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "guest_message": message}).Debug("wasm plugin log")
}

// LogWarn logs a warning from the guest.
func (h *HostContext) LogWarn(message string) {
	h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "guest_message": message}).Warn("wasm plugin log")
}

// NowMS returns wall-clock milliseconds since the Unix epoch.
func (h *HostContext) NowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}

// HLCNow returns the current hybrid logical clock reading as Unix
// milliseconds, falling back to the wall clock without a configured HLC.
func (h *HostContext) HLCNow() uint64 {
	if h.Clock == nil {
		return h.NowMS()
	}
	return h.Clock.Now().UnixMilli()
}

// ---------------------------------------------------------------------------
// KV store
// ---------------------------------------------------------------------------

// KVGet reads a key, returning an option-tagged byte result.
func (h *HostContext) KVGet(ctx context.Context, key string) []byte {
	if err := h.checkPermission("kv_read", h.Permissions.KVRead); err != nil {
		return optErrorBytes(err.Error())
	}
	if err := h.validateKeyPrefix(key, "read"); err != nil {
		return optErrorBytes(err.Error())
	}
	result, err := h.KV.Read(ctx, kv.ReadRequest{Key: key})
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "key": key, "error": err}).
			Warn("wasm plugin kv_get failed")
		return optErrorBytes(fmt.Sprintf("kv_get failed: %v", err))
	}
	if result.KV == nil {
		return optNotFoundBytes()
	}
	return optFoundBytes(result.KV.Value)
}

// KVPut writes a key, returning a tagged string result. The value must
// be valid UTF-8.
func (h *HostContext) KVPut(ctx context.Context, key string, value []byte) string {
	if err := h.checkPermission("kv_write", h.Permissions.KVWrite); err != nil {
		return errString(err.Error())
	}
	if err := h.validateKeyPrefix(key, "write"); err != nil {
		return errString(err.Error())
	}
	if !utf8.Valid(value) {
		return errString("value is not valid UTF-8")
	}
	if _, err := h.KV.Write(ctx, kv.Set{Key: key, Value: value}); err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "key": key, "error": err}).
			Warn("wasm plugin kv_put failed")
		return errString(fmt.Sprintf("kv_put failed: %v", err))
	}
	return okString("")
}

// KVDelete removes a key, returning a tagged string result.
func (h *HostContext) KVDelete(ctx context.Context, key string) string {
	if err := h.checkPermission("kv_write", h.Permissions.KVWrite); err != nil {
		return errString(err.Error())
	}
	if err := h.validateKeyPrefix(key, "delete"); err != nil {
		return errString(err.Error())
	}
	if _, err := h.KV.Write(ctx, kv.Delete{Key: key}); err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "key": key, "error": err}).
			Warn("wasm plugin kv_delete failed")
		return errString(fmt.Sprintf("kv_delete failed: %v", err))
	}
	return okString("")
}

// KVCas compare-and-swaps a key. An empty expected value means
// create-if-absent.
func (h *HostContext) KVCas(ctx context.Context, key string, expected, newValue []byte) string {
	if err := h.checkPermission("kv_write", h.Permissions.KVWrite); err != nil {
		return errString(err.Error())
	}
	if err := h.validateKeyPrefix(key, "cas"); err != nil {
		return errString(err.Error())
	}
	if !utf8.Valid(expected) || !utf8.Valid(newValue) {
		return errString("cas values are not valid UTF-8")
	}
	var expectedVal []byte
	if len(expected) > 0 {
		expectedVal = expected
	}
	cmd := kv.CompareAndSwap{Key: key, Expected: expectedVal, NewValue: newValue}
	if _, err := h.KV.Write(ctx, cmd); err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "key": key, "error": err}).
			Warn("wasm plugin kv_cas failed")
		return errString(fmt.Sprintf("kv_cas failed: %v", err))
	}
	return okString("")
}

// KVScan scans a prefix, returning a tagged JSON array of [key, value]
// pairs with values as byte arrays.
func (h *HostContext) KVScan(ctx context.Context, prefix string, limit uint32) []byte {
	if err := h.checkPermission("kv_read", h.Permissions.KVRead); err != nil {
		return errBytes(err.Error())
	}
	if err := h.validateScanPrefix(prefix); err != nil {
		return errBytes(err.Error())
	}
	result, err := h.KV.Scan(ctx, kv.ScanRequest{Prefix: prefix, Limit: kv.BoundScanLimit(limit)})
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "prefix": prefix, "error": err}).
			Warn("wasm plugin kv_scan failed")
		return errBytes(fmt.Sprintf("kv_scan failed: %v", err))
	}
	entries := make([][2]any, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, [2]any{e.Key, e.Value})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return errBytes(fmt.Sprintf("kv_scan JSON encode failed: %v", err))
	}
	return okBytes(payload)
}

func (h *HostContext) validateScanPrefix(prefix string) error {
	if len(h.AllowedKVPrefixes) == 0 {
		return nil
	}
	for _, allowed := range h.AllowedKVPrefixes {
		if len(prefix) >= len(allowed) && prefix[:len(allowed)] == allowed {
			return nil
		}
	}
	msg := fmt.Sprintf("KV namespace violation: plugin '%s' scan prefix '%s' outside allowed prefixes %v",
		h.PluginName, prefix, h.AllowedKVPrefixes)
	h.Logger.Warn(msg)
	return fmt.Errorf("%s", msg)
}

// KVBatch applies a JSON array of simple set/delete operations. Every
// key is validated before any operation executes.
func (h *HostContext) KVBatch(ctx context.Context, opsJSON []byte) string {
	if err := h.checkPermission("kv_write", h.Permissions.KVWrite); err != nil {
		return errString(err.Error())
	}
	var ops []pluginapi.KVBatchOp
	if err := json.Unmarshal(opsJSON, &ops); err != nil {
		return errString(fmt.Sprintf("invalid batch JSON: %v", err))
	}
	if len(ops) == 0 {
		return okString("")
	}
	for _, op := range ops {
		operation := "batch-set"
		if op.Op == pluginapi.KVBatchOpDelete {
			operation = "batch-delete"
		}
		if err := h.validateKeyPrefix(op.Key, operation); err != nil {
			return errString(err.Error())
		}
	}
	for _, op := range ops {
		switch op.Op {
		case pluginapi.KVBatchOpSet:
			if _, err := h.KV.Write(ctx, kv.Set{Key: op.Key, Value: []byte(op.Value)}); err != nil {
				return errString(fmt.Sprintf("kv_batch set '%s' failed: %v", op.Key, err))
			}
		case pluginapi.KVBatchOpDelete:
			if _, err := h.KV.Write(ctx, kv.Delete{Key: op.Key}); err != nil {
				return errString(fmt.Sprintf("kv_batch delete '%s' failed: %v", op.Key, err))
			}
		default:
			return errString(fmt.Sprintf("unknown batch op '%s'", op.Op))
		}
	}
	return okString("")
}

// ---------------------------------------------------------------------------
// Blob store
// ---------------------------------------------------------------------------

// BlobHas reports whether a blob exists. Denied or invalid requests
// report false.
func (h *HostContext) BlobHas(ctx context.Context, hash string) bool {
	if h.checkPermission("blob_read", h.Permissions.BlobRead) != nil {
		return false
	}
	ref, err := blob.ParseRef(hash)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "hash": hash, "error": err}).
			Warn("wasm plugin blob_has: invalid hash")
		return false
	}
	exists, err := h.Blob.Has(ctx, ref)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "hash": hash, "error": err}).
			Warn("wasm plugin blob_has failed")
		return false
	}
	return exists
}

// BlobGet reads a blob, returning an option-tagged byte result.
func (h *HostContext) BlobGet(ctx context.Context, hash string) []byte {
	if err := h.checkPermission("blob_read", h.Permissions.BlobRead); err != nil {
		return optErrorBytes(err.Error())
	}
	ref, err := blob.ParseRef(hash)
	if err != nil {
		return optErrorBytes(fmt.Sprintf("invalid hash: %v", err))
	}
	data, err := h.Blob.GetBytes(ctx, ref)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "hash": hash, "error": err}).
			Warn("wasm plugin blob_get failed")
		return optErrorBytes(fmt.Sprintf("blob_get failed: %v", err))
	}
	if data == nil {
		return optNotFoundBytes()
	}
	return optFoundBytes(data)
}

// BlobPut stores data and returns the hex hash as a tagged string.
func (h *HostContext) BlobPut(ctx context.Context, data []byte) string {
	if err := h.checkPermission("blob_write", h.Permissions.BlobWrite); err != nil {
		return errString(err.Error())
	}
	ref, err := h.Blob.AddBytes(ctx, data)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{"plugin": h.PluginName, "data_len": len(data), "error": err}).
			Warn("wasm plugin blob_put failed")
		return errString(fmt.Sprintf("blob_put failed: %v", err))
	}
	return okString(string(ref))
}

// ---------------------------------------------------------------------------
// Identity, randomness, cluster, crypto
// ---------------------------------------------------------------------------

// RandomBytes generates up to MaxRandomBytesPerCall bytes from the OS
// CSPRNG. Denied requests return an empty slice.
func (h *HostContext) RandomBytes(count uint32) []byte {
	if h.checkPermission("randomness", h.Permissions.Randomness) != nil {
		return []byte{}
	}
	if count > pluginapi.MaxRandomBytesPerCall {
		count = pluginapi.MaxRandomBytesPerCall
	}
	buf := make([]byte, count)
	if _, err := rand.Read(buf); err != nil {
		h.Logger.WithError(err).Warn("random source failed, returning zeroed bytes")
	}
	return buf
}

// IsLeader reports whether this node currently leads the cluster.
func (h *HostContext) IsLeader(ctx context.Context) bool {
	if h.checkPermission("cluster_info", h.Permissions.ClusterInfo) != nil {
		return false
	}
	leader, known, err := h.Cluster.Leader(ctx)
	if err != nil || !known {
		return false
	}
	return leader == h.NodeID
}

// LeaderID returns the current leader's node ID, or 0 when unknown.
func (h *HostContext) LeaderID(ctx context.Context) uint64 {
	if h.checkPermission("cluster_info", h.Permissions.ClusterInfo) != nil {
		return 0
	}
	leader, known, err := h.Cluster.Leader(ctx)
	if err != nil || !known {
		return 0
	}
	return leader
}

// Sign signs data with the node key. Returns the 64-byte signature, or
// empty without a key or permission.
func (h *HostContext) Sign(data []byte) []byte {
	if h.checkPermission("signing", h.Permissions.Signing) != nil {
		return []byte{}
	}
	if h.SecretKey == nil {
		h.Logger.WithField("plugin", h.PluginName).Warn("wasm plugin sign: no secret key configured")
		return []byte{}
	}
	return ed25519.Sign(h.SecretKey, data)
}

// Verify checks an Ed25519 signature against a hex public key.
func (h *HostContext) Verify(publicKeyHex string, data, sig []byte) bool {
	keyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(keyBytes), data, sig)
}

// PublicKeyHex returns the node's hex public key, or empty without a
// key or permission.
func (h *HostContext) PublicKeyHex() string {
	if h.checkPermission("signing", h.Permissions.Signing) != nil {
		return ""
	}
	if h.SecretKey == nil {
		h.Logger.WithField("plugin", h.PluginName).Warn("wasm plugin public_key_hex: no secret key configured")
		return ""
	}
	pub := h.SecretKey.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// ---------------------------------------------------------------------------
// Timers and hook subscriptions (deferred command queues)
// ---------------------------------------------------------------------------

// ScheduleTimer enqueues a timer request for the handler to apply after
// the guest call returns.
func (h *HostContext) ScheduleTimer(configJSON []byte) string {
	if err := h.checkPermission("timers", h.Permissions.Timers); err != nil {
		return errString(err.Error())
	}
	var config pluginapi.TimerConfig
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return errString(fmt.Sprintf("invalid timer config: %v", err))
	}
	if config.Name == "" {
		return errString("timer name must not be empty")
	}
	if len(config.Name) > pluginapi.MaxTimerNameLength {
		return errString(fmt.Sprintf("timer name too long (max %d bytes)", pluginapi.MaxTimerNameLength))
	}
	h.schedulerCommands.push(SchedulerCommand{Schedule: &config})
	return okString("")
}

// CancelTimer enqueues a timer cancellation.
func (h *HostContext) CancelTimer(name string) string {
	if err := h.checkPermission("timers", h.Permissions.Timers); err != nil {
		return errString(err.Error())
	}
	h.schedulerCommands.push(SchedulerCommand{CancelName: name})
	return okString("")
}

// HookSubscribe enqueues a hook subscription request.
func (h *HostContext) HookSubscribe(pattern string) string {
	if err := h.checkPermission("hooks", h.Permissions.Hooks); err != nil {
		return errString(err.Error())
	}
	if pattern == "" {
		return errString("hook pattern must not be empty")
	}
	if len(pattern) > pluginapi.MaxHookPatternLength {
		return errString(fmt.Sprintf("hook pattern too long (max %d bytes)", pluginapi.MaxHookPatternLength))
	}
	h.subscriptionCommands.push(SubscriptionCommand{Pattern: pattern})
	return okString("")
}

// HookUnsubscribe enqueues a hook unsubscription.
func (h *HostContext) HookUnsubscribe(pattern string) string {
	if err := h.checkPermission("hooks", h.Permissions.Hooks); err != nil {
		return errString(err.Error())
	}
	h.subscriptionCommands.push(SubscriptionCommand{Pattern: pattern, Unsubscribe: true})
	return okString("")
}

// ---------------------------------------------------------------------------
// Hook management
// ---------------------------------------------------------------------------

// HookList returns the configured hook handlers as tagged JSON.
func (h *HostContext) HookList() string {
	if err := h.checkPermission("hooks", h.Permissions.Hooks); err != nil {
		return errString(err.Error())
	}
	isEnabled := h.HookService != nil && h.HookService.IsEnabled()
	handlers := make([]map[string]any, 0, len(h.HooksConfig.Handlers))
	for _, cfg := range h.HooksConfig.Handlers {
		handlers = append(handlers, map[string]any{
			"name":           cfg.Name,
			"pattern":        cfg.Pattern,
			"handler_type":   cfg.HandlerType,
			"execution_mode": string(cfg.ExecutionMode),
			"enabled":        cfg.Enabled,
			"timeout_ms":     cfg.TimeoutMS,
			"retry_count":    cfg.RetryCount,
		})
	}
	payload, err := json.Marshal(map[string]any{"is_enabled": isEnabled, "handlers": handlers})
	if err != nil {
		return errString(fmt.Sprintf("serialize failed: %v", err))
	}
	return okString(string(payload))
}

// HookMetrics returns dispatch metrics as tagged JSON, optionally
// filtered to one handler.
func (h *HostContext) HookMetrics(handlerName string) string {
	if err := h.checkPermission("hooks", h.Permissions.Hooks); err != nil {
		return errString(err.Error())
	}
	if h.HookService == nil {
		payload, _ := json.Marshal(map[string]any{
			"is_enabled":             false,
			"total_events_processed": 0,
			"handlers":               []any{},
		})
		return okString(string(payload))
	}

	snap := h.HookService.Metrics()
	handlers := make([]map[string]any, 0, len(snap.Handlers))
	for name, m := range snap.Handlers {
		if handlerName != "" && name != handlerName {
			continue
		}
		handlers = append(handlers, map[string]any{
			"name":            name,
			"success_count":   m.Successes,
			"failure_count":   m.Failures,
			"dropped_count":   m.Dropped,
			"jobs_submitted":  m.JobsSubmitted,
			"avg_duration_us": m.AvgLatencyUS,
		})
	}
	payload, err := json.Marshal(map[string]any{
		"is_enabled":             h.HookService.IsEnabled(),
		"total_events_processed": snap.TotalEventsProcessed(),
		"handlers":               handlers,
	})
	if err != nil {
		return errString(fmt.Sprintf("serialize failed: %v", err))
	}
	return okString(string(payload))
}

type hookTriggerResult struct {
	IsSuccess       bool       `json:"is_success"`
	DispatchedCount int        `json:"dispatched_count"`
	Error           *string    `json:"error"`
	HandlerFailures [][]string `json:"handler_failures"`
}

// HookTrigger manually dispatches a synthetic hook event.
// Input: {"event_type": "...", "payload": {...}}.
func (h *HostContext) HookTrigger(ctx context.Context, requestJSON []byte) string {
	if err := h.checkPermission("hooks", h.Permissions.Hooks); err != nil {
		return errString(err.Error())
	}
	var request struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(requestJSON, &request); err != nil {
		return errString(fmt.Sprintf("invalid JSON: %v", err))
	}
	if request.EventType == "" {
		return errString("missing 'event_type'")
	}

	fail := func(message string) string {
		payload, _ := json.Marshal(hookTriggerResult{
			Error:           &message,
			HandlerFailures: [][]string{},
		})
		return okString(string(payload))
	}

	eventType, err := hooks.ParseEventType(request.EventType)
	if err != nil {
		return fail(err.Error())
	}
	if h.HookService == nil || !h.HookService.IsEnabled() {
		return fail("hooks not enabled")
	}

	event := hooks.NewEvent(eventType, h.NodeID, request.Payload)
	result := h.HookService.Dispatch(ctx, event)

	failures := make([][]string, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, []string{f.Handler, f.Error})
	}
	payload, err := json.Marshal(hookTriggerResult{
		IsSuccess:       len(failures) == 0,
		DispatchedCount: result.HandlerCount,
		HandlerFailures: failures,
	})
	if err != nil {
		return errString(fmt.Sprintf("serialize failed: %v", err))
	}
	return okString(string(payload))
}

// ---------------------------------------------------------------------------
// SQL and service dispatch
// ---------------------------------------------------------------------------

// SQLQuery executes a read-only SQL query and returns the rowset as
// tagged JSON.
func (h *HostContext) SQLQuery(ctx context.Context, requestJSON []byte) string {
	if err := h.checkPermission("sql_query", h.Permissions.SQLQuery); err != nil {
		return errString(err.Error())
	}
	if h.SQL == nil {
		return errString("SQL queries are not available on this node")
	}
	var query sqlexec.Query
	if err := json.Unmarshal(requestJSON, &query); err != nil {
		return errString(fmt.Sprintf("invalid JSON: %v", err))
	}
	result, err := h.SQL.Query(ctx, query)
	if err != nil {
		return errString(fmt.Sprintf("sql_query failed: %v", err))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return errString(fmt.Sprintf("serialize failed: %v", err))
	}
	return okString(string(payload))
}

// ServiceExecute forwards a request to a registered domain executor.
// Input: {"service": "...", ...}.
func (h *HostContext) ServiceExecute(ctx context.Context, requestJSON []byte) string {
	var request struct {
		Service string `json:"service"`
	}
	if err := json.Unmarshal(requestJSON, &request); err != nil {
		return errString(fmt.Sprintf("invalid JSON: %v", err))
	}
	if request.Service == "" {
		return errString("missing 'service' field")
	}
	var executor rpc.ServiceExecutor
	for _, s := range h.Services {
		if s.ServiceName() == request.Service {
			executor = s
			break
		}
	}
	if executor == nil {
		return errString(fmt.Sprintf("unknown service: %s", request.Service))
	}
	response, err := executor.Execute(ctx, requestJSON)
	if err != nil {
		return errString(err.Error())
	}
	return okString(string(response))
}
