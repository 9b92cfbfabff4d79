package wasmplugin

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestHost(perms pluginapi.Permissions) *HostContext {
	return NewHostContext("test", kv.NewMemoryStore(), blob.NewMemoryStore(), cluster.NewStatic(1), 1, quietLogger()).
		WithPermissions(perms)
}

func TestKVGetDeniedWithoutPermission(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{})
	out := h.KVGet(context.Background(), "__plugin:test:k")
	require.NotEmpty(t, out)
	assert.Equal(t, byte(optError), out[0])
	assert.Contains(t, string(out[1:]), "permission denied")
	assert.Contains(t, string(out[1:]), "kv_read")
}

func TestKVPutGetRoundTrip(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	res := h.KVPut(ctx, "__plugin:test:greeting", []byte("hello"))
	assert.Equal(t, okString(""), res)

	out := h.KVGet(ctx, "__plugin:test:greeting")
	require.NotEmpty(t, out)
	assert.Equal(t, byte(optFound), out[0])
	assert.Equal(t, "hello", string(out[1:]))
}

func TestKVGetNotFound(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true})
	out := h.KVGet(context.Background(), "__plugin:test:missing")
	assert.Equal(t, []byte{optNotFound}, out)
}

func TestKVNamespaceViolation(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	res := h.KVPut(ctx, "other:key", []byte("v"))
	require.NotEmpty(t, res)
	assert.Equal(t, byte(0x01), res[0])
	assert.Contains(t, res, "namespace violation")

	out := h.KVGet(ctx, "someone-elses-key")
	assert.Equal(t, byte(optError), out[0])
}

func TestKVPutRejectsInvalidUTF8(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVWrite: true})
	res := h.KVPut(context.Background(), "__plugin:test:k", []byte{0xff, 0xfe})
	assert.Equal(t, byte(0x01), res[0])
	assert.Contains(t, res, "UTF-8")
}

func TestKVDelete(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	h.KVPut(ctx, "__plugin:test:k", []byte("v"))
	assert.Equal(t, okString(""), h.KVDelete(ctx, "__plugin:test:k"))
	assert.Equal(t, []byte{optNotFound}, h.KVGet(ctx, "__plugin:test:k"))
}

func TestKVCas(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	// Empty expected value creates the key if absent.
	assert.Equal(t, okString(""), h.KVCas(ctx, "__plugin:test:counter", nil, []byte("1")))

	assert.Equal(t, okString(""), h.KVCas(ctx, "__plugin:test:counter", []byte("1"), []byte("2")))

	res := h.KVCas(ctx, "__plugin:test:counter", []byte("1"), []byte("3"))
	assert.Equal(t, byte(0x01), res[0])
}

func TestKVScan(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	h.KVPut(ctx, "__plugin:test:a", []byte("1"))
	h.KVPut(ctx, "__plugin:test:b", []byte("2"))

	out := h.KVScan(ctx, "__plugin:test:", 10)
	require.NotEmpty(t, out)
	require.Equal(t, byte(0x00), out[0])

	var entries [][2]json.RawMessage
	require.NoError(t, json.Unmarshal(out[1:], &entries))
	assert.Len(t, entries, 2)

	// Scans outside the namespace are rejected.
	out = h.KVScan(ctx, "other:", 10)
	assert.Equal(t, byte(0x01), out[0])
	assert.Contains(t, string(out[1:]), "namespace violation")
}

func TestKVBatchValidatesAllKeysFirst(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()

	ops, _ := json.Marshal([]pluginapi.KVBatchOp{
		{Op: pluginapi.KVBatchOpSet, Key: "__plugin:test:a", Value: "1"},
		{Op: pluginapi.KVBatchOpSet, Key: "outside", Value: "2"},
	})
	res := h.KVBatch(ctx, ops)
	assert.Equal(t, byte(0x01), res[0])

	// The valid first op must not have been applied.
	assert.Equal(t, []byte{optNotFound}, h.KVGet(ctx, "__plugin:test:a"))
}

func TestKVBatchAppliesSetAndDelete(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{KVRead: true, KVWrite: true})
	ctx := context.Background()
	h.KVPut(ctx, "__plugin:test:old", []byte("x"))

	ops, _ := json.Marshal([]pluginapi.KVBatchOp{
		{Op: pluginapi.KVBatchOpSet, Key: "__plugin:test:new", Value: "y"},
		{Op: pluginapi.KVBatchOpDelete, Key: "__plugin:test:old"},
	})
	assert.Equal(t, okString(""), h.KVBatch(ctx, ops))
	assert.Equal(t, byte(optFound), h.KVGet(ctx, "__plugin:test:new")[0])
	assert.Equal(t, []byte{optNotFound}, h.KVGet(ctx, "__plugin:test:old"))
}

func TestBlobRoundTrip(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{BlobRead: true, BlobWrite: true})
	ctx := context.Background()

	res := h.BlobPut(ctx, []byte("payload"))
	require.Equal(t, byte(0x00), res[0])
	hash := res[1:]

	assert.True(t, h.BlobHas(ctx, hash))

	out := h.BlobGet(ctx, hash)
	require.Equal(t, byte(optFound), out[0])
	assert.Equal(t, "payload", string(out[1:]))
}

func TestBlobInvalidHash(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{BlobRead: true})
	assert.False(t, h.BlobHas(context.Background(), "not-hex"))
	out := h.BlobGet(context.Background(), "not-hex")
	assert.Equal(t, byte(optError), out[0])
}

func TestRandomBytesClampedAndGated(t *testing.T) {
	denied := newTestHost(pluginapi.Permissions{})
	assert.Empty(t, denied.RandomBytes(16))

	granted := newTestHost(pluginapi.Permissions{Randomness: true})
	assert.Len(t, granted.RandomBytes(16), 16)
	assert.Len(t, granted.RandomBytes(pluginapi.MaxRandomBytesPerCall+1000), pluginapi.MaxRandomBytesPerCall)
}

func TestClusterInfo(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{ClusterInfo: true})
	ctx := context.Background()
	assert.True(t, h.IsLeader(ctx))
	assert.Equal(t, uint64(1), h.LeaderID(ctx))

	denied := newTestHost(pluginapi.Permissions{})
	assert.False(t, denied.IsLeader(ctx))
	assert.Equal(t, uint64(0), denied.LeaderID(ctx))
}

func TestSignVerifyPublicKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	h := newTestHost(pluginapi.Permissions{Signing: true}).WithSecretKey(priv)
	data := []byte("message")
	sig := h.Sign(data)
	require.Len(t, sig, ed25519.SignatureSize)

	pubHex := h.PublicKeyHex()
	require.NotEmpty(t, pubHex)
	assert.True(t, h.Verify(pubHex, data, sig))
	assert.False(t, h.Verify(pubHex, []byte("tampered"), sig))
}

func TestSignWithoutKey(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Signing: true})
	assert.Empty(t, h.Sign([]byte("x")))
	assert.Empty(t, h.PublicKeyHex())
}

func TestScheduleTimerEnqueuesCommand(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Timers: true})

	config, _ := json.Marshal(pluginapi.TimerConfig{Name: "tick", IntervalMS: 5000, Repeating: true})
	assert.Equal(t, okString(""), h.ScheduleTimer(config))
	assert.Equal(t, okString(""), h.CancelTimer("tick"))

	commands := h.DrainSchedulerCommands()
	require.Len(t, commands, 2)
	require.NotNil(t, commands[0].Schedule)
	assert.Equal(t, "tick", commands[0].Schedule.Name)
	assert.Equal(t, "tick", commands[1].CancelName)

	assert.Empty(t, h.DrainSchedulerCommands())
}

func TestScheduleTimerValidation(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Timers: true})

	res := h.ScheduleTimer([]byte(`{"name":"","interval_ms":5000}`))
	assert.Equal(t, byte(0x01), res[0])

	long := make([]byte, pluginapi.MaxTimerNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	config, _ := json.Marshal(pluginapi.TimerConfig{Name: string(long), IntervalMS: 5000})
	res = h.ScheduleTimer(config)
	assert.Equal(t, byte(0x01), res[0])

	denied := newTestHost(pluginapi.Permissions{})
	res = denied.ScheduleTimer([]byte(`{"name":"t","interval_ms":5000}`))
	assert.Contains(t, res, "permission denied")
}

func TestHookSubscribeEnqueuesCommand(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Hooks: true})

	assert.Equal(t, okString(""), h.HookSubscribe("hooks.kv.*"))
	assert.Equal(t, okString(""), h.HookUnsubscribe("hooks.kv.*"))

	commands := h.DrainSubscriptionCommands()
	require.Len(t, commands, 2)
	assert.Equal(t, "hooks.kv.*", commands[0].Pattern)
	assert.False(t, commands[0].Unsubscribe)
	assert.True(t, commands[1].Unsubscribe)

	res := h.HookSubscribe("")
	assert.Equal(t, byte(0x01), res[0])
}

func TestHookTriggerWithoutService(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Hooks: true})

	res := h.HookTrigger(context.Background(), []byte(`{"event_type":"write_committed","payload":{}}`))
	require.Equal(t, byte(0x00), res[0])

	var result struct {
		IsSuccess bool    `json:"is_success"`
		Error     *string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(res[1:]), &result))
	assert.False(t, result.IsSuccess)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "hooks not enabled")
}

func TestHookTriggerRejectsBadInput(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{Hooks: true})

	res := h.HookTrigger(context.Background(), []byte(`{"payload":{}}`))
	assert.Equal(t, byte(0x01), res[0])
	assert.Contains(t, res, "event_type")
}

func TestSQLQueryUnavailable(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{SQLQuery: true})
	res := h.SQLQuery(context.Background(), []byte(`{"query":"SELECT 1"}`))
	assert.Equal(t, byte(0x01), res[0])
	assert.Contains(t, res, "not available")

	denied := newTestHost(pluginapi.Permissions{})
	res = denied.SQLQuery(context.Background(), []byte(`{"query":"SELECT 1"}`))
	assert.Contains(t, res, "permission denied")
}

type echoExecutor struct{}

func (echoExecutor) ServiceName() string { return "echo" }

func (echoExecutor) Execute(_ context.Context, request []byte) ([]byte, error) {
	return request, nil
}

func TestServiceExecute(t *testing.T) {
	h := newTestHost(pluginapi.Permissions{})
	h.Services = append(h.Services, echoExecutor{})

	res := h.ServiceExecute(context.Background(), []byte(`{"service":"echo","value":1}`))
	require.Equal(t, byte(0x00), res[0])
	assert.JSONEq(t, `{"service":"echo","value":1}`, res[1:])

	res = h.ServiceExecute(context.Background(), []byte(`{"service":"nope"}`))
	assert.Equal(t, byte(0x01), res[0])
	assert.Contains(t, res, "unknown service")

	res = h.ServiceExecute(context.Background(), []byte(`{}`))
	assert.Contains(t, res, "missing 'service'")
}

func TestDefaultKVPrefixApplied(t *testing.T) {
	h := NewHostContext("myplugin", kv.NewMemoryStore(), blob.NewMemoryStore(), cluster.NewStatic(1), 1, quietLogger())
	assert.Equal(t, []string{"__plugin:myplugin:"}, h.AllowedKVPrefixes)

	h.WithKVPrefixes(nil)
	assert.Equal(t, []string{"__plugin:myplugin:"}, h.AllowedKVPrefixes)

	h.WithKVPrefixes([]string{"app:"})
	assert.Equal(t, []string{"app:"}, h.AllowedKVPrefixes)
}
