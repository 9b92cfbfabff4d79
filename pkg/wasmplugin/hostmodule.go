package wasmplugin

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// readGuest copies a (ptr, len) byte range out of guest memory.
func readGuest(mod api.Module, ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// writeGuest copies data into a guest buffer obtained from plugin_alloc
// and returns the packed (ptr, len) result. Empty data packs to 0.
func writeGuest(ctx context.Context, mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	alloc := mod.ExportedFunction(ExportAlloc)
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if ptr == 0 || !mod.Memory().Write(ptr, data) {
		return 0
	}
	return packResult(ptr, uint32(len(data)))
}

// registerHostModule instantiates the "aspen" host module, closing
// every function over the plugin's host context.
func registerHostModule(ctx context.Context, runtime wazero.Runtime, host *HostContext) error {
	builder := runtime.NewHostModuleBuilder(HostModuleName)

	// Logging
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			host.LogInfo(string(readGuest(mod, ptr, length)))
		}).Export("log_info")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			host.LogDebug(string(readGuest(mod, ptr, length)))
		}).Export("log_debug")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			host.LogWarn(string(readGuest(mod, ptr, length)))
		}).Export("log_warn")

	// Clocks and identity
	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) uint64 { return host.NowMS() }).Export("now_ms")
	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) uint64 { return host.HLCNow() }).Export("hlc_now")
	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) uint64 { return host.NodeID }).Export("node_id")

	// KV store
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
			key := string(readGuest(mod, keyPtr, keyLen))
			return writeGuest(ctx, mod, host.KVGet(ctx, key))
		}).Export("kv_get")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint64 {
			key := string(readGuest(mod, keyPtr, keyLen))
			value := readGuest(mod, valPtr, valLen)
			return writeGuest(ctx, mod, []byte(host.KVPut(ctx, key, value)))
		}).Export("kv_put")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
			key := string(readGuest(mod, keyPtr, keyLen))
			return writeGuest(ctx, mod, []byte(host.KVDelete(ctx, key)))
		}).Export("kv_delete")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, prefixPtr, prefixLen, limit uint32) uint64 {
			prefix := string(readGuest(mod, prefixPtr, prefixLen))
			return writeGuest(ctx, mod, host.KVScan(ctx, prefix, limit))
		}).Export("kv_scan")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen, expPtr, expLen, newPtr, newLen uint32) uint64 {
			key := string(readGuest(mod, keyPtr, keyLen))
			expected := readGuest(mod, expPtr, expLen)
			newValue := readGuest(mod, newPtr, newLen)
			return writeGuest(ctx, mod, []byte(host.KVCas(ctx, key, expected, newValue)))
		}).Export("kv_cas")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.KVBatch(ctx, readGuest(mod, ptr, length))))
		}).Export("kv_batch")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.KVExecute(ctx, readGuest(mod, ptr, length))))
		}).Export("kv_execute")

	// Blob store
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint32 {
			if host.BlobHas(ctx, string(readGuest(mod, ptr, length))) {
				return 1
			}
			return 0
		}).Export("blob_has")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, host.BlobGet(ctx, string(readGuest(mod, ptr, length))))
		}).Export("blob_get")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.BlobPut(ctx, readGuest(mod, ptr, length))))
		}).Export("blob_put")

	// Randomness and cluster info
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, count uint32) uint64 {
			return writeGuest(ctx, mod, host.RandomBytes(count))
		}).Export("random_bytes")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint32 {
			if host.IsLeader(ctx) {
				return 1
			}
			return 0
		}).Export("is_leader")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint64 { return host.LeaderID(ctx) }).Export("leader_id")

	// Crypto
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, host.Sign(readGuest(mod, ptr, length)))
		}).Export("sign")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, keyPtr, keyLen, dataPtr, dataLen, sigPtr, sigLen uint32) uint32 {
			key := string(readGuest(mod, keyPtr, keyLen))
			data := readGuest(mod, dataPtr, dataLen)
			sig := readGuest(mod, sigPtr, sigLen)
			if host.Verify(key, data, sig) {
				return 1
			}
			return 0
		}).Export("verify")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) uint64 {
			return writeGuest(ctx, mod, []byte(host.PublicKeyHex()))
		}).Export("public_key_hex")

	// Timers and hook subscriptions
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.ScheduleTimer(readGuest(mod, ptr, length))))
		}).Export("schedule_timer")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.CancelTimer(string(readGuest(mod, ptr, length)))))
		}).Export("cancel_timer")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.HookSubscribe(string(readGuest(mod, ptr, length)))))
		}).Export("hook_subscribe")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.HookUnsubscribe(string(readGuest(mod, ptr, length)))))
		}).Export("hook_unsubscribe")

	// Hook management
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) uint64 {
			return writeGuest(ctx, mod, []byte(host.HookList()))
		}).Export("hook_list")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.HookMetrics(string(readGuest(mod, ptr, length)))))
		}).Export("hook_metrics")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.HookTrigger(ctx, readGuest(mod, ptr, length))))
		}).Export("hook_trigger")

	// SQL and services
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.SQLQuery(ctx, readGuest(mod, ptr, length))))
		}).Export("sql_query")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return writeGuest(ctx, mod, []byte(host.ServiceExecute(ctx, readGuest(mod, ptr, length))))
		}).Export("service_execute")

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}
