package wasmplugin

// HostModuleName is the import namespace guests use for host functions.
const HostModuleName = "aspen"

// Guest exports.
const (
	ExportAlloc       = "plugin_alloc"
	ExportFree        = "plugin_free"
	ExportInfo        = "plugin_info"
	ExportInit        = "plugin_init"
	ExportShutdown    = "plugin_shutdown"
	ExportHealth      = "plugin_health"
	ExportHandle      = "handle_request"
	ExportOnTimer     = "plugin_on_timer"
	ExportOnHookEvent = "plugin_on_hook_event"
)

// String results carry a one-byte tag: 0x00 prefix for success
// (optionally followed by a value), 0x01 prefix followed by an error
// message.
func okString(value string) string {
	return "\x00" + value
}

func errString(message string) string {
	return "\x01" + message
}

// Optional byte results (kv_get, blob_get) use a tag byte: 0x00+data
// found, 0x01 not found, 0x02+message error.
const (
	optFound    = 0x00
	optNotFound = 0x01
	optError    = 0x02
)

func optFoundBytes(data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = optFound
	copy(out[1:], data)
	return out
}

func optNotFoundBytes() []byte {
	return []byte{optNotFound}
}

func optErrorBytes(message string) []byte {
	out := make([]byte, 1+len(message))
	out[0] = optError
	copy(out[1:], message)
	return out
}

// Byte results (kv_scan) use 0x00+payload for success, 0x01+message
// for error.
func okBytes(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	copy(out[1:], payload)
	return out
}

func errBytes(message string) []byte {
	out := make([]byte, 1+len(message))
	out[0] = 0x01
	copy(out[1:], message)
	return out
}

// packResult packs a guest pointer and length into the u64 return
// convention; unpackResult splits it.
func packResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackResult(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
