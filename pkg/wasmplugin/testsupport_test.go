package wasmplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

func TestLoadHandlerFromBytesFillsHash(t *testing.T) {
	manifest := &pluginapi.Manifest{
		Name:    "direct",
		Version: "1.0.0",
		Handles: []string{"Ping"},
		Enabled: true,
	}
	wasm := []byte("not a real wasm binary")

	_, err := LoadHandlerFromBytes(context.Background(), manifest, wasm, RegistryConfig{
		KV:      kv.NewMemoryStore(),
		Blob:    blob.NewMemoryStore(),
		Cluster: cluster.NewStatic(1),
		NodeID:  1,
		Logger:  quietLogger(),
	})
	// The bytes are not a valid module, but the hash gate was cleared
	// before instantiation.
	require.Error(t, err)
	assert.Equal(t, string(blob.RefOf(wasm)), manifest.WASMHash)
}

func TestLoadHandlerFromBytesRejectsInvalidManifest(t *testing.T) {
	manifest := &pluginapi.Manifest{Name: "bad", Version: "latest"}
	_, err := LoadHandlerFromBytes(context.Background(), manifest, []byte("x"), RegistryConfig{
		KV:      kv.NewMemoryStore(),
		Blob:    blob.NewMemoryStore(),
		Cluster: cluster.NewStatic(1),
		NodeID:  1,
		Logger:  quietLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid manifest")
}
