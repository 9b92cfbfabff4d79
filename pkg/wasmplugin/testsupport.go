package wasmplugin

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

// LoadHandlerFromBytes instantiates a plugin directly from a manifest
// and its binary, bypassing the KV manifest scan and blob fetch. The
// manifest's wasm_hash is filled in from the bytes when empty. Intended
// for tests and standalone tooling; production loads go through
// LiveRegistry.
func LoadHandlerFromBytes(ctx context.Context, manifest *pluginapi.Manifest, wasm []byte, cfg RegistryConfig) (*PluginHandler, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if manifest.WASMHash == "" {
		manifest.WASMHash = string(blob.RefOf(wasm))
	}
	if errs := manifest.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid manifest: %v", errs)
	}
	if len(wasm) > pluginapi.MaxWASMSize {
		return nil, fmt.Errorf("plugin binary exceeds %d bytes", pluginapi.MaxWASMSize)
	}

	host := NewHostContext(manifest.Name, cfg.KV, cfg.Blob, cfg.Cluster, cfg.NodeID, cfg.Logger).
		WithPermissions(manifest.Permissions).
		WithKVPrefixes(manifest.KVPrefixes).
		WithSecretKey(cfg.SecretKey).
		WithClock(cfg.Clock).
		WithHooks(cfg.HookService, cfg.HooksConfig).
		WithSQL(cfg.SQL).
		WithServices(cfg.Services).
		WithMetrics(cfg.Metrics)

	sandbox, err := NewSandbox(ctx, SandboxConfig{
		PluginName:  manifest.Name,
		WASM:        wasm,
		Host:        host,
		MemoryLimit: manifest.EffectiveMemoryLimit(),
	})
	if err != nil {
		return nil, err
	}

	handler := NewPluginHandler(manifest, sandbox, host, cfg.Logger, cfg.Metrics)

	info, err := handler.CallInfo(ctx)
	if err != nil {
		_ = handler.CallShutdown(ctx)
		return nil, err
	}
	if info.Name != manifest.Name {
		_ = handler.CallShutdown(ctx)
		return nil, fmt.Errorf("plugin identity mismatch: manifest says '%s', binary says '%s'", manifest.Name, info.Name)
	}

	if err := handler.CallInit(ctx); err != nil {
		_ = handler.CallShutdown(ctx)
		return nil, err
	}
	return handler, nil
}
