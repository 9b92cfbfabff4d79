package wasmplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

// Loader publishes plugin directories into the cluster: the binary
// goes to the blob store, the manifest to the KV store under the
// manifest prefix. The registry picks both up from there.
type Loader struct {
	kv     kv.Store
	blob   blob.Store
	logger *logrus.Logger
}

// NewLoader creates a loader writing to the given stores.
func NewLoader(kvStore kv.Store, blobStore blob.Store, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{kv: kvStore, blob: blobStore, logger: logger}
}

// PublishDir installs one plugin directory containing plugin.yaml and
// the wasm binary it names. Returns the stored manifest.
func (l *Loader) PublishDir(ctx context.Context, dir string) (*pluginapi.Manifest, error) {
	fm, err := pluginapi.LoadManifestFromDir(dir)
	if err != nil {
		return nil, err
	}

	wasmPath := fm.WASMFile
	if !filepath.IsAbs(wasmPath) {
		wasmPath = filepath.Join(dir, wasmPath)
	}
	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin binary: %w", err)
	}
	if len(wasm) > pluginapi.MaxWASMSize {
		return nil, fmt.Errorf("plugin binary %s exceeds %d bytes", wasmPath, pluginapi.MaxWASMSize)
	}

	ref, err := l.blob.AddBytes(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to store plugin binary: %w", err)
	}

	manifest := fm.Manifest
	manifest.WASMHash = ref.String()
	if errs := manifest.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("manifest %s invalid: %v", dir, errs)
	}
	if err := l.putManifest(ctx, &manifest); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"plugin":   manifest.Name,
		"version":  manifest.Version,
		"hash":     manifest.WASMHash,
		"size":     len(wasm),
		"dir":      dir,
		"priority": manifest.ClampedPriority(),
	}).Info("plugin published")
	return &manifest, nil
}

// PublishAll installs every subdirectory of root that carries a
// plugin.yaml. Directories that fail to publish are logged and skipped.
func (l *Loader) PublishAll(ctx context.Context, root string) ([]*pluginapi.Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin root: %w", err)
	}

	var manifests []*pluginapi.Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "plugin.yaml")); err != nil {
			continue
		}
		manifest, err := l.PublishDir(ctx, dir)
		if err != nil {
			l.logger.WithFields(logrus.Fields{"dir": dir, "error": err}).Warn("skipping plugin directory")
			continue
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

// Remove deletes a plugin's manifest from the KV store. The binary
// stays in the blob store; content-addressed blobs are shared.
func (l *Loader) Remove(ctx context.Context, pluginName string) error {
	_, err := l.kv.Write(ctx, kv.Delete{Key: pluginapi.ManifestKVPrefix + pluginName})
	if err != nil {
		return fmt.Errorf("failed to remove manifest for '%s': %w", pluginName, err)
	}
	return nil
}

func (l *Loader) putManifest(ctx context.Context, manifest *pluginapi.Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := pluginapi.ManifestKVPrefix + manifest.Name
	if _, err := l.kv.Write(ctx, kv.Set{Key: key, Value: data}); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}
