package pluginapi

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes a plugin as stored in the cluster KV store (JSON)
// or in a plugin.yaml next to a local WASM file.
type Manifest struct {
	// Name is the unique plugin identifier.
	Name string `json:"name" yaml:"name"`
	// Version is the plugin's semantic version.
	Version string `json:"version" yaml:"version"`
	// WASMHash is the hex BLAKE3 ref of the plugin binary in blob storage.
	WASMHash string `json:"wasm_hash" yaml:"wasm_hash"`
	// Handles lists the RPC request variants this plugin serves.
	Handles []string `json:"handles" yaml:"handles"`
	// Priority orders handler dispatch; clamped to [MinPriority, MaxPriority].
	Priority uint32 `json:"priority" yaml:"priority"`
	// MemoryLimit is the guest heap size in bytes; 0 means DefaultMemoryLimit.
	MemoryLimit uint64 `json:"memory_limit,omitempty" yaml:"memory_limit"`
	// Enabled gates loading; disabled manifests are skipped silently.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// AppID, when set, registers an application capability for the plugin.
	AppID string `json:"app_id,omitempty" yaml:"app_id"`
	// ExecutionTimeoutSecs bounds a single guest call; 0 means the default.
	ExecutionTimeoutSecs uint64 `json:"execution_timeout_secs,omitempty" yaml:"execution_timeout_secs"`
	// KVPrefixes is the plugin's allowed KV namespace. Empty grants the
	// default __plugin:<name>: prefix.
	KVPrefixes []string `json:"kv_prefixes,omitempty" yaml:"kv_prefixes"`
	// Permissions is the granted capability set.
	Permissions Permissions `json:"permissions" yaml:"permissions"`
	// Signature is the hex Ed25519 signature over the canonical manifest.
	Signature string `json:"signature,omitempty" yaml:"signature"`
}

// ValidationError reports one invalid manifest field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate performs field validation and returns every problem found.
func (m *Manifest) Validate() []ValidationError {
	var errs []ValidationError

	if m.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "plugin name is required"})
	}
	if m.Version == "" {
		errs = append(errs, ValidationError{Field: "version", Message: "version is required"})
	} else if !semverRegex.MatchString(m.Version) {
		errs = append(errs, ValidationError{Field: "version", Message: fmt.Sprintf("invalid semver format: %s", m.Version)})
	}
	if m.WASMHash == "" {
		errs = append(errs, ValidationError{Field: "wasm_hash", Message: "wasm_hash is required"})
	}
	if len(m.Handles) == 0 {
		errs = append(errs, ValidationError{Field: "handles", Message: "at least one handled request variant is required"})
	}
	if m.MemoryLimit > MaxMemoryLimit {
		errs = append(errs, ValidationError{Field: "memory_limit", Message: fmt.Sprintf("exceeds maximum of %d bytes", uint64(MaxMemoryLimit))})
	}
	return errs
}

// ClampedPriority bounds the dispatch priority.
func (m *Manifest) ClampedPriority() uint32 {
	if m.Priority > MaxPriority {
		return MaxPriority
	}
	return m.Priority
}

// EffectiveMemoryLimit resolves the guest heap size against defaults and
// the host cap.
func (m *Manifest) EffectiveMemoryLimit() uint64 {
	limit := m.MemoryLimit
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	if limit > MaxMemoryLimit {
		limit = MaxMemoryLimit
	}
	return limit
}

// EffectiveExecutionTimeout resolves the per-call timeout against
// defaults and the host cap.
func (m *Manifest) EffectiveExecutionTimeout() time.Duration {
	secs := m.ExecutionTimeoutSecs
	if secs == 0 {
		secs = DefaultExecutionTimeoutSecs
	}
	if secs > MaxExecutionTimeoutSecs {
		secs = MaxExecutionTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// ResolveKVPrefixes returns the plugin's allowed KV namespace, falling
// back to the default per-plugin prefix when none are declared.
func (m *Manifest) ResolveKVPrefixes() []string {
	if len(m.KVPrefixes) == 0 {
		return []string{DefaultKVPrefix(m.Name)}
	}
	return m.KVPrefixes
}

// signingBytes is the canonical byte form covered by the signature: the
// JSON encoding of the manifest with the signature field cleared.
func (m *Manifest) signingBytes() ([]byte, error) {
	cp := *m
	cp.Signature = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest for signing: %w", err)
	}
	return data, nil
}

// Sign sets the manifest signature using the given private key.
func (m *Manifest) Sign(key ed25519.PrivateKey) error {
	data, err := m.signingBytes()
	if err != nil {
		return err
	}
	m.Signature = hex.EncodeToString(ed25519.Sign(key, data))
	return nil
}

// VerifySignature checks the manifest signature against a public key.
func (m *Manifest) VerifySignature(pub ed25519.PublicKey) error {
	if m.Signature == "" {
		return fmt.Errorf("manifest for '%s' is unsigned", m.Name)
	}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding for '%s': %w", m.Name, err)
	}
	data, err := m.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, data, sig) {
		return fmt.Errorf("signature verification failed for '%s'", m.Name)
	}
	return nil
}

// FileManifest is a plugin.yaml as found in a local plugin directory. It
// names a WASM file on disk instead of a blob hash; the loader publishes
// the binary and fills in the hash.
type FileManifest struct {
	Manifest `yaml:",inline"`
	// WASMFile is the plugin binary path, relative to the manifest.
	WASMFile string `yaml:"wasm_file"`
}

// LoadManifestFile reads and parses a plugin.yaml.
func LoadManifestFile(path string) (*FileManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var fm FileManifest
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if fm.WASMFile == "" {
		return nil, fmt.Errorf("manifest %s: wasm_file is required", path)
	}
	return &fm, nil
}

// LoadManifestFromDir loads plugin.yaml from a plugin directory.
func LoadManifestFromDir(dir string) (*FileManifest, error) {
	return LoadManifestFile(filepath.Join(dir, "plugin.yaml"))
}
