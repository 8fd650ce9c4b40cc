// Package kanoctx resolves a filesystem path to a backlog root, product, and
// effective layered configuration.
package kanoctx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// ProductDefinition mirrors a [products.<name>] table in backlog_config.toml.
type ProductDefinition struct {
	Name        string         `toml:"name"`
	Prefix      string         `toml:"prefix"`
	BacklogRoot string         `toml:"backlog_root"`
	Overrides   map[string]any `toml:"overrides"`
}

// ProjectConfig is the top-level .kano/backlog_config.toml document.
type ProjectConfig struct {
	Defaults map[string]any               `toml:"defaults"`
	Shared   map[string]any               `toml:"shared"`
	Products map[string]ProductDefinition `toml:"products"`
}

// Config is the fully merged, typed effective configuration for one
// product resolution. Fields reflect the layered scalars documented in the
// external interfaces section; unrecognized keys are preserved in Extra so
// product/topic/workset overrides are never silently dropped.
type Config struct {
	TokenizerAdapter   string         `toml:"tokenizer_adapter"`
	TokenizerModel     string         `toml:"tokenizer_model"`
	TokenizerMaxTokens int            `toml:"tokenizer_max_tokens"`
	AgentModel         string         `toml:"agent_model"`
	CacheRoot          string         `toml:"cache_root"`
	ChunkingVersion    string         `toml:"chunking_version"`
	ChunkingTarget     int            `toml:"chunking_target_tokens"`
	ChunkingMax        int            `toml:"chunking_max_tokens"`
	ChunkingOverlap    int            `toml:"chunking_overlap_tokens"`
	Extra              map[string]any `toml:"-"`
}

// ApplyDefaults fills zero-valued fields with their defaults, never
// overwriting an explicitly set value.
func (c *Config) ApplyDefaults() {
	if c.TokenizerAdapter == "" {
		c.TokenizerAdapter = "auto"
	}
	if c.TokenizerModel == "" {
		c.TokenizerModel = "cl100k_base"
	}
	if c.TokenizerMaxTokens == 0 {
		c.TokenizerMaxTokens = 8192
	}
	if c.AgentModel == "" {
		c.AgentModel = "unknown"
	}
	if c.CacheRoot == "" {
		c.CacheRoot = ".kano/cache/backlog"
	}
	if c.ChunkingVersion == "" {
		c.ChunkingVersion = "chunk-v1"
	}
	if c.ChunkingTarget == 0 {
		c.ChunkingTarget = 512
	}
	if c.ChunkingMax == 0 {
		c.ChunkingMax = 768
	}
	if c.ChunkingOverlap == 0 {
		c.ChunkingOverlap = 32
	}
}

// validateProcessSelection rejects a merged config that sets both
// process.profile and process.path; the two are mutually exclusive ways
// of naming a process definition.
func validateProcessSelection(m map[string]any) error {
	process, ok := m["process"].(map[string]any)
	if !ok {
		return nil
	}
	_, hasProfile := process["profile"]
	_, hasPath := process["path"]
	if hasProfile && hasPath {
		return fmt.Errorf("%w: process.profile and process.path are mutually exclusive", kanoerr.ErrInvalidConfig)
	}
	return nil
}

// secretLeafSuffixes lists key-name endings that must carry an env:VAR
// literal rather than a bare secret value.
var secretLeafSuffixes = []string{"_token", "_password", "_key"}

func validateNoLiteralSecrets(path string, m map[string]any) error {
	for k, v := range m {
		lower := strings.ToLower(k)
		for _, suf := range secretLeafSuffixes {
			if strings.HasSuffix(lower, suf) {
				if s, ok := v.(string); ok && !strings.HasPrefix(s, "env:") {
					return fmt.Errorf("%w: %s.%s must be of the form env:VAR", kanoerr.ErrInvalidConfig, path, k)
				}
			}
		}
		if nested, ok := v.(map[string]any); ok {
			if err := validateNoLiteralSecrets(path+"."+k, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeInto merges src into dst in place: scalar leaves are last-wins,
// slices are replaced wholesale (never concatenated), and nested maps are
// merged recursively.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
			cp := map[string]any{}
			mergeInto(cp, srcMap)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}

// decodeTOMLFile decodes a TOML file into a map, returning an empty map
// (not an error) when the file does not exist, so optional config layers
// are simply absent rather than fatal.
func decodeTOMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	var m map[string]any
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	return m, nil
}

func decodeJSONFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	normalizeJSONNumbers(m)
	return m, nil
}

// normalizeJSONNumbers rewrites integral float64 leaves to int64 in place
// so a JSON layer merges into the typed config the same way a TOML layer
// does (encoding/json decodes every number as float64).
func normalizeJSONNumbers(m map[string]any) {
	for k, v := range m {
		switch x := v.(type) {
		case float64:
			if x == float64(int64(x)) {
				m[k] = int64(x)
			}
		case map[string]any:
			normalizeJSONNumbers(x)
		}
	}
}

var legacyJSONWarnOnce sync.Once

// decodeConfigLayer loads one config layer: the TOML file when present,
// otherwise a legacy JSON sibling with a one-shot deprecation warning.
// Both absent yields an empty layer.
func decodeConfigLayer(tomlPath, legacyJSONPath string) (map[string]any, error) {
	if _, err := os.Stat(tomlPath); err == nil {
		return decodeTOMLFile(tomlPath)
	}
	if legacyJSONPath != "" {
		if _, err := os.Stat(legacyJSONPath); err == nil {
			legacyJSONWarnOnce.Do(func() {
				slog.Warn("legacy JSON config is deprecated, migrate to TOML", "path", legacyJSONPath)
			})
			return decodeJSONFile(legacyJSONPath)
		}
	}
	return map[string]any{}, nil
}

// loadProjectConfig reads .kano/backlog_config.toml, validating required
// product fields and prefix uniqueness.
func loadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	var pc ProjectConfig
	if _, err := toml.Decode(string(data), &pc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", kanoerr.ErrInvalidConfig, path, err)
	}
	seenPrefix := map[string]string{}
	for name, prod := range pc.Products {
		if prod.Name == "" || prod.Prefix == "" || prod.BacklogRoot == "" {
			return nil, fmt.Errorf("%w: product %q missing required name/prefix/backlog_root", kanoerr.ErrInvalidConfig, name)
		}
		if other, dup := seenPrefix[prod.Prefix]; dup {
			return nil, fmt.Errorf("%w: duplicate prefix %q used by products %q and %q", kanoerr.ErrInvalidConfig, prod.Prefix, other, name)
		}
		seenPrefix[prod.Prefix] = name
	}
	return &pc, nil
}

// resolveBacklogRoot resolves a product's backlog_root relative to the
// project root (the directory containing .kano/).
func resolveBacklogRoot(projectConfigPath string, prod ProductDefinition) (string, error) {
	if filepath.IsAbs(prod.BacklogRoot) {
		return filepath.Clean(prod.BacklogRoot), nil
	}
	dir := filepath.Dir(projectConfigPath)
	projectRoot := dir
	if filepath.Base(dir) == ".kano" {
		projectRoot = filepath.Dir(dir)
	}
	return filepath.Abs(filepath.Join(projectRoot, prod.BacklogRoot))
}
