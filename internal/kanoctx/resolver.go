package kanoctx

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

const backlogRootMarker = "_kano/backlog"

// Context is the resolved environment for one backlog operation: the
// backlog root directory, the selected product, and its effective merged
// configuration.
type Context struct {
	Root          string
	Product       string
	ProductPrefix string
	BacklogRoot   string // directory holding products/<product> (== Root unless project config redirects it)
	Config        Config
}

// ResolveOptions customizes resolution; all fields are optional.
type ResolveOptions struct {
	RootOverride string
	Product      string
	// TopicConfigPath and WorksetConfigPath point at the optional topic
	// and workset config layers, merged after the product config in that
	// order when set.
	TopicConfigPath   string
	WorksetConfigPath string
	Env               map[string]string // defaults to os.Environ() when nil
}

// Resolve walks upward from startPath to find the backlog root, selects a
// product, and merges the layered configuration in fixed order: shared
// defaults -> project -> product -> topic -> workset -> env overrides.
func Resolve(startPath string, opts ResolveOptions) (*Context, error) {
	root, err := findRoot(startPath, opts.RootOverride)
	if err != nil {
		return nil, err
	}

	product := opts.Product
	productsDir := filepath.Join(root, "products")
	if product == "" {
		product, err = inferProduct(startPath, root, productsDir)
		if err != nil {
			return nil, err
		}
	} else {
		info, statErr := os.Stat(filepath.Join(productsDir, product))
		if statErr != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: product %q not found under %s", kanoerr.ErrInvalidConfig, product, productsDir)
		}
	}

	merged := map[string]any{}

	defaultsMap, err := decodeConfigLayer(
		filepath.Join(root, "_shared", "defaults.toml"),
		filepath.Join(root, "_shared", "defaults.json"),
	)
	if err != nil {
		return nil, err
	}
	mergeInto(merged, defaultsMap)

	projectConfigPath := filepath.Join(filepath.Dir(filepath.Dir(root)), ".kano", "backlog_config.toml")
	projectCfg, err := loadProjectConfig(projectConfigPath)
	if err != nil {
		return nil, err
	}

	prefix := ""
	backlogRoot := root
	if prod, ok := projectCfg.Products[product]; ok {
		prefix = prod.Prefix
		if resolved, err := resolveBacklogRoot(projectConfigPath, prod); err == nil {
			backlogRoot = resolved
		}
		mergeInto(merged, projectCfg.Defaults)
		mergeInto(merged, prod.Overrides)
	}

	productMap, err := decodeConfigLayer(
		filepath.Join(productsDir, product, "_config", "config.toml"),
		filepath.Join(productsDir, product, "_config", "config.json"),
	)
	if err != nil {
		return nil, err
	}
	mergeInto(merged, productMap)

	for _, layerPath := range []string{opts.TopicConfigPath, opts.WorksetConfigPath} {
		if layerPath == "" {
			continue
		}
		layer, err := decodeTOMLFile(layerPath)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, layer)
	}

	if err := validateNoLiteralSecrets("config", merged); err != nil {
		return nil, err
	}
	if err := validateProcessSelection(merged); err != nil {
		return nil, err
	}

	cfg, err := decodeMergedConfig(merged)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg, opts.Env)
	cfg.ApplyDefaults()

	return &Context{
		Root:          root,
		Product:       product,
		ProductPrefix: prefix,
		BacklogRoot:   backlogRoot,
		Config:        cfg,
	}, nil
}

func findRoot(startPath, override string) (string, error) {
	if override != "" {
		info, err := os.Stat(override)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: root override %q does not exist", kanoerr.ErrConfigNotFound, override)
		}
		if !hasAny(override, "products", "items") {
			return "", fmt.Errorf("%w: root override %q has neither products/ nor items/", kanoerr.ErrConfigNotFound, override)
		}
		return filepath.Abs(override)
	}

	abs, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kanoerr.ErrConfigNotFound, err)
	}
	info, err := os.Stat(abs)
	if err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	dir := abs
	for {
		candidate := filepath.Join(dir, backlogRootMarker)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%w: no %s found above %s", kanoerr.ErrConfigNotFound, backlogRootMarker, startPath)
}

func hasAny(dir string, names ...string) bool {
	for _, n := range names {
		if fi, err := os.Stat(filepath.Join(dir, n)); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

// inferProduct tries the resource path's first path component under
// products/ when no product was supplied; falls back to the sole product
// if exactly one exists, otherwise fails with ProductAmbiguous.
func inferProduct(startPath, root, productsDir string) (string, error) {
	if abs, err := filepath.Abs(startPath); err == nil {
		if rel, err := filepath.Rel(productsDir, abs); err == nil && !strings.HasPrefix(rel, "..") {
			parts := strings.Split(rel, string(filepath.Separator))
			if len(parts) > 0 && parts[0] != "." {
				if fi, err := os.Stat(filepath.Join(productsDir, parts[0])); err == nil && fi.IsDir() {
					return parts[0], nil
				}
			}
		}
	}

	entries, err := os.ReadDir(productsDir)
	if err != nil {
		return "", fmt.Errorf("%w: cannot list %s: %v", kanoerr.ErrConfigNotFound, productsDir, err)
	}
	var products []string
	for _, e := range entries {
		if e.IsDir() {
			products = append(products, e.Name())
		}
	}
	if len(products) == 1 {
		return products[0], nil
	}
	if len(products) == 0 {
		return "", fmt.Errorf("%w: no products defined under %s", kanoerr.ErrConfigNotFound, productsDir)
	}
	return "", fmt.Errorf("%w: %d products defined, none specified: %v", kanoerr.ErrProductAmbiguous, len(products), products)
}

func decodeMergedConfig(merged map[string]any) (Config, error) {
	var buf strings.Builder
	// Re-encode the merged generic map back to TOML text and decode into
	// the typed struct, reusing the same toml package for both directions
	// rather than hand-rolling a map->struct reflector.
	if err := tomlEncode(&buf, merged); err != nil {
		return Config{}, fmt.Errorf("%w: re-encoding merged config: %v", kanoerr.ErrInvalidConfig, err)
	}
	var cfg Config
	if _, err := tomlDecodeString(buf.String(), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decoding merged config: %v", kanoerr.ErrInvalidConfig, err)
	}
	cfg.Extra = merged
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, env map[string]string) {
	get := func(key string) (string, bool) {
		if env != nil {
			v, ok := env[key]
			return v, ok
		}
		return os.LookupEnv(key)
	}
	if v, ok := get("KANO_TOKENIZER_ADAPTER"); ok && v != "" {
		cfg.TokenizerAdapter = v
	}
	if v, ok := get("KANO_TOKENIZER_MODEL"); ok && v != "" {
		cfg.TokenizerModel = v
	}
	if v, ok := get("KANO_TOKENIZER_MAX_TOKENS"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenizerMaxTokens = n
		}
	}
	if v, ok := get("KANO_AGENT_MODEL"); ok && v != "" {
		cfg.AgentModel = v
	}
	if v, ok := get("KANO_MODEL"); ok && v != "" {
		cfg.AgentModel = v
	}
}
