package kanoctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".kano", "backlog_config.toml"), `
[defaults]
tokenizer_adapter = "heuristic"

[products.acme]
name = "Acme"
prefix = "ACME"
backlog_root = "_kano/backlog"
`)
	writeFile(t, filepath.Join(ws, "_kano", "backlog", "_shared", "defaults.toml"), `
chunking_target_tokens = 256
`)
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "_kano", "backlog", "products", "acme", "_config"), 0o755))
	return ws
}

func TestResolveFindsRootAndMergesLayers(t *testing.T) {
	ws := setupWorkspace(t)
	startPath := filepath.Join(ws, "_kano", "backlog", "products", "acme")

	ctx, err := Resolve(startPath, ResolveOptions{})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(ws, "_kano", "backlog"), ctx.Root)
	require.Equal(t, "acme", ctx.Product)
	require.Equal(t, "ACME", ctx.ProductPrefix)
	require.Equal(t, "heuristic", ctx.Config.TokenizerAdapter)
	require.Equal(t, 256, ctx.Config.ChunkingTarget)
}

func TestResolveProductAmbiguous(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "_kano", "backlog", "products", "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "_kano", "backlog", "products", "b"), 0o755))

	_, err := Resolve(filepath.Join(ws, "_kano", "backlog"), ResolveOptions{})
	require.Error(t, err)
}

func TestResolveConfigNotFound(t *testing.T) {
	ws := t.TempDir()
	_, err := Resolve(ws, ResolveOptions{})
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFileConfig(t *testing.T) {
	ws := setupWorkspace(t)
	startPath := filepath.Join(ws, "_kano", "backlog", "products", "acme")

	ctx, err := Resolve(startPath, ResolveOptions{
		Env: map[string]string{"KANO_TOKENIZER_ADAPTER": "tiktoken"},
	})
	require.NoError(t, err)
	require.Equal(t, "tiktoken", ctx.Config.TokenizerAdapter)
}

func TestLegacyJSONDefaultsAccepted(t *testing.T) {
	ws := setupWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(ws, "_kano", "backlog", "_shared", "defaults.toml")))
	writeFile(t, filepath.Join(ws, "_kano", "backlog", "_shared", "defaults.json"), `{"chunking_target_tokens": 128}`)

	ctx, err := Resolve(filepath.Join(ws, "_kano", "backlog", "products", "acme"), ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, 128, ctx.Config.ChunkingTarget)
}

func TestTopicAndWorksetLayersMergeLast(t *testing.T) {
	ws := setupWorkspace(t)
	topicCfg := filepath.Join(ws, "topic.toml")
	worksetCfg := filepath.Join(ws, "workset.toml")
	writeFile(t, topicCfg, `tokenizer_model = "gpt-4o"`+"\n"+`chunking_max_tokens = 1024`)
	writeFile(t, worksetCfg, `chunking_max_tokens = 2048`)

	ctx, err := Resolve(filepath.Join(ws, "_kano", "backlog", "products", "acme"), ResolveOptions{
		TopicConfigPath:   topicCfg,
		WorksetConfigPath: worksetCfg,
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", ctx.Config.TokenizerModel)
	require.Equal(t, 2048, ctx.Config.ChunkingMax, "workset layer wins over topic layer")
}

func TestProcessProfileAndPathMutuallyExclusive(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws, "_kano", "backlog", "products", "acme", "_config", "config.toml"), `
[process]
profile = "standard"
path = "custom/process.toml"
`)
	_, err := Resolve(filepath.Join(ws, "_kano", "backlog", "products", "acme"), ResolveOptions{})
	require.Error(t, err)
}

func TestSecretLiteralRejected(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".kano", "backlog_config.toml"), `
[products.acme]
name = "Acme"
prefix = "ACME"
backlog_root = "_kano/backlog"
`)
	writeFile(t, filepath.Join(ws, "_kano", "backlog", "products", "acme", "_config", "config.toml"), `
api_key = "sk-literal-secret"
`)
	_, err := Resolve(filepath.Join(ws, "_kano", "backlog", "products", "acme"), ResolveOptions{})
	require.Error(t, err)
}
