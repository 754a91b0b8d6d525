package runscript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "description.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestIsLuaDescription(t *testing.T) {
	assert.True(t, IsLuaDescription("run_description.lua"))
	assert.False(t, IsLuaDescription("run_description.json"))
}

func TestLoadReturnsTableAsJSON(t *testing.T) {
	path := writeScript(t, `
		local epochs = 2 + 3
		return {
			name = "test",
			epochs = epochs,
			nested = { flag = true },
			list = { "a", "b" },
		}
	`)

	data, err := Load(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "test", got["name"])
	assert.Equal(t, float64(5), got["epochs"])
	assert.Equal(t, map[string]any{"flag": true}, got["nested"])
	assert.Equal(t, []any{"a", "b"}, got["list"])
}

func TestLoadRequiresTable(t *testing.T) {
	path := writeScript(t, `return 42`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadScriptError(t *testing.T) {
	path := writeScript(t, `this is not lua`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestSandboxBlocksIO(t *testing.T) {
	for _, body := range []string{
		`return { x = dofile("/etc/passwd") }`,
		`return { x = loadfile("/etc/passwd") }`,
		`return { x = load("return 1")() }`,
		`io.write("hi"); return {}`,
		`return { x = os.getenv("HOME") }`,
	} {
		_, err := Load(writeScript(t, body))
		assert.Error(t, err, "script should be rejected: %s", body)
	}
}

func TestSandboxBlocksRandomness(t *testing.T) {
	_, err := Load(writeScript(t, `return { x = math.random() }`))
	require.Error(t, err)
}

func TestDeterministicMathAllowed(t *testing.T) {
	data, err := Load(writeScript(t, `return { x = math.floor(3.7) }`))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(3), got["x"])
}
