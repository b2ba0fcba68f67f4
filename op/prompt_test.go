package op

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrompts = `
greet: "Hello {name}, welcome to {place}."
greet_zh: "你好 {name}"
plain: "no placeholders"
`

func writePrompts(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(samplePrompts), 0o644))
	return path
}

func TestPromptFormat(t *testing.T) {
	out := PromptFormat("sum of {a} and {b} is {a}+{b}", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, "sum of 1 and 2 is 1+2", out)

	assert.Equal(t, "keep {unknown}", PromptFormat("keep {unknown}", map[string]any{"x": 1}))
}

func TestPromptLoading(t *testing.T) {
	path := writePrompts(t, "greet_prompt.yaml")
	o, err := newLenOp(Config{Name: "len_op", PromptPath: path})
	require.NoError(t, err)

	got, err := o.base().Prompt("greet", map[string]any{"name": "Ada", "place": "here"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome to here.", got)

	_, err = o.base().Prompt("absent", nil)
	assert.Error(t, err)
}

func TestPromptLocaleFallback(t *testing.T) {
	path := writePrompts(t, "greet_prompt.yaml")
	o, err := newLenOp(Config{Name: "len_op", PromptPath: path, Language: "zh"})
	require.NoError(t, err)

	got, err := o.base().Prompt("greet", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "你好 Ada", got, "locale variant wins when the language matches")

	got, err = o.base().Prompt("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "no placeholders", got, "names without a locale variant fall back")
}

func TestPromptPathFromOpFile(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "chat_prompt.yaml")
	require.NoError(t, os.WriteFile(promptFile, []byte(samplePrompts), 0o644))

	o, err := newLenOp(Config{Name: "len_op", PromptPath: filepath.Join(dir, "chat_op.yaml")})
	require.NoError(t, err)
	got, err := o.base().Prompt("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "no placeholders", got)
}

func TestSetPrompts(t *testing.T) {
	o, err := newLenOp(Config{Name: "len_op"})
	require.NoError(t, err)
	o.base().SetPrompts(map[string]string{"inline": "value {x}"})

	got, err := o.base().Prompt("inline", map[string]any{"x": 7})
	require.NoError(t, err)
	assert.Equal(t, "value 7", got)
}
