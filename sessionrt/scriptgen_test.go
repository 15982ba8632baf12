package sessionrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote_EscapesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote(`it's`))
}

func TestShellQuote_PlainValuePassesThroughWrapped(t *testing.T) {
	assert.Equal(t, `'value'`, shellQuote("value"))
}

func TestPowershellQuote_DoublesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it''s'`, powershellQuote(`it's`))
}

func TestRenderPosixScript_ContainsCommandAndEnv(t *testing.T) {
	value := "bar"
	script, err := renderPosixScript([]string{"echo", "hello"}, map[string]*string{"FOO": &value}, "/work")
	require.NoError(t, err)
	assert.Contains(t, script, "export FOO='bar'")
	assert.Contains(t, script, "cd '/work'")
	assert.Contains(t, script, "echo 'hello'")
	assert.Contains(t, script, "trap")
}

func TestRenderPosixScript_UnsetsNilEnvValues(t *testing.T) {
	script, err := renderPosixScript([]string{"true"}, map[string]*string{"FOO": nil}, "/work")
	require.NoError(t, err)
	assert.Contains(t, script, "unset FOO")
}

func TestRenderPowershellScript_ContainsCommandAndEnv(t *testing.T) {
	value := "bar"
	script, err := renderPowershellScript([]string{"echo", "hello"}, map[string]*string{"FOO": &value}, `C:\work`)
	require.NoError(t, err)
	assert.Contains(t, script, `$env:FOO = 'bar'`)
	assert.Contains(t, script, `Set-Location`)
	assert.Contains(t, script, "try")
	assert.Contains(t, script, "catch")
}
