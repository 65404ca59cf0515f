package winenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookup(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestBuildInjectsMissingRequiredVars(t *testing.T) {
	lookup := fakeLookup(map[string]string{
		"SYSTEMROOT":  `C:\Windows`,
		"SYSTEMDRIVE": `C:`,
		"TEMP":        `C:\Temp`,
	})
	out := Build([]string{"FOO=bar"}, lookup)

	names := make(map[string]bool)
	for _, pair := range out {
		names[nameOf(pair)] = true
	}
	for _, req := range RequiredVars {
		require.Truef(t, names[req], "expected %s to be injected", req)
	}
	assert.True(t, names["FOO"])
}

func TestBuildPreservesCallerSuppliedValue(t *testing.T) {
	lookup := fakeLookup(map[string]string{"SYSTEMROOT": `C:\should-not-be-used`})
	out := Build([]string{"SystemRoot=C:\\custom"}, lookup)

	found := false
	for _, pair := range out {
		if nameOf(pair) == "SystemRoot" {
			found = true
			assert.Equal(t, `SystemRoot=C:\custom`, pair)
		}
	}
	assert.True(t, found)
}

func TestBuildSortsCaseInsensitively(t *testing.T) {
	lookup := fakeLookup(nil)
	out := Build([]string{"banana=1", "Apple=2", "cherry=3"}, lookup)

	var names []string
	for _, pair := range out {
		names = append(names, nameOf(pair))
	}
	require.Contains(t, names, "Apple")
	appleIdx, bananaIdx := -1, -1
	for i, n := range names {
		if n == "Apple" {
			appleIdx = i
		}
		if n == "banana" {
			bananaIdx = i
		}
	}
	assert.Less(t, appleIdx, bananaIdx)
}

func TestBuildSkipsRequiredVarWithNoSource(t *testing.T) {
	out := Build(nil, fakeLookup(nil))
	for _, pair := range out {
		assert.NotEqual(t, "SYSTEMROOT", nameOf(pair))
	}
}

func TestBlockFormat(t *testing.T) {
	got := Block([]string{"A=1", "B=2"})
	assert.Equal(t, "A=1\x00B=2\x00\x00", got)
}

func TestBlockEmpty(t *testing.T) {
	assert.Equal(t, "\x00\x00", Block(nil))
}
