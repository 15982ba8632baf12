package sessionrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathMappingRule_ApplyPrefixMatch(t *testing.T) {
	rule := PathMappingRule{
		SourcePathFormat: PathFormatPOSIX,
		SourcePath: "/mnt/shared",
		DestinationPath: "/local/shared",
	}

	matched, result := rule.Apply("/mnt/shared/assets/texture.png")
	require.True(t, matched)
	assert.Equal(t, "/local/shared/assets/texture.png", result)
}

func TestPathMappingRule_ApplyNoMatch(t *testing.T) {
	rule := PathMappingRule{
		SourcePathFormat: PathFormatPOSIX,
		SourcePath: "/mnt/shared",
		DestinationPath: "/local/shared",
	}

	// "/mnt/shared2" is not a descendant of "/mnt/shared" even though it has
	// a matching byte prefix.
	matched, result := rule.Apply("/mnt/shared2/file.txt")
	assert.False(t, matched)
	assert.Equal(t, "/mnt/shared2/file.txt", result)
}

func TestPathMappingRules_LongestAncestorWins(t *testing.T) {
	rules := []PathMappingRule{
		{SourcePathFormat: PathFormatPOSIX, SourcePath: "/mnt", DestinationPath: "/generic"},
		{SourcePathFormat: PathFormatPOSIX, SourcePath: "/mnt/shared/project", DestinationPath: "/specific"},
	}
	set := NewPathMappingRules(rules)

	matched, result := set.Apply("/mnt/shared/project/scene.usd")
	require.True(t, matched)
	assert.Equal(t, "/specific/scene.usd", result)
}

func TestPathMappingRules_NoMatchReturnsInputUnchanged(t *testing.T) {
	set := NewPathMappingRules([]PathMappingRule{
		{SourcePathFormat: PathFormatPOSIX, SourcePath: "/mnt/shared", DestinationPath: "/local"},
	})

	matched, result := set.Apply("/home/user/file.txt")
	assert.False(t, matched)
	assert.Equal(t, "/home/user/file.txt", result)
}

func TestPathMappingRule_ToDictFromDictRoundTrip(t *testing.T) {
	original := PathMappingRule{
		SourcePathFormat: PathFormatWindows,
		SourcePath: `C:\shared`,
		DestinationPath: `D:\local`,
	}

	dict := original.ToDict()
	restored, err := PathMappingRuleFromDict(dict)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestPathMappingRuleFromDict_RejectsUnknownFormat(t *testing.T) {
	_, err := PathMappingRuleFromDict(PathMappingRuleDict{
		SourcePathFormat: "MACOS",
		SourcePath: "/a",
		DestinationPath: "/b",
	})
	assert.Error(t, err)
}

func TestPathMappingRuleFromDict_RejectsEmptyPaths(t *testing.T) {
	_, err := PathMappingRuleFromDict(PathMappingRuleDict{
		SourcePathFormat: "POSIX",
		SourcePath: "",
		DestinationPath: "/b",
	})
	assert.Error(t, err)
}
