package sessionrt

import (
	"fmt"
	"runtime"
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/ugorji/go/codec"
)

// PathFormat is the path syntax a PathMappingRule's source_path is written
// in
type PathFormat string

const (
	PathFormatPOSIX PathFormat = "POSIX"
	PathFormatWindows PathFormat = "WINDOWS"
)

// PathMappingRule remaps a path prefix from a source path-space (as seen by
// a Job Template author) to a destination path (as seen on this worker).
type PathMappingRule struct {
	SourcePathFormat PathFormat
	SourcePath string
	DestinationPath string
}

// PathMappingRuleDict is the wire/dict representation used by ToDict/
// FromDict and by the on-disk path-mapping file.
type PathMappingRuleDict struct {
	SourcePathFormat string `json:"source_path_format" codec:"source_path_format"`
	SourcePath string `json:"source_path" codec:"source_path"`
	DestinationPath string `json:"destination_path" codec:"destination_path"`
}

// ToDict returns the dictionary representation of the rule.
func (r PathMappingRule) ToDict() PathMappingRuleDict {
	return PathMappingRuleDict{
		SourcePathFormat: string(r.SourcePathFormat),
		SourcePath: r.SourcePath,
		DestinationPath: r.DestinationPath,
	}
}

// PathMappingRuleFromDict builds a PathMappingRule from its dict
// representation, validating the format tag. It is the inverse of ToDict.
func PathMappingRuleFromDict(d PathMappingRuleDict) (PathMappingRule, error) {
	format := PathFormat(strings.ToUpper(d.SourcePathFormat))
	if format != PathFormatPOSIX && format != PathFormatWindows {
		return PathMappingRule{}, fmt.Errorf("unknown source_path_format %q", d.SourcePathFormat)
	}
	if d.SourcePath == "" || d.DestinationPath == "" {
		return PathMappingRule{}, fmt.Errorf("path mapping rule requires source_path and destination_path")
	}
	return PathMappingRule{
		SourcePathFormat: format,
		SourcePath: d.SourcePath,
		DestinationPath: d.DestinationPath,
	}, nil
}

func splitPosixPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitWindowsPath(path string) []string {
	// A leading drive letter (e.g. "C:") becomes its own component, so that
	// "C:\foo\bar" and "C:\foo" compare the drive letter like any other
	// path segment.
	parts := strings.Split(path, `\`)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (f PathFormat) split(path string) []string {
	if f == PathFormatWindows {
		return splitWindowsPath(path)
	}
	return splitPosixPath(path)
}

func (f PathFormat) hasTrailingSeparator(path string) bool {
	if f == PathFormatWindows {
		return strings.HasSuffix(path, `\`)
	}
	return strings.HasSuffix(path, "/")
}

// componentKey builds a null-byte-joined radix key from path components so
// that prefix matching in the radix tree lines up exactly with ancestor
// matching over path components (never a naive string-prefix match, which
// would incorrectly treat "/mnt2" as a descendant of "/mnt").
func componentKey(components []string) []byte {
	return []byte(strings.Join(components, "\x00") + "\x00")
}

// Apply attempts to remap path against this single rule. It returns whether
// the rule matched and, if so, the remapped path. The matching prefix is
// replaced; a trailing separator present in the input is preserved, using
// the separator style of the *host* running this code.
func (r PathMappingRule) Apply(path string) (bool, string) {
	sourceComponents := r.SourcePathFormat.split(r.SourcePath)
	pathComponents := r.SourcePathFormat.split(path)

	if len(pathComponents) < len(sourceComponents) {
		return false, path
	}
	for i, c := range sourceComponents {
		if pathComponents[i] != c {
			return false, path
		}
	}

	remapped := append([]string{r.DestinationPath}, pathComponents[len(sourceComponents):]...)
	sep := "/"
	if runtime.GOOS == "windows" {
		sep = `\`
	}
	result := remapped[0]
	if len(remapped) > 1 {
		tail := strings.Join(remapped[1:], sep)
		if strings.HasSuffix(result, sep) {
			result += tail
		} else {
			result += sep + tail
		}
	}
	if r.SourcePathFormat.hasTrailingSeparator(path) && !strings.HasSuffix(result, sep) {
		result += sep
	}
	return true, result
}

// PathMappingRules is an ordered collection of rules, indexed by an
// immutable radix tree keyed on path components so that the longest
// matching ancestor (i.e. the most specific source_path) always wins
// regardless of how the caller ordered the input slice.
type PathMappingRules struct {
	rules []PathMappingRule
	posixTree *iradix.Tree
	windowsTree *iradix.Tree
}

// NewPathMappingRules builds the lookup structure from a pre-validated,
// pre-sorted rule list; the Session coordinator is responsible for sorting
// and validating rules before constructing one.
func NewPathMappingRules(rules []PathMappingRule) *PathMappingRules {
	posixTree := iradix.New()
	windowsTree := iradix.New()
	for i, rule := range rules {
		key := componentKey(rule.SourcePathFormat.split(rule.SourcePath))
		if rule.SourcePathFormat == PathFormatWindows {
			windowsTree, _, _ = windowsTree.Insert(key, i)
		} else {
			posixTree, _, _ = posixTree.Insert(key, i)
		}
	}
	return &PathMappingRules{rules: rules, posixTree: posixTree, windowsTree: windowsTree}
}

// Apply maps path through whichever rule has the longest matching
// source_path, trying both POSIX and Windows interpretations of path since
// a rule set may mix formats. If no rule's source_path is an ancestor of
// path, the input is returned unchanged.
func (p *PathMappingRules) Apply(path string) (bool, string) {
	posixIdx, posixLen, posixOK := p.longestMatch(p.posixTree, PathFormatPOSIX, path)
	windowsIdx, windowsLen, windowsOK := p.longestMatch(p.windowsTree, PathFormatWindows, path)

	switch {
	case posixOK && windowsOK:
		if posixLen >= windowsLen {
			return p.rules[posixIdx].Apply(path)
		}
		return p.rules[windowsIdx].Apply(path)
	case posixOK:
		return p.rules[posixIdx].Apply(path)
	case windowsOK:
		return p.rules[windowsIdx].Apply(path)
	default:
		return false, path
	}
}

func (p *PathMappingRules) longestMatch(tree *iradix.Tree, format PathFormat, path string) (idx int, componentCount int, ok bool) {
	key := componentKey(format.split(path))
	matchKey, value, found := tree.Root.LongestPrefix(key)
	if !found {
		return 0, 0, false
	}
	// LongestPrefix performs a byte-prefix match; since keys are
	// null-byte-joined components with a trailing separator, a byte-prefix
	// match always lands on a component boundary, so this is safe.
	i := value.(int)
	rule := p.rules[i]
	sourceComponents := rule.SourcePathFormat.split(rule.SourcePath)
	_ = matchKey
	return i, len(sourceComponents), true
}

// Rules returns the underlying ordered rule slice.
func (p *PathMappingRules) Rules() []PathMappingRule {
	return p.rules
}

// pathMappingFileDict is the on-disk representation written to the
// path-mapping file exposed to Actions via Session.PathMappingRulesFile.
type pathMappingFileDict struct {
	Version string `json:"version" codec:"version"`
	PathMappingRules []PathMappingRuleDict `json:"path_mapping_rules" codec:"path_mapping_rules"`
}

// marshalPathMappingFile renders the path-mapping file contents using
// ugorji/go/codec's JSON handle rather than encoding/json.
func marshalPathMappingFile(rules []PathMappingRule) ([]byte, error) {
	dict := pathMappingFileDict{Version: "pathmapping-1.0"}
	for _, r := range rules {
		dict.PathMappingRules = append(dict.PathMappingRules, r.ToDict())
	}
	if dict.PathMappingRules == nil {
		dict.PathMappingRules = []PathMappingRuleDict{}
	}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, new(codec.JsonHandle))
	if err := enc.Encode(dict); err != nil {
		return nil, fmt.Errorf("encoding path mapping file: %w", err)
	}
	return buf, nil
}
