package sessionrt

import (
	"fmt"
	"regexp"
	"strings"
)

// SymbolTable maps a fully-qualified symbol name (e.g. "Task.Param.Foo") to
// the string value it resolves to. Building and populating the table is the
// Session coordinator's job; resolving a FormatString against one is the
// resolver's job. TemplateString below is the concrete implementation that
// makes this runnable end-to-end.
type SymbolTable map[string]string

// FormatStringError is returned by FormatString.Resolve when a referenced
// symbol is not present in the table, or the template syntax is malformed.
type FormatStringError struct {
	Template string
	Reason string
}

func (e *FormatStringError) Error() string {
	return fmt.Sprintf("format string error in %q: %s", e.Template, e.Reason)
}

// FormatString is the opaque resolver contract the Session coordinator
// depends on. Command/arg vectors, embedded-file data, and declared
// environment variable values are all FormatStrings.
type FormatString interface {
	Resolve(symtab SymbolTable) (string, error)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// TemplateString is the default FormatString implementation: it resolves
// "{{ Name.Path }}" placeholders against a SymbolTable by flat dotted-name
// lookup. It intentionally does not support conditionals or loops -- the
// symbol grammar is a flat namespace, not a template language (text/template
// is reserved for the script generator in scriptgen.go, whose job really is
// to emit structured, repeated output).
type TemplateString string

func (t TemplateString) Resolve(symtab SymbolTable) (string, error) {
	src := string(t)
	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(src, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		value, ok := symtab[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", &FormatStringError{
			Template: src,
			Reason: fmt.Sprintf("unresolved symbol(s): %s", strings.Join(missing, ", ")),
		}
	}
	return result, nil
}

// LiteralString is a FormatString that resolves to itself unconditionally,
// useful in tests and for Actions with no template content.
type LiteralString string

func (l LiteralString) Resolve(SymbolTable) (string, error) {
	return string(l), nil
}
