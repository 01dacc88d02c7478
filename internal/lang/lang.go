// Package lang binds each analyzable language to its tree-sitter grammar,
// its embedded definition query and the node helpers the parser needs.
// Python is the only registered language.
package lang

import (
	"embed"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language is one grammar plus its helpers.
type Language struct {
	Name       string
	Extensions []string
	grammar    *sitter.Language

	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error

	// EnclosingClass returns the dotted path of the classes holding a
	// function definition, or "" at module level.
	EnclosingClass func(def *sitter.Node, source []byte) string

	// EnclosingDef returns the qualified name of the function containing
	// node, or "" when node is not inside a function.
	EnclosingDef func(node *sitter.Node, source []byte) string

	// Signature renders a function definition header on one line.
	Signature func(def *sitter.Node, source []byte) string
}

var registry = map[string]*Language{}

func register(l *Language) {
	registry[l.Name] = l
}

// Lookup returns the language registered under name.
func Lookup(name string) (*Language, bool) {
	l, ok := registry[name]
	return l, ok
}

// ForPath returns the language that handles path by extension, or nil.
func ForPath(path string) *Language {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil
	}
	for _, l := range registry {
		if slices.Contains(l.Extensions, ext) {
			return l
		}
	}
	return nil
}

// NewParser returns a parser for this language. Parsers are not safe for
// concurrent use.
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.grammar)
	return p
}

// FunctionQuery returns the compiled definition query, shared by all
// goroutines.
func (l *Language) FunctionQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		data, err := queryFS.ReadFile("queries/" + l.Name + ".scm")
		if err != nil {
			l.queryErr = fmt.Errorf("reading %s query: %w", l.Name, err)
			return
		}
		l.query, l.queryErr = sitter.NewQuery(data, l.grammar)
		if l.queryErr != nil {
			l.queryErr = fmt.Errorf("compiling %s query: %w", l.Name, l.queryErr)
		}
	})
	return l.query, l.queryErr
}

// NodeText returns the source text spanned by node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
