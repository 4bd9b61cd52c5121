// Package sig turns source file content into a compact structural
// fingerprint suitable for embedding.
//
// A signature is the file path joined with the names (or first lines) of the
// file's top-level declarations, extracted with tree-sitter grammars and
// per-language declaration queries. Nested declarations are intentionally
// excluded: the signature is a coarse fingerprint, not an outline.
//
// Grammars, parsers and compiled queries are cached per language for the
// process lifetime. Dispose must be called before the process exits; the
// native parsing runtime keeps background state that can abort the process
// if handles are still allocated at exit.
package sig

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Language identifies a supported source language.
type Language string

// Supported languages.
const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangRuby       Language = "ruby"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
)

// langState holds the cached native handles for one language.
type langState struct {
	parser *sitter.Parser
	query  *sitter.Query
}

var (
	mu     sync.Mutex
	states = map[Language]*langState{}
)

// DetectLanguage maps a file path to a supported language by extension.
// Detection is case-insensitive; unmapped or extension-less paths report false.
func DetectLanguage(path string) (Language, bool) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return "", false
	}
	ext := strings.ToLower(path[idx:])
	lang, ok := extensions[ext]
	return lang, ok
}

// SupportedLanguages returns the set of languages with a registered profile.
func SupportedLanguages() []Language {
	langs := make([]Language, 0, len(profiles))
	for lang := range profiles {
		langs = append(langs, lang)
	}
	return langs
}

// ExtractSignature parses content with the language grammar detected from
// path and returns "<path> | <name1> | <name2> | ...", where the names are
// the file's top-level declaration names in first-seen order, deduplicated
// by exact string equality. It reports false for unsupported extensions,
// empty content, and files with no matching declarations.
func ExtractSignature(path string, content string) (string, bool) {
	captures, src, done, ok := capture(path, content)
	if !ok {
		return "", false
	}
	defer done()

	seen := map[string]struct{}{}
	var names []string
	for _, node := range captures {
		name := strings.TrimSpace(node.Content(src))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", false
	}
	return path + " | " + strings.Join(names, " | "), true
}

// ExtractSignatureLines is the declaration-line variant of ExtractSignature.
// For each captured name it walks up to the nearest enclosing
// declaration-level ancestor and takes the first source line of that
// ancestor's text. Ancestors are deduplicated by node identity, so a
// declaration captured by several query rules appears once.
func ExtractSignatureLines(path string, content string) (string, bool) {
	captures, src, done, ok := capture(path, content)
	if !ok {
		return "", false
	}
	defer done()

	type span struct{ start, end uint32 }
	seen := map[span]struct{}{}
	var lines []string
	for _, node := range captures {
		decl := declAncestor(node)
		if decl == nil {
			continue
		}
		key := span{decl.StartByte(), decl.EndByte()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		line := firstLine(decl.Content(src))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "", false
	}
	return path + " | " + strings.Join(lines, " | "), true
}

// Dispose releases every cached grammar, parser and compiled query and
// resets initialization state. It is idempotent and must be called before
// process termination.
func Dispose() {
	mu.Lock()
	defer mu.Unlock()
	for lang, st := range states {
		if st.query != nil {
			st.query.Close()
		}
		if st.parser != nil {
			st.parser.Close()
		}
		delete(states, lang)
	}
}

// capture parses content and runs the language's declaration query,
// returning the captured nodes. The returned func releases the parse tree
// and cursor; callers must invoke it before the next use of src.
func capture(path string, content string) ([]*sitter.Node, []byte, func(), bool) {
	lang, ok := DetectLanguage(path)
	if !ok {
		return nil, nil, nil, false
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, nil, false
	}

	st, err := stateFor(lang)
	if err != nil {
		return nil, nil, nil, false
	}

	src := []byte(content)
	mu.Lock()
	tree, err := st.parser.ParseCtx(context.Background(), nil, src)
	mu.Unlock()
	if err != nil || tree == nil {
		return nil, nil, nil, false
	}

	cursor := sitter.NewQueryCursor()
	cursor.Exec(st.query, tree.RootNode())

	var nodes []*sitter.Node
	for {
		match, more := cursor.NextMatch()
		if !more {
			break
		}
		for _, c := range match.Captures {
			nodes = append(nodes, c.Node)
		}
	}

	done := func() {
		cursor.Close()
		tree.Close()
	}
	if len(nodes) == 0 {
		done()
		return nil, nil, nil, false
	}
	return nodes, src, done, true
}

// stateFor returns the cached parser/query pair for a language, compiling
// it on first use.
func stateFor(lang Language) (*langState, error) {
	mu.Lock()
	defer mu.Unlock()

	if st, ok := states[lang]; ok {
		return st, nil
	}

	profile := profiles[lang]
	query, err := sitter.NewQuery([]byte(profile.query), profile.grammar)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(profile.grammar)

	st := &langState{parser: parser, query: query}
	states[lang] = st
	return st, nil
}

// declAncestor walks from a captured name node up to the nearest enclosing
// declaration-level node. When no ancestor qualifies it falls back to the
// top-level statement containing the capture.
func declAncestor(node *sitter.Node) *sitter.Node {
	var last *sitter.Node
	for n := node; n != nil; n = n.Parent() {
		parent := n.Parent()
		if parent == nil {
			// n is the root; the best we have is the top-level child.
			return last
		}
		if isDeclType(n.Type()) {
			return n
		}
		last = n
	}
	return last
}

// isDeclType reports whether a node type names a declaration-level
// construct. Grammars converge on a few suffixes; Ruby uses bare words.
func isDeclType(t string) bool {
	switch {
	case strings.HasSuffix(t, "_declaration"),
		strings.HasSuffix(t, "_definition"),
		strings.HasSuffix(t, "_item"),
		strings.HasSuffix(t, "_specifier"):
		return true
	}
	switch t {
	case "export_statement", "decorated_definition", "class", "module", "method":
		return true
	}
	return false
}

// firstLine returns the first non-empty source line of a declaration's text.
func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
