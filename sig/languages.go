package sig

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// profile pairs a grammar with its top-level declaration query.
type profile struct {
	grammar *sitter.Language
	query   string
}

// extensions maps a lower-cased file extension to its language.
var extensions = map[string]Language{
	".go":   LangGo,
	".js":   LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".jsx":  LangJavaScript,
	".ts":   LangTypeScript,
	".mts":  LangTypeScript,
	".cts":  LangTypeScript,
	".tsx":  LangTSX,
	".py":   LangPython,
	".pyi":  LangPython,
	".rs":   LangRust,
	".java": LangJava,
	".rb":   LangRuby,
	".c":    LangC,
	".h":    LangC,
	".cc":   LangCPP,
	".cpp":  LangCPP,
	".cxx":  LangCPP,
	".hpp":  LangCPP,
	".hh":   LangCPP,
	".cs":   LangCSharp,
}

// Queries are anchored at the grammar's root node so only top-level
// declarations match. Name nodes are captured with a wildcard to stay
// robust across grammar revisions.
var profiles = map[Language]profile{
	LangGo: {
		grammar: golang.GetLanguage(),
		query: `
(source_file (package_clause (package_identifier) @name))
(source_file (function_declaration name: (_) @name))
(source_file (method_declaration name: (_) @name))
(source_file (type_declaration (type_spec name: (_) @name)))
(source_file (const_declaration (const_spec name: (_) @name)))
(source_file (var_declaration (var_spec name: (_) @name)))
`,
	},
	LangJavaScript: {
		grammar: javascript.GetLanguage(),
		query:   jsQuery,
	},
	LangTypeScript: {
		grammar: typescript.GetLanguage(),
		query:   jsQuery + tsQuery,
	},
	LangTSX: {
		grammar: tsx.GetLanguage(),
		query:   jsQuery + tsQuery,
	},
	LangPython: {
		grammar: python.GetLanguage(),
		query: `
(module (function_definition name: (_) @name))
(module (class_definition name: (_) @name))
(module (decorated_definition definition: (function_definition name: (_) @name)))
(module (decorated_definition definition: (class_definition name: (_) @name)))
(module (expression_statement (assignment left: (identifier) @name)))
`,
	},
	LangRust: {
		grammar: rust.GetLanguage(),
		query: `
(source_file (function_item name: (_) @name))
(source_file (struct_item name: (_) @name))
(source_file (enum_item name: (_) @name))
(source_file (trait_item name: (_) @name))
(source_file (impl_item type: (_) @name))
(source_file (mod_item name: (_) @name))
(source_file (const_item name: (_) @name))
(source_file (static_item name: (_) @name))
(source_file (type_item name: (_) @name))
`,
	},
	LangJava: {
		grammar: java.GetLanguage(),
		query: `
(program (class_declaration name: (_) @name))
(program (interface_declaration name: (_) @name))
(program (enum_declaration name: (_) @name))
(program (annotation_type_declaration name: (_) @name))
`,
	},
	LangRuby: {
		grammar: ruby.GetLanguage(),
		query: `
(program (class name: (_) @name))
(program (module name: (_) @name))
(program (method name: (_) @name))
(program (assignment left: (constant) @name))
`,
	},
	LangC: {
		grammar: c.GetLanguage(),
		query:   cQuery,
	},
	LangCPP: {
		grammar: cpp.GetLanguage(),
		query: cQuery + `
(translation_unit (class_specifier name: (_) @name))
(translation_unit (declaration (class_specifier name: (_) @name)))
(translation_unit (namespace_definition name: (_) @name))
(translation_unit (template_declaration (class_specifier name: (_) @name)))
`,
	},
	LangCSharp: {
		grammar: csharp.GetLanguage(),
		query: `
(compilation_unit (namespace_declaration name: (_) @name))
(compilation_unit (class_declaration name: (_) @name))
(compilation_unit (interface_declaration name: (_) @name))
(compilation_unit (struct_declaration name: (_) @name))
(compilation_unit (enum_declaration name: (_) @name))
(namespace_declaration (declaration_list (class_declaration name: (_) @name)))
(namespace_declaration (declaration_list (interface_declaration name: (_) @name)))
(namespace_declaration (declaration_list (struct_declaration name: (_) @name)))
(namespace_declaration (declaration_list (enum_declaration name: (_) @name)))
`,
	},
}

// jsQuery covers declarations shared by JavaScript, TypeScript and TSX.
const jsQuery = `
(program (function_declaration name: (_) @name))
(program (generator_function_declaration name: (_) @name))
(program (class_declaration name: (_) @name))
(program (lexical_declaration (variable_declarator name: (_) @name)))
(program (variable_declaration (variable_declarator name: (_) @name)))
(program (export_statement declaration: (function_declaration name: (_) @name)))
(program (export_statement declaration: (class_declaration name: (_) @name)))
(program (export_statement declaration: (lexical_declaration (variable_declarator name: (_) @name))))
`

// tsQuery adds the TypeScript-only declaration forms.
const tsQuery = `
(program (interface_declaration name: (_) @name))
(program (type_alias_declaration name: (_) @name))
(program (enum_declaration name: (_) @name))
(program (abstract_class_declaration name: (_) @name))
(program (internal_module name: (_) @name))
(program (export_statement declaration: (interface_declaration name: (_) @name)))
(program (export_statement declaration: (type_alias_declaration name: (_) @name)))
(program (export_statement declaration: (enum_declaration name: (_) @name)))
(program (export_statement declaration: (abstract_class_declaration name: (_) @name)))
`

// cQuery covers declarations shared by C and C++.
const cQuery = `
(translation_unit (function_definition declarator: (function_declarator declarator: (_) @name)))
(translation_unit (type_definition declarator: (_) @name))
(translation_unit (declaration (struct_specifier name: (_) @name)))
(translation_unit (declaration (enum_specifier name: (_) @name)))
(translation_unit (declaration (union_specifier name: (_) @name)))
(translation_unit (declaration declarator: (init_declarator declarator: (_) @name)))
(translation_unit (preproc_def name: (_) @name))
`
