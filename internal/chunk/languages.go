package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig names the grammar node types that declare symbols.
// Declarations outside these lists (imports, constants) land in the
// module residual chunk.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	MethodTypes    []string
	ClassTypes     []string
	InterfaceTypes []string
	TypeDefTypes   []string
}

// LanguageRegistry maps language names to grammars and configs.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry returns a registry with the built-in languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	return r
}

// GetByName returns the config for a language name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetByExtension returns the config for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// Languages returns the registered language names.
func (r *LanguageRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

func (r *LanguageRegistry) register(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.register(&LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		// Go interfaces are type declarations; the chunker inspects the
		// type_spec to refine the kind.
		TypeDefTypes: []string{"type_declaration"},
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	ts := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration", "lexical_declaration", "variable_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
	}
	r.register(ts, typescript.GetLanguage())

	tsxConfig := *ts
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.register(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	js := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs", ".cjs"},
		FunctionTypes: []string{"function_declaration", "lexical_declaration", "variable_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
	}
	r.register(js, javascript.GetLanguage())

	jsxConfig := *js
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.register(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.register(&LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition", "decorated_definition"},
		ClassTypes:    []string{"class_definition"},
	}, python.GetLanguage())
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
