package discovery

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/latticemcp/lattice/internal/scanner"
	"github.com/latticemcp/lattice/internal/workspace"
)

// markerHint is the project-type lean a manifest carries before the
// contents are inspected.
type markerHint struct {
	Type workspace.ProjectType
}

// builtinMarkers is the default marker table. Engine config entries
// extend or override it.
var builtinMarkers = map[string]markerHint{
	"package.json":         {Type: workspace.TypeApplication},
	"go.mod":               {Type: workspace.TypeApplication},
	"pyproject.toml":       {Type: workspace.TypeLibrary},
	"requirements.txt":     {Type: workspace.TypeApplication},
	"Cargo.toml":           {Type: workspace.TypeApplication},
	"pom.xml":              {Type: workspace.TypeApplication},
	"build.gradle":         {Type: workspace.TypeApplication},
	"Gemfile":              {Type: workspace.TypeApplication},
	"composer.json":        {Type: workspace.TypeApplication},
	"mkdocs.yml":           {Type: workspace.TypeDocumentation},
	"docusaurus.config.js": {Type: workspace.TypeDocumentation},
	"pubspec.yaml":         {Type: workspace.TypeMobileApp},
}

// markerTable merges the config overrides over the builtins.
func markerTable(overrides map[string]string) map[string]markerHint {
	table := make(map[string]markerHint, len(builtinMarkers)+len(overrides))
	for name, hint := range builtinMarkers {
		table[name] = hint
	}
	for name, t := range overrides {
		pt := workspace.ProjectType(t)
		if !workspace.ValidProjectType(pt) {
			continue
		}
		table[name] = markerHint{Type: pt}
	}
	return table
}

// languageSampleLimit bounds how many files feed the language census.
const languageSampleLimit = 2000

// classify fills a candidate's languages, type, confidence and the raw
// manifest dependency names.
func classify(c *Candidate, markers map[string]markerHint) {
	c.Languages = detectLanguages(c.AbsPath)

	// Documentation and mobile markers are near-certain on their own.
	for _, m := range c.Markers {
		hint := markers[m]
		switch hint.Type {
		case workspace.TypeDocumentation:
			c.Type = workspace.TypeDocumentation
			c.Confidence = 0.95
		case workspace.TypeMobileApp:
			c.Type = workspace.TypeMobileApp
			c.Confidence = 0.9
		}
	}

	for _, m := range c.Markers {
		switch m {
		case "package.json":
			classifyNode(c)
		case "go.mod":
			classifyGo(c)
		case "pyproject.toml", "requirements.txt":
			classifyPython(c, m)
		case "Cargo.toml":
			classifyCargo(c)
		}
	}

	if c.Type == "" {
		// Marker hint as the last resort, at low confidence.
		c.Type = markers[c.Markers[0]].Type
		c.Confidence = 0.3
	}
}

// detectLanguages counts file extensions and keeps languages covering
// at least a tenth of the sampled files.
func detectLanguages(dir string) []string {
	counts := map[string]int{}
	total := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if total >= languageSampleLimit {
			return filepath.SkipAll
		}
		if lang := scanner.DetectLanguage(path); lang != "" && lang != "markdown" && lang != "json" && lang != "yaml" {
			counts[lang]++
			total++
		}
		return nil
	})

	var langs []string
	for lang, n := range counts {
		if total > 0 && float64(n)/float64(total) >= 0.1 {
			langs = append(langs, lang)
		}
	}
	sort.Slice(langs, func(a, b int) bool {
		if counts[langs[a]] != counts[langs[b]] {
			return counts[langs[a]] > counts[langs[b]]
		}
		return langs[a] < langs[b]
	})
	return langs
}

var (
	webFrontendDeps = []string{"react", "vue", "svelte", "next", "nuxt", "vite", "webpack", "angular"}
	nodeServerDeps  = []string{"express", "fastify", "koa", "@nestjs/core", "hapi"}
	goServerDeps    = []string{"github.com/gin-gonic/gin", "github.com/labstack/echo", "github.com/go-chi/chi", "github.com/gofiber/fiber", "google.golang.org/grpc", "github.com/gorilla/mux"}
	pyServerDeps    = []string{"flask", "django", "fastapi", "starlette", "tornado"}
	rustServerDeps  = []string{"actix-web", "axum", "rocket", "warp"}
)

// classifyNode inspects package.json.
func classifyNode(c *Candidate) {
	raw, err := os.ReadFile(filepath.Join(c.AbsPath, "package.json"))
	if err != nil {
		return
	}
	var manifest struct {
		Main            string            `json:"main"`
		Bin             json.RawMessage   `json:"bin"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return
	}

	names := map[string]struct{}{}
	for name := range manifest.Dependencies {
		names[name] = struct{}{}
		c.depNames[name] = struct{}{}
	}
	for name := range manifest.DevDependencies {
		names[name] = struct{}{}
	}

	has := func(list []string) bool {
		for _, want := range list {
			if _, ok := names[want]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has([]string{"docusaurus", "@docusaurus/core", "vitepress", "vuepress"}):
		c.setType(workspace.TypeDocumentation, 0.9)
	case has(webFrontendDeps):
		c.setType(workspace.TypeWebFrontend, 0.9)
	case has(nodeServerDeps):
		c.setType(workspace.TypeAPIServer, 0.9)
	case manifest.Main != "" && len(manifest.Bin) == 0:
		c.setType(workspace.TypeLibrary, 0.6)
	default:
		c.setType(workspace.TypeApplication, 0.4)
	}
}

var goRequireRe = regexp.MustCompile(`^\s*([\w./-]+\.[\w./-]+)\s+v[\w.+-]+`)

// classifyGo inspects go.mod and the tree shape.
func classifyGo(c *Candidate) {
	f, err := os.Open(filepath.Join(c.AbsPath, "go.mod"))
	if err != nil {
		return
	}
	defer f.Close()

	server := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		m := goRequireRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		c.depNames[path.Base(m[1])] = struct{}{}
		for _, dep := range goServerDeps {
			if strings.HasPrefix(m[1], dep) {
				server = true
			}
		}
	}

	switch {
	case server:
		c.setType(workspace.TypeAPIServer, 0.85)
	case hasMainPackage(c.AbsPath):
		c.setType(workspace.TypeApplication, 0.7)
	default:
		c.setType(workspace.TypeLibrary, 0.6)
	}
}

// hasMainPackage looks for main.go or a cmd/ directory.
func hasMainPackage(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "main.go")); err == nil {
		return true
	}
	if info, err := os.Stat(filepath.Join(dir, "cmd")); err == nil && info.IsDir() {
		return true
	}
	return false
}

var pyDepRe = regexp.MustCompile(`^\s*([A-Za-z0-9_.-]+)`)

// classifyPython inspects requirements.txt or pyproject.toml, line-wise.
func classifyPython(c *Candidate, marker string) {
	raw, err := os.ReadFile(filepath.Join(c.AbsPath, marker))
	if err != nil {
		return
	}

	server, docs := false, false
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		m := pyDepRe.FindStringSubmatch(strings.Trim(line, `"',`))
		if m == nil {
			continue
		}
		name := strings.ToLower(m[1])
		c.depNames[name] = struct{}{}
		for _, dep := range pyServerDeps {
			if name == dep {
				server = true
			}
		}
		if name == "mkdocs" || name == "sphinx" {
			docs = true
		}
	}

	switch {
	case docs:
		c.setType(workspace.TypeDocumentation, 0.85)
	case server:
		c.setType(workspace.TypeAPIServer, 0.85)
	case marker == "pyproject.toml":
		c.setType(workspace.TypeLibrary, 0.5)
	default:
		c.setType(workspace.TypeApplication, 0.4)
	}
}

var cargoDepRe = regexp.MustCompile(`^\s*([A-Za-z0-9_-]+)\s*=`)

// classifyCargo inspects the [dependencies] section of Cargo.toml.
func classifyCargo(c *Candidate) {
	raw, err := os.ReadFile(filepath.Join(c.AbsPath, "Cargo.toml"))
	if err != nil {
		return
	}

	server := false
	inDeps := false
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			inDeps = strings.HasPrefix(line, "[dependencies")
			continue
		}
		if !inDeps {
			continue
		}
		m := cargoDepRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		c.depNames[m[1]] = struct{}{}
		for _, dep := range rustServerDeps {
			if m[1] == dep {
				server = true
			}
		}
	}

	switch {
	case server:
		c.setType(workspace.TypeAPIServer, 0.85)
	case hasFile(c.AbsPath, "src/main.rs"):
		c.setType(workspace.TypeApplication, 0.7)
	default:
		c.setType(workspace.TypeLibrary, 0.6)
	}
}

func hasFile(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, rel))
	return err == nil
}

// setType keeps the highest-confidence classification seen so far.
func (c *Candidate) setType(t workspace.ProjectType, confidence float64) {
	if confidence > c.Confidence {
		c.Type = t
		c.Confidence = confidence
	}
}
