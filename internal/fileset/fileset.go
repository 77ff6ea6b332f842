// Package fileset loads a project's source files from disk for analysis.
// The pipeline is agnostic to file provenance; this is the local-directory
// connector used by the CLI.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"reva/internal/analysis"
)

// ManifestName is the optional per-project file-set manifest.
const ManifestName = ".reva.yaml"

// Manifest tunes which files are submitted for analysis.
type Manifest struct {
	Include          []string          `yaml:"include"`
	Exclude          []string          `yaml:"exclude"`
	Languages        map[string]string `yaml:"languages"` // extension -> language override
	MaxFileSizeBytes int               `yaml:"maxFileSizeBytes"`
}

// Options controls file-set loading.
type Options struct {
	MaxFileSizeBytes int
	MaxFiles         int
}

const (
	defaultMaxFileSize = 1_000_000
	defaultMaxFiles    = 500
)

var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".reva":        true,
	"node_modules": true,
	"vendor":       true,
	"build":        true,
	"dist":         true,
	"target":       true,
	"__pycache__":  true,
}

// Load walks dir and returns the analyzable source files in deterministic
// (lexical walk) order. A .reva.yaml manifest in dir is honored if present.
func Load(dir string, opts Options) ([]analysis.SourceFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("reading project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	manifest, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	maxSize := opts.MaxFileSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}
	if manifest != nil && manifest.MaxFileSizeBytes > 0 {
		maxSize = manifest.MaxFileSizeBytes
	}
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}

	var files []analysis.SourceFile
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (defaultIgnoreDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if rel == ManifestName || !selected(rel, manifest) {
			return nil
		}

		lang := detectLanguage(rel, manifest)
		if lang == "" {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > int64(maxSize) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(content) {
			return nil
		}

		files = append(files, analysis.SourceFile{
			Path:      rel,
			Language:  lang,
			Content:   string(content),
			SizeBytes: len(content),
		})
		if len(files) >= maxFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking project directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no analyzable source files found in %s", dir)
	}
	return files, nil
}

func loadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", ManifestName, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestName, err)
	}
	return &m, nil
}

// selected applies manifest include/exclude globs. Globs match against the
// slash-separated relative path or its base name.
func selected(rel string, m *Manifest) bool {
	if m == nil {
		return true
	}
	for _, pattern := range m.Exclude {
		if globMatch(pattern, rel) {
			return false
		}
	}
	if len(m.Include) == 0 {
		return true
	}
	for _, pattern := range m.Include {
		if globMatch(pattern, rel) {
			return true
		}
	}
	return false
}

func globMatch(pattern, rel string) bool {
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
		return true
	}
	// Directory prefix patterns like "testdata/".
	if strings.HasSuffix(pattern, "/") && strings.HasPrefix(rel, pattern) {
		return true
	}
	return false
}

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sql":   "sql",
	".sh":    "shell",
	".dart":  "dart",
	".lua":   "lua",
}

// DetectLanguage returns the language for a path, or "" if the file type is
// not analyzable.
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

func detectLanguage(rel string, m *Manifest) string {
	ext := strings.ToLower(filepath.Ext(rel))
	if m != nil {
		if lang, ok := m.Languages[ext]; ok {
			return lang
		}
	}
	return languageByExt[ext]
}
