// Package discovery walks a repository and produces the file inventory the
// pipeline schedules: relative paths, detected languages, line counts, and a
// coarse project profile used by characterization fallbacks.
package discovery

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeatlas/internal/logging"
)

// FileInfo describes one discovered source file.
type FileInfo struct {
	Path     string // relative to the project root, slash-separated
	Language string
	Lines    int
}

// Scan is the result of walking a repository.
type Scan struct {
	Root        string
	Files       []FileInfo
	Languages   map[string]int // language -> file count
	TopDirs     []string
	EntryPoints []string
	TotalLines  int
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".atlas":       true,
}

var languageByExt = map[string]string{
	".go":    "Go",
	".rs":    "Rust",
	".py":    "Python",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".jsx":   "JavaScript",
	".java":  "Java",
	".kt":    "Kotlin",
	".rb":    "Ruby",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".swift": "Swift",
	".php":   "PHP",
	".scala": "Scala",
	".sh":    "Shell",
	".sql":   "SQL",
}

var entryPointNames = map[string]bool{
	"main.go":  true,
	"main.rs":  true,
	"main.py":  true,
	"index.js": true,
	"index.ts": true,
	"app.py":   true,
}

// Walk scans the repository rooted at root.
func Walk(root string) (*Scan, error) {
	timer := logging.StartTimer(logging.CategorySession, "discovery.Walk")
	defer timer.Stop()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	scan := &Scan{
		Root:      abs,
		Languages: make(map[string]int),
	}
	topDirs := make(map[string]bool)

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != abs && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		lang, ok := languageByExt[ext]
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		lines, err := countLines(path)
		if err != nil {
			logging.SessionDebug("Skipping unreadable file: %s: %v", rel, err)
			return nil
		}

		scan.Files = append(scan.Files, FileInfo{Path: rel, Language: lang, Lines: lines})
		scan.Languages[lang]++
		scan.TotalLines += lines

		if entryPointNames[strings.ToLower(name)] {
			scan.EntryPoints = append(scan.EntryPoints, rel)
		}
		if i := strings.IndexByte(rel, '/'); i > 0 {
			topDirs[rel[:i]] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}

	for dir := range topDirs {
		scan.TopDirs = append(scan.TopDirs, dir)
	}
	sort.Strings(scan.TopDirs)
	sort.Strings(scan.EntryPoints)

	logging.Session("Discovery complete: root=%s files=%d languages=%d",
		abs, len(scan.Files), len(scan.Languages))
	return scan, nil
}

// Paths returns the relative paths of all discovered files.
func (s *Scan) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths
}

// File returns the FileInfo for a path, if discovered.
func (s *Scan) File(path string) (FileInfo, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileInfo{}, false
}

// DominantLanguage returns the language with the most files.
func (s *Scan) DominantLanguage() string {
	best, bestCount := "", 0
	for lang, count := range s.Languages {
		if count > bestCount || (count == bestCount && lang < best) {
			best, bestCount = lang, count
		}
	}
	return best
}

// ReadSource reads a discovered file's content from disk.
func (s *Scan) ReadSource(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n, nil
}
