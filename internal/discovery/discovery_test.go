package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main.go":           "package main\n\nfunc main() {}\n",
		"src/util/helper.go":    "package util\n",
		"node_modules/dep.js":   "module.exports = {}\n",
		".git/hooks/sample.py":  "print('x')\n",
		"README.md":             "# readme\n",
		"scripts/deploy.sh":     "#!/bin/sh\necho hi",
		"vendor/thing/thing.go": "package thing\n",
	})

	scan, err := Walk(root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	paths := map[string]bool{}
	for _, f := range scan.Files {
		paths[f.Path] = true
	}

	for _, want := range []string{"src/main.go", "src/util/helper.go", "scripts/deploy.sh"} {
		if !paths[want] {
			t.Errorf("missing %s", want)
		}
	}
	for _, skip := range []string{"node_modules/dep.js", ".git/hooks/sample.py", "README.md", "vendor/thing/thing.go"} {
		if paths[skip] {
			t.Errorf("should have skipped %s", skip)
		}
	}

	if scan.Languages["Go"] != 2 {
		t.Errorf("Go files = %d, want 2", scan.Languages["Go"])
	}
	if scan.DominantLanguage() != "Go" {
		t.Errorf("DominantLanguage = %q", scan.DominantLanguage())
	}

	if len(scan.EntryPoints) != 1 || scan.EntryPoints[0] != "src/main.go" {
		t.Errorf("EntryPoints = %v", scan.EntryPoints)
	}
	if len(scan.TopDirs) != 2 {
		t.Errorf("TopDirs = %v, want [scripts src]", scan.TopDirs)
	}
}

func TestScanAccessors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.go": "package a\n// one\n// two\n",
	})
	scan, err := Walk(root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	info, ok := scan.File("src/a.go")
	if !ok {
		t.Fatal("File lookup failed")
	}
	if info.Lines != 3 {
		t.Errorf("Lines = %d, want 3", info.Lines)
	}

	source, err := scan.ReadSource("src/a.go")
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if source != "package a\n// one\n// two\n" {
		t.Errorf("source = %q", source)
	}

	if _, ok := scan.File("missing.go"); ok {
		t.Error("File for unknown path should report absent")
	}
}

func TestCountLinesNoTrailingNewline(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "package a\nvar X = 1",
	})
	scan, err := Walk(root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	info, _ := scan.File("a.go")
	if info.Lines != 2 {
		t.Errorf("Lines = %d, want 2", info.Lines)
	}
}
