// Package scheduler assigns files to processing tiers and orders them so
// lower-tier (leaf) files are analyzed before the higher-tier files that
// reference them. Classification and ordering are pure functions of the path
// and the project profile; nothing here is persisted.
package scheduler

import (
	"path/filepath"
	"sort"
	"strings"

	"codeatlas/internal/logging"
)

// Tier is a file's priority class. Lower tiers are processed first.
type Tier int

const (
	TierLeaf Tier = iota
	TierStandard
	TierImportant
	TierCore
)

func (t Tier) String() string {
	switch t {
	case TierLeaf:
		return "leaf"
	case TierStandard:
		return "standard"
	case TierImportant:
		return "important"
	case TierCore:
		return "core"
	default:
		return "unknown"
	}
}

// PrioritizedFile is scheduling metadata derived from a file path.
type PrioritizedFile struct {
	Path       string
	Tier       Tier
	EntryPoint bool
	Depth      int
}

// Profile carries the project context that influences classification:
// key area path prefixes mapped to an importance label (high/medium/low).
type Profile struct {
	KeyAreas map[string]string
}

// Recognized entry-point filenames always classify as Core.
var entryPointNames = map[string]bool{
	"main.go":     true,
	"main.rs":     true,
	"main.py":     true,
	"index.js":    true,
	"index.ts":    true,
	"app.py":      true,
	"lib.rs":      true,
	"mod.rs":      true,
	"__main__.py": true,
	"server.go":   true,
	"cli.py":      true,
}

// Path keyword heuristics for files outside configured key areas.
var (
	leafKeywords = []string{
		"util", "helper", "common", "shared", "types", "models",
	}
	importantKeywords = []string{
		"core", "service", "domain", "engine", "api", "cli",
		"handler", "controller", "route",
	}
)

// Classify assigns a tier to a path. Entry points are always Core; otherwise
// the longest matching key-area prefix decides; otherwise path keywords.
func Classify(path string, profile Profile) PrioritizedFile {
	norm := filepath.ToSlash(path)
	base := strings.ToLower(filepath.Base(norm))
	depth := strings.Count(norm, "/")

	pf := PrioritizedFile{
		Path:       path,
		Depth:      depth,
		EntryPoint: entryPointNames[base],
	}

	if pf.EntryPoint {
		pf.Tier = TierCore
		return pf
	}

	if tier, ok := keyAreaTier(norm, profile); ok {
		pf.Tier = tier
		return pf
	}

	pf.Tier = keywordTier(norm)
	return pf
}

// keyAreaTier maps the longest matching configured key-area prefix to a tier.
func keyAreaTier(path string, profile Profile) (Tier, bool) {
	bestLen := -1
	bestTier := TierStandard
	for prefix, importance := range profile.KeyAreas {
		p := strings.TrimSuffix(filepath.ToSlash(prefix), "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			if len(p) > bestLen {
				bestLen = len(p)
				bestTier = importanceTier(importance)
			}
		}
	}
	if bestLen < 0 {
		return TierStandard, false
	}
	return bestTier, true
}

func importanceTier(importance string) Tier {
	switch strings.ToLower(importance) {
	case "high", "critical":
		return TierCore
	case "medium":
		return TierImportant
	case "low":
		return TierLeaf
	default:
		return TierStandard
	}
}

func keywordTier(path string) Tier {
	lower := strings.ToLower(path)
	for _, kw := range leafKeywords {
		if strings.Contains(lower, kw) {
			return TierLeaf
		}
	}
	for _, kw := range importantKeywords {
		if strings.Contains(lower, kw) {
			return TierImportant
		}
	}
	return TierStandard
}

// Order returns files in processing order: tier ascending, non-entry-points
// before entry points within a tier, deeper paths first. Leaf and deeper files
// finish first so higher-tier files can link to their published insights
// instead of duplicating them. The sort is stable.
func Order(paths []string, profile Profile) []PrioritizedFile {
	timer := logging.StartTimer(logging.CategoryScheduler, "Order")
	defer timer.Stop()

	files := make([]PrioritizedFile, 0, len(paths))
	for _, p := range paths {
		files = append(files, Classify(p, profile))
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Tier != files[j].Tier {
			return files[i].Tier < files[j].Tier
		}
		if files[i].EntryPoint != files[j].EntryPoint {
			return !files[i].EntryPoint // non-entry-points first
		}
		return files[i].Depth > files[j].Depth // deeper paths first
	})

	logging.SchedulerDebug("Ordered %d files", len(files))
	return files
}

// ChildContextFor returns the strictly-lower-tier files that should be offered
// as context when analyzing target. Only Important and Core targets receive
// child context; candidates share the target's directory or live directly
// under it. This bounds context lookups to relevant neighbors.
func ChildContextFor(target PrioritizedFile, all []PrioritizedFile) []PrioritizedFile {
	if target.Tier < TierImportant {
		return nil
	}

	targetDir := filepath.ToSlash(filepath.Dir(target.Path))

	var children []PrioritizedFile
	for _, f := range all {
		if f.Path == target.Path || f.Tier >= target.Tier {
			continue
		}
		dir := filepath.ToSlash(filepath.Dir(f.Path))
		if dir == targetDir || filepath.ToSlash(filepath.Dir(dir)) == targetDir {
			children = append(children, f)
		}
	}

	logging.SchedulerDebug("Child context for %s (%s): %d candidates",
		target.Path, target.Tier, len(children))
	return children
}
