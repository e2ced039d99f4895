package analyzer

import (
	"strings"

	"codeatlas/internal/store"
)

// Parser is the structural-fact collaborator: pure, synchronous, never
// mutates pipeline state. Per-language AST parsers plug in here; the built-in
// implementation is a line-oriented heuristic.
type Parser interface {
	Parse(path, content string) (facts []store.Fact, relations []string)
}

// HeuristicParser extracts declaration-shaped facts from common languages by
// line scanning. It is deliberately shallow; it exists to give analysis
// prompts structural anchors, not to be correct parsing.
type HeuristicParser struct{}

var declPrefixes = map[string]string{
	"func ":      "function",
	"fn ":        "function",
	"def ":       "function",
	"class ":     "type",
	"type ":      "type",
	"struct ":    "type",
	"interface ": "type",
	"impl ":      "impl",
	"const ":     "constant",
}

// Parse scans content for declaration lines and import-like relations.
func (HeuristicParser) Parse(path, content string) ([]store.Fact, []string) {
	var facts []store.Fact
	var relations []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		for prefix, kind := range declPrefixes {
			if !strings.HasPrefix(trimmed, prefix) {
				continue
			}
			name := declName(strings.TrimPrefix(trimmed, prefix))
			if name == "" || seen[kind+":"+name] {
				continue
			}
			seen[kind+":"+name] = true
			facts = append(facts, store.Fact{Name: name, Kind: kind, Detail: trimmed})
			break
		}

		if target, ok := importTarget(trimmed); ok && !seen["import:"+target] {
			seen["import:"+target] = true
			relations = append(relations, target)
		}
	}
	return facts, relations
}

func declName(rest string) string {
	rest = strings.TrimSpace(rest)
	// Skip Go method receivers.
	if strings.HasPrefix(rest, "(") {
		if i := strings.Index(rest, ")"); i >= 0 {
			rest = strings.TrimSpace(rest[i+1:])
		}
	}
	end := len(rest)
	for i, r := range rest {
		if r == '(' || r == '{' || r == ':' || r == '<' || r == ' ' || r == '=' {
			end = i
			break
		}
	}
	return strings.TrimSpace(rest[:end])
}

func importTarget(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "import "):
		rest := strings.TrimPrefix(line, "import ")
		rest = strings.Trim(rest, "\"';")
		if i := strings.IndexByte(rest, ' '); i > 0 {
			rest = rest[:i]
		}
		return rest, rest != "" && rest != "("
	case strings.HasPrefix(line, "use "):
		rest := strings.TrimSuffix(strings.TrimPrefix(line, "use "), ";")
		return rest, rest != ""
	case strings.HasPrefix(line, "from ") && strings.Contains(line, " import "):
		rest := strings.TrimPrefix(line, "from ")
		if i := strings.Index(rest, " import "); i > 0 {
			return rest[:i], true
		}
	}
	return "", false
}
