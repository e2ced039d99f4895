// Package registry holds completed per-file insights in process memory so
// later pipeline stages can read prior stages' output without a global lock.
//
// Semantics: single writer per key, many readers. Once published, an insight
// is immutable for the remainder of the run. The registry is not persisted;
// it is rebuilt from the checkpoint store on resume.
package registry

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"codeatlas/internal/logging"
	"codeatlas/internal/scheduler"
)

// FileInsight is a completed per-file analysis result.
type FileInsight struct {
	Path     string
	Purpose  string
	Content  string
	Diagram  string
	Related  []string // related-file links
	Tier     scheduler.Tier
	Language string
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	insights map[string]FileInsight
}

// InsightRegistry is a sharded map with per-key single-writer/multi-reader
// guarantees. Fine-grained locks stand in for a lock-free structure; the
// contract is the same.
type InsightRegistry struct {
	shards [shardCount]*shard
}

// New creates an empty registry.
func New() *InsightRegistry {
	r := &InsightRegistry{}
	for i := range r.shards {
		r.shards[i] = &shard{insights: make(map[string]FileInsight)}
	}
	return r
}

func (r *InsightRegistry) shardFor(path string) *shard {
	h := fnv.New32a()
	h.Write([]byte(path))
	return r.shards[h.Sum32()%shardCount]
}

// Publish stores an insight for a path. A path may be published exactly once
// per run; a second publish is rejected so concurrent writers cannot tear an
// already-visible insight.
func (r *InsightRegistry) Publish(insight FileInsight) error {
	sh := r.shardFor(insight.Path)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.insights[insight.Path]; exists {
		return fmt.Errorf("insight already published for %s", insight.Path)
	}
	sh.insights[insight.Path] = insight

	logging.RegistryDebug("Insight published: path=%s tier=%s", insight.Path, insight.Tier)
	return nil
}

// Get returns the insight for a path, if published.
func (r *InsightRegistry) Get(path string) (FileInsight, bool) {
	sh := r.shardFor(path)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	insight, ok := sh.insights[path]
	return insight, ok
}

// Len returns the number of published insights.
func (r *InsightRegistry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.insights)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns a consistent point-in-time copy of all insights sorted by
// path. Consumers read this list, never a live-mutating view.
func (r *InsightRegistry) Snapshot() []FileInsight {
	var insights []FileInsight
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, insight := range sh.insights {
			insights = append(insights, insight)
		}
		sh.mu.RUnlock()
	}

	sort.Slice(insights, func(i, j int) bool {
		return insights[i].Path < insights[j].Path
	})
	return insights
}
