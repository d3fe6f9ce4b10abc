package toolkit

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// CacheKey is (tool_name, canonical_json(args)), matching spec.md
// section 3's CacheKey definition.
type CacheKey struct {
	ToolName     string
	CanonicalArgs string
}

// canonicalize renders args with sorted map keys so two JSON encodings of
// the same logical arguments compare equal; json.Marshal on a decoded
// map[string]any already sorts keys, which is the teacher's own
// convention for canonical JSON (see tool_registry.go's AsJSON helper).
func canonicalize(args json.RawMessage) string {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return string(args)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(args)
	}
	return string(out)
}

type cacheEntry struct {
	result coremodels.ToolResult
	paths  []string
}

// ResultCache is the per-session Tool Result Cache. It caches results of
// idempotent tools keyed by CacheKey, and invalidates entries whose
// argument paths overlap a path touched by a write/exec-class dispatch.
type ResultCache struct {
	mu      sync.Mutex
	entries map[CacheKey]cacheEntry
}

// NewResultCache constructs an empty, per-session cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[CacheKey]cacheEntry)}
}

// Get returns a cached result for (toolName, args), if present.
func (c *ResultCache) Get(toolName string, args json.RawMessage) (coremodels.ToolResult, bool) {
	key := CacheKey{ToolName: toolName, CanonicalArgs: canonicalize(args)}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return coremodels.ToolResult{}, false
	}
	result := e.result
	result.FromCache = true
	return result, true
}

// Put stores a successful idempotent-tool result, recording the argument
// paths so a later write can invalidate it. paths is extracted by the
// caller from the tool's validated args (e.g. the "path" or "paths"
// argument); an empty slice means the result is never invalidated by
// path-aware invalidation (only ever overwritten by an identical call).
func (c *ResultCache) Put(toolName string, args json.RawMessage, result coremodels.ToolResult, paths []string) {
	key := CacheKey{ToolName: toolName, CanonicalArgs: canonicalize(args)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, paths: paths}
}

// InvalidateTouched drops every cache entry whose recorded paths overlap
// any of touchedPaths, implementing spec.md section 3's CacheKey
// invariant: "before a write-class tool commits, every cache entry whose
// key arguments reference a touched path is invalidated."
func (c *ResultCache) InvalidateTouched(touchedPaths []string) {
	if len(touchedPaths) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if pathsOverlap(e.paths, touchedPaths) {
			delete(c.entries, key)
		}
	}
}

func pathsOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pathsRelated(pa, pb) {
				return true
			}
		}
	}
	return false
}

// pathsRelated reports whether p is equal to, an ancestor of, or a
// descendant of q (normalized to forward slashes).
func pathsRelated(p, q string) bool {
	p = strings.TrimSuffix(filepathClean(p), "/")
	q = strings.TrimSuffix(filepathClean(q), "/")
	if p == "" || q == "" {
		return false
	}
	return p == q || strings.HasPrefix(p, q+"/") || strings.HasPrefix(q, p+"/")
}

func filepathClean(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Clear empties the cache, used at session end (spec.md section 3's
// cache lifetime: "per-session; cleared on session end").
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]cacheEntry)
}

// Len reports the number of cached entries, used by tests and metrics.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// extractPathArgs pulls plausible filesystem paths out of a decoded args
// object: any string-valued field literally named "path", or any
// string-valued field inside a "paths" array, matching the common
// argument shapes of file-taking tools named in spec.md section 6.
func extractPathArgs(args json.RawMessage) []string {
	var decoded map[string]any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil
	}
	var out []string
	if p, ok := decoded["path"].(string); ok && p != "" {
		out = append(out, p)
	}
	if arr, ok := decoded["paths"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
