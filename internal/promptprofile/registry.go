// Package promptprofile implements the Prompt Profile Registry and
// Prompt Asset Loader (spec.md sections 3, 6): YAML front-matter
// stripping, versioned prompt assets with a rollback sidecar, the
// core+role+policy+context composition, and hot-reload on mtime change.
package promptprofile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// RegistryFile is the well-known path from spec.md section 6.
const RegistryFile = ".clude/registry/prompt_profiles.yaml"

// fileDoc is the on-disk shape of prompt_profiles.yaml.
type fileDoc struct {
	Profiles map[string]coremodels.PromptProfile `yaml:"profiles"`
}

// DefaultProfile is returned when the registry file is missing or
// malformed, per spec.md section 6: "Malformed file -> log warning +
// fall back to built-in default profile; never crash."
func DefaultProfile() coremodels.PromptProfile {
	return coremodels.PromptProfile{
		Name:      "default",
		RiskLevel: coremodels.RiskMedium,
		SystemRefs: coremodels.SystemRefs{
			Core:   coremodels.PromptRef{Path: "prompts/core.md"},
			Role:   coremodels.PromptRef{Path: "prompts/role_default.md"},
			Policy: coremodels.PromptRef{Path: "prompts/policy_default.md"},
		},
		PlanningEnabled: true,
	}
}

// Registry holds the loaded profile table, reloading from path whenever
// its mtime changes.
type Registry struct {
	path string

	mu       sync.RWMutex
	profiles map[string]coremodels.PromptProfile
	loadedAt time.Time
	mtime    time.Time
	warnings []string
}

// NewRegistry constructs a Registry and performs an initial load. A
// missing or malformed file yields a registry containing only
// DefaultProfile, with the failure recorded in Warnings() rather than
// returned as an error — per spec.md section 6, this must never crash.
func NewRegistry(path string) *Registry {
	if path == "" {
		path = RegistryFile
	}
	r := &Registry{path: path}
	r.reload()
	return r
}

// Warnings returns non-fatal load issues accumulated since construction.
func (r *Registry) Warnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.warnings...)
}

func (r *Registry) reload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fallback := map[string]coremodels.PromptProfile{DefaultProfile().Name: DefaultProfile()}

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.profiles = fallback
		r.warnings = append(r.warnings, fmt.Sprintf("read %s: %v", r.path, err))
		return
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Profiles) == 0 {
		r.profiles = fallback
		r.warnings = append(r.warnings, fmt.Sprintf("parse %s: %v", r.path, err))
		return
	}
	for name, p := range doc.Profiles {
		p.Name = name
		doc.Profiles[name] = p
	}
	r.profiles = doc.Profiles
	r.loadedAt = time.Now()
	if fi, err := os.Stat(r.path); err == nil {
		r.mtime = fi.ModTime()
	}
}

// maybeReload re-reads path if its mtime advanced since the last load,
// matching spec.md section 6's "Hot-reload on mtime change."
func (r *Registry) maybeReload() {
	fi, err := os.Stat(r.path)
	if err != nil {
		return
	}
	r.mu.RLock()
	stale := fi.ModTime().After(r.mtime)
	r.mu.RUnlock()
	if stale {
		r.reload()
	}
}

// Watch starts an fsnotify watch on path's directory and reloads
// immediately on any write/create/rename touching it, rather than
// waiting for the next Get call to notice the mtime change. It runs
// until ctx is cancelled. A missing directory degrades to silent no-op
// (maybeReload on Get still covers that case); watch setup failures are
// recorded as warnings, never fatal, matching this package's "never
// crash" contract.
func (r *Registry) Watch(ctx context.Context) {
	dir := filepath.Dir(r.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Lock()
		r.warnings = append(r.warnings, fmt.Sprintf("watch %s: %v", dir, err))
		r.mu.Unlock()
		return
	}
	if err := w.Add(dir); err != nil {
		r.mu.Lock()
		r.warnings = append(r.warnings, fmt.Sprintf("watch %s: %v", dir, err))
		r.mu.Unlock()
		w.Close()
		return
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(r.path) {
					r.reload()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Get returns the named profile, falling back to DefaultProfile if name
// is unregistered.
func (r *Registry) Get(name string) coremodels.PromptProfile {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[name]; ok {
		return p
	}
	return DefaultProfile()
}

// --- Prompt asset loading -------------------------------------------

// Asset is one loaded, front-matter-stripped prompt file plus the
// metadata spec.md section 6 allows in its YAML front matter.
type Asset struct {
	Title         string   `yaml:"title"`
	Version       string   `yaml:"version"`
	Layer         string   `yaml:"layer"`
	ToolsExpected []string `yaml:"tools_expected"`
	Constraints   []string `yaml:"constraints"`
	Body          string   `yaml:"-"`
}

var frontMatterFence = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n?`)

// versionedName matches `name_vX.Y.Z.ext`.
var versionedName = regexp.MustCompile(`^(.*)_v(\d+\.\d+\.\d+)(\.[a-zA-Z0-9]+)$`)

// versionPointer is the sidecar prompt_versions.json shape, `{ ref ->
// {current, previous} }` from spec.md section 6.
type versionPointer struct {
	Current  string `json:"current"`
	Previous string `json:"previous,omitempty"`
}

// Loader is the process-wide, read-mostly asset cache keyed by path and
// revalidated against the file's mtime: the only other long-lived
// singleton besides the Tool Registry (spec.md section 9's "Global
// state" note). The cache is unbounded: entries are never evicted by
// size or recency, only dropped by WatchDir when their file changes.
type Loader struct {
	mu    sync.Mutex
	cache map[string]cachedAsset
}

type cachedAsset struct {
	asset Asset
	mtime time.Time
}

// NewLoader constructs an empty Loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]cachedAsset)}
}

// WatchDir starts an fsnotify watch on dir and evicts any cached asset
// under it as soon as its file changes, so the next Load call re-parses
// from disk instead of waiting for a mtime check to catch up. Failures
// to set up the watch are silently ignored: Load's own mtime comparison
// is a correct, if slightly slower, fallback.
func (l *Loader) WatchDir(ctx context.Context, dir string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				l.mu.Lock()
				delete(l.cache, filepath.Clean(ev.Name))
				l.mu.Unlock()
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Load reads and parses the prompt asset at path, serving from cache
// when the file's mtime has not advanced. Front matter is always
// stripped from Body before the asset is returned, matching spec.md
// section 6: "Front matter MUST be stripped before sending to the LLM."
func (l *Loader) Load(path string) (Asset, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Asset{}, fmt.Errorf("stat %s: %w", path, err)
	}

	l.mu.Lock()
	if c, ok := l.cache[path]; ok && !fi.ModTime().After(c.mtime) {
		l.mu.Unlock()
		return c.asset, nil
	}
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, fmt.Errorf("read %s: %w", path, err)
	}
	asset, err := parseAsset(data)
	if err != nil {
		return Asset{}, fmt.Errorf("parse %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = cachedAsset{asset: asset, mtime: fi.ModTime()}
	l.mu.Unlock()
	return asset, nil
}

// ResolveVersion finds the concrete on-disk path for ref, consulting
// dir's prompt_versions.json sidecar when ref.Version is empty ("current")
// per spec.md section 6. A pinned ref.Version is honored by substituting
// it into the versioned filename pattern directly.
func ResolveVersion(dir string, ref coremodels.PromptRef) (string, error) {
	base := filepath.Join(dir, ref.Path)
	if ref.Version != "" {
		return withVersion(base, ref.Version), nil
	}

	sidecar := filepath.Join(dir, "prompt_versions.json")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		// no sidecar: unversioned ref.Path is the current file.
		return base, nil
	}
	var pointers map[string]versionPointer
	if err := yamlOrJSON(data, &pointers); err != nil {
		return base, nil
	}
	if p, ok := pointers[ref.Path]; ok && p.Current != "" {
		return withVersion(base, p.Current), nil
	}
	return base, nil
}

func withVersion(base, version string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_v%s%s", stem, version, ext)
}

func parseAsset(data []byte) (Asset, error) {
	m := frontMatterFence.FindSubmatch(data)
	if m == nil {
		return Asset{Body: strings.TrimSpace(string(data))}, nil
	}
	var asset Asset
	if err := yaml.Unmarshal(m[1], &asset); err != nil {
		return Asset{}, fmt.Errorf("front matter: %w", err)
	}
	asset.Body = strings.TrimSpace(string(data[len(m[0]):]))
	return asset, nil
}

// yamlOrJSON decodes data as YAML, which is a JSON superset, so the same
// unmarshaler handles prompt_versions.json's JSON body without pulling
// in a second codec.
func yamlOrJSON(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
