package plug

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// manifestNames are the file names probed in a bundle directory, in
// preference order.
var manifestNames = []string{"plug.json", "plug.yaml", "plug.yml"}

// Bundle is one discovered plug directory plus its parsed manifest.
// A bundle whose manifest failed to parse or validate carries the
// error instead; LoadAll reports it without aborting the others.
type Bundle struct {
	Name     string
	Dir      string
	Manifest *Manifest
	Err      error
}

// Loader discovers plug bundles under a set of search paths.
type Loader struct {
	paths  []string
	logger *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger. Defaults to a no-op logger.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader over the given search paths. Missing
// paths are tolerated at discovery time.
func NewLoader(paths []string, opts ...LoaderOption) *Loader {
	l := &Loader{paths: paths}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Discover walks the search paths and returns one bundle per plug
// directory, sorted by name within each path so discovery order is
// stable across runs. A directory is a plug when it contains a
// manifest file. Search paths that do not exist are skipped.
func (l *Loader) Discover() []Bundle {
	var bundles []Bundle
	seen := make(map[string]string)

	for _, root := range l.paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("cannot read plug path",
					zap.String("path", root), zap.Error(err))
			}
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			dir := filepath.Join(root, name)
			b, ok := l.loadBundle(name, dir)
			if !ok {
				continue
			}
			if first, dup := seen[b.Name]; dup {
				l.logger.Warn("duplicate plug shadowed by earlier search path",
					zap.String("plug", b.Name),
					zap.String("kept", first),
					zap.String("shadowed", dir))
				continue
			}
			seen[b.Name] = dir
			bundles = append(bundles, b)
		}
	}
	return bundles
}

// loadBundle probes one directory for a manifest. The second result
// is false when the directory is not a plug at all.
func (l *Loader) loadBundle(dirName, dir string) (Bundle, bool) {
	for _, mf := range manifestNames {
		path := filepath.Join(dir, mf)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := LoadManifest(path)
		if err != nil {
			return Bundle{Name: dirName, Dir: dir, Err: fmt.Errorf("load %s: %w", path, err)}, true
		}
		return Bundle{Name: m.Name, Dir: dir, Manifest: m}, true
	}
	return Bundle{}, false
}
