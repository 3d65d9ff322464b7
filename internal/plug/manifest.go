package plug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/markhost/markhost/internal/plug/key"
	"github.com/markhost/markhost/internal/plug/syscall"
)

// Manifest describes a plug's declared surface: its functions and the
// triggers that bind them to events, commands, slash commands, and
// page namespaces. A manifest is replaced wholesale on reload, never
// mutated in place.
type Manifest struct {
	// Identity
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`

	// Capabilities requested for syscall access.
	Capabilities []syscall.Capability `json:"capabilities" yaml:"capabilities"`

	// Functions keyed by function name. Keys are unique within a
	// manifest by construction.
	Functions map[string]FunctionDef `json:"functions" yaml:"functions"`

	// Internal: directory the manifest was loaded from.
	dir string
}

// FunctionDef declares one plug function and its triggers. A single
// definition may carry several trigger kinds at once.
type FunctionDef struct {
	// Path is the Lua source file, relative to the bundle directory,
	// that defines the function. Code is an inline alternative; one of
	// the two is required.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	// Env restricts where the function runs: "client", "server", or
	// empty for either.
	Env string `json:"env,omitempty" yaml:"env,omitempty"`

	// Events the function subscribes to.
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`

	// Command exposes the function as an invocable named action.
	Command *CommandDecl `json:"command,omitempty" yaml:"command,omitempty"`

	// SlashCommand exposes the function as a text-triggered action.
	SlashCommand *SlashDecl `json:"slashCommand,omitempty" yaml:"slashCommand,omitempty"`

	// PageNamespace claims a class of virtual page names.
	PageNamespace *NamespaceDecl `json:"pageNamespace,omitempty" yaml:"pageNamespace,omitempty"`
}

// CommandDecl declares a command trigger.
type CommandDecl struct {
	Name     string   `json:"name" yaml:"name"`
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Mac      string   `json:"mac,omitempty" yaml:"mac,omitempty"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Contexts []string `json:"contexts,omitempty" yaml:"contexts,omitempty"`
}

// SlashDecl declares a slash-command trigger.
type SlashDecl struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Priority    int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// NamespaceDecl declares a page-namespace trigger: a regex over page
// names plus the storage operation the function services.
type NamespaceDecl struct {
	Pattern   string `json:"pattern" yaml:"pattern"`
	Operation string `json:"operation" yaml:"operation"`
}

// Recognized namespace operations.
var validOperations = map[string]bool{
	"readFile":    true,
	"getFileMeta": true,
}

// namePattern validates plug names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// ParseManifest parses and validates a manifest from raw bytes. JSON
// and YAML are both accepted; the first non-space byte decides.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	trimmed := strings.TrimLeftFunc(string(raw), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest loads and validates a manifest from a file, recording
// the bundle directory for source resolution.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Validate checks that the manifest is well-formed. A failed
// validation excludes only this plug; plugs already loaded are
// unaffected.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}
	if len(m.Functions) == 0 {
		return fmt.Errorf("%w: %s", ErrNoFunctions, m.Name)
	}

	for _, cap := range m.Capabilities {
		if !syscall.ValidCapability(cap) {
			return fmt.Errorf("%w: %s", ErrInvalidCap, cap)
		}
	}

	for name, fn := range m.Functions {
		if name == "" {
			return fmt.Errorf("%w: empty function name", ErrNoFunctions)
		}
		if fn.Path == "" && fn.Code == "" {
			return fmt.Errorf("%w: %s", ErrMissingCode, name)
		}
		if _, err := syscall.ParseEnv(fn.Env); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEnv, name, err)
		}
		if cmd := fn.Command; cmd != nil {
			if cmd.Name == "" {
				return fmt.Errorf("%w: %s", ErrMissingCommand, name)
			}
			if cmd.Key != "" && !key.Valid(cmd.Key) {
				return fmt.Errorf("%w: %s: %q", ErrInvalidKey, name, cmd.Key)
			}
			if cmd.Mac != "" && !key.Valid(cmd.Mac) {
				return fmt.Errorf("%w: %s: %q", ErrInvalidKey, name, cmd.Mac)
			}
		}
		if sc := fn.SlashCommand; sc != nil && sc.Name == "" {
			return fmt.Errorf("%w: %s", ErrMissingSlash, name)
		}
		if ns := fn.PageNamespace; ns != nil {
			if _, err := regexp.Compile(ns.Pattern); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidPattern, name, err)
			}
			if !validOperations[ns.Operation] {
				return fmt.Errorf("%w: %s: %q", ErrInvalidOperation, name, ns.Operation)
			}
		}
	}
	return nil
}

// Dir returns the bundle directory, or empty for manifests parsed from
// raw bytes.
func (m *Manifest) Dir() string {
	return m.dir
}

// SetDir records the bundle directory used to resolve function paths.
func (m *Manifest) SetDir(dir string) {
	m.dir = dir
}

// FunctionNames returns the declared function names in sorted order.
// Go maps have no stable iteration order, so sorted name order is the
// registration order used everywhere determinism matters.
func (m *Manifest) FunctionNames() []string {
	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCapability reports whether the manifest requests the capability.
func (m *Manifest) HasCapability(cap syscall.Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// String returns "name vversion" for logs.
func (m *Manifest) String() string {
	if m.Version == "" {
		return m.Name
	}
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
