package plug

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/markhost/markhost/internal/plug/syscall"
)

func TestParseManifestJSON(t *testing.T) {
	raw := `{
		"name": "emoji",
		"version": "1.2.0",
		"description": "Emoji picker",
		"capabilities": ["index", "event"],
		"functions": {
			"emojiComplete": {
				"path": "emoji.lua",
				"events": ["page:complete"]
			},
			"insertEmoji": {
				"code": "function insertEmoji() end",
				"slashCommand": {"name": "emoji", "description": "Insert an emoji"}
			}
		}
	}`

	m, err := ParseManifest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if m.Name != "emoji" {
		t.Errorf("Name = %q, want %q", m.Name, "emoji")
	}
	if m.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", m.Version, "1.2.0")
	}
	if !m.HasCapability(syscall.CapIndex) || !m.HasCapability(syscall.CapEvent) {
		t.Errorf("Capabilities = %v, want index and event", m.Capabilities)
	}
	fn, ok := m.Functions["emojiComplete"]
	if !ok {
		t.Fatal("function emojiComplete missing")
	}
	if fn.Path != "emoji.lua" {
		t.Errorf("Path = %q, want %q", fn.Path, "emoji.lua")
	}
	if len(fn.Events) != 1 || fn.Events[0] != "page:complete" {
		t.Errorf("Events = %v, want [page:complete]", fn.Events)
	}
	sc := m.Functions["insertEmoji"].SlashCommand
	if sc == nil || sc.Name != "emoji" {
		t.Errorf("SlashCommand = %+v, want name emoji", sc)
	}
}

func TestParseManifestYAML(t *testing.T) {
	raw := `
name: tagger
version: 0.3.0
capabilities:
  - index
functions:
  indexTags:
    path: tags.lua
    env: server
    events:
      - page:index
  tagCommand:
    code: function tagCommand() end
    command:
      name: "Tags: List"
      key: ctrl+shift+t
      priority: 2
`
	m, err := ParseManifest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if m.Name != "tagger" {
		t.Errorf("Name = %q, want %q", m.Name, "tagger")
	}
	fn := m.Functions["indexTags"]
	if fn.Env != "server" {
		t.Errorf("Env = %q, want %q", fn.Env, "server")
	}
	cmd := m.Functions["tagCommand"].Command
	if cmd == nil {
		t.Fatal("command declaration missing")
	}
	if cmd.Name != "Tags: List" || cmd.Key != "ctrl+shift+t" || cmd.Priority != 2 {
		t.Errorf("Command = %+v", cmd)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			"missing name",
			`{"functions": {"f": {"code": "function f() end"}}}`,
			ErrMissingName,
		},
		{
			"bad name",
			`{"name": "Has Spaces", "functions": {"f": {"code": "x"}}}`,
			ErrInvalidName,
		},
		{
			"no functions",
			`{"name": "empty"}`,
			ErrNoFunctions,
		},
		{
			"function without source",
			`{"name": "p", "functions": {"f": {}}}`,
			ErrMissingCode,
		},
		{
			"bad environment",
			`{"name": "p", "functions": {"f": {"code": "x", "env": "edge"}}}`,
			ErrInvalidEnv,
		},
		{
			"unknown capability",
			`{"name": "p", "capabilities": ["root"], "functions": {"f": {"code": "x"}}}`,
			ErrInvalidCap,
		},
		{
			"command without name",
			`{"name": "p", "functions": {"f": {"code": "x", "command": {}}}}`,
			ErrMissingCommand,
		},
		{
			"bad keybinding",
			`{"name": "p", "functions": {"f": {"code": "x", "command": {"name": "C", "key": "bogus+z"}}}}`,
			ErrInvalidKey,
		},
		{
			"bad namespace pattern",
			`{"name": "p", "functions": {"f": {"code": "x", "pageNamespace": {"pattern": "(", "operation": "readFile"}}}}`,
			ErrInvalidPattern,
		},
		{
			"bad namespace operation",
			`{"name": "p", "functions": {"f": {"code": "x", "pageNamespace": {"pattern": "a/.*", "operation": "burnFile"}}}}`,
			ErrInvalidOperation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseManifest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseManifestMalformed(t *testing.T) {
	if _, err := ParseManifest([]byte(`{"name": `)); err == nil {
		t.Error("ParseManifest() with truncated JSON expected error")
	}
	if _, err := ParseManifest([]byte("name: [unclosed")); err == nil {
		t.Error("ParseManifest() with bad YAML expected error")
	}
}

func TestLoadManifestRecordsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plug.json")
	raw := `{"name": "p", "functions": {"f": {"path": "f.lua"}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", m.Dir(), dir)
	}
}

func TestFunctionNamesSorted(t *testing.T) {
	m := &Manifest{
		Name: "p",
		Functions: map[string]FunctionDef{
			"zeta":  {Code: "x"},
			"alpha": {Code: "x"},
			"mid":   {Code: "x"},
		},
	}
	got := m.FunctionNames()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FunctionNames() = %v, want %v", got, want)
		}
	}
}
