package key

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want Binding
	}{
		{"plain letter", "a", Binding{Key: "a"}},
		{"single modifier", "ctrl+s", Binding{Mods: ModCtrl, Key: "s"}},
		{"two modifiers", "ctrl+shift+p", Binding{Mods: ModCtrl | ModShift, Key: "p"}},
		{"dash separator", "Ctrl-Alt-x", Binding{Mods: ModCtrl | ModAlt, Key: "x"}},
		{"case folded", "CTRL+S", Binding{Mods: ModCtrl, Key: "s"}},
		{"cmd alias", "cmd+k", Binding{Mods: ModMeta, Key: "k"}},
		{"opt alias", "opt+enter", Binding{Mods: ModAlt, Key: "enter"}},
		{"special key", "ctrl+pageup", Binding{Mods: ModCtrl, Key: "pageup"}},
		{"return folds to enter", "return", Binding{Key: "enter"}},
		{"esc folds to escape", "ctrl+esc", Binding{Mods: ModCtrl, Key: "escape"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{
		"",
		"ctrl+",
		"+a",
		"bogus+a",
		"ctrl+notakey",
		"ctrl+shift",
	}
	for _, spec := range tests {
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", spec)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"ctrl+shift+p", "ctrl+shift+p"},
		{"shift+ctrl+P", "ctrl+shift+p"},
		{"Ctrl-Shift-p", "ctrl+shift+p"},
		{"cmd+alt+x", "alt+meta+x"},
		{"return", "enter"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.spec)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", tt.spec, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestNormalizeEquivalence(t *testing.T) {
	a, err := Normalize("Ctrl-Shift-s")
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}
	b, err := Normalize("shift+ctrl+S")
	if err != nil {
		t.Fatalf("Normalize error = %v", err)
	}
	if a != b {
		t.Errorf("equivalent specs normalized differently: %q vs %q", a, b)
	}
}

func TestValid(t *testing.T) {
	if !Valid("ctrl+alt+delete") {
		t.Error("Valid(ctrl+alt+delete) = false, want true")
	}
	if Valid("nope+x") {
		t.Error("Valid(nope+x) = true, want false")
	}
}
