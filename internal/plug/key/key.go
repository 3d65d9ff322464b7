// Package key parses keybinding specifications declared in plug manifests.
//
// Bindings use modifier+key notation: "Ctrl+Shift+P", "Alt+Enter", "Meta+k".
// Parsing produces a normalized form so that two specs naming the same
// chord compare equal regardless of modifier order or casing.
package key

import (
	"errors"
	"fmt"
	"strings"
)

// Parse errors.
var (
	ErrEmptySpec   = errors.New("empty key specification")
	ErrInvalidSpec = errors.New("invalid key specification")
)

// Modifier is a bitmask of key modifiers.
type Modifier uint8

// Modifier flags.
const (
	ModNone Modifier = 0
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModMeta
)

// modifierNames maps spec tokens to modifier flags. "cmd" and "super"
// are aliases kept for manifests written on macOS and Linux.
var modifierNames = map[string]Modifier{
	"ctrl":  ModCtrl,
	"alt":   ModAlt,
	"opt":   ModAlt,
	"shift": ModShift,
	"meta":  ModMeta,
	"cmd":   ModMeta,
	"super": ModMeta,
}

// specialKeys are recognized non-character key names.
var specialKeys = map[string]bool{
	"enter": true, "return": true, "escape": true, "esc": true,
	"tab": true, "space": true, "backspace": true, "delete": true,
	"up": true, "down": true, "left": true, "right": true,
	"home": true, "end": true, "pageup": true, "pagedown": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true,
	"f6": true, "f7": true, "f8": true, "f9": true, "f10": true,
	"f11": true, "f12": true,
}

// Binding is a parsed key chord.
type Binding struct {
	Mods Modifier
	Key  string // lowercase key name or single character
}

// Parse parses a key specification string into a Binding. Both "+"
// and "-" separate tokens, so "Ctrl+Shift+P" and "Ctrl-Shift-p" name
// the same chord.
func Parse(spec string) (Binding, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Binding{}, ErrEmptySpec
	}

	sep := "+"
	if !strings.Contains(spec, "+") && len([]rune(spec)) > 1 {
		sep = "-"
	}
	parts := strings.Split(spec, sep)
	keyPart := strings.TrimSpace(parts[len(parts)-1])
	if keyPart == "" {
		return Binding{}, fmt.Errorf("%w: %q has no key", ErrInvalidSpec, spec)
	}

	var mods Modifier
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierNames[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return Binding{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidSpec, p)
		}
		mods |= mod
	}

	lower := strings.ToLower(keyPart)
	if specialKeys[lower] {
		return Binding{Mods: mods, Key: canonicalKey(lower)}, nil
	}
	if len([]rune(keyPart)) != 1 {
		return Binding{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSpec, keyPart)
	}
	return Binding{Mods: mods, Key: lower}, nil
}

// Valid reports whether the spec parses.
func Valid(spec string) bool {
	_, err := Parse(spec)
	return err == nil
}

// Normalize returns the canonical string form of the spec, or an error
// if the spec does not parse. Two specs for the same chord normalize to
// the same string.
func Normalize(spec string) (string, error) {
	b, err := Parse(spec)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// canonicalKey folds key-name aliases to one spelling.
func canonicalKey(name string) string {
	switch name {
	case "return":
		return "enter"
	case "esc":
		return "escape"
	default:
		return name
	}
}

// String returns the canonical spec form: modifiers in fixed order,
// lowercase, joined by "+".
func (b Binding) String() string {
	var parts []string
	for _, m := range []struct {
		flag Modifier
		name string
	}{
		{ModCtrl, "ctrl"},
		{ModAlt, "alt"},
		{ModShift, "shift"},
		{ModMeta, "meta"},
	} {
		if b.Mods&m.flag != 0 {
			parts = append(parts, m.name)
		}
	}
	parts = append(parts, b.Key)
	return strings.Join(parts, "+")
}
