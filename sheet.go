package cellsheet

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"

	"github.com/crhntr/cellsheet/expression"
)

type cellKey struct {
	Row, Col int
}

// AttributeBag is the per-cell property bag. The core stores and
// round-trips the properties without interpreting them; warnings
// accumulated during evaluation ride along for the UI's red-corner
// indicator.
type AttributeBag struct {
	Props    map[string]any `json:"props,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Sheet holds one sheet's raw cell text, attributes, script sources,
// and the two globals maps computed from the applied script.
type Sheet struct {
	Name  string
	index int

	texts map[cellKey]string
	attrs map[cellKey]*AttributeBag

	script     string
	draft      string
	draftDirty bool

	copyable   map[string]any
	uncopyable map[string]any
}

func newSheet(name string, index int) *Sheet {
	return &Sheet{
		Name:       name,
		index:      index,
		texts:      make(map[cellKey]string),
		attrs:      make(map[cellKey]*AttributeBag),
		copyable:   make(map[string]any),
		uncopyable: make(map[string]any),
	}
}

// ValidateSheetName enforces the naming rules: non-empty, no control
// characters, no leading or trailing whitespace.
func ValidateSheetName(name string) error {
	if name == "" {
		return fmt.Errorf("sheet name must not be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("sheet name %q must not have leading or trailing whitespace", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("sheet name %q must not contain control characters", name)
		}
	}
	return nil
}

var bindingPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)

// applyScript executes the init-script source in a fresh environment
// and, on success, partitions the resulting bindings into copyable and
// uncopyable globals using the deep-clone probe. On failure the
// previously applied globals remain in force. Scripts cannot reference
// cells; the reference rewriter is never run on script source.
func (sheet *Sheet) applyScript(source string) ([]string, error) {
	env := make(map[string]any)
	var warnings []string
	bound := make(map[string]struct{})
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		parts := bindingPattern.FindStringSubmatch(trimmed)
		if parts == nil {
			return nil, fmt.Errorf("script line %d: expected a binding like name = expression", i+1)
		}
		name, rhs := parts[1], parts[2]
		program, err := expr.Compile(rhs, expr.Env(env), expr.AllowUndefinedVariables(), expr.Optimize(false))
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", i+1, err)
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", i+1, err)
		}
		if _, dup := bound[name]; dup {
			warnings = append(warnings, fmt.Sprintf("global %q is bound more than once", name))
		}
		if expression.IsLabel(name) {
			warnings = append(warnings, fmt.Sprintf("global %q shadows a cell label", name))
		}
		bound[name] = struct{}{}
		env[name] = result
	}

	copyableGlobals := make(map[string]any)
	uncopyableGlobals := make(map[string]any)
	for name, v := range env {
		if copyable(v) {
			copyableGlobals[name] = v
			continue
		}
		warnings = append(warnings, fmt.Sprintf("global %q does not survive a deep clone and is shared by reference", name))
		uncopyableGlobals[name] = v
	}
	sheet.copyable = copyableGlobals
	sheet.uncopyable = uncopyableGlobals
	sheet.script = source
	log.Debugf("sheet %q script applied: %d copyable, %d uncopyable globals",
		sheet.Name, len(copyableGlobals), len(uncopyableGlobals))
	return warnings, nil
}

// global resolves a script binding by name. Copyable values come back
// as independent clones; uncopyable ones are shared.
func (sheet *Sheet) global(name string) (any, bool) {
	if v, ok := sheet.copyable[name]; ok {
		clone, err := cloneAny(v)
		if err != nil {
			return v, true
		}
		return clone, true
	}
	if v, ok := sheet.uncopyable[name]; ok {
		return v, true
	}
	return nil, false
}

// clonedGlobals builds the evaluation view of the sheet's globals: a
// deep clone of the copyable bindings merged with the uncopyable ones
// by reference.
func (sheet *Sheet) clonedGlobals() map[string]any {
	env := make(map[string]any, len(sheet.copyable)+len(sheet.uncopyable))
	for name, v := range sheet.copyable {
		clone, err := cloneAny(v)
		if err != nil {
			env[name] = v
			continue
		}
		env[name] = clone
	}
	for name, v := range sheet.uncopyable {
		env[name] = v
	}
	return env
}

func (sheet *Sheet) text(k cellKey) (string, bool) {
	text, ok := sheet.texts[k]
	return text, ok
}

func (sheet *Sheet) setText(k cellKey, text string) {
	if text == "" {
		delete(sheet.texts, k)
		return
	}
	sheet.texts[k] = text
}

func (sheet *Sheet) bag(k cellKey) *AttributeBag {
	b, ok := sheet.attrs[k]
	if !ok {
		b = &AttributeBag{Props: make(map[string]any)}
		sheet.attrs[k] = b
	}
	return b
}

func (sheet *Sheet) warn(k cellKey, message string) {
	b := sheet.bag(k)
	b.Warnings = append(b.Warnings, message)
	log.Warningf("cell %s on sheet %q: %s", expression.Label(k.Row, k.Col), sheet.Name, message)
}

func (sheet *Sheet) clearWarnings(k cellKey) {
	if b, ok := sheet.attrs[k]; ok {
		b.Warnings = nil
		if len(b.Props) == 0 {
			delete(sheet.attrs, k)
		}
	}
}

// Script returns the applied init-script source.
func (sheet *Sheet) Script() string { return sheet.script }

// Draft returns the unsaved script buffer.
func (sheet *Sheet) Draft() string { return sheet.draft }

// SetDraft stores unsaved edits to the script source. The draft is
// never persisted.
func (sheet *Sheet) SetDraft(source string) {
	sheet.draft = source
	sheet.draftDirty = source != sheet.script
}
