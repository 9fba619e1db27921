// Package typeinfo carries external function type declarations — the
// debug- or library-derived signatures that override inference during
// param/return reconstruction. Tables load from YAML files of the
// form:
//
//	functions:
//	  - name: printf
//	    returns: i32
//	    params: ["i8*"]
//	    variadic: true
//	    format_arg: 0
package typeinfo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/binlift/binlift/ir"
)

// Decl is one externally known function signature. FormatArg is the
// index of a printf-style format-string parameter, or -1.
type Decl struct {
	Name      string
	Ret       ir.Type
	Params    []ir.Type
	Variadic  bool
	FormatArg int
}

// Table is a set of declarations indexed by name.
type Table struct {
	decls map[string]*Decl
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{decls: make(map[string]*Decl)}
}

// Add registers a declaration, replacing any previous one of the same
// name.
func (t *Table) Add(d Decl) {
	dd := d
	t.decls[d.Name] = &dd
}

// Lookup returns the declaration for name, if any.
func (t *Table) Lookup(name string) (*Decl, bool) {
	d, ok := t.decls[name]
	return d, ok
}

// Len returns the number of declarations.
func (t *Table) Len() int { return len(t.decls) }

type yamlFile struct {
	Functions []yamlDecl `yaml:"functions"`
}

type yamlDecl struct {
	Name      string   `yaml:"name"`
	Returns   string   `yaml:"returns"`
	Params    []string `yaml:"params"`
	Variadic  bool     `yaml:"variadic"`
	FormatArg *int     `yaml:"format_arg"`
}

// Load reads a declaration table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("typeinfo: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("typeinfo: %w", err)
	}
	t := NewTable()
	for _, yd := range f.Functions {
		d := Decl{Name: yd.Name, Variadic: yd.Variadic, FormatArg: -1}
		if yd.FormatArg != nil {
			d.FormatArg = *yd.FormatArg
		}
		ret, err := ParseType(yd.Returns)
		if err != nil {
			return nil, fmt.Errorf("typeinfo: function %q: %w", yd.Name, err)
		}
		d.Ret = ret
		for _, p := range yd.Params {
			pt, err := ParseType(p)
			if err != nil {
				return nil, fmt.Errorf("typeinfo: function %q: %w", yd.Name, err)
			}
			d.Params = append(d.Params, pt)
		}
		t.Add(d)
	}
	return t, nil
}

// ParseType parses the textual type syntax used by declaration files:
// "void", "iN", "f32"/"f64", and any of those followed by "*"s.
func ParseType(s string) (ir.Type, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "void" {
		return ir.Void, nil
	}
	ptrs := 0
	for strings.HasSuffix(s, "*") {
		s = strings.TrimSuffix(s, "*")
		ptrs++
	}
	var t ir.Type
	switch {
	case strings.HasPrefix(s, "i"):
		bits, err := strconv.Atoi(s[1:])
		if err != nil || bits <= 0 || bits > 128 {
			return ir.Void, fmt.Errorf("bad integer type %q", s)
		}
		t = ir.IntT(uint16(bits))
	case s == "f32":
		t = ir.F32
	case s == "f64":
		t = ir.F64
	default:
		return ir.Void, fmt.Errorf("bad type %q", s)
	}
	for i := 0; i < ptrs; i++ {
		t = ir.PtrTo(t)
	}
	return t, nil
}
