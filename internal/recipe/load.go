package recipe

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// CompileError represents a recipe error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile loads every recipe declared in a CUE file.
func LoadFile(path string) ([]Recipe, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("recipe file: %w", err)
	}
	insts := load.Instances([]string{filepath.Base(path)}, &load.Config{Dir: filepath.Dir(path)})
	return fromInstances(insts)
}

// LoadDir loads the recipes of the CUE package in dir.
func LoadDir(dir string) ([]Recipe, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("recipe dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	insts := load.Instances([]string{"."}, &load.Config{Dir: dir})
	return fromInstances(insts)
}

// Parse loads recipes from CUE source. filename is used in error positions.
func Parse(src []byte, filename string) ([]Recipe, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return extract(ctx, v)
}

// Find returns the recipe called name.
func Find(recipes []Recipe, name string) (Recipe, error) {
	for _, r := range recipes {
		if r.Name == name {
			return r, nil
		}
	}
	names := make([]string, 0, len(recipes))
	for _, r := range recipes {
		names = append(names, r.Name)
	}
	return Recipe{}, fmt.Errorf("recipe %q not found (have %v)", name, names)
}

func fromInstances(insts []*build.Instance) ([]Recipe, error) {
	if len(insts) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded")
	}
	inst := insts[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return extract(ctx, v)
}

// extract validates every recipe.<name> against #Recipe and decodes it.
// Recipes are returned sorted by name.
func extract(ctx *cue.Context, v cue.Value) ([]Recipe, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("recipe schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Recipe"))

	root := v.LookupPath(cue.ParsePath("recipe"))
	if !root.Exists() {
		return nil, &CompileError{Field: "recipe", Message: "no recipe struct found", Pos: v.Pos()}
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []Recipe
	for iter.Next() {
		name := iter.Selector().Unquoted()
		unified := def.Unify(iter.Value())
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return nil, formatCUEError(err)
		}
		var r Recipe
		if err := unified.Decode(&r); err != nil {
			return nil, &CompileError{Field: "recipe." + name, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		r.Name = name
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "recipe", Message: "no recipes declared", Pos: root.Pos()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
