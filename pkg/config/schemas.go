package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
)

// SchemaFile is the name positions inside the embedded schema report.
const SchemaFile = "schema/trendfire.cue"

//go:embed schema/trendfire.cue
var schemaSource []byte

// Schema is the compiled #TrendFire definition every config file is
// unified with. It supplies defaults and rejects unknown fields.
type Schema struct {
	def cue.Value
}

// NewSchema compiles the embedded schema in ctx.
func NewSchema(ctx *cue.Context) (*Schema, error) {
	val := ctx.CompileBytes(schemaSource, cue.Filename(SchemaFile))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#TrendFire"))
	if !def.Exists() {
		return nil, fmt.Errorf("schema has no #TrendFire definition")
	}
	return &Schema{def: def}, nil
}

// Apply unifies val with the schema.
func (s *Schema) Apply(val cue.Value) cue.Value {
	return s.def.Unify(val)
}

// Source returns the schema text.
func (s *Schema) Source() string {
	return string(schemaSource)
}
