package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	cuejson "cuelang.org/go/encoding/json"
	"github.com/go-playground/validator/v10"
)

// Parser loads CUE configuration files into a PipelineConfig.
type Parser struct {
	ctx       *cue.Context
	schema    *Schema
	validator *validator.Validate
	env       map[string]string
}

// NewParser creates a parser with the embedded schema.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema, err := NewSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &Parser{
		ctx:       ctx,
		schema:    schema,
		validator: newValidator(),
	}, nil
}

// WithEnv replaces the process environment used by Load. Tests use it.
func (p *Parser) WithEnv(env map[string]string) *Parser {
	p.env = env
	return p
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads path, applies environment overrides from envFile and the
// process, and validates the result. A missing file at DefaultPath yields
// Default(); any other missing file is an error.
func (p *Parser) Load(ctx context.Context, path, envFile string) (*PipelineConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	var (
		cfg *PipelineConfig
		val cue.Value
	)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		cfg = Default()
	} else {
		cfg, val, err = p.parse(ctx, []string{path})
		if err != nil {
			return nil, err
		}
	}

	env, err := p.environment(envFile)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, env)

	if err := p.check(cfg, val); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads and validates configuration from files or directories of
// .cue files. Sources are unified in order.
func (p *Parser) Parse(ctx context.Context, sources []string) (*PipelineConfig, error) {
	cfg, val, err := p.parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if err := p.check(cfg, val); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBytes reads and validates configuration held in memory.
func (p *Parser) ParseBytes(ctx context.Context, name string, data []byte) (*PipelineConfig, error) {
	val := p.ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, &Error{Errors: convertCUEErrors(err)}
	}
	cfg, val, err := p.decode(val)
	if err != nil {
		return nil, err
	}
	if err := p.check(cfg, val); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Parser) parse(ctx context.Context, sources []string) (*PipelineConfig, cue.Value, error) {
	if len(sources) == 0 {
		return nil, cue.Value{}, fmt.Errorf("no configuration sources provided")
	}

	var (
		files []string
		errs  []ValidationError
	)
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, cue.Value{}, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, cue.Value{}, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}
		found, err := filepath.Glob(filepath.Join(source, "*.cue"))
		if err != nil {
			return nil, cue.Value{}, fmt.Errorf("failed to list %s: %w", source, err)
		}
		if len(found) == 0 {
			errs = append(errs, ValidationError{File: source, Message: "no CUE files found"})
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	var merged cue.Value
	for _, file := range files {
		val, fileErrs := p.loadFile(file)
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			continue
		}
		if merged.Exists() {
			merged = merged.Unify(val)
		} else {
			merged = val
		}
	}
	if len(errs) > 0 {
		return nil, cue.Value{}, &Error{Errors: errs}
	}

	return p.decode(merged)
}

func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := p.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// decode unifies val with the schema and decodes the concrete result.
func (p *Parser) decode(val cue.Value) (*PipelineConfig, cue.Value, error) {
	unified := p.schema.Apply(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cue.Value{}, &Error{Errors: convertCUEErrors(err)}
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cue.Value{}, &Error{Errors: convertCUEErrors(err)}
	}

	var cfg PipelineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cue.Value{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, unified, nil
}

// check runs struct validation and maps failures back to source positions
// through val when it holds one.
func (p *Parser) check(cfg *PipelineConfig, val cue.Value) error {
	err := p.validator.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fieldPath(fe.Namespace())
		ve := ValidationError{Path: path, Message: fieldMessage(fe)}
		if val.Exists() {
			if pos := val.LookupPath(cue.ParsePath(path)).Pos(); pos.IsValid() && pos.Filename() != SchemaFile {
				ve.File = pos.Filename()
				ve.Line = pos.Line()
				ve.Column = pos.Column()
			}
		}
		out = append(out, ve)
	}
	return &Error{Errors: out}
}

// fieldPath turns a validator namespace such as
// "PipelineConfig.landsat.WindowConfig.start" into "landsat.start". Map
// keys become selectors; list indexes stay bracketed.
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	kept := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		if part == "WindowConfig" {
			continue
		}
		if i := strings.IndexByte(part, '['); i >= 0 {
			key := strings.Trim(part[i:], "[]")
			if _, err := strconv.Atoi(key); err != nil {
				kept = append(kept, part[:i], key)
				continue
			}
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, ".")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must satisfy %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("must not be less than %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("must be a date in %s form", fe.Param())
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(cueerrors.Details(e, nil)),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// Encode renders cfg as CUE source.
func Encode(cfg *PipelineConfig) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	expr, err := cuejson.Extract(DefaultPath, data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert configuration: %w", err)
	}
	lit, ok := expr.(*ast.StructLit)
	if !ok {
		return nil, fmt.Errorf("configuration is not a struct")
	}

	out, err := format.Node(&ast.File{Decls: lit.Elts})
	if err != nil {
		return nil, fmt.Errorf("failed to format configuration: %w", err)
	}
	return out, nil
}
