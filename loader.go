package execpolicy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
)

// matcherConstants are the argument matchers predeclared in policy sources.
var matcherConstants = map[string]ArgMatcher{
	"ARG_OPAQUE_VALUE":       MatchOpaqueNonFile,
	"ARG_RFILE":              MatchReadableFile,
	"ARG_WFILE":              MatchWriteableFile,
	"ARG_POS_INT":            MatchPositiveInteger,
	"ARG_SED_COMMAND":        MatchSedCommand,
	"ARG_RFILES":             MatchReadableFiles,
	"ARG_RFILES_OR_CWD":      MatchReadableFilesOrCwd,
	"ARG_UNVERIFIED_VARARGS": MatchUnverifiedVarargs,
}

// specValue is the Starlark value produced by the flag, opt, arg, when and
// literal builtins and by the ARG_* constants.
type specValue struct {
	kind string
	flag string
	opt  Opt
	slot ArgSlot
	cond Condition
}

var _ starlark.Value = (*specValue)(nil)

func (v *specValue) String() string {
	switch v.kind {
	case "flag":
		return fmt.Sprintf("flag(%q)", v.flag)
	case "opt":
		return fmt.Sprintf("opt(%q, %s)", v.opt.Name, v.opt.Type)
	case "arg":
		return fmt.Sprintf("arg(%s)", v.slot.Matcher)
	case "when":
		return fmt.Sprintf("when(present=%q, absent=%q)", v.cond.With, v.cond.Without)
	default:
		return v.kind
	}
}

func (v *specValue) Type() string         { return v.kind }
func (v *specValue) Freeze()              {}
func (v *specValue) Truth() starlark.Bool { return starlark.True }

func (v *specValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.kind)
}

// policyBuilder accumulates the definitions made while a policy source runs.
type policyBuilder struct {
	specs []*ProgramSpec
	opts  []Option
}

// ParsePolicy evaluates a Starlark policy source. The source declares
// programs with define_program() and may add policy-wide rules with
// forbid_program_regex() and forbid_substrings(). Every declared
// should_match / should_not_match example is checked before returning.
func ParsePolicy(filename, source string, opts ...Option) (*Policy, error) {
	b := &policyBuilder{}
	thread := &starlark.Thread{Name: filename}

	if _, err := starlark.ExecFile(thread, filename, source, b.predeclared()); err != nil {
		return nil, &PolicyParseErr{
			File:    filename,
			Message: fmt.Sprintf("starlark: %v", err),
			Cause:   err,
		}
	}
	return b.build(filename, opts)
}

// LoadPolicyFile reads a policy from disk. Files ending in .yaml or .yml are
// decoded as YAML; anything else is evaluated as Starlark.
func LoadPolicyFile(path string, opts ...Option) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParsePolicyYAML(path, data, opts...)
	default:
		return ParsePolicy(path, string(data), opts...)
	}
}

func (b *policyBuilder) build(filename string, opts []Option) (*Policy, error) {
	if len(b.specs) == 0 {
		return nil, &PolicyParseErr{File: filename, Message: ErrEmptyPolicy.Error(), Cause: ErrEmptyPolicy}
	}
	p, err := NewPolicy(b.specs, append(b.opts, opts...)...)
	if err != nil {
		return nil, &PolicyParseErr{File: filename, Message: err.Error(), Cause: err}
	}
	if err := p.CheckExamples(); err != nil {
		return nil, &PolicyParseErr{File: filename, Message: err.Error(), Cause: err}
	}
	return p, nil
}

func (b *policyBuilder) addProgram(def ProgramDef) error {
	spec, err := NewProgramSpec(def)
	if err != nil {
		return err
	}
	b.specs = append(b.specs, spec)
	return nil
}

func (b *policyBuilder) forbidProgramRegex(expr, reason string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	b.opts = append(b.opts, WithForbiddenProgramRegex(re, reason))
	return nil
}

func (b *policyBuilder) predeclared() starlark.StringDict {
	env := starlark.StringDict{
		"define_program":       starlark.NewBuiltin("define_program", b.defineProgram),
		"flag":                 starlark.NewBuiltin("flag", builtinFlag),
		"opt":                  starlark.NewBuiltin("opt", builtinOpt),
		"arg":                  starlark.NewBuiltin("arg", builtinArg),
		"when":                 starlark.NewBuiltin("when", builtinWhen),
		"literal":              starlark.NewBuiltin("literal", builtinLiteral),
		"forbid_program_regex": starlark.NewBuiltin("forbid_program_regex", b.builtinForbidProgramRegex),
		"forbid_substrings":    starlark.NewBuiltin("forbid_substrings", b.builtinForbidSubstrings),
	}
	for name, m := range matcherConstants {
		env[name] = &specValue{kind: "matcher", slot: ArgSlot{Matcher: m}}
	}
	return env
}

func (b *policyBuilder) defineProgram(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		program        string
		systemPath     *starlark.List
		options        *starlark.List
		argList        *starlark.List
		forbidden      string
		shouldMatch    *starlark.List
		shouldNotMatch *starlark.List
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"program", &program,
		"system_path?", &systemPath,
		"options?", &options,
		"args?", &argList,
		"forbidden?", &forbidden,
		"should_match?", &shouldMatch,
		"should_not_match?", &shouldNotMatch,
	); err != nil {
		return nil, err
	}

	def := ProgramDef{Program: program, Forbidden: forbidden}

	var err error
	if def.SystemPath, err = starlarkStrings(systemPath); err != nil {
		return nil, fmt.Errorf("system_path: %w", err)
	}
	if err := eachValue(options, func(v starlark.Value) error {
		sv, ok := v.(*specValue)
		if !ok {
			return fmt.Errorf("options: expected flag() or opt(), got %s", v.Type())
		}
		switch sv.kind {
		case "flag":
			def.Flags = append(def.Flags, sv.flag)
		case "opt":
			def.Opts = append(def.Opts, sv.opt)
		default:
			return fmt.Errorf("options: expected flag() or opt(), got %s", sv.kind)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := eachValue(argList, func(v starlark.Value) error {
		sv, ok := v.(*specValue)
		if !ok || (sv.kind != "arg" && sv.kind != "matcher") {
			return fmt.Errorf("args: expected arg() or an ARG_* matcher, got %s", v.Type())
		}
		def.Args = append(def.Args, sv.slot)
		return nil
	}); err != nil {
		return nil, err
	}
	if def.ShouldMatch, err = starlarkExamples(shouldMatch); err != nil {
		return nil, fmt.Errorf("should_match: %w", err)
	}
	if def.ShouldNotMatch, err = starlarkExamples(shouldNotMatch); err != nil {
		return nil, fmt.Errorf("should_not_match: %w", err)
	}

	if err := b.addProgram(def); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func builtinFlag(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return &specValue{kind: "flag", flag: name}, nil
}

func builtinOpt(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		name     string
		typ      starlark.Value
		required bool
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &name,
		"type", &typ,
		"required?", &required,
	); err != nil {
		return nil, err
	}
	sv, ok := typ.(*specValue)
	if !ok || sv.kind != "matcher" || sv.slot.Matcher.IsVararg() {
		return nil, fmt.Errorf("opt %s: type must be a single-value ARG_* matcher or literal()", name)
	}
	return &specValue{kind: "opt", opt: Opt{
		Name:     name,
		Type:     sv.slot.Matcher.ArgType(),
		Literal:  sv.slot.Literal,
		Required: required,
	}}, nil
}

func builtinArg(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		matcher   starlark.Value
		cond      starlark.Value = starlark.None
		satisfies string
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"matcher", &matcher,
		"when?", &cond,
		"satisfies?", &satisfies,
	); err != nil {
		return nil, err
	}
	mv, ok := matcher.(*specValue)
	if !ok || mv.kind != "matcher" {
		return nil, fmt.Errorf("arg: matcher must be an ARG_* matcher or literal(), got %s", matcher.Type())
	}
	slot := mv.slot
	slot.Satisfies = satisfies
	if cond != starlark.None {
		cv, ok := cond.(*specValue)
		if !ok || cv.kind != "when" {
			return nil, fmt.Errorf("arg: when must be a when() condition, got %s", cond.Type())
		}
		c := cv.cond
		slot.When = &c
	}
	return &specValue{kind: "arg", slot: slot}, nil
}

func builtinWhen(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var present, absent *starlark.List
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"present?", &present,
		"absent?", &absent,
	); err != nil {
		return nil, err
	}
	with, err := starlarkStrings(present)
	if err != nil {
		return nil, fmt.Errorf("when: present: %w", err)
	}
	without, err := starlarkStrings(absent)
	if err != nil {
		return nil, fmt.Errorf("when: absent: %w", err)
	}
	return &specValue{kind: "when", cond: Condition{With: with, Without: without}}, nil
}

func builtinLiteral(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	return &specValue{kind: "matcher", slot: ArgSlot{Matcher: MatchLiteral, Literal: value}}, nil
}

func (b *policyBuilder) builtinForbidProgramRegex(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var expr, reason string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "regex", &expr, "reason", &reason); err != nil {
		return nil, err
	}
	if err := b.forbidProgramRegex(expr, reason); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (b *policyBuilder) builtinForbidSubstrings(
	thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var list *starlark.List
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &list); err != nil {
		return nil, err
	}
	subs, err := starlarkStrings(list)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	b.opts = append(b.opts, WithForbiddenSubstrings(subs...))
	return starlark.None, nil
}

// eachValue calls fn for every element of list. A nil list is empty.
func eachValue(list *starlark.List, fn func(starlark.Value) error) error {
	if list == nil {
		return nil
	}
	iter := list.Iterate()
	defer iter.Done()
	var val starlark.Value
	for iter.Next(&val) {
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

func starlarkStrings(list *starlark.List) ([]string, error) {
	var out []string
	err := eachValue(list, func(v starlark.Value) error {
		s, ok := v.(starlark.String)
		if !ok {
			return fmt.Errorf("expected string, got %s", v.Type())
		}
		out = append(out, string(s))
		return nil
	})
	return out, err
}

func starlarkExamples(list *starlark.List) ([][]string, error) {
	var out [][]string
	err := eachValue(list, func(v starlark.Value) error {
		inner, ok := v.(*starlark.List)
		if !ok {
			return fmt.Errorf("expected list of strings, got %s", v.Type())
		}
		args, err := starlarkStrings(inner)
		if err != nil {
			return err
		}
		out = append(out, args)
		return nil
	})
	return out, err
}
