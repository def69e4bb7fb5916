package execpolicy

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlPolicy is the YAML form of a policy. It mirrors the Starlark builtins
// one to one.
type yamlPolicy struct {
	ForbiddenPrograms []struct {
		Regex  string `yaml:"regex"`
		Reason string `yaml:"reason"`
	} `yaml:"forbidden_programs"`
	ForbiddenSubstrings []string      `yaml:"forbidden_substrings"`
	Programs            []yamlProgram `yaml:"programs"`
}

type yamlProgram struct {
	Program        string       `yaml:"program"`
	SystemPath     []string     `yaml:"system_path"`
	Flags          []string     `yaml:"flags"`
	Options        []yamlOption `yaml:"options"`
	Args           []yamlArg    `yaml:"args"`
	Forbidden      string       `yaml:"forbidden"`
	ShouldMatch    [][]string   `yaml:"should_match"`
	ShouldNotMatch [][]string   `yaml:"should_not_match"`
}

type yamlOption struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Literal  string `yaml:"literal"`
	Required bool   `yaml:"required"`
}

type yamlArg struct {
	Matcher   string `yaml:"matcher"`
	Literal   string `yaml:"literal"`
	Satisfies string `yaml:"satisfies"`
	When      *struct {
		Present []string `yaml:"present"`
		Absent  []string `yaml:"absent"`
	} `yaml:"when"`
}

// ParsePolicyYAML decodes a YAML policy document. Unknown keys are
// rejected.
func ParsePolicyYAML(filename string, data []byte, opts ...Option) (*Policy, error) {
	var doc yamlPolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &PolicyParseErr{File: filename, Message: fmt.Sprintf("yaml: %v", err), Cause: err}
	}

	b := &policyBuilder{}
	fail := func(err error) (*Policy, error) {
		return nil, &PolicyParseErr{File: filename, Message: err.Error(), Cause: err}
	}

	for _, f := range doc.ForbiddenPrograms {
		if err := b.forbidProgramRegex(f.Regex, f.Reason); err != nil {
			return fail(err)
		}
	}
	if len(doc.ForbiddenSubstrings) > 0 {
		b.opts = append(b.opts, WithForbiddenSubstrings(doc.ForbiddenSubstrings...))
	}

	for _, yp := range doc.Programs {
		def, err := yp.toDef()
		if err != nil {
			return fail(err)
		}
		if err := b.addProgram(def); err != nil {
			return fail(err)
		}
	}
	return b.build(filename, opts)
}

func (yp yamlProgram) toDef() (ProgramDef, error) {
	def := ProgramDef{
		Program:        yp.Program,
		SystemPath:     yp.SystemPath,
		Flags:          yp.Flags,
		Forbidden:      yp.Forbidden,
		ShouldMatch:    yp.ShouldMatch,
		ShouldNotMatch: yp.ShouldNotMatch,
	}
	for _, o := range yp.Options {
		t, ok := ParseArgType(o.Type)
		if !ok {
			return def, InvalidProgramSpecErr{Program: yp.Program, Reason: fmt.Sprintf("option %s: unknown type %q", o.Name, o.Type)}
		}
		def.Opts = append(def.Opts, Opt{Name: o.Name, Type: t, Literal: o.Literal, Required: o.Required})
	}
	for i, a := range yp.Args {
		m, ok := ParseArgMatcher(a.Matcher)
		if !ok {
			return def, InvalidProgramSpecErr{Program: yp.Program, Reason: fmt.Sprintf("argument %d: unknown matcher %q", i, a.Matcher)}
		}
		slot := ArgSlot{Matcher: m, Literal: a.Literal, Satisfies: a.Satisfies}
		if a.When != nil {
			slot.When = &Condition{With: a.When.Present, Without: a.When.Absent}
		}
		def.Args = append(def.Args, slot)
	}
	return def, nil
}
