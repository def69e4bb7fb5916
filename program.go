package execpolicy

import (
	"fmt"
	"path"
	"strings"
)

// Opt declares an option that takes exactly one value in the following
// argument.
type Opt struct {
	Name string
	Type ArgType
	// Literal is the only accepted value when Type is Literal.
	Literal string
	// Required makes the option the canonical provider of a capability that
	// must be satisfied for the invocation to match.
	Required bool
}

// Condition gates a positional slot on the flags and options matched before
// the slot's turn comes up.
type Condition struct {
	// With lists flags or options that must all have been matched.
	With []string
	// Without lists flags or options that must not have been matched.
	Without []string
}

func (c *Condition) holds(seen map[string]bool) bool {
	if c == nil {
		return true
	}
	for _, name := range c.With {
		if !seen[name] {
			return false
		}
	}
	for _, name := range c.Without {
		if seen[name] {
			return false
		}
	}
	return true
}

// ArgSlot declares a positional argument, or the vararg tail when its
// Matcher is a vararg matcher.
type ArgSlot struct {
	Matcher ArgMatcher
	Literal string
	// When is nil for unconditional slots.
	When *Condition
	// Satisfies names a required option whose capability this slot also
	// provides when it is filled.
	Satisfies string
}

// ProgramDef is the plain declaration of a program as written by a policy
// author. NewProgramSpec turns it into a checked, immutable ProgramSpec.
type ProgramDef struct {
	Program        string
	SystemPath     []string
	Flags          []string
	Opts           []Opt
	Args           []ArgSlot
	Forbidden      string
	ShouldMatch    [][]string
	ShouldNotMatch [][]string
}

// CapabilityRule is a requirement satisfied either by Option being matched
// or by any of the positional slots in Slots being filled.
type CapabilityRule struct {
	Option string
	Slots  []int
}

// ProgramSpec is the compiled, read-only form of a ProgramDef.
type ProgramSpec struct {
	def          ProgramDef
	flags        map[string]bool
	opts         map[string]Opt
	positional   []ArgSlot
	vararg       *ArgSlot
	capabilities []CapabilityRule
}

// NewProgramSpec validates def and compiles it. def is copied, so the
// caller may reuse it.
func NewProgramSpec(def ProgramDef) (*ProgramSpec, error) {
	def = cloneDef(def)
	if def.Program == "" {
		return nil, InvalidProgramSpecErr{Reason: "empty program name"}
	}
	invalid := func(format string, args ...any) error {
		return InvalidProgramSpecErr{Program: def.Program, Reason: fmt.Sprintf(format, args...)}
	}

	for _, p := range def.SystemPath {
		if !path.IsAbs(p) {
			return nil, invalid("system path %q is not absolute", p)
		}
	}

	spec := &ProgramSpec{
		def:   def,
		flags: make(map[string]bool, len(def.Flags)),
		opts:  make(map[string]Opt, len(def.Opts)),
	}

	declared := func(name string) error {
		if !strings.HasPrefix(name, "-") || name == "-" {
			return invalid("flag or option %q must start with a dash", name)
		}
		if spec.flags[name] {
			return DuplicateTokenErr{Program: def.Program, Token: name}
		}
		if _, ok := spec.opts[name]; ok {
			return DuplicateTokenErr{Program: def.Program, Token: name}
		}
		return nil
	}
	for _, f := range def.Flags {
		if err := declared(f); err != nil {
			return nil, err
		}
		spec.flags[f] = true
	}
	for _, o := range def.Opts {
		if err := declared(o.Name); err != nil {
			return nil, err
		}
		if o.Type == Literal && o.Literal == "" {
			return nil, invalid("option %s has an empty literal", o.Name)
		}
		spec.opts[o.Name] = o
		if o.Required {
			spec.capabilities = append(spec.capabilities, CapabilityRule{Option: o.Name})
		}
	}

	for i, slot := range def.Args {
		if slot.Matcher.IsVararg() {
			if i != len(def.Args)-1 {
				return nil, invalid("%s must be the last argument", slot.Matcher)
			}
			if slot.When != nil || slot.Satisfies != "" {
				return nil, invalid("%s cannot be conditional", slot.Matcher)
			}
			s := slot
			spec.vararg = &s
			continue
		}
		if slot.Matcher == MatchLiteral && slot.Literal == "" {
			return nil, invalid("literal argument %d is empty", i)
		}
		if slot.When != nil {
			for _, name := range append(append([]string(nil), slot.When.With...), slot.When.Without...) {
				if !spec.flags[name] {
					if _, ok := spec.opts[name]; !ok {
						return nil, invalid("condition on undeclared %s", name)
					}
				}
			}
		}
		idx := len(spec.positional)
		spec.positional = append(spec.positional, slot)
		if slot.Satisfies == "" {
			continue
		}
		found := false
		for c := range spec.capabilities {
			if spec.capabilities[c].Option == slot.Satisfies {
				spec.capabilities[c].Slots = append(spec.capabilities[c].Slots, idx)
				found = true
			}
		}
		if !found {
			return nil, invalid("argument %d satisfies %s, which is not a required option", i, slot.Satisfies)
		}
	}

	return spec, nil
}

func cloneDef(def ProgramDef) ProgramDef {
	out := def
	out.SystemPath = append([]string(nil), def.SystemPath...)
	out.Flags = append([]string(nil), def.Flags...)
	out.Opts = append([]Opt(nil), def.Opts...)
	out.Args = make([]ArgSlot, len(def.Args))
	for i, a := range def.Args {
		if a.When != nil {
			w := Condition{
				With:    append([]string(nil), a.When.With...),
				Without: append([]string(nil), a.When.Without...),
			}
			a.When = &w
		}
		out.Args[i] = a
	}
	out.ShouldMatch = cloneExamples(def.ShouldMatch)
	out.ShouldNotMatch = cloneExamples(def.ShouldNotMatch)
	return out
}

func cloneExamples(in [][]string) [][]string {
	if in == nil {
		return nil
	}
	out := make([][]string, len(in))
	for i, ex := range in {
		out[i] = append([]string(nil), ex...)
	}
	return out
}

func (s *ProgramSpec) Program() string { return s.def.Program }

// SystemPath returns a copy of the candidate executable locations.
func (s *ProgramSpec) SystemPath() []string {
	if len(s.def.SystemPath) == 0 {
		return nil
	}
	return append([]string(nil), s.def.SystemPath...)
}

// Capabilities returns the capability rules in declaration order.
func (s *ProgramSpec) Capabilities() []CapabilityRule {
	out := make([]CapabilityRule, len(s.capabilities))
	for i, c := range s.capabilities {
		out[i] = CapabilityRule{Option: c.Option, Slots: append([]int(nil), c.Slots...)}
	}
	return out
}

// Def returns a copy of the ProgramDef s was built from.
func (s *ProgramSpec) Def() ProgramDef {
	return cloneDef(s.def)
}
