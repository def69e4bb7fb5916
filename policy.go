// Package execpolicy decides whether an already-tokenized command invocation
// is provably safe to run without asking a human. A rejection never means the
// command is dangerous, only that this package cannot guarantee it is safe,
// so callers must fail closed on anything but a KindMatch verdict.
package execpolicy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type forbiddenProgram struct {
	re     *regexp.Regexp
	reason string
}

// Policy maps program names to their ProgramSpec. It is immutable once built
// and safe for concurrent use.
type Policy struct {
	programs            map[string]*ProgramSpec
	forbiddenPrograms   []forbiddenProgram
	forbiddenSubstrings []string
	oracle              Oracle
}

// Option configures a Policy at construction time.
type Option func(*Policy)

// WithOracle makes ReadableFile validation consult o. Without it file
// arguments are checked syntactically only.
func WithOracle(o Oracle) Option {
	return func(p *Policy) {
		p.oracle = o
	}
}

// WithForbiddenProgramRegex marks every program whose name matches re as
// forbidden, regardless of any ProgramSpec.
func WithForbiddenProgramRegex(re *regexp.Regexp, reason string) Option {
	return func(p *Policy) {
		p.forbiddenPrograms = append(p.forbiddenPrograms, forbiddenProgram{re: re, reason: reason})
	}
}

// WithForbiddenSubstrings marks every invocation with an argument containing
// one of subs as forbidden.
func WithForbiddenSubstrings(subs ...string) Option {
	return func(p *Policy) {
		for _, s := range subs {
			if s != "" {
				p.forbiddenSubstrings = append(p.forbiddenSubstrings, s)
			}
		}
	}
}

// NewPolicy indexes specs by program name. Two specs for the same program
// are rejected, as is a nil spec.
func NewPolicy(specs []*ProgramSpec, opts ...Option) (*Policy, error) {
	p := &Policy{programs: make(map[string]*ProgramSpec, len(specs))}
	for i, s := range specs {
		if s == nil {
			return nil, InvalidProgramSpecErr{Program: fmt.Sprintf("spec %d", i), Reason: "nil program spec"}
		}
		name := s.Program()
		if _, ok := p.programs[name]; ok {
			return nil, DuplicateProgramErr{Program: name}
		}
		p.programs[name] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Check returns the verdict for call. Any returned error is a rejection and
// wraps ErrNotProvablySafe. A nil error comes with either a KindMatch or a
// KindForbidden verdict.
func (p *Policy) Check(call ExecCall) (MatchedExec, error) {
	return p.check(call, p.oracle)
}

func (p *Policy) check(call ExecCall, oracle Oracle) (MatchedExec, error) {
	for _, f := range p.forbiddenPrograms {
		if f.re.MatchString(call.Program) {
			return MatchedExec{
				Kind:      KindForbidden,
				Forbidden: Forbidden{Cause: CauseProgram, Reason: f.reason, Subject: call.Program},
			}, nil
		}
	}
	for _, arg := range call.Args {
		for _, sub := range p.forbiddenSubstrings {
			if strings.Contains(arg, sub) {
				return MatchedExec{
					Kind: KindForbidden,
					Forbidden: Forbidden{
						Cause:   CauseArg,
						Reason:  "argument contains forbidden substring " + sub,
						Subject: arg,
					},
				}, nil
			}
		}
	}

	spec, ok := p.programs[call.Program]
	if !ok {
		return MatchedExec{}, NoSpecForProgramErr{Program: call.Program}
	}

	exec, err := spec.match(call.Args, oracle)
	if err != nil {
		return MatchedExec{}, err
	}

	if spec.def.Forbidden != "" {
		return MatchedExec{
			Kind:      KindForbidden,
			Exec:      exec,
			Forbidden: Forbidden{Cause: CauseExec, Reason: spec.def.Forbidden, Subject: call.Program},
		}, nil
	}
	return Match(exec), nil
}

// Spec returns the ProgramSpec for program.
func (p *Policy) Spec(program string) (*ProgramSpec, bool) {
	s, ok := p.programs[program]
	return s, ok
}

// Programs returns the covered program names in sorted order.
func (p *Policy) Programs() []string {
	names := make([]string, 0, len(p.programs))
	for name := range p.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckExamples runs every ShouldMatch and ShouldNotMatch example declared
// by the policy's programs, in program name order, and returns the first
// disagreement. Examples are checked without the oracle since they name
// files that need not exist.
func (p *Policy) CheckExamples() error {
	for _, name := range p.Programs() {
		spec := p.programs[name]
		for _, args := range spec.def.ShouldMatch {
			verdict, err := p.check(NewExecCall(name, args...), nil)
			if err == nil && !verdict.IsMatch() && spec.def.Forbidden == "" {
				err = ErrNotProvablySafe
			}
			if err != nil {
				return ExampleMismatchErr{Program: name, Args: args, ShouldMatch: true, Cause: err}
			}
		}
		for _, args := range spec.def.ShouldNotMatch {
			verdict, err := p.check(NewExecCall(name, args...), nil)
			if err == nil && verdict.IsMatch() {
				return ExampleMismatchErr{Program: name, Args: args, ShouldMatch: false}
			}
		}
	}
	return nil
}
