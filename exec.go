package execpolicy

import (
	"strconv"
	"strings"
)

// ExecCall is an already-tokenized invocation: a program name and its
// argument vector in original order.
type ExecCall struct {
	Program string
	Args    []string
}

// NewExecCall copies args so later changes by the caller cannot affect the
// call.
func NewExecCall(program string, args ...string) ExecCall {
	var cp []string
	if len(args) > 0 {
		cp = make([]string, len(args))
		copy(cp, args)
	}
	return ExecCall{Program: program, Args: cp}
}

// String renders the call for display. Arguments containing whitespace or
// quotes are Go-quoted.
func (c ExecCall) String() string {
	parts := make([]string, 0, 1+len(c.Args))
	parts = append(parts, displayToken(c.Program))
	for _, a := range c.Args {
		parts = append(parts, displayToken(a))
	}
	return strings.Join(parts, " ")
}

func displayToken(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'\\") {
		return strconv.Quote(s)
	}
	return s
}

type MatchedFlag struct {
	Name string
}

func NewMatchedFlag(name string) MatchedFlag {
	return MatchedFlag{Name: name}
}

type MatchedOpt struct {
	Name  string
	Value string
	Type  ArgType
}

// NewMatchedOpt validates value against t before building the MatchedOpt.
func NewMatchedOpt(name, value string, t ArgType) (MatchedOpt, error) {
	if err := t.Validate(value); err != nil {
		return MatchedOpt{}, err
	}
	return MatchedOpt{Name: name, Value: value, Type: t}, nil
}

// MatchedArg is a validated positional argument. Index is its offset in the
// original ExecCall.Args.
type MatchedArg struct {
	Index int
	Type  ArgType
	Value string
}

// NewMatchedArg validates value against t before building the MatchedArg.
func NewMatchedArg(index int, t ArgType, value string) (MatchedArg, error) {
	if err := t.Validate(value); err != nil {
		return MatchedArg{}, err
	}
	return MatchedArg{Index: index, Type: t, Value: value}, nil
}

// ValidExec is the fully validated form of an accepted invocation.
type ValidExec struct {
	Program    string
	Flags      []MatchedFlag
	Opts       []MatchedOpt
	Args       []MatchedArg
	SystemPath []string
}

// NewValidExec builds a ValidExec with positional arguments only.
func NewValidExec(program string, args []MatchedArg, systemPath []string) ValidExec {
	return ValidExec{
		Program:    program,
		Args:       args,
		SystemPath: systemPath,
	}
}

// MightWriteFiles reports whether any accepted value can name a file the
// program writes.
func (e ValidExec) MightWriteFiles() bool {
	for _, o := range e.Opts {
		if o.Type.MightWriteFiles() {
			return true
		}
	}
	for _, a := range e.Args {
		if a.Type.MightWriteFiles() {
			return true
		}
	}
	return false
}

// MatchKind discriminates the variants of MatchedExec.
type MatchKind int

const (
	// KindMatch means the invocation is provably safe. It is the only kind
	// a caller may auto-execute.
	KindMatch MatchKind = iota

	// KindForbidden means the invocation was recognized and must never be
	// auto-approved.
	KindForbidden
)

// String returns the string representation of a MatchKind.
func (k MatchKind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindForbidden:
		return "forbidden"
	default:
		return unknownStr
	}
}

// ForbiddenCause says which part of an invocation triggered a Forbidden
// verdict.
type ForbiddenCause int

const (
	CauseProgram ForbiddenCause = iota
	CauseArg
	CauseExec
)

// String returns the string representation of a ForbiddenCause.
func (c ForbiddenCause) String() string {
	switch c {
	case CauseProgram:
		return "program"
	case CauseArg:
		return "arg"
	case CauseExec:
		return "exec"
	default:
		return unknownStr
	}
}

type Forbidden struct {
	Cause  ForbiddenCause
	Reason string
	// Subject is the verbatim program name or argument that triggered the
	// verdict.
	Subject string
}

// MatchedExec is the non-error verdict of Policy.Check. Exec is set for
// KindMatch and for KindForbidden with CauseExec.
type MatchedExec struct {
	Kind      MatchKind
	Exec      ValidExec
	Forbidden Forbidden
}

// Match wraps exec in a KindMatch verdict.
func Match(exec ValidExec) MatchedExec {
	return MatchedExec{Kind: KindMatch, Exec: exec}
}

// IsMatch reports whether the verdict allows automatic execution.
func (m MatchedExec) IsMatch() bool {
	return m.Kind == KindMatch
}
