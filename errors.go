package execpolicy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotProvablySafe is wrapped by every rejection returned from
// Policy.Check. Callers must not auto-execute an invocation for which
// errors.Is(err, ErrNotProvablySafe) holds.
var ErrNotProvablySafe = errors.New("execpolicy: invocation not provably safe")

// ErrEmptyPolicy is returned when a policy source defines no programs.
var ErrEmptyPolicy = errors.New("execpolicy: policy defines no programs")

type NoSpecForProgramErr struct {
	Program string
}

func (e NoSpecForProgramErr) Error() string {
	return fmt.Sprintf("no policy for program: %s", e.Program)
}

func (e NoSpecForProgramErr) Unwrap() error { return ErrNotProvablySafe }

type OptionMissingValueErr struct {
	Program string
	Option  string
}

func (e OptionMissingValueErr) Error() string {
	return fmt.Sprintf("%s: option %s requires a value", e.Program, e.Option)
}

func (e OptionMissingValueErr) Unwrap() error { return ErrNotProvablySafe }

// OptionFollowedByOptionInsteadOfValueErr is returned when the value slot of
// an option holds a token that could itself be read as a flag or option.
type OptionFollowedByOptionInsteadOfValueErr struct {
	Program string
	Option  string
	Value   string
}

func (e OptionFollowedByOptionInsteadOfValueErr) Error() string {
	return fmt.Sprintf("%s: option %s followed by %q instead of a value", e.Program, e.Option, e.Value)
}

func (e OptionFollowedByOptionInsteadOfValueErr) Unwrap() error { return ErrNotProvablySafe }

type UnexpectedArgumentErr struct {
	Program string
	Arg     string
	Index   int
}

func (e UnexpectedArgumentErr) Error() string {
	return fmt.Sprintf("%s: unexpected argument %q at index %d", e.Program, e.Arg, e.Index)
}

func (e UnexpectedArgumentErr) Unwrap() error { return ErrNotProvablySafe }

// NotEnoughArgsErr is returned when an unconditional positional slot is
// still empty after every argument has been consumed.
type NotEnoughArgsErr struct {
	Program string
	Matcher ArgMatcher
}

func (e NotEnoughArgsErr) Error() string {
	return fmt.Sprintf("%s: missing positional argument for %s", e.Program, e.Matcher)
}

func (e NotEnoughArgsErr) Unwrap() error { return ErrNotProvablySafe }

type VarargMatcherDidNotMatchAnythingErr struct {
	Program string
	Matcher ArgMatcher
}

func (e VarargMatcherDidNotMatchAnythingErr) Error() string {
	return fmt.Sprintf("%s: %s requires at least one argument", e.Program, e.Matcher)
}

func (e VarargMatcherDidNotMatchAnythingErr) Unwrap() error { return ErrNotProvablySafe }

// MissingRequiredOptionsErr names the canonical option of every capability
// that no provision path satisfied.
type MissingRequiredOptionsErr struct {
	Program string
	Options []string
}

func (e MissingRequiredOptionsErr) Error() string {
	return fmt.Sprintf("%s: missing required options: %s", e.Program, strings.Join(e.Options, ", "))
}

func (e MissingRequiredOptionsErr) Unwrap() error { return ErrNotProvablySafe }

type InvalidPositiveIntegerErr struct {
	Value string
}

func (e InvalidPositiveIntegerErr) Error() string {
	return fmt.Sprintf("invalid positive integer: %q", e.Value)
}

func (e InvalidPositiveIntegerErr) Unwrap() error { return ErrNotProvablySafe }

type SedCommandNotProvablySafeErr struct {
	Command string
}

func (e SedCommandNotProvablySafeErr) Error() string {
	return fmt.Sprintf("sed command not provably safe: %q", e.Command)
}

func (e SedCommandNotProvablySafeErr) Unwrap() error { return ErrNotProvablySafe }

type EmptyFileNameErr struct{}

func (e EmptyFileNameErr) Error() string { return "empty file name" }

func (e EmptyFileNameErr) Unwrap() error { return ErrNotProvablySafe }

type FileNameLooksLikeOptionErr struct {
	Value string
}

func (e FileNameLooksLikeOptionErr) Error() string {
	return fmt.Sprintf("file name %q looks like an option", e.Value)
}

func (e FileNameLooksLikeOptionErr) Unwrap() error { return ErrNotProvablySafe }

type FileNotReadableErr struct {
	Path string
}

func (e FileNotReadableErr) Error() string {
	return fmt.Sprintf("file not readable: %s", e.Path)
}

func (e FileNotReadableErr) Unwrap() error { return ErrNotProvablySafe }

type InvalidOpaqueValueErr struct {
	Value string
}

func (e InvalidOpaqueValueErr) Error() string {
	return fmt.Sprintf("invalid value: %q", e.Value)
}

func (e InvalidOpaqueValueErr) Unwrap() error { return ErrNotProvablySafe }

type LiteralValueDidNotMatchErr struct {
	Expected string
	Actual   string
}

func (e LiteralValueDidNotMatchErr) Error() string {
	return fmt.Sprintf("expected literal %q, got %q", e.Expected, e.Actual)
}

func (e LiteralValueDidNotMatchErr) Unwrap() error { return ErrNotProvablySafe }

// PolicyParseErr wraps a failure to evaluate or decode a policy source.
type PolicyParseErr struct {
	File    string
	Message string
	Cause   error
}

func (e *PolicyParseErr) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parsing policy: %s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("parsing policy: %s", e.Message)
}

func (e *PolicyParseErr) Unwrap() error {
	return e.Cause
}

type DuplicateProgramErr struct {
	Program string
}

func (e DuplicateProgramErr) Error() string {
	return fmt.Sprintf("program defined more than once: %s", e.Program)
}

type DuplicateTokenErr struct {
	Program string
	Token   string
}

func (e DuplicateTokenErr) Error() string {
	return fmt.Sprintf("%s: flag or option declared more than once: %s", e.Program, e.Token)
}

// InvalidProgramSpecErr reports a structurally unusable program definition.
type InvalidProgramSpecErr struct {
	Program string
	Reason  string
}

func (e InvalidProgramSpecErr) Error() string {
	return fmt.Sprintf("invalid definition for %s: %s", e.Program, e.Reason)
}

// ExampleMismatchErr is returned by a loader when one of a program's
// should_match / should_not_match examples disagrees with the policy.
type ExampleMismatchErr struct {
	Program     string
	Args        []string
	ShouldMatch bool
	Cause       error
}

func (e ExampleMismatchErr) Error() string {
	call := NewExecCall(e.Program, e.Args...)
	if e.ShouldMatch {
		return fmt.Sprintf("example expected to match but was rejected: %s: %v", call, e.Cause)
	}
	return fmt.Sprintf("example expected to be rejected but matched: %s", call)
}

func (e ExampleMismatchErr) Unwrap() error {
	return e.Cause
}
