package execpolicy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectionsAreNotProvablySafe(t *testing.T) {
	rejections := []error{
		NoSpecForProgramErr{Program: "curl"},
		OptionMissingValueErr{Program: "head", Option: "-n"},
		OptionFollowedByOptionInsteadOfValueErr{Program: "head", Option: "-n", Value: "-c"},
		UnexpectedArgumentErr{Program: "pwd", Arg: "x", Index: 0},
		NotEnoughArgsErr{Program: "cp", Matcher: MatchWriteableFile},
		VarargMatcherDidNotMatchAnythingErr{Program: "head", Matcher: MatchReadableFiles},
		MissingRequiredOptionsErr{Program: "sed", Options: []string{"-e"}},
		InvalidPositiveIntegerErr{Value: "0"},
		SedCommandNotProvablySafeErr{Command: "e"},
		EmptyFileNameErr{},
		FileNameLooksLikeOptionErr{Value: "-n"},
		FileNotReadableErr{Path: "x"},
		InvalidOpaqueValueErr{Value: ""},
		LiteralValueDidNotMatchErr{Expected: "a", Actual: "b"},
	}

	for _, err := range rejections {
		t.Run(fmt.Sprintf("%T", err), func(t *testing.T) {
			assert.ErrorIs(t, err, ErrNotProvablySafe)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrNotProvablySafe)
			assert.NotEmpty(t, err.Error())
		})
	}
}

func TestLoadErrorsAreNotRejections(t *testing.T) {
	for _, err := range []error{
		DuplicateProgramErr{Program: "ls"},
		DuplicateTokenErr{Program: "ls", Token: "-l"},
		InvalidProgramSpecErr{Program: "ls", Reason: "x"},
		&PolicyParseErr{File: "p", Message: "x"},
	} {
		assert.False(t, errors.Is(err, ErrNotProvablySafe), "%T", err)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NoSpecForProgramErr{Program: "curl"}, "no policy for program: curl"},
		{MissingRequiredOptionsErr{Program: "tool", Options: []string{"--in", "--out"}}, "tool: missing required options: --in, --out"},
		{VarargMatcherDidNotMatchAnythingErr{Program: "head", Matcher: MatchReadableFiles}, "head: ReadableFiles requires at least one argument"},
		{SedCommandNotProvablySafeErr{Command: "e"}, `sed command not provably safe: "e"`},
		{&PolicyParseErr{File: "a.policy", Message: "boom"}, "parsing policy: a.policy: boom"},
		{&PolicyParseErr{Message: "boom"}, "parsing policy: boom"},
		{InvalidProgramSpecErr{Program: "ls", Reason: "empty literal"}, "invalid definition for ls: empty literal"},
		{
			ExampleMismatchErr{Program: "head", Args: []string{"a b"}, ShouldMatch: true, Cause: NoSpecForProgramErr{Program: "head"}},
			`example expected to match but was rejected: head "a b": no policy for program: head`,
		},
		{ExampleMismatchErr{Program: "cat", Args: []string{"x"}}, "example expected to be rejected but matched: cat x"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestPolicyParseErrUnwraps(t *testing.T) {
	cause := DuplicateProgramErr{Program: "ls"}
	err := &PolicyParseErr{File: "p", Message: cause.Error(), Cause: cause}

	var dup DuplicateProgramErr
	assert.True(t, errors.As(err, &dup))
	assert.Equal(t, "ls", dup.Program)
	assert.ErrorIs(t, &PolicyParseErr{Cause: ErrEmptyPolicy}, ErrEmptyPolicy)
}
