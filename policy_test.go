package execpolicy

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Policy {
	t.Helper()
	p, err := DefaultPolicy()
	require.NoError(t, err, "failed to load default policy")
	return p
}

func mustArg(t *testing.T, index int, typ ArgType, value string) MatchedArg {
	t.Helper()
	a, err := NewMatchedArg(index, typ, value)
	require.NoError(t, err)
	return a
}

func mustOpt(t *testing.T, name, value string, typ ArgType) MatchedOpt {
	t.Helper()
	o, err := NewMatchedOpt(name, value, typ)
	require.NoError(t, err)
	return o
}

func TestHead(t *testing.T) {
	policy := setup(t)
	headPath := []string{"/bin/head", "/usr/bin/head"}

	t.Run("no args is rejected because the vararg matched nothing", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("head"))
		assert.Equal(t, VarargMatcherDidNotMatchAnythingErr{
			Program: "head",
			Matcher: MatchReadableFiles,
		}, err)
	})

	t.Run("one file and no flags", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("head", "src/extension.ts"))
		require.NoError(t, err)
		assert.Equal(t, Match(NewValidExec(
			"head",
			[]MatchedArg{mustArg(t, 0, ReadableFile, "src/extension.ts")},
			headPath,
		)), got)
	})

	t.Run("one option and one file", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("head", "-n", "100", "src/extension.ts"))
		require.NoError(t, err)
		assert.Equal(t, Match(ValidExec{
			Program:    "head",
			Opts:       []MatchedOpt{mustOpt(t, "-n", "100", PositiveInteger)},
			Args:       []MatchedArg{mustArg(t, 2, ReadableFile, "src/extension.ts")},
			SystemPath: headPath,
		}), got)
	})

	t.Run("invalid option values", func(t *testing.T) {
		tests := []struct {
			value string
			want  error
		}{
			{value: "0", want: InvalidPositiveIntegerErr{Value: "0"}},
			{value: "1.5", want: InvalidPositiveIntegerErr{Value: "1.5"}},
			{value: "1.0", want: InvalidPositiveIntegerErr{Value: "1.0"}},
			{value: "-1", want: OptionFollowedByOptionInsteadOfValueErr{Program: "head", Option: "-n", Value: "-1"}},
		}

		for _, tt := range tests {
			t.Run(tt.value, func(t *testing.T) {
				_, err := policy.Check(NewExecCall("head", "-n", tt.value, "src/extension.ts"))
				assert.Equal(t, tt.want, err)
			})
		}
	})

	t.Run("option without a value", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("head", "src/extension.ts", "-n"))
		assert.Equal(t, FileNameLooksLikeOptionErr{Value: "-n"}, err)

		_, err = policy.Check(NewExecCall("head", "-n"))
		assert.Equal(t, OptionMissingValueErr{Program: "head", Option: "-n"}, err)
	})
}

func TestSed(t *testing.T) {
	policy := setup(t)
	sedPath := []string{"/usr/bin/sed"}

	t.Run("print specific lines with a positional script", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("sed", "-n", "122,202p", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, Match(ValidExec{
			Program: "sed",
			Flags:   []MatchedFlag{NewMatchedFlag("-n")},
			Args: []MatchedArg{
				mustArg(t, 1, SedCommand, "122,202p"),
				mustArg(t, 2, ReadableFile, "hello.txt"),
			},
			SystemPath: sedPath,
		}), got)
	})

	t.Run("print specific lines with -e", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("sed", "-n", "-e", "122,202p", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, Match(ValidExec{
			Program:    "sed",
			Flags:      []MatchedFlag{NewMatchedFlag("-n")},
			Opts:       []MatchedOpt{mustOpt(t, "-e", "122,202p", SedCommand)},
			Args:       []MatchedArg{mustArg(t, 3, ReadableFile, "hello.txt")},
			SystemPath: sedPath,
		}), got)
	})

	t.Run("reject dangerous command", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("sed", "-e", "s/y/echo hi/e", "hello.txt"))
		assert.Equal(t, SedCommandNotProvablySafeErr{Command: "s/y/echo hi/e"}, err)
	})

	t.Run("-e or a positional script is required", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("sed", "122,202p"))
		assert.Equal(t, MissingRequiredOptionsErr{Program: "sed", Options: []string{"-e"}}, err)
	})

	t.Run("dangerous positional script is rejected", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("sed", "-n", "1w /tmp/out", "hello.txt"))
		assert.Equal(t, SedCommandNotProvablySafeErr{Command: "1w /tmp/out"}, err)
	})

	t.Run("delimiter inside a bracket expression does not split the script", func(t *testing.T) {
		script := "s/[/]/g;s/w a/b/g"
		_, err := policy.Check(NewExecCall("sed", "-e", script, "hello.txt"))
		assert.Equal(t, SedCommandNotProvablySafeErr{Command: script}, err)
	})

	t.Run("positional script taken before a later -e", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("sed", "-n", "122,202p", "-e", "1p", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, Match(ValidExec{
			Program: "sed",
			Flags:   []MatchedFlag{NewMatchedFlag("-n")},
			Opts:    []MatchedOpt{mustOpt(t, "-e", "1p", SedCommand)},
			Args: []MatchedArg{
				mustArg(t, 1, SedCommand, "122,202p"),
				mustArg(t, 4, ReadableFile, "hello.txt"),
			},
			SystemPath: sedPath,
		}), got)
	})

	t.Run("in-place editing is not recognized", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("sed", "-i", "-e", "s/a/b/", "hello.txt"))
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotProvablySafe))
	})
}

func TestCheckUnknownProgram(t *testing.T) {
	policy := setup(t)

	_, err := policy.Check(NewExecCall("curl", "https://example.com"))

	assert.Equal(t, NoSpecForProgramErr{Program: "curl"}, err)
	assert.ErrorIs(t, err, ErrNotProvablySafe)
}

func TestCheckIsDeterministic(t *testing.T) {
	policy := setup(t)
	calls := []ExecCall{
		NewExecCall("head"),
		NewExecCall("head", "-n", "10", "a", "b"),
		NewExecCall("sed", "-n", "1,5p", "x"),
		NewExecCall("sed", "s/a/b/e"),
		NewExecCall("nope"),
	}

	for _, call := range calls {
		t.Run(call.String(), func(t *testing.T) {
			first, firstErr := policy.Check(call)
			for i := 0; i < 10; i++ {
				got, err := policy.Check(call)
				assert.Equal(t, first, got)
				assert.Equal(t, firstErr, err)
			}
		})
	}
}

func TestCheckPreservesOriginalIndices(t *testing.T) {
	policy := setup(t)

	got, err := policy.Check(NewExecCall("head", "-c", "5", "-n", "3", "a.txt", "b.txt"))
	require.NoError(t, err)

	require.Len(t, got.Exec.Args, 2)
	assert.Equal(t, 5, got.Exec.Args[0].Index)
	assert.Equal(t, 6, got.Exec.Args[1].Index)
	assert.Equal(t, []MatchedOpt{
		{Name: "-c", Value: "5", Type: PositiveInteger},
		{Name: "-n", Value: "3", Type: PositiveInteger},
	}, got.Exec.Opts)
}

func TestCheckForbidden(t *testing.T) {
	t.Run("program regex", func(t *testing.T) {
		policy := setup(t)
		got, err := policy.Check(NewExecCall("sudo", "ls"))
		require.NoError(t, err)
		assert.Equal(t, KindForbidden, got.Kind)
		assert.Equal(t, CauseProgram, got.Forbidden.Cause)
		assert.Equal(t, "sudo", got.Forbidden.Subject)
		assert.False(t, got.IsMatch())
	})

	t.Run("program spec marked forbidden still validates arguments", func(t *testing.T) {
		policy := setup(t)
		got, err := policy.Check(NewExecCall("rm", "-rf", "/"))
		require.NoError(t, err)
		assert.Equal(t, KindForbidden, got.Kind)
		assert.Equal(t, CauseExec, got.Forbidden.Cause)
		assert.Equal(t, "rm", got.Exec.Program)
		assert.True(t, got.Exec.MightWriteFiles())
	})

	t.Run("argument substring", func(t *testing.T) {
		spec, err := NewProgramSpec(ProgramDef{Program: "cat", Args: []ArgSlot{{Matcher: MatchReadableFiles}}})
		require.NoError(t, err)
		policy, err := NewPolicy([]*ProgramSpec{spec}, WithForbiddenSubstrings("/etc/shadow"))
		require.NoError(t, err)

		got, err := policy.Check(NewExecCall("cat", "notes.txt", "/etc/shadow"))
		require.NoError(t, err)
		assert.Equal(t, MatchedExec{
			Kind: KindForbidden,
			Forbidden: Forbidden{
				Cause:   CauseArg,
				Reason:  "argument contains forbidden substring /etc/shadow",
				Subject: "/etc/shadow",
			},
		}, got)
	})

	t.Run("program regex wins over a spec", func(t *testing.T) {
		spec, err := NewProgramSpec(ProgramDef{Program: "tee", Args: []ArgSlot{{Matcher: MatchReadableFiles}}})
		require.NoError(t, err)
		policy, err := NewPolicy([]*ProgramSpec{spec}, WithForbiddenProgramRegex(regexp.MustCompile("^tee$"), "writes"))
		require.NoError(t, err)

		got, err := policy.Check(NewExecCall("tee", "out.txt"))
		require.NoError(t, err)
		assert.Equal(t, KindForbidden, got.Kind)
		assert.Equal(t, "writes", got.Forbidden.Reason)
	})
}

func TestCheckWithOracle(t *testing.T) {
	readable := map[string]bool{"present.txt": true}
	oracle := OracleFunc(func(path string) bool { return readable[path] })

	policy, err := LoadDefaultPolicy(WithOracle(oracle))
	require.NoError(t, err)

	t.Run("readable file matches", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("cat", "present.txt"))
		require.NoError(t, err)
		assert.True(t, got.IsMatch())
	})

	t.Run("unreadable file is rejected", func(t *testing.T) {
		_, err := policy.Check(NewExecCall("cat", "present.txt", "missing.txt"))
		assert.Equal(t, FileNotReadableErr{Path: "missing.txt"}, err)
	})

	t.Run("writeable files are not checked", func(t *testing.T) {
		got, err := policy.Check(NewExecCall("cp", "present.txt", "new.txt"))
		require.NoError(t, err)
		assert.True(t, got.IsMatch())
		assert.True(t, got.Exec.MightWriteFiles())
	})
}

func TestNewPolicyRejectsDuplicatePrograms(t *testing.T) {
	a, err := NewProgramSpec(ProgramDef{Program: "ls"})
	require.NoError(t, err)
	b, err := NewProgramSpec(ProgramDef{Program: "ls"})
	require.NoError(t, err)

	_, err = NewPolicy([]*ProgramSpec{a, b})

	assert.Equal(t, DuplicateProgramErr{Program: "ls"}, err)
}

func TestNewPolicyRejectsNilSpec(t *testing.T) {
	a, err := NewProgramSpec(ProgramDef{Program: "ls"})
	require.NoError(t, err)

	_, err = NewPolicy([]*ProgramSpec{a, nil})

	assert.Equal(t, InvalidProgramSpecErr{Program: "spec 1", Reason: "nil program spec"}, err)
}

func TestPolicyPrograms(t *testing.T) {
	policy := setup(t)

	programs := policy.Programs()

	assert.IsNonDecreasing(t, programs)
	assert.Contains(t, programs, "head")
	assert.Contains(t, programs, "sed")

	spec, ok := policy.Spec("head")
	require.True(t, ok)
	assert.Equal(t, []string{"/bin/head", "/usr/bin/head"}, spec.SystemPath())
}
