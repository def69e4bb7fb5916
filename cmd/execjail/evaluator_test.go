package main

import (
	"testing"

	"github.com/endiangroup/execpolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPolicy(t testing.TB) *execpolicy.Policy {
	t.Helper()
	policy, err := execpolicy.DefaultPolicy()
	require.NoError(t, err, "failed to load default policy")
	return policy
}

func TestEvaluateCmd(t *testing.T) {
	policy := defaultPolicy(t)

	t.Run("Matched command is allowed", func(t *testing.T) {
		result := evaluateCmd("head -n 10 src/main.go", policy)
		assert.True(t, result.Allowed)
		assert.Equal(t, VerdictMatch, result.Verdict)
		assert.Empty(t, result.Reason)
		assert.Equal(t, []string{"head", "-n", "10", "src/main.go"}, result.Argv)
		assert.Equal(t, []string{"/bin/head", "/usr/bin/head"}, result.SystemPath)
		assert.False(t, result.MightWriteFiles)
	})

	t.Run("Quoted arguments stay whole", func(t *testing.T) {
		result := evaluateCmd(`rg -n "func main" cmd`, policy)
		assert.True(t, result.Allowed)
		assert.Equal(t, []string{"rg", "-n", "func main", "cmd"}, result.Argv)
	})

	t.Run("Write targets are reported", func(t *testing.T) {
		result := evaluateCmd("cp a.txt b.txt", policy)
		assert.True(t, result.Allowed)
		assert.True(t, result.MightWriteFiles)
	})

	t.Run("Unknown program is rejected", func(t *testing.T) {
		result := evaluateCmd("curl https://example.com", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictRejected, result.Verdict)
		assert.Equal(t, "no policy for program: curl", result.Reason)
	})

	t.Run("Unsafe sed script is rejected", func(t *testing.T) {
		result := evaluateCmd("sed -e 's/y/echo hi/e' hello.txt", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictRejected, result.Verdict)
		assert.Contains(t, result.Reason, "sed command not provably safe")
	})

	t.Run("Forbidden program is blocked", func(t *testing.T) {
		result := evaluateCmd("sudo ls", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictForbidden, result.Verdict)
		assert.Equal(t, "program sudo: privilege escalation is never auto-approved", result.Reason)
	})

	t.Run("Forbidden program definition is blocked", func(t *testing.T) {
		result := evaluateCmd("rm -rf build", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictForbidden, result.Verdict)
		assert.Equal(t, "exec rm: deleting files is never auto-approved", result.Reason)
		assert.True(t, result.MightWriteFiles)
	})

	t.Run("Shell syntax is not interpreted", func(t *testing.T) {
		result := evaluateCmd("ls; rm -rf /", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictRejected, result.Verdict)
	})

	t.Run("Untokenizable command is invalid", func(t *testing.T) {
		result := evaluateCmd("head 'a.txt", policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictInvalid, result.Verdict)
		assert.Contains(t, result.Reason, ErrCmdNotTokenizable.Error())
	})
}

func TestEvaluateArgv(t *testing.T) {
	policy := defaultPolicy(t)

	t.Run("Empty argv is invalid", func(t *testing.T) {
		result := evaluateArgv("", nil, policy)
		assert.False(t, result.Allowed)
		assert.Equal(t, VerdictInvalid, result.Verdict)
	})

	t.Run("Argv is not re-tokenized", func(t *testing.T) {
		result := evaluateArgv("cat my file.txt", []string{"cat", "my file.txt"}, policy)
		assert.True(t, result.Allowed)
		assert.Equal(t, "my file.txt", result.matched.Exec.Args[0].Value)
	})
}
