package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/endiangroup/execpolicy"
)

const (
	VerdictMatch     = "match"
	VerdictForbidden = "forbidden"
	VerdictRejected  = "rejected"
	VerdictInvalid   = "invalid"
)

type CheckResult struct {
	Cmd             string   `json:"cmd" yaml:"cmd"`
	Argv            []string `json:"argv,omitempty" yaml:"argv,omitempty"`
	Allowed         bool     `json:"allowed" yaml:"allowed"`
	Verdict         string   `json:"verdict" yaml:"verdict"`
	Reason          string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	SystemPath      []string `json:"system_path,omitempty" yaml:"system_path,omitempty"`
	MightWriteFiles bool     `json:"might_write_files" yaml:"might_write_files"`

	matched execpolicy.MatchedExec
}

// evaluateCmd tokenizes an intent command and checks it against policy
// without executing it.
func evaluateCmd(intentCmd string, policy *execpolicy.Policy) CheckResult {
	argv, err := tokenize(intentCmd)
	if err != nil {
		return CheckResult{Cmd: intentCmd, Verdict: VerdictInvalid, Reason: err.Error()}
	}
	return evaluateArgv(intentCmd, argv, policy)
}

func evaluateArgv(intentCmd string, argv []string, policy *execpolicy.Policy) CheckResult {
	printLogDebug(os.Stderr, "evaluating intent command: %q\n", argv)

	result := CheckResult{Cmd: intentCmd, Argv: argv}
	if len(argv) == 0 {
		result.Verdict = VerdictInvalid
		result.Reason = ErrEmptyIntentCmd.Error()
		return result
	}

	matched, err := policy.Check(execpolicy.NewExecCall(argv[0], argv[1:]...))
	if err != nil {
		result.Verdict = VerdictRejected
		result.Reason = err.Error()
		if !errors.Is(err, execpolicy.ErrNotProvablySafe) {
			result.Reason = fmt.Sprintf("error checking policy: %s", err.Error())
		}
		return result
	}

	result.matched = matched
	result.SystemPath = matched.Exec.SystemPath
	result.MightWriteFiles = matched.Exec.MightWriteFiles()

	switch matched.Kind {
	case execpolicy.KindMatch:
		result.Allowed = true
		result.Verdict = VerdictMatch
	default:
		result.Verdict = VerdictForbidden
		result.Reason = fmt.Sprintf("%s %s: %s", matched.Forbidden.Cause, matched.Forbidden.Subject, matched.Forbidden.Reason)
	}
	return result
}
