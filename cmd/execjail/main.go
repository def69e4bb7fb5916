package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/endiangroup/execpolicy"
	"gopkg.in/yaml.v3"
)

const (
	exitAllowed  = 0
	exitError    = 1
	exitRejected = 77

	shellPrompt = "execjail> "
)

var ErrNoExecutableCandidate = errors.New("no executable found for program")

func main() {
	conf := getConfig()
	printLogDebug(os.Stderr, "config loaded: %+v\n", conf)

	policy := getPolicy(conf)

	if conf.CheckMode {
		os.Exit(runCheckIntentCmds(conf, policy))
	}

	if conf.Shell {
		os.Exit(runShell(conf, policy, os.Stdin, os.Stdout))
	}

	os.Exit(evaluateAndRun(conf, evaluateArgv(conf.IntentCmd, conf.IntentArgv, policy), os.Stdout))
}

func getConfig() Config {
	conf, err := parseEnvAndFlags()
	if err != nil {
		printLogErr(os.Stderr, "%s\n", err.Error())
		if errIsAny(err,
			ErrCmdNotTokenizable,
			ErrEmptyIntentCmd,
			ErrPolicyFileManipulationAttempt,
			ErrJailBinaryManipulationAttempt,
			ErrJailLogManipulationAttempt) {
			os.Exit(exitRejected)
		}
		os.Exit(exitError)
	}
	return conf
}

func getPolicy(conf Config) *execpolicy.Policy {
	policy, err := loadPolicy(conf, os.Stdin)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			printLogErr(os.Stderr, "finding policy file: %s\n", conf.Policy)
		} else {
			printLogErr(os.Stderr, "%s\n", err.Error())
		}
		os.Exit(exitError)
	}
	return policy
}

func loadPolicy(conf Config, stdin io.Reader) (*execpolicy.Policy, error) {
	var opts []execpolicy.Option
	if conf.CheckFiles {
		opts = append(opts, execpolicy.WithOracle(execpolicy.FileSystemOracle{}))
	}

	switch conf.Policy {
	case "":
		printLogDebug(os.Stderr, "using built-in policy\n")
		return execpolicy.LoadDefaultPolicy(opts...)
	case "-":
		printLogDebug(os.Stderr, "reading policy from: <stdin>\n")
		source, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading policy from stdin: %w", err)
		}
		return execpolicy.ParsePolicy("<stdin>", string(source), opts...)
	default:
		printLogDebug(os.Stderr, "reading policy from: %s\n", conf.Policy)
		return execpolicy.LoadPolicyFile(conf.Policy, opts...)
	}
}

// evaluateAndRun reports the verdict for a single intent cmd and, with --run,
// executes it when it matched.
func evaluateAndRun(conf Config, result CheckResult, stdout io.Writer) int {
	if !result.Allowed {
		logWarn("blocked intent cmd: %s: %s: %s", result.Cmd, result.Verdict, result.Reason)
		out := stdout
		if conf.Run {
			out = os.Stderr
		}
		if err := writeResults(out, conf.Output, result); err != nil {
			printLogErr(os.Stderr, "writing verdict: %s\n", err.Error())
			return exitError
		}
		return exitRejected
	}

	logInfo("allowed intent cmd: %s", result.Cmd)

	if conf.Run {
		return runExec(result, os.Stdin, stdout, os.Stderr)
	}

	if err := writeResults(stdout, conf.Output, result); err != nil {
		printLogErr(os.Stderr, "writing verdict: %s\n", err.Error())
		return exitError
	}
	return exitAllowed
}

func runCheckIntentCmds(conf Config, policy *execpolicy.Policy) int {
	var r io.Reader
	if conf.CheckIntentCmdsFile == "-" {
		printLogDebug(os.Stderr, "reading intent cmds from: <stdin>\n")
		r = os.Stdin
	} else {
		printLogDebug(os.Stderr, "reading intent cmds from: %s\n", conf.CheckIntentCmdsFile)
		f, err := os.Open(conf.CheckIntentCmdsFile)
		if err != nil {
			printLogErr(os.Stderr, "opening intent cmds file: %s: %s\n", conf.CheckIntentCmdsFile, err.Error())
			return exitError
		}
		defer f.Close()
		r = f
	}

	return checkIntentCmds(conf, policy, r, os.Stdout)
}

func checkIntentCmds(conf Config, policy *execpolicy.Policy, r io.Reader, w io.Writer) int {
	cmds, err := parseIntentCmds(conf, r)
	if err != nil {
		printLogErr(os.Stderr, "%s\n", err.Error())
		return exitError
	}

	results := make([]CheckResult, 0, len(cmds))
	exitCode := exitAllowed
	for _, c := range cmds {
		result := evaluateArgv(c.Line, c.Argv, policy)
		if !result.Allowed {
			logWarn("blocked intent cmd on line %d: %s: %s", c.LineNumber, result.Cmd, result.Reason)
			exitCode = exitRejected
		}
		results = append(results, result)
	}

	if err := writeResults(w, conf.Output, results...); err != nil {
		printLogErr(os.Stderr, "writing verdicts: %s\n", err.Error())
		return exitError
	}
	return exitCode
}

func runShell(conf Config, policy *execpolicy.Policy, stdin io.Reader, stdout io.Writer) int {
	scanner := bufio.NewScanner(stdin)

	fmt.Fprint(stdout, shellPrompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(stdout, shellPrompt)
			continue
		}

		if line == "exit" || line == "quit" {
			return exitAllowed
		}

		if err := checkCmdSafety(line, conf.Policy, conf.Log); err != nil {
			printLogErr(os.Stderr, "%s\n", err.Error())
			fmt.Fprint(stdout, shellPrompt)
			continue
		}

		result := evaluateCmd(line, policy)
		switch {
		case result.Allowed && conf.Run:
			logInfo("allowed intent cmd: %s", result.Cmd)
			runExec(result, nil, stdout, os.Stderr)
		default:
			if !result.Allowed {
				logWarn("blocked intent cmd: %s: %s", result.Cmd, result.Reason)
			}
			if err := writeResults(stdout, conf.Output, result); err != nil {
				printLogErr(os.Stderr, "writing verdict: %s\n", err.Error())
			}
		}

		fmt.Fprint(stdout, shellPrompt)
	}

	if err := scanner.Err(); err != nil {
		printLogErr(os.Stderr, "reading from stdin: %v\n", err)
		return exitError
	}

	fmt.Fprintln(stdout)
	return exitAllowed
}

func writeResults(w io.Writer, format string, results ...CheckResult) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return enc.Close()
	default:
		for _, r := range results {
			if _, err := fmt.Fprintln(w, formatResult(r)); err != nil {
				return err
			}
		}
		return nil
	}
}

func formatResult(r CheckResult) string {
	if r.Reason == "" {
		return fmt.Sprintf("%s: %s", r.Verdict, r.Cmd)
	}
	return fmt.Sprintf("%s: %s: %s", r.Verdict, r.Cmd, r.Reason)
}

// resolveProgram picks the binary to run for a matched exec. Only the
// policy's system paths are considered; a program declared without any
// falls back to a PATH lookup.
func resolveProgram(valid execpolicy.ValidExec) (string, error) {
	if len(valid.SystemPath) == 0 {
		return exec.LookPath(valid.Program)
	}
	for _, candidate := range valid.SystemPath {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s (tried %s)", ErrNoExecutableCandidate, valid.Program, strings.Join(valid.SystemPath, ", "))
}

func runExec(result CheckResult, stdin io.Reader, stdout, stderr io.Writer) int {
	if !result.matched.IsMatch() {
		printLogErr(stderr, "refusing to run unmatched intent cmd: %s\n", result.Cmd)
		return exitRejected
	}

	path, err := resolveProgram(result.matched.Exec)
	if err != nil {
		printLogErr(stderr, "%s\n", err.Error())
		return exitError
	}
	printLogDebug(os.Stderr, "running %s as %s\n", result.Cmd, path)

	cmd := exec.Command(path, result.Argv[1:]...)
	cmd.Args[0] = result.Argv[0]
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		printLogErr(stderr, "running intent cmd: %s: %s\n", result.Cmd, err.Error())
		return exitError
	}
	if err := cmd.Wait(); err != nil {
		// The command's own exit status is passed through, not logged.
		if exerr, ok := err.(*exec.ExitError); ok {
			return exerr.ExitCode()
		}
		printLogErr(stderr, "waiting for intent cmd: %s: %s\n", result.Cmd, err.Error())
		return exitError
	}

	return exitAllowed
}
