package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix = "EXECJAIL"

	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

var (
	flagLog             string
	flagEnvReference    string
	flagPolicy          string
	flagVerbose         bool
	flagCheckFiles      bool
	flagCheckIntentCmds string
	flagRun             bool
	flagOutput          string
)

var (
	ErrCmdNotTokenizable             = errors.New("cmd could not be split into arguments")
	ErrEmptyIntentCmd                = errors.New("cmd is empty")
	ErrPolicyFileManipulationAttempt = errors.New("attempting to manipulate the policy file. Aborted")
	ErrJailBinaryManipulationAttempt = fmt.Errorf("attempting to manipulate: %s. Aborted", filepath.Base(os.Args[0]))
	ErrJailLogManipulationAttempt    = errors.New("attempting to manipulate execjail log. Aborted")
	ErrPolicyAndCheckCmdsFromStdin   = errors.New("policy and intent cmds cannot both be read from stdin")
	ErrUnknownOutputFormat           = errors.New("output format must be one of: text, json, yaml")
	ErrRunWithCheckIntentCmds        = errors.New("--run cannot be combined with --check-intent-cmds")
	ErrPolicyFromStdinInShellMode    = errors.New("policy cannot be read from stdin in shell mode")
)

type envVars struct {
	IntentCmd    string `envconfig:"CMD"`
	EnvReference string `envconfig:"ENV_REFERENCE"`
	Policy       string `envconfig:"POLICY"`
	Log          string `envconfig:"LOG"`
	Verbose      bool   `envconfig:"VERBOSE"`
	CheckFiles   bool   `envconfig:"CHECK_FILES"`
	Output       string `envconfig:"OUTPUT"`
}

func defaultEnvVars() envVars {
	return envVars{Output: OutputText}
}

type Config struct {
	// IntentCmd is the command as the user gave it, used for display and the
	// manipulation checks. IntentArgv is its tokenized form.
	IntentCmd  string
	IntentArgv []string

	Log        string
	Policy     string
	Verbose    bool
	CheckFiles bool
	Run        bool
	Output     string

	CheckMode           bool
	CheckIntentCmdsFile string
	Shell               bool
}

var NoConfig = Config{}

func init() {
	pflag.ErrHelp = errors.New("")
}

func parseEnvVars() (envVars, error) {
	envvars := defaultEnvVars()

	if err := envconfig.Process(EnvPrefix, &envvars); err != nil {
		return envVars{}, err
	}

	return envvars, nil
}

func parseEnvAndFlags() (Config, error) {
	envvars, err := parseEnvVars()
	if err != nil {
		return NoConfig, err
	}

	cmdOptions := parseFlags(envvars)

	if flagVerbose {
		debug = true
	}

	logFileIsSetByFlag := pflag.CommandLine.Changed("log-file")
	_, logFileIsSetByEnv := os.LookupEnv(EnvPrefix + "_LOG")

	var logVal string
	if !logFileIsSetByEnv && !logFileIsSetByFlag {
		log.SetOutput(io.Discard)
	} else {
		logVal = flagLog

		if logVal == "" {
			if err := setLoggerToSyslog(); err != nil {
				return NoConfig, fmt.Errorf("configuring syslog logger: %w", err)
			}
			printLogDebug(os.Stderr, "logging to syslog\n")
		} else {
			if err := setLoggerToFile(logVal); err != nil {
				return NoConfig, fmt.Errorf("configuring file logger: %w", err)
			}
			printLogDebug(os.Stderr, "logging to: %s\n", logVal)
		}
	}

	printLogDebug(os.Stderr, "loaded env vars: %+v\n", envvars)
	pflag.Visit(func(f *pflag.Flag) {
		printLogDebug(os.Stderr, "flag set: --%s=%s\n", f.Name, f.Value)
	})

	switch flagOutput {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return NoConfig, ErrUnknownOutputFormat
	}

	if envvars.IntentCmd != "" && envvars.EnvReference != "" {
		printLogWarn(os.Stderr, "both %s_CMD and %s_ENV_REFERENCE environment variables are set\n", EnvPrefix, EnvPrefix)
	}

	cmd := envvars.IntentCmd
	if cmd != "" {
		printLogDebug(os.Stderr, "intent command loaded from $%s_CMD\n", EnvPrefix)
	}

	if cmd == "" && flagEnvReference != "" {
		cmd = os.Getenv(flagEnvReference)
		printLogDebug(os.Stderr, "intent command loaded from: $%s\n", flagEnvReference)
	}

	var argv []string
	switch {
	case len(cmdOptions) > 1:
		argv = cmdOptions
		cmd = strings.Join(cmdOptions, " ")
		printLogDebug(os.Stderr, "intent command loaded from arguments\n")
	case len(cmdOptions) == 1:
		cmd = cmdOptions[0]
		printLogDebug(os.Stderr, "intent command loaded from argument\n")
	}

	conf := Config{
		Log:                 logVal,
		Policy:              flagPolicy,
		Verbose:             flagVerbose,
		CheckFiles:          flagCheckFiles,
		Run:                 flagRun,
		Output:              flagOutput,
		CheckIntentCmdsFile: flagCheckIntentCmds,
		CheckMode:           flagCheckIntentCmds != "",
	}

	if conf.CheckMode {
		if conf.Run {
			return NoConfig, ErrRunWithCheckIntentCmds
		}
		if conf.Policy == "-" && conf.CheckIntentCmdsFile == "-" {
			return NoConfig, ErrPolicyAndCheckCmdsFromStdin
		}
		return conf, nil
	}

	if cmd == "" {
		if conf.Policy == "-" {
			return NoConfig, ErrPolicyFromStdinInShellMode
		}
		conf.Shell = true
		return conf, nil
	}

	if err := checkCmdSafety(cmd, conf.Policy, logVal); err != nil {
		return NoConfig, err
	}

	if argv == nil {
		argv, err = tokenize(cmd)
		if err != nil {
			return NoConfig, err
		}
	}

	conf.IntentCmd = cmd
	conf.IntentArgv = argv
	return conf, nil
}

// tokenize splits a command line into argv with shell quoting rules. No
// expansion of any kind takes place.
func tokenize(cmd string) ([]string, error) {
	argv, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCmdNotTokenizable, err.Error())
	}
	if len(argv) == 0 {
		return nil, ErrEmptyIntentCmd
	}
	return argv, nil
}

func checkCmdSafety(cmd, policyPath, logPath string) error {
	if policyPath != "" && policyPath != "-" &&
		(strings.Contains(cmd, policyPath) || strings.Contains(cmd, filepath.Base(policyPath))) {
		return ErrPolicyFileManipulationAttempt
	} else if strings.Contains(cmd, filepath.Base(os.Args[0])) {
		return ErrJailBinaryManipulationAttempt
	} else if logPath != "" && strings.Contains(cmd, logPath) {
		return ErrJailLogManipulationAttempt
	}
	return nil
}

func splitAtEndOfArgs(args []string) ([]string, []string) {
	if len(args) == 0 || len(args) == 1 {
		return nil, nil
	}

	args = args[1:]

	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func parseFlags(envvars envVars) []string {
	pflag.BoolVarP(&flagVerbose, "verbose", "v", envvars.Verbose, "enable verbose mode")
	pflag.StringVarP(&flagLog, "log-file", "l", envvars.Log, "log file location e.g. /var/log/execjail.log. If set to \"\" logs to syslog. If unset logging is disabled.")
	pflag.StringVarP(&flagEnvReference, "env-reference", "e", envvars.EnvReference, "name of an environment variable that holds the cmd to check e.g. SSH_ORIGINAL_COMMAND")
	pflag.StringVarP(&flagPolicy, "policy", "p", envvars.Policy, "policy file location (.policy Starlark or .yaml), \"-\" reads stdin. If unset the built-in policy is used.")
	pflag.BoolVar(&flagCheckFiles, "check-files", envvars.CheckFiles, "require readable file arguments to exist and be readable")
	pflag.StringVar(&flagCheckIntentCmds, "check-intent-cmds", "", "file of intent cmds, one per line, to check without running. \"-\" reads stdin.")
	pflag.BoolVar(&flagRun, "run", false, "run the intent cmd if, and only if, the policy matches it")
	pflag.StringVarP(&flagOutput, "output", "o", envvars.Output, "verdict output format: text, json or yaml")

	args, cmdOptions := splitAtEndOfArgs(os.Args)
	pflag.CommandLine.Parse(args)

	return cmdOptions
}
