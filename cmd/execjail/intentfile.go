package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var rsnNotTokenizable = "unbalanced quotes or a trailing escape"

type IntentCmdsParserErr struct {
	Location   string
	LineNumber int
	Line       string
	Reason     string
}

func NewIntentCmdsParserErr(c Config, lineNum int, line, reason string) IntentCmdsParserErr {
	return IntentCmdsParserErr{
		Location:   c.CheckIntentCmdsFile,
		LineNumber: lineNum,
		Line:       line,
		Reason:     reason,
	}
}

func (e IntentCmdsParserErr) Error() string {
	locAndLine := fmt.Sprintf("%s:%d", e.Location, e.LineNumber)
	return fmt.Sprintf("parsing intent cmds: %s\n\t%s: %s", e.Reason, locAndLine, e.Line)
}

var ErrEmptyIntentCmdsFile = errors.New("empty intent cmds file")

// IntentCmd is one line of an intent cmds file.
type IntentCmd struct {
	LineNumber int
	Line       string
	Argv       []string
}

// parseIntentCmds reads one command per line. Blank lines and lines starting
// with # are skipped. A line that cannot be tokenized fails the whole file so
// that a typo is never reported as a rejection.
func parseIntentCmds(conf Config, f io.Reader) ([]IntentCmd, error) {
	scanner := bufio.NewScanner(f)

	var cmds []IntentCmd
	for i := 1; scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		argv, err := tokenize(line)
		if err != nil {
			return nil, NewIntentCmdsParserErr(conf, i, line, rsnNotTokenizable)
		}

		cmds = append(cmds, IntentCmd{LineNumber: i, Line: line, Argv: argv})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(cmds) == 0 {
		return nil, ErrEmptyIntentCmdsFile
	}

	return cmds, nil
}

func errIsAny(target error, errs ...error) bool {
	for _, err := range errs {
		if errors.Is(target, err) {
			return true
		}
	}

	return false
}
