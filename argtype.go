package execpolicy

import (
	"strconv"
	"strings"
)

// unknownStr is the string representation for unknown enum values.
const unknownStr = "unknown"

// ArgType is the closed set of value validators applied to option values and
// positional arguments.
type ArgType int

const (
	// Unknown accepts any value. An exec carrying an Unknown value is assumed
	// to possibly write files.
	Unknown ArgType = iota

	// Literal accepts exactly one declared string.
	Literal

	// OpaqueNonFile accepts free text that is not a path and not dash-prefixed.
	OpaqueNonFile

	// ReadableFile accepts a path the program will only read.
	ReadableFile

	// WriteableFile accepts a path the program may write.
	WriteableFile

	// PositiveInteger accepts base-10 integers >= 1 with no sign.
	PositiveInteger

	// SedCommand accepts sed scripts the sed analyzer proves safe.
	SedCommand
)

// String returns the string representation of an ArgType.
func (t ArgType) String() string {
	switch t {
	case Unknown:
		return "Unknown"
	case Literal:
		return "Literal"
	case OpaqueNonFile:
		return "OpaqueNonFile"
	case ReadableFile:
		return "ReadableFile"
	case WriteableFile:
		return "WriteableFile"
	case PositiveInteger:
		return "PositiveInteger"
	case SedCommand:
		return "SedCommand"
	default:
		return unknownStr
	}
}

// MightWriteFiles reports whether a value of this type can name a file the
// program writes.
func (t ArgType) MightWriteFiles() bool {
	return t == WriteableFile || t == Unknown
}

// Validate checks raw against t without consulting the filesystem. Literal
// types cannot be validated without their expected value; use a Literal
// ArgMatcher or an option declared with a literal instead.
func (t ArgType) Validate(raw string) error {
	return validate(t, "", raw, nil)
}

// validate is the single dispatch point for every ArgType. oracle may be nil,
// in which case file checks are purely syntactic.
func validate(t ArgType, literal, raw string, oracle Oracle) error {
	switch t {
	case Unknown:
		return nil
	case Literal:
		if raw != literal {
			return LiteralValueDidNotMatchErr{Expected: literal, Actual: raw}
		}
		return nil
	case OpaqueNonFile:
		if raw == "" || strings.HasPrefix(raw, "-") {
			return InvalidOpaqueValueErr{Value: raw}
		}
		return nil
	case ReadableFile:
		if err := validateFileName(raw); err != nil {
			return err
		}
		if oracle != nil && !oracle.IsReadable(raw) {
			return FileNotReadableErr{Path: raw}
		}
		return nil
	case WriteableFile:
		return validateFileName(raw)
	case PositiveInteger:
		return validatePositiveInteger(raw)
	case SedCommand:
		if !IsSedCommandProvablySafe(raw) {
			return SedCommandNotProvablySafeErr{Command: raw}
		}
		return nil
	default:
		return InvalidOpaqueValueErr{Value: raw}
	}
}

func validateFileName(raw string) error {
	if raw == "" {
		return EmptyFileNameErr{}
	}
	if strings.HasPrefix(raw, "-") {
		return FileNameLooksLikeOptionErr{Value: raw}
	}
	if strings.IndexByte(raw, 0) >= 0 {
		return InvalidOpaqueValueErr{Value: raw}
	}
	return nil
}

func validatePositiveInteger(raw string) error {
	if raw == "" || raw[0] < '1' || raw[0] > '9' {
		return InvalidPositiveIntegerErr{Value: raw}
	}
	for i := 1; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return InvalidPositiveIntegerErr{Value: raw}
		}
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return InvalidPositiveIntegerErr{Value: raw}
	}
	return nil
}

// ArgMatcher describes what a positional or vararg slot accepts.
type ArgMatcher int

const (
	MatchLiteral ArgMatcher = iota
	MatchOpaqueNonFile
	MatchReadableFile
	MatchWriteableFile
	MatchPositiveInteger
	MatchSedCommand

	// MatchReadableFiles consumes every remaining argument and requires at
	// least one.
	MatchReadableFiles

	// MatchReadableFilesOrCwd consumes every remaining argument; zero is
	// allowed and means the current directory.
	MatchReadableFilesOrCwd

	// MatchUnverifiedVarargs consumes every remaining argument unchecked.
	MatchUnverifiedVarargs
)

// String returns the string representation of an ArgMatcher.
func (m ArgMatcher) String() string {
	switch m {
	case MatchLiteral:
		return "Literal"
	case MatchOpaqueNonFile:
		return "OpaqueNonFile"
	case MatchReadableFile:
		return "ReadableFile"
	case MatchWriteableFile:
		return "WriteableFile"
	case MatchPositiveInteger:
		return "PositiveInteger"
	case MatchSedCommand:
		return "SedCommand"
	case MatchReadableFiles:
		return "ReadableFiles"
	case MatchReadableFilesOrCwd:
		return "ReadableFilesOrCwd"
	case MatchUnverifiedVarargs:
		return "UnverifiedVarargs"
	default:
		return unknownStr
	}
}

// ArgType returns the type every argument consumed by m is validated as.
func (m ArgMatcher) ArgType() ArgType {
	switch m {
	case MatchLiteral:
		return Literal
	case MatchOpaqueNonFile:
		return OpaqueNonFile
	case MatchReadableFile, MatchReadableFiles, MatchReadableFilesOrCwd:
		return ReadableFile
	case MatchWriteableFile:
		return WriteableFile
	case MatchPositiveInteger:
		return PositiveInteger
	case MatchSedCommand:
		return SedCommand
	default:
		return Unknown
	}
}

// IsVararg reports whether m consumes all remaining arguments.
func (m ArgMatcher) IsVararg() bool {
	switch m {
	case MatchReadableFiles, MatchReadableFilesOrCwd, MatchUnverifiedVarargs:
		return true
	default:
		return false
	}
}

// MinArgs is the number of arguments a vararg matcher must consume.
func (m ArgMatcher) MinArgs() int {
	if m == MatchReadableFiles {
		return 1
	}
	return 0
}

// ParseArgMatcher is the inverse of ArgMatcher.String.
func ParseArgMatcher(s string) (ArgMatcher, bool) {
	for m := MatchLiteral; m <= MatchUnverifiedVarargs; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// ParseArgType is the inverse of ArgType.String.
func ParseArgType(s string) (ArgType, bool) {
	for t := Unknown; t <= SedCommand; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
