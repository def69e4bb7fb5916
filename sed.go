package execpolicy

import (
	"fmt"
	"strconv"
)

// SedAddressKind distinguishes the address forms a sed command may carry.
type SedAddressKind int

const (
	SedAddrLine SedAddressKind = iota
	SedAddrLast
	SedAddrRegex
	// SedAddrStep is GNU first~step.
	SedAddrStep
	// SedAddrRelative is the +N form, valid only as a range end.
	SedAddrRelative
	// SedAddrMultiple is the ~N form, valid only as a range end.
	SedAddrMultiple
)

// SedAddress is one side of a sed address range.
type SedAddress struct {
	Kind  SedAddressKind
	Line  uint64
	Step  uint64
	Regex string
}

// SedSubstitution holds the parts of an s command.
type SedSubstitution struct {
	Pattern     string
	Replacement string
	Flags       string
}

// SedInstruction is a single parsed sed command. Block delimiters are
// represented as instructions named '{' and '}'.
type SedInstruction struct {
	Start   *SedAddress
	End     *SedAddress
	Negated bool
	Name    byte
	Subst   *SedSubstitution
}

type sedParseErr struct {
	Pos    int
	Reason string
}

func (e sedParseErr) Error() string {
	return fmt.Sprintf("sed script: offset %d: %s", e.Pos, e.Reason)
}

// IsSedCommandProvablySafe reports whether script parses completely and
// contains no command able to execute programs or touch files other than
// the program's input and output streams.
func IsSedCommandProvablySafe(script string) bool {
	_, err := ParseSedScript(script)
	return err == nil
}

// ParseSedScript parses script and rejects anything outside the safe
// subset: line/regex/step addresses and ranges, negation, blocks, the
// commands p P d D n N g G h H x l = q Q z F y, and s with the g p i I m M
// and numeric flags. Everything else, including constructs that GNU sed
// would accept, is reported as an error.
func ParseSedScript(script string) ([]SedInstruction, error) {
	p := &sedParser{src: script}
	var out []SedInstruction
	for {
		p.skipSeparators()
		if p.eof() {
			break
		}
		inst, err := p.instruction()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if p.depth != 0 {
		return nil, p.fail("unbalanced {")
	}
	if len(out) == 0 {
		return nil, p.fail("empty script")
	}
	return out, nil
}

type sedParser struct {
	src   string
	pos   int
	depth int
}

func (p *sedParser) eof() bool { return p.pos >= len(p.src) }

func (p *sedParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *sedParser) next() byte {
	c := p.peek()
	p.pos++
	return c
}

func (p *sedParser) fail(reason string) error {
	return sedParseErr{Pos: p.pos, Reason: reason}
}

func (p *sedParser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.pos++
	}
}

func (p *sedParser) skipComment() {
	for !p.eof() && p.peek() != '\n' {
		p.pos++
	}
}

func (p *sedParser) skipSeparators() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\n', ';':
			p.pos++
		case '#':
			p.skipComment()
		default:
			return
		}
	}
}

// endCommand requires the current command to be followed by a separator,
// a closing brace (left for the caller) or the end of the script.
func (p *sedParser) endCommand() error {
	p.skipSpace()
	switch p.peek() {
	case 0:
		if p.eof() {
			return nil
		}
		return p.fail("unexpected NUL")
	case ';', '\n', '}':
		return nil
	case '#':
		p.skipComment()
		return nil
	default:
		return p.fail(fmt.Sprintf("unexpected %q after command", p.peek()))
	}
}

func (p *sedParser) instruction() (SedInstruction, error) {
	var inst SedInstruction

	if p.peek() == '}' {
		if p.depth == 0 {
			return inst, p.fail("unexpected }")
		}
		p.pos++
		p.depth--
		inst.Name = '}'
		return inst, p.endCommand()
	}

	start, err := p.address()
	if err != nil {
		return inst, err
	}
	inst.Start = start
	if start != nil {
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			p.skipSpace()
			end, err := p.rangeEnd()
			if err != nil {
				return inst, err
			}
			inst.End = end
		}
	}

	p.skipSpace()
	if p.peek() == '!' {
		p.pos++
		inst.Negated = true
		p.skipSpace()
	}
	if p.eof() {
		return inst, p.fail("missing command")
	}

	inst.Name = p.next()
	switch inst.Name {
	case '{':
		p.depth++
		return inst, nil
	case 'p', 'P', 'd', 'D', 'n', 'N', 'g', 'G', 'h', 'H', 'x', '=', 'z', 'F':
		return inst, p.endCommand()
	case 'q', 'Q', 'l':
		p.skipSpace()
		if _, _, err := p.number(); err != nil {
			return inst, err
		}
		return inst, p.endCommand()
	case 'y':
		if err := p.transliteration(); err != nil {
			return inst, err
		}
		return inst, p.endCommand()
	case 's':
		subst, err := p.substitution()
		if err != nil {
			return inst, err
		}
		inst.Subst = subst
		return inst, p.endCommand()
	case 'e':
		return inst, p.fail("e executes a shell command")
	case 'w', 'W':
		return inst, p.fail("w writes to a file")
	case 'r', 'R':
		return inst, p.fail("r reads an arbitrary file")
	default:
		return inst, p.fail(fmt.Sprintf("unsupported command %q", inst.Name))
	}
}

// number reads an optional unsigned decimal. ok is false when no digit is
// present.
func (p *sedParser) number() (n uint64, ok bool, err error) {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, false, nil
	}
	n, err = strconv.ParseUint(p.src[start:p.pos], 10, 64)
	if err != nil {
		return 0, false, p.fail("number out of range")
	}
	return n, true, nil
}

// address parses an optional address. A nil address with a nil error means
// the command is unaddressed.
func (p *sedParser) address() (*SedAddress, error) {
	switch c := p.peek(); {
	case c >= '0' && c <= '9':
		line, _, err := p.number()
		if err != nil {
			return nil, err
		}
		if p.peek() != '~' {
			return &SedAddress{Kind: SedAddrLine, Line: line}, nil
		}
		p.pos++
		step, ok, err := p.number()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, p.fail("missing step after ~")
		}
		return &SedAddress{Kind: SedAddrStep, Line: line, Step: step}, nil
	case c == '$':
		p.pos++
		return &SedAddress{Kind: SedAddrLast}, nil
	case c == '/':
		p.pos++
		return p.regexAddress('/')
	case c == '\\':
		p.pos++
		delim := p.next()
		if delim == '\n' || delim == '\\' || delim == 0 {
			return nil, p.fail("invalid regex delimiter")
		}
		return p.regexAddress(delim)
	default:
		return nil, nil
	}
}

func (p *sedParser) regexAddress(delim byte) (*SedAddress, error) {
	re, err := p.regex(delim)
	if err != nil {
		return nil, err
	}
	for p.peek() == 'I' || p.peek() == 'M' {
		p.pos++
	}
	return &SedAddress{Kind: SedAddrRegex, Regex: re}, nil
}

func (p *sedParser) rangeEnd() (*SedAddress, error) {
	switch p.peek() {
	case '+', '~':
		kind := SedAddrRelative
		if p.next() == '~' {
			kind = SedAddrMultiple
		}
		n, ok, err := p.number()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, p.fail("missing number in range end")
		}
		return &SedAddress{Kind: kind, Line: n}, nil
	}
	end, err := p.address()
	if err != nil {
		return nil, err
	}
	if end == nil {
		return nil, p.fail("missing range end")
	}
	if end.Kind == SedAddrStep {
		return nil, p.fail("step address as range end")
	}
	return end, nil
}

// delimited reads up to the next unescaped delim and consumes it. Escape
// sequences are kept verbatim. An unescaped newline ends the script part
// early and is rejected.
func (p *sedParser) delimited(delim byte) (string, error) {
	start := p.pos
	for !p.eof() {
		c := p.next()
		switch {
		case c == '\\':
			if p.eof() {
				return "", p.fail("trailing backslash")
			}
			p.pos++
		case c == '\n':
			return "", p.fail("unterminated expression")
		case c == delim:
			return p.src[start : p.pos-1], nil
		}
	}
	return "", p.fail("unterminated expression")
}

// regex is delimited for the regex part of an address or s command. A
// delim inside a bracket expression is literal, as it is for GNU sed.
func (p *sedParser) regex(delim byte) (string, error) {
	if delim == '[' || delim == ']' {
		return "", p.fail("bracket as regex delimiter")
	}
	start := p.pos
	for !p.eof() {
		c := p.next()
		switch {
		case c == '\\':
			if p.eof() {
				return "", p.fail("trailing backslash")
			}
			p.pos++
		case c == '\n':
			return "", p.fail("unterminated expression")
		case c == delim:
			return p.src[start : p.pos-1], nil
		case c == '[':
			if err := p.bracket(); err != nil {
				return "", err
			}
		}
	}
	return "", p.fail("unterminated expression")
}

// bracket skips a bracket expression whose opening [ was consumed. A leading
// ^ and a leading ] are literal, and [:class:], [=x=] and [.x.] are skipped
// whole. Backslash has no special meaning inside.
func (p *sedParser) bracket() error {
	if p.peek() == '^' {
		p.pos++
	}
	if p.peek() == ']' {
		p.pos++
	}
	for !p.eof() {
		c := p.next()
		switch c {
		case '\n':
			return p.fail("unterminated bracket expression")
		case ']':
			return nil
		case '[':
			switch kind := p.peek(); kind {
			case ':', '=', '.':
				p.pos++
				if err := p.bracketClass(kind); err != nil {
					return err
				}
			}
		}
	}
	return p.fail("unterminated bracket expression")
}

func (p *sedParser) bracketClass(kind byte) error {
	for !p.eof() {
		c := p.next()
		if c == '\n' {
			break
		}
		if c == kind && p.peek() == ']' {
			p.pos++
			return nil
		}
	}
	return p.fail("unterminated bracket expression")
}

func (p *sedParser) substitutionDelimiter() (byte, error) {
	delim := p.next()
	if delim == '\n' || delim == '\\' || delim == 0 {
		return 0, p.fail("invalid delimiter")
	}
	return delim, nil
}

func (p *sedParser) transliteration() error {
	delim, err := p.substitutionDelimiter()
	if err != nil {
		return err
	}
	src, err := p.delimited(delim)
	if err != nil {
		return err
	}
	dst, err := p.delimited(delim)
	if err != nil {
		return err
	}
	if unescapedLen(src) != unescapedLen(dst) {
		return p.fail("y strings differ in length")
	}
	return nil
}

func unescapedLen(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
		}
		n++
	}
	return n
}

func (p *sedParser) substitution() (*SedSubstitution, error) {
	delim, err := p.substitutionDelimiter()
	if err != nil {
		return nil, err
	}
	pattern, err := p.regex(delim)
	if err != nil {
		return nil, err
	}
	replacement, err := p.delimited(delim)
	if err != nil {
		return nil, err
	}

	start := p.pos
	seenOccurrence := false
	for !p.eof() {
		switch c := p.peek(); {
		case c == 'g' || c == 'p' || c == 'i' || c == 'I' || c == 'm' || c == 'M':
			p.pos++
		case c >= '1' && c <= '9':
			if seenOccurrence {
				return nil, p.fail("multiple occurrence flags")
			}
			seenOccurrence = true
			if _, _, err := p.number(); err != nil {
				return nil, err
			}
		case c == 'e':
			return nil, p.fail("s///e executes the pattern space")
		case c == 'w':
			return nil, p.fail("s///w writes to a file")
		case c == ' ' || c == '\t' || c == ';' || c == '\n' || c == '}' || c == '#':
			return &SedSubstitution{Pattern: pattern, Replacement: replacement, Flags: p.src[start:p.pos]}, nil
		default:
			return nil, p.fail(fmt.Sprintf("unsupported substitution flag %q", c))
		}
	}
	return &SedSubstitution{Pattern: pattern, Replacement: replacement, Flags: p.src[start:]}, nil
}
