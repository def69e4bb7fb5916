package execpolicy

import "strings"

// matcher holds the state of one left-to-right scan of an argument vector
// against a ProgramSpec.
type matcher struct {
	spec   *ProgramSpec
	oracle Oracle

	seen     map[string]bool
	filled   []bool
	nextSlot int
	varargs  int

	flags []MatchedFlag
	opts  []MatchedOpt
	args  []MatchedArg
}

// match consumes args against s. It either returns a ValidExec covering
// every argument or the first error encountered.
func (s *ProgramSpec) match(args []string, oracle Oracle) (ValidExec, error) {
	m := &matcher{
		spec:   s,
		oracle: oracle,
		seen:   make(map[string]bool),
		filled: make([]bool, len(s.positional)),
	}
	if err := m.scan(args); err != nil {
		return ValidExec{}, err
	}
	if err := m.finish(); err != nil {
		return ValidExec{}, err
	}
	return ValidExec{
		Program:    s.def.Program,
		Flags:      m.flags,
		Opts:       m.opts,
		Args:       m.args,
		SystemPath: s.SystemPath(),
	}, nil
}

func (m *matcher) program() string { return m.spec.def.Program }

func (m *matcher) scan(args []string) error {
	for i := 0; i < len(args); {
		tok := args[i]

		if m.spec.flags[tok] {
			m.flags = append(m.flags, MatchedFlag{Name: tok})
			m.seen[tok] = true
			i++
			continue
		}

		if opt, ok := m.spec.opts[tok]; ok {
			if i+1 >= len(args) {
				return OptionMissingValueErr{Program: m.program(), Option: tok}
			}
			value := args[i+1]
			if looksLikeControlToken(value, opt) {
				return OptionFollowedByOptionInsteadOfValueErr{Program: m.program(), Option: tok, Value: value}
			}
			if err := validate(opt.Type, opt.Literal, value, m.oracle); err != nil {
				return err
			}
			m.opts = append(m.opts, MatchedOpt{Name: tok, Value: value, Type: opt.Type})
			m.seen[tok] = true
			i += 2
			continue
		}

		ok, err := m.positional(i, tok)
		if err != nil {
			return err
		}
		if ok {
			i++
			continue
		}

		if v := m.spec.vararg; v != nil {
			t := v.Matcher.ArgType()
			for ; i < len(args); i++ {
				if err := validate(t, v.Literal, args[i], m.oracle); err != nil {
					return err
				}
				m.args = append(m.args, MatchedArg{Index: i, Type: t, Value: args[i]})
				m.varargs++
			}
			return nil
		}

		return UnexpectedArgumentErr{Program: m.program(), Arg: tok, Index: i}
	}
	return nil
}

// positional offers tok to the next enabled positional slot. Slots whose
// condition is false when their turn comes are skipped for good.
func (m *matcher) positional(index int, tok string) (bool, error) {
	for m.nextSlot < len(m.spec.positional) {
		slot := m.spec.positional[m.nextSlot]
		if !slot.When.holds(m.seen) {
			m.nextSlot++
			continue
		}
		t := slot.Matcher.ArgType()
		if err := validate(t, slot.Literal, tok, m.oracle); err != nil {
			return false, err
		}
		m.args = append(m.args, MatchedArg{Index: index, Type: t, Value: tok})
		m.filled[m.nextSlot] = true
		m.nextSlot++
		return true, nil
	}
	return false, nil
}

// finish runs the checks that need the whole argument vector: unfilled
// positional slots, an empty vararg tail and unmet capabilities.
func (m *matcher) finish() error {
	for i := m.nextSlot; i < len(m.spec.positional); i++ {
		slot := m.spec.positional[i]
		if slot.When == nil {
			return NotEnoughArgsErr{Program: m.program(), Matcher: slot.Matcher}
		}
	}

	if v := m.spec.vararg; v != nil && m.varargs < v.Matcher.MinArgs() {
		return VarargMatcherDidNotMatchAnythingErr{Program: m.program(), Matcher: v.Matcher}
	}

	var missing []string
	for _, c := range m.spec.capabilities {
		if !m.satisfied(c) {
			missing = append(missing, c.Option)
		}
	}
	if len(missing) > 0 {
		return MissingRequiredOptionsErr{Program: m.program(), Options: missing}
	}
	return nil
}

func (m *matcher) satisfied(c CapabilityRule) bool {
	if m.seen[c.Option] {
		return true
	}
	for _, idx := range c.Slots {
		if m.filled[idx] {
			return true
		}
	}
	return false
}

// looksLikeControlToken reports whether value, sitting in the value slot of
// opt, could be read as a flag or option. Such values are never validated as
// data; only a Literal option whose literal is exactly value accepts one.
func looksLikeControlToken(value string, opt Opt) bool {
	if !strings.HasPrefix(value, "-") {
		return false
	}
	return opt.Type != Literal || opt.Literal != value
}
