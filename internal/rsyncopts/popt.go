package rsyncopts

import (
	"fmt"
	"strconv"
	"strings"
)

// poptArgType mirrors the handful of popt(3) POPT_ARG_* argument kinds this
// parser's option tables actually use.
type poptArgType int

const (
	POPT_ARG_NONE poptArgType = iota
	POPT_ARG_VAL
	POPT_ARG_INT
	POPT_ARG_STRING
	POPT_BIT_SET
)

// poptOption describes one entry of an option table: long name (without
// "--"), short name (a single character, without "-", or "" if none), the
// argument kind, a pointer to the field it stores into (nil if the caller
// must handle the option itself), and a value: for POPT_ARG_VAL/POPT_BIT_SET
// it is the value stored/OR'd in; for the rest, a non-zero val is the opt
// code returned to the caller's switch for further handling.
type poptOption struct {
	longName  string
	shortName string
	argInfo   poptArgType
	arg       any
	val       int
}

// PoptError reports a command-line parsing failure, optionally one that
// happened while re-parsing the argument list under the daemon option
// table (--daemon switches parsing modes partway through).
type PoptError struct {
	Message    string
	DaemonMode bool
}

func (e *PoptError) Error() string { return e.Message }

// Context holds the in-progress state of one ParseArguments call: the
// option table in effect, the raw argument list, and the position of the
// next token to examine.
type Context struct {
	Options *Options
	table   []poptOption

	args []string
	pos  int

	pendingShort string
	lastOptArg   string

	RemainingArgs []string
}

// poptGetOptArg returns the string argument consumed by the most recently
// returned POPT_ARG_STRING option.
func (pc *Context) poptGetOptArg() string { return pc.lastOptArg }

func (pc *Context) findLong(name string) *poptOption {
	for i := range pc.table {
		if pc.table[i].longName == name {
			return &pc.table[i]
		}
	}
	return nil
}

func (pc *Context) findShort(name string) *poptOption {
	for i := range pc.table {
		if pc.table[i].shortName == name {
			return &pc.table[i]
		}
	}
	return nil
}

// poptGetNextOpt advances through pc.args, returning the opt code of the
// next option that needs the caller's attention (a non-nil arg pointer with
// a zero val is applied silently and never returned), -1 once every
// argument has been consumed (with positionals collected into
// pc.RemainingArgs), or an error for an unrecognized option.
func (pc *Context) poptGetNextOpt() (int, error) {
	for {
		if pc.pendingShort != "" {
			code, err := pc.consumeShort()
			if err != nil {
				return 0, err
			}
			if code != 0 {
				return code, nil
			}
			continue
		}

		if pc.pos >= len(pc.args) {
			return -1, nil
		}
		tok := pc.args[pc.pos]

		if tok == "--" {
			pc.pos++
			pc.RemainingArgs = append(pc.RemainingArgs, pc.args[pc.pos:]...)
			pc.pos = len(pc.args)
			continue
		}

		if strings.HasPrefix(tok, "--") && len(tok) > 2 {
			pc.pos++
			name := tok[2:]
			var val string
			hasVal := false
			if i := strings.IndexByte(name, '='); i >= 0 {
				val = name[i+1:]
				name = name[:i]
				hasVal = true
			}
			opt := pc.findLong(name)
			if opt == nil {
				return 0, &PoptError{Message: fmt.Sprintf("unsupported option '--%s'", name)}
			}
			if !hasVal && needsArg(opt.argInfo) {
				if pc.pos >= len(pc.args) {
					return 0, &PoptError{Message: fmt.Sprintf("option '--%s' requires an argument", name)}
				}
				val = pc.args[pc.pos]
				pc.pos++
			}
			code, err := pc.apply(opt, val)
			if err != nil {
				return 0, err
			}
			if code != 0 {
				return code, nil
			}
			continue
		}

		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			pc.pos++
			pc.pendingShort = tok[1:]
			continue
		}

		pc.RemainingArgs = append(pc.RemainingArgs, tok)
		pc.pos++
	}
}

func (pc *Context) consumeShort() (int, error) {
	name := pc.pendingShort[:1]
	rest := pc.pendingShort[1:]
	opt := pc.findShort(name)
	if opt == nil {
		pc.pendingShort = ""
		return 0, &PoptError{Message: fmt.Sprintf("unsupported option '-%s'", name)}
	}
	if needsArg(opt.argInfo) {
		var val string
		if rest != "" {
			val = rest
			rest = ""
		} else if pc.pos < len(pc.args) {
			val = pc.args[pc.pos]
			pc.pos++
		} else {
			pc.pendingShort = ""
			return 0, &PoptError{Message: fmt.Sprintf("option '-%s' requires an argument", name)}
		}
		pc.pendingShort = rest
		return pc.apply(opt, val)
	}
	pc.pendingShort = rest
	return pc.apply(opt, "")
}

func needsArg(t poptArgType) bool {
	return t == POPT_ARG_INT || t == POPT_ARG_STRING
}

func (pc *Context) apply(opt *poptOption, val string) (int, error) {
	switch opt.argInfo {
	case POPT_ARG_NONE:
		if opt.arg != nil {
			setIntField(opt.arg, 1)
			if opt.val != 0 {
				return opt.val, nil
			}
			return 0, nil
		}
		return opt.val, nil

	case POPT_ARG_VAL:
		if opt.arg != nil {
			setIntField(opt.arg, opt.val)
		}
		return 0, nil

	case POPT_BIT_SET:
		if opt.arg != nil {
			orIntField(opt.arg, opt.val)
		}
		return 0, nil

	case POPT_ARG_INT:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, &PoptError{Message: fmt.Sprintf("option '--%s': invalid integer %q", opt.longName, val)}
		}
		if opt.arg != nil {
			setIntField(opt.arg, n)
		}
		if opt.val != 0 {
			return opt.val, nil
		}
		return 0, nil

	case POPT_ARG_STRING:
		pc.lastOptArg = val
		if opt.arg != nil {
			if sp, ok := opt.arg.(*string); ok {
				*sp = val
			}
		}
		if opt.val != 0 {
			return opt.val, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("BUG: unhandled poptArgType %d", opt.argInfo)
}

// setIntField stores n through arg, which must be a pointer to one of the
// small integer types the Options struct uses for its flag fields.
func setIntField(arg any, n int) {
	switch p := arg.(type) {
	case *int:
		*p = n
	case *int32:
		*p = int32(n)
	case *bool:
		*p = n != 0
	default:
		panic(fmt.Sprintf("BUG: unsupported popt arg field type %T", arg))
	}
}

func orIntField(arg any, n int) {
	switch p := arg.(type) {
	case *int:
		*p |= n
	case *int32:
		*p |= int32(n)
	default:
		panic(fmt.Sprintf("BUG: unsupported popt bit-set field type %T", arg))
	}
}
