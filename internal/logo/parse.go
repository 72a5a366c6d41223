package logo

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError is returned by Parse when the input does not match the grammar.
// Nothing from a rejected input is ever executed.
type SyntaxError struct {
	Input  string
	Offset int
	Msg    string
	// Unclosed is set when the input ended inside a "[" block, so more
	// input could still complete it.
	Unclosed bool
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Context renders the offending line with a caret under the error offset.
func (e *SyntaxError) Context() string {
	off := e.Offset
	if off > len(e.Input) {
		off = len(e.Input)
	}
	return e.Input + "\n" + strings.Repeat(" ", off) + "^"
}

var keywords = map[string]Op{
	"forward": OpForward,
	"fd":      OpForward,
	"back":    OpBack,
	"bk":      OpBack,
	"left":    OpLeft,
	"lt":      OpLeft,
	"right":   OpRight,
	"rt":      OpRight,
	"penup":   OpPenUp,
	"pu":      OpPenUp,
	"pendown": OpPenDown,
	"pd":      OpPenDown,
	"setpen":  OpSetPen,
	"repeat":  OpRepeat,
}

// Parse compiles one line of turtle commands. The whole input must match:
//
//	list    = { stmt | ";" }
//	stmt    = ("fd"|"bk") [ws real] | ("lt"|"rt") ws real | "pu" | "pd"
//	        | "setpen" ws int ws int | "repeat" ws int [ws] "[" list "]"
//
// Keywords are case-insensitive and statements are separated by ";".
func Parse(text string) (List, error) {
	p := &parser{src: text}
	l, err := p.list(false)
	if err != nil {
		return nil, err
	}
	return l, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Input: p.src, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func (p *parser) skipSpace() int {
	start := p.pos
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
	return p.pos - start
}

func (p *parser) list(inBlock bool) (List, error) {
	var out List
	for {
		p.skipSpace()
		if p.eof() {
			if inBlock {
				err := p.errorf("missing ']'")
				err.(*SyntaxError).Unclosed = true
				return nil, err
			}
			return out, nil
		}
		switch p.peek() {
		case ']':
			if inBlock {
				return out, nil
			}
			return nil, p.errorf("unexpected ']'")
		case ';':
			p.pos++
			continue
		}

		cmd, err := p.command()
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)

		p.skipSpace()
		switch {
		case p.eof(), p.peek() == ']':
		case p.peek() == ';':
			p.pos++
		default:
			return nil, p.errorf("expected ';' after %s", cmd.Op)
		}
	}
}

func (p *parser) command() (Command, error) {
	start := p.pos
	for !p.eof() && isLetter(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	if word == "" {
		return Command{}, p.errorf("expected command, found %q", p.src[p.pos:p.pos+1])
	}
	op, ok := keywords[strings.ToLower(word)]
	if !ok {
		p.pos = start
		return Command{}, p.errorf("unknown command %q", word)
	}

	switch op {
	case OpForward, OpBack:
		d := 1.0
		save := p.pos
		if p.skipSpace() > 0 && p.numberAhead() {
			v, err := p.real()
			if err != nil {
				return Command{}, err
			}
			d = v
		} else {
			p.pos = save
		}
		return Command{Op: op, Arg: d}, nil

	case OpLeft, OpRight:
		if err := p.space(op); err != nil {
			return Command{}, err
		}
		a, err := p.real()
		if err != nil {
			return Command{}, err
		}
		return Command{Op: op, Arg: a}, nil

	case OpPenUp, OpPenDown:
		return Command{Op: op}, nil

	case OpSetPen:
		if err := p.space(op); err != nil {
			return Command{}, err
		}
		item, err := p.integer()
		if err != nil {
			return Command{}, err
		}
		if err := p.space(op); err != nil {
			return Command{}, err
		}
		uses, err := p.integer()
		if err != nil {
			return Command{}, err
		}
		return SetPen(item, uses), nil

	case OpRepeat:
		if err := p.space(op); err != nil {
			return Command{}, err
		}
		n, err := p.integer()
		if err != nil {
			return Command{}, err
		}
		p.skipSpace()
		if p.peek() != '[' {
			return Command{}, p.errorf("expected '[' after repeat count")
		}
		p.pos++
		body, err := p.list(true)
		if err != nil {
			return Command{}, err
		}
		p.pos++ // ']'
		return Command{Op: OpRepeat, Count: n, Body: body}, nil
	}
	return Command{}, p.errorf("unhandled command %q", word)
}

func (p *parser) space(op Op) error {
	if p.skipSpace() == 0 {
		if p.eof() {
			return p.errorf("%s: missing argument", op)
		}
		return p.errorf("%s: expected whitespace before argument", op)
	}
	if p.eof() || p.peek() == ';' || p.peek() == ']' {
		return p.errorf("%s: missing argument", op)
	}
	return nil
}

func (p *parser) numberAhead() bool {
	i := p.pos
	if i < len(p.src) && (p.src[i] == '+' || p.src[i] == '-') {
		i++
	}
	if i < len(p.src) && p.src[i] == '.' {
		i++
	}
	return i < len(p.src) && isDigit(p.src[i])
}

func (p *parser) digits() int {
	start := p.pos
	for !p.eof() && isDigit(p.src[p.pos]) {
		p.pos++
	}
	return p.pos - start
}

// real accepts [+-] (digits ["." [digits]] | "." digits) [("e"|"E") [+-] digits].
func (p *parser) real() (float64, error) {
	start := p.pos
	if c := p.peek(); c == '+' || c == '-' {
		p.pos++
	}
	n := p.digits()
	if p.peek() == '.' {
		p.pos++
		n += p.digits()
	}
	if n == 0 {
		p.pos = start
		return 0, p.errorf("expected number")
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		save := p.pos
		p.pos++
		if c := p.peek(); c == '+' || c == '-' {
			p.pos++
		}
		if p.digits() == 0 {
			p.pos = save
		}
	}
	lit := p.src[start:p.pos]
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		p.pos = start
		return 0, p.errorf("number out of range %q", lit)
	}
	return v, nil
}

func (p *parser) integer() (int, error) {
	start := p.pos
	if c := p.peek(); c == '+' || c == '-' {
		p.pos++
	}
	if p.digits() == 0 {
		p.pos = start
		return 0, p.errorf("expected integer")
	}
	if c := p.peek(); c == '.' || c == 'e' || c == 'E' {
		return 0, p.errorf("expected integer")
	}
	v, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		p.pos = start
		return 0, p.errorf("integer out of range")
	}
	return v, nil
}
