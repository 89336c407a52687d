package parse

import (
	"fmt"
	"strconv"
	"strings"
)

// The .npy header is the repr of a Python dict. literal.go parses the small
// subset of Python literal syntax that numpy emits: dicts, lists, tuples,
// quoted strings, integers and the True/False/None constants.

type pyTuple []interface{}
type pyList []interface{}
type pyDict map[string]interface{}

type literalParser struct {
	s   string
	pos int
}

func parseLiteral(s string) (interface{}, error) {
	p := &literalParser{s: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("trailing characters at offset %d", p.pos)
	}
	return v, nil
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) && strings.IndexByte(" \t\r\n", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *literalParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) value() (interface{}, error) {
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '[':
		items, err := p.sequence('[', ']')
		return pyList(items), err
	case c == '(':
		items, err := p.sequence('(', ')')
		return pyTuple(items), err
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.integer()
	case c >= 'A' && c <= 'Z':
		return p.constant()
	case c == 0:
		return nil, fmt.Errorf("unexpected end of header")
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
	}
}

func (p *literalParser) dict() (pyDict, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	d := pyDict{}
	for {
		if p.peek() == '}' {
			p.pos++
			return d, nil
		}
		k, err := p.str()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		d[k] = v
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (p *literalParser) sequence(open, close byte) ([]interface{}, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}
	items := []interface{}{}
	for {
		if p.peek() == close {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect(close); err != nil {
			return nil, err
		}
		return items, nil
	}
}

func (p *literalParser) str() (string, error) {
	quote := p.peek()
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}
	p.pos++
	end := strings.IndexByte(p.s[p.pos:], quote)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", p.pos)
	}
	v := p.s[p.pos : p.pos+end]
	p.pos += end + 1
	return v, nil
}

func (p *literalParser) integer() (int, error) {
	start := p.pos
	if p.s[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	// Python 2 era files may carry a long suffix.
	tok := p.s[start:p.pos]
	if p.pos < len(p.s) && p.s[p.pos] == 'L' {
		p.pos++
	}
	return strconv.Atoi(tok)
}

func (p *literalParser) constant() (interface{}, error) {
	start := p.pos
	for p.pos < len(p.s) && ((p.s[p.pos] >= 'A' && p.s[p.pos] <= 'Z') || (p.s[p.pos] >= 'a' && p.s[p.pos] <= 'z')) {
		p.pos++
	}
	switch tok := p.s[start:p.pos]; tok {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown constant %q", tok)
	}
}
