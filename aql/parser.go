// Package aql parses compact textual list queries such as
//
//	(sort=year:desc, page=2, size=10) partner-mapping(region={Northern,Eastern}, year>=2019, search~"clinic")
package aql

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/aep/healthdesk/list"
)

type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF
	TOKEN_IDENT
	TOKEN_EQUALS
	TOKEN_TILDE
	TOKEN_GTE
	TOKEN_LTE
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_STRING
	TOKEN_COMMA
)

func tokenName(i TokenType) string {
	switch i {
	case TOKEN_EOF:
		return "EOF"
	case TOKEN_IDENT:
		return "IDENT"
	case TOKEN_EQUALS:
		return "EQUALS"
	case TOKEN_TILDE:
		return "TILDE"
	case TOKEN_GTE:
		return "GTE"
	case TOKEN_LTE:
		return "LTE"
	case TOKEN_LPAREN:
		return "LPAREN"
	case TOKEN_RPAREN:
		return "RPAREN"
	case TOKEN_LBRACE:
		return "LBRACE"
	case TOKEN_RBRACE:
		return "RBRACE"
	case TOKEN_STRING:
		return "STRING"
	case TOKEN_COMMA:
		return "COMMA"
	}
	return "ILLEGAL"
}

var ErrSyntax = errors.New("aql syntax error")

type Token struct {
	Type    TokenType
	Literal string
}

type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// identifiers cover kind names, field paths, numbers, dates and sort specs
func isIdentChar(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_' || ch == '.' || ch == '-' || ch == ':'
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isIdentChar(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readString returns the unquoted content of a Go style double quoted string.
func (l *Lexer) readString() (string, error) {
	position := l.position
	for {
		l.readChar()
		if l.ch == 0 {
			return "", errors.New("unterminated string")
		}
		if l.ch == '\\' {
			l.readChar()
			if l.ch == 0 {
				return "", errors.New("unterminated string")
			}
			continue
		}
		if l.ch == '"' {
			break
		}
	}
	return strconv.Unquote(l.input[position : l.position+1])
}

func (l *Lexer) NextToken() Token {
	var tok Token

	l.skipWhitespace()

	switch l.ch {
	case '=':
		tok = Token{TOKEN_EQUALS, "="}
	case '~':
		tok = Token{TOKEN_TILDE, "~"}
	case '>', '<':
		if l.peekChar() != '=' {
			tok = Token{TOKEN_ILLEGAL, string(l.ch)}
			break
		}
		op := string(l.ch) + "="
		l.readChar()
		if op == ">=" {
			tok = Token{TOKEN_GTE, op}
		} else {
			tok = Token{TOKEN_LTE, op}
		}
	case '(':
		tok = Token{TOKEN_LPAREN, "("}
	case ')':
		tok = Token{TOKEN_RPAREN, ")"}
	case '{':
		tok = Token{TOKEN_LBRACE, "{"}
	case '}':
		tok = Token{TOKEN_RBRACE, "}"}
	case ',':
		tok = Token{TOKEN_COMMA, ","}
	case '"':
		if str, err := l.readString(); err == nil {
			tok = Token{TOKEN_STRING, str}
		} else {
			tok = Token{TOKEN_ILLEGAL, ""}
		}
	case 0:
		tok = Token{TOKEN_EOF, ""}
	default:
		if isIdentChar(l.ch) {
			return Token{TOKEN_IDENT, l.readIdentifier()}
		}
		tok = Token{TOKEN_ILLEGAL, string(l.ch)}
	}

	l.readChar()
	return tok
}

// Query is a list query against one record kind.
type Query struct {
	Kind string
	list.Query
}

// String renders q canonically: options in fixed order, predicates sorted by
// field, every value quoted. Parse(q.String()) yields q again.
func (q *Query) String() string {
	var b strings.Builder

	var opts []string
	if q.Sort.Field != "" {
		opts = append(opts, "sort="+q.Sort.String())
	}
	if q.Page > 0 {
		opts = append(opts, "page="+strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		opts = append(opts, "size="+strconv.Itoa(q.PageSize))
	}
	if len(opts) > 0 {
		b.WriteString("(" + strings.Join(opts, ", ") + ") ")
	}

	b.WriteString(q.Kind)
	if f := FormatFilter(q.Filter); f != "" {
		b.WriteString("(" + f + ")")
	}
	return b.String()
}

// FormatFilter renders the active predicates of spec as a comma separated
// predicate list, the form accepted by ParseFilter.
func FormatFilter(spec list.FilterSpec) string {
	active := spec.Active()
	var parts []string
	for _, key := range slices.Sorted(maps.Keys(active)) {
		p := active[key]
		switch p.Op {
		case list.OpEqual:
			parts = append(parts, key+"="+strconv.Quote(p.Values[0]))
		case list.OpIn:
			vals := make([]string, len(p.Values))
			for i, v := range p.Values {
				vals[i] = strconv.Quote(v)
			}
			parts = append(parts, key+"={"+strings.Join(vals, ",")+"}")
		case list.OpText:
			parts = append(parts, key+"~"+strconv.Quote(p.Text))
		case list.OpRange:
			if p.From != "" {
				parts = append(parts, key+">="+strconv.Quote(p.From))
			}
			if p.To != "" {
				parts = append(parts, key+"<="+strconv.Quote(p.To))
			}
		}
	}
	return strings.Join(parts, ", ")
}

type Parser struct {
	l        *Lexer
	curToken Token
}

func NewParser(l *Lexer) *Parser {
	p := &Parser{l: l}
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

func (p *Parser) ParseQuery() (*Query, error) {
	query := &Query{}
	seen := map[string]bool{}

	for p.curToken.Type == TOKEN_LPAREN {
		if err := p.parseOptions(query, seen); err != nil {
			return nil, err
		}
	}

	if p.curToken.Type != TOKEN_IDENT {
		return nil, p.errorf("expected kind, got %s", tokenName(p.curToken.Type))
	}
	query.Kind = p.curToken.Literal
	p.nextToken()

	if p.curToken.Type == TOKEN_LPAREN {
		filter, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		query.Filter = filter
	}

	if p.curToken.Type != TOKEN_EOF {
		return nil, p.errorf("unexpected %s after query", tokenName(p.curToken.Type))
	}
	return query, nil
}

func (p *Parser) parseOptions(query *Query, seen map[string]bool) error {
	p.nextToken() // consume (

	for p.curToken.Type != TOKEN_RPAREN && p.curToken.Type != TOKEN_EOF {
		if p.curToken.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		if p.curToken.Type != TOKEN_IDENT {
			return p.errorf("expected option name, got %s", tokenName(p.curToken.Type))
		}
		key := p.curToken.Literal
		if seen[key] {
			return p.errorf("opt %s specified twice", key)
		}
		seen[key] = true

		p.nextToken()
		if p.curToken.Type != TOKEN_EQUALS {
			return p.errorf("expected = after %s, got %s", key, tokenName(p.curToken.Type))
		}
		p.nextToken()
		value, err := p.parseScalar()
		if err != nil {
			return err
		}

		switch key {
		case "sort":
			s, err := list.ParseSort(value)
			if err != nil {
				return err
			}
			query.Sort = s
		case "page", "size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return p.errorf("%s must be a number, got %q", key, value)
			}
			if key == "page" {
				query.Page = n
			} else {
				query.PageSize = n
			}
		default:
			return p.errorf("unknown option %s", key)
		}
	}

	if p.curToken.Type != TOKEN_RPAREN {
		return p.errorf("expected )")
	}
	p.nextToken()
	return nil
}

func (p *Parser) parseScalar() (string, error) {
	if p.curToken.Type != TOKEN_IDENT && p.curToken.Type != TOKEN_STRING {
		return "", p.errorf("expected identifier or string as value, got %s", tokenName(p.curToken.Type))
	}
	v := p.curToken.Literal
	p.nextToken()
	return v, nil
}

func (p *Parser) parseSet() ([]string, error) {
	p.nextToken() // consume {

	var values []string
	for p.curToken.Type != TOKEN_RBRACE && p.curToken.Type != TOKEN_EOF {
		if p.curToken.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		v, err := p.parseScalar()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	if p.curToken.Type != TOKEN_RBRACE {
		return nil, p.errorf("expected }")
	}
	p.nextToken()
	return values, nil
}

func (p *Parser) parseFilter() (list.FilterSpec, error) {
	filter := list.FilterSpec{}

	p.nextToken() // consume (

	for p.curToken.Type != TOKEN_RPAREN && p.curToken.Type != TOKEN_EOF {
		if p.curToken.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}

		if p.curToken.Type != TOKEN_IDENT {
			return nil, p.errorf("expected field in filter, got %s", tokenName(p.curToken.Type))
		}
		key := p.curToken.Literal
		p.nextToken()

		operator := p.curToken.Type
		p.nextToken()

		prev, exists := filter[key]
		if exists && !(prev.Op == list.OpRange && (operator == TOKEN_GTE || operator == TOKEN_LTE)) {
			return nil, p.errorf("predicate %s specified twice", key)
		}

		switch operator {
		case TOKEN_EQUALS:
			if p.curToken.Type == TOKEN_LBRACE {
				values, err := p.parseSet()
				if err != nil {
					return nil, err
				}
				filter[key] = list.In(values...)
				continue
			}
			v, err := p.parseScalar()
			if err != nil {
				return nil, err
			}
			filter[key] = list.Equal(v)
		case TOKEN_TILDE:
			v, err := p.parseScalar()
			if err != nil {
				return nil, err
			}
			filter[key] = list.Contains(v)
		case TOKEN_GTE, TOKEN_LTE:
			v, err := p.parseScalar()
			if err != nil {
				return nil, err
			}
			r := prev
			r.Op = list.OpRange
			if operator == TOKEN_GTE {
				if r.From != "" {
					return nil, p.errorf("lower bound of %s specified twice", key)
				}
				r.From = v
			} else {
				if r.To != "" {
					return nil, p.errorf("upper bound of %s specified twice", key)
				}
				r.To = v
			}
			filter[key] = r
		default:
			return nil, p.errorf("expected =, ~, >= or <= after %s, got %s", key, tokenName(operator))
		}
	}

	if p.curToken.Type != TOKEN_RPAREN {
		return nil, p.errorf("expected )")
	}
	p.nextToken()

	return filter, nil
}

func Parse(input string) (*Query, error) {
	l := NewLexer(input)
	p := NewParser(l)
	return p.ParseQuery()
}

// ParseFilter parses a predicate list without the surrounding kind, as
// produced by FormatFilter.
func ParseFilter(input string) (list.FilterSpec, error) {
	if strings.TrimSpace(input) == "" {
		return list.FilterSpec{}, nil
	}
	p := NewParser(NewLexer("(" + input + ")"))
	spec, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.curToken.Type != TOKEN_EOF {
		return nil, p.errorf("unexpected %s after filter", tokenName(p.curToken.Type))
	}
	return spec, nil
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return unicode.IsDigit(rune(ch))
}
