package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent reader for s-expressions
// ---------------------------------------------------------------------------

// Parser reads Pidgin source into syntax tree nodes.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []*Error
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...any) {
	p.errors = append(p.errors, &Error{
		Kind:   ErrorSyntax,
		Pos:    p.curToken.Pos,
		Detail: fmt.Sprintf(format, args...),
	})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []*Error {
	return p.errors
}

// AtEOF reports whether all input has been consumed.
func (p *Parser) AtEOF() bool {
	return p.curTokenIs(TokenEOF)
}

// ParseAll reads every top-level form. Reading stops at the first error.
func (p *Parser) ParseAll() []Node {
	var forms []Node
	for !p.AtEOF() {
		n := p.ParseForm()
		if n == nil {
			break
		}
		forms = append(forms, n)
	}
	return forms
}

// ParseForm reads one form, or records an error and returns nil.
func (p *Parser) ParseForm() Node {
	tok := p.curToken
	switch tok.Type {
	case TokenEOF:
		p.errorf("unexpected end of input")
		return nil
	case TokenError:
		p.errorf("%s", tok.Literal)
		return nil

	case TokenInteger:
		n, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			p.errorf("invalid integer %s", tok.Literal)
			return nil
		}
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.Int(n)}

	case TokenFloat:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf("invalid float %s", tok.Literal)
			return nil
		}
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.Float(f)}

	case TokenString:
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.String(tok.Literal)}

	case TokenCharacter:
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.Char([]rune(tok.Literal)[0])}

	case TokenNil:
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.Nil}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &Literal{PosVal: tok.Pos, Value: vm.Bool(tok.Type == TokenTrue)}

	case TokenSymbol:
		p.nextToken()
		return &Symbol{PosVal: tok.Pos, Name: tok.Literal}

	case TokenQuote:
		p.nextToken()
		quoted := p.ParseForm()
		if quoted == nil {
			return nil
		}
		return &List{PosVal: tok.Pos, Items: []Node{&Symbol{PosVal: tok.Pos, Name: "quote"}, quoted}}

	case TokenLParen:
		items, ok := p.parseSequence(TokenRParen)
		if !ok {
			return nil
		}
		return &List{PosVal: tok.Pos, Items: items}

	case TokenLBracket:
		items, ok := p.parseSequence(TokenRBracket)
		if !ok {
			return nil
		}
		return &Vector{PosVal: tok.Pos, Items: items}

	case TokenLBrace:
		items, ok := p.parseSequence(TokenRBrace)
		if !ok {
			return nil
		}
		if len(items)%2 != 0 {
			p.errors = append(p.errors, &Error{Kind: ErrorSyntax, Pos: tok.Pos,
				Detail: "map literal needs an even number of forms"})
			return nil
		}
		return &MapLit{PosVal: tok.Pos, Items: items}

	case TokenHashBrace:
		items, ok := p.parseSequence(TokenRBrace)
		if !ok {
			return nil
		}
		return &SetLit{PosVal: tok.Pos, Items: items}
	}

	p.errorf("unexpected %s", tok.Type)
	return nil
}

// parseSequence reads forms up to the closing delimiter.
func (p *Parser) parseSequence(closer TokenType) ([]Node, bool) {
	open := p.curToken
	p.nextToken()
	items := []Node{}
	for !p.curTokenIs(closer) {
		if p.curTokenIs(TokenEOF) {
			p.errors = append(p.errors, &Error{Kind: ErrorSyntax, Pos: open.Pos,
				Detail: fmt.Sprintf("unclosed %s", open.Type)})
			return nil, false
		}
		n := p.ParseForm()
		if n == nil {
			return nil, false
		}
		items = append(items, n)
	}
	p.nextToken() // consume closer
	return items, true
}

// Parse reads every form in src.
func Parse(src string) ([]Node, error) {
	p := NewParser(src)
	forms := p.ParseAll()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	return forms, nil
}
