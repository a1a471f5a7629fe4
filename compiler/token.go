package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the s-expression lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger   // 42, -7, 0xFF
	TokenFloat     // 3.14, 1.5e10
	TokenString    // "hello"
	TokenCharacter // \a, \newline
	TokenSymbol    // foo, +, empty?, &

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenHashBrace // #{
	TokenQuote     // '

	// Reserved identifiers
	TokenNil
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenError:     "ERROR",
	TokenInteger:   "INTEGER",
	TokenFloat:     "FLOAT",
	TokenString:    "STRING",
	TokenCharacter: "CHARACTER",
	TokenSymbol:    "SYMBOL",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenHashBrace: "#{",
	TokenQuote:     "'",
	TokenNil:       "nil",
	TokenTrue:      "true",
	TokenFalse:     "false",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, or the decoded text for strings
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"nil":   TokenNil,
	"true":  TokenTrue,
	"false": TokenFalse,
}

// Named characters accepted after a backslash.
var namedChars = map[string]rune{
	"newline": '\n',
	"space":   ' ',
	"tab":     '\t',
	"return":  '\r',
	"nul":     0,
}

// IsSymbolChar reports whether r may appear inside a symbol.
func IsSymbolChar(r rune) bool {
	if isLetter(r) || isDigit(r) {
		return true
	}
	switch r {
	case '+', '-', '*', '/', '<', '>', '=', '!', '?', '&', '%', '_', '.', ':', '$', '^', '|', '~':
		return true
	}
	return false
}
