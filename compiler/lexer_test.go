package compiler

import (
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) [ ] { } #{ '`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenHashBrace, "#{"},
		{TokenQuote, "'"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenInteger, "42"},
		{"0", TokenInteger, "0"},
		{"-123", TokenInteger, "-123"},
		{"+7", TokenInteger, "+7"},
		{"0xFF", TokenInteger, "0xFF"},
		{"3.14", TokenFloat, "3.14"},
		{"-0.5", TokenFloat, "-0.5"},
		{"1e10", TokenFloat, "1e10"},
		{"2.5E-3", TokenFloat, "2.5E-3"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerSymbols(t *testing.T) {
	tests := []string{"foo", "+", "-", "empty?", "not=", "&", "<=", "a.b", "x->y", "*earmuffs*"}

	for _, input := range tests {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenSymbol {
			t.Errorf("Lexer(%q): type = %v, want SYMBOL", input, tok.Type)
		}
		if tok.Literal != input {
			t.Errorf("Lexer(%q): literal = %q, want %q", input, tok.Literal, input)
		}
	}
}

func TestLexerReservedWords(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{"nil", TokenNil},
		{"true", TokenTrue},
		{"false", TokenFalse},
		{"nilly", TokenSymbol},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.want {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.want)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"say \"hi\""`, `say "hi"`},
		{`"back\\slash"`, `back\slash`},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%q): type = %v, want STRING", tc.input, tok.Type)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerCharacters(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`\a`, "a"},
		{`\(`, "("},
		{`\newline`, "\n"},
		{`\space`, " "},
		{`\tab`, "\t"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenCharacter {
			t.Errorf("Lexer(%q): type = %v, want CHARACTER", tc.input, tok.Type)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []string{
		`"unterminated`,
		`"bad \q escape"`,
		`#(`,
		`\bogus`,
		`12abc`,
		"@",
	}

	for _, input := range tests {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR", input, tok.Type)
		}
	}
}

func TestLexerCommentsAndCommas(t *testing.T) {
	tokens := Tokenize("; leading comment\n(a, b) ; trailing")
	want := []TokenType{TokenLParen, TokenSymbol, TokenSymbol, TokenRParen, TokenEOF}

	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Errorf("token[%d] type = %v, want %v", i, tokens[i].Type, typ)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	tokens := Tokenize("(foo\n  bar)")

	tests := []struct {
		idx          int
		line, column int
		offset       int
	}{
		{0, 1, 1, 0},
		{1, 1, 2, 1},
		{2, 2, 3, 7},
		{3, 2, 6, 10},
	}
	for _, tc := range tests {
		pos := tokens[tc.idx].Pos
		if pos.Line != tc.line || pos.Column != tc.column || pos.Offset != tc.offset {
			t.Errorf("token[%d] pos = %+v, want line %d column %d offset %d",
				tc.idx, pos, tc.line, tc.column, tc.offset)
		}
	}
}
