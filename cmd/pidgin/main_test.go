package main

import "testing"

func TestComplete(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1", true},
		{"(+ 1 2)", true},
		{"(define f (fn (x)", false},
		{"(define f (fn (x)\n  x))", true},
		{"[1 2 {3 #{4}", false},
		{"\"unclosed (", false},
		{"\"a ( string\"", true},
		{"; (comment\n1", true},
		{"(bad \\", true},
	}
	for _, tt := range tests {
		if got := complete(tt.input); got != tt.want {
			t.Errorf("complete(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
