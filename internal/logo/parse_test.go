package logo

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Accepts(t *testing.T) {
	cases := []struct {
		in   string
		want List
	}{
		{"pu", List{PenUp()}},
		{"fD", List{Forward(1)}},
		{"fd  1", List{Forward(1)}},
		{"fd 1;", List{Forward(1)}},
		{"bk", List{Back(1)}},
		{"bk ", List{Back(1)}},
		{"bk -41.1", List{Back(-41.1)}},
		{"BACK .5", List{Back(0.5)}},
		{"forward 2e1", List{Forward(20)}},
		{"lt 12", List{Left(12)}},
		{"Right 12", List{Right(12)}},
		{"setpen 10 11", List{SetPen(10, 11)}},
		{"PenDown; penup", List{PenDown(), PenUp()}},
		{"repeat 42 [ fd ] ", List{Repeat(42, Forward(1))}},
		{"repeat 42 [ fd 1; lt 1 ;] ", List{Repeat(42, Forward(1), Left(1))}},
		{"repeat 3[fd]", List{Repeat(3, Forward(1))}},
		{"fd 2; bk 43", List{Forward(2), Back(43)}},
		{"fd ; ", List{Forward(1)}},
		{"repeat 2 [ repeat 2 [ fd 1 ] ]", List{Repeat(2, Repeat(2, Forward(1)))}},
		{"repeat -1 []", List{Repeat(-1)}},
		{"  ;; fd ;;  ; ", List{Forward(1)}},
		{"", nil},
		{"   ", nil},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []string{
		"setpen 1",
		"fd a",
		"rt 2 3",
		"lt",
		"lt ;",
		"repeat a [ fd 1]",
		"repeat 2.5 [ fd ]",
		"repeat 2 fd",
		"repeat 2 [ fd",
		"fd ]",
		"fd 1 fd 2",
		"fd1",
		"jump 3",
		"setpen 1 2.5",
		"fd 1e400",
		"repeat 99999999999999999999 [fd]",
	}
	for _, in := range cases {
		l, err := Parse(in)
		if err == nil {
			t.Fatalf("Parse(%q) = %v, want error", in, l)
		}
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("Parse(%q) error type %T, want *SyntaxError", in, err)
		}
		if l != nil {
			t.Fatalf("Parse(%q) returned partial list %v", in, l)
		}
	}
}

func TestSyntaxError_Offset(t *testing.T) {
	_, err := Parse("fd 1; jump")
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if se.Offset != 6 {
		t.Fatalf("offset=%d want=6", se.Offset)
	}
	if diff := cmp.Diff("fd 1; jump\n      ^", se.Context()); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_DeepNesting(t *testing.T) {
	src := ""
	for i := 0; i < 200; i++ {
		src += "repeat 1 ["
	}
	src += "fd"
	for i := 0; i < 200; i++ {
		src += "]"
	}
	l, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := l.Size(0); got != 1 {
		t.Fatalf("Size=%d want=1", got)
	}
}

func TestList_HasAtomicAndSize(t *testing.T) {
	cases := []struct {
		l      List
		atomic bool
		size   int
	}{
		{nil, false, 0},
		{List{Repeat(0, Forward(1))}, false, 0},
		{List{Repeat(1000000, Repeat(0, Forward(1)))}, false, 0},
		{List{Repeat(2, Repeat(2, Forward(1)))}, true, 4},
		{List{Forward(1), Repeat(2, Forward(1), Left(90))}, true, 5},
	}
	for i, tc := range cases {
		if got := tc.l.HasAtomic(); got != tc.atomic {
			t.Fatalf("case %d: HasAtomic=%v want=%v", i, got, tc.atomic)
		}
		if got := tc.l.Size(1000); got != tc.size {
			t.Fatalf("case %d: Size=%d want=%d", i, got, tc.size)
		}
	}
	huge := List{Repeat(1<<30, Repeat(1<<30, Forward(1)))}
	if got := huge.Size(500); got != 500 {
		t.Fatalf("saturating Size=%d want=500", got)
	}
}

func TestSyntaxError_Unclosed(t *testing.T) {
	var se *SyntaxError
	if _, err := Parse("repeat 2 [ fd 1; rt 90"); !errors.As(err, &se) || !se.Unclosed {
		t.Fatalf("expected unclosed block error, got %v", err)
	}
	if _, err := Parse("repeat 2 [ fd 1 ]]"); !errors.As(err, &se) || se.Unclosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}
