package id

import (
	"errors"
	"math"
	"strings"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{0, "0"},
		{9, "9"},
		{10, "a"},
		{35, "z"},
		{36, "A"},
		{61, "Z"},
		{62, "10"},
		{3843, "ZZ"},
		{3844, "100"},
	}
	for _, tc := range cases {
		if got := Encode(tc.n); got != tc.want {
			t.Fatalf("Encode(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestEncodeLastSymbol(t *testing.T) {
	if got := Encode(61); got != Alphabet[len(Alphabet)-1:] {
		t.Fatalf("Encode(61) = %q", got)
	}
	two := Encode(62)
	if len(two) != 2 {
		t.Fatalf("Encode(62) = %q, want two symbols", two)
	}
	n, err := Decode(two)
	if err != nil || n != 62 {
		t.Fatalf("Decode(%q) = %d, %v", two, n, err)
	}
}

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 61, 62, 63, 1000, 1 << 32, 1<<32 + 17, math.MaxUint32, math.MaxInt64, math.MaxUint64 - 1, math.MaxUint64}
	for n := uint64(0); n < 5000; n++ {
		values = append(values, n)
	}
	for _, n := range values {
		got, err := Decode(Encode(n))
		if err != nil {
			t.Fatalf("decode %d: %v", n, err)
		}
		if got != n {
			t.Fatalf("round trip %d got %d", n, got)
		}
	}
}

func TestDecodeRandomAlphabetStrings(t *testing.T) {
	for i := 0; i < 200; i++ {
		s, err := gonanoid.Generate(Alphabet, 10)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		n, err := Decode(s)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		want := strings.TrimLeft(s, "0")
		if want == "" {
			want = "0"
		}
		if got := Encode(n); got != want {
			t.Fatalf("Encode(Decode(%q)) = %q, want %q", s, got, want)
		}
	}
}

func TestDecodeLeadingZeros(t *testing.T) {
	n, err := Decode("00a")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 got %d", n)
	}
}

func TestDecodeInvalid(t *testing.T) {
	inputs := []string{
		"",
		"-",
		"abc!",
		"a b",
		"é",
		"12_3",
		"ZZZZZZZZZZZZ",
		Encode(math.MaxUint64) + "0",
	}
	for _, in := range inputs {
		if _, err := Decode(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Decode(%q) err = %v, want ErrInvalid", in, err)
		}
	}
}
