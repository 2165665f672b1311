package id

import (
	"errors"
	"math"
)

// Alphabet lists the identifier symbols in value order.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = uint64(len(Alphabet))

// ErrInvalid is returned when a string is not a valid identifier.
var ErrInvalid = errors.New("invalid identifier")

var symbolValue = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// Encode returns the radix-62 form of n, most significant symbol first.
func Encode(n uint64) string {
	if n == 0 {
		return Alphabet[:1]
	}
	// 11 symbols cover math.MaxUint64.
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// Decode parses a radix-62 identifier. Leading zero symbols are accepted.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, ErrInvalid
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		v := symbolValue[s[i]]
		if v < 0 {
			return 0, ErrInvalid
		}
		if n > (math.MaxUint64-uint64(v))/base {
			return 0, ErrInvalid
		}
		n = n*base + uint64(v)
	}
	return n, nil
}
