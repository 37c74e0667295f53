// Package base58 implements the Bitcoin-alphabet base58 encoding used to make
// request and response payloads embeddable in a URL.
package base58

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Alphabet excludes the visually ambiguous 0, O, I and l.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		decodeMap[Alphabet[i]] = int8(i)
	}
}

// InvalidCharacterError is returned by Decode for a character outside Alphabet.
// Index counts characters (not bytes) in the trimmed input.
type InvalidCharacterError struct {
	Index int
	Char  rune
}

func (e *InvalidCharacterError) Error() string {
	return fmt.Sprintf("base58: invalid character %q at index %d", e.Char, e.Index)
}

// Encode returns the base58 form of src. Every leading zero byte becomes a
// leading '1'.
func Encode(src []byte) string {
	zeros := 0
	for zeros < len(src) && src[zeros] == 0 {
		zeros++
	}

	// log(256)/log(58) ~ 1.366, so 138/100 always leaves room.
	size := (len(src)-zeros)*138/100 + 1
	digits := make([]byte, size)
	length := 0

	for _, b := range src[zeros:] {
		carry := int(b)
		i := 0
		for j := size - 1; (carry != 0 || i < length) && j >= 0; j-- {
			carry += int(digits[j]) << 8
			digits[j] = byte(carry % 58)
			carry /= 58
			i++
		}
		length = i
	}

	start := size - length
	for start < size && digits[start] == 0 {
		start++
	}

	var sb strings.Builder
	sb.Grow(zeros + size - start)
	for i := 0; i < zeros; i++ {
		sb.WriteByte(Alphabet[0])
	}
	for _, d := range digits[start:] {
		sb.WriteByte(Alphabet[d])
	}
	return sb.String()
}

// Decode is the inverse of Encode. Surrounding whitespace is ignored. The
// empty string decodes to an empty, non-nil slice.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	ones := 0
	for ones < len(s) && s[ones] == Alphabet[0] {
		ones++
	}

	rest := s[ones:]
	// log(58)/log(256) ~ 0.732
	size := utf8.RuneCountInString(rest)*733/1000 + 1
	out := make([]byte, size)
	length := 0

	index := ones
	for _, r := range rest {
		if r >= utf8.RuneSelf || decodeMap[r] < 0 {
			return nil, &InvalidCharacterError{Index: index, Char: r}
		}
		carry := int(decodeMap[r])
		i := 0
		for j := size - 1; (carry != 0 || i < length) && j >= 0; j-- {
			carry += int(out[j]) * 58
			out[j] = byte(carry & 0xff)
			carry >>= 8
			i++
		}
		length = i
		index++
	}

	start := size - length
	for start < size && out[start] == 0 {
		start++
	}

	res := make([]byte, ones+size-start)
	copy(res[ones:], out[start:])
	return res, nil
}
