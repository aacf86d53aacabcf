package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCodepoint = errors.New("unknown codepoint")

// byteEncoder maps every byte to a printable rune so that merges can be
// expressed over text. byteDecoder is its inverse.
var byteEncoder, byteDecoder = bytesToUnicode()

// bytesToUnicode keeps '!'..'~', '¡'..'¬' and '®'..'ÿ' as themselves and
// assigns the remaining 68 bytes to U+0100 onwards in byte order. Merge
// ranks are defined over these strings so the order must not change.
func bytesToUnicode() ([256]rune, map[rune]byte) {
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xa1 && b <= 0xac) || (b >= 0xae && b <= 0xff)
	}

	var encoder [256]rune
	decoder := make(map[rune]byte, 256)

	n := 0
	for b := range 256 {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + n)
			n++
		}

		encoder[b] = r
		decoder[r] = byte(b)
	}

	return encoder, decoder
}

// EncodeByte returns the rune standing in for b.
func EncodeByte(b byte) rune {
	return byteEncoder[b]
}

// DecodeRune returns the byte r stands in for.
func DecodeRune(r rune) (byte, error) {
	b, ok := byteDecoder[r]
	if !ok {
		return 0, fmt.Errorf("%w: %U", ErrUnknownCodepoint, r)
	}

	return b, nil
}

// EncodeBytes maps every byte of s's UTF-8 encoding through EncodeByte.
func EncodeBytes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := range len(s) {
		sb.WriteRune(byteEncoder[s[i]])
	}

	return sb.String()
}

// DecodeString reverses EncodeBytes.
func DecodeString(s string) ([]byte, error) {
	bts := make([]byte, 0, len(s))
	for _, r := range s {
		b, err := DecodeRune(r)
		if err != nil {
			return nil, err
		}

		bts = append(bts, b)
	}

	return bts, nil
}
