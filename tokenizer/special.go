package tokenizer

import (
	"slices"
	"strings"
)

// DefaultSpecials are matched verbatim before pre-tokenization when they
// exist in the vocabulary.
var DefaultSpecials = []string{"<|endoftext|>"}

// fragment is a piece of input text that is either a special token or
// ordinary text still to be split and merged.
type fragment struct {
	value   string
	special bool
}

// splitSpecialTokens extracts specials from s. Specials are processed in
// order; earlier entries take priority at overlapping positions.
func splitSpecialTokens(s string, specials []string) []fragment {
	fragments := []fragment{{value: s}}
	for _, special := range specials {
		if special == "" || !strings.Contains(s, special) {
			continue
		}

		for i := 0; i < len(fragments); i++ {
			frag := fragments[i]
			if frag.special {
				continue
			}

			var middle []fragment
			switch idx := strings.Index(frag.value, special); {
			case idx < 0:
				middle = append(middle, frag)
			case idx > 0:
				middle = append(middle, fragment{value: frag.value[:idx]})
				fallthrough
			default:
				middle = append(middle, fragment{value: special, special: true})
				if rest := frag.value[idx+len(special):]; rest != "" {
					middle = append(middle, fragment{value: rest})
				}
			}

			fragments = slices.Replace(fragments, i, i+1, middle...)
		}
	}

	return fragments
}
