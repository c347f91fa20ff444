package lexicon

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text to the form used for normalized lookups: NFKC, case
// folded, punctuation and symbols removed, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Romanize returns the toneless pinyin of a name made only of Han characters,
// or "" when the name contains anything else.
func Romanize(name string) string {
	han := 0
	for _, r := range name {
		if !unicode.Is(unicode.Han, r) {
			return ""
		}
		han++
	}
	if han == 0 {
		return ""
	}

	a := pinyin.NewArgs()
	a.Style = pinyin.Normal
	syllables := pinyin.LazyPinyin(name, a)
	if len(syllables) != han {
		return ""
	}
	return strings.Join(syllables, "")
}
