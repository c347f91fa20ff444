package linker

import (
	"sort"
	"unicode"

	"github.com/agenthands/medrag/internal/core/model"
)

// Function words that never start or end a medical term in a question.
var stopWords = []string{
	"的", "了", "是", "我", "有", "什么", "怎么", "如何", "应该", "可能", "怎么办",
	"会", "能", "要", "吗", "呢", "请问", "哪些", "为什么", "和", "或", "吧", "啊",
}

var maxStopRunes = func() int {
	m := 0
	for _, w := range stopWords {
		if n := len([]rune(w)); n > m {
			m = n
		}
	}
	return m
}()

var stopSet = func() map[string]bool {
	s := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		s[w] = true
	}
	return s
}()

// Segments splits a question into maximal runs of Han characters free of
// stop words, and runs of Latin letters or digits.
func Segments(question string) []model.Span {
	runes := []rune(question)
	var out []model.Span
	start := -1
	latin := false

	flush := func(end int) {
		if start >= 0 && end > start {
			out = append(out, model.Span{Start: start, End: end, Text: string(runes[start:end])})
		}
		start = -1
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.Is(unicode.Han, r):
			if n := stopWordAt(runes, i); n > 0 {
				flush(i)
				i += n
				continue
			}
			if start >= 0 && latin {
				flush(i)
			}
			if start < 0 {
				start, latin = i, false
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start >= 0 && !latin {
				flush(i)
			}
			if start < 0 {
				start, latin = i, true
			}
		default:
			flush(i)
		}
		i++
	}
	flush(len(runes))
	return out
}

func stopWordAt(runes []rune, i int) int {
	for n := maxStopRunes; n >= 1; n-- {
		if i+n <= len(runes) && stopSet[string(runes[i:i+n])] {
			return n
		}
	}
	return 0
}

// CandidateSpans expands the segments of a question into every sub-span of
// 2..maxRunes runes for Han segments, plus each Latin segment whole. Longer
// spans come first so that they are preferred when linked.
func CandidateSpans(question string, maxRunes int) []model.Span {
	if maxRunes < 2 {
		maxRunes = 2
	}
	var out []model.Span
	for _, seg := range Segments(question) {
		runes := []rune(seg.Text)
		if !unicode.Is(unicode.Han, runes[0]) {
			if len(runes) >= 2 {
				out = append(out, seg)
			}
			continue
		}
		for n := min(len(runes), maxRunes); n >= 2; n-- {
			for i := 0; i+n <= len(runes); i++ {
				out = append(out, model.Span{
					Start: seg.Start + i,
					End:   seg.Start + i + n,
					Text:  string(runes[i : i+n]),
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Len() != out[j].Len() {
			return out[i].Len() > out[j].Len()
		}
		return out[i].Start < out[j].Start
	})
	return out
}
