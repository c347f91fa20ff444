package prompt

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agenthands/medrag/internal/core/model"
)

type Counter interface {
	Count(text string) int
}

// TokenCounter counts tokens with a tiktoken encoding.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TokenCounter{enc: enc}, nil
}

func (t *TokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Fit renders the answering prompt and drops trailing context lines until it
// fits maxTokens. It returns the prompt and the number of item lines dropped.
// A nil counter or a non-positive limit disables trimming.
func Fit(question string, c *model.RankedContext, counter Counter, maxTokens int) (string, int) {
	lines := ContextLines(c)
	render := func() string {
		if len(lines) == 0 {
			return Answer(question, NoContext)
		}
		return Answer(question, strings.Join(lines, "\n"))
	}

	p := render()
	if counter == nil || maxTokens <= 0 {
		return p, 0
	}

	dropped := 0
	for len(lines) > 0 && counter.Count(p) > maxTokens {
		lines = lines[:len(lines)-1]
		dropped++
		for len(lines) > 0 && !strings.HasPrefix(lines[len(lines)-1], "- ") {
			lines = lines[:len(lines)-1]
		}
		p = render()
	}
	return p, dropped
}
