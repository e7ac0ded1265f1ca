package transcript

import (
	"context"
	"strings"

	"github.com/MrWong99/auricle/internal/transcript/phonetic"
)

// PhoneticMatcher resolves a word or short phrase to a known vocabulary term
// based on pronunciation similarity. It is fast enough for the result path,
// no network calls.
//
// Return values:
//
//	corrected  — the best-matching term from terms.
//	confidence — similarity score in [0.0, 1.0] where 1.0 is a perfect match.
//	matched    — true when a sufficiently similar term was found.
//
// When matched is false, corrected must equal word unchanged and confidence
// must be 0. Implementations define their own similarity threshold and must
// be safe for concurrent use.
type PhoneticMatcher interface {
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// CorrectorOption is a functional option for configuring a [Corrector].
type CorrectorOption func(*Corrector)

// WithMatcher replaces the default [phonetic.Matcher].
func WithMatcher(m PhoneticMatcher) CorrectorOption {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// Corrector is the vocabulary-correction filter. It walks the utterance text
// and replaces words or n-gram windows that phonetically match a configured
// term, so "readies cluster" becomes "Redis cluster" without a model round
// trip.
//
// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher      PhoneticMatcher
	terms        []string
	maxTermWords int
}

// NewCorrector builds a corrector over the given vocabulary. Blank terms are
// dropped; an empty vocabulary yields an inert filter.
func NewCorrector(terms []string, opts ...CorrectorOption) *Corrector {
	c := &Corrector{}
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			c.terms = append(c.terms, t)
		}
	}
	for _, o := range opts {
		o(c)
	}
	if c.matcher == nil {
		c.matcher = phonetic.New()
	}
	c.maxTermWords = maxWordCount(c.terms)
	return c
}

// Name implements Filter.
func (c *Corrector) Name() string { return "vocabulary" }

// Apply replaces misheard vocabulary in the result text. The uncorrected
// text is preserved under [MetaOriginalText] when anything changed.
func (c *Corrector) Apply(_ context.Context, res Result, _ Hints) (Result, error) {
	if len(c.terms) == 0 || res.Text == "" {
		return res, nil
	}
	corrected := c.correctText(res.Text)
	if corrected == res.Text {
		return res, nil
	}
	return res.WithText(corrected), nil
}

// correctText runs the phonetic matcher over the text.
//
// The algorithm:
//  1. Tokenise the text into whitespace-separated words.
//  2. At each token position, try n-gram windows from the widest term down
//     to 1. Accept the longest matching window so multi-word terms take
//     precedence over partial single-word matches.
//  3. Append matched terms (or unmatched tokens) to the output and advance
//     the cursor by the number of tokens consumed.
func (c *Corrector) correctText(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	var output []string

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := c.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, _, ok := c.matcher.Match(window, c.terms)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(term)...)
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " ")
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any term. Returns 0 when terms is empty.
func maxWordCount(terms []string) int {
	max := 0
	for _, t := range terms {
		if n := len(strings.Fields(t)); n > max {
			max = n
		}
	}
	return max
}

// Ensure Corrector implements Filter at compile time.
var _ Filter = (*Corrector)(nil)
