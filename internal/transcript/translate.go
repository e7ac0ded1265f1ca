package transcript

import (
	"context"
	"fmt"
	"strings"
)

// Translator converts utterance text between languages. Implementations
// must be safe for concurrent use.
type Translator interface {
	// Translate returns text rendered in targetLang. sourceLang is an
	// ISO 639-1 hint and may be empty when the source language is unknown.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// NullTranslator is the default Translator: it returns text unchanged.
// Deployments without a translation backend run with it so the filter chain
// shape stays the same everywhere.
type NullTranslator struct{}

// Translate returns text unchanged.
func (NullTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// TranslationFilter renders final results into the session's target language
// when one is set. The pre-translation text and language stay available
// under [MetaOriginalText] and [MetaOriginalLanguage].
type TranslationFilter struct {
	translator Translator
}

// NewTranslationFilter builds the filter around tr. A nil tr falls back to
// [NullTranslator].
func NewTranslationFilter(tr Translator) *TranslationFilter {
	if tr == nil {
		tr = NullTranslator{}
	}
	return &TranslationFilter{translator: tr}
}

// Name implements Filter.
func (f *TranslationFilter) Name() string { return "translation" }

// Apply translates res into hints.TargetLanguage. Results already in the
// target language, results without text, and sessions without a target pass
// through untouched.
func (f *TranslationFilter) Apply(ctx context.Context, res Result, hints Hints) (Result, error) {
	target := hints.TargetLanguage
	if target == "" || res.Text == "" || strings.EqualFold(target, res.Language) {
		return res, nil
	}

	translated, err := f.translator.Translate(ctx, res.Text, res.Language, target)
	if err != nil {
		return res, fmt.Errorf("translate to %q: %w", target, err)
	}
	if translated == res.Text {
		// Null backend: nothing changed, so claim no translation happened.
		return res, nil
	}
	return res.WithText(translated).WithLanguage(target), nil
}

// Ensure the filter types implement their interfaces at compile time.
var (
	_ Translator = NullTranslator{}
	_ Filter     = (*TranslationFilter)(nil)
)
