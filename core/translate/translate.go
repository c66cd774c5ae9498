// Package translate turns source-language edit text into target-language
// text through an external translator. Translation has no deterministic
// fallback: when the translator is unreachable the operation must be
// marked failed, never written through untranslated.
package translate

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/internal/retry"
)

// Request carries one translation question.
type Request struct {
	Text       string // source-language text to translate
	SourceLang string // BCP 47 tag of the source document
	TargetLang string // BCP 47 tag of the target document
	Context    string // surrounding source text, for disambiguation
}

// Translator produces target-language text for source-language input.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// Passthrough returns the input unchanged. It is the deliberate choice
// for same-language transfers, not a stand-in for a failed translator.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, req Request) (string, error) {
	return req.Text, nil
}

// Retrying decorates a translator with a bounded retry. An empty result
// counts as a failed attempt. Exhausting the budget yields an
// OracleUnavailableError carrying the last cause.
type Retrying struct {
	next   Translator
	policy retry.Policy
}

// WithRetry wraps next with the given retry policy. Zero policy fields
// take the defaults.
func WithRetry(next Translator, policy retry.Policy) *Retrying {
	def := retry.DefaultPolicy()
	if policy.Attempts <= 0 {
		policy.Attempts = def.Attempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = def.Backoff
	}
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) Translate(ctx context.Context, req Request) (string, error) {
	var out string
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		s, err := r.next.Translate(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return errors.NewValidation("translation", "empty result")
		}
		out = s
		return nil
	})
	if err != nil {
		return "", errors.NewOracleUnavailable("translator", r.policy.Attempts, err)
	}
	return out, nil
}

// Normalize parses a BCP 47 language tag and returns its canonical form.
func Normalize(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", errors.NewValidation("language", fmt.Sprintf("invalid tag %q: %v", tag, err))
	}
	return t.String(), nil
}

// Same reports whether two language tags share a base language, so that
// en-US to en-GB transfers skip translation. Unparseable tags compare
// literally.
func Same(a, b string) bool {
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	return ba == bb
}
