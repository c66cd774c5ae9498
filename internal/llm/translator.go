package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/translate"
)

// Translator renders edit text in the target language through a provider.
// It implements translate.Translator; retry and failure classification
// belong to the translate.Retrying wrapper.
type Translator struct {
	provider Provider
}

// NewTranslator wraps a provider as a translator.
func NewTranslator(p Provider) *Translator {
	return &Translator{provider: p}
}

func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.NewValidation("text", "nothing to translate")
	}

	target := langName(req.TargetLang)
	var b strings.Builder
	fmt.Fprintf(&b, "Translate this %s text to %s.\n\n", langName(req.SourceLang), target)
	fmt.Fprintf(&b, "Text: %q\n", req.Text)
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %q\n", clipRunes(req.Context, contextClip))
	}
	fmt.Fprintf(&b, "\nRespond with only the %s translation.", target)

	return t.provider.Complete(ctx, b.String())
}

// langName renders a BCP 47 tag as an English language name for prompts.
// Unparseable tags pass through as-is.
func langName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Languages().Name(t); name != "" {
		return name
	}
	return tag
}
