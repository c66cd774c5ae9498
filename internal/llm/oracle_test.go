package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crosslation/redline/core/align"
	"github.com/crosslation/redline/core/extract"
)

type fakeProvider struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Available(_ context.Context) error { return f.err }

func (f *fakeProvider) Complete(_ context.Context, p string) (string, error) {
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestOracleAlignParagraph(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantIdx  int
		wantConf float64
		wantErr  bool
	}{
		{name: "structured", response: `{"index": 2, "confidence": 0.9}`, wantIdx: 2, wantConf: 0.9},
		{name: "structured without confidence", response: `{"index": 1}`, wantIdx: 1, wantConf: structuredConfidence},
		{name: "bare number", response: "2", wantIdx: 2, wantConf: structuredConfidence},
		{name: "number in prose", response: "The matching paragraph is 3.", wantIdx: 3, wantConf: extractedConfidence},
		{name: "no number", response: "none of these match", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{response: tt.response}
			o := NewOracle(p)

			idx, conf, err := o.AlignParagraph(context.Background(), "The quick fox.", []string{"甲", "乙", "丙", "丁"})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("AlignParagraph() = (%d, %v), want error", idx, conf)
				}
				return
			}
			if err != nil {
				t.Fatalf("AlignParagraph() error = %v", err)
			}
			if idx != tt.wantIdx || conf != tt.wantConf {
				t.Errorf("AlignParagraph() = (%d, %v), want (%d, %v)", idx, conf, tt.wantIdx, tt.wantConf)
			}
		})
	}
}

func TestOracleAlignPromptListsCandidates(t *testing.T) {
	p := &fakeProvider{response: "0"}
	o := NewOracle(p)

	_, _, err := o.AlignParagraph(context.Background(), "source", []string{"first", "second"})
	if err != nil {
		t.Fatalf("AlignParagraph() error = %v", err)
	}
	if len(p.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(p.prompts))
	}
	prompt := p.prompts[0]
	for _, want := range []string{"0: first", "1: second", `"source"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestOracleAlignProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	o := NewOracle(&fakeProvider{err: cause})

	_, _, err := o.AlignParagraph(context.Background(), "source", []string{"only"})
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want provider cause", err)
	}
}

func TestOracleLocateInsertion(t *testing.T) {
	p := &fakeProvider{response: `{"offset": 3, "confidence": 0.8}`}
	o := NewOracle(p)

	ans, err := o.LocateSpan(context.Background(), align.SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpInsert,
		SpanText:      "棕色的",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if ans.Offset != 3 || ans.Length != 0 || ans.Confidence != 0.8 {
		t.Errorf("answer = %+v, want {3, 0, 0.8}", ans)
	}
	if !strings.Contains(p.prompts[0], "0 (start) to 8 (end)") {
		t.Errorf("prompt missing rune position bounds:\n%s", p.prompts[0])
	}
}

func TestOracleLocateDeletionExactQuote(t *testing.T) {
	o := NewOracle(&fakeProvider{response: "狐狸"})

	ans, err := o.LocateSpan(context.Background(), align.SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "fox",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if ans.Offset != 3 || ans.Length != 2 {
		t.Errorf("answer = %+v, want offset 3, length 2", ans)
	}
	if ans.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1 for exact quote", ans.Confidence)
	}
}

func TestOracleLocateDeletionNearQuoteSnaps(t *testing.T) {
	// The model quotes more than the paragraph holds; the fuzzy match
	// still snaps to the overlapping stretch with reduced confidence.
	o := NewOracle(&fakeProvider{response: "敏捷的狐狸猫"})

	ans, err := o.LocateSpan(context.Background(), align.SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "quick fox",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if ans.Offset != 0 {
		t.Errorf("Offset = %d, want 0", ans.Offset)
	}
	if ans.Confidence >= 1 || ans.Confidence < 0.5 {
		t.Errorf("Confidence = %v, want snapped into [0.5, 1)", ans.Confidence)
	}
}

func TestOracleLocateDeletionEmptyQuote(t *testing.T) {
	o := NewOracle(&fakeProvider{response: "   "})

	_, err := o.LocateSpan(context.Background(), align.SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "fox",
	})
	if err == nil {
		t.Error("LocateSpan() = nil error for empty quote, want error")
	}
}
