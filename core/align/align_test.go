package align

import (
	"context"
	"errors"
	"testing"
	"time"

	rterrors "github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/extract"
	"github.com/crosslation/redline/internal/retry"
)

type fakeOracle struct {
	alignIndex int
	alignConf  float64
	alignErr   error
	alignCalls int

	span      SpanAnswer
	spanErr   error
	spanCalls int
}

func (f *fakeOracle) AlignParagraph(ctx context.Context, sourceText string, candidates []string) (int, float64, error) {
	f.alignCalls++
	if f.alignErr != nil {
		return 0, 0, f.alignErr
	}
	return f.alignIndex, f.alignConf, nil
}

func (f *fakeOracle) LocateSpan(ctx context.Context, req SpanRequest) (SpanAnswer, error) {
	f.spanCalls++
	if f.spanErr != nil {
		return SpanAnswer{}, f.spanErr
	}
	return f.span, nil
}

func fastConfig() Config {
	return Config{Retry: retry.Policy{Attempts: 3, Backoff: time.Millisecond}}
}

func TestAlignParagraphAcceptsConfidentOracle(t *testing.T) {
	oracle := &fakeOracle{alignIndex: 2, alignConf: 0.9}
	a := New(oracle, fastConfig())

	m := a.AlignParagraph(context.Background(), "source", 0, 3, []string{"a", "b", "c"})
	if m.Index != 2 || m.Fallback {
		t.Errorf("match = %+v, want oracle index 2, no fallback", m)
	}
	if m.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", m.Confidence)
	}
	if oracle.alignCalls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.alignCalls)
	}
}

func TestAlignParagraphFallsBackOnLowConfidence(t *testing.T) {
	oracle := &fakeOracle{alignIndex: 0, alignConf: 0.4}
	a := New(oracle, fastConfig())

	m := a.AlignParagraph(context.Background(), "long source text", 2, 3, []string{"a", "b", "matching length!"})
	if !m.Fallback {
		t.Fatal("match not marked fallback for low-confidence oracle answer")
	}
	if m.Index != 2 {
		t.Errorf("Index = %d, want relative-position 2", m.Index)
	}
}

func TestAlignParagraphRetriesThenFallsBack(t *testing.T) {
	oracle := &fakeOracle{alignErr: errors.New("connection refused")}
	a := New(oracle, fastConfig())

	m := a.AlignParagraph(context.Background(), "text", 1, 4, []string{"a", "b", "c", "d"})
	if oracle.alignCalls != 3 {
		t.Errorf("oracle calls = %d, want 3 attempts", oracle.alignCalls)
	}
	if !m.Fallback || m.Index != 1 {
		t.Errorf("match = %+v, want fallback at index 1", m)
	}
}

func TestAlignParagraphWithoutOracle(t *testing.T) {
	a := New(nil, Config{})

	tests := []struct {
		name        string
		sourceIndex int
		sourceCount int
		targetCount int
		want        int
	}{
		{name: "parallel documents keep index", sourceIndex: 3, sourceCount: 5, targetCount: 5, want: 3},
		{name: "scaled down", sourceIndex: 4, sourceCount: 10, targetCount: 5, want: 2},
		{name: "first stays first", sourceIndex: 0, sourceCount: 10, targetCount: 4, want: 0},
		{name: "last stays last", sourceIndex: 9, sourceCount: 10, targetCount: 4, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := make([]string, tt.targetCount)
			for i := range candidates {
				candidates[i] = "text"
			}
			m := a.AlignParagraph(context.Background(), "text", tt.sourceIndex, tt.sourceCount, candidates)
			if m.Index != tt.want {
				t.Errorf("Index = %d, want %d", m.Index, tt.want)
			}
			if !m.Fallback {
				t.Error("Fallback = false without an oracle, want true")
			}
		})
	}
}

func TestAlignParagraphNoCandidates(t *testing.T) {
	a := New(nil, Config{})
	m := a.AlignParagraph(context.Background(), "text", 0, 1, nil)
	if m.Index != -1 {
		t.Errorf("Index = %d for empty candidate set, want -1", m.Index)
	}
}

func TestLocateSpanAcceptsOracleInsertAnswer(t *testing.T) {
	oracle := &fakeOracle{span: SpanAnswer{Offset: 3, Length: 5, Confidence: 0.8}}
	a := New(oracle, fastConfig())

	m, err := a.LocateSpan(context.Background(), SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpInsert,
		SpanText:      "棕色的",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if m.Offset != 3 || m.Length != 0 || m.Fallback {
		t.Errorf("match = %+v, want offset 3, length forced to 0, no fallback", m)
	}
}

func TestLocateSpanAcceptsOracleDeleteAnswer(t *testing.T) {
	oracle := &fakeOracle{span: SpanAnswer{Offset: 0, Length: 3, Confidence: 0.9}}
	a := New(oracle, fastConfig())

	m, err := a.LocateSpan(context.Background(), SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "quick ",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if m.Offset != 0 || m.Length != 3 || m.Fallback {
		t.Errorf("match = %+v, want {0, 3} from oracle", m)
	}
}

func TestLocateSpanInsertFallbackUsesSourceRatio(t *testing.T) {
	a := New(nil, Config{})

	m, err := a.LocateSpan(context.Background(), SpanRequest{
		ParagraphText: "十个字符的目标段落。",
		Kind:          extract.OpInsert,
		SpanText:      "new",
		SourceRatio:   0.5,
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if m.Offset != 5 || !m.Fallback {
		t.Errorf("match = %+v, want fallback offset 5", m)
	}
}

func TestLocateSpanRejectsOutOfBoundsOracleAnswer(t *testing.T) {
	oracle := &fakeOracle{span: SpanAnswer{Offset: 40, Length: 3, Confidence: 0.99}}
	a := New(oracle, fastConfig())

	// The oracle's answer lies outside the paragraph; the delete falls back
	// to the fuzzy search, which finds the exact substring.
	m, err := a.LocateSpan(context.Background(), SpanRequest{
		Paragraph:     4,
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "狐狸",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v", err)
	}
	if m.Offset != 3 || m.Length != 2 || !m.Fallback {
		t.Errorf("match = %+v, want fallback exact match at {3, 2}", m)
	}
	if m.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1 for exact substring", m.Confidence)
	}
}

func TestLocateSpanDeleteBelowFloor(t *testing.T) {
	a := New(nil, Config{})

	_, err := a.LocateSpan(context.Background(), SpanRequest{
		Paragraph:     7,
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "quick brown fox",
	})
	if err == nil {
		t.Fatal("LocateSpan() = nil error, want no-plausible-span")
	}
	if !errors.Is(err, rterrors.ErrNoPlausibleSpan) {
		t.Errorf("error = %v, want ErrNoPlausibleSpan", err)
	}
	var nps *rterrors.NoPlausibleSpanError
	if !errors.As(err, &nps) {
		t.Fatal("errors.As failed for NoPlausibleSpanError")
	}
	if nps.Paragraph != 7 {
		t.Errorf("Paragraph = %d, want 7", nps.Paragraph)
	}
}

func TestLocateSpanExhaustsRetryBudget(t *testing.T) {
	oracle := &fakeOracle{spanErr: errors.New("timeout")}
	a := New(oracle, fastConfig())

	_, err := a.LocateSpan(context.Background(), SpanRequest{
		ParagraphText: "敏捷的狐狸跳跃。",
		Kind:          extract.OpDelete,
		SpanText:      "狐狸",
	})
	if err != nil {
		t.Fatalf("LocateSpan() error = %v, want fallback success", err)
	}
	if oracle.spanCalls != 3 {
		t.Errorf("oracle calls = %d, want 3 attempts", oracle.spanCalls)
	}
}

func TestFuzzyLocateAppliesFloor(t *testing.T) {
	a := New(nil, Config{FuzzyFloor: 0.3})

	m, err := a.FuzzyLocate(0, "敏捷的狐狸跳跃。", "敏捷的")
	if err != nil {
		t.Fatalf("FuzzyLocate() error = %v", err)
	}
	if m.Offset != 0 || m.Length != 3 {
		t.Errorf("match = %+v, want {0, 3}", m)
	}

	if _, err := a.FuzzyLocate(0, "敏捷的狐狸跳跃。", "zzzz"); !errors.Is(err, rterrors.ErrNoPlausibleSpan) {
		t.Errorf("error = %v, want ErrNoPlausibleSpan", err)
	}
}
