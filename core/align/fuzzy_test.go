package align

import "testing"

func TestFuzzyExactSubstring(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		span       string
		wantOffset int
		wantLength int
	}{
		{name: "prefix", text: "敏捷的狐狸跳跃。", span: "敏捷的", wantOffset: 0, wantLength: 3},
		{name: "middle", text: "敏捷的狐狸跳跃。", span: "狐狸", wantOffset: 3, wantLength: 2},
		{name: "latin", text: "The quick brown fox.", span: "quick ", wantOffset: 4, wantLength: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, length, ratio := Fuzzy(tt.text, tt.span)
			if off != tt.wantOffset || length != tt.wantLength {
				t.Errorf("Fuzzy() = (%d, %d), want (%d, %d)", off, length, tt.wantOffset, tt.wantLength)
			}
			if ratio != 1 {
				t.Errorf("ratio = %v, want 1 for exact match", ratio)
			}
		})
	}
}

func TestFuzzyNearMiss(t *testing.T) {
	// The text carries a transposition: "quikc" for "quick".
	off, length, ratio := Fuzzy("The quikc brown fox.", "quick ")
	if off != 4 || length != 6 {
		t.Errorf("Fuzzy() = (%d, %d), want (4, 6)", off, length)
	}
	if ratio <= 0.8 || ratio >= 1 {
		t.Errorf("ratio = %v, want in (0.8, 1)", ratio)
	}
}

func TestFuzzyCJKNearMiss(t *testing.T) {
	// 棕色的狐狸 does not occur verbatim; the best window still lands on
	// the 的棕色狐狸 stretch.
	off, length, ratio := Fuzzy("敏捷的棕色狐狸跳跃。", "棕色的狐狸")
	if off != 2 || length != 5 {
		t.Errorf("Fuzzy() = (%d, %d), want (2, 5)", off, length)
	}
	if ratio < 0.79 || ratio > 0.81 {
		t.Errorf("ratio = %v, want about 0.8", ratio)
	}
}

func TestFuzzyDissimilar(t *testing.T) {
	_, _, ratio := Fuzzy("敏捷的狐狸跳跃。", "zzzz")
	if ratio != 0 {
		t.Errorf("ratio = %v, want 0 for disjoint alphabets", ratio)
	}
}

func TestFuzzyEmptyInputs(t *testing.T) {
	if off, length, ratio := Fuzzy("", "abc"); off != 0 || length != 0 || ratio != 0 {
		t.Errorf("Fuzzy(empty text) = (%d, %d, %v), want zeros", off, length, ratio)
	}
	if off, length, ratio := Fuzzy("abc", ""); off != 0 || length != 0 || ratio != 0 {
		t.Errorf("Fuzzy(empty span) = (%d, %d, %v), want zeros", off, length, ratio)
	}
}

func TestFuzzyTieKeepsEarliest(t *testing.T) {
	// Both axbx groups score identically; the earlier offset wins.
	off, _, _ := Fuzzy("axbx axbx", "ab")
	if off != 0 {
		t.Errorf("offset = %d, want 0 on tie", off)
	}
}

func TestWindowSizes(t *testing.T) {
	tests := []struct {
		name    string
		spanLen int
		textLen int
		want    []int
	}{
		{name: "spread around span length", spanLen: 8, textLen: 100, want: []int{6, 8, 10}},
		{name: "short span", spanLen: 4, textLen: 100, want: []int{3, 4, 5}},
		{name: "clamped to text", spanLen: 2, textLen: 1, want: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := windowSizes(tt.spanLen, tt.textLen)
			if len(got) != len(tt.want) {
				t.Fatalf("windowSizes() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("windowSizes() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestLCSLen(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{a: "ABCBDAB", b: "BDCABA", want: 4},
		{a: "abc", b: "abc", want: 3},
		{a: "abc", b: "xyz", want: 0},
		{a: "", b: "abc", want: 0},
	}

	for _, tt := range tests {
		if got := lcsLen([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("lcsLen(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
