package indexer

import (
	"strings"
	"testing"
)

func TestChunker_TwoThousandChars(t *testing.T) {
	c := NewChunker(800, 100, 4)
	spans := c.Split(strings.Repeat("x", 2000))
	if len(spans) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(spans))
	}
	wantBounds := [][2]int{{0, 800}, {700, 1500}, {1400, 2000}}
	for i, s := range spans {
		if s.Start != wantBounds[i][0] || s.End != wantBounds[i][1] {
			t.Errorf("chunk %d = [%d,%d), want %v", i, s.Start, s.End, wantBounds[i])
		}
		if s.Index != i {
			t.Errorf("chunk %d Index=%d", i, s.Index)
		}
		if s.EstimatedTokens != len(s.Text)/4 {
			t.Errorf("chunk %d tokens=%d", i, s.EstimatedTokens)
		}
	}
}

func TestChunker_WindowAndOverlapProperties(t *testing.T) {
	text := strings.Repeat("Die Versicherung deckt Schaeden am Hausrat ab. ", 80)
	c := NewChunker(300, 50, 4)
	spans := c.Split(text)
	norm := []rune(Preprocess(text))
	if len(spans) < 2 {
		t.Fatalf("expected several chunks, got %d", len(spans))
	}
	if spans[0].Start != 0 || spans[len(spans)-1].End != len(norm) {
		t.Error("chunks must cover the whole text")
	}
	for i, s := range spans {
		if n := len([]rune(s.Text)); n > 300 {
			t.Errorf("chunk %d has %d chars, window is 300", i, n)
		}
		if i > 0 {
			prev := spans[i-1]
			if s.Start > prev.End {
				t.Errorf("gap between chunk %d and %d", i-1, i)
			}
			if prev.End-s.Start != 50 {
				t.Errorf("overlap between %d and %d = %d, want 50", i-1, i, prev.End-s.Start)
			}
		}
	}
}

func TestChunker_SnapsToSentenceEnd(t *testing.T) {
	// a sentence ends at rune 90, inside the last 20% of a 100 char window
	text := strings.Repeat("a", 88) + ". " + strings.Repeat("b", 150)
	spans := NewChunker(100, 10, 4).Split(text)
	if spans[0].End != 90 {
		t.Fatalf("first chunk ends at %d, want 90", spans[0].End)
	}
	if !strings.HasSuffix(spans[0].Text, ".") {
		t.Errorf("first chunk should end with the terminator: %q", spans[0].Text)
	}
	if spans[1].Start != 80 {
		t.Errorf("second chunk starts at %d, want 80", spans[1].Start)
	}
}

func TestChunker_NoSnapOutsideRegion(t *testing.T) {
	// terminator at rune 50 is outside the last 20% of the window
	text := strings.Repeat("a", 48) + ". " + strings.Repeat("b", 200)
	spans := NewChunker(100, 10, 4).Split(text)
	if spans[0].End != 100 {
		t.Errorf("first chunk ends at %d, want raw boundary 100", spans[0].End)
	}
}

func TestChunker_Umlauts(t *testing.T) {
	spans := NewChunker(10, 2, 4).Split(strings.Repeat("ä", 25))
	for _, s := range spans {
		if strings.ContainsRune(s.Text, '�') {
			t.Fatalf("chunk split inside a rune: %q", s.Text)
		}
	}
	if len(spans) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(spans))
	}
}

func TestChunker_Empty(t *testing.T) {
	if spans := NewChunker(5, 1, 4).Split("   \n\t  "); spans != nil {
		t.Errorf("empty text should return nil, got %v", spans)
	}
}

func TestChunker_OverlapNotSmallerThanStep(t *testing.T) {
	// overlap >= window would never advance
	spans := NewChunker(10, 10, 4).Split(strings.Repeat("z", 35))
	if len(spans) != 4 {
		t.Errorf("expected 4 chunks, got %d", len(spans))
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("abc", 2); got != "abc_chunk_2" {
		t.Errorf("ChunkID = %q", got)
	}
}

func TestPreprocess(t *testing.T) {
	tests := map[string]string{
		"  a  b  ":        "a b",
		"line\n\nbreak\t": "line break",
		"nul\x00byte":     "nulbyte",
		"":                "",
	}
	for in, want := range tests {
		if got := Preprocess(in); got != want {
			t.Errorf("Preprocess(%q) = %q, want %q", in, got, want)
		}
	}
}
