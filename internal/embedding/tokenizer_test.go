package embedding

import "testing"

func TestSimpleTokenizer_Deterministic(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids1, mask1 := tok.Tokenize("riding a bicycle", 77)
	ids2, mask2 := tok.Tokenize("riding a bicycle", 77)
	if len(ids1) != 77 || len(mask1) != 77 {
		t.Fatalf("expected 77 tokens, got %d/%d", len(ids1), len(mask1))
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] || mask1[i] != mask2[i] {
			t.Fatalf("tokenization not deterministic at %d", i)
		}
	}
}

func TestSimpleTokenizer_Structure(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, mask := tok.Tokenize("two words", 8)
	if ids[0] != clipStartToken {
		t.Errorf("expected start token, got %d", ids[0])
	}
	// start + 2 words + end = 4 attended positions.
	attended := 0
	for _, m := range mask {
		attended += int(m)
	}
	if attended != 4 {
		t.Errorf("expected 4 attended tokens, got %d", attended)
	}
	if ids[3] != clipEndToken {
		t.Errorf("expected end token at position 3, got %d", ids[3])
	}
	for i := 4; i < 8; i++ {
		if ids[i] != 0 || mask[i] != 0 {
			t.Errorf("expected padding at %d, got id=%d mask=%d", i, ids[i], mask[i])
		}
	}
}

func TestSimpleTokenizer_Truncation(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, _ := tok.Tokenize("a b c d e f g h i j", 4)
	if len(ids) != 4 {
		t.Fatalf("expected 4 tokens, got %d", len(ids))
	}
	if ids[0] != clipStartToken || ids[3] != clipEndToken {
		t.Errorf("truncated sequence must keep start and end tokens: %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  hello \t world\ngo  ")
	if len(words) != 3 || words[0] != "hello" || words[1] != "world" || words[2] != "go" {
		t.Errorf("unexpected words: %v", words)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty input should produce no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("bicycle") != HashString("bicycle") {
		t.Error("hash must be stable")
	}
	if HashString("bicycle") < 0 {
		t.Error("hash must be non-negative")
	}
}
