package textsim

import "testing"

func TestNormalize(t *testing.T) {
	got := Normalize("  Ciao, come STAI??  ")
	want := "ciao come stai"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRatioIdentical(t *testing.T) {
	if r := Ratio("Pronto, mi dica", "pronto mi dica"); r != 1.0 {
		t.Errorf("expected ratio 1.0 for identical normalized strings, got %v", r)
	}
}

func TestRatioDisjoint(t *testing.T) {
	r := Ratio("abc", "xyz")
	if r != 0 {
		t.Errorf("expected ratio 0 for disjoint strings, got %v", r)
	}
}

func TestRatioPartialOverlap(t *testing.T) {
	r := Ratio("buongiorno a tutti", "buongiorno a voi")
	if r <= 0.5 || r >= 1.0 {
		t.Errorf("expected partial overlap ratio between 0.5 and 1.0, got %v", r)
	}
}

func TestAnchorWordsDropsStopWordsAndCaps(t *testing.T) {
	words := AnchorWords("il pacco e la consegna sono per il condominio via roma oggi")
	if len(words) > 5 {
		t.Fatalf("expected at most 5 anchor words, got %d", len(words))
	}
	for _, w := range words {
		if stopWords[w] {
			t.Errorf("anchor word %q should have been filtered as a stop word", w)
		}
		if len(w) < 2 {
			t.Errorf("anchor word %q shorter than minimum length", w)
		}
	}
}
