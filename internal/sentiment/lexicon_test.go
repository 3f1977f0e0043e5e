// ABOUTME: Tests for lexicon sentiment and term matching
// ABOUTME: Covers accent folding, phrases, crisis detection and crisis idioms
package sentiment

import (
	"math"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"neutral", "vamos falar sobre trens", 0},
		{"only negative", "estou com medo", -1},
		{"only positive", "que legal!", 1},
		{"mixed", "legal mas estou nervoso", 0},
		{"phrase", "Não consigo dormir", -1},
		{"empty", "", 0},
		{"crisis outweighs positive", "legal, socorro", float64(1-2) / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.text)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Estimate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	text := "estou nervoso com a mudança, mas a aula foi legal"
	first := Estimate(text)
	for i := 0; i < 50; i++ {
		if got := Estimate(text); got != first {
			t.Fatalf("Estimate() changed between calls: %v vs %v", got, first)
		}
	}
}

func TestCrisisTerms(t *testing.T) {
	got := CrisisTerms("Estou em PÂNICO, socorro")
	if len(got) != 2 {
		t.Fatalf("CrisisTerms() = %v, want 2 terms", got)
	}
	if len(CrisisTerms("gosto de dinossauros")) != 0 {
		t.Error("CrisisTerms() should find nothing in a calm message")
	}
}

func TestContainsTerm(t *testing.T) {
	tests := []struct {
		text string
		term string
		want bool
	}{
		{"Hoje teve mudança de rotina na escola", "mudança de rotina", true},
		{"MUDANÇA DE ROTINA!!!", "mudança de rotina", true},
		{"mudança de rotinas", "mudança de rotina", false},
		{"barulho", "barulho alto", false},
		{"anything", "", false},
	}

	for _, tt := range tests {
		if got := ContainsTerm(tt.text, tt.term); got != tt.want {
			t.Errorf("ContainsTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"  Olá,   MUNDO!! ", "ola mundo"},
		{"Mudança de ROTINA", "mudanca de rotina"},
		{"não consigo, é difícil", "nao consigo e dificil"},
		{"pânico às 3h", "panico as 3h"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.text); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestMatchingIgnoresAccents(t *testing.T) {
	if !ContainsTerm("amanha tem mudanca de rotina", "mudança de rotina") {
		t.Error("an unaccented message should match an accented trigger")
	}
	if !ContainsTerm("Amanhã tem mudança de rotina", "mudanca de rotina") {
		t.Error("an accented message should match an unaccented trigger")
	}
	if got := CrisisTerms("estou em panico"); len(got) != 1 || got[0] != "pânico" {
		t.Errorf("CrisisTerms() = %v, want the accented term", got)
	}
	if Estimate("nao consigo") != -1 {
		t.Error("support phrases should match without accents")
	}
}

func TestCrisisIdiomsAreNotCrises(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"a gente vai morrer de rir com esse filme", 0},
		{"quero matar a saudade da minha avó", 0},
		{"vamos matar o tempo desenhando", 0},
		{"Eu MORRI... brincadeira, vou morrer de vergonha", 0},
		{"I could die laughing", 0},
		{"não quero morrer", 1},
		{"vou morrer de rir, mas também quero morrer", 1},
	}
	for _, tt := range tests {
		if got := CrisisTerms(tt.text); len(got) != tt.want {
			t.Errorf("CrisisTerms(%q) = %v, want %d terms", tt.text, got, tt.want)
		}
	}
	if a := Analyze("morrendo de rir, que legal"); a.Score <= 0 || len(a.Crisis) != 0 {
		t.Errorf("Analyze() = %+v, want a positive reading without crisis terms", a)
	}
}
