// ABOUTME: Lexicon-based per-turn sentiment estimate and term matching
// ABOUTME: Deterministic; text and terms are lowercased and accent-folded before matching
package sentiment

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Support words signal that someone may be struggling
var negativeTerms = []string{
	"ajuda", "ansioso", "ansiosa", "nervoso", "nervosa", "triste", "confuso", "confusa",
	"difícil", "problema", "assustado", "assustada", "medo", "sozinho", "sozinha",
	"não consigo", "odeio", "irritado", "irritada", "chateado", "chateada", "cansado", "cansada",
	"anxious", "scared", "sad", "upset", "angry", "afraid", "hate", "confused", "lonely", "help",
}

// Crisis words signal that a human must look at the conversation now
var crisisTerms = []string{
	"suicídio", "suicida", "matar", "morrer", "machucar", "desespero", "desesperado",
	"desesperada", "emergência", "crise", "pânico", "violência", "abuso", "socorro",
	"suicide", "kill", "die", "hurt myself", "panic", "emergency", "abuse",
}

// Idioms built on crisis words that do not signal a crisis
var crisisIdioms = []string{
	"morrer de rir", "morrendo de rir", "morrer de vergonha", "morrer de fome",
	"morrer de tédio", "morrer de saudade", "morrer de calor", "morrer de frio",
	"matar a saudade", "matar saudade", "matar as saudades", "matar o tempo", "matar tempo",
	"matar aula", "matar a aula", "matar a sede", "matar a fome", "crise de riso",
	"die laughing", "to die for", "kill time", "killing time",
}

var positiveTerms = []string{
	"feliz", "legal", "obrigado", "obrigada", "gostei", "adoro", "ótimo", "ótima", "bom", "boa",
	"calmo", "calma", "tranquilo", "tranquila", "divertido", "divertida",
	"happy", "thanks", "great", "good", "calm", "fun", "love",
}

// crisisWeight makes one crisis word outweigh an ordinary positive word
const crisisWeight = 2

// Analysis is the lexicon reading of one text
type Analysis struct {
	Score    float64
	Negative int
	Positive int
	Crisis   []string
}

// Analyze estimates sentiment in [-1, 1] for text
func Analyze(text string) Analysis {
	norm := Normalize(text)
	var a Analysis
	for _, term := range negativeTerms {
		a.Negative += countTerm(norm, term)
	}
	for _, term := range positiveTerms {
		a.Positive += countTerm(norm, term)
	}
	literal := stripIdioms(norm)
	for _, term := range crisisTerms {
		if n := countTerm(literal, term); n > 0 {
			a.Crisis = append(a.Crisis, term)
			a.Negative += n * crisisWeight
		}
	}
	total := a.Negative + a.Positive
	if total > 0 {
		a.Score = float64(a.Positive-a.Negative) / float64(total)
	}
	return a
}

// Estimate returns only the sentiment score of text
func Estimate(text string) float64 {
	return Analyze(text).Score
}

// CrisisTerms returns the crisis words present in text
func CrisisTerms(text string) []string {
	literal := stripIdioms(Normalize(text))
	var found []string
	for _, term := range crisisTerms {
		if countTerm(literal, term) > 0 {
			found = append(found, term)
		}
	}
	return found
}

// ContainsTerm reports whether term occurs in text on word boundaries, case-insensitively
func ContainsTerm(text, term string) bool {
	return countTerm(Normalize(text), term) > 0
}

// Normalize lowercases text, folds accents ("mudança" becomes "mudanca") and collapses
// every run of non letters/digits into one space
func Normalize(text string) string {
	f := func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	}
	return strings.Join(strings.FieldsFunc(fold(strings.ToLower(text)), f), " ")
}

// fold removes combining marks. Transformers keep state, so each call builds its own chain.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// stripIdioms blanks crisis idioms out of already normalized text
func stripIdioms(norm string) string {
	padded := " " + norm + " "
	for _, idiom := range crisisIdioms {
		i := " " + Normalize(idiom) + " "
		for strings.Contains(padded, i) {
			padded = strings.ReplaceAll(padded, i, " ")
		}
	}
	return strings.TrimSpace(padded)
}

// countTerm counts word-boundary occurrences of term in already normalized text
func countTerm(norm, term string) int {
	t := Normalize(term)
	if t == "" || norm == "" {
		return 0
	}
	return strings.Count(" "+norm+" ", " "+t+" ")
}
