// Package classify decides whether a message consumes quota. Trivial
// utterances (bare greetings, acknowledgements, emoji reactions) are exempt
// so casual users do not burn their daily allowance on "ok".
package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Decision is the classifier outcome for one message.
type Decision string

const (
	// Count means the message consumes quota.
	Count Decision = "count"
	// Exempt means the message is recorded nowhere and consumes nothing.
	Exempt Decision = "exempt"
)

// Rule identifies which classification rule fired, for observability.
type Rule string

const (
	RuleEmpty    Rule = "empty"
	RuleTrivial  Rule = "trivial"
	RuleKeyword  Rule = "keyword"
	RuleQuestion Rule = "question"
	RuleLength   Rule = "length"
	RuleDefault  Rule = "default"
)

// trivialLength is the maximum rune count for the short-utterance exemption.
const trivialLength = 10

// substantiveLength is the length past which a message always counts.
const substantiveLength = 50

// trivialUtterances are exact-match (after normalization) throwaway messages.
var trivialUtterances = map[string]struct{}{
	// Greetings.
	"hola": {}, "holaa": {}, "hey": {}, "hi": {}, "hello": {},
	"buenas": {}, "buenos dias": {}, "buenas tardes": {}, "buenas noches": {},
	"good morning": {}, "good night": {},
	// Acknowledgements.
	"ok": {}, "okay": {}, "okey": {}, "vale": {}, "dale": {}, "bueno": {},
	"si": {}, "sí": {}, "no": {}, "ya": {}, "ah": {}, "oh": {}, "mmm": {},
	"jaja": {}, "jajaja": {}, "jeje": {}, "lol": {}, "xd": {},
	"gracias": {}, "thanks": {}, "thx": {}, "de nada": {},
	// Farewells.
	"adios": {}, "adiós": {}, "chau": {}, "chao": {}, "bye": {},
	"hasta luego": {}, "nos vemos": {}, "hasta mañana": {},
}

// substantiveWords mark messages that carry conversational weight:
// question words, first-person reflective verbs, and narrative time words.
// Matched against whole words after normalization.
var substantiveWords = map[string]struct{}{
	// Question words.
	"qué": {}, "que": {}, "porqué": {}, "porque": {}, "cómo": {}, "como": {},
	"cuándo": {}, "cuando": {}, "dónde": {}, "donde": {}, "quién": {},
	"quien": {}, "cuál": {}, "cual": {},
	"what": {}, "why": {}, "how": {}, "when": {}, "where": {}, "who": {}, "which": {},
	// First-person reflective verbs.
	"siento": {}, "pienso": {}, "creo": {}, "recuerdo": {}, "extraño": {},
	"quiero": {}, "necesito": {},
	"feel": {}, "think": {}, "remember": {}, "miss": {}, "want": {}, "need": {},
	// Narrative time words.
	"ayer": {}, "hoy": {}, "mañana": {}, "anoche": {}, "antes": {},
	"después": {}, "despues": {}, "siempre": {}, "nunca": {},
	"yesterday": {}, "today": {}, "tomorrow": {}, "always": {}, "never": {},
}

// Result carries the decision and the rule that produced it.
type Result struct {
	Decision Decision
	Rule     Rule
}

// Counted reports whether the message consumes quota.
func (r Result) Counted() bool {
	return r.Decision == Count
}

// Classify applies the classification rules in priority order. The trivial
// rule fires before keyword, question, and length checks, so a short
// acknowledgement stays exempt even when it happens to contain a keyword.
func Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))

	// Empty content always counts: a blank message is more likely a client
	// bug than a freebie, and counting is the fail-safe direction.
	if normalized == "" {
		return Result{Count, RuleEmpty}
	}

	if isTrivial(normalized) {
		return Result{Exempt, RuleTrivial}
	}

	for _, word := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if _, ok := substantiveWords[word]; ok {
			return Result{Count, RuleKeyword}
		}
	}

	if strings.ContainsAny(normalized, "?¿") {
		return Result{Count, RuleQuestion}
	}

	if utf8.RuneCountInString(normalized) > substantiveLength {
		return Result{Count, RuleLength}
	}

	return Result{Count, RuleDefault}
}

func isTrivial(normalized string) bool {
	if _, ok := trivialUtterances[normalized]; ok {
		return true
	}
	if utf8.RuneCountInString(normalized) <= trivialLength {
		return true
	}
	return isPureEmoji(normalized)
}

// isPureEmoji reports whether the string contains only emoji-ish runes,
// whitespace, and skin-tone/joiner modifiers.
func isPureEmoji(s string) bool {
	sawEmoji := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r == 0x200D || r == 0xFE0F: // ZWJ, variation selector
		case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
			sawEmoji = true
		case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
			sawEmoji = true
		case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
			sawEmoji = true
		default:
			return false
		}
	}
	return sawEmoji
}
