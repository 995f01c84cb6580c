// Package fingerprint derives stable content hashes from free-text invoice
// concepts. Every function here is pure.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint is the two-tier comparison key of an invoice concept.
type Fingerprint struct {
	// Normalized is the cleaned full text.
	Normalized string
	// ConceptKey is the coarse bag/category representation.
	ConceptKey string
	// Principal hashes Normalized; equal values mean the same concept text.
	Principal string
	// Concept hashes ConceptKey; equal values mean the same kind of service.
	Concept string
}

// Empty reports whether the source text carried no usable content.
func (f Fingerprint) Empty() bool {
	return f.Normalized == ""
}

// Generate normalizes text and hashes both tiers. Text without usable content
// yields empty hashes so that blank concepts never match each other.
func Generate(text string) Fingerprint {
	normalized := Normalize(text)
	if normalized == "" {
		return Fingerprint{}
	}
	key := ConceptKey(normalized)
	return Fingerprint{
		Normalized: normalized,
		ConceptKey: key,
		Principal:  hash("principal", normalized),
		Concept:    hash("concept", key),
	}
}

// Normalize lowercases text, strips diacritics and punctuation, drops tokens
// carrying digits (serials, dates, amounts) and billing-period words, and
// collapses whitespace.
func Normalize(text string) string {
	folded := stripDiacritics(strings.ToLower(text))

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)

	tokens := strings.Fields(cleaned)
	kept := tokens[:0]
	for _, tok := range tokens {
		if hasDigit(tok) || periodWords[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// ConceptKey reduces normalized text to its domain categories when any are
// recognized, otherwise to the sorted set of its content stems.
func ConceptKey(normalized string) string {
	categories := make(map[string]struct{})
	stems := make(map[string]struct{})

	for _, tok := range strings.Fields(normalized) {
		if stopWords[tok] || len(tok) < 3 {
			continue
		}
		stem := Stem(tok)
		if cat, ok := vocabulary[stem]; ok {
			categories[cat] = struct{}{}
			continue
		}
		stems[stem] = struct{}{}
	}

	if len(categories) > 0 {
		return "cat:" + joinSorted(categories, "|")
	}
	return joinSorted(stems, " ")
}

// Stem strips Spanish/English plural endings from words long enough to carry them.
func Stem(tok string) string {
	switch {
	case len(tok) > 5 && strings.HasSuffix(tok, "ciones"):
		return strings.TrimSuffix(tok, "es")
	case len(tok) > 4 && strings.HasSuffix(tok, "es") && !strings.HasSuffix(tok, "ees"):
		base := strings.TrimSuffix(tok, "es")
		if endsWithConsonant(base) {
			return base
		}
		return strings.TrimSuffix(tok, "s")
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		return strings.TrimSuffix(tok, "s")
	}
	return tok
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func hash(tier, value string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(tier))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func endsWithConsonant(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsRune("aeiou", rune(s[len(s)-1]))
}

func joinSorted(set map[string]struct{}, sep string) string {
	items := make([]string, 0, len(set))
	for k := range set {
		items = append(items, k)
	}
	sort.Strings(items)
	return strings.Join(items, sep)
}
