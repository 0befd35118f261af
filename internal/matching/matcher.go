// Package matching provides pure fuzzy name scoring for watchlist screening.
package matching

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

var (
	nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

	// Common honorific prefixes and generational suffixes stripped
	// before scoring so "Dr. John Smith Jr" matches "John Smith".
	namePrefixes = []string{"mr", "mrs", "ms", "dr", "prof", "sir", "dame", "lord", "lady"}
	nameSuffixes = []string{"jr", "sr", "ii", "iii", "iv", "phd", "md", "esq"}
)

// Normalize lowercases a name, strips punctuation and honorific affixes,
// and collapses whitespace. Deterministic and allocation-light; used by
// both scoring and the adapters' phonetic bucket index.
func Normalize(name string) string {
	name = strings.ToLower(name)
	name = nonAlnum.ReplaceAllString(name, "")

	tokens := strings.Fields(name)
	filtered := tokens[:0]
	for _, token := range tokens {
		if isCommonAffix(token) {
			continue
		}
		filtered = append(filtered, token)
	}

	return strings.Join(filtered, " ")
}

// Tokens splits a name into its normalized tokens. Empty input yields
// a nil slice.
func Tokens(name string) []string {
	normalized := Normalize(name)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

func isCommonAffix(token string) bool {
	for _, prefix := range namePrefixes {
		if token == prefix {
			return true
		}
	}
	for _, suffix := range nameSuffixes {
		if token == suffix {
			return true
		}
	}
	return false
}

// Score returns a similarity score in [0,100] between a query name and a
// candidate name, using normalized Levenshtein ratio. Identical non-empty
// inputs score 100, empty inputs score 0. Pure: no I/O, never panics.
func Score(query, candidate string) int {
	q := Normalize(query)
	c := Normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 100
	}

	distance := levenshtein.ComputeDistance(q, c)
	maxLen := utf8.RuneCountInString(q)
	if n := utf8.RuneCountInString(c); n > maxLen {
		maxLen = n
	}

	ratio := 1.0 - float64(distance)/float64(maxLen)
	if ratio < 0 {
		return 0
	}
	return int(math.Round(ratio * 100))
}

// BestMatch scores the query against a primary name and its aliases and
// returns the best-scoring name. Ties prefer the primary name, then the
// first-seen alias.
func BestMatch(query, primary string, aliases []string) (string, int) {
	bestName := primary
	bestScore := Score(query, primary)

	for _, alias := range aliases {
		if s := Score(query, alias); s > bestScore {
			bestName = alias
			bestScore = s
		}
	}

	return bestName, bestScore
}

// Soundex returns the 4-character Soundex code of a single name token.
// Adapters bucket watchlist entities by the code of each name token so a
// search only fully scores candidates sharing a phonetic bucket with the
// query. Tokens in non-Latin scripts have no consonant mapping; they
// bucket on their leading rune alone, which keeps identical spellings in
// the same bucket.
func Soundex(s string) string {
	s = Normalize(s)
	if s == "" {
		return ""
	}

	runes := []rune(strings.ToUpper(s))
	result := []rune{runes[0]}

	mapping := map[rune]rune{
		'B': '1', 'F': '1', 'P': '1', 'V': '1',
		'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
		'D': '3', 'T': '3',
		'L': '4',
		'M': '5', 'N': '5',
		'R': '6',
	}

	var prev rune
	for _, char := range runes[1:] {
		if code, exists := mapping[char]; exists {
			if code != prev {
				result = append(result, code)
				prev = code
			}
		} else {
			prev = 0
		}

		if len(result) >= 4 {
			break
		}
	}

	for len(result) < 4 {
		result = append(result, '0')
	}

	return string(result[:4])
}
