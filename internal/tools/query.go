package tools

import (
	"strings"
	"unicode"

	"github.com/developer-mesh/hubspot-mcp/pkg/models"
)

// queryStopWords are dropped from bare-word extraction. Query verbs and
// articles carry no filter signal.
var queryStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"all": true, "any": true, "find": true, "search": true, "show": true,
	"list": true, "get": true, "give": true, "about": true, "that": true,
	"this": true, "are": true, "was": true, "were": true, "has": true,
	"have": true, "named": true, "called": true,
}

// primaryFields maps each kind to the property its derived predicates target.
var primaryFields = map[models.EntityKind]string{
	models.KindContact:    "firstname",
	models.KindCompany:    "name",
	models.KindDeal:       "dealname",
	models.KindEngagement: "subject",
}

// queryPredicates is the structured residue of a natural-language query:
// double-quoted phrases, the remaining significant bare words (lowercased,
// stop words and short words removed), and the first email-shaped token.
type queryPredicates struct {
	phrases []string
	words   []string
	email   string
}

// empty reports whether the query produced nothing usable as a filter.
func (p queryPredicates) empty() bool {
	return len(p.phrases) == 0 && len(p.words) == 0 && p.email == ""
}

// filtersFor converts the predicates into one CRM filter set for the given
// kind. A quoted phrase wins over bare words as the primary-field value;
// email tokens only apply to contacts, the only kind with an email filter.
func (p queryPredicates) filtersFor(kind models.EntityKind) map[string]string {
	filters := make(map[string]string)
	if len(p.phrases) > 0 {
		filters[primaryFields[kind]] = p.phrases[0]
	} else if len(p.words) > 0 {
		filters[primaryFields[kind]] = strings.Join(p.words, " ")
	}
	if kind == models.KindContact && p.email != "" {
		filters["email"] = p.email
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

// extractPredicates runs the deterministic query heuristic: double-quoted
// substrings become exact phrases, tokens containing @ become the email
// candidate, and what remains is reduced to significant bare words.
func extractPredicates(query string) queryPredicates {
	var p queryPredicates

	rest := query
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '"')
		if closing < 0 {
			rest = rest[:open] + " " + rest[open+1:]
			break
		}
		phrase := strings.TrimSpace(rest[open+1 : open+1+closing])
		if phrase != "" {
			p.phrases = append(p.phrases, phrase)
		}
		rest = rest[:open] + " " + rest[open+closing+2:]
	}

	for _, token := range strings.Fields(rest) {
		token = strings.Trim(token, ".,;:!?()[]{}'`")
		if token == "" {
			continue
		}
		if strings.Contains(token, "@") {
			if p.email == "" {
				p.email = token
			}
			continue
		}
		word := strings.ToLower(token)
		if !significantWord(word) {
			continue
		}
		p.words = append(p.words, word)
	}
	return p
}

// significantWord keeps lowercased tokens longer than two runes that are not
// stop words and contain at least one letter or digit.
func significantWord(word string) bool {
	if len([]rune(word)) <= 2 || queryStopWords[word] {
		return false
	}
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
