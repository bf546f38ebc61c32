package records

import (
	"sort"
	"strings"
)

// relationshipKeywords maps informal familial terms to the canonical
// relationship values stored on recipients.
var relationshipKeywords = map[string]string{
	"mom":         "mother",
	"mum":         "mother",
	"mother":      "mother",
	"dad":         "father",
	"father":      "father",
	"grandma":     "grandmother",
	"grandmother": "grandmother",
	"nana":        "grandmother",
	"grandpa":     "grandfather",
	"grandfather": "grandfather",
	"wife":        "wife",
	"husband":     "husband",
	"son":         "son",
	"daughter":    "daughter",
	"brother":     "brother",
	"sister":      "sister",
	"aunt":        "aunt",
	"uncle":       "uncle",
}

// Match scores, highest first: exact name beats a relationship keyword,
// which beats a partial name hit.
const (
	scoreExactName    = 3
	scoreRelationship = 2
	scorePartialName  = 1
)

// Candidate is one scored subject match.
type Candidate struct {
	Recipient Recipient
	Score     int
}

// ResolveSubject ranks recipients against the free-text query. It returns
// candidates in descending score order, ties broken by input order, with
// zero-score recipients excluded. Resolution is deterministic: the same
// query and recipient list always yield the same ranking.
func ResolveSubject(query string, recipients []Recipient) []Candidate {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	var out []Candidate
	for _, r := range recipients {
		score := scoreRecipient(tokens, r)
		if score > 0 {
			out = append(out, Candidate{Recipient: r, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scoreRecipient(tokens []string, r Recipient) int {
	nameParts := strings.Fields(strings.ToLower(r.FullName))
	relationship := strings.ToLower(r.Relationship)

	best := 0
	for _, tok := range tokens {
		for _, part := range nameParts {
			if tok == part {
				return scoreExactName
			}
			if len(tok) > 2 && strings.Contains(part, tok) && best < scorePartialName {
				best = scorePartialName
			}
		}
		if canonical, ok := relationshipKeywords[tok]; ok && canonical == relationship && best < scoreRelationship {
			best = scoreRelationship
		}
	}
	return best
}

func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'')
	})

	tokens := fields[:0:0]
	for _, f := range fields {
		f = strings.TrimSuffix(f, "'s")
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
