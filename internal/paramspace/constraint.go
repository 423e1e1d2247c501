package paramspace

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hpcforge/paramrun/internal/models"
)

// ParseConstraint parses a linear expression over parameter names using
// `+ - * /`, numeric literals, and exactly one comparator `<=` or `>=`.
// The grammar is tokenized left to right; the token type order must match
// (term operator)* term comparator (term operator)* term, scanning and
// classifying each token and rejecting on the first mismatch.
func ParseConstraint(raw string) (*models.Constraint, error) {
	tokens, comparatorIdx, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	if comparatorIdx < 0 {
		return nil, fmt.Errorf("missing comparator (<= or >=)")
	}

	lhs := tokens[:comparatorIdx]
	comparator := tokens[comparatorIdx]
	rhs := tokens[comparatorIdx+1:]

	if err := validateSide(lhs); err != nil {
		return nil, fmt.Errorf("left-hand side: %w", err)
	}
	if err := validateSide(rhs); err != nil {
		return nil, fmt.Errorf("right-hand side: %w", err)
	}

	return &models.Constraint{
		Raw:        raw,
		LHS:        lhs,
		Comparator: models.Comparator(comparator.Text),
		RHS:        rhs,
	}, nil
}

// validateSide enforces (term operator)* term: alternating term/operator,
// starting and ending on a term.
func validateSide(tokens []models.ConstraintToken) error {
	if len(tokens) == 0 {
		return fmt.Errorf("empty expression")
	}
	if len(tokens)%2 != 1 {
		return fmt.Errorf("expression must end on a term, got %d tokens", len(tokens))
	}
	for i, t := range tokens {
		wantTerm := i%2 == 0
		isTerm := t.Kind == models.TokenNumber || t.Kind == models.TokenVariable
		if wantTerm != isTerm {
			return fmt.Errorf("unexpected token %q at position %d", t.Text, i)
		}
	}
	return nil
}

func tokenize(raw string) ([]models.ConstraintToken, int, error) {
	var tokens []models.ConstraintToken
	comparatorIdx := -1

	i := 0
	for i < len(raw) {
		c := raw[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, models.ConstraintToken{Kind: models.TokenOperator, Text: string(c)})
			i++
		case c == '<' || c == '>':
			if i+1 >= len(raw) || raw[i+1] != '=' {
				return nil, -1, fmt.Errorf("comparator must be <= or >=, got %q", string(c))
			}
			if comparatorIdx >= 0 {
				return nil, -1, fmt.Errorf("more than one comparator")
			}
			op := raw[i : i+2]
			tokens = append(tokens, models.ConstraintToken{Kind: models.TokenComparator, Text: op})
			comparatorIdx = len(tokens) - 1
			i += 2
		case unicode.IsDigit(rune(c)) || c == '.':
			j := i
			for j < len(raw) && (unicode.IsDigit(rune(raw[j])) || raw[j] == '.') {
				j++
			}
			text := raw[i:j]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, -1, fmt.Errorf("invalid number %q", text)
			}
			tokens = append(tokens, models.ConstraintToken{Kind: models.TokenNumber, Text: text, Num: num})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(raw) && isIdentRune(rune(raw[j])) {
				j++
			}
			text := raw[i:j]
			tokens = append(tokens, models.ConstraintToken{Kind: models.TokenVariable, Text: text, Ident: text})
			i = j
		default:
			return nil, -1, fmt.Errorf("unexpected character %q", string(c))
		}
	}

	if len(strings.TrimSpace(raw)) == 0 {
		return nil, -1, fmt.Errorf("empty constraint")
	}

	return tokens, comparatorIdx, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
