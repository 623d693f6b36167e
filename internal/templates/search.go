package templates

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/extract"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

var ErrNoMatch = errors.New("no matching template")

type Match struct {
	Template nl2sql.QueryTemplate `json:"template"`
	Score    float64              `json:"score"`
}

// Searcher ranks templates for a question. Implementations return
// ErrNoMatch when nothing scores above their threshold.
type Searcher interface {
	Search(ctx context.Context, question string, topK int) ([]Match, error)
}

var searchStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "for": {}, "to": {}, "in": {}, "on": {}, "by": {},
	"me": {}, "my": {}, "our": {}, "show": {}, "list": {}, "give": {}, "get": {}, "find": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"do": {}, "does": {}, "did": {}, "all": {}, "and": {}, "or": {}, "with": {}, "please": {},
	"can": {}, "you": {}, "i": {}, "we": {}, "from": {}, "at": {}, "there": {},
}

// terms reduces text to comparable search terms: normalized, stop words and
// bare numbers dropped, simple plurals folded.
func terms(text string) []string {
	tokens := extract.Tokens(strings.ReplaceAll(text, "_", " "))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := searchStopWords[token]; stop {
			continue
		}
		if isNumeric(token) {
			continue
		}
		out = append(out, stem(token))
	}
	return out
}

func isNumeric(token string) bool {
	for _, r := range token {
		if (r < '0' || r > '9') && r != '-' && r != '/' && r != '.' && r != ',' && r != ':' {
			return false
		}
	}
	return token != ""
}

func stem(token string) string {
	switch {
	case len(token) > 4 && strings.HasSuffix(token, "ies"):
		return token[:len(token)-3] + "y"
	case len(token) > 4 && strings.HasSuffix(token, "s") && !strings.HasSuffix(token, "ss"):
		return token[:len(token)-1]
	}
	return token
}

type document struct {
	template  nl2sql.QueryTemplate
	terms     map[string]struct{}
	questions []string
}

// LocalIndex scores templates by the idf-weighted share of question terms
// found in a template's name, description and example questions. A question
// equal to an example question scores 1.
type LocalIndex struct {
	docs     []document
	df       map[string]int
	minScore float64
}

func NewLocalIndex(templates []nl2sql.QueryTemplate, minScore float64) *LocalIndex {
	index := &LocalIndex{df: map[string]int{}, minScore: minScore}
	for _, tpl := range templates {
		doc := document{template: tpl, terms: map[string]struct{}{}}
		texts := append([]string{tpl.Name, tpl.Description}, tpl.Questions...)
		for _, text := range texts {
			for _, term := range terms(text) {
				doc.terms[term] = struct{}{}
			}
		}
		for _, question := range tpl.Questions {
			doc.questions = append(doc.questions, strings.Join(terms(question), " "))
		}
		for term := range doc.terms {
			index.df[term]++
		}
		index.docs = append(index.docs, doc)
	}
	return index
}

func (i *LocalIndex) idf(term string) float64 {
	return math.Log(1 + float64(len(i.docs))/(float64(i.df[term])+0.5))
}

func (i *LocalIndex) Search(_ context.Context, question string, topK int) ([]Match, error) {
	queryTerms := unique(terms(question))
	if len(queryTerms) == 0 || len(i.docs) == 0 {
		return nil, ErrNoMatch
	}
	joined := strings.Join(terms(question), " ")

	var total float64
	for _, term := range queryTerms {
		total += i.idf(term)
	}
	matches := make([]Match, 0, len(i.docs))
	for _, doc := range i.docs {
		score := 0.0
		for _, question := range doc.questions {
			if question == joined {
				score = 1
				break
			}
		}
		if score < 1 {
			var hit float64
			for _, term := range queryTerms {
				if doc.contains(term) {
					hit += i.idf(term)
				}
			}
			score = hit / total
		}
		if score >= i.minScore && score > 0 {
			matches = append(matches, Match{Template: doc.template, Score: score})
		}
	}
	if len(matches) == 0 {
		return nil, ErrNoMatch
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (d document) contains(term string) bool {
	if _, ok := d.terms[term]; ok {
		return true
	}
	if len(term) < 5 {
		return false
	}
	for candidate := range d.terms {
		if len(candidate) >= 5 && extract.Similarity(term, candidate) >= 0.85 {
			return true
		}
	}
	return false
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
