package rag

import (
	"strings"
	"unicode"

	"pdfchat/pkg/domain"
)

type labelRule struct {
	label    domain.Label
	keywords []string
}

// labelRules are checked in order; the first rule with a matching keyword wins.
var labelRules = []labelRule{
	{domain.LabelOverview, []string{"introduction", "summary"}},
	{domain.LabelMethodology, []string{"method", "methodology"}},
	{domain.LabelResults, []string{"result", "findings"}},
	{domain.LabelConclusion, []string{"conclusion", "discussion"}},
}

// Label tags a passage by keyword. Tokens are lower-cased runs of letters and
// digits; a trailing plural "s" is ignored, so "Results" matches "result".
func Label(text string) domain.Label {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = struct{}{}
		if len(tok) > 1 && strings.HasSuffix(tok, "s") {
			tokens[strings.TrimSuffix(tok, "s")] = struct{}{}
		}
	}
	for _, rule := range labelRules {
		for _, kw := range rule.keywords {
			if _, ok := tokens[kw]; ok {
				return rule.label
			}
		}
	}
	return domain.LabelNoContext
}
