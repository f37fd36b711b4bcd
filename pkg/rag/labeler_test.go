package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdfchat/pkg/domain"
)

func TestLabel(t *testing.T) {
	cases := []struct {
		text string
		want domain.Label
	}{
		{"1. Introduction", domain.LabelOverview},
		{"In SUMMARY, we propose", domain.LabelOverview},
		{"Our method relies on sampling", domain.LabelMethodology},
		{"Methodology: surveys", domain.LabelMethodology},
		{"The results were significant", domain.LabelResults},
		{"Key findings below", domain.LabelResults},
		{"Discussion of limitations", domain.LabelConclusion},
		{"Conclusions and future work", domain.LabelConclusion},
		{"Methods section", domain.LabelMethodology},
		{"The resultant force", domain.LabelNoContext},
		{"", domain.LabelNoContext},
		{"!!! ???", domain.LabelNoContext},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Label(tc.text), "Label(%q)", tc.text)
	}
}

func TestLabelPrecedence(t *testing.T) {
	assert.Equal(t, domain.LabelOverview, Label("This introduction describes the method."))
	assert.Equal(t, domain.LabelMethodology, Label("The method produced results; see the conclusion."))
	assert.Equal(t, domain.LabelResults, Label("Results and discussion"))
}

func TestLabelTotality(t *testing.T) {
	inputs := []string{"", " ", "\x00", "résumé", "数据", "introduction\nmethod", "12345", "s"}
	for _, in := range inputs {
		got := Label(in)
		assert.True(t, got.Valid(), "Label(%q) = %q is not an enumerated label", in, got)
	}
}
