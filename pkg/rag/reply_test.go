package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyValid(t *testing.T) {
	reply, err := ParseReply(validReply)
	require.NoError(t, err)
	assert.Equal(t, "Transformers help.", reply.Reply)
	require.Len(t, reply.References, 1)
	assert.Equal(t, "a.pdf", reply.References[0].FileName)
	assert.Equal(t, 2, reply.References[0].Page)
	assert.Equal(t, []string{"What about RNNs?"}, reply.SuggestedQueries)
	assert.Nil(t, reply.ActionRequired)
}

func TestParseReplyDefaults(t *testing.T) {
	reply, err := ParseReply(`{"reply":"Not in the passages.","actionRequired":{"moreContext":" attention heads "},"suggestedQueries":["", "  "]}`)
	require.NoError(t, err)
	assert.NotNil(t, reply.References)
	assert.Empty(t, reply.References)
	assert.NotNil(t, reply.SuggestedQueries)
	assert.Empty(t, reply.SuggestedQueries)
	require.NotNil(t, reply.ActionRequired)
	assert.Equal(t, "attention heads", reply.ActionRequired.MoreContext)
}

func TestParseReplyCodeFence(t *testing.T) {
	for _, raw := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```",
		"  " + validReply + "\n",
	} {
		reply, err := ParseReply(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "Transformers help.", reply.Reply)
	}
}

func TestParseReplyPageForms(t *testing.T) {
	reply, err := ParseReply(`{"reply":"x","references":[{"filename":"a","page":3},{"filename":"b","page":null},{"filename":"c","page":""},{"filename":"d"}]}`)
	require.NoError(t, err)
	pages := make([]int, 0, len(reply.References))
	for _, ref := range reply.References {
		pages = append(pages, ref.Page)
	}
	assert.Equal(t, []int{3, 0, 0, 0}, pages)
}

func TestParseReplyMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"prose":            "Sure! Here is the answer.",
		"missing reply":    `{"references":[]}`,
		"blank reply":      `{"reply":"   "}`,
		"missing filename": `{"reply":"x","references":[{"page":1}]}`,
		"negative page":    `{"reply":"x","references":[{"filename":"a","page":-2}]}`,
		"fractional page":  `{"reply":"x","references":[{"filename":"a","page":1.5}]}`,
		"word page":        `{"reply":"x","references":[{"filename":"a","page":"two"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReply(raw)
			var malformed *MalformedReplyError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, raw, malformed.Raw)
		})
	}
}
