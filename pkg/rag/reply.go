package rag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pdfchat/pkg/domain"
)

type rawReply struct {
	Reply          *string `json:"reply"`
	ActionRequired *struct {
		MoreContext string `json:"moreContext"`
	} `json:"actionRequired"`
	References []struct {
		FileName *string `json:"filename"`
		Page     flexInt `json:"page"`
		Comment  string  `json:"comment"`
	} `json:"references"`
	SuggestedQueries []string `json:"suggestedQueries"`
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("page %q is not a number", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n != float64(int(n)) {
		return fmt.Errorf("page %v is not an integer", n)
	}
	*f = flexInt(n)
	return nil
}

// ParseReply strictly decodes the model's JSON answer. A single surrounding
// Markdown code fence is tolerated. References and SuggestedQueries are
// always non-nil in the result.
func ParseReply(raw string) (domain.AIReply, error) {
	fail := func(err error) (domain.AIReply, error) {
		return domain.AIReply{}, &MalformedReplyError{Raw: raw, Err: err}
	}
	body := stripCodeFence(raw)
	if body == "" {
		return fail(errors.New("empty output"))
	}
	var parsed rawReply
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return fail(err)
	}
	if parsed.Reply == nil || strings.TrimSpace(*parsed.Reply) == "" {
		return fail(errors.New(`"reply" is required`))
	}

	reply := domain.AIReply{
		Reply:            *parsed.Reply,
		References:       make([]domain.Reference, 0, len(parsed.References)),
		SuggestedQueries: make([]string, 0, len(parsed.SuggestedQueries)),
	}
	if parsed.ActionRequired != nil && strings.TrimSpace(parsed.ActionRequired.MoreContext) != "" {
		reply.ActionRequired = &domain.ActionRequired{MoreContext: strings.TrimSpace(parsed.ActionRequired.MoreContext)}
	}
	for i, ref := range parsed.References {
		if ref.FileName == nil || strings.TrimSpace(*ref.FileName) == "" {
			return fail(fmt.Errorf("references[%d]: filename is required", i))
		}
		if ref.Page < 0 {
			return fail(fmt.Errorf("references[%d]: page must not be negative", i))
		}
		reply.References = append(reply.References, domain.Reference{
			FileName: strings.TrimSpace(*ref.FileName),
			Page:     int(ref.Page),
			Comment:  ref.Comment,
		})
	}
	for _, q := range parsed.SuggestedQueries {
		if q = strings.TrimSpace(q); q != "" {
			reply.SuggestedQueries = append(reply.SuggestedQueries, q)
		}
	}
	return reply, nil
}

// stripCodeFence removes one ```/```json fence around the whole output.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		lang := strings.TrimSpace(s[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[\"") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(s)
}
