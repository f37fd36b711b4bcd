package domain

import "time"

type DocumentStatus string

const (
	StatusReady        DocumentStatus = "ready"
	StatusFailed       DocumentStatus = "failed"
	StatusInconsistent DocumentStatus = "inconsistent"
)

// Label is the coarse topical tag attached to every passage.
type Label string

const (
	LabelOverview    Label = "Overview"
	LabelMethodology Label = "Methodology"
	LabelResults     Label = "Results"
	LabelConclusion  Label = "Conclusion"
	LabelNoContext   Label = "No Context"
)

// Labels lists every label in precedence order.
var Labels = []Label{LabelOverview, LabelMethodology, LabelResults, LabelConclusion, LabelNoContext}

// Valid reports whether l is one of the enumerated labels.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Document is one uploaded file owned by an owner scope key.
type Document struct {
	ID           string         `json:"id"`
	OwnerKey     string         `json:"ownerKey"`
	FileName     string         `json:"fileName"`
	StoragePath  string         `json:"storagePath"`
	Title        string         `json:"title,omitempty"`
	Questions    []string       `json:"questions"`
	PassageCount int            `json:"passageCount"`
	SizeBytes    int64          `json:"sizeBytes"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Passage is a chunk of a document's text stored with retrieval metadata.
type Passage struct {
	ID        string    `json:"id"`
	OwnerKey  string    `json:"ownerScopeKey"`
	FileName  string    `json:"fileName"`
	Ordinal   int       `json:"ordinal"`
	Page      int       `json:"page,omitempty"`
	Label     Label     `json:"label"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter restricts a similarity search to exact owner and file matches.
// An empty FileName means every file of the owner.
type Filter struct {
	OwnerKey string
	FileName string
}

// Matches reports whether p falls inside the filter.
func (f Filter) Matches(p Passage) bool {
	if p.OwnerKey != f.OwnerKey {
		return false
	}
	return f.FileName == "" || p.FileName == f.FileName
}

// Scope is the retrieval partition for one request.
type Scope struct {
	OwnerKey  string   `json:"ownerKey"`
	FileNames []string `json:"fileNames"`
}

type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}

// RetrievalResult is the ranked output of one retrieval.
type RetrievalResult struct {
	Query    string          `json:"query"`
	Passages []ScoredPassage `json:"passages"`
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type Turn struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// ChatSession is one saved conversation; Title doubles as its storage key.
type ChatSession struct {
	Title         string    `json:"title"`
	FileNames     []string  `json:"fileNames"`
	NewChat       bool      `json:"newChat"`
	Turns         []Turn    `json:"chatHistory"`
	ContextWindow int       `json:"contextWindow"`
	Model         string    `json:"model"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ActionRequired struct {
	MoreContext string `json:"moreContext,omitempty"`
}

type Reference struct {
	FileName string `json:"filename"`
	Page     int    `json:"page"`
	Comment  string `json:"comment"`
}

// AIReply is the structured model answer. References and SuggestedQueries
// are never nil.
type AIReply struct {
	Reply            string          `json:"reply"`
	ActionRequired   *ActionRequired `json:"actionRequired,omitempty"`
	References       []Reference     `json:"references"`
	SuggestedQueries []string        `json:"suggestedQueries"`
}
