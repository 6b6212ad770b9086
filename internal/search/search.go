package search

import (
	"fmt"
	"strings"

	"comicsdb/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string     `json:"id"`
	Kind     store.Kind `json:"kind"`
	EntityID int64      `json:"entityId"`
	Label    string     `json:"label"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text           string
	Kind           store.Kind // empty = all kinds
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Document is what gets indexed for one canonical record.
type Document struct {
	ID       string            `json:"id"`
	Kind     store.Kind        `json:"kind"`
	EntityID int64             `json:"entityId"`
	Label    string            `json:"label"`
	Deleted  bool              `json:"deleted"`
	Text     string            `json:"text"`
	Fields   map[string]string `json:"fields"`
}

// DocumentID is the primary key of a record in the index. Meilisearch ids
// only allow alphanumerics, hyphens and underscores.
func DocumentID(kind store.Kind, id int64) string {
	return fmt.Sprintf("%s-%d", kind, id)
}

// NewDocument flattens a record into its index document. Text fields are
// concatenated into Text for full-text matching.
func NewDocument(rec store.Record) Document {
	doc := Document{
		ID:       DocumentID(rec.Kind, rec.ID),
		Kind:     rec.Kind,
		EntityID: rec.ID,
		Deleted:  rec.Deleted,
		Fields:   map[string]string{},
	}
	if rec.Data == nil {
		return doc
	}
	doc.Label = rec.Data.Label()
	var text []string
	for _, field := range rec.Data.Fields() {
		switch field.Kind {
		case store.FieldSet:
			if len(field.Set) > 0 {
				doc.Fields[field.Name] = strings.Join(field.Set, "; ")
			}
		case store.FieldText:
			if field.Value != "" {
				text = append(text, field.Value)
			}
		default:
			if field.Value != "" {
				doc.Fields[field.Name] = field.Value
			}
		}
	}
	doc.Text = strings.Join(text, "\n")
	return doc
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
