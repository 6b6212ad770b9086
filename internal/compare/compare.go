// Package compare computes field-level differences between two payloads
// of the same kind for human review. It never mutates its inputs.
package compare

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"comicsdb/api/internal/store"
)

type Op string

const (
	OpEqual  Op = "equal"
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

type Segment struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

type FieldChange struct {
	Name      string    `json:"name"`
	Old       string    `json:"old,omitempty"`
	New       string    `json:"new,omitempty"`
	Added     []string  `json:"added,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Diff      []Segment `json:"diff,omitempty"`
	MovedFrom string    `json:"movedFrom,omitempty"`
}

type Result struct {
	Fields    []FieldChange `json:"fields"`
	IsChanged bool          `json:"isChanged"`
}

// Field returns the change for name, if any.
func (r Result) Field(name string) (FieldChange, bool) {
	for _, change := range r.Fields {
		if change.Name == name {
			return change, true
		}
	}
	return FieldChange{}, false
}

// Move describes a value that a migration relocates from one field into
// another, such as a barcode lifted out of free-text notes.
type Move struct {
	Kind  store.Kind
	From  string
	To    string
	Label string
}

var DefaultMoves = []Move{
	{Kind: store.KindIssue, From: "notes", To: "barcode", Label: "barcode"},
}

type Engine struct {
	moves []Move
	dmp   *diffmatchpatch.DiffMatchPatch
}

func New(moves []Move) *Engine {
	return &Engine{moves: moves, dmp: diffmatchpatch.New()}
}

// Changes compares old with new. A nil old means the payload is being
// added, so every non-empty field is reported as new.
func (e *Engine) Changes(old, new store.Data) Result {
	newFields := new.Fields()
	if old == nil {
		return e.added(newFields)
	}

	oldByName := map[string]store.Field{}
	for _, field := range old.Fields() {
		oldByName[field.Name] = field
	}
	newByName := map[string]store.Field{}
	for _, field := range newFields {
		newByName[field.Name] = field
	}

	suppressed := map[string]bool{}
	moved := map[string]string{}
	for _, move := range e.moves {
		if move.Kind != new.Kind() {
			continue
		}
		if e.isMove(move, oldByName, newByName) {
			moved[move.To] = move.From
			suppressed[move.From] = true
		}
	}

	var result Result
	for _, field := range newFields {
		before := oldByName[field.Name]
		if suppressed[field.Name] {
			continue
		}
		change, changed := e.compareField(before, field)
		if !changed {
			continue
		}
		change.MovedFrom = moved[field.Name]
		result.Fields = append(result.Fields, change)
	}
	result.IsChanged = len(result.Fields) > 0
	return result
}

func (e *Engine) added(fields []store.Field) Result {
	var result Result
	for _, field := range fields {
		switch field.Kind {
		case store.FieldSet:
			if len(field.Set) == 0 {
				continue
			}
			result.Fields = append(result.Fields, FieldChange{Name: field.Name, Added: uniqueSorted(field.Set)})
		default:
			if field.Value == "" || field.Value == "false" || field.Value == "0" {
				continue
			}
			result.Fields = append(result.Fields, FieldChange{Name: field.Name, New: field.Value})
		}
	}
	result.IsChanged = len(result.Fields) > 0
	return result
}

func (e *Engine) compareField(old, new store.Field) (FieldChange, bool) {
	change := FieldChange{Name: new.Name}
	switch new.Kind {
	case store.FieldSet:
		added, removed := setDelta(old.Set, new.Set)
		if len(added) == 0 && len(removed) == 0 {
			return change, false
		}
		change.Added = added
		change.Removed = removed
		return change, true
	case store.FieldText:
		if old.Value == new.Value {
			return change, false
		}
		change.Old = old.Value
		change.New = new.Value
		change.Diff = e.textDiff(old.Value, new.Value)
		return change, true
	default:
		if old.Value == new.Value {
			return change, false
		}
		change.Old = old.Value
		change.New = new.Value
		return change, true
	}
}

func (e *Engine) textDiff(old, new string) []Segment {
	diffs := e.dmp.DiffMain(old, new, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	segments := make([]Segment, 0, len(diffs))
	for _, diff := range diffs {
		op := OpEqual
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		}
		segments = append(segments, Segment{Op: op, Text: diff.Text})
	}
	return segments
}

// isMove holds when the destination gained a value that the source field
// used to contain, and the source changed only by losing it.
func (e *Engine) isMove(move Move, old, new map[string]store.Field) bool {
	value := strings.TrimSpace(new[move.To].Value)
	if value == "" || old[move.To].Value == new[move.To].Value {
		return false
	}
	before := old[move.From].Value
	after := new[move.From].Value
	if !strings.Contains(before, value) || strings.Contains(after, value) {
		return false
	}
	stripped := strings.Replace(before, value, "", 1)
	return normalizeRemainder(stripped, move.Label) == normalizeRemainder(after, move.Label)
}

func normalizeRemainder(text, label string) string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, word := range fields {
		trimmed := strings.ToLower(strings.Trim(word, ":;,.-"))
		if label != "" && trimmed == label {
			continue
		}
		if strings.Trim(word, ":;,.-") == "" {
			continue
		}
		out = append(out, word)
	}
	return strings.Join(out, " ")
}

func setDelta(old, new []string) (added, removed []string) {
	oldSet := map[string]bool{}
	for _, value := range old {
		oldSet[value] = true
	}
	newSet := map[string]bool{}
	for _, value := range new {
		newSet[value] = true
	}
	for _, value := range uniqueSorted(new) {
		if !oldSet[value] {
			added = append(added, value)
		}
	}
	for _, value := range uniqueSorted(old) {
		if !newSet[value] {
			removed = append(removed, value)
		}
	}
	return added, removed
}

func uniqueSorted(values []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
