// Package assistant answers questions from a JSON FAQ knowledge base.
//
// Matching is lexical: the question is compared with every entry's question
// and aliases, and the best entry wins when its score reaches the configured
// threshold. Otherwise the knowledge base's fallback answer is returned.
package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"linqyard/internal/models"
)

const defaultFallbackAnswer = "I could not find any relevant entries in the knowledge base for that question. " +
	"Please refine the query or update the FAQ content."

// SourceFile prefixes the source identifier of every matched entry.
const SourceFile = "faq.json"

// ErrKnowledgeBase wraps every load failure.
var ErrKnowledgeBase = errors.New("knowledge base error")

// Entry is one FAQ item.
type Entry struct {
	ID          string
	Question    string
	Aliases     []string
	Answer      string
	Instruction string
	Clarify     string
	Links       []models.ChatLink
}

// KnowledgeBase is immutable after load and safe for concurrent use.
type KnowledgeBase struct {
	entries             []Entry
	fallbackAnswer      string
	fallbackInstruction string
	fallbackLinks       []models.ChatLink
}

// LoadKnowledgeBase reads and parses the knowledge base file at path.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: knowledge base file '%s' not found", ErrKnowledgeBase, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrKnowledgeBase, path, err)
	}

	kb, err := ParseKnowledgeBase(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if len(kb.entries) == 0 {
		slog.Warn("Knowledge base loaded with zero FAQ entries", "path", path)
	}
	slog.Info("Knowledge base loaded", "entries", len(kb.entries), "path", path)
	return kb, nil
}

// ParseKnowledgeBase builds a knowledge base from JSON. Malformed entries and
// links are skipped; a missing or malformed fallback block uses the default answer.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrKnowledgeBase, err)
	}

	var items []any
	if v, ok := raw["faqs"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: knowledge base JSON must contain a 'faqs' array", ErrKnowledgeBase)
		}
		items = list
	}

	kb := &KnowledgeBase{
		entries:        make([]Entry, 0, len(items)),
		fallbackAnswer: defaultFallbackAnswer,
		fallbackLinks:  []models.ChatLink{},
	}

	for idx, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			slog.Warn("Skipping FAQ entry: expected object", "index", idx, "type", fmt.Sprintf("%T", item))
			continue
		}
		kb.entries = append(kb.entries, parseEntry(obj, idx))
	}

	if fb, ok := raw["fallback"].(map[string]any); ok {
		if ask := strings.TrimSpace(stringify(fb["ask"])); ask != "" {
			kb.fallbackAnswer = ask
		}
		kb.fallbackInstruction = optionalString(fb["instruction"])
		if link, ok := parseLink(fb["contact"]); ok {
			kb.fallbackLinks = append(kb.fallbackLinks, link)
		}
	}

	return kb, nil
}

// Len returns the number of loaded entries.
func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}

func parseEntry(obj map[string]any, idx int) Entry {
	id := stringify(obj["id"])
	if id == "" {
		id = fmt.Sprintf("entry_%03d", idx)
	}

	e := Entry{
		ID:          id,
		Question:    strings.TrimSpace(stringify(obj["question"])),
		Answer:      strings.TrimSpace(stringify(obj["answer"])),
		Instruction: optionalString(obj["instruction"]),
		Clarify:     optionalString(obj["clarify"]),
		Aliases:     []string{},
		Links:       []models.ChatLink{},
	}
	if aliases, ok := obj["aliases"].([]any); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok && strings.TrimSpace(s) != "" {
				e.Aliases = append(e.Aliases, strings.TrimSpace(s))
			}
		}
	}
	if links, ok := obj["links"].([]any); ok {
		for _, l := range links {
			if link, ok := parseLink(l); ok {
				e.Links = append(e.Links, link)
			}
		}
	}
	return e
}

// parseLink accepts an object with non-empty label and url.
func parseLink(v any) (models.ChatLink, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return models.ChatLink{}, false
	}
	label := strings.TrimSpace(stringify(obj["label"]))
	url := strings.TrimSpace(stringify(obj["url"]))
	if label == "" || url == "" {
		return models.ChatLink{}, false
	}
	return models.ChatLink{Label: label, URL: url}, true
}

// stringify renders a scalar JSON value the way it was written; null and
// false-y empties become "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		if t == math.Trunc(t) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func optionalString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// similarity scores two lower-cased strings in [0, 1.15].
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}

	intersection := 0
	for tok := range aTokens {
		if _, ok := bTokens[tok]; ok {
			intersection++
		}
	}
	union := len(aTokens) + len(bTokens) - intersection
	jaccard := float64(intersection) / float64(union)

	prefix := 0.0
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		prefix = 1.0
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	lengthPenalty := float64(min(la, lb)) / float64(max(la, lb))

	return math.Max(jaccard, 0.6*lengthPenalty+0.4*jaccard+0.15*prefix)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func (e *Entry) score(question string) float64 {
	best := similarity(question, strings.ToLower(e.Question))
	for _, alias := range e.Aliases {
		best = math.Max(best, similarity(question, strings.ToLower(alias)))
	}
	return best
}

// match returns the best scoring entry, or nil when the question is blank or
// there are no entries.
func (kb *KnowledgeBase) match(question string) (*Entry, float64) {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return nil, 0
	}

	var best *Entry
	bestScore := 0.0
	for i := range kb.entries {
		s := kb.entries[i].score(q)
		if best == nil || s > bestScore {
			best, bestScore = &kb.entries[i], s
		}
	}
	return best, bestScore
}
