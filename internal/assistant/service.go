package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"linqyard/internal/models"
)

// DefaultMatchThreshold is the lowest score that still counts as a match.
const DefaultMatchThreshold = 0.45

const (
	ResponseTypeText      = "text"
	ResponseTypeWithLinks = "text_with_links"
)

var (
	// ErrUnavailable is returned by Chat when no knowledge base is loaded.
	ErrUnavailable = errors.New("assistant unavailable")
	// ErrInvalidRequest wraps chat request validation failures.
	ErrInvalidRequest = errors.New("invalid chat request")
)

// Answer is the result of matching a question against the knowledge base.
type Answer struct {
	Text        string
	Instruction string
	Clarify     string
	Links       []models.ChatLink
	Sources     []models.ChatSource
}

// Ask finds the best entry for question. maxSources <= 0 keeps every source.
func (kb *KnowledgeBase) Ask(question string, maxSources int, threshold float64) Answer {
	entry, score := kb.match(question)
	if entry == nil || score < threshold {
		slog.Info("No knowledge base match", "question", question, "score", score)
		return Answer{
			Text:        kb.fallbackAnswer,
			Instruction: kb.fallbackInstruction,
			Links:       kb.fallbackLinks,
			Sources:     []models.ChatSource{},
		}
	}

	rounded := math.Round(score*1000) / 1000
	sources := []models.ChatSource{{
		Source: fmt.Sprintf("%s::%s", SourceFile, entry.ID),
		Score:  &rounded,
	}}
	if maxSources > 0 && len(sources) > maxSources {
		sources = sources[:maxSources]
	}

	text := entry.Answer
	if text == "" {
		text = kb.fallbackAnswer
	}
	return Answer{
		Text:        text,
		Instruction: entry.Instruction,
		Clarify:     entry.Clarify,
		Links:       entry.Links,
		Sources:     sources,
	}
}

// Service serves chat requests from an optional knowledge base.
type Service struct {
	kb        *KnowledgeBase
	loadErr   error
	threshold float64
	rephraser Rephraser
}

// Option configures a Service.
type Option func(*Service)

// WithRephraser rewrites every template answer through r. A failed rephrase
// keeps the template.
func WithRephraser(r Rephraser) Option {
	return func(s *Service) {
		s.rephraser = r
	}
}

// NewService loads the configured knowledge base. A disabled or unreadable
// knowledge base is not fatal: the service starts and Chat reports ErrUnavailable.
func NewService(cfg models.AssistantConfig) *Service {
	s := &Service{threshold: cfg.MatchThreshold}
	if s.threshold <= 0 {
		s.threshold = DefaultMatchThreshold
	}

	switch {
	case !cfg.Enabled:
		s.loadErr = errors.New("assistant is disabled")
	case cfg.KnowledgeFile == "":
		s.loadErr = errors.New("knowledge base file is not configured")
	default:
		kb, err := LoadKnowledgeBase(cfg.KnowledgeFile)
		if err != nil {
			slog.Error("Failed to load knowledge base", "path", cfg.KnowledgeFile, "error", err)
			s.loadErr = err
		}
		s.kb = kb
	}

	if cfg.Enabled && cfg.Rephrase.Enabled && s.loadErr == nil {
		r, err := NewOpenAIRephraser(cfg.Rephrase)
		if err != nil {
			slog.Error("Failed to configure answer rephrasing", "error", err)
			s.loadErr = err
			s.kb = nil
		} else {
			s.rephraser = r
		}
	}
	return s
}

// NewServiceWithKnowledgeBase wraps an already parsed knowledge base.
func NewServiceWithKnowledgeBase(kb *KnowledgeBase, threshold float64, opts ...Option) *Service {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	s := &Service{kb: kb, threshold: threshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether a knowledge base is loaded.
func (s *Service) Ready() error {
	if s == nil || s.kb == nil {
		if s != nil && s.loadErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, s.loadErr)
		}
		return ErrUnavailable
	}
	return nil
}

// Chat validates req and answers it with the template answer of the best entry,
// rephrased when a rephraser is configured.
func (s *Service) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.Ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	answer := s.kb.Ask(req.Question, req.References(), s.threshold)
	text := answer.Text
	if s.rephraser != nil {
		rephrased, err := s.rephraser.Rephrase(ctx, req.Question, answer)
		if err != nil {
			slog.Warn("Rephrase failed, using template answer", "error", err)
		} else if rephrased != "" {
			text = rephrased
		}
	}

	responseType := ResponseTypeText
	if len(answer.Links) > 0 {
		responseType = ResponseTypeWithLinks
	}
	links := answer.Links
	if links == nil {
		links = []models.ChatLink{}
	}

	return &models.ChatResponse{
		Answer:         text,
		Sources:        answer.Sources,
		ConversationID: req.ConversationID,
		ResponseType:   responseType,
		Links:          links,
	}, nil
}
