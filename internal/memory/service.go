package memory

import (
	"context"
	"log"
	"strings"
	"time"
)

// DefaultDedupeThreshold is used by explicit adds and whenever an
// auto-capture request carries no parseable threshold.
const DefaultDedupeThreshold = 0.9

// Auto-capture thresholds are clamped into this range before reaching
// the store.
const (
	minDedupeThreshold = 0.5
	maxDedupeThreshold = 0.99
)

// FallbackOwner is used when no identity could be resolved at all.
const FallbackOwner = "guest"

// Service composes the classifier, the embedder-backed store, and the
// identity-resolution rules into the memory workflows exposed over HTTP.
type Service struct {
	store      *Store
	classifier *Classifier
}

// NewService wires a memory service from its parts.
func NewService(store *Store, classifier *Classifier) *Service {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Service{store: store, classifier: classifier}
}

// AddMemory stores an explicit fact. No classification step: the caller
// already decided the text is worth keeping. Dedup uses the fixed
// default threshold.
func (s *Service) AddMemory(ctx context.Context, owner, text string, tags []string, createdAt time.Time) (*AddOutcome, error) {
	return s.store.Add(ctx, owner, text, tags, createdAt, DefaultDedupeThreshold)
}

// SearchMemories ranks the owner's records against query, or browses the
// most recent ones when query is empty.
func (s *Service) SearchMemories(ctx context.Context, owner, query string, topK int) ([]SearchResult, error) {
	return s.store.Search(ctx, owner, query, topK)
}

// DeleteMemory removes a single record.
func (s *Service) DeleteMemory(ctx context.Context, owner, id string) error {
	return s.store.Delete(ctx, owner, id)
}

// ClearMemories removes all records for owner, returning the count.
func (s *Service) ClearMemories(ctx context.Context, owner string) (int64, error) {
	return s.store.Clear(ctx, owner)
}

// AutoCaptureRequest carries one utterance through the auto-capture
// workflow. Owner and HeaderOwner are untrusted free text; both are
// normalized during resolution.
type AutoCaptureRequest struct {
	Owner       string
	HeaderOwner string
	Utterance   string
	// SuggestText, when non-empty, bypasses the classifier: the
	// utterance is treated as memory-worthy with this exact summary.
	SuggestText string
	SuggestTags []string
	// DedupeThreshold overrides the default when set; the value is
	// clamped to [0.5, 0.99]. nil falls back to 0.9.
	DedupeThreshold *float64
}

// AutoCaptureResult is the structured outcome of one auto-capture call.
// "Not worthy" and "empty utterance" are successful outcomes, reported
// through ShouldSave/Reason rather than the error channel; so is a
// skipped duplicate (ShouldSave true, Saved false, DupID/Score set).
type AutoCaptureResult struct {
	Owner      string   `json:"userId"`
	ShouldSave bool     `json:"should_save"`
	Saved      bool     `json:"saved"`
	Reason     string   `json:"reason,omitempty"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	ID         string   `json:"id,omitempty"`
	Skipped    string   `json:"skipped,omitempty"`
	DupID      string   `json:"dup_id,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

// ResolveOwner applies the identity precedence rule: explicit caller
// owner, then transport-header owner, then an identity inferred from the
// utterance, then the "guest" fallback. The result is always normalized.
func (s *Service) ResolveOwner(explicit, header, utterance string) string {
	for _, candidate := range []string{explicit, header} {
		if normalized := NormalizeOwner(candidate); normalized != "" {
			return normalized
		}
	}
	if inferred := s.classifier.InferOwner(utterance); inferred != "" {
		if normalized := NormalizeOwner(inferred); normalized != "" {
			return normalized
		}
	}
	return FallbackOwner
}

// AutoCapture decides whether an utterance should be persisted and, if
// so, stores it. Classification is skipped when the caller supplies a
// suggestion. Errors are returned only for embedder or storage failures;
// every policy decision lands in the result.
func (s *Service) AutoCapture(ctx context.Context, req AutoCaptureRequest) (*AutoCaptureResult, error) {
	utterance := strings.TrimSpace(req.Utterance)
	owner := s.ResolveOwner(req.Owner, req.HeaderOwner, utterance)

	if utterance == "" {
		return &AutoCaptureResult{
			Owner:  owner,
			Reason: "empty utterance",
			Tags:   []string{},
		}, nil
	}

	var cls Classification
	if suggest := strings.TrimSpace(req.SuggestText); suggest != "" {
		cls = Classification{Worthy: true, Summary: suggest, Tags: req.SuggestTags}
	} else {
		cls = s.classifier.Classify(utterance)
	}
	if cls.Tags == nil {
		cls.Tags = []string{}
	}

	threshold := DefaultDedupeThreshold
	if req.DedupeThreshold != nil {
		threshold = clampThreshold(*req.DedupeThreshold)
	}

	if !cls.Worthy || cls.Summary == "" {
		log.Printf("[AUTO] skip (not-worthy) user=%s text=%.80q", owner, utterance)
		return &AutoCaptureResult{
			Owner:   owner,
			Reason:  "not memory-worthy",
			Summary: cls.Summary,
			Tags:    cls.Tags,
		}, nil
	}

	outcome, err := s.store.Add(ctx, owner, cls.Summary, cls.Tags, time.Time{}, threshold)
	if err != nil {
		return nil, err
	}

	result := &AutoCaptureResult{
		Owner:      owner,
		ShouldSave: true,
		Saved:      outcome.Inserted,
		Summary:    cls.Summary,
		Tags:       cls.Tags,
	}
	if outcome.Inserted {
		result.ID = outcome.ID
		log.Printf("[AUTO] SAVED user=%s th=%.2f text=%.80q -> summary=%q", owner, threshold, utterance, cls.Summary)
	} else {
		score := outcome.Score
		result.Skipped = "duplicate"
		result.DupID = outcome.DupID
		result.Score = &score
		log.Printf("[AUTO] SKIP(duplicate) user=%s th=%.2f score=%.4f text=%.80q", owner, threshold, score, utterance)
	}
	return result, nil
}

// clampThreshold forces an auto-capture threshold into [0.5, 0.99].
func clampThreshold(th float64) float64 {
	if th < minDedupeThreshold {
		return minDedupeThreshold
	}
	if th > maxDedupeThreshold {
		return maxDedupeThreshold
	}
	return th
}
