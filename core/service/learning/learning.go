// Package learning maintains the correction history and per-recipient
// preference profiles that bias future reply drafts.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

const defaultImportance = 0.8

// Service is the preference learning loop.
type Service struct {
	store     out.VectorStore
	detectors []PreferenceDetector
}

// NewService creates a learning Service with the default detectors.
func NewService(store out.VectorStore) *Service {
	return &Service{store: store, detectors: defaultDetectors()}
}

// NewServiceWithDetectors creates a Service with a custom detector set.
func NewServiceWithDetectors(store out.VectorStore, detectors []PreferenceDetector) *Service {
	return &Service{store: store, detectors: detectors}
}

// SaveCorrection appends a correction record and folds its detected
// preferences into the recipient's profile. The record write is the
// primary effect; a profile update failure is logged, not raised.
func (s *Service) SaveCorrection(ctx context.Context, original, corrected, recipient, correctionType, context_ string) error {
	record := domain.CorrectionRecord{
		ID:             uuid.New().String(),
		Original:       original,
		Corrected:      corrected,
		Recipient:      recipient,
		CorrectionType: correctionType,
		Context:        context_,
		Timestamp:      time.Now(),
	}

	// The corrected text is the similarity key; the original draft
	// only travels in metadata.
	err := s.store.Upsert(ctx, out.CollectionCorrections, record.ID, record.Corrected, map[string]any{
		"original":        record.Original,
		"corrected":       record.Corrected,
		"recipient":       record.Recipient,
		"correction_type": record.CorrectionType,
		"context":         record.Context,
		"timestamp":       record.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("save correction: %w", err)
	}

	if err := s.updateProfile(ctx, original, corrected, recipient); err != nil {
		logger.WithError(err).Warn("learning: profile update failed for %s", recipient)
	}
	return nil
}

// GetSimilarCorrections returns up to limit corrections most similar to
// the draft, nearest first. A non-empty recipient restricts matches to
// that recipient exactly.
func (s *Service) GetSimilarCorrections(ctx context.Context, draft, recipient string, limit int) ([]domain.SimilarCorrection, error) {
	var where map[string]any
	if recipient != "" {
		where = map[string]any{"recipient": recipient}
	}

	results, err := s.store.QuerySimilar(ctx, out.CollectionCorrections, draft, limit, where)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}

	similar := make([]domain.SimilarCorrection, 0, len(results))
	for _, r := range results {
		similar = append(similar, domain.SimilarCorrection{
			Original:       metaString(r.Metadata, "original"),
			Corrected:      metaString(r.Metadata, "corrected"),
			CorrectionType: metaString(r.Metadata, "correction_type"),
			Timestamp:      metaString(r.Metadata, "timestamp"),
			Distance:       r.Distance,
		})
	}
	return similar, nil
}

// GetRecipientProfile returns the stored profile, or nil when none
// exists yet.
func (s *Service) GetRecipientProfile(ctx context.Context, recipient string) (*domain.RecipientProfile, error) {
	docs, err := s.store.Get(ctx, out.CollectionProfiles, map[string]any{"recipient": recipient})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return profileFromDocument(docs[0]), nil
}

// GetLearningStats reports store-wide counts.
func (s *Service) GetLearningStats(ctx context.Context) (*domain.LearningStats, error) {
	corrections, err := s.store.Count(ctx, out.CollectionCorrections)
	if err != nil {
		return nil, fmt.Errorf("count corrections: %w", err)
	}
	profiles, err := s.store.Count(ctx, out.CollectionProfiles)
	if err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	return &domain.LearningStats{
		TotalCorrections: corrections,
		TotalProfiles:    profiles,
		LastUpdated:      time.Now(),
	}, nil
}

// updateProfile runs the detectors over the pair and merges whatever
// they found into the recipient's profile. No detected signal means no
// write.
func (s *Service) updateProfile(ctx context.Context, original, corrected, recipient string) error {
	detected := make(map[string]any)
	for _, detector := range s.detectors {
		for key, value := range detector.Detect(original, corrected) {
			detected[key] = value
		}
	}
	if len(detected) == 0 {
		return nil
	}

	profile, err := s.GetRecipientProfile(ctx, recipient)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &domain.RecipientProfile{
			Recipient:   recipient,
			Preferences: make(map[string]any),
			Importance:  defaultImportance,
		}
	}
	profile.MergePreferences(detected)
	profile.LastUpdated = time.Now()

	preferences, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	// The recipient address is the document id, so repeated updates
	// replace the profile in place.
	return s.store.Upsert(ctx, out.CollectionProfiles, recipient, recipient, map[string]any{
		"recipient":    profile.Recipient,
		"preferences":  string(preferences),
		"importance":   profile.Importance,
		"last_updated": profile.LastUpdated.Format(time.RFC3339),
	})
}

func profileFromDocument(doc out.VectorDocument) *domain.RecipientProfile {
	profile := &domain.RecipientProfile{
		Recipient:   metaString(doc.Metadata, "recipient"),
		Preferences: make(map[string]any),
		Importance:  metaFloat(doc.Metadata, "importance"),
	}
	if raw := metaString(doc.Metadata, "preferences"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &profile.Preferences); err != nil {
			logger.WithError(err).Warn("learning: corrupt preferences for %s", profile.Recipient)
		}
	}
	if t, err := time.Parse(time.RFC3339, metaString(doc.Metadata, "last_updated")); err == nil {
		profile.LastUpdated = t
	}
	return profile
}

func metaString(metadata map[string]any, key string) string {
	s, _ := metadata[key].(string)
	return s
}

func metaFloat(metadata map[string]any, key string) float64 {
	switch n := metadata[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
