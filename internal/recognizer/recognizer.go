package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicekit-labs/speakerd/internal/audio"
	"github.com/voicekit-labs/speakerd/internal/config"
	"github.com/voicekit-labs/speakerd/internal/embedding"
	"github.com/voicekit-labs/speakerd/internal/store"
)

var (
	ErrNoProfiles   = errors.New("no speaker profiles enrolled")
	ErrNoSamples    = errors.New("at least one voice sample is required")
	ErrEmptyName    = errors.New("speaker name must not be empty")
	ErrAudioTooLong = errors.New("audio exceeds the configured maximum length")
)

// Result is the outcome of an identification or verification.
type Result struct {
	SpeakerID string             `json:"speaker_id"`
	Name      string             `json:"name"`
	Score     float64            `json:"score"`
	Matched   bool               `json:"matched"`
	Scores    map[string]float64 `json:"scores"`
}

// Service owns the in-memory speaker profiles and scores audio against
// them. Profiles are unit-norm embeddings, so a score is the dot product
// between the utterance embedding and a profile.
type Service struct {
	cfg     config.RecognizerConfig
	encoder embedding.Encoder
	store   *store.Store
	log     *slog.Logger

	mu       sync.RWMutex
	profiles map[string][]float32
	names    map[string]string
}

// NewService loads the enrolled roster from the store.
func NewService(ctx context.Context, cfg config.RecognizerConfig, enc embedding.Encoder, st *store.Store, log *slog.Logger) (*Service, error) {
	speakers, err := st.ListSpeakers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load speaker roster: %w", err)
	}
	s := &Service{
		cfg:      cfg,
		encoder:  enc,
		store:    st,
		log:      log.With(slog.String("component", "recognizer")),
		profiles: st.LoadEmbeddings(speakers),
		names:    make(map[string]string, len(speakers)),
	}
	for _, sp := range speakers {
		s.names[sp.ID] = sp.Name
	}
	s.log.Info("speaker profiles loaded",
		slog.Int("speakers", len(speakers)), slog.Int("profiles", len(s.profiles)))
	return s, nil
}

// Enrolled reports how many speakers currently have a usable profile.
func (s *Service) Enrolled() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Enroll creates a speaker from one or more voice samples.
func (s *Service) Enroll(ctx context.Context, name string, samples []audio.Clip) (store.Speaker, error) {
	if name == "" {
		return store.Speaker{}, ErrEmptyName
	}
	if len(samples) == 0 {
		return store.Speaker{}, ErrNoSamples
	}

	vec, used, err := s.embedSamples(ctx, samples)
	if err != nil {
		return store.Speaker{}, err
	}

	sp := store.Speaker{ID: uuid.NewString(), Name: name, Samples: used}
	if err := s.store.PutSpeaker(ctx, sp); err != nil {
		return store.Speaker{}, fmt.Errorf("persist speaker: %w", err)
	}
	if err := s.store.SaveEmbedding(sp.ID, vec); err != nil {
		return store.Speaker{}, fmt.Errorf("persist embedding: %w", err)
	}

	s.mu.Lock()
	s.profiles[sp.ID] = vec
	s.names[sp.ID] = sp.Name
	s.mu.Unlock()

	s.log.Info("speaker enrolled",
		slog.String("speaker_id", sp.ID), slog.String("name", name), slog.Int("samples", used))
	return sp, nil
}

// AddSamples folds additional audio into an existing profile using a
// running mean weighted by sample counts.
func (s *Service) AddSamples(ctx context.Context, speakerID string, samples []audio.Clip) (store.Speaker, error) {
	if len(samples) == 0 {
		return store.Speaker{}, ErrNoSamples
	}
	sp, err := s.store.GetSpeaker(ctx, speakerID)
	if err != nil {
		return store.Speaker{}, err
	}

	vec, used, err := s.embedSamples(ctx, samples)
	if err != nil {
		return store.Speaker{}, err
	}

	s.mu.RLock()
	existing, ok := s.profiles[speakerID]
	s.mu.RUnlock()
	if ok && sp.Samples > 0 && len(existing) == len(vec) {
		merged := make([]float32, len(existing))
		oldW := float32(sp.Samples)
		newW := float32(used)
		for i := range merged {
			merged[i] = (existing[i]*oldW + vec[i]*newW) / (oldW + newW)
		}
		vec = embedding.Normalize(merged)
	}

	sp.Samples += used
	if err := s.store.PutSpeaker(ctx, sp); err != nil {
		return store.Speaker{}, fmt.Errorf("persist speaker: %w", err)
	}
	if err := s.store.SaveEmbedding(speakerID, vec); err != nil {
		return store.Speaker{}, fmt.Errorf("persist embedding: %w", err)
	}

	s.mu.Lock()
	s.profiles[speakerID] = vec
	s.mu.Unlock()

	s.log.Info("speaker profile updated",
		slog.String("speaker_id", speakerID), slog.Int("samples", sp.Samples))
	return sp, nil
}

// Identify scores the clip against every profile and returns the best
// match. Matches below min_confidence are reported with Matched=false.
func (s *Service) Identify(ctx context.Context, clip audio.Clip, sessionID string) (Result, error) {
	s.mu.RLock()
	empty := len(s.profiles) == 0
	s.mu.RUnlock()
	if empty {
		return Result{}, ErrNoProfiles
	}

	utterance, err := s.embedClip(ctx, clip)
	if err != nil {
		return Result{}, err
	}

	s.mu.RLock()
	scores := make(map[string]float64, len(s.profiles))
	var bestID string
	best := -2.0
	for id, profile := range s.profiles {
		score := embedding.Dot(profile, utterance)
		scores[id] = score
		if score > best {
			best = score
			bestID = id
		}
	}
	name := s.names[bestID]
	s.mu.RUnlock()

	result := Result{
		SpeakerID: bestID,
		Name:      name,
		Score:     best,
		Matched:   best >= s.cfg.MinConfidence,
		Scores:    scores,
	}
	s.record(ctx, store.Recognition{
		SessionID: sessionID,
		SpeakerID: bestID,
		Score:     best,
		Matched:   result.Matched,
		Kind:      "identify",
	})
	s.log.Debug("identification scored",
		slog.String("speaker_id", bestID),
		slog.Float64("score", best),
		slog.Bool("matched", result.Matched))
	return result, nil
}

// Verify scores the clip against a single speaker profile.
func (s *Service) Verify(ctx context.Context, speakerID string, clip audio.Clip) (Result, error) {
	s.mu.RLock()
	profile, ok := s.profiles[speakerID]
	name := s.names[speakerID]
	s.mu.RUnlock()
	if !ok {
		if _, err := s.store.GetSpeaker(ctx, speakerID); err != nil {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("speaker %s has no usable profile", speakerID)
	}

	utterance, err := s.embedClip(ctx, clip)
	if err != nil {
		return Result{}, err
	}

	score := embedding.Dot(profile, utterance)
	result := Result{
		SpeakerID: speakerID,
		Name:      name,
		Score:     score,
		Matched:   score >= s.cfg.MinConfidence,
		Scores:    map[string]float64{speakerID: score},
	}
	s.record(ctx, store.Recognition{
		SpeakerID: speakerID,
		Score:     score,
		Matched:   result.Matched,
		Kind:      "verify",
	})
	return result, nil
}

// Remove drops a speaker from the roster and the store.
func (s *Service) Remove(ctx context.Context, speakerID string) error {
	if err := s.store.DeleteSpeaker(ctx, speakerID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.profiles, speakerID)
	delete(s.names, speakerID)
	s.mu.Unlock()
	s.log.Info("speaker removed", slog.String("speaker_id", speakerID))
	return nil
}

// List returns the enrolled roster.
func (s *Service) List(ctx context.Context) ([]store.Speaker, error) {
	return s.store.ListSpeakers(ctx)
}

// Get returns one speaker.
func (s *Service) Get(ctx context.Context, speakerID string) (store.Speaker, error) {
	return s.store.GetSpeaker(ctx, speakerID)
}

// Recent returns the latest recognition decisions.
func (s *Service) Recent(ctx context.Context, limit int) ([]store.Recognition, error) {
	return s.store.ListRecognitions(ctx, limit)
}

func (s *Service) embedSamples(ctx context.Context, samples []audio.Clip) ([]float32, int, error) {
	sum := make([]float32, s.encoder.Dimension())
	used := 0
	for i, clip := range samples {
		vec, err := s.embedClip(ctx, clip)
		if err != nil {
			if errors.Is(err, embedding.ErrAudioTooShort) {
				s.log.Warn("skipping sample too short to embed", slog.Int("sample", i))
				continue
			}
			return nil, 0, fmt.Errorf("embed sample %d: %w", i, err)
		}
		for j := range sum {
			sum[j] += vec[j]
		}
		used++
	}
	if used == 0 {
		return nil, 0, embedding.ErrAudioTooShort
	}
	return embedding.Normalize(sum), used, nil
}

func (s *Service) embedClip(ctx context.Context, clip audio.Clip) ([]float32, error) {
	if clip.Duration() > float64(s.cfg.MaxAudioSeconds) {
		return nil, ErrAudioTooLong
	}
	prepared := audio.Preprocess(clip, s.cfg.SampleRate)
	if len(prepared.Samples) == 0 {
		return nil, embedding.ErrAudioTooShort
	}
	if s.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return s.encoder.Embed(ctx, prepared)
}

func (s *Service) record(ctx context.Context, rec store.Recognition) {
	if err := s.store.AppendRecognition(ctx, rec); err != nil {
		s.log.Warn("failed to record recognition", slog.String("error", err.Error()))
	}
}
