package identify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voicekit-labs/speakerd/internal/bus"
	"github.com/voicekit-labs/speakerd/internal/config"
	"github.com/voicekit-labs/speakerd/internal/protocol"
	"github.com/voicekit-labs/speakerd/internal/recognizer"
)

// Service identifies speakers on audio sessions streamed over the bus.
// Frames are buffered per session; identification runs on the final frame
// and, when enabled, at partial intervals while the session is live.
type Service struct {
	cfg        config.BusConfig
	bus        *bus.Client
	recognizer *recognizer.Service
	sessions   map[string]*sessionState
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	ready      bool
}

type sessionState struct {
	Buffer       []byte
	SampleRate   int
	Channels     int
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
}

func NewService(parent context.Context, cfg config.BusConfig, busClient *bus.Client, rec *recognizer.Service) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: rec,
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{SampleRate: frame.SampleRate, Channels: frame.Channels}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if s.cfg.PublishPartial && !frame.Final {
		if s.shouldSchedulePartial(frame.SessionID) {
			s.scheduleIdentification(frame.SessionID, false)
		}
	}
	if frame.Final {
		s.scheduleIdentification(frame.SessionID, true)
	}
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil {
		return false
	}
	if state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleIdentification(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.Buffer...)
	sampleRate := state.SampleRate
	channels := state.Channels
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		s.identify(ctx, sessionID, pcm, sampleRate, channels, final)

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal && !final {
			s.scheduleIdentification(sessionID, true)
		}
	}()
}

func (s *Service) identify(ctx context.Context, sessionID string, pcm []byte, sampleRate, channels int, final bool) {
	clip, err := decodeFrame(pcm, sampleRate, channels)
	if err != nil {
		s.bus.Logger().Warn("failed to decode session audio", slogError(err))
		return
	}

	result, err := s.recognizer.Identify(ctx, clip, sessionID)
	if err != nil {
		if !errors.Is(err, recognizer.ErrNoProfiles) {
			s.bus.Logger().Warn("session identification failed", slogError(err))
		}
		return
	}
	s.publishIdentity(sessionID, result, final)
}

func (s *Service) publishIdentity(sessionID string, result recognizer.Result, final bool) {
	now := time.Now().UTC()
	subject := protocol.SubjectIdentityPartial
	if final {
		subject = protocol.SubjectIdentityFinal
	}
	msg := protocol.Identity{
		SessionID: sessionID,
		SpeakerID: result.SpeakerID,
		Name:      result.Name,
		Score:     result.Score,
		Matched:   result.Matched,
		Partial:   !final,
		Scores:    result.Scores,
		Timestamp: now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal identity", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.bus.Logger().Warn("failed to publish identity", slogError(err))
	}

	if final && result.Matched {
		detected := protocol.SpeakerDetected{
			SessionID: sessionID,
			SpeakerID: result.SpeakerID,
			Name:      result.Name,
			Score:     result.Score,
			Timestamp: now,
		}
		data, err := json.Marshal(detected)
		if err != nil {
			s.bus.Logger().Warn("failed to marshal detection", slogError(err))
			return
		}
		if err := s.bus.Conn().Publish(protocol.SubjectSpeakerDetected, data); err != nil {
			s.bus.Logger().Warn("failed to publish detection", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
