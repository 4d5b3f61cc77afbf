package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const embeddingExt = ".emb"

// SaveEmbedding writes a speaker's profile embedding as little-endian
// float32 values under the embeddings directory. The write goes through a
// temp file and rename so a crash never leaves a torn profile.
func (s *Store) SaveEmbedding(speakerID string, vec []float32) error {
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	path := s.embeddingPath(speakerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write embedding: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename embedding: %w", err)
	}
	return nil
}

// LoadEmbedding reads one speaker's profile embedding.
func (s *Store) LoadEmbedding(speakerID string) ([]float32, error) {
	data, err := os.ReadFile(s.embeddingPath(speakerID))
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding file for %s is corrupt", speakerID)
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// LoadEmbeddings reads every readable profile for the given roster.
// Speakers whose profile is missing, corrupt, or sized for a different
// dimension are skipped with a warning; they stay listed but cannot match
// until re-enrolled.
func (s *Store) LoadEmbeddings(speakers []Speaker) map[string][]float32 {
	out := make(map[string][]float32, len(speakers))
	for _, sp := range speakers {
		vec, err := s.LoadEmbedding(sp.ID)
		if err != nil {
			s.log.Warn("skipping speaker without readable embedding",
				slog.String("speaker_id", sp.ID), slog.String("error", err.Error()))
			continue
		}
		if s.emb.Dimension > 0 && len(vec) != s.emb.Dimension {
			s.log.Warn("skipping speaker with mismatched embedding dimension",
				slog.String("speaker_id", sp.ID),
				slog.Int("got", len(vec)), slog.Int("want", s.emb.Dimension))
			continue
		}
		out[sp.ID] = vec
	}
	return out
}

// DeleteEmbedding removes the profile artifact if present.
func (s *Store) DeleteEmbedding(speakerID string) error {
	err := os.Remove(s.embeddingPath(speakerID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) embeddingPath(speakerID string) string {
	// Speaker IDs are UUIDs, but never trust them as path components.
	safe := strings.ReplaceAll(speakerID, string(filepath.Separator), "_")
	return filepath.Join(s.emb.Dir, safe+embeddingExt)
}
