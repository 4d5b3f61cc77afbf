package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/voicekit-labs/speakerd/internal/audio"
	"github.com/voicekit-labs/speakerd/internal/config"
)

// execEncoder shells out to an external embedding model. The command gets
// a temp WAV via --audio and must print {"embedding": [...]} on stdout.
type execEncoder struct {
	cmd []string
	dim int
	mu  sync.Mutex
}

type execResult struct {
	Embedding []float32 `json:"embedding"`
}

func NewExecEncoder(cfg config.RecognizerConfig, dimension int) (Encoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse encoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("encoder command is empty")
	}
	return &execEncoder{cmd: args, dim: dimension}, nil
}

func (e *execEncoder) Dimension() int { return e.dim }

func (e *execEncoder) Embed(ctx context.Context, clip audio.Clip) ([]float32, error) {
	if len(clip.Samples) == 0 {
		return nil, ErrAudioTooShort
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "speakerd_embed_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, clip); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("encoder command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode encoder response: %w", err)
	}
	if len(resp.Embedding) != e.dim {
		return nil, fmt.Errorf("%w: command returned %d values, want %d", ErrDimension, len(resp.Embedding), e.dim)
	}
	// External models are not trusted to normalize.
	return Normalize(resp.Embedding), nil
}
