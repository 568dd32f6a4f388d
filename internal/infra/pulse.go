package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
)

const pactlTimeout = 2 * time.Second

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// sinkInput is the subset of `pactl -f json list sink-inputs` we read.
type sinkInput struct {
	Index      int               `json:"index"`
	Mute       bool              `json:"mute"`
	Properties map[string]string `json:"properties"`
}

// PulseBackend implements domain.MuteBackend with pactl, which works against
// both PulseAudio and PipeWire.
type PulseBackend struct {
	run CommandRunner
}

// NewPulseBackend creates a pactl-backed mute backend.
func NewPulseBackend() *PulseBackend {
	return &PulseBackend{run: execRunner}
}

// NewPulseBackendWithRunner creates a backend with a custom runner (for testing).
func NewPulseBackendWithRunner(run CommandRunner) *PulseBackend {
	return &PulseBackend{run: run}
}

// SetMute mutes or unmutes every sink input owned by pid.
// Returns domain.ErrNoAudioSession if pid has no stream.
func (b *PulseBackend) SetMute(pid int, mute bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()

	inputs, err := b.sinkInputs(ctx)
	if err != nil {
		return err
	}

	flag := "0"
	if mute {
		flag = "1"
	}

	found := false
	for _, in := range inputs {
		if in.Properties["application.process.id"] != strconv.Itoa(pid) {
			continue
		}
		found = true
		if in.Mute == mute {
			continue
		}
		if _, err := b.run(ctx, "pactl", "set-sink-input-mute", strconv.Itoa(in.Index), flag); err != nil {
			return fmt.Errorf("pactl set-sink-input-mute %d: %w", in.Index, err)
		}
	}
	if !found {
		return fmt.Errorf("pid %d: %w", pid, domain.ErrNoAudioSession)
	}
	return nil
}

func (b *PulseBackend) sinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := b.run(ctx, "pactl", "-f", "json", "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	var inputs []sinkInput
	if err := json.Unmarshal(out, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse pactl output: %w", err)
	}
	return inputs, nil
}

// DryRunBackend logs mute directives without touching audio.
type DryRunBackend struct {
	logger *zap.Logger
}

// NewDryRunBackend creates a backend that only logs.
func NewDryRunBackend(logger *zap.Logger) *DryRunBackend {
	return &DryRunBackend{logger: logger}
}

// SetMute logs the directive.
func (b *DryRunBackend) SetMute(pid int, mute bool) error {
	b.logger.Info("dry run: would set mute status",
		zap.Int("pid", pid),
		zap.Bool("mute", mute))
	return nil
}

var (
	_ domain.MuteBackend = (*PulseBackend)(nil)
	_ domain.MuteBackend = (*DryRunBackend)(nil)
)
