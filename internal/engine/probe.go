package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Prober measures total media duration for progress estimation.
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// DurationProber measures total audio duration via ffprobe. The value
// only feeds percent-complete estimates, so a missing ffprobe binary
// degrades to coarse per-segment progress instead of failing the run.
type DurationProber struct {
	ffprobePath string
	runner      commandRunner
}

// NewDurationProber builds a prober around the given ffprobe binary.
func NewDurationProber(ffprobePath string) *DurationProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &DurationProber{ffprobePath: ffprobePath, runner: &execRunner{}}
}

// Probe returns the media duration in seconds. An unreadable or empty
// file is a DecodeError; an absent ffprobe binary returns 0 with no
// error.
func (p *DurationProber) Probe(ctx context.Context, path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &DecodeError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return 0, &DecodeError{Path: path, Err: errors.New("file is empty")}
	}

	if _, err := exec.LookPath(p.ffprobePath); err != nil {
		return 0, nil
	}

	res, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, &DecodeError{Path: path, Err: fmt.Errorf("ffprobe: %s", strings.TrimSpace(res.Stderr))}
	}

	raw := strings.TrimSpace(res.Stdout)
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0, &DecodeError{Path: path, Err: fmt.Errorf("no decodable duration (got %q)", raw)}
	}
	return seconds, nil
}
