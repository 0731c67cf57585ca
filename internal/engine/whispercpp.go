package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// whisper.cpp prints one timed line per decoded segment:
//
//	[00:00:00.000 --> 00:00:02.520]   Hello world
var segmentLineRE = regexp.MustCompile(
	`^\[(\d{2}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2}):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`,
)

// WhisperCppModel runs inference through the whisper.cpp CLI. One
// instance corresponds to one validated (binary, model file, device)
// combination; each Transcribe call spawns a fresh process.
type WhisperCppModel struct {
	binaryPath string
	modelPath  string
	device     string
}

// NewWhisperCppFactory returns a Factory that resolves model names to
// ggml files under modelsDir and validates both binary and model file
// at construction time.
func NewWhisperCppFactory(binaryPath, modelsDir string) Factory {
	return func(name, device string) (Model, error) {
		bin, err := exec.LookPath(binaryPath)
		if err != nil {
			return nil, fmt.Errorf("whisper binary %q not found: %w", binaryPath, err)
		}
		modelPath := filepath.Join(modelsDir, "ggml-"+name+".bin")
		if _, err := os.Stat(modelPath); err != nil {
			return nil, fmt.Errorf("model file %q not found: %w", modelPath, err)
		}
		return &WhisperCppModel{binaryPath: bin, modelPath: modelPath, device: device}, nil
	}
}

func (m *WhisperCppModel) buildArgs(audioPath string, opts Options) []string {
	args := []string{
		"-m", m.modelPath,
		"-f", audioPath,
		"--no-prints",
	}
	if m.device == "cpu" {
		args = append(args, "-ng")
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if opts.VADModelPath != "" {
		args = append(args, "--vad", "--vad-model", opts.VADModelPath)
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// Transcribe spawns the CLI and returns a stream over its stdout.
func (m *WhisperCppModel) Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error) {
	cmd := exec.CommandContext(ctx, m.binaryPath, m.buildArgs(audioPath, opts)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe whisper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper: %w", err)
	}

	return &whisperStream{
		cmd:     cmd,
		scanner: bufio.NewScanner(stdout),
		stderr:  &stderr,
	}, nil
}

// Close is a no-op: per-run processes are owned by their stream.
func (m *WhisperCppModel) Close() error { return nil }

type whisperStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *strings.Builder

	waitOnce sync.Once
	waitErr  error
	closed   bool
}

// Next returns the next decoded segment, or io.EOF after the process
// exits cleanly. A non-zero exit surfaces as a DecodeError carrying
// the process stderr.
func (s *whisperStream) Next() (Segment, error) {
	for s.scanner.Scan() {
		seg, ok := parseSegmentLine(s.scanner.Text())
		if ok {
			return seg, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Segment{}, fmt.Errorf("read whisper output: %w", err)
	}
	if err := s.wait(); err != nil {
		return Segment{}, &DecodeError{
			Path: "",
			Err:  fmt.Errorf("whisper exited: %v: %s", err, strings.TrimSpace(s.stderr.String())),
		}
	}
	return Segment{}, io.EOF
}

func (s *whisperStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Close terminates the underlying process if it is still running.
func (s *whisperStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

func parseSegmentLine(line string) (Segment, bool) {
	m := segmentLineRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Segment{}, false
	}
	return Segment{
		Start: timestampSeconds(m[1], m[2], m[3], m[4]),
		End:   timestampSeconds(m[5], m[6], m[7], m[8]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

func timestampSeconds(hh, mm, ss, ms string) float64 {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	f, _ := strconv.Atoi(ms)
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(f)/1000
}
