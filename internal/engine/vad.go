package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/transcriptd/internal/log"
)

// requiredVADAssets are the Silero model files voice-activity
// filtering needs, in reporting order.
var requiredVADAssets = []string{
	"silero_encoder_v5.onnx",
	"silero_decoder_v5.onnx",
}

// VADResolver tracks availability of the optional voice-activity
// filtering assets and performs at most one automatic fetch per
// process lifetime when they are missing.
type VADResolver struct {
	assetsDir string
	baseURL   string
	client    *http.Client

	mu        sync.Mutex
	attempted bool
	available bool
	missing   []string
}

// NewVADResolver builds a resolver over assetsDir. baseURL is the
// download origin for missing assets; empty disables fetching.
func NewVADResolver(assetsDir, baseURL string) *VADResolver {
	r := &VADResolver{
		assetsDir: assetsDir,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	r.available, r.missing = r.scan()
	return r
}

// scan is a pure filesystem check, no network.
func (r *VADResolver) scan() (bool, []string) {
	var missing []string
	for _, name := range requiredVADAssets {
		if _, err := os.Stat(filepath.Join(r.assetsDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

// Detect reports current availability and the ordered missing assets.
func (r *VADResolver) Detect() (bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available, r.missing = r.scan()
	return r.available, append([]string(nil), r.missing...)
}

// ModelPath returns the location filtering backends should load the
// primary VAD model from.
func (r *VADResolver) ModelPath() string {
	return filepath.Join(r.assetsDir, requiredVADAssets[0])
}

// EnsureAvailable attempts one best-effort fetch of missing assets.
// It is a no-op when assets are present or a fetch was already
// attempted this process. Fetch failures are logged and swallowed;
// the caller downgrades to unfiltered transcription instead.
func (r *VADResolver) EnsureAvailable(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.available || r.attempted {
		return
	}
	r.attempted = true

	logger := log.WithComponent("vad")
	if r.baseURL == "" {
		logger.Debug("asset fetch disabled, no base url configured")
		return
	}

	for _, name := range r.missing {
		if err := r.fetch(ctx, name); err != nil {
			logger.Warn("asset fetch failed", "asset", name, "error", err)
		}
	}

	r.available, r.missing = r.scan()
	if r.available {
		logger.Info("voice-activity assets ready", "dir", r.assetsDir)
	} else {
		logger.Warn("voice-activity assets still missing after fetch attempt",
			"missing", r.missing)
	}
}

func (r *VADResolver) fetch(ctx context.Context, name string) error {
	src, err := url.JoinPath(r.baseURL, name)
	if err != nil {
		return fmt.Errorf("build asset url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("build asset request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", name, resp.StatusCode)
	}

	if err := os.MkdirAll(r.assetsDir, 0o755); err != nil {
		return fmt.Errorf("create assets directory: %w", err)
	}

	dst := filepath.Join(r.assetsDir, name)
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", name, err)
	}
	return os.Rename(tmp, dst)
}
