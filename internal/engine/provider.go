package engine

import (
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/transcriptd/internal/log"
)

// Factory constructs a model for a (name, device) pair. device is
// already resolved to a concrete value, never "auto".
type Factory func(name, device string) (Model, error)

// Provider is a single-slot cache of the expensive model handle.
// Sequential jobs with the same model and device pay no reload cost;
// jobs that alternate models pay a reload each time. Only the
// load/dispose transition is serialized; inference calls on an
// already-cached handle may run concurrently.
type Provider struct {
	factory Factory
	probe   func() bool

	mu     sync.Mutex
	cached Model
	key    string
	device string

	probeOnce   sync.Once
	accelerated atomic.Bool
}

// NewProvider builds a provider around a model factory. probe reports
// whether an accelerated device is present; nil uses the default
// nvidia-smi lookup.
func NewProvider(factory Factory, probe func() bool) *Provider {
	if probe == nil {
		probe = defaultAcceleratorProbe
	}
	return &Provider{factory: factory, probe: probe}
}

// defaultAcceleratorProbe treats a resolvable nvidia-smi binary as
// evidence of a usable CUDA device. Absence is "no accelerator",
// never an error.
func defaultAcceleratorProbe() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// HasAcceleratedDevice reports accelerator availability, probed once
// per process and cached.
func (p *Provider) HasAcceleratedDevice() bool {
	p.probeOnce.Do(func() {
		p.accelerated.Store(p.probe())
	})
	return p.accelerated.Load()
}

// markAcceleratorUnavailable records a failed CUDA initialization so
// later auto-resolutions go straight to cpu.
func (p *Provider) markAcceleratorUnavailable() {
	p.probeOnce.Do(func() {})
	p.accelerated.Store(false)
}

// resolveDevice maps a requested device to a concrete one. Explicit
// cpu is never overridden.
func (p *Provider) resolveDevice(device string) (resolved, fallbackReason string) {
	switch device {
	case "auto":
		if p.HasAcceleratedDevice() {
			return "cuda", ""
		}
		return "cpu", ""
	case "cuda":
		if !p.HasAcceleratedDevice() {
			return "cpu", "no accelerated device available"
		}
		return "cuda", ""
	default:
		return "cpu", ""
	}
}

// Get returns a ready handle for (name, device) plus the device it
// actually runs on and the fallback reason when cuda degraded to cpu.
// A cached handle with the same key is reused; otherwise the old
// handle is disposed and a new one constructed. Construction failure
// on cuda retries once on cpu; failure on cpu is fatal.
func (p *Provider) Get(name, device string) (Model, string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resolved, reason := p.resolveDevice(device)
	if reason != "" {
		log.WithComponent("engine").Info("device fallback",
			"requested", device, "resolved", resolved, "reason", reason)
	}

	key := name + "::" + resolved
	if p.cached != nil && p.key == key {
		return p.cached, p.device, reason, nil
	}

	p.disposeLocked()

	model, err := p.factory(name, resolved)
	if err != nil && resolved == "cuda" {
		p.markAcceleratorUnavailable()
		reason = "cuda initialization failed: " + err.Error()
		log.WithModel(name, "cuda").Warn("retrying on cpu", "error", err)
		resolved = "cpu"
		key = name + "::" + resolved
		model, err = p.factory(name, resolved)
	}
	if err != nil {
		return nil, "", "", &ResourceError{Model: name, Device: resolved, Err: err}
	}

	log.WithModel(name, resolved).Info("model loaded")
	p.cached = model
	p.key = key
	p.device = resolved
	return model, resolved, reason, nil
}

// Dispose releases the cached handle. Idempotent.
func (p *Provider) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposeLocked()
}

func (p *Provider) disposeLocked() {
	if p.cached == nil {
		return
	}
	if err := p.cached.Close(); err != nil {
		log.WithComponent("engine").Warn("model close failed", "error", err)
	}
	p.cached = nil
	p.key = ""
	p.device = ""
}
