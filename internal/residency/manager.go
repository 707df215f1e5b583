// Package residency decides which model components sit in accelerator memory.
//
// With abundant memory every model stays resident. Otherwise models are
// swapped per stage: the ones a stage needs are loaded and the least recently
// needed others are offloaded until the requested headroom is free.
package residency

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"video-extender/internal/domain"
)

var (
	ErrResourceExhausted = errors.New("residency: device memory exhausted")
	ErrUnknownModel      = errors.New("residency: unknown model")
	ErrClosed            = errors.New("residency: manager is shut down")
)

// DefaultAbundantThreshold is the free memory above which no swapping happens.
const DefaultAbundantThreshold = 60 * domain.GiB

// DecodePreservedBytes is the headroom kept free while decoding.
const DecodePreservedBytes = 8 * domain.GiB

// Tier is where a model currently lives.
type Tier string

const (
	TierOffloaded Tier = "offloaded"
	TierResident  Tier = "resident"
)

// Mode is fixed at construction from the device's free memory.
type Mode string

const (
	ModeAbundant    Mode = "abundant"
	ModeConstrained Mode = "constrained"
)

// Stage is a phase of a generation run with its own model needs.
type Stage string

const (
	StageTextEncode   Stage = "text_encode"
	StageImageEncode  Stage = "image_encode"
	StageLatentEncode Stage = "latent_encode"
	StageSample       Stage = "sample"
	StageDecode       Stage = "decode"
)

// Model component names.
const (
	ModelTextEncoder  = "text_encoder"
	ModelTextEncoder2 = "text_encoder_2"
	ModelImageEncoder = "image_encoder"
	ModelVAE          = "vae"
	ModelTransformer  = "transformer"
)

var stageModels = map[Stage][]string{
	StageTextEncode:   {ModelTextEncoder, ModelTextEncoder2},
	StageImageEncode:  {ModelImageEncoder},
	StageLatentEncode: {ModelVAE},
	StageSample:       {ModelTransformer},
	StageDecode:       {ModelVAE},
}

// StageModels returns the model names a stage needs.
func StageModels(stage Stage) []string {
	return append([]string(nil), stageModels[stage]...)
}

// Placement is a snapshot of one model's residency.
type Placement struct {
	Name      string `json:"name"`
	Tier      Tier   `json:"tier"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Options tunes a Manager.
type Options struct {
	AbundantThresholdBytes int64
	Logger                 *slog.Logger
}

type entry struct {
	model   Model
	tier    Tier
	element *list.Element
}

// Manager owns tier placement for every registered model. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	device Device
	mode   Mode
	models map[string]*entry
	lru    *list.List // front = most recently needed
	closed bool
	logger *slog.Logger
}

// NewManager inspects the device once and picks the residency mode.
func NewManager(device Device, opts Options) *Manager {
	threshold := opts.AbundantThresholdBytes
	if threshold <= 0 {
		threshold = DefaultAbundantThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mode := ModeConstrained
	free := device.FreeBytes()
	if free > threshold {
		mode = ModeAbundant
	}
	logger.Info("residency: mode selected", "mode", mode, "free_bytes", free, "threshold", threshold)

	return &Manager{
		device: device,
		mode:   mode,
		models: make(map[string]*entry),
		lru:    list.New(),
		logger: logger,
	}
}

func (m *Manager) Mode() Mode {
	return m.mode
}

// Register adds models in the offloaded tier. In abundant mode they are
// loaded right away and stay resident.
func (m *Manager) Register(models ...Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, model := range models {
		if _, ok := m.models[model.Name()]; ok {
			return fmt.Errorf("residency: model %q already registered", model.Name())
		}
		e := &entry{model: model, tier: TierOffloaded}
		e.element = m.lru.PushBack(e)
		m.models[model.Name()] = e
	}
	if m.mode == ModeAbundant {
		for _, model := range models {
			if err := m.load(m.models[model.Name()]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Place makes one model resident while keeping preservedBytes free.
func (m *Manager) Place(name string, preservedBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeLocked([]string{name}, preservedBytes)
}

// Configure prepares the device for a stage.
func (m *Manager) Configure(stage Stage, preservedBytes int64) error {
	names, ok := stageModels[stage]
	if !ok {
		return fmt.Errorf("residency: unknown stage %q", stage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.placeLocked(names, preservedBytes); err != nil {
		return fmt.Errorf("configure %s: %w", stage, err)
	}
	return nil
}

func (m *Manager) placeLocked(names []string, preserved int64) error {
	if m.closed {
		return ErrClosed
	}
	if preserved < 0 {
		preserved = 0
	}

	needed := make(map[string]*entry, len(names))
	var loadBytes int64
	for _, name := range names {
		e, ok := m.models[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, name)
		}
		needed[name] = e
		if e.tier != TierResident {
			loadBytes += e.model.SizeBytes()
		}
	}

	if m.mode == ModeAbundant {
		// No swapping, but the headroom still has to be there.
		if free := m.device.FreeBytes(); free-loadBytes < preserved {
			return fmt.Errorf("%w: need %d bytes plus %d preserved, %d free",
				ErrResourceExhausted, loadBytes, preserved, free)
		}
		return m.loadAll(names, needed)
	}

	// Plan the evictions before anything moves so a failure leaves
	// placement untouched.
	free := m.device.FreeBytes()
	var evict []*entry
	for el := m.lru.Back(); el != nil && free-loadBytes < preserved; el = el.Prev() {
		e := el.Value.(*entry)
		if e.tier != TierResident {
			continue
		}
		if _, keep := needed[e.model.Name()]; keep {
			continue
		}
		evict = append(evict, e)
		free += e.model.SizeBytes()
	}
	if free-loadBytes < preserved {
		return fmt.Errorf("%w: need %d bytes plus %d preserved, at most %d can be freed",
			ErrResourceExhausted, loadBytes, preserved, free)
	}

	for _, e := range evict {
		if err := m.offload(e); err != nil {
			return err
		}
	}
	return m.loadAll(names, needed)
}

func (m *Manager) loadAll(names []string, needed map[string]*entry) error {
	for _, name := range names {
		e := needed[name]
		if err := m.load(e); err != nil {
			return err
		}
		m.lru.MoveToFront(e.element)
	}
	return nil
}

func (m *Manager) load(e *entry) error {
	if e.tier == TierResident {
		return nil
	}
	if err := m.device.Load(e.model); err != nil {
		return fmt.Errorf("residency: load %s: %w", e.model.Name(), err)
	}
	e.tier = TierResident
	m.logger.Debug("residency: loaded", "model", e.model.Name(), "size_bytes", e.model.SizeBytes())
	return nil
}

func (m *Manager) offload(e *entry) error {
	if e.tier != TierResident {
		return nil
	}
	if err := m.device.Offload(e.model); err != nil {
		return fmt.Errorf("residency: offload %s: %w", e.model.Name(), err)
	}
	e.tier = TierOffloaded
	m.logger.Debug("residency: offloaded", "model", e.model.Name(), "size_bytes", e.model.SizeBytes())
	return nil
}

// Evict offloads one model. Abundant mode keeps everything resident.
func (m *Manager) Evict(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.models[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if m.mode == ModeAbundant {
		return nil
	}
	return m.offload(e)
}

// CurrentFreeBytes reports the device's free memory.
func (m *Manager) CurrentFreeBytes() int64 {
	return m.device.FreeBytes()
}

// Residency returns the tier of a model.
func (m *Manager) Residency(name string) (Tier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.models[name]
	if !ok {
		return "", false
	}
	return e.tier, true
}

// Snapshot lists every model in most-recently-needed order.
func (m *Manager) Snapshot() []Placement {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Placement, 0, len(m.models))
	for el := m.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, Placement{Name: e.model.Name(), Tier: e.tier, SizeBytes: e.model.SizeBytes()})
	}
	return out
}

// ReleaseAll offloads every resident model, in any mode.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Manager) releaseLocked() error {
	var errs []error
	for el := m.lru.Back(); el != nil; el = el.Prev() {
		if err := m.offload(el.Value.(*entry)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases everything and rejects further placement.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.releaseLocked()
}
