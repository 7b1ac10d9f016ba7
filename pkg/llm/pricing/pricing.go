// Package pricing maps model names to per-token prices so traced LLM calls
// can carry a cost.
package pricing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelPricing contains pricing information for a specific model.
type ModelPricing struct {
	// Provider is the LLM provider name (e.g., "anthropic", "openai").
	Provider string `yaml:"provider" json:"provider"`

	// Model is the model identifier. Versioned names such as
	// "gpt-4o-2024-08-06" match the longest known prefix.
	Model string `yaml:"model" json:"model"`

	InputPricePerMillion  float64 `yaml:"input_price_per_million" json:"input_price_per_million"`
	OutputPricePerMillion float64 `yaml:"output_price_per_million" json:"output_price_per_million"`

	// Cache prices are zero when the provider has no prompt cache.
	CacheCreationPricePerMillion float64 `yaml:"cache_creation_price_per_million,omitempty" json:"cache_creation_price_per_million,omitempty"`
	CacheReadPricePerMillion     float64 `yaml:"cache_read_price_per_million,omitempty" json:"cache_read_price_per_million,omitempty"`

	EffectiveDate time.Time `yaml:"effective_date" json:"effective_date"`

	// IsSubscription marks models without per-token cost, such as local ones.
	IsSubscription bool `yaml:"is_subscription,omitempty" json:"is_subscription,omitempty"`
}

// PricingConfig is the on-disk pricing file format.
type PricingConfig struct {
	Version   string         `yaml:"version" json:"version"`
	UpdatedAt time.Time      `yaml:"updated_at" json:"updated_at"`
	Models    []ModelPricing `yaml:"models" json:"models"`
}

// Manager resolves model names to prices. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	models map[string]ModelPricing // provider:model
	byName map[string]string       // model -> provider:model
}

// NewManager returns a manager holding the built-in prices.
func NewManager() *Manager {
	m := &Manager{
		models: make(map[string]ModelPricing),
		byName: make(map[string]string),
	}
	m.merge(builtInPricing().Models)
	return m
}

// NewManagerFromFile returns a manager with the built-ins overridden by the
// pricing file at path. A missing file is not an error.
func NewManagerFromFile(path string) (*Manager, error) {
	m := NewManager()
	if path == "" {
		return m, nil
	}
	if err := m.LoadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return m, nil
}

// LoadFile merges the pricing file at path into the manager. Entries for an
// existing provider and model replace it.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}

	var cfg PricingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	for i, mp := range cfg.Models {
		if mp.Model == "" {
			return fmt.Errorf("pricing file %s: models[%d]: model is required", path, i)
		}
		if mp.InputPricePerMillion < 0 || mp.OutputPricePerMillion < 0 {
			return fmt.Errorf("pricing file %s: model %s: prices must not be negative", path, mp.Model)
		}
	}

	m.merge(cfg.Models)
	return nil
}

// Set adds or replaces the price of one model.
func (m *Manager) Set(mp ModelPricing) {
	m.merge([]ModelPricing{mp})
}

func (m *Manager) merge(models []ModelPricing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range models {
		key := mp.Provider + ":" + mp.Model
		m.models[key] = mp
		m.byName[mp.Model] = key
	}
}

// Lookup returns the price of model. The name may carry a "provider:"
// prefix; without one the provider is ignored. An exact match wins over the
// longest matching prefix.
func (m *Manager) Lookup(model string) (ModelPricing, bool) {
	provider, name := ParseModel(model)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if provider != "" {
		if mp, ok := m.models[provider+":"+name]; ok {
			return mp, true
		}
	} else if key, ok := m.byName[name]; ok {
		return m.models[key], true
	}

	var (
		best  ModelPricing
		found bool
	)
	for _, mp := range m.models {
		if provider != "" && mp.Provider != provider {
			continue
		}
		if !strings.HasPrefix(name, mp.Model) {
			continue
		}
		if !found || len(mp.Model) > len(best.Model) {
			best, found = mp, true
		}
	}
	return best, found
}

// Calculate returns the USD cost of a call to model with the given token
// counts. ok is false when the model has no known price.
func (m *Manager) Calculate(model string, inputTokens, outputTokens int64) (cost float64, ok bool) {
	mp, ok := m.Lookup(model)
	if !ok {
		return 0, false
	}
	info := CalculateCost(&mp, TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens})
	return info.Amount, true
}

// Models returns every known price sorted by provider then model.
func (m *Manager) Models() []ModelPricing {
	m.mu.RLock()
	out := make([]ModelPricing, 0, len(m.models))
	for _, mp := range m.models {
		out = append(out, mp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Stale returns the models whose price is older than maxAge at now.
func (m *Manager) Stale(now time.Time, maxAge time.Duration) []ModelPricing {
	var stale []ModelPricing
	for _, mp := range m.Models() {
		if !mp.EffectiveDate.IsZero() && now.Sub(mp.EffectiveDate) > maxAge {
			stale = append(stale, mp)
		}
	}
	return stale
}
