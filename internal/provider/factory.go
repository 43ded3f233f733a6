package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"evolve/internal/config"
	"evolve/internal/domain"
)

// ErrNoneEnabled is returned when neither the configured provider nor any
// failover entry is enabled.
var ErrNoneEnabled = errors.New("no enabled generation provider")

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, f *Factory) domain.Provider

// Factory creates and caches generation providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *httpClientOnce
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       &httpClientOnce{timeout: cfg.Generation.Timeout()},
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

// registerDefaults registers all built-in provider constructors.
func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, f *Factory) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Client:  f.client.get(),
			Logger:  f.logger,
		})
	}
	// Gemini is reached through its OpenAI-compatible endpoint.
	f.constructors["gemini"] = f.constructors["openai"]
	f.constructors["ollama"] = func(_ string, pc config.ProviderConfig, f *Factory) domain.Provider {
		return NewOllama(OllamaConfig{
			APIBase:      pc.APIBase,
			DefaultModel: pc.DefaultModel,
			Client:       f.client.get(),
			Logger:       f.logger,
		})
	}
}

// kind picks the constructor for a provider entry: the explicit kind,
// otherwise the entry name itself.
func kind(name string, pc config.ProviderConfig) string {
	if pc.Kind != "" {
		return pc.Kind
	}
	return name
}

// Get returns the provider with the given name, or the configured generation
// provider if name is empty. Created providers are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Generation.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check under write lock (another goroutine may have created it).
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[kind(name, pc)]; found {
		p = ctor(name, pc, f)
	} else if pc.APIBase != "" {
		// Unknown kinds with an endpoint are treated as OpenAI-compatible.
		p = f.constructors["openai"](name, pc, f)
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Generator returns the provider the reminder composer should use: the
// configured provider, wrapped in a FailoverProvider when a failover chain
// is configured. Disabled chain entries are skipped. ErrNoneEnabled means
// reminders should use fallback text only.
func (f *Factory) Generator() (domain.Provider, error) {
	names := []string{f.cfg.Generation.Provider}
	for _, n := range f.cfg.Generation.FailoverChain {
		if n != names[0] {
			names = append(names, n)
		}
	}

	var chain []domain.Provider
	for _, n := range names {
		if n == "" {
			continue
		}
		p, err := f.Get(n)
		if err != nil {
			f.logger.Debug("provider skipped", "provider", n, "err", err)
			continue
		}
		chain = append(chain, p)
	}

	switch len(chain) {
	case 0:
		return nil, ErrNoneEnabled
	case 1:
		return chain[0], nil
	default:
		return NewFailoverProvider(chain, f.logger), nil
	}
}

// ProviderHealth is the outcome of one health probe.
type ProviderHealth struct {
	Name    string
	Enabled bool
	Err     error
}

// CheckAll probes every configured provider, sorted by name. Disabled
// providers are reported but not contacted.
func (f *Factory) CheckAll(ctx context.Context) []ProviderHealth {
	names := make([]string, 0, len(f.cfg.Providers))
	for n := range f.cfg.Providers {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]ProviderHealth, 0, len(names))
	for _, n := range names {
		h := ProviderHealth{Name: n, Enabled: f.cfg.Providers[n].Enabled}
		if h.Enabled {
			p, err := f.Get(n)
			if err == nil {
				err = p.Healthy(ctx)
			}
			h.Err = err
		}
		out = append(out, h)
	}
	return out
}

// httpClientOnce lazily builds the shared client on first provider creation.
type httpClientOnce struct {
	once    sync.Once
	timeout time.Duration
	client  *http.Client
}

func (c *httpClientOnce) get() *http.Client {
	c.once.Do(func() { c.client = SharedHTTPClient(c.timeout) })
	return c.client
}
