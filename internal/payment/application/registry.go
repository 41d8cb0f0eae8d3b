package application

import (
	"log/slog"
	"sort"
	"strings"
)

// ProviderFactory builds the provider for one method code.
type ProviderFactory func() (Provider, error)

type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds the method → provider map from the enabled codes.
// Codes without a factory are skipped.
func NewRegistry(log *slog.Logger, enabled []string, factories map[string]ProviderFactory) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(enabled))}
	for _, code := range enabled {
		key := normalizeMethod(code)
		if key == "" {
			continue
		}
		if _, ok := r.providers[key]; ok {
			continue
		}
		factory, ok := factories[key]
		if !ok {
			log.Warn("no provider implementation for method", "method", key)
			continue
		}
		p, err := factory()
		if err != nil {
			return nil, err
		}
		r.providers[key] = p
		log.Info("provider registered", "method", key)
	}
	return r, nil
}

// RegistryOf builds a registry from ready-made providers.
func RegistryOf(providers map[string]Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for code, p := range providers {
		r.providers[normalizeMethod(code)] = p
	}
	return r
}

func (r *Registry) Resolve(method string) (Provider, bool) {
	p, ok := r.providers[normalizeMethod(method)]
	return p, ok
}

// Codes returns the registered method codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.providers))
	for c := range r.providers {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
