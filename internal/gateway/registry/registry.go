package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
	"gopkg.in/yaml.v3"
)

// Source is a backing catalog of service configs. GetServiceConfig returns
// nil, nil for unknown names.
type Source interface {
	GetServiceConfig(ctx context.Context, name string) (*models.ServiceConfig, error)
	ListServiceConfigs(ctx context.Context) ([]models.ServiceConfig, error)
}

// Writer persists service configs
type Writer interface {
	UpsertServiceConfig(ctx context.Context, svc *models.ServiceConfig) error
}

// Defaults fill in zero-valued limits on incomplete configs
type Defaults struct {
	RateLimitPerMinute int
	TimeoutSeconds     int
}

// Registry resolves service configs by name
type Registry struct {
	source   Source
	defaults Defaults
}

// New creates a registry over source
func New(source Source, defaults Defaults) *Registry {
	return &Registry{source: source, defaults: defaults}
}

// Lookup returns the named service, or nil, nil when it is not configured
func (r *Registry) Lookup(ctx context.Context, name string) (*models.ServiceConfig, error) {
	svc, err := r.source.GetServiceConfig(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load service %s: %w", name, err)
	}
	if svc == nil {
		return nil, nil
	}

	applied := r.applyDefaults(*svc)
	return &applied, nil
}

// List returns all configured services
func (r *Registry) List(ctx context.Context) ([]models.ServiceConfig, error) {
	services, err := r.source.ListServiceConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	for i := range services {
		services[i] = r.applyDefaults(services[i])
	}
	return services, nil
}

func (r *Registry) applyDefaults(svc models.ServiceConfig) models.ServiceConfig {
	if svc.RateLimitPerMinute <= 0 {
		svc.RateLimitPerMinute = r.defaults.RateLimitPerMinute
	}
	if svc.TimeoutSeconds <= 0 {
		svc.TimeoutSeconds = r.defaults.TimeoutSeconds
	}
	if svc.CacheDurationMinutes < 0 {
		svc.CacheDurationMinutes = 0
	}
	return svc
}

// Static is an immutable catalog loaded once at boot
type Static struct {
	services map[string]models.ServiceConfig
}

// NewStatic builds a static catalog. Names must be unique.
func NewStatic(services []models.ServiceConfig) (*Static, error) {
	s := &Static{services: make(map[string]models.ServiceConfig, len(services))}
	for _, svc := range services {
		if _, dup := s.services[svc.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		s.services[svc.Name] = svc
	}
	return s, nil
}

func (s *Static) GetServiceConfig(_ context.Context, name string) (*models.ServiceConfig, error) {
	svc, ok := s.services[name]
	if !ok {
		return nil, nil
	}
	return &svc, nil
}

func (s *Static) ListServiceConfigs(_ context.Context) ([]models.ServiceConfig, error) {
	services := make([]models.ServiceConfig, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

type catalogFile struct {
	Services []models.ServiceConfig `yaml:"services"`
}

// LoadFile reads a YAML service catalog
func LoadFile(path string) ([]models.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML service catalog
func Parse(data []byte) ([]models.ServiceConfig, error) {
	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse service catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Services))
	for i, svc := range catalog.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d: name is required", i)
		}
		if seen[svc.Name] {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		if !strings.HasPrefix(svc.BaseURL, "https://") && !strings.HasPrefix(svc.BaseURL, "http://") {
			return nil, fmt.Errorf("service %s: base_url must be an http(s) URL", svc.Name)
		}
	}

	return catalog.Services, nil
}

// Seed upserts every service into w
func Seed(ctx context.Context, w Writer, services []models.ServiceConfig) error {
	for i := range services {
		if err := w.UpsertServiceConfig(ctx, &services[i]); err != nil {
			return err
		}
	}
	return nil
}

// Install makes a loaded catalog visible to lookups. With a nil writer the
// catalog becomes a Static source; otherwise it is seeded into w and src
// is returned unchanged.
func Install(ctx context.Context, services []models.ServiceConfig, src Source, w Writer) (Source, error) {
	if w == nil {
		return NewStatic(services)
	}
	if err := Seed(ctx, w, services); err != nil {
		return nil, err
	}
	return src, nil
}
