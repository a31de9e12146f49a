package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

var (
	// ErrSecretMissing means a required secret is not present in the store
	ErrSecretMissing = errors.New("secret not configured")

	// ErrNoPlacement means the service requires a credential but has no
	// descriptor saying where it goes
	ErrNoPlacement = errors.New("no credential placement configured")
)

// SecretStore looks up named secrets
type SecretStore interface {
	// LookupSecret returns the value and whether it exists
	LookupSecret(ctx context.Context, name string) (string, bool, error)
}

// EnvStore reads secrets from environment variables, optionally prefixed.
// With prefix "GATEWAY_SECRET_" the secret NEWS_API_KEY is read from
// GATEWAY_SECRET_NEWS_API_KEY.
type EnvStore struct {
	Prefix string
}

func (s EnvStore) LookupSecret(_ context.Context, name string) (string, bool, error) {
	value, ok := os.LookupEnv(s.Prefix + name)
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// StaticStore serves secrets from a fixed map
type StaticStore map[string]string

func (s StaticStore) LookupSecret(_ context.Context, name string) (string, bool, error) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Resolver maps services to their credentials. Callers only ever see a
// Secret or a boolean.
type Resolver struct {
	store       SecretStore
	descriptors map[string]Descriptor
}

// NewResolver creates a resolver. A nil descriptor table uses DefaultDescriptors.
func NewResolver(store SecretStore, descriptors map[string]Descriptor) *Resolver {
	if descriptors == nil {
		descriptors = DefaultDescriptors
	}
	return &Resolver{store: store, descriptors: descriptors}
}

// Descriptor returns the provider description for a service
func (r *Resolver) Descriptor(serviceName string) (Descriptor, bool) {
	d, ok := r.descriptors[serviceName]
	return d, ok
}

// HasSecret reports whether the service's secret is present
func (r *Resolver) HasSecret(ctx context.Context, serviceName string) (bool, error) {
	d, ok := r.descriptors[serviceName]
	if !ok || d.SecretName == "" {
		return false, nil
	}

	_, found, err := r.store.LookupSecret(ctx, d.SecretName)
	if err != nil {
		return false, fmt.Errorf("secret lookup for %s failed: %w", serviceName, err)
	}
	return found, nil
}

// Resolve returns the credential and its placement for svc. Services that
// don't require a credential resolve to a zero Secret.
func (r *Resolver) Resolve(ctx context.Context, svc models.ServiceConfig) (Secret, Placement, error) {
	if !svc.RequiresCredential {
		return Secret{}, Placement{}, nil
	}

	d, ok := r.descriptors[svc.Name]
	if !ok || d.SecretName == "" || d.Placement.Param == "" {
		return Secret{}, Placement{}, ErrNoPlacement
	}

	value, found, err := r.store.LookupSecret(ctx, d.SecretName)
	if err != nil {
		return Secret{}, Placement{}, fmt.Errorf("secret lookup for %s failed: %w", svc.Name, err)
	}
	if !found {
		return Secret{}, Placement{}, ErrSecretMissing
	}

	return NewSecret(value), d.Placement, nil
}

// Status reports secret presence for svc without exposing the value
func (r *Resolver) Status(ctx context.Context, svc models.ServiceConfig) (models.SecretStatus, error) {
	d := r.descriptors[svc.Name]

	has, err := r.HasSecret(ctx, svc.Name)
	if err != nil {
		return models.SecretStatus{}, err
	}

	return models.SecretStatus{
		ServiceName: svc.Name,
		SecretName:  d.SecretName,
		HasSecret:   has,
		IsRequired:  svc.RequiresCredential,
	}, nil
}
