package profile

import (
	"fmt"

	"bucketview/internal/endpoint"
)

// Profile holds the credentials and endpoint for one configured connection.
// The core only ever reads profiles; nothing downstream mutates them.
type Profile struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
	Insecure  bool   `yaml:"insecure"`
}

// Registry resolves profile names to profiles and their parsed endpoints.
type Registry struct {
	byName map[string]Profile
}

// NewRegistry builds a registry, rejecting duplicate names and profiles
// whose endpoint string does not parse.
func NewRegistry(profiles []Profile) (*Registry, error) {
	byName := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("profile with empty name")
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		if _, err := endpoint.Parse(p.Endpoint, p.hints()); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		byName[p.Name] = p
	}
	return &Registry{byName: byName}, nil
}

// Resolve returns the named profile and its parsed endpoint.
func (r *Registry) Resolve(name string) (Profile, endpoint.StorageEndpoint, error) {
	p, ok := r.byName[name]
	if !ok {
		return Profile{}, endpoint.StorageEndpoint{}, fmt.Errorf("unknown profile %q", name)
	}
	ep, err := endpoint.Parse(p.Endpoint, p.hints())
	if err != nil {
		return Profile{}, endpoint.StorageEndpoint{}, err
	}
	return p, ep, nil
}

// Names returns all registered profile names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func (p Profile) hints() endpoint.Hints {
	return endpoint.Hints{
		Region:    p.Region,
		PathStyle: p.PathStyle,
		Insecure:  p.Insecure,
	}
}
