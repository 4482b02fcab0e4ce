package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
)

// Service is one bootstrappable external service.
type Service struct {
	Name          string
	Image         string
	ContainerName string

	// Ports are host:container mappings, e.g. "9200:9200".
	Ports []string
	Env   map[string]string

	// Endpoint is the address clients connect to.
	Endpoint string

	// ProbeURL is http(s)://... (2xx expected) or tcp://host:port.
	ProbeURL string

	SettleDelay time.Duration
}

// FromConfig builds the named service from its configuration section.
func FromConfig(cfg *config.Config, name string) (Service, error) {
	sc, ok := cfg.Services.ServiceByName(name)
	if !ok {
		return Service{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return Service{
		Name:          strings.ToLower(name),
		Image:         sc.Image,
		ContainerName: sc.ContainerName,
		Ports:         append([]string(nil), sc.Ports...),
		Env:           sc.Env,
		Endpoint:      sc.Endpoint,
		ProbeURL:      sc.ProbeURL,
		SettleDelay:   sc.SettleDelay.Duration(),
	}, nil
}

// AllFromConfig builds every configured service, keyed by name.
func AllFromConfig(cfg *config.Config) (map[string]Service, error) {
	out := make(map[string]Service, len(config.ServiceNames()))
	for _, name := range config.ServiceNames() {
		svc, err := FromConfig(cfg, name)
		if err != nil {
			return nil, err
		}
		out[name] = svc
	}
	return out, nil
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (s Service) EnvList() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// PortMapping is one parsed host:container port pair.
type PortMapping struct {
	Host      string
	Container string
}

// PortMappings parses Ports.
func (s Service) PortMappings() ([]PortMapping, error) {
	out := make([]PortMapping, 0, len(s.Ports))
	for _, p := range s.Ports {
		host, ctr, ok := strings.Cut(p, ":")
		if !ok || host == "" || ctr == "" {
			return nil, fmt.Errorf("service %s: invalid port mapping %q (want host:container)", s.Name, p)
		}
		out = append(out, PortMapping{Host: host, Container: ctr})
	}
	return out, nil
}
