// Package endpoint specializes the generic resource broker to named
// localhost endpoints: (name, port) tuples with a DNS-label naming policy
// and a pure URL-construction function.
package endpoint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edhor1608/stead/internal/resource"
	"github.com/edhor1608/stead/internal/steaderr"
)

// Kind is the resource kind this broker registers leases under.
const Kind = "endpoint"

var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Endpoint is the externally observable claim: a name bound to a port.
type Endpoint struct {
	Name  string
	Port  int
	Owner string
}

// URL returns http://<name>.localhost:<port>, a pure function of the
// lease.
func (e Endpoint) URL() string {
	return fmt.Sprintf("http://%s.localhost:%d", e.Name, e.Port)
}

// Broker claims and releases named localhost endpoints.
type Broker struct {
	inner *resource.Broker
}

// New constructs an endpoint broker over the given port range and lease
// store.
func New(rng resource.Range, store resource.Store) *Broker {
	return &Broker{inner: resource.New(Kind, rng, store)}
}

// NormalizeName lowercases a caller-supplied name. The caller is
// responsible for deriving names (e.g. from a project path hash); the
// broker only enforces the DNS-label regex on the result.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateName(name string) error {
	if !nameRE.MatchString(name) || len(name) > 63 {
		return steaderr.NewInvalidPayload("name", fmt.Sprintf("%q is not a valid DNS label", name))
	}
	return nil
}

// Claim negotiates a port for name, honoring requestedPort as a
// preference within range. Out-of-range requested ports are ignored in
// favor of auto-assignment.
func (b *Broker) Claim(name string, requestedPort int, owner string) (Endpoint, error) {
	name = NormalizeName(name)
	if err := validateName(name); err != nil {
		return Endpoint{}, err
	}
	lease, err := b.inner.Claim(name, requestedPort, owner)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Name: lease.Name, Port: lease.Value, Owner: lease.Owner}, nil
}

// Release gives up a held endpoint lease.
func (b *Broker) Release(name, owner string) error {
	return b.inner.Release(NormalizeName(name), owner)
}

// List returns active endpoints ordered by name ascending.
func (b *Broker) List() ([]Endpoint, error) {
	leases, err := b.inner.List()
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, len(leases))
	for i, l := range leases {
		out[i] = Endpoint{Name: l.Name, Port: l.Value, Owner: l.Owner}
	}
	return out, nil
}
