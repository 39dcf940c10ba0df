// Package identity correlates locally owned identifiers with the identifiers
// assigned by the remote workflow engine.
//
// Local identifiers are minted here and never derived from remote ones, so a
// failed or replaced engine cannot corrupt what clients see.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind names the entity a correlation belongs to.
type Kind string

const (
	KindPipeline Kind = "pipeline"
	KindRun      Kind = "run"
)

// IDLength is the length of a local or remote identifier (UUID hex without dashes).
const IDLength = 32

var (
	// ErrAlreadyBound is returned when a local id is bound to a second, different remote id.
	ErrAlreadyBound = errors.New("identity: local id already bound to a different remote id")
	// ErrNotMaterialized is returned when a local entity has no remote counterpart yet.
	ErrNotMaterialized = errors.New("identity: entity not materialized remotely")
	// ErrUnknown is returned when no correlation exists for the requested id.
	ErrUnknown = errors.New("identity: unknown id")
	// ErrMalformed is returned when a remote id does not have the identifier shape.
	ErrMalformed = errors.New("identity: malformed remote id")
)

// Mint returns a fresh client-facing identifier.
func Mint() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s has the shape of an identifier.
func Valid(s string) bool {
	if len(s) != IDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindPipeline:
		return KindPipeline, nil
	case KindRun:
		return KindRun, nil
	}
	return "", fmt.Errorf("identity: unknown kind %q", s)
}

// Correlation links one local id to at most one remote id.
type Correlation struct {
	Kind   Kind
	Local  string
	Remote string
}

// Materialized reports whether the remote side is known.
func (c Correlation) Materialized() bool {
	return c.Remote != ""
}

// Bind records the remote id. Binding the same remote id twice is a no-op;
// binding a different one fails. Remote ids are stored in the same 32 character
// columns as local ones, so anything else is refused before it reaches a row.
func (c *Correlation) Bind(remote string) error {
	if remote == "" {
		return fmt.Errorf("identity: empty remote id for %s %s", c.Kind, c.Local)
	}
	if !Valid(remote) {
		return fmt.Errorf("%w: %q for %s %s", ErrMalformed, remote, c.Kind, c.Local)
	}
	if c.Remote != "" && c.Remote != remote {
		return fmt.Errorf("%w: %s %s -> %s", ErrAlreadyBound, c.Kind, c.Local, c.Remote)
	}
	c.Remote = remote
	return nil
}

// Resolver looks correlations up on the rows that own them. A non-empty org
// limits the lookup to rows of that organization; an empty org searches every
// organization.
type Resolver interface {
	RemoteID(ctx context.Context, org string, kind Kind, local string) (string, error)
	LocalID(ctx context.Context, org string, kind Kind, remote string) (string, error)
}

// Mapper resolves identifiers in either direction.
type Mapper struct {
	resolver Resolver
}

// NewMapper creates a Mapper over resolver.
func NewMapper(resolver Resolver) *Mapper {
	return &Mapper{resolver: resolver}
}

// ResolveRemote returns the remote id bound to local. Ids owned by another
// organization than org resolve as unknown.
func (m *Mapper) ResolveRemote(ctx context.Context, org string, kind Kind, local string) (string, error) {
	if !Valid(local) {
		return "", fmt.Errorf("%w: %q", ErrUnknown, local)
	}
	remote, err := m.resolver.RemoteID(ctx, org, kind, local)
	if err != nil {
		return "", err
	}
	if remote == "" {
		return "", fmt.Errorf("%w: %s %s", ErrNotMaterialized, kind, local)
	}
	return remote, nil
}

// ResolveLocal returns the local id bound to remote within org.
func (m *Mapper) ResolveLocal(ctx context.Context, org string, kind Kind, remote string) (string, error) {
	if remote == "" {
		return "", fmt.Errorf("%w: empty remote id", ErrUnknown)
	}
	return m.resolver.LocalID(ctx, org, kind, remote)
}
