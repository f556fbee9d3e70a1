package models

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// TargetKind discriminates the Target union.
type TargetKind string

const (
	TargetPlayer   TargetKind = "player"
	TargetAddress  TargetKind = "address"
	TargetIdentity TargetKind = "identity"
)

// Target is the punished entity. It is a closed union: PlayerTarget,
// AddressTarget and IdentityTarget are the only implementations.
type Target interface {
	Kind() TargetKind
	ID() uuid.UUID
	Name() string
	LastSeen() time.Time
	sealedTarget()
}

// PlayerTarget is an account.
type PlayerTarget struct {
	UUID     uuid.UUID
	Username string
	Seen     time.Time
}

func (t PlayerTarget) Kind() TargetKind    { return TargetPlayer }
func (t PlayerTarget) ID() uuid.UUID       { return t.UUID }
func (t PlayerTarget) Name() string        { return t.Username }
func (t PlayerTarget) LastSeen() time.Time { return t.Seen }
func (PlayerTarget) sealedTarget()         {}

// AddressTarget is a network address. Its identity is derived from the
// address so every record against the same address shares an owner.
type AddressTarget struct {
	UUID    uuid.UUID
	Address netip.Addr
	Label   string
	Seen    time.Time
}

// addressNamespace scopes address-derived identities.
var addressNamespace = uuid.MustParse("6f0e3c1e-9a55-4d55-a1a4-3c1f6b0d2a9e")

// AddressID returns the stable identity for a network address.
func AddressID(addr netip.Addr) uuid.UUID {
	return uuid.NewSHA1(addressNamespace, []byte(addr.Unmap().String()))
}

// NewAddressTarget builds an AddressTarget with its derived identity.
func NewAddressTarget(addr netip.Addr, label string, seen time.Time) AddressTarget {
	return AddressTarget{UUID: AddressID(addr), Address: addr.Unmap(), Label: label, Seen: seen}
}

func (t AddressTarget) Kind() TargetKind { return TargetAddress }
func (t AddressTarget) ID() uuid.UUID    { return t.UUID }
func (t AddressTarget) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Address.String()
}
func (t AddressTarget) LastSeen() time.Time { return t.Seen }
func (AddressTarget) sealedTarget()         {}

// IdentityTarget references a raw identity with no resolved account.
type IdentityTarget struct {
	UUID  uuid.UUID
	Label string
	Seen  time.Time
}

func (t IdentityTarget) Kind() TargetKind { return TargetIdentity }
func (t IdentityTarget) ID() uuid.UUID    { return t.UUID }
func (t IdentityTarget) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.UUID.String()
}
func (t IdentityTarget) LastSeen() time.Time { return t.Seen }
func (IdentityTarget) sealedTarget()         {}


// validateTarget rejects targets no backend could store or query by owner.
func validateTarget(t Target) error {
	if t == nil {
		return dErrors.New(dErrors.CodeValidation, "target is required")
	}
	if t.ID() == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "target id is required")
	}
	if a, ok := t.(AddressTarget); ok && !a.Address.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "address target needs a valid address")
	}
	return nil
}
