package models

import "github.com/google/uuid"

// IssuerKind discriminates the Issuer union.
type IssuerKind string

const (
	IssuerPlayer  IssuerKind = "player"
	IssuerConsole IssuerKind = "console"
)

// ConsoleName is the display name of the console issuer.
const ConsoleName = "CONSOLE"

// Issuer is the entity that imposed or changed a punishment. It is a closed
// union: PlayerIssuer and ConsoleIssuer.
type Issuer interface {
	Kind() IssuerKind
	Name() string
	ID() (uuid.UUID, bool)
	HasPermission(node string) bool
	sealedIssuer()
}

// PermissionChecker answers permission queries for a player issuer. The
// command layer supplies it; decoded issuers carry none and deny everything.
type PermissionChecker func(node string) bool

// PlayerIssuer is a player acting through the command layer.
type PlayerIssuer struct {
	UUID        uuid.UUID
	Username    string
	Permissions PermissionChecker
}

func (i PlayerIssuer) Kind() IssuerKind      { return IssuerPlayer }
func (i PlayerIssuer) Name() string          { return i.Username }
func (i PlayerIssuer) ID() (uuid.UUID, bool) { return i.UUID, true }
func (i PlayerIssuer) HasPermission(node string) bool {
	return i.Permissions != nil && i.Permissions(node)
}
func (PlayerIssuer) sealedIssuer() {}

// ConsoleIssuer is the server console / system. It holds every permission.
type ConsoleIssuer struct{}

// Console is the console issuer.
var Console Issuer = ConsoleIssuer{}

func (ConsoleIssuer) Kind() IssuerKind          { return IssuerConsole }
func (ConsoleIssuer) Name() string              { return ConsoleName }
func (ConsoleIssuer) ID() (uuid.UUID, bool)     { return uuid.Nil, false }
func (ConsoleIssuer) HasPermission(string) bool { return true }
func (ConsoleIssuer) sealedIssuer()             {}
