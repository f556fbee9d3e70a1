package adapters

import (
	"fmt"
	"net/netip"
	"reflect"

	"github.com/google/uuid"

	"warden/internal/punishment/models"
	"warden/internal/storage/codec"
)

var (
	targetType = reflect.TypeFor[models.Target]()
	issuerType = reflect.TypeFor[models.Issuer]()
)

// TargetAdapter encodes the Target union with a kind discriminator.
type TargetAdapter struct{}

func (TargetAdapter) CanHandle(t reflect.Type) bool {
	if t == targetType {
		return true
	}
	switch t {
	case reflect.TypeFor[models.PlayerTarget](), reflect.TypeFor[models.AddressTarget](), reflect.TypeFor[models.IdentityTarget]():
		return true
	}
	return false
}

func (TargetAdapter) Serialize(v any) (codec.Document, error) {
	t, ok := v.(models.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a target", codec.ErrUnsupported, v)
	}
	return encodeTarget(t)
}

func (TargetAdapter) Deserialize(doc codec.Document, t reflect.Type) (any, error) {
	target, err := decodeTarget(doc)
	if err != nil {
		return nil, err
	}
	if t != targetType && reflect.TypeOf(target) != t {
		return nil, fmt.Errorf("%w: stored %s target cannot decode into %v", codec.ErrMalformed, target.Kind(), t)
	}
	return target, nil
}

func encodeTarget(t models.Target) (codec.Document, error) {
	doc := codec.Document{
		"kind":     string(t.Kind()),
		"id":       t.ID().String(),
		"name":     t.Name(),
		"lastSeen": codec.Millis(t.LastSeen()),
	}
	switch x := t.(type) {
	case models.PlayerTarget, models.IdentityTarget:
	case models.AddressTarget:
		if !x.Address.IsValid() {
			return nil, fmt.Errorf("%w: address target without an address", codec.ErrUnsupported)
		}
		doc["address"] = x.Address.String()
	default:
		return nil, fmt.Errorf("%w: target %T", codec.ErrUnsupported, t)
	}
	return doc, nil
}

func decodeTarget(doc codec.Document) (models.Target, error) {
	r := codec.NewReader(doc)
	kind := models.TargetKind(r.String("kind"))
	rawID := r.String("id")
	name := r.OptString("name")
	seen := r.OptTime("lastSeen")
	address := r.OptString("address")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: target id %q", codec.ErrMalformed, rawID)
	}

	switch kind {
	case models.TargetPlayer:
		return models.PlayerTarget{UUID: id, Username: name, Seen: seen}, nil
	case models.TargetAddress:
		addr, err := netip.ParseAddr(address)
		if err != nil {
			return nil, fmt.Errorf("%w: target address %q", codec.ErrMalformed, address)
		}
		label := name
		if label == addr.String() {
			label = ""
		}
		return models.AddressTarget{UUID: id, Address: addr, Label: label, Seen: seen}, nil
	case models.TargetIdentity:
		label := name
		if label == id.String() {
			label = ""
		}
		return models.IdentityTarget{UUID: id, Label: label, Seen: seen}, nil
	}
	return nil, fmt.Errorf("%w: unknown target kind %q", codec.ErrMalformed, kind)
}

// IssuerAdapter encodes the Issuer union. Permission checkers are runtime
// state and are not persisted; decoded players deny every permission.
type IssuerAdapter struct{}

func (IssuerAdapter) CanHandle(t reflect.Type) bool {
	return t == issuerType || t == reflect.TypeFor[models.PlayerIssuer]() || t == reflect.TypeFor[models.ConsoleIssuer]()
}

func (IssuerAdapter) Serialize(v any) (codec.Document, error) {
	i, ok := v.(models.Issuer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an issuer", codec.ErrUnsupported, v)
	}
	return encodeIssuer(i)
}

func (IssuerAdapter) Deserialize(doc codec.Document, t reflect.Type) (any, error) {
	issuer, err := decodeIssuer(doc)
	if err != nil {
		return nil, err
	}
	if t != issuerType && reflect.TypeOf(issuer) != t {
		return nil, fmt.Errorf("%w: stored %s issuer cannot decode into %v", codec.ErrMalformed, issuer.Kind(), t)
	}
	return issuer, nil
}

func encodeIssuer(i models.Issuer) (codec.Document, error) {
	switch x := i.(type) {
	case models.PlayerIssuer:
		return codec.Document{"kind": string(models.IssuerPlayer), "name": x.Username, "id": x.UUID.String()}, nil
	case models.ConsoleIssuer:
		return codec.Document{"kind": string(models.IssuerConsole), "name": models.ConsoleName}, nil
	}
	return nil, fmt.Errorf("%w: issuer %T", codec.ErrUnsupported, i)
}

func decodeIssuer(doc codec.Document) (models.Issuer, error) {
	r := codec.NewReader(doc)
	kind := models.IssuerKind(r.String("kind"))
	name := r.OptString("name")
	rawID := r.OptString("id")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}
	switch kind {
	case models.IssuerConsole:
		return models.ConsoleIssuer{}, nil
	case models.IssuerPlayer:
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("%w: issuer id %q", codec.ErrMalformed, rawID)
		}
		return models.PlayerIssuer{UUID: id, Username: name}, nil
	}
	return nil, fmt.Errorf("%w: unknown issuer kind %q", codec.ErrMalformed, kind)
}
