package adapters

import (
	"warden/internal/punishment/models"
	"warden/internal/storage/codec"
)

// NewRegistry returns a codec registry holding every punishment adapter.
func NewRegistry(types *models.TypeRegistry) *codec.Registry {
	return codec.NewRegistry(
		NewRecordAdapter(types),
		RevisionAdapter{},
		TargetAdapter{},
		IssuerAdapter{},
	)
}
