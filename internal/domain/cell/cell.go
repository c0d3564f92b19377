package cell

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("cell not found")

// BucketName is the well-known cell anchoring newly created dendrite
// targets. The bucket is created lazily, once per user.
const BucketName = "Dendrites"

type Cell struct {
	ID         string         `json:"_id"`
	UserID     string         `json:"user"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}

// UpsertRequest carries the cell half of an item payload. With ID set the
// cell is updated in place; without it the (user, name) pair selects or
// creates the row.
type UpsertRequest struct {
	ID         string         `json:"_id" binding:"omitempty,uuid"`
	Name       string         `json:"name" binding:"required"`
	Properties map[string]any `json:"properties"`
}

// NameID is the projection used everywhere a cell or neuron is referenced
// by id plus display name.
type NameID struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}
