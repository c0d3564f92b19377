package neuron

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/axone/ax-server/internal/domain/cell"
)

var ErrNotFound = errors.New("neuron not found")

// Neuron joins a cell to an optional containing bucket neuron (axone) and a
// set of dendrite neurons.
type Neuron struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"user"`
	CellID    string    `json:"cell"`
	AxoneID   *string   `json:"axone,omitempty"`
	Dendrites []string  `json:"dendrites"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// View is a neuron with its cell and axone references populated.
type View struct {
	ID        string        `json:"_id"`
	Cell      cell.NameID   `json:"cell"`
	Axone     *cell.NameID  `json:"axone,omitempty"`
	Dendrites []cell.NameID `json:"dendrites"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Item is the flattened cell-first projection served by the items listing.
type Item struct {
	ID        string        `json:"_id"`
	Name      string        `json:"name"`
	NeuronID  string        `json:"__neuron"`
	Dendrites []cell.NameID `json:"__dendrites"`
}

// DendriteRef is one entry of an incoming dendrites list: either an existing
// neuron by id or a new target by name.
type DendriteRef struct {
	ID   string `json:"_id" binding:"omitempty,uuid"`
	Name string `json:"name"`
}

type CreateRequest struct {
	CellID    string   `json:"cell" binding:"required,uuid"`
	AxoneID   *string  `json:"axone" binding:"omitempty,uuid"`
	Dendrites []string `json:"dendrites" binding:"omitempty,dive,uuid"`
}

// OptionalID is a patch field that tells an absent key apart from an explicit
// null: {"axone": null} detaches the reference, a missing key keeps it.
type OptionalID struct {
	Set   bool
	Value *string
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true

	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}

	return json.Unmarshal(data, &o.Value)
}

type UpdateRequest struct {
	AxoneID   OptionalID `json:"axone"`
	Dendrites *[]string  `json:"dendrites" binding:"omitempty,dive,uuid"`
}

// AttachRequest is the neuron half of an item payload; the owning cell comes
// from the cell half of the same request.
type AttachRequest struct {
	AxoneID   *string       `json:"axone" binding:"omitempty,uuid"`
	Dendrites []DendriteRef `json:"dendrites"`
}

// ListFilter narrows neuron queries. Axone distinguishes "absent" (nil, no
// filter) from "present but empty" (root neurons, axone IS NULL).
type ListFilter struct {
	Axone *string
	Cell  *string
}
