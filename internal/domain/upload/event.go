package upload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvent is returned when an upload event payload does not match
// the event schema.
var ErrInvalidEvent = errors.New("invalid upload event")

var validate = validator.New()

// Event is emitted once an object has been durably stored.
type Event struct {
	ContainerRef string    `json:"containerRef" validate:"required,max=255"`
	ObjectKey    string    `json:"objectKey"    validate:"required,max=1024"`
	OccurredAt   time.Time `json:"occurredAt"   validate:"required"`
}

// Validate checks the event against its schema.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Encode validates the event and renders its wire form.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEvent parses and validates an upload event. Partially populated
// or otherwise mismatched payloads fail with ErrInvalidEvent.
func DecodeEvent(data []byte) (Event, error) {
	var e Event

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	// Exactly one JSON value; trailing whitespace is fine.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Event{}, fmt.Errorf("%w: trailing data after event", ErrInvalidEvent)
	}

	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// DerivedObject describes a variant produced from a source object.
type DerivedObject struct {
	SourceKey  string `json:"sourceKey"`
	DerivedKey string `json:"derivedKey"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}
