package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"containerRef":"images-dev","objectKey":"a/b.png","occurredAt":"2026-10-19T08:30:00Z"}`))
	require.NoError(t, err)

	assert.Equal(t, "images-dev", e.ContainerRef)
	assert.Equal(t, "a/b.png", e.ObjectKey)
	assert.True(t, e.OccurredAt.Equal(time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)))
}

func TestDecodeEvent_TrailingWhitespace(t *testing.T) {
	_, err := DecodeEvent([]byte("{\"containerRef\":\"images\",\"objectKey\":\"k\",\"occurredAt\":\"2026-10-19T08:30:00Z\"}\n"))
	require.NoError(t, err)
}

func TestDecodeEvent_SchemaMismatch(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing key":       `{"containerRef":"images","occurredAt":"2026-10-19T08:30:00Z"}`,
		"missing container": `{"objectKey":"k","occurredAt":"2026-10-19T08:30:00Z"}`,
		"missing time":      `{"containerRef":"images","objectKey":"k"}`,
		"bad time":          `{"containerRef":"images","objectKey":"k","occurredAt":"yesterday"}`,
		"unknown field":     `{"containerRef":"images","objectKey":"k","occurredAt":"2026-10-19T08:30:00Z","size":3}`,
		"wrong type":        `{"containerRef":1,"objectKey":"k","occurredAt":"2026-10-19T08:30:00Z"}`,
		"trailing object":   `{"containerRef":"images","objectKey":"k","occurredAt":"2026-10-19T08:30:00Z"}{"x":1}`,
		"trailing junk":     `{"containerRef":"images","objectKey":"k","occurredAt":"2026-10-19T08:30:00Z"} junk`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(payload))
			require.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestEvent_EncodeRejectsPartialEvent(t *testing.T) {
	_, err := Event{ContainerRef: "images"}.Encode()
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNotification_WireFormat(t *testing.T) {
	e := Event{ContainerRef: "images", ObjectKey: "cat.jpg", OccurredAt: time.Now()}

	b, err := NewNotification(e).Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"upload","data":{"containerRef":"images","objectKey":"cat.jpg"}}`, string(b))
}
