package hub

import (
	"io"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
)

// Event names written on SSE streams.
const (
	EventConnected = "connected"
	EventKeepAlive = "keepalive"
	EventMessage   = "message"
)

// ConnectedPayload is the first frame a client receives.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	Timestamp    string `json:"timestamp"`
}

// writeSSE frames data as one Server-Sent Event. Multi-line data is
// split into several data fields by the encoder.
func writeSSE(w io.Writer, event, id string, data any) error {
	return sse.Encode(w, sse.Event{
		Id:    id,
		Event: event,
		Data:  data,
	})
}

func keepAliveFrame(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}
