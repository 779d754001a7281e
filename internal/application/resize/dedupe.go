package resize

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"go-upload-notifier/internal/domain/upload"
)

// dedupe remembers recently completed events so redeliveries skip the
// fetch and re-encode. Forgetting is harmless: the derived write is
// idempotent.
type dedupe struct {
	c   *ristretto.Cache[string, struct{}]
	ttl time.Duration
}

func newDedupe(maxCost int64, ttl time.Duration) (*dedupe, error) {
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		// ~10x the expected items at ~100 bytes a key.
		NumCounters: max(maxCost/10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &dedupe{c: c, ttl: ttl}, nil
}

func eventKey(e upload.Event) string {
	return e.ContainerRef + "\x00" + e.ObjectKey + "\x00" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
}

func (d *dedupe) seen(e upload.Event) bool {
	_, ok := d.c.Get(eventKey(e))
	return ok
}

func (d *dedupe) mark(e upload.Event) {
	k := eventKey(e)
	d.c.SetWithTTL(k, struct{}{}, int64(len(k)), d.ttl)
	d.c.Wait()
}

func (d *dedupe) close() {
	d.c.Close()
}
