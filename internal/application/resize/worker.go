// Package resize derives thumbnails from uploaded images.
package resize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel/metric/noop"

	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/broker"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/objectstore"
	"go-upload-notifier/internal/infrastructure/telemetry"
)

var (
	// ErrSourceObjectMissing means the uploaded object no longer exists.
	ErrSourceObjectMissing = errors.New("source object missing")

	// ErrMalformedObject means the object is not an image we can decode.
	ErrMalformedObject = errors.New("malformed object")

	// ErrStorageWrite means the thumbnail could not be stored.
	ErrStorageWrite = errors.New("storage write failed")
)

type Options struct {
	MaxDimension int
	// MaxPixels bounds width*height of a source image before it is decoded.
	MaxPixels int64
	// DerivedPrefix is prepended to the source key to form the thumbnail key.
	DerivedPrefix string
	// DerivedContainer receives thumbnails; empty means the source container.
	DerivedContainer string
	DedupeTTL        time.Duration
	DedupeCacheBytes int64
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = 100
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = 50_000_000
	}
	if o.DerivedPrefix == "" {
		o.DerivedPrefix = "thumbnails/"
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = time.Hour
	}
	return o
}

type Worker struct {
	store   objectstore.Store
	opts    Options
	dedupe  *dedupe
	logger  logger.Logger
	metrics *telemetry.ResizeMetrics
}

// New builds a Worker. metrics may be nil.
func New(store objectstore.Store, opts Options, log logger.Logger, metrics *telemetry.ResizeMetrics) (*Worker, error) {
	opts = opts.withDefaults()

	d, err := newDedupe(opts.DedupeCacheBytes, opts.DedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	if metrics == nil {
		metrics, _ = telemetry.NewResizeMetrics(noop.NewMeterProvider())
	}

	return &Worker{
		store:   store,
		opts:    opts,
		dedupe:  d,
		logger:  log.WithField("component", "resize"),
		metrics: metrics,
	}, nil
}

// Close releases the dedupe cache.
func (w *Worker) Close() {
	w.dedupe.close()
}

// DerivedKey is where the thumbnail of objectKey is stored.
func (w *Worker) DerivedKey(objectKey string) string {
	return w.opts.DerivedPrefix + objectKey
}

func (w *Worker) derivedContainer(source string) string {
	if w.opts.DerivedContainer != "" {
		return w.opts.DerivedContainer
	}
	return source
}

// isDerived reports whether e is about a thumbnail this worker wrote.
func (w *Worker) isDerived(e upload.Event) bool {
	return e.ContainerRef == w.derivedContainer(e.ContainerRef) &&
		strings.HasPrefix(e.ObjectKey, w.opts.DerivedPrefix)
}

// Handle is the broker handler for upload events. Missing and malformed
// objects are terminal; everything else is retried.
func (w *Worker) Handle(ctx context.Context, data []byte) error {
	e, err := upload.DecodeEvent(data)
	if err != nil {
		return broker.Terminal(err)
	}

	log := w.logger.WithFields(logger.Fields{"container": e.ContainerRef, "key": e.ObjectKey})

	if w.isDerived(e) {
		log.Debug("skipping derived object")
		w.metrics.Skipped.Add(ctx, 1)
		return nil
	}
	if w.dedupe.seen(e) {
		log.Debug("skipping already processed event")
		w.metrics.Skipped.Add(ctx, 1)
		return nil
	}

	derived, err := w.Process(ctx, e)
	switch {
	case err == nil:
	case errors.Is(err, ErrSourceObjectMissing), errors.Is(err, ErrMalformedObject):
		return broker.Terminal(err)
	default:
		return err
	}

	w.dedupe.mark(e)
	w.metrics.Derived.Add(ctx, 1)
	log.WithFields(logger.Fields{
		"derived_key": derived.DerivedKey,
		"width":       derived.Width,
		"height":      derived.Height,
	}).Info("thumbnail stored")
	return nil
}

// Process fetches the source object, scales it down and stores the
// result. It performs exactly one write when it succeeds.
func (w *Worker) Process(ctx context.Context, e upload.Event) (upload.DerivedObject, error) {
	ctx, span := telemetry.StartResizeSpan(ctx, e.ContainerRef, e.ObjectKey)
	defer span.End()

	data, _, err := w.store.Get(ctx, e.ContainerRef, e.ObjectKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return upload.DerivedObject{}, fmt.Errorf("%w: %w", ErrSourceObjectMissing, err)
		}
		if errors.Is(err, objectstore.ErrTooLarge) {
			return upload.DerivedObject{}, fmt.Errorf("%w: %w", ErrMalformedObject, err)
		}
		return upload.DerivedObject{}, fmt.Errorf("fetch %s/%s: %w", e.ContainerRef, e.ObjectKey, err)
	}

	f, err := sniff(data)
	if err != nil {
		return upload.DerivedObject{}, fmt.Errorf("%w: %w", ErrMalformedObject, err)
	}

	hdr, err := f.config(data)
	if err != nil {
		return upload.DerivedObject{}, fmt.Errorf("%w: header: %w", ErrMalformedObject, err)
	}
	if px := int64(hdr.Width) * int64(hdr.Height); px > w.opts.MaxPixels {
		return upload.DerivedObject{}, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			ErrMalformedObject, hdr.Width, hdr.Height, w.opts.MaxPixels)
	}

	img, err := f.decode(data)
	if err != nil {
		return upload.DerivedObject{}, fmt.Errorf("%w: decode: %w", ErrMalformedObject, err)
	}

	b := img.Bounds()
	width, height := Fit(b.Dx(), b.Dy(), w.opts.MaxDimension)
	if width != b.Dx() || height != b.Dy() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	out, err := f.encode(img)
	if err != nil {
		return upload.DerivedObject{}, fmt.Errorf("%w: encode: %w", ErrMalformedObject, err)
	}

	derived := upload.DerivedObject{
		SourceKey:  e.ObjectKey,
		DerivedKey: w.DerivedKey(e.ObjectKey),
		Width:      width,
		Height:     height,
	}

	container := w.derivedContainer(e.ContainerRef)
	if err := w.store.Put(ctx, container, derived.DerivedKey, f.mime, out); err != nil {
		return upload.DerivedObject{}, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	return derived, nil
}
