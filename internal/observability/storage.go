package observability

import (
	"context"
	"time"

	"linqyard/internal/models"
	"linqyard/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "linqyard/storage"

// InstrumentedStorage decorates a storage.Storage with a span, a latency
// sample and, on failure, an error count for every call.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// Ensure InstrumentedStorage can stand in for any backend
var _ storage.Storage = (*InstrumentedStorage)(nil)

func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	meter := otel.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of failed storage operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   otel.Tracer(instrumentationName),
		duration: duration,
		errors:   errCounter,
	}, nil
}

// observe runs fn inside a span named after operation and records the outcome.
func (s *InstrumentedStorage) observe(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	metricAttrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), metricAttrs)

	if err != nil {
		s.errors.Add(ctx, 1, metricAttrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (s *InstrumentedStorage) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	var count int64
	err := s.observe(ctx, "IncrementBucket", func(ctx context.Context) error {
		var err error
		count, err = s.inner.IncrementBucket(ctx, key, windowStart, window)
		return err
	}, attribute.String("bucket.key", key), attribute.Int64("bucket.window_start_ms", windowStart.UnixMilli()))
	return count, err
}

func (s *InstrumentedStorage) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var deleted int64
	err := s.observe(ctx, "DeleteBucketsBefore", func(ctx context.Context) error {
		var err error
		deleted, err = s.inner.DeleteBucketsBefore(ctx, cutoff, limit)
		return err
	}, attribute.Int("batch.limit", limit))
	return deleted, err
}

func (s *InstrumentedStorage) ListGroups(ctx context.Context, userID string) ([]*models.LinkGroup, error) {
	var groups []*models.LinkGroup
	err := s.observe(ctx, "ListGroups", func(ctx context.Context) error {
		var err error
		groups, err = s.inner.ListGroups(ctx, userID)
		return err
	}, attribute.String("user_id", userID))
	return groups, err
}

func (s *InstrumentedStorage) GetGroup(ctx context.Context, id string) (*models.LinkGroup, error) {
	var group *models.LinkGroup
	err := s.observe(ctx, "GetGroup", func(ctx context.Context) error {
		var err error
		group, err = s.inner.GetGroup(ctx, id)
		return err
	}, attribute.String("group_id", id))
	return group, err
}

func (s *InstrumentedStorage) CreateGroup(ctx context.Context, group *models.LinkGroup) error {
	return s.observe(ctx, "CreateGroup", func(ctx context.Context) error {
		return s.inner.CreateGroup(ctx, group)
	}, attribute.String("group_id", group.ID))
}

func (s *InstrumentedStorage) DeleteGroup(ctx context.Context, id string) error {
	return s.observe(ctx, "DeleteGroup", func(ctx context.Context) error {
		return s.inner.DeleteGroup(ctx, id)
	}, attribute.String("group_id", id))
}

func (s *InstrumentedStorage) MaxGroupSequence(ctx context.Context, userID string) (int, error) {
	var max int
	err := s.observe(ctx, "MaxGroupSequence", func(ctx context.Context) error {
		var err error
		max, err = s.inner.MaxGroupSequence(ctx, userID)
		return err
	}, attribute.String("user_id", userID))
	return max, err
}

func (s *InstrumentedStorage) ResequenceGroups(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	var items []models.SequencedItem
	err := s.observe(ctx, "ResequenceGroups", func(ctx context.Context) error {
		var err error
		items, err = s.inner.ResequenceGroups(ctx, userID, updates)
		return err
	}, attribute.String("user_id", userID), attribute.Int("items", len(updates)))
	return items, err
}

func (s *InstrumentedStorage) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	var links []*models.Link
	err := s.observe(ctx, "ListLinks", func(ctx context.Context) error {
		var err error
		links, err = s.inner.ListLinks(ctx, userID)
		return err
	}, attribute.String("user_id", userID))
	return links, err
}

func (s *InstrumentedStorage) GetLink(ctx context.Context, id string) (*models.Link, error) {
	var link *models.Link
	err := s.observe(ctx, "GetLink", func(ctx context.Context) error {
		var err error
		link, err = s.inner.GetLink(ctx, id)
		return err
	}, attribute.String("link_id", id))
	return link, err
}

func (s *InstrumentedStorage) CreateLink(ctx context.Context, link *models.Link) error {
	return s.observe(ctx, "CreateLink", func(ctx context.Context) error {
		return s.inner.CreateLink(ctx, link)
	}, attribute.String("link_id", link.ID))
}

func (s *InstrumentedStorage) UpdateLink(ctx context.Context, link *models.Link) error {
	return s.observe(ctx, "UpdateLink", func(ctx context.Context) error {
		return s.inner.UpdateLink(ctx, link)
	}, attribute.String("link_id", link.ID))
}

func (s *InstrumentedStorage) DeleteLink(ctx context.Context, id string) error {
	return s.observe(ctx, "DeleteLink", func(ctx context.Context) error {
		return s.inner.DeleteLink(ctx, id)
	}, attribute.String("link_id", id))
}

func (s *InstrumentedStorage) MaxLinkSequence(ctx context.Context, userID string, groupID *string) (int, error) {
	attrs := []attribute.KeyValue{attribute.String("user_id", userID)}
	if groupID != nil {
		attrs = append(attrs, attribute.String("group_id", *groupID))
	}

	var max int
	err := s.observe(ctx, "MaxLinkSequence", func(ctx context.Context) error {
		var err error
		max, err = s.inner.MaxLinkSequence(ctx, userID, groupID)
		return err
	}, attrs...)
	return max, err
}

func (s *InstrumentedStorage) ResequenceLinks(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	var items []models.SequencedItem
	err := s.observe(ctx, "ResequenceLinks", func(ctx context.Context) error {
		var err error
		items, err = s.inner.ResequenceLinks(ctx, userID, updates)
		return err
	}, attribute.String("user_id", userID), attribute.Int("items", len(updates)))
	return items, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	return s.observe(ctx, "Ping", s.inner.Ping)
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
