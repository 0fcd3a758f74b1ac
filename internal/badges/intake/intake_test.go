package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insignia/internal/events"
	"insignia/internal/platform/kafka/consumer"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
)

type fakeProcessor struct {
	calls []string
	err   error
}

func (f *fakeProcessor) ProcessEvent(_ context.Context, eventType string, _ keypath.Value) error {
	f.calls = append(f.calls, eventType)
	return f.err
}

type fakeDeduper struct {
	seen bool
	err  error
}

func (f *fakeDeduper) Seen(context.Context, string) (bool, error) {
	return f.seen, f.err
}

func testRegistry(t *testing.T) *events.Registry {
	t.Helper()
	registry, err := events.Parse([]byte(`
events:
  - type: event.known.v1
    keypaths: []
`))
	require.NoError(t, err)
	return registry
}

func newTestHandler(t *testing.T, processor *fakeProcessor, opts ...HandlerOption) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := NewHandler(processor, testRegistry(t), logger, opts...)
	require.NoError(t, err)
	return handler
}

func message(eventType string, value []byte) *consumer.Message {
	return &consumer.Message{
		Topic:   "some-topic",
		Value:   value,
		Headers: map[string]string{typeHeader: eventType, idHeader: "evt-1"},
	}
}

func TestHandleForwardsKnownEvents(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor)

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"event.known.v1"}, processor.calls)
}

func TestHandleFallsBackToTopicName(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor)

	msg := &consumer.Message{Topic: "event.known.v1", Value: []byte(`{}`)}
	require.NoError(t, handler.Handle(context.Background(), msg))
	assert.Len(t, processor.calls, 1)
}

func TestHandleDropsUnknownEventTypes(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor)

	err := handler.Handle(context.Background(), message("event.unknown.v1", []byte(`{}`)))
	require.NoError(t, err, "unknown types must commit, not redeliver")
	assert.Empty(t, processor.calls)
}

func TestHandleDropsMalformedPayloads(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor)

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{not json`)))
	require.NoError(t, err, "undecodable payloads must commit, not redeliver")
	assert.Empty(t, processor.calls)
}

func TestHandleDropsUnresolvedUserEvents(t *testing.T) {
	processor := &fakeProcessor{err: derrors.New(derrors.CodeUnresolvedUser, "no user")}
	handler := newTestHandler(t, processor)

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{}`)))
	require.NoError(t, err, "unresolvable users are fatal for the event, not the partition")
}

func TestHandleReturnsRetryableErrors(t *testing.T) {
	processor := &fakeProcessor{err: derrors.New(derrors.CodeInternal, "db down")}
	handler := newTestHandler(t, processor)

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{}`)))
	require.Error(t, err, "transient failures must leave the offset uncommitted")
}

func TestHandleSkipsDuplicates(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor, WithDeduper(&fakeDeduper{seen: true}))

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{}`)))
	require.NoError(t, err)
	assert.Empty(t, processor.calls)
}

func TestHandleDegradesWhenDedupFails(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(t, processor, WithDeduper(&fakeDeduper{err: errors.New("redis down")}))

	err := handler.Handle(context.Background(), message("event.known.v1", []byte(`{}`)))
	require.NoError(t, err)
	assert.Len(t, processor.calls, 1, "dedup outage must not block processing")
}
