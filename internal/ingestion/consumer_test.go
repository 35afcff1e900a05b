package ingestion

import (
	"context"
	"io"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

type stubIngester struct {
	result *Result
	err    error
	calls  int
}

func (s *stubIngester) Ingest(_ context.Context, _ Event) (*Result, error) {
	s.calls++
	return s.result, s.err
}

type stubSink struct {
	err     error
	calls   int
	reasons []string
}

func (s *stubSink) OnDeadLetter(_ context.Context, _ Event, _ []byte, _ int, reason string) error {
	s.calls++
	s.reasons = append(s.reasons, reason)
	return s.err
}

func newTestConsumer(t *testing.T, pipeline ingester, sink DeadLetterSink, maxAttempts int) *Consumer {
	t.Helper()

	return &Consumer{
		pipeline:    pipeline,
		sink:        sink,
		maxAttempts: maxAttempts,
		logg:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func attempt(n int) *int {
	return &n
}

func TestProcessAcksSuccessfulIngest(t *testing.T) {
	pipeline := &stubIngester{result: &Result{Outcome: enums.IngestOutcomeCreated}}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:   "msg-1",
		Data: validEventJSON("msg-1"),
	})
	assert.False(t, res.nack)
	assert.Equal(t, 1, pipeline.calls)
	assert.Equal(t, 0, sink.calls)
}

func TestProcessNacksTransientErrorsUnderBudget(t *testing.T) {
	pipeline := &stubIngester{err: pkgerrors.New(pkgerrors.CodeLockContention, "in flight elsewhere")}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:              "msg-2",
		Data:            validEventJSON("msg-2"),
		DeliveryAttempt: attempt(2),
	})
	assert.True(t, res.nack)
	assert.Equal(t, 0, sink.calls)
}

func TestProcessNacksLockContentionBeyondBudget(t *testing.T) {
	pipeline := &stubIngester{err: pkgerrors.New(pkgerrors.CodeLockContention, "in flight elsewhere")}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	// another worker is committing this message; exhausted attempts must
	// not park it
	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:              "msg-2b",
		Data:            validEventJSON("msg-2b"),
		DeliveryAttempt: attempt(7),
	})
	assert.True(t, res.nack)
	assert.Equal(t, 0, sink.calls)
}

func TestProcessDeadLettersWhenBudgetExhausted(t *testing.T) {
	pipeline := &stubIngester{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:              "msg-3",
		Data:            validEventJSON("msg-3"),
		DeliveryAttempt: attempt(5),
	})
	assert.False(t, res.nack)
	require.Equal(t, 1, sink.calls)
	assert.Contains(t, sink.reasons[0], "database unavailable")
}

func TestProcessDeadLettersValidationErrorsImmediately(t *testing.T) {
	pipeline := &stubIngester{err: pkgerrors.New(pkgerrors.CodeValidation, "item 0 has non-positive quantity")}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:              "msg-4",
		Data:            validEventJSON("msg-4"),
		DeliveryAttempt: attempt(1),
	})
	assert.False(t, res.nack)
	assert.Equal(t, 1, sink.calls)
}

func TestProcessDeadLettersMalformedPayloadWithoutIngest(t *testing.T) {
	pipeline := &stubIngester{}
	sink := &stubSink{}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:   "msg-5",
		Data: []byte(`{"not": "an event"}`),
	})
	assert.False(t, res.nack)
	assert.Equal(t, 0, pipeline.calls)
	assert.Equal(t, 1, sink.calls)
}

func TestProcessNacksWhenDeadLetterStoreFails(t *testing.T) {
	pipeline := &stubIngester{err: pkgerrors.New(pkgerrors.CodeValidation, "bad payload")}
	sink := &stubSink{err: pkgerrors.New(pkgerrors.CodeDependency, "dead letter store down")}
	consumer := newTestConsumer(t, pipeline, sink, 5)

	res := consumer.process(context.Background(), &gcppubsub.Message{
		ID:   "msg-6",
		Data: validEventJSON("msg-6"),
	})
	assert.True(t, res.nack, "message must stay alive when it cannot be parked")
}
