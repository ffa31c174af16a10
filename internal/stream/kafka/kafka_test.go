package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	log    *[]string
	closed bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	f.mu.Unlock()
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		*f.log = append(*f.log, "commit:"+string(m.Value))
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type routerFunc func(ctx context.Context, raw []byte) error

func (f routerFunc) Route(ctx context.Context, raw []byte) error { return f(ctx, raw) }

func TestSignalProducer_KeysBySymbol(t *testing.T) {
	w := &fakeWriter{}
	p := &SignalProducer{writer: w, topic: "signals"}

	result := 1.5
	rec := domain.SignalRecord{Symbol: "ETHUSDT", Event: "position_closed", PositionID: "p1", Result: &result}
	require.NoError(t, p.RecordClosed(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ETHUSDT", string(w.msgs[0].Key))
	assert.Equal(t, "position_closed", string(w.msgs[0].Headers[0].Value))

	var got domain.SignalRecord
	require.NoError(t, sonic.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "p1", got.PositionID)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1.5, *got.Result)
}

func TestSignalProducer_WrapsWriteError(t *testing.T) {
	p := &SignalProducer{writer: &fakeWriter{err: errors.New("broker down")}, topic: "signals"}
	err := p.RecordOpened(context.Background(), domain.SignalRecord{Event: "position_opened"})
	assert.ErrorContains(t, err, "broker down")
}

func TestPatternConsumer_CommitsAfterRouting(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
		log []string
	)
	reader := &fakeReader{msgs: []kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}}, log: &log}
	ctx, cancel := context.WithCancel(context.Background())
	c := &PatternConsumer{
		reader: reader,
		topic:  "patterns",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		router: routerFunc(func(_ context.Context, raw []byte) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(raw))
			reader.mu.Lock()
			log = append(log, "route:"+string(raw))
			reader.mu.Unlock()
			if len(got) == 2 {
				cancel()
			}
			return errors.New("ignored")
		}),
	}

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []string{"route:a", "commit:a", "route:b", "commit:b"}, log,
		"the last message is committed even though routing cancelled ctx")
	assert.True(t, reader.closed)
}
