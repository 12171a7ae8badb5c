package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"novel-guard/internal/guard"
	"novel-guard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource выдает заранее заданные чанки и считает обращения.
type sliceSource struct {
	chunks  []string
	pos     int
	pulls   int
	stopped bool
	failAt  int
	failErr error
}

func (s *sliceSource) Next(ctx context.Context) (string, error) {
	s.pulls++
	if s.failErr != nil && s.pos == s.failAt {
		return "", s.failErr
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceSource) Stop() { s.stopped = true }

func TestAdapter_ForwardsApprovedChunks(t *testing.T) {
	m := guard.NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient)
	src := &sliceSource{chunks: []string{"He sat down. ", "She poured the wine. "}}

	var forwarded []string
	adapter := NewAdapter(m, src, func(chunk string) error {
		forwarded = append(forwarded, chunk)
		return nil
	}, nil)

	res, err := adapter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"He sat down. ", "She poured the wine. "}, forwarded)
	assert.False(t, res.WasTerminated)
	assert.Equal(t, "He sat down. She poured the wine. ", res.Text)
	assert.True(t, src.stopped)
}

func TestAdapter_StopsPullingOnTermination(t *testing.T) {
	m := guard.NewMachine(model.SceneDescriptor{
		EndCondition:     "the candle went out",
		EndConditionType: model.EndConditionNarration,
		TargetLength:     4000,
	}, model.PolicyStrict)
	src := &sliceSource{chunks: []string{
		"Night fell. ",
		"Finally the candle went out. ",
		"THIS MUST NEVER BE PULLED",
	}}

	adapter := NewAdapter(m, src, nil, nil)
	res, err := adapter.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.WasTerminated)
	assert.True(t, res.EndConditionReached)
	// После решения "stop" источник не опрашивается: два чанка = два pull.
	assert.Equal(t, 2, src.pulls)
	assert.True(t, src.stopped)
	assert.NotContains(t, res.Text, "NEVER")
}

func TestAdapter_SourceFailurePreservesPartialResult(t *testing.T) {
	m := guard.NewMachine(model.SceneDescriptor{TargetLength: 4000}, model.PolicyLenient)
	upstream := errors.New("connection reset")
	src := &sliceSource{chunks: []string{"First chunk. ", "Second chunk. "}, failAt: 1, failErr: upstream}

	adapter := NewAdapter(m, src, nil, nil)
	res, err := adapter.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSourceFailed)
	// Накопленный текст и нарушения до сбоя доступны как частичный результат.
	assert.Equal(t, "First chunk. ", res.Text)
	assert.False(t, res.WasTerminated)
}

func TestAdapter_ContextCancellation(t *testing.T) {
	m := guard.NewMachine(model.SceneDescriptor{}, model.PolicyLenient)
	src := NewPushSource(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewAdapter(m, src, nil, nil)
	_, err := adapter.Run(ctx)
	assert.ErrorIs(t, err, model.ErrSourceFailed)
}

func TestPushSource(t *testing.T) {
	t.Run("handler to next roundtrip", func(t *testing.T) {
		src := NewPushSource(4)
		handler := src.Handler()

		require.NoError(t, handler("chunk-1"))
		require.NoError(t, handler("chunk-2"))
		src.Close()

		ctx := context.Background()
		c1, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "chunk-1", c1)
		c2, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "chunk-2", c2)

		_, err = src.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("fail propagates producer error", func(t *testing.T) {
		src := NewPushSource(1)
		upstream := errors.New("stream read failed")
		src.Fail(upstream)

		_, err := src.Next(context.Background())
		assert.ErrorIs(t, err, upstream)
	})

	t.Run("handler rejects after stop", func(t *testing.T) {
		src := NewPushSource(1)
		src.Stop()
		err := src.Handler()("late chunk")
		assert.ErrorIs(t, err, model.ErrSessionTerminated)
	})

	t.Run("stop unblocks pending handler", func(t *testing.T) {
		src := NewPushSource(0) // без буфера: Handler блокируется
		handler := src.Handler()

		errCh := make(chan error, 1)
		go func() { errCh <- handler("blocked chunk") }()

		time.Sleep(10 * time.Millisecond)
		src.Stop()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, model.ErrSessionTerminated)
		case <-time.After(time.Second):
			t.Fatal("handler stayed blocked after Stop")
		}
	})

	t.Run("double close is safe", func(t *testing.T) {
		src := NewPushSource(1)
		src.Close()
		src.Close()
		src.Stop()
		src.Stop()
	})
}
