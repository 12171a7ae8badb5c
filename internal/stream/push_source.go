package stream

import (
	"context"
	"io"
	"sync"

	"novel-guard/internal/model"
)

// PushSource превращает push-стиль AI клиента (chunkHandler) в pull-контракт
// Source. Продюсер публикует инкременты через Handler; после Stop хендлер
// возвращает ошибку, по которой продюсер обязан прервать свой стрим.
type PushSource struct {
	ch      chan string
	stopped chan struct{}

	mu       sync.Mutex
	closeErr error
	closed   bool
	stopOnce sync.Once
}

// NewPushSource создает источник с буфером на buffer инкрементов.
func NewPushSource(buffer int) *PushSource {
	return &PushSource{
		ch:      make(chan string, buffer),
		stopped: make(chan struct{}),
	}
}

// Handler возвращает колбэк для передачи в GenerateTextStream.
// После остановки сессии колбэк возвращает ErrSessionTerminated,
// не блокируясь.
func (s *PushSource) Handler() func(chunk string) error {
	return func(chunk string) error {
		select {
		case <-s.stopped:
			return model.ErrSessionTerminated
		default:
		}
		select {
		case s.ch <- chunk:
			return nil
		case <-s.stopped:
			return model.ErrSessionTerminated
		}
	}
}

// Next возвращает следующий инкремент. После Close возвращает io.EOF,
// после Fail - ошибку продюсера.
func (s *PushSource) Next(ctx context.Context) (string, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closeErr != nil {
				return "", s.closeErr
			}
			return "", io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close сигнализирует штатное завершение продюсера.
func (s *PushSource) Close() {
	s.closeWith(nil)
}

// Fail сигнализирует аварийное завершение продюсера; ошибка будет
// возвращена из Next после вычитки буфера.
func (s *PushSource) Fail(err error) {
	s.closeWith(err)
}

// Stop сообщает продюсеру, что инкременты больше не принимаются.
// Вызывается потребителем (адаптером) ровно один раз.
func (s *PushSource) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *PushSource) closeWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	close(s.ch)
}
