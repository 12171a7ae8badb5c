package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"novel-guard/internal/guard"
	"novel-guard/internal/model"

	"go.uber.org/zap"
)

// Source - pull-контракт внешнего источника инкрементов текста.
// Next блокируется до следующего инкремента; io.EOF означает, что
// источник исчерпан штатно.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Stopper опционально реализуется источником, которому нужно узнать,
// что инкременты больше не запрашиваются.
type Stopper interface {
	Stop()
}

// Sink принимает одобренные охранником инкременты.
type Sink func(chunk string) error

// Adapter связывает внешний источник инкрементов с машиной охраны:
// каждый инкремент скармливается машине, одобренная часть пересылается
// в sink, по решению "stop" опрос источника прекращается немедленно.
type Adapter struct {
	machine *guard.Machine
	source  Source
	sink    Sink
	logger  *zap.Logger
}

// NewAdapter создает адаптер для одной сессии. sink может быть nil.
func NewAdapter(machine *guard.Machine, source Source, sink Sink, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{machine: machine, source: source, sink: sink, logger: logger}
}

// Run прокачивает источник через машину до решения "stop", исчерпания
// источника или ошибки. Ошибка источника пробрасывается наружу, при этом
// накопленный текст и нарушения сохраняются в частичном GuardResult.
func (a *Adapter) Run(ctx context.Context) (model.GuardResult, error) {
	defer func() {
		if stopper, ok := a.source.(Stopper); ok {
			stopper.Stop()
		}
	}()

	for {
		chunk, err := a.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.logger.Debug("increment source exhausted")
			return a.machine.Result(), nil
		}
		if err != nil {
			a.logger.Warn("increment source failed", zap.Error(err))
			return a.machine.Result(), fmt.Errorf("%w: %v", model.ErrSourceFailed, err)
		}

		decision, forwarded := a.machine.Feed(chunk)
		if forwarded != "" && a.sink != nil {
			if sinkErr := a.sink(forwarded); sinkErr != nil {
				a.logger.Warn("downstream sink failed", zap.Error(sinkErr))
				return a.machine.Result(), fmt.Errorf("downstream sink: %w", sinkErr)
			}
		}
		if decision == guard.DecisionStop {
			return a.machine.Result(), nil
		}
	}
}
