package bot

import (
	"context"

	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/msgworker"
	"github.com/sirupsen/logrus"
)

// Pipeline conecta el bus del supervisor con el buffer y el outbox. Los
// mensajes entrantes pasan por el pool para mantener orden por chat sin
// bloquear el bus; los eventos de ciclo de vida se aplican en línea.
type Pipeline struct {
	buffer *BufferManager
	outbox *OutboxWatcher
	pool   *msgworker.Pool
}

func NewPipeline(buffer *BufferManager, outbox *OutboxWatcher, pool *msgworker.Pool) *Pipeline {
	return &Pipeline{buffer: buffer, outbox: outbox, pool: pool}
}

// Run consume el bus hasta que ctx termina. Pensado para correr en su propia
// goroutine; unsubscribe se difiere aquí mismo.
func (p *Pipeline) Run(ctx context.Context, events <-chan session.Event, unsubscribe func()) {
	defer unsubscribe()
	defer p.outbox.StopAll()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				logrus.Warn("[PIPELINE] Supervisor bus closed")
				return
			}
			p.handle(ctx, evt)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, evt session.Event) {
	switch evt.Type {
	case session.EventMessage:
		e := evt
		p.pool.Dispatch(msgworker.Job{
			AccountID: e.AccountID,
			Label:     e.SessionID,
			ChatID:    chatIDOf(e),
			Handler: func(jobCtx context.Context) error {
				p.buffer.Push(jobCtx, e)
				return nil
			},
		})
	case session.EventReady:
		p.outbox.HandleEvent(ctx, evt)
	case session.EventStopped, session.EventDestroyed, session.EventAuthFailure, session.EventDisconnected:
		p.outbox.HandleEvent(ctx, evt)
		p.buffer.DropSession(evt.AccountID, evt.SessionID)
	}
}

func chatIDOf(evt session.Event) string {
	if evt.Message != nil {
		return evt.Message.ChatID
	}
	return ""
}
