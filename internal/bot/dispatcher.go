package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/sirupsen/logrus"
)

// Handler processes one update
type Handler interface {
	HandleUpdate(ctx context.Context, update telegram.Update)
}

// Dispatcher runs updates that share a session key one after another and
// lets different keys proceed in parallel. A worker goroutine lives only
// while its key has pending updates.
type Dispatcher struct {
	handler Handler
	logger  *logrus.Logger

	ctx     context.Context
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	pending []telegram.Update
}

// NewDispatcher creates a dispatcher. ctx is passed to every handler call.
func NewDispatcher(ctx context.Context, handler Handler, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		workers: make(map[string]*worker),
	}
}

// UpdateKey returns the serialisation key of an update: the group in group
// chats, the sender everywhere else
func UpdateKey(update telegram.Update) string {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.Chat.IsGroup() {
			return fmt.Sprintf("group:%d", msg.Chat.ID)
		}
		if msg.From != nil {
			return fmt.Sprintf("user:%d", msg.From.ID)
		}
		return fmt.Sprintf("chat:%d", msg.Chat.ID)
	case update.CallbackQuery != nil:
		return fmt.Sprintf("user:%d", update.CallbackQuery.From.ID)
	default:
		return "other"
	}
}

// Dispatch queues an update behind the earlier updates of its key
func (d *Dispatcher) Dispatch(update telegram.Update) {
	key := UpdateKey(update)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.WithField("update_id", update.UpdateID).Warn("Dispatcher closed, dropping update")
		return
	}

	w, ok := d.workers[key]
	if !ok {
		w = &worker{}
		d.workers[key] = w
		d.wg.Add(1)
		go d.run(key, w)
	}
	w.pending = append(w.pending, update)
}

func (d *Dispatcher) run(key string, w *worker) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(w.pending) == 0 {
			delete(d.workers, key)
			d.mu.Unlock()
			return
		}
		update := w.pending[0]
		w.pending = w.pending[1:]
		d.mu.Unlock()

		d.handle(key, update)
	}
}

func (d *Dispatcher) handle(key string, update telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"key":       key,
				"update_id": update.UpdateID,
				"panic":     r,
			}).Error("Update handler panicked")
		}
	}()
	d.handler.HandleUpdate(d.ctx, update)
}

// Close stops accepting updates and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
