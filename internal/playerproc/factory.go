// Package playerproc implements coordinator.HandleFactory on top of a player
// helper process.
//
// The helper owns the decoders. reeld talks to it over stdin/stdout with
// length-prefixed msgpack frames: "create" asks for a handle, "created"
// answers with a handle id or an error, "release" frees a handle. Requests are
// correlated by req_id and complete asynchronously. The helper's stderr is
// mapped onto slog levels.
//
// When the helper exits, every pending request fails with ErrHelperExited,
// handles it issued are considered gone, and the factory restarts it with
// exponential backoff. After MaxRetries consecutive failed restarts the
// factory stays down and requests fail with ErrUnavailable.
package playerproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/reelcore/modules/coordinator"
)

var (
	// ErrUnavailable is returned while no helper is running.
	ErrUnavailable = errors.New("playerproc: player helper unavailable")

	// ErrHelperExited fails requests pending when the helper went away.
	ErrHelperExited = errors.New("playerproc: player helper exited")

	// ErrCreate wraps an error reported by the helper.
	ErrCreate = errors.New("playerproc: helper could not create handle")

	// ErrClosed is returned after Stop.
	ErrClosed = errors.New("playerproc: factory stopped")
)

// DefaultWriteTimeout bounds one write to the helper's stdin.
const DefaultWriteTimeout = 2 * time.Second

// Config configures a Factory.
type Config struct {
	Command      string
	Args         []string
	WriteTimeout time.Duration
	Reconnect    ReconnectConfig
	Logger       *slog.Logger

	// Dial replaces process spawning. Tests use it for in-memory helpers.
	Dial func(ctx context.Context) (Conn, error)
}

// Handle is a player handle owned by the helper.
type Handle struct {
	ID     string
	ItemID string
	gen    uint64
}

func (h *Handle) HandleID() string { return h.ID }

// Stats counts factory activity.
type Stats struct {
	Requested uint64 `json:"requested"`
	Created   uint64 `json:"created"`
	Failed    uint64 `json:"failed"`
	Released  uint64 `json:"released"`
	Orphans   uint64 `json:"orphans"`
	Restarts  uint64 `json:"restarts"`
	Pending   int    `json:"pending"`
	Live      int    `json:"live"`
	Connected bool   `json:"connected"`
}

type pending struct {
	itemID string
	done   func(coordinator.Handle, error)
	stop   func() bool
}

// Factory implements coordinator.HandleFactory.
type Factory struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      Conn
	gen       uint64
	connected bool
	stopped   bool
	pending   map[string]*pending
	live      map[string]uint64 // handle id → generation
	stats     Stats
}

// New validates cfg and creates a stopped Factory.
func New(cfg Config) (*Factory, error) {
	if cfg.Command == "" && cfg.Dial == nil {
		return nil, fmt.Errorf("player command is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &Factory{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "playerproc"),
		pending: make(map[string]*pending),
		live:    make(map[string]uint64),
	}
	if f.cfg.Dial == nil {
		f.cfg.Dial = func(ctx context.Context) (Conn, error) {
			return spawn(ctx, cfg.Command, cfg.Args, f.logger)
		}
	}
	return f, nil
}

// Start spawns the helper and supervises it until ctx is done or Stop.
func (f *Factory) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.ctx != nil {
		f.mu.Unlock()
		return fmt.Errorf("factory already started")
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	if err := f.connect(f.ctx); err != nil {
		f.cancel()
		return fmt.Errorf("failed to spawn player helper: %w", err)
	}

	f.wg.Add(1)
	go f.supervise()
	return nil
}

func (f *Factory) connect(ctx context.Context) error {
	conn, err := f.cfg.Dial(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.gen++
	f.connected = true
	f.mu.Unlock()
	return nil
}

// supervise serves the current helper and restarts it when it exits.
func (f *Factory) supervise() {
	defer f.wg.Done()

	for {
		f.serve()

		select {
		case <-f.ctx.Done():
			return
		default:
		}

		err := retryWithBackoff(f.ctx, f.cfg.Reconnect, f.logger, func(ctx context.Context) error {
			f.mu.Lock()
			f.stats.Restarts++
			f.mu.Unlock()
			return f.connect(ctx)
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				f.logger.Error("player helper is down, giving up", "error", err)
			}
			return
		}
		f.logger.Info("player helper restarted")
	}
}

// serve reads helper frames until the connection ends, then fails what is
// still pending.
func (f *Factory) serve() {
	f.mu.Lock()
	conn, gen := f.conn, f.gen
	f.mu.Unlock()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			select {
			case <-f.ctx.Done():
				f.logger.Debug("player helper stream closed (shutdown)")
			default:
				f.logger.Error("player helper stream ended", "error", err)
			}
			break
		}
		f.dispatch(msg, gen)
	}

	_ = conn.Close()
	if err := conn.Wait(); err != nil {
		f.logger.Debug("player helper exited", "error", err)
	}

	f.mu.Lock()
	f.connected = false
	f.conn = nil
	f.mu.Unlock()

	f.failPending(ErrHelperExited)
}

func (f *Factory) dispatch(msg Message, gen uint64) {
	switch msg.Type {
	case TypeCreated:
		f.resolve(msg, gen)
	case TypeReleased:
		f.logger.Debug("handle released by helper", "handle_id", msg.HandleID)
	default:
		f.logger.Warn("unexpected message from player helper", "type", msg.Type)
	}
}

func (f *Factory) resolve(msg Message, gen uint64) {
	f.mu.Lock()
	p := f.pending[msg.RequestID]
	delete(f.pending, msg.RequestID)

	if p == nil {
		// Nobody waits for it any more; hand it straight back.
		orphan := msg.Error == "" && msg.HandleID != ""
		if orphan {
			f.stats.Orphans++
		}
		f.mu.Unlock()
		if orphan {
			f.logger.Debug("releasing orphan handle", "req_id", msg.RequestID, "handle_id", msg.HandleID)
			if err := f.send(Message{Type: TypeRelease, HandleID: msg.HandleID}); err != nil {
				f.logger.Warn("failed to release orphan handle", "handle_id", msg.HandleID, "error", err)
			}
		}
		return
	}

	if msg.Error != "" || msg.HandleID == "" {
		f.stats.Failed++
		f.mu.Unlock()
		p.stop()
		reason := msg.Error
		if reason == "" {
			reason = "empty handle id"
		}
		p.done(nil, fmt.Errorf("%w: %s", ErrCreate, reason))
		return
	}

	f.stats.Created++
	f.live[msg.HandleID] = gen
	f.mu.Unlock()

	p.stop()
	p.done(&Handle{ID: msg.HandleID, ItemID: p.itemID, gen: gen}, nil)
}

// CreateHandle sends a create request. The completion arrives from the reader
// goroutine, or inline when no helper is running.
func (f *Factory) CreateHandle(ctx context.Context, req coordinator.HandleRequest, done func(coordinator.Handle, error)) {
	f.mu.Lock()
	f.stats.Requested++
	if f.stopped {
		f.stats.Failed++
		f.mu.Unlock()
		done(nil, ErrClosed)
		return
	}
	if !f.connected {
		f.stats.Failed++
		f.mu.Unlock()
		done(nil, ErrUnavailable)
		return
	}

	p := &pending{itemID: req.ItemID, done: done}
	f.pending[req.RequestID] = p
	p.stop = context.AfterFunc(ctx, func() {
		f.abandon(req.RequestID, ctx.Err())
	})
	f.mu.Unlock()

	err := f.send(Message{
		Type:      TypeCreate,
		RequestID: req.RequestID,
		ItemID:    req.ItemID,
		Locator:   req.Locator,
		Purpose:   req.Purpose.String(),
		Depth:     req.Depth.String(),
	})
	if err != nil {
		f.abandon(req.RequestID, fmt.Errorf("send create: %w", err))
	}
}

// abandon completes a pending request with err. A late answer from the
// helper becomes an orphan.
func (f *Factory) abandon(reqID string, err error) {
	f.mu.Lock()
	p := f.pending[reqID]
	delete(f.pending, reqID)
	if p != nil {
		f.stats.Failed++
	}
	f.mu.Unlock()

	if p != nil {
		p.stop()
		p.done(nil, err)
	}
}

// ReleaseHandle frees h. Handles from a previous helper are only forgotten.
func (f *Factory) ReleaseHandle(h coordinator.Handle) {
	hh, ok := h.(*Handle)
	if !ok || hh == nil {
		f.logger.Warn("release of foreign handle ignored")
		return
	}

	f.mu.Lock()
	gen, live := f.live[hh.ID]
	delete(f.live, hh.ID)
	if live {
		f.stats.Released++
	}
	current := f.connected && gen == f.gen
	f.mu.Unlock()

	if !live {
		f.logger.Warn("release of unknown handle", "handle_id", hh.ID)
		return
	}
	if !current {
		return
	}

	if err := f.send(Message{Type: TypeRelease, HandleID: hh.ID}); err != nil {
		f.logger.Warn("failed to send release", "handle_id", hh.ID, "error", err)
	}
}

// send writes one frame with the write timeout. A timed out write means the
// helper is hung; its connection is closed so the supervisor restarts it.
func (f *Factory) send(msg Message) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return ErrUnavailable
	}

	writeErr := make(chan error, 1)
	go func() {
		f.writeMu.Lock()
		defer f.writeMu.Unlock()
		writeErr <- WriteMessage(conn, msg)
	}()

	timer := time.NewTimer(f.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-writeErr:
		return err
	case <-timer.C:
		f.logger.Error("stdin write timeout (player helper may be hung)", "type", msg.Type)
		_ = conn.Close()
		return fmt.Errorf("stdin write timeout")
	}
}

func (f *Factory) failPending(err error) {
	f.mu.Lock()
	failed := make([]*pending, 0, len(f.pending))
	for id, p := range f.pending {
		failed = append(failed, p)
		delete(f.pending, id)
	}
	f.stats.Failed += uint64(len(failed))
	f.mu.Unlock()

	for _, p := range failed {
		p.stop()
		p.done(nil, err)
	}
}

// Stats returns a snapshot of the counters.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.stats
	st.Pending = len(f.pending)
	st.Live = len(f.live)
	st.Connected = f.connected
	return st
}

// Connected reports whether a helper is running.
func (f *Factory) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Stop shuts the helper down and fails pending requests with ErrClosed.
func (f *Factory) Stop() error {
	f.mu.Lock()
	if f.stopped || f.ctx == nil {
		f.stopped = true
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	conn := f.conn
	f.mu.Unlock()

	f.failPending(ErrClosed)
	f.cancel()
	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("player helper stopped")
	case <-time.After(stopGrace + time.Second):
		f.logger.Warn("player helper stop timeout")
	}
	return nil
}

var _ coordinator.HandleFactory = (*Factory)(nil)
