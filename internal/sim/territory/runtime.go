package territory

import (
	"context"
	"errors"
	"log"
	"time"

	"townclaims.dev/internal/protocol"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

type RuntimeConfig struct {
	TickInterval time.Duration
	// SnapshotEvery > 0 pushes a state copy into SnapshotSink on that cadence.
	SnapshotEvery time.Duration
	SnapshotSink  chan<- Snapshot
	Logger        *log.Logger
	Clock         func() time.Time
}

// Snapshot is one state copy handed to the snapshot writer.
type Snapshot struct {
	State   modelpkg.State
	Digest  string
	TakenAt time.Time
}

type request struct {
	run  func(e *Engine)
	done chan struct{}
}

// Runtime is the single control thread that owns an Engine. Other goroutines reach
// the engine only through its request methods.
type Runtime struct {
	eng  *Engine
	cfg  RuntimeConfig
	reqs chan request
	stop chan struct{}
}

func NewRuntime(eng *Engine, cfg RuntimeConfig) *Runtime {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Runtime{
		eng:  eng,
		cfg:  cfg,
		reqs: make(chan request, 256),
		stop: make(chan struct{}),
	}
}

func (r *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	var lastSnapshot time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.reqs:
			req.run(r.eng)
			close(req.done)
		case <-ticker.C:
			now := r.cfg.Clock()
			r.eng.AdvanceTimers(now)
			if r.cfg.SnapshotEvery > 0 && now.Sub(lastSnapshot) >= r.cfg.SnapshotEvery {
				if err := r.pushSnapshot(); err != nil && r.cfg.Logger != nil {
					r.cfg.Logger.Printf("periodic snapshot: %v", err)
				}
				lastSnapshot = now
			}
		}
	}
}

func (r *Runtime) Stop() { close(r.stop) }

// Do runs fn on the loop goroutine and waits for it. fn must not retain the engine.
func (r *Runtime) Do(ctx context.Context, fn func(e *Engine)) error {
	req := request{run: fn, done: make(chan struct{})}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute dispatches a host command and returns its RESULT message.
func (r *Runtime) Execute(ctx context.Context, cmd protocol.CmdMsg) (protocol.ResultMsg, error) {
	var res protocol.ResultMsg
	err := r.Do(ctx, func(e *Engine) { res = e.Dispatch(cmd) })
	return res, err
}

func (r *Runtime) Kill(ctx context.Context, msg protocol.KillMsg) (protocol.ResultMsg, error) {
	var res protocol.ResultMsg
	err := r.Do(ctx, func(e *Engine) { res = e.DispatchKill(msg) })
	return res, err
}

// Digest returns the engine's state digest.
func (r *Runtime) Digest(ctx context.Context) (string, error) {
	var d string
	err := r.Do(ctx, func(e *Engine) { d = e.StateDigest() })
	return d, err
}

// RequestSnapshot asks the loop to push a state copy into the snapshot sink.
func (r *Runtime) RequestSnapshot(ctx context.Context) error {
	var err error
	if doErr := r.Do(ctx, func(*Engine) { err = r.pushSnapshot() }); doErr != nil {
		return doErr
	}
	return err
}

func (r *Runtime) pushSnapshot() error {
	if r.cfg.SnapshotSink == nil {
		return errors.New("snapshot sink not configured")
	}
	select {
	case r.cfg.SnapshotSink <- Snapshot{State: r.eng.Export(), Digest: r.eng.StateDigest(), TakenAt: r.cfg.Clock()}:
		return nil
	default:
		return errors.New("snapshot sink backpressure")
	}
}
