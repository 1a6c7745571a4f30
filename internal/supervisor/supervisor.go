// Package supervisor owns the single shared cancellation signal every
// background loop and RPC listener in the process watches, and waits for
// all of them to drain on shutdown.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lnswap/swapd/internal/rpcserver"
)

// Supervisor is the Go counterpart of main.rs's CancellationToken +
// TaskTracker pair: one shared context every loop's Run(ctx) receives, and
// a WaitGroup the process blocks on before exiting.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor with a fresh cancellation context.
func New() *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Stop cancels the shared context. Satisfies rpcserver.Stopper, so the
// internal RPC surface's Stop operation can trigger the same shutdown path
// as a SIGINT.
func (s *Supervisor) Stop() {
	s.cancel()
}

// Context returns the shared cancellation context, for one-off setup calls
// (e.g. the historical payment monitor's Initialize) that run before any
// loop starts but should still unwind on an early shutdown.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// RunLoop spawns a named background loop. run must block until ctx is
// cancelled (the chain/claim/preimage monitors' Run(ctx) signature already
// does this). Any loop exiting — cleanly or with an error — cancels the
// shared context, matching main.rs's pattern of every spawned task
// cancelling the shared token on its own exit so a single failure brings
// the whole process down for a clean restart rather than limping on
// half-alive.
func (s *Supervisor) RunLoop(name string, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		slog.Info("starting background loop", "loop", name)
		if err := run(s.ctx); err != nil {
			slog.Error("background loop exited with error", "loop", name, "error", err)
		} else {
			slog.Info("background loop exited", "loop", name)
		}
		s.cancel()
	}()
}

// RunServer spawns an RPC server's accept loop and arranges for its
// graceful shutdown when the shared context is cancelled — grpc.Server
// doesn't take a context directly, so a watcher goroutine bridges the two.
func (s *Supervisor) RunServer(name string, server *rpcserver.Server) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		server.Stop()
	}()
	s.RunLoop(name, func(ctx context.Context) error {
		return server.Serve()
	})
}

// WatchSignals cancels the shared context on SIGINT/SIGTERM.
func (s *Supervisor) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
}

// Wait blocks until every spawned loop and server has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
