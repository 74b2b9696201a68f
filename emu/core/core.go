/*
 * trapcore - Machine core
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package core

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/dispatch"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/emu/memory"
	"github.com/rcornwell/trapcore/emu/tags"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Source of executors, called once for each context.
type ExecFactory func(c *cpu.Context) (dispatch.Executor, error)

// Core runs every context of a guest on its own goroutine.
type Core struct {
	Mem        *memory.Memory
	Tags       *tags.Table
	Contexts   []*cpu.Context
	Host       bridge.Host
	Convention bridge.Convention

	wg       sync.WaitGroup
	done     chan struct{} // Signal to stop signal reflection.
	stopOnce sync.Once
	status   atomic.Int32 // Exit status of guest.
	grouped  atomic.Bool  // Status set by exit group.
}

// Create core with n contexts sharing memory and tags.
func NewCore(mem *memory.Memory, tt *tags.Table, n int) *Core {
	core := &Core{
		Mem:  mem,
		Tags: tt,
		Host: bridge.UnixHost{},
		done: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		core.Contexts = append(core.Contexts, cpu.NewContext(i, mem, tt))
	}
	return core
}

// Stop all contexts with status, first caller sets status.
func (core *Core) ExitGroup(status int) {
	if core.grouped.CompareAndSwap(false, true) {
		core.status.Store(int32(status))
	}
	for _, c := range core.Contexts {
		c.RequestExit(status)
	}
}

// Run every context until all have stopped. Returns the guest exit
// status. An error is returned only if a context hit a fatal trap or
// an executor could not be created.
func (core *Core) Run(factory ExecFactory) (int, error) {
	core.wg.Add(1)
	go core.reflect()
	defer core.Stop()

	var g errgroup.Group
	for _, c := range core.Contexts {
		c := c
		exec, err := factory(c)
		if err != nil {
			core.ExitGroup(1)
			_ = g.Wait()
			return 1, err
		}
		b := bridge.New(core.Host, core.Convention)
		b.ExitGroup = core.ExitGroup
		d := dispatch.New(exec, b)
		g.Go(func() error {
			return core.runContext(d, c)
		})
	}
	err := g.Wait()
	return int(core.status.Load()), err
}

// Run one context and record how it ended.
func (core *Core) runContext(d *dispatch.Dispatcher, c *cpu.Context) error {
	err := d.Run(c)
	var exit *dispatch.ExitError
	var killed *dispatch.SignalExit
	switch {
	case errors.As(err, &exit):
		slog.Debug("Context exit", "ctx", c.ID, "status", exit.Status)
		if c.ID == 0 && !core.grouped.Load() {
			core.status.Store(int32(exit.Status))
		}
		return nil
	case errors.As(err, &killed):
		slog.Info("Guest killed by signal", "ctx", c.ID, "signal", killed.Signal.String())
		core.ExitGroup(128 + killed.Signal.Signo)
		return nil
	}
	core.ExitGroup(2)
	return err
}

// Pass host signals to the first context.
func (core *Core) reflect() {
	defer core.wg.Done()
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(ch)
	for {
		select {
		case <-core.done:
			return
		case s := <-ch:
			signo, ok := s.(unix.Signal)
			if !ok || len(core.Contexts) == 0 {
				continue
			}
			slog.Info("Host signal reflected to guest", "signal", signo.String())
			core.Contexts[0].Signals.Post(guestsig.Signal{Signo: int(signo), Code: guestsig.SIUser})
		}
	}
}

// Stop signal reflection and wait for it to finish.
func (core *Core) Stop() {
	core.stopOnce.Do(func() {
		close(core.done)
	})
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for core to finish.")
		return
	}
}
