/*
 * trapcore - Guest system call bridge
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

package bridge

import (
	"errors"
	"log/slog"
	"math"

	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/guestsig"
	"github.com/rcornwell/trapcore/util/debug"
	"golang.org/x/sys/unix"
)

// Guest system call numbers.
const (
	SysFsync     = 0
	SysExit      = 1
	SysWrite     = 2
	SysRead      = 3
	SysGetpid    = 4
	SysKill      = 5
	SysSigaction = 6
	SysSigreturn = 7
	SysExitGroup = 8
)

// Largest transfer done by one read or write.
const maxIO = 1 << 20

// Results above this, taken as unsigned, are error numbers.
const errThreshold uint64 = math.MaxUint64 - 1133

// ABI gives the registers used for system calls.
type ABI struct {
	Nr   int    // Call number
	Ret  int    // Return value
	Err  int    // Error flag, ErrorFlag convention only
	Args [6]int // Arguments
}

// Default register assignment.
var DefaultABI = ABI{Nr: 2, Ret: 2, Err: 7, Args: [6]int{4, 5, 6, 7, 8, 9}}

// Convention for returning errors to the guest.
type Convention uint8

const (
	NegErrno  Convention = iota // Return register holds -errno
	ErrorFlag                   // Error register set, return holds errno
)

// Request built from guest registers.
type Request struct {
	Number uint64
	Args   [6]uint64
}

// Host performs the operations a guest call needs.
type Host interface {
	Fsync(fd int) error
	Write(fd int, p []byte) (int, error)
	Read(fd int, p []byte) (int, error)
	Getpid() int
}

// Bridge converts guest calls to host calls and delivers signals.
type Bridge struct {
	ABI        ABI
	Convention Convention
	Host       Host
	Frames     FrameBuilder
	ExitGroup  func(status int) // Stop all contexts, may be nil
}

const (
	debugSyscall = 1 << iota
	debugSignal
)

var debugOption = map[string]int{
	"SYSCALL": debugSyscall,
	"SIGNAL":  debugSignal,
}

var debugMsk int

// Enable debug options.
func Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("bridge debug option invalid: " + opt)
	}
	debugMsk |= flag
	return nil
}

// Create bridge on host with default register assignment.
func New(host Host, conv Convention) *Bridge {
	b := &Bridge{ABI: DefaultABI, Convention: conv, Host: host}
	b.Frames = &DefaultFrames{ABI: &b.ABI}
	return b
}

// Build request from registers.
func (b *Bridge) request(c *cpu.Context) Request {
	req := Request{Number: c.Regs[b.ABI.Nr]}
	for i, r := range b.ABI.Args {
		req.Args[i] = c.Regs[r]
	}
	return req
}

// Convert host error to negative errno.
func errno(err error) int64 {
	var e unix.Errno
	if errors.As(err, &e) {
		return -int64(e)
	}
	return -int64(unix.EIO)
}

// Syscall performs the call requested in the context registers. exit is
// set when the context must stop with status.
func (b *Bridge) Syscall(c *cpu.Context) (exit bool, status int) {
	req := b.request(c)
	ret, exit, status, restored := b.dispatch(c, req)
	if restored {
		// Registers came back from the signal frame.
		return false, 0
	}

	// Number zero always reports success. Kept for compatibility, the
	// guest may depend on it.
	if req.Number == SysFsync && ret != 0 {
		slog.Warn("System call 0 failed, reporting success",
			"ctx", c.ID, "result", ret, "pc", c.PC)
		ret = 0
	}

	debug.Trace("BRIDGE", debugMsk, debugSyscall, "syscall",
		"ctx", c.ID, "nr", req.Number, "args", req.Args, "result", ret)
	if !exit {
		b.setResult(c, ret)
	}
	return exit, status
}

// Write result in the guest convention.
func (b *Bridge) setResult(c *cpu.Context, ret int64) {
	if b.Convention == NegErrno {
		c.Regs[b.ABI.Ret] = uint64(ret)
		return
	}
	if uint64(ret) > errThreshold {
		c.Regs[b.ABI.Err] = 1
		c.Regs[b.ABI.Ret] = uint64(-ret)
		return
	}
	c.Regs[b.ABI.Err] = 0
	c.Regs[b.ABI.Ret] = uint64(ret)
}

// Run one request.
func (b *Bridge) dispatch(c *cpu.Context, req Request) (ret int64, exit bool, status int, restored bool) {
	a := req.Args
	switch req.Number {
	case SysFsync:
		if err := b.Host.Fsync(int(int32(a[0]))); err != nil {
			return errno(err), false, 0, false
		}
		return 0, false, 0, false

	case SysExit:
		return 0, true, int(int32(a[0])), false

	case SysExitGroup:
		st := int(int32(a[0]))
		if b.ExitGroup != nil {
			b.ExitGroup(st)
		}
		return 0, true, st, false

	case SysWrite:
		n := min(a[2], maxIO)
		buf, err := c.Mem.LoadBytes(a[1], int(n))
		if err != nil {
			return -int64(unix.EFAULT), false, 0, false
		}
		w, err := b.Host.Write(int(int32(a[0])), buf)
		if err != nil {
			return errno(err), false, 0, false
		}
		return int64(w), false, 0, false

	case SysRead:
		n := min(a[2], maxIO)
		if err := c.Mem.Probe(a[1], true); err != nil && n != 0 {
			return -int64(unix.EFAULT), false, 0, false
		}
		buf := make([]byte, n)
		r, err := b.Host.Read(int(int32(a[0])), buf)
		if err != nil {
			return errno(err), false, 0, false
		}
		if err := c.Mem.StoreBytes(a[1], buf[:r]); err != nil {
			return -int64(unix.EFAULT), false, 0, false
		}
		return int64(r), false, 0, false

	case SysGetpid:
		return int64(b.Host.Getpid()), false, 0, false

	case SysKill:
		sig := int(a[0])
		if sig < 0 || sig >= guestsig.NSig {
			return -int64(unix.EINVAL), false, 0, false
		}
		if sig != 0 {
			b.Enqueue(c, guestsig.Signal{Signo: sig, Code: guestsig.SIUser})
		}
		return 0, false, 0, false

	case SysSigaction:
		sig := int(a[0])
		if sig <= 0 || sig >= guestsig.NSig || sig == guestsig.SIGKILL {
			return -int64(unix.EINVAL), false, 0, false
		}
		old := c.Handlers[sig]
		c.Handlers[sig] = a[1]
		return int64(old), false, 0, false

	case SysSigreturn:
		if !b.Frames.Return(c) {
			return -int64(unix.EINVAL), false, 0, false
		}
		return 0, false, 0, true
	}
	return -int64(unix.ENOSYS), false, 0, false
}
