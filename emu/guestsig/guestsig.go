/*
 * trapcore - Guest signal triples
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

package guestsig

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Number of guest signals, signal 0 is not used.
const NSig = 65

// Signal numbers seen by the guest, host numbering.
const (
	SIGILL  = int(unix.SIGILL)
	SIGTRAP = int(unix.SIGTRAP)
	SIGBUS  = int(unix.SIGBUS)
	SIGFPE  = int(unix.SIGFPE)
	SIGKILL = int(unix.SIGKILL)
	SIGUSR1 = int(unix.SIGUSR1)
	SIGSEGV = int(unix.SIGSEGV)
	SIGUSR2 = int(unix.SIGUSR2)
	SIGTERM = int(unix.SIGTERM)
	SIGINT  = int(unix.SIGINT)
	SIGCHLD = int(unix.SIGCHLD)
)

// si_code values, Linux numbering.
const (
	SIUser   = 0x00 // SI_USER
	SIKernel = 0x80 // SI_KERNEL

	ILLIllOpc = 1 // Illegal opcode
	ILLIllOpn = 2 // Illegal operand
	ILLIllTrp = 4 // Illegal trap

	FPEIntDiv = 1 // Integer divide by zero
	FPEIntOvf = 2 // Integer overflow

	SEGVMapErr  = 1 // Address not mapped
	SEGVAccErr  = 2 // Invalid permissions
	SEGVMTESErr = 9 // Synchronous tag check fault

	BUSAdrAln = 1 // Invalid address alignment

	TRAPBrkpt = 1 // Breakpoint
	TRAPTrace = 2 // Trace trap
)

// Signal is one (signal-kind, code, address) triple handed to the
// signal frame builder.
type Signal struct {
	Signo int    // Signal number
	Code  int    // si_code
	Addr  uint64 // Faulting address, or zero
}

func (s Signal) String() string {
	return fmt.Sprintf("sig=%d code=%d addr=%x", s.Signo, s.Code, s.Addr)
}

// Queue holds signals waiting for the next block boundary.
type Queue struct {
	mu      sync.Mutex
	pending []Signal
}

// Post a signal for later delivery. Safe from any goroutine.
func (q *Queue) Post(s Signal) {
	q.mu.Lock()
	q.pending = append(q.pending, s)
	q.mu.Unlock()
}

// Take removes all pending signals, oldest first.
func (q *Queue) Take() []Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	s := q.pending
	q.pending = nil
	return s
}

// Pending reports the number of signals waiting.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Synchronous reports whether the signal was caused by the instruction
// stream. These can not be ignored or blocked by the guest.
func Synchronous(signo int) bool {
	switch signo {
	case SIGILL, SIGTRAP, SIGBUS, SIGFPE, SIGSEGV:
		return true
	}
	return false
}
