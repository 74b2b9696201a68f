/*
 * trapcore - Trace records to a debug file
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

package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	config "github.com/rcornwell/trapcore/config/configparser"
)

var (
	mu      sync.Mutex
	logFile *os.File
	tracer  *slog.Logger
)

// Trace writes one structured record if level is selected in mask.
// Records carry the module name followed by key value pairs.
func Trace(module string, mask int, level int, msg string, args ...any) {
	if (mask & level) == 0 {
		return
	}
	mu.Lock()
	t := tracer
	mu.Unlock()
	if t == nil {
		return
	}
	t.Info(msg, append([]any{slog.String("module", module)}, args...)...)
}

// Generic debug message.
func Debugf(module string, mask int, level int, format string, a ...any) {
	if (mask & level) == 0 {
		return
	}
	Trace(module, mask, level, fmt.Sprintf(format, a...))
}

// Direct trace records to writer, nil turns tracing off.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		tracer = nil
		return
	}
	tracer = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Close debug file if one is open.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	tracer = nil
}

// register debug file on initialize.
func init() {
	config.RegisterFile("DEBUGFILE", create)
}

// Create the debug file.
func create(first config.First, _ []config.Option) error {
	mu.Lock()
	if logFile != nil {
		name := logFile.Name()
		mu.Unlock()
		return fmt.Errorf("can't have more then one debug file, previous: %s", name)
	}
	mu.Unlock()

	file, err := os.Create(first.Value)
	if err != nil {
		return fmt.Errorf("unable to create debug file: %s", first.Value)
	}

	SetOutput(file)
	mu.Lock()
	logFile = file
	mu.Unlock()
	return nil
}
