/*
 * trapcore - Log handler tests
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

package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	var file, console bytes.Buffer
	h := NewHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	h.SetConsole(&console)
	log := slog.New(h)

	log.Info("starting", "contexts", 2)
	if !strings.Contains(file.String(), "INFO: starting contexts=2") {
		t.Errorf("Log file got: %q", file.String())
	}
	if console.Len() != 0 {
		t.Errorf("Info echoed to console: %q", console.String())
	}

	log.With("ctx", 1).Warn("reserved policy")
	if !strings.Contains(console.String(), "WARN: reserved policy ctx=1") {
		t.Errorf("Console got: %q", console.String())
	}

	console.Reset()
	h.SetDebug(true)
	log.Debug("trace")
	if !strings.Contains(console.String(), "DEBUG: trace") {
		t.Errorf("Debug not echoed got: %q", console.String())
	}
}

func TestHandlerLevel(t *testing.T) {
	var file bytes.Buffer
	h := NewHandler(&file, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	h.SetConsole(nil)
	log := slog.New(h)
	log.Debug("hidden")
	if file.Len() != 0 {
		t.Errorf("Debug record written at info level: %q", file.String())
	}
	log.Error("shown")
	if !strings.Contains(file.String(), "ERROR: shown") {
		t.Errorf("Error record got: %q", file.String())
	}
}
