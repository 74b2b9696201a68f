/*
 * trapcore - Main program
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

package main

import (
	"io"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	config "github.com/rcornwell/trapcore/config/configparser"
	machine "github.com/rcornwell/trapcore/config/machineconfig"
	"github.com/rcornwell/trapcore/emu/cpu"
	"github.com/rcornwell/trapcore/emu/dispatch"
	"github.com/rcornwell/trapcore/emu/script"
	"github.com/rcornwell/trapcore/util/debug"
	logger "github.com/rcornwell/trapcore/util/logger"

	_ "github.com/rcornwell/trapcore/config/debugconfig"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "trapcore.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optScript := getopt.StringLong("script", 's', "", "Lua block script, overrides SCRIPT")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file io.Writer
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			slog.Error("Unable to create log file: " + *optLogFile)
			os.Exit(1)
		}
		file = f
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	handler := logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false},
		*optDebug || (file == nil && logger.ConsoleDefault()))
	Logger := slog.New(handler)
	slog.SetDefault(Logger)

	Logger.Info("trapcore started")
	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		Logger.Error("Configuration file " + *optConfig + " can't be found")
		os.Exit(1)
	}

	if err := config.LoadConfigFile(*optConfig); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	if *optScript != "" {
		machine.SetScript(*optScript)
	}
	settings := machine.Get()
	if settings.Script == "" {
		Logger.Error("No block script given")
		debug.Close()
		os.Exit(1)
	}

	core, err := settings.Build()
	if err != nil {
		Logger.Error(err.Error())
		debug.Close()
		os.Exit(1)
	}

	// Each context gets its own Lua state.
	var scripts []*script.Script
	status, err := core.Run(func(c *cpu.Context) (dispatch.Executor, error) {
		s, err := script.Load(settings.Script)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
		c.PC = settings.Entry
		return s, nil
	})
	for _, s := range scripts {
		s.Close()
	}
	if err != nil {
		Logger.Error(err.Error())
		debug.Close()
		os.Exit(2)
	}
	Logger.Info("Guest exited", "status", status)
	debug.Close()
	os.Exit(status & 0xff)
}
