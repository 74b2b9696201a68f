/*
 * trapcore - Debug configuration
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

package debugconfig

import (
	"errors"
	"strings"

	config "github.com/rcornwell/trapcore/config/configparser"
	"github.com/rcornwell/trapcore/emu/bridge"
	"github.com/rcornwell/trapcore/emu/exception"
	"github.com/rcornwell/trapcore/emu/helper"
	"github.com/rcornwell/trapcore/emu/trap"
)

// register debug keyword on initialize.
func init() {
	config.RegisterKeyword("DEBUG", config.TypeOptions, setDebug)
}

// CPU options go to the classifier or the injector.
func cpuDebug(opt string) error {
	if err := trap.Debug(opt); err == nil {
		return nil
	}
	if err := exception.Debug(opt); err == nil {
		return nil
	}
	return errors.New("cpu debug option invalid: " + opt)
}

var modules = map[string]func(string) error{
	"CPU":    cpuDebug,
	"HELPER": helper.Debug,
	"BRIDGE": bridge.Debug,
}

// Set debug options for a module.
func setDebug(first config.First, options []config.Option) error {
	fn, ok := modules[strings.ToUpper(first.Value)]
	if !ok {
		return errors.New("debug option invalid: " + first.Value)
	}
	if len(options) == 0 {
		return errors.New("debug requires options: " + first.Value)
	}
	for _, opt := range options {
		if opt.EqualOpt != "" {
			return errors.New("debug option can't have equals: " + opt.Name)
		}
		err := fn(strings.ToUpper(opt.Name))
		if err != nil {
			return err
		}
		for _, value := range opt.Value {
			err = fn(strings.ToUpper(*value))
			if err != nil {
				return err
			}
		}
	}
	return nil
}
