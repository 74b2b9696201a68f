/*
 * trapcore - Configuration file parser
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// List of options to pass to create routine.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Value of option.
}

// First parameter after keyword.
type First struct {
	Number   uint64 // Value of parameter if number.
	IsNumber bool   // Valid number in Number.
	Value    string // String value of parameter.
}

// Current option line being parsed.
type optionLine struct {
	line string // Current option line.
	pos  int    // Current position in line.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <keyword> <whitespace> <first> <whitespace> <options> |
 *           <keyword> <whitespace> <quoteopt> |
 *           <keyword>
 * <first> ::= <string> | <hexnumber> | <number><K|M>
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= *<value> (<whitespace> | <eol>
 * <value> ::= <opt> *(',' *(<whitespace>) <string>
 * <opt> := <valueopt> | <string>
 * <valueopt> ::= <string> '=' <quoteopt>
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

const (
	TypeKeyword = 1 + iota // Keyword requires a number then options.
	TypeOption             // Accepts one parameter.
	TypeOptions            // Accepts a parameter and list of options.
	TypeSwitch             // Keyword only used to set a flag.
	TypeFile               // Accepts a file name.
)

// Keyword definition.
type keywordDef struct {
	create func(First, []Option) error
	ty     int
}

var keywords = map[string]keywordDef{}

var lineNumber int

// Return type of keyword or 0 if not registered.
func getKeyword(key string) int {
	keyword, ok := keywords[key]
	if !ok {
		return 0
	}
	return keyword.ty
}

func register(key string, ty int, fn func(First, []Option) error) {
	key = strings.ToUpper(key)
	slog.Debug("Registering configuration keyword: " + key)
	keywords[key] = keywordDef{create: fn, ty: ty}
}

// Register should be called from init functions.
func RegisterKeyword(key string, ty int, fn func(First, []Option) error) {
	register(key, ty, fn)
}

// Register should be called from init functions.
func RegisterSwitch(key string, fn func(First, []Option) error) {
	register(key, TypeSwitch, fn)
}

// Register should be called from init functions.
func RegisterOption(key string, fn func(First, []Option) error) {
	register(key, TypeOption, fn)
}

// Register should be called from init functions.
func RegisterFile(key string, fn func(First, []Option) error) {
	register(key, TypeFile, fn)
}

// Call creation function for keyword after checking type.
func create(key string, ty int, first First, options []Option) error {
	key = strings.ToUpper(key)
	keyword, ok := keywords[key]
	if !ok {
		return errors.New("Unknown keyword: " + key)
	}
	if keyword.ty != ty {
		return fmt.Errorf("keyword %s used as wrong type", key)
	}
	return keyword.create(first, options)
}

// ParseNumber converts hex or decimal number with K or M suffix.
func ParseNumber(value string) (uint64, error) {
	mult := uint64(1)
	base := 16
	switch {
	case strings.HasSuffix(value, "K"), strings.HasSuffix(value, "k"):
		mult = 1024
		base = 10
	case strings.HasSuffix(value, "M"), strings.HasSuffix(value, "m"):
		mult = 1024 * 1024
		base = 10
	}
	if base == 10 {
		value = value[:len(value)-1]
	}
	v, err := strconv.ParseUint(value, base, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

// Load in a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Process configuration from a reader.
func LoadConfig(in io.Reader) error {
	lineNumber = 0
	reader := bufio.NewReader(in)
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		err = line.parseLine()
		if err != nil {
			return err
		}
	}
	return nil
}

// Parse one line from file.
func (line *optionLine) parseLine() error {
	key := line.parseKeyword()
	if key == "" {
		return nil
	}
	ty := getKeyword(key)
	switch ty {
	case TypeKeyword:
		first := line.parseFirst()
		if first == nil || !first.IsNumber {
			return fmt.Errorf("keyword %s requires a number, line: %d", key, lineNumber)
		}
		// Get any remaining options.
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return create(key, ty, *first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", key, lineNumber)
		}
		return create(key, ty, *first, nil)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", key, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return create(key, ty, *first, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch option: %s followed by options, line: %d", key, lineNumber)
		}
		return create(key, ty, First{}, nil)

	case TypeFile:
		line.skipSpace()
		name, ok := line.parseFileName()
		if !ok || name == "" {
			return fmt.Errorf("option: %s requires file name, line: %d", key, lineNumber)
		}
		return create(key, ty, First{Value: name}, nil)
	}
	return fmt.Errorf("no type: %s registered, line: %d", key, lineNumber)
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next letter or digit in line. 0 if EOL or space.
func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.pos >= len(line.line) {
		return 0
	}
	by := line.line[line.pos]
	if inQuote {
		return by
	}
	if line.isEOL() {
		return 0
	}
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
		return by
	}
	return 0
}

// Peek at next character.
func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// Grab run of letters and digits.
func (line *optionLine) getWord() string {
	value := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) {
			break
		}
		value += string([]byte{by})
		line.pos++
	}
	return value
}

// Parse keyword at start of line.
func (line *optionLine) parseKeyword() string {
	// Skip leading space
	line.skipSpace()
	// Check if end of line.
	if line.isEOL() {
		return ""
	}
	return strings.ToUpper(line.getWord())
}

// Parse first option parameter.
func (line *optionLine) parseFirst() *First {
	// Skip leading space
	line.skipSpace()
	// Check if end of line.
	if line.isEOL() {
		return nil
	}

	value := line.getWord()
	if value == "" {
		return nil
	}
	first := First{Value: value}
	if number, err := ParseNumber(value); err == nil {
		first.Number = number
		first.IsNumber = true
	}
	return &first
}

// Parse a file name, either quoted or up to next space.
func (line *optionLine) parseFileName() (string, bool) {
	if line.isEOL() {
		return "", false
	}
	if line.line[line.pos] != '"' {
		value := ""
		for line.pos < len(line.line) && !unicode.IsSpace(rune(line.line[line.pos])) {
			value += string(line.line[line.pos])
			line.pos++
		}
		return value, true
	}
	line.pos--
	return line.parseQuoteString()
}

// Parse string that is "string" or just string. Called with pos at
// character before string.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	// If quote, set we are in quoted string
	if line.getPeek() == '"' {
		inQuote = true
		line.pos++
	}

	for {
		by := line.getNext(inQuote)
		// If processing a quoted string "" gets replaced by single quote
		if by == '"' && inQuote {
			if line.getPeek() != '"' {
				// Hit end of string.
				line.pos++
				return value, true
			}
			line.pos++
		}

		if by == 0 || by == '\n' {
			return value, !inQuote
		}

		// Space or comma terminates a no quoted string.
		if !inQuote && (unicode.IsSpace(rune(by)) || by == ',') {
			return value, true
		}

		value += string(by)
	}
}

// Parse option name.
func (line *optionLine) getName() (string, error) {
	// Check if end of line.
	if line.isEOL() {
		return "", nil
	}

	// First character must be alphabetic.
	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		return "", fmt.Errorf("invalid option encountered line: %d [%d]", lineNumber, line.pos)
	}
	return line.getWord(), nil
}

// Parse options for a line.
func (line *optionLine) parseOption() (*Option, error) {
	// Skip leading space
	line.skipSpace()

	// Grab option name
	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	// Empty option.
	option := Option{Name: strings.ToUpper(value)}

	// If at end of line done.
	if line.isEOL() {
		return &option, nil
	}

	// Check if equals option.
	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line: %d [%d]", lineNumber, line.pos)
		}
		option.EqualOpt = v
	}

	// Skip any spaces.
	line.skipSpace()

	// Grab all , options
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++ // Skip comma
		// Skip space between , and next option
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			v = strings.ToUpper(v)
			option.Value = append(option.Value, &v)
		}
		// Skip any trailing spaces.
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options for line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}
