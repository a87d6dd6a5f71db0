package terminal

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// MaxInputLength caps a single message, in characters
const MaxInputLength = 2000

// Reader reads user input one line at a time
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadLine reads a line of input, trimmed of surrounding whitespace.
// A final line without a newline is returned before io.EOF.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var stdin = NewReader(os.Stdin)

// ReadUserInput reads a line of input from the user
func ReadUserInput() (string, error) {
	return stdin.ReadLine()
}

// Truncate cuts s to MaxInputLength characters and reports whether it did
func Truncate(s string) (string, bool) {
	if utf8.RuneCountInString(s) <= MaxInputLength {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:MaxInputLength]), true
}

// ReadUserInputContext is ReadUserInput that gives up when ctx is done.
// The pending read is abandoned, so only use it when giving up means exiting.
func ReadUserInputContext(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := ReadUserInput()
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
