package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yllada/pvpn/common"
)

// Terminal is the line-oriented boundary the editor talks through.
type Terminal interface {
	// ReadLine returns one line without its line terminator.
	ReadLine() (string, error)
	// ReadSecret reads one line without echoing it when possible.
	ReadSecret() (string, error)
	// Printf writes a prompt or message.
	Printf(format string, args ...interface{})
}

// LineTerminal reads lines from a reader and writes prompts to a writer.
type LineTerminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewLineTerminal wraps in and out. When in is an interactive terminal,
// secrets are read with echo disabled.
func NewLineTerminal(in io.Reader, out io.Writer) *LineTerminal {
	t := &LineTerminal{
		in:  bufio.NewReader(in),
		out: out,
		fd:  -1,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
	}
	return t
}

// ReadLine implements Terminal. A final line without a newline is still
// returned; end of input before any data is an error.
func (t *LineTerminal) ReadLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if line == "" {
			return "", fmt.Errorf("%w: %w", common.ErrInvalidInput, io.ErrUnexpectedEOF)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadSecret implements Terminal.
func (t *LineTerminal) ReadSecret() (string, error) {
	if t.fd < 0 {
		return t.ReadLine()
	}
	secret, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

// Printf implements Terminal.
func (t *LineTerminal) Printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format, args...)
}
