// Package protocol implements the BlockFS line protocol.
//
// Clients send one command per line and receive exactly one reply line per
// command (blank lines get no reply):
//
//	CREATE <name>         -> SUCCESS: file <name> created
//	WRITE <name> <text>   -> SUCCESS: wrote to <name>
//	READ <name>           -> <contents>
//	DELETE <name>         -> SUCCESS: file <name> deleted
//	LIST                  -> <name>,<name>,... | EMPTY
//	QUIT | EXIT           -> SUCCESS: disconnecting
//
// Failures reply "ERROR: <reason>" and leave the connection open.
package protocol

import (
	"errors"
	"strings"
)

// Verb is a command keyword. Verbs are case-insensitive on the wire and
// normalized to upper case.
type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbWrite  Verb = "WRITE"
	VerbRead   Verb = "READ"
	VerbDelete Verb = "DELETE"
	VerbList   Verb = "LIST"
	VerbQuit   Verb = "QUIT"
	VerbExit   Verb = "EXIT"
)

// IsQuit reports whether the verb ends the session.
func (v Verb) IsQuit() bool {
	return v == VerbQuit || v == VerbExit
}

// Command is a parsed request line.
type Command struct {
	// Verb is the upper-cased command keyword
	Verb Verb

	// Name is the file name argument (CREATE, WRITE, READ, DELETE)
	Name string

	// Text is everything after the name for WRITE, spaces included
	Text string
}

// ErrEmptyLine is returned by Parse for a line with no command.
// The server ignores such lines without replying.
var ErrEmptyLine = errors.New("empty line")

// CommandError is a malformed command. Message is sent to the client after
// "ERROR: ".
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

var (
	errInvalidCommand = &CommandError{Message: "Invalid command"}
	errWriteUsage     = &CommandError{Message: "Usage: WRITE <filename> <text>"}
)

// Parse parses one request line.
//
// The line is trimmed of surrounding whitespace and control characters, then
// split on single spaces into at most three parts: verb, name and text. A
// doubled space therefore yields an empty part, which makes READ, CREATE,
// DELETE and LIST fail with "Invalid command" and WRITE fail name validation.
//
// Returns:
//   - Command: The parsed command
//   - error: ErrEmptyLine for a blank line, *CommandError for an unknown verb
//     or wrong arity
func Parse(line string) (Command, error) {
	line = strings.TrimFunc(line, func(r rune) bool { return r <= ' ' })
	if line == "" {
		return Command{}, ErrEmptyLine
	}

	parts := strings.SplitN(line, " ", 3)
	cmd := Command{Verb: Verb(strings.ToUpper(parts[0]))}

	switch cmd.Verb {
	case VerbCreate, VerbRead, VerbDelete:
		if len(parts) != 2 {
			return cmd, errInvalidCommand
		}
		cmd.Name = parts[1]

	case VerbWrite:
		if len(parts) < 2 {
			return cmd, errInvalidCommand
		}
		if len(parts) < 3 {
			return cmd, errWriteUsage
		}
		cmd.Name = parts[1]
		cmd.Text = parts[2]

	case VerbList:
		if len(parts) != 1 {
			return cmd, errInvalidCommand
		}

	case VerbQuit, VerbExit:
		// Trailing arguments are ignored

	default:
		return cmd, errInvalidCommand
	}

	return cmd, nil
}
