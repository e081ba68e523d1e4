package line

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/internal/protocol"
	"github.com/marmos91/blockfs/pkg/fs"
)

const (
	errorCodeInvalidCommand = "invalid_command"
	errorCodeInternal       = "internal"
)

// execute runs a parsed command against the file system and returns the
// reply line. Metrics are recorded for every command.
func (c *LineConnection) execute(ctx context.Context, cmd protocol.Command) string {
	verb := string(cmd.Verb)
	m := c.server.metrics

	m.RecordCommandStart(verb)
	start := time.Now()

	reply, mutated, err := c.dispatch(ctx, cmd)

	duration := time.Since(start)
	m.RecordCommandEnd(verb)
	m.RecordCommand(verb, duration, errorCode(err))

	if err != nil {
		logger.Debug("Line session %s: %s %q failed: %v", c.id, verb, cmd.Name, err)
		if fs.IsIOError(err) || fs.IsCorrupt(err) {
			logger.Error("Line session %s: %s %q: %v", c.id, verb, cmd.Name, err)
		}
		return protocol.Error(err)
	}

	logger.Debug("Line session %s: %s %q completed in %v", c.id, verb, cmd.Name, duration)

	if mutated {
		m.SetVolumeUsage(c.server.fsys.Statistics(ctx))
	}
	return reply
}

// dispatch maps a command onto the file system.
//
// Returns:
//   - reply: Success reply line
//   - mutated: Whether the command changed the volume
//   - error: Engine failure, formatted by the caller
func (c *LineConnection) dispatch(ctx context.Context, cmd protocol.Command) (string, bool, error) {
	fsys := c.server.fsys
	m := c.server.metrics

	switch cmd.Verb {
	case protocol.VerbCreate:
		if err := fsys.CreateFile(ctx, cmd.Name); err != nil {
			return "", false, err
		}
		return protocol.Created(cmd.Name), true, nil

	case protocol.VerbWrite:
		data := []byte(cmd.Text)
		if err := fsys.WriteFile(ctx, cmd.Name, data); err != nil {
			return "", false, err
		}
		m.RecordBytes("write", len(data))
		return protocol.Wrote(cmd.Name), true, nil

	case protocol.VerbRead:
		data, err := fsys.ReadFile(ctx, cmd.Name)
		if err != nil {
			return "", false, err
		}
		m.RecordBytes("read", len(data))
		return string(data), false, nil

	case protocol.VerbDelete:
		if err := fsys.DeleteFile(ctx, cmd.Name); err != nil {
			return "", false, err
		}
		return protocol.Deleted(cmd.Name), true, nil

	case protocol.VerbList:
		names, err := fsys.ListFiles(ctx)
		if err != nil {
			return "", false, err
		}
		return protocol.Listing(names), false, nil

	default:
		// Parse only returns the verbs above
		return "", false, &protocol.CommandError{Message: "Invalid command"}
	}
}

// errorCode maps an engine error to its metrics label. Empty means success.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := fs.CodeOf(err); ok {
		return code.String()
	}
	var cmdErr *protocol.CommandError
	if errors.As(err, &cmdErr) {
		return errorCodeInvalidCommand
	}
	return errorCodeInternal
}
