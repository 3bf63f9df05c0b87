// Package protocol implements the fixed-width wire format driver and stub
// speak over the control pipe and info pipe (spec.md §4.1). It is
// deliberately tiny: the format is self-framed by a tag byte, so decoding
// never needs a length prefix beyond the handshake.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Control pipe: driver -> stub. One byte per request.
const (
	// CmdStep requests one synchronization cycle ("s" in spec.md §4.1).
	CmdStep byte = 's'
)

// Info pipe: stub -> driver. Tag byte determines the remaining length.
const (
	// EventReady reports the slave is blocked on tty input with its input
	// buffer empty ("r").
	EventReady byte = 'r'
	// EventDied reports the slave exited or was signalled ("d" + 2 bytes).
	EventDied byte = 'd'
)

// Died describes the payload that follows an EventDied tag byte.
type Died struct {
	Signal int // terminating signal, 0 if the slave exited normally
	Code   int // exit status, 0 if the slave was signalled
}

// WriteStep writes a single CmdStep byte to the control pipe.
func WriteStep(w io.Writer) error {
	_, err := w.Write([]byte{CmdStep})
	return err
}

// WritePid writes the 4-byte big-endian pid handshake sent once by the stub
// immediately after spawn.
func WritePid(w io.Writer, pid int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(pid))
	_, err := w.Write(buf[:])
	return err
}

// ReadPid reads the 4-byte big-endian pid handshake. A short read is a
// protocol-sync failure (spec.md §7) and is reported as an error rather than
// silently zero-extended.
func ReadPid(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("short pid handshake: %w", err)
	}
	return int(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteReady writes the EventReady tag.
func WriteReady(w io.Writer) error {
	_, err := w.Write([]byte{EventReady})
	return err
}

// WriteDied writes the EventDied tag followed by the signal/status payload.
func WriteDied(w io.Writer, sig, code int) error {
	_, err := w.Write([]byte{EventDied, byte(sig), byte(code)})
	return err
}

// EventKind enumerates the events that can arrive on the info pipe,
// including the two terminal conditions (EOF and read error) that have no
// tag byte of their own.
type EventKind int

const (
	EventKindReady EventKind = iota
	EventKindDied
	EventKindEOF
	EventKindError
)

// Event is the parsed form of one info-pipe record.
type Event struct {
	Kind EventKind
	Died Died
	Err  error
}

// ReadEvent reads and decodes one info-pipe record. A zero-length read with
// io.EOF is reported as EventKindEOF (the stub crashed or closed its end);
// any other read error is EventKindError.
func ReadEvent(r io.Reader) Event {
	var tag [1]byte
	n, err := io.ReadFull(r, tag[:])
	if n == 0 {
		if err == io.EOF {
			return Event{Kind: EventKindEOF}
		}
		return Event{Kind: EventKindError, Err: err}
	}
	if err != nil {
		return Event{Kind: EventKindError, Err: err}
	}

	switch tag[0] {
	case EventReady:
		return Event{Kind: EventKindReady}
	case EventDied:
		var rest [2]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return Event{Kind: EventKindError, Err: fmt.Errorf("short died record: %w", err)}
		}
		return Event{Kind: EventKindDied, Died: Died{Signal: int(rest[0]), Code: int(rest[1])}}
	default:
		return Event{Kind: EventKindError, Err: fmt.Errorf("unknown info-pipe tag %q", tag[0])}
	}
}
