package rsyncwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgTag identifies the channel a multiplexed frame belongs to. Only the
// server-to-client direction is ever multiplexed; client-to-server bytes are
// sent unframed.
type MsgTag byte

const (
	MsgData MsgTag = iota
	MsgErrorXfer
	MsgInfo
	MsgError
	MsgWarning
	MsgSocketErr
	MsgLog
	MsgClient
	MsgRedo
	MsgStats
	MsgIOError
	MsgIOTimeout
	MsgNoop
	MsgErrorSocket
	MsgErrorUtf8
	MsgSuccess
	MsgDeleted
	MsgNoSend
)

const mplexBase = 7

// MultiplexWriter wraps a connection so every Write is framed as
// MsgData, and WriteMsg can send other channels (errors, info, stats)
// interleaved with the data stream, exactly as upstream rsync's io.c
// multiplexing does.
type MultiplexWriter struct {
	Writer io.Writer
}

func (m *MultiplexWriter) Write(p []byte) (int, error) {
	if err := m.WriteMsg(MsgData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteMsg sends a single framed message on the given channel. Frames are
// capped at 24 bits of length (the protocol's maximum), so larger payloads
// are split across multiple frames.
func (m *MultiplexWriter) WriteMsg(tag MsgTag, p []byte) error {
	const maxChunk = 1<<24 - 1
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		header := uint32(mplexBase+tag)<<24 | uint32(len(chunk))
		var hb [4]byte
		binary.LittleEndian.PutUint32(hb[:], header)
		if _, err := m.Writer.Write(hb[:]); err != nil {
			return err
		}
		if _, err := m.Writer.Write(chunk); err != nil {
			return err
		}
		p = p[len(chunk):]
	}
	return nil
}

// MultiplexReader demultiplexes a server connection's byte stream: MsgData
// frames are returned to the caller through Read, while other channels are
// handed to OnMessage (when set); without OnMessage, MsgError and
// MsgErrorXfer frames make Read return an error and all other channels are
// discarded.
type MultiplexReader struct {
	Reader    io.Reader
	OnMessage func(tag MsgTag, data []byte)

	pending []byte
}

func (m *MultiplexReader) Read(p []byte) (int, error) {
	for len(m.pending) == 0 {
		var hb [4]byte
		if _, err := io.ReadFull(m.Reader, hb[:]); err != nil {
			return 0, err
		}
		header := binary.LittleEndian.Uint32(hb[:])
		tag := MsgTag(header>>24) - mplexBase
		length := header & 0xFFFFFF
		buf := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(m.Reader, buf); err != nil {
				return 0, err
			}
		}
		if tag == MsgData {
			m.pending = buf
			continue
		}
		if m.OnMessage != nil {
			m.OnMessage(tag, buf)
		} else if tag == MsgError || tag == MsgErrorXfer {
			return 0, fmt.Errorf("remote error: %s", buf)
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}
