package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xiaot623/aichat/protocol"
)

// ContentTypeNDJSON is the content type of a streamed delta response.
const ContentTypeNDJSON = "application/x-ndjson"

const maxFrameSize = 4 << 20

// FrameWriter writes one CompletionDelta per line.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter returns a writer emitting newline-delimited JSON frames to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteDelta writes d as a single frame.
func (fw *FrameWriter) WriteDelta(d *protocol.CompletionDelta) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	data = append(data, '\n')
	_, err = fw.w.Write(data)
	return err
}

// FrameReader reads delta frames from a streamed body. Each non-empty line is
// one frame. SSE "data:" prefixes are stripped and "[DONE]" ends the stream.
type FrameReader struct {
	r    *bufio.Reader
	done bool
}

// NewFrameReader returns a reader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next raw frame, or io.EOF at the end of the stream.
func (fr *FrameReader) Next() ([]byte, error) {
	for !fr.done {
		line, err := fr.readLine()
		if err == io.EOF && len(line) == 0 {
			fr.done = true
			return nil, io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF {
			fr.done = true
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			line = bytes.TrimSpace(rest)
		} else if bytes.HasPrefix(line, []byte("event:")) || bytes.HasPrefix(line, []byte("id:")) {
			continue
		}
		if bytes.Equal(line, []byte("[DONE]")) {
			fr.done = true
			return nil, io.EOF
		}
		return line, nil
	}
	return nil, io.EOF
}

func (fr *FrameReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := fr.r.ReadLine()
		line = append(line, chunk...)
		if len(line) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		if err != nil || !isPrefix {
			return line, err
		}
	}
}

// DecodeDelta parses one frame. Errors are *protocol.DecodeError.
func DecodeDelta(frame []byte) (*protocol.CompletionDelta, error) {
	var d protocol.CompletionDelta
	if err := json.Unmarshal(frame, &d); err != nil {
		return nil, &protocol.DecodeError{Err: fmt.Errorf("decode delta frame: %w", err)}
	}
	return &d, nil
}
