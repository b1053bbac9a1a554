package phpworker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single length-prefixed frame read from a worker.
const maxFrameSize = 10 * 1024 * 1024

// writeFrame writes v as a 4-byte big-endian length followed by JSON.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	hdr := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(hdr, uint32(len(body)))

	_, err = w.Write(append(hdr, body...))
	return err
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v any) error {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(hdr)
	if n == 0 || n > maxFrameSize {
		return io.ErrUnexpectedEOF
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode worker frame: %w", err)
	}
	return nil
}
