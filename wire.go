// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// wireReader reads the big-endian primitives the RFB protocol is built
// from out of an underlying byte stream.
type wireReader struct {
	r io.Reader
}

func newWireReader(r io.Reader) *wireReader {
	return &wireReader{r: r}
}

func (w *wireReader) readFull(buf []byte) error {
	if _, err := io.ReadFull(w.r, buf); err != nil {
		return transportError("wireReader.readFull", "failed to read from stream", err)
	}
	return nil
}

func (w *wireReader) readU8() (uint8, error) {
	var buf [1]byte
	if err := w.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (w *wireReader) readU16() (uint16, error) {
	var buf [2]byte
	if err := w.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (w *wireReader) readU32() (uint32, error) {
	var buf [4]byte
	if err := w.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (w *wireReader) readS32() (int32, error) {
	v, err := w.readU32()
	return int32(v), err // #nosec G115 - reinterpretation, not truncation
}

func (w *wireReader) skip(n int) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	return w.readFull(buf)
}

func (w *wireReader) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := w.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readLengthPrefixedString reads a u32 byte length followed by that many
// bytes, used for failure-reason strings and ClientCutText/ServerCutText.
func (w *wireReader) readLengthPrefixedString(maxLength uint32) (string, error) {
	length, err := w.readU32()
	if err != nil {
		return "", err
	}
	if length > maxLength {
		return "", protocolError("wireReader.readLengthPrefixedString",
			"length-prefixed string exceeds maximum length", nil)
	}
	buf, err := w.readBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// wireWriter writes the big-endian primitives the RFB protocol is built
// from to an underlying byte stream.
type wireWriter struct {
	w io.Writer
}

func newWireWriter(w io.Writer) *wireWriter {
	return &wireWriter{w: w}
}

func (w *wireWriter) writeFull(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	if err != nil {
		return n, transportError("wireWriter.writeFull", "failed to write to stream", err)
	}
	return n, nil
}

func (w *wireWriter) writeU8(v uint8) (int, error) {
	return w.writeFull([]byte{v})
}

func (w *wireWriter) writeU16(v uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.writeFull(buf[:])
}

func (w *wireWriter) writeU32(v uint32) (int, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return w.writeFull(buf[:])
}

func (w *wireWriter) writeS32(v int32) (int, error) {
	return w.writeU32(uint32(v)) // #nosec G115 - reinterpretation, not truncation
}

func (w *wireWriter) writePad(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	return w.writeFull(make([]byte, n))
}

// writeLengthPrefixedString writes a u32 byte length followed by s's bytes.
func (w *wireWriter) writeLengthPrefixedString(s string) (int, error) {
	n1, err := w.writeU32(uint32(len(s))) // #nosec G115 - bounded by caller before this point
	if err != nil {
		return n1, err
	}
	n2, err := w.writeFull([]byte(s))
	return n1 + n2, err
}
