// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "sync"

// Encoding numeric codes used by the core, per the RFB rectangle header's
// signed 32-bit encoding field.
const (
	EncodingRaw                       int32 = 0
	EncodingCopyRect                  int32 = 1
	EncodingDesktopSizePseudo         int32 = -223
	EncodingExtendedDesktopSizePseudo int32 = -308
	EncodingCursorPseudo              int32 = -239
)

// Encoder turns a rectangle's raw, already client-pixel-format-converted
// bytes into encoded bytes on the wire. An Encoder is a pure function over
// its arguments; it never touches session state other than the stream it
// is handed.
type Encoder interface {
	// Type returns the encoding's numeric wire identifier.
	Type() int32

	// Send writes region's header and encoding-specific payload to w,
	// encoding rawBytes (already converted to clientFormat) as needed,
	// and returns the number of bytes written.
	Send(w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error)
}

// EncoderStats accumulates per-encoder counters across the lifetime of a
// session. Counters are monotone and reset only when the session is
// recreated.
type EncoderStats struct {
	mu           sync.Mutex
	Rectangles   uint64
	RawBytes     uint64
	EncodedBytes uint64
}

func (s *EncoderStats) record(rawBytes, encodedBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rectangles++
	s.RawBytes += uint64(rawBytes)     // #nosec G115 - byte counts are non-negative
	s.EncodedBytes += uint64(encodedBytes) // #nosec G115 - byte counts are non-negative
}

// Snapshot returns a copy of the current counters.
func (s *EncoderStats) Snapshot() (rectangles, rawBytes, encodedBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rectangles, s.RawBytes, s.EncodedBytes
}

// EncoderRegistry holds the encoders a session knows how to use, keyed by
// their numeric type, and the per-type statistics accumulated from use.
type EncoderRegistry struct {
	mu       sync.RWMutex
	encoders map[int32]Encoder
	stats    map[int32]*EncoderStats
}

// NewEncoderRegistry creates a registry pre-populated with the core's Raw,
// CopyRect, ExtendedDesktopSize and Cursor encoders.
func NewEncoderRegistry() *EncoderRegistry {
	reg := &EncoderRegistry{
		encoders: make(map[int32]Encoder),
		stats:    make(map[int32]*EncoderStats),
	}
	reg.Register(&RawEncoder{})
	reg.Register(&CopyRectEncoder{})
	reg.Register(&ExtendedDesktopSizeEncoder{})
	reg.Register(&CursorEncoder{})
	return reg
}

// Register adds or replaces the encoder for its Type().
func (r *EncoderRegistry) Register(enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[enc.Type()] = enc
	if _, ok := r.stats[enc.Type()]; !ok {
		r.stats[enc.Type()] = &EncoderStats{}
	}
}

// Get returns the registered encoder for code, if any.
func (r *EncoderRegistry) Get(code int32) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enc, ok := r.encoders[code]
	return enc, ok
}

// Stats returns the accumulated statistics for code, creating an empty
// record if none exists yet.
func (r *EncoderRegistry) Stats(code int32) *EncoderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[code]
	if !ok {
		s = &EncoderStats{}
		r.stats[code] = s
	}
	return s
}

// SelectEncoder implements the selection policy: the first client-listed
// encoding for which the registry has a registered encoder, falling back
// to Raw if none match.
func (r *EncoderRegistry) SelectEncoder(clientEncodings []int32) Encoder {
	for _, code := range clientEncodings {
		if enc, ok := r.Get(code); ok {
			return enc
		}
	}
	raw, _ := r.Get(EncodingRaw)
	return raw
}

// Send writes region with enc, recording statistics against enc's
// encoding type.
func (r *EncoderRegistry) Send(enc Encoder, w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error) {
	n, err := enc.Send(w, clientFormat, region, rawBytes)
	if err != nil {
		return n, err
	}
	r.Stats(enc.Type()).record(len(rawBytes), n)
	return n, nil
}

// writeRectangleHeader writes the common rectangle header: u16 x, u16 y,
// u16 w, u16 h, s32 encoding.
func writeRectangleHeader(w *wireWriter, region Rectangle, encoding int32) (int, error) {
	n := 0
	for _, v := range []uint16{
		uint16(region.X),      // #nosec G115 - bounded by framebuffer dimensions
		uint16(region.Y),      // #nosec G115 - bounded by framebuffer dimensions
		uint16(region.Width),  // #nosec G115 - bounded by framebuffer dimensions
		uint16(region.Height), // #nosec G115 - bounded by framebuffer dimensions
	} {
		written, err := w.writeU16(v)
		n += written
		if err != nil {
			return n, err
		}
	}
	written, err := w.writeS32(encoding)
	n += written
	return n, err
}
