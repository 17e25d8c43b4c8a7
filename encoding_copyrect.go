// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// CopyRectEncoder emits a rectangle whose pixels were copied unchanged
// from elsewhere in the same framebuffer. It carries no pixel data, only
// the source coordinates the client should copy from.
type CopyRectEncoder struct{}

// Type returns the CopyRect encoding's numeric identifier.
func (*CopyRectEncoder) Type() int32 {
	return EncodingCopyRect
}

// Send writes region's header followed by the 4-byte source coordinates
// packed into rawBytes by encodeCopyRectSource: a big-endian srcX then
// srcY, 4 bytes total.
func (*CopyRectEncoder) Send(w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error) {
	if len(rawBytes) != 4 {
		return 0, sanityCheckError("CopyRectEncoder.Send",
			"copyrect payload must be exactly 4 bytes (srcX, srcY)", nil)
	}

	n, err := writeRectangleHeader(w, region, EncodingCopyRect)
	if err != nil {
		return n, err
	}

	written, err := w.writeFull(rawBytes)
	return n + written, err
}

// encodeCopyRectSource packs (srcX, srcY) into the 4-byte payload
// CopyRectEncoder.Send expects as rawBytes.
func encodeCopyRectSource(srcX, srcY int) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(srcX >> 8) // #nosec G115 - bounded by framebuffer dimensions
	buf[1] = byte(srcX)      // #nosec G115 - bounded by framebuffer dimensions
	buf[2] = byte(srcY >> 8) // #nosec G115 - bounded by framebuffer dimensions
	buf[3] = byte(srcY)      // #nosec G115 - bounded by framebuffer dimensions
	return buf
}
