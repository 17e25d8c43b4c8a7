// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// Reason codes carried in an ExtendedDesktopSize rectangle's region.X,
// identifying what triggered the resize notification.
const (
	ReasonClient = 0
	ReasonOther  = 1
)

const screenRecordSize = 16

// ExtendedDesktopSizeEncoder announces the framebuffer's current screen
// layout. region.X carries the reason code, region.Y the Status, and
// region.Width/Height the new framebuffer dimensions.
type ExtendedDesktopSizeEncoder struct{}

// Type returns the ExtendedDesktopSize pseudo-encoding's numeric identifier.
func (*ExtendedDesktopSizeEncoder) Type() int32 {
	return EncodingExtendedDesktopSizePseudo
}

// Send writes region's header, the screen count, and rawBytes, which must
// hold a whole number of 16-byte screen records as built by
// encodeScreenRecord.
func (*ExtendedDesktopSizeEncoder) Send(w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error) {
	if len(rawBytes)%screenRecordSize != 0 {
		return 0, sanityCheckError("ExtendedDesktopSizeEncoder.Send",
			"screen record payload is not a multiple of the screen record size", nil)
	}
	numScreens := len(rawBytes) / screenRecordSize

	n, err := writeRectangleHeader(w, region, EncodingExtendedDesktopSizePseudo)
	if err != nil {
		return n, err
	}

	written, err := w.writeU8(uint8(numScreens)) // #nosec G115 - a session has a small, bounded screen count
	n += written
	if err != nil {
		return n, err
	}

	written, err = w.writePad(3)
	n += written
	if err != nil {
		return n, err
	}

	written, err = w.writeFull(rawBytes)
	return n + written, err
}

// encodeScreenRecord packs one per-screen record: u32 id, u16 x, u16 y,
// u16 w, u16 h, u32 flags.
func encodeScreenRecord(id uint32, x, y, w, h uint16, flags uint32) []byte {
	buf := make([]byte, screenRecordSize)
	putU32(buf[0:4], id)
	putU16(buf[4:6], x)
	putU16(buf[6:8], y)
	putU16(buf[8:10], w)
	putU16(buf[10:12], h)
	putU32(buf[12:16], flags)
	return buf
}

func putU16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func putU32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}
