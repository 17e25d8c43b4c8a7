// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// CursorEncoder emits a cursor shape update. region.X, region.Y carry the
// cursor's hotspot offset and region.Width/Height its dimensions; a
// width and height of zero hides the cursor.
type CursorEncoder struct{}

// Type returns the Cursor pseudo-encoding's numeric identifier.
func (*CursorEncoder) Type() int32 {
	return EncodingCursorPseudo
}

// Send writes region's header followed by rawBytes, which must hold the
// cursor's pixel data (width*height*clientBpp bytes) immediately followed
// by its transparency mask (ceil(width/8)*height bytes), as built by
// encodeCursorShape. A hidden cursor (region.Width == 0 and
// region.Height == 0) carries no payload.
func (*CursorEncoder) Send(w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error) {
	if region.Width == 0 && region.Height == 0 {
		return writeRectangleHeader(w, region, EncodingCursorPseudo)
	}

	expected := region.Width*region.Height*clientFormat.BytesPerPixel() + maskBytesPerRow(region.Width)*region.Height
	if len(rawBytes) != expected {
		return 0, sanityCheckError("CursorEncoder.Send",
			"cursor payload does not match its declared dimensions", nil)
	}

	n, err := writeRectangleHeader(w, region, EncodingCursorPseudo)
	if err != nil {
		return n, err
	}

	written, err := w.writeFull(rawBytes)
	return n + written, err
}

// maskBytesPerRow returns ceil(width/8), the number of mask bytes needed
// to cover one cursor row.
func maskBytesPerRow(width int) int {
	return (width + 7) / 8
}

// encodeCursorShape packs a cursor's pixel data (already converted to
// clientFormat) and its transparency mask into the payload CursorEncoder
// expects as rawBytes.
func encodeCursorShape(pixelData, maskData []byte) []byte {
	buf := make([]byte, 0, len(pixelData)+len(maskData))
	buf = append(buf, pixelData...)
	buf = append(buf, maskData...)
	return buf
}
