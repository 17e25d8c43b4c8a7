// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// RawEncoder emits a rectangle header followed by the rectangle's pixel
// data verbatim, already converted to the client's pixel format.
type RawEncoder struct{}

// Type returns the Raw encoding's numeric identifier.
func (*RawEncoder) Type() int32 {
	return EncodingRaw
}

// Send writes region's header then region.Height*region.Width*clientBpp
// bytes of pixel data. rawBytes must already be in clientFormat.
func (*RawEncoder) Send(w *wireWriter, clientFormat *PixelFormat, region Rectangle, rawBytes []byte) (int, error) {
	expected := region.Width * region.Height * clientFormat.BytesPerPixel()
	if len(rawBytes) != expected {
		return 0, sanityCheckError("RawEncoder.Send",
			"raw pixel payload does not match region dimensions and client pixel format", nil)
	}

	n, err := writeRectangleHeader(w, region, EncodingRaw)
	if err != nil {
		return n, err
	}

	written, err := w.writeFull(rawBytes)
	return n + written, err
}
