// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PixelFormat describes how pixel color data is encoded and interpreted in a VNC connection.
type PixelFormat struct {
	// BPP (bits-per-pixel) specifies how many bits are used to represent each pixel.
	BPP uint8

	// Depth specifies the number of useful bits within each pixel value.
	Depth uint8

	// BigEndian determines the byte order for multi-byte pixel values.
	BigEndian bool

	// TrueColor determines whether pixels represent direct RGB values (true)
	// or indices into a color map (false).
	TrueColor bool

	// RedMax specifies the maximum value for the red color component.
	RedMax uint16

	// GreenMax specifies the maximum value for the green color component.
	GreenMax uint16

	// BlueMax specifies the maximum value for the blue color component.
	BlueMax uint16

	// RedShift specifies how many bits to right-shift a pixel value
	// to position the red color component at the least significant bits.
	RedShift uint8

	// GreenShift specifies how many bits to right-shift a pixel value
	// to position the green color component at the least significant bits.
	GreenShift uint8

	// BlueShift specifies how many bits to right-shift a pixel value
	// to position the blue color component at the least significant bits.
	BlueShift uint8
}

// readPixelFormat reads a VNC pixel format from the wire format.
// Parses the 16-byte pixel format structure as defined in RFC 6143.
func readPixelFormat(r io.Reader, result *PixelFormat) error {
	var rawPixelFormat [16]byte
	if _, err := io.ReadFull(r, rawPixelFormat[:]); err != nil {
		return transportError("readPixelFormat", "failed to read pixel format data", err)
	}

	var pfBoolByte uint8
	brPF := bytes.NewReader(rawPixelFormat[:])
	if err := binary.Read(brPF, binary.BigEndian, &result.BPP); err != nil {
		return protocolError("readPixelFormat", "failed to read BPP field", err)
	}

	if err := binary.Read(brPF, binary.BigEndian, &result.Depth); err != nil {
		return protocolError("readPixelFormat", "failed to read depth field", err)
	}

	if err := binary.Read(brPF, binary.BigEndian, &pfBoolByte); err != nil {
		return protocolError("readPixelFormat", "failed to read big endian flag", err)
	}

	if pfBoolByte != 0 {
		// Big endian is true
		result.BigEndian = true
	}

	if err := binary.Read(brPF, binary.BigEndian, &pfBoolByte); err != nil {
		return protocolError("readPixelFormat", "failed to read true color flag", err)
	}

	if pfBoolByte != 0 {
		// True Color is true. So we also have to read all the color max & shifts.
		result.TrueColor = true

		if err := binary.Read(brPF, binary.BigEndian, &result.RedMax); err != nil {
			return protocolError("readPixelFormat", "failed to read red max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.GreenMax); err != nil {
			return protocolError("readPixelFormat", "failed to read green max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.BlueMax); err != nil {
			return protocolError("readPixelFormat", "failed to read blue max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.RedShift); err != nil {
			return protocolError("readPixelFormat", "failed to read red shift value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.GreenShift); err != nil {
			return protocolError("readPixelFormat", "failed to read green shift value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.BlueShift); err != nil {
			return protocolError("readPixelFormat", "failed to read blue shift value", err)
		}
	}

	return nil
}

// writePixelFormat converts a PixelFormat to its wire format representation.
// Returns the 16-byte pixel format structure as defined in RFC 6143.
func writePixelFormat(format *PixelFormat) ([]byte, error) {
	var buf bytes.Buffer

	// Byte 1
	if err := binary.Write(&buf, binary.BigEndian, format.BPP); err != nil {
		return nil, encoderErrorOf("writePixelFormat", "failed to write BPP field", err)
	}

	// Byte 2
	if err := binary.Write(&buf, binary.BigEndian, format.Depth); err != nil {
		return nil, encoderErrorOf("writePixelFormat", "failed to write depth field", err)
	}

	var boolByte byte
	if format.BigEndian {
		boolByte = 1
	} else {
		boolByte = 0
	}

	// Byte 3 (BigEndian)
	if err := binary.Write(&buf, binary.BigEndian, boolByte); err != nil {
		return nil, encoderErrorOf("writePixelFormat", "failed to write big endian flag", err)
	}

	if format.TrueColor {
		boolByte = 1
	} else {
		boolByte = 0
	}

	// Byte 4 (TrueColor)
	if err := binary.Write(&buf, binary.BigEndian, boolByte); err != nil {
		return nil, encoderErrorOf("writePixelFormat", "failed to write true color flag", err)
	}

	// If we have true color enabled then we have to fill in the rest of the
	// structure with the color values.
	if format.TrueColor {
		if err := binary.Write(&buf, binary.BigEndian, format.RedMax); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write red max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.GreenMax); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write green max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.BlueMax); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write blue max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.RedShift); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write red shift value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.GreenShift); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write green shift value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.BlueShift); err != nil {
			return nil, encoderErrorOf("writePixelFormat", "failed to write blue shift value", err)
		}
	}

	return buf.Bytes()[0:16], nil
}

// PixelFormatValidationError represents a pixel format validation error with detailed context.
type PixelFormatValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

// Error returns the formatted error message for pixel format validation errors.
func (e *PixelFormatValidationError) Error() string {
	return fmt.Sprintf("pixel format validation failed for field %s: %s (value: %v)",
		e.Field, e.Message, e.Value)
}

// Validate performs comprehensive validation of a pixel format according to RFC 6143.
// It checks all fields for consistency and validity, returning detailed error information
// if any validation rules are violated.
func (pf *PixelFormat) Validate() error {
	// Validate BPP (bits per pixel)
	if pf.BPP == 0 {
		return &PixelFormatValidationError{
			Field:   "BPP",
			Value:   pf.BPP,
			Rule:    "BPP must be greater than 0",
			Message: "bits per pixel cannot be zero",
		}
	}

	if pf.BPP != 8 && pf.BPP != 16 && pf.BPP != 32 {
		return &PixelFormatValidationError{
			Field:   "BPP",
			Value:   pf.BPP,
			Rule:    "BPP must be 8, 16, or 32",
			Message: "bits per pixel must be 8, 16, or 32",
		}
	}

	// Validate Depth
	if pf.Depth == 0 {
		return &PixelFormatValidationError{
			Field:   "Depth",
			Value:   pf.Depth,
			Rule:    "Depth must be greater than 0",
			Message: "color depth cannot be zero",
		}
	}

	if pf.Depth > pf.BPP {
		return &PixelFormatValidationError{
			Field:   "Depth",
			Value:   pf.Depth,
			Rule:    "Depth cannot exceed BPP",
			Message: fmt.Sprintf("color depth (%d) cannot exceed bits per pixel (%d)", pf.Depth, pf.BPP),
		}
	}

	// Validate TrueColor mode specific fields
	if pf.TrueColor {
		// Validate color maximums
		if pf.RedMax == 0 && pf.GreenMax == 0 && pf.BlueMax == 0 {
			return &PixelFormatValidationError{
				Field:   "ColorMax",
				Value:   fmt.Sprintf("R:%d G:%d B:%d", pf.RedMax, pf.GreenMax, pf.BlueMax),
				Rule:    "At least one color component must have non-zero maximum in TrueColor mode",
				Message: "all color maximums cannot be zero in true color mode",
			}
		}

		// Validate shifts don't exceed BPP
		maxShift := pf.BPP - 1
		if pf.RedShift > maxShift {
			return &PixelFormatValidationError{
				Field:   "RedShift",
				Value:   pf.RedShift,
				Rule:    fmt.Sprintf("RedShift cannot exceed %d for %d-bit pixels", maxShift, pf.BPP),
				Message: fmt.Sprintf("red shift (%d) exceeds maximum for %d-bit pixels", pf.RedShift, pf.BPP),
			}
		}
		if pf.GreenShift > maxShift {
			return &PixelFormatValidationError{
				Field:   "GreenShift",
				Value:   pf.GreenShift,
				Rule:    fmt.Sprintf("GreenShift cannot exceed %d for %d-bit pixels", maxShift, pf.BPP),
				Message: fmt.Sprintf("green shift (%d) exceeds maximum for %d-bit pixels", pf.GreenShift, pf.BPP),
			}
		}
		if pf.BlueShift > maxShift {
			return &PixelFormatValidationError{
				Field:   "BlueShift",
				Value:   pf.BlueShift,
				Rule:    fmt.Sprintf("BlueShift cannot exceed %d for %d-bit pixels", maxShift, pf.BPP),
				Message: fmt.Sprintf("blue shift (%d) exceeds maximum for %d-bit pixels", pf.BlueShift, pf.BPP),
			}
		}

		// Validate color component bit ranges don't overlap
		redBits := countBits(pf.RedMax)
		greenBits := countBits(pf.GreenMax)
		blueBits := countBits(pf.BlueMax)

		if redBits+greenBits+blueBits > pf.Depth {
			return &PixelFormatValidationError{
				Field:   "ColorBits",
				Value:   fmt.Sprintf("R:%d G:%d B:%d (total:%d)", redBits, greenBits, blueBits, redBits+greenBits+blueBits),
				Rule:    fmt.Sprintf("Total color bits cannot exceed depth (%d)", pf.Depth),
				Message: fmt.Sprintf("total color component bits (%d) exceed color depth (%d)", redBits+greenBits+blueBits, pf.Depth),
			}
		}
	}

	return nil
}

// countBits counts the number of bits needed to represent the given maximum value.
// Returns 0 for input 0, otherwise returns the position of the highest set bit + 1.
func countBits(maxVal uint16) uint8 {
	if maxVal == 0 {
		return 0
	}
	bits := uint8(0)
	for maxVal > 0 {
		maxVal >>= 1
		bits++
	}
	return bits
}

// Common pixel format presets for easy configuration.
var (
	// PixelFormat32BitRGBA represents high-quality 32-bit RGBA true color format.
	// This format provides the best color fidelity but uses the most bandwidth.
	PixelFormat32BitRGBA = &PixelFormat{
		BPP:        32,
		Depth:      24,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     255,
		GreenMax:   255,
		BlueMax:    255,
		RedShift:   16,
		GreenShift: 8,
		BlueShift:  0,
	}

	// PixelFormat16BitRGB565 represents balanced 16-bit RGB565 true color format.
	// This format provides good color quality with moderate bandwidth usage.
	PixelFormat16BitRGB565 = &PixelFormat{
		BPP:        16,
		Depth:      16,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     31,
		GreenMax:   63,
		BlueMax:    31,
		RedShift:   11,
		GreenShift: 5,
		BlueShift:  0,
	}

	// PixelFormat16BitRGB555 represents 16-bit RGB555 true color format.
	// This format provides balanced color with equal bits per color component.
	PixelFormat16BitRGB555 = &PixelFormat{
		BPP:        16,
		Depth:      15,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     31,
		GreenMax:   31,
		BlueMax:    31,
		RedShift:   10,
		GreenShift: 5,
		BlueShift:  0,
	}

	// PixelFormat8BitIndexed represents bandwidth-efficient 8-bit indexed color format.
	// This format uses the least bandwidth but is limited to 256 simultaneous colors.
	PixelFormat8BitIndexed = &PixelFormat{
		BPP:       8,
		Depth:     8,
		BigEndian: false,
		TrueColor: false,
	}
)

// BytesPerPixel returns the number of bytes occupied by a single pixel in
// this format.
func (pf *PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

// readPixelComponent reads one pixel of up to 4 bytes from buf honoring the
// format's endianness.
func readPixelComponent(buf []byte, bigEndian bool) uint32 {
	switch len(buf) {
	case 1:
		return uint32(buf[0])
	case 2:
		if bigEndian {
			return uint32(binary.BigEndian.Uint16(buf))
		}
		return uint32(binary.LittleEndian.Uint16(buf))
	case 4:
		if bigEndian {
			return binary.BigEndian.Uint32(buf)
		}
		return binary.LittleEndian.Uint32(buf)
	default:
		return 0
	}
}

// writePixelComponent writes a pixel value into buf honoring the format's
// endianness. buf must be sized to the format's BytesPerPixel.
func writePixelComponent(buf []byte, pixel uint32, bigEndian bool) {
	switch len(buf) {
	case 1:
		buf[0] = uint8(pixel) // #nosec G115 - masked by caller to BPP
	case 2:
		if bigEndian {
			binary.BigEndian.PutUint16(buf, uint16(pixel))
		} else {
			binary.LittleEndian.PutUint16(buf, uint16(pixel))
		}
	case 4:
		if bigEndian {
			binary.BigEndian.PutUint32(buf, pixel)
		} else {
			binary.LittleEndian.PutUint32(buf, pixel)
		}
	}
}

// rescaleChannel rescales a color component from the source channel's
// maximum value to the destination channel's maximum value using integer
// arithmetic: dstMax * comp / srcMax.
func rescaleChannel(comp, srcMax, dstMax uint32) uint32 {
	if srcMax == 0 {
		return 0
	}
	return (dstMax * comp) / srcMax
}

// Copy transfers the rectangle srcRect from srcBuf (laid out with row
// length srcStride and pixel format srcFormat) into dstBuf at (dstX, dstY)
// (laid out with row length dstStride and pixel format dstFormat).
//
// When the two formats are identical, each row is memcpy'd verbatim.
// Otherwise each pixel is unpacked into its RGB channels, each channel is
// rescaled from the source's channel maximum to the destination's, and the
// result is repacked using the destination's shifts and endianness.
//
// Palette (non-true-color) formats are only supported as a source: a
// non-true-color destination format is rejected, matching the direction
// already defined by the source format.
func Copy(srcBuf []byte, srcStride int, srcFormat *PixelFormat, srcRect Rectangle,
	dstBuf []byte, dstStride int, dstFormat *PixelFormat, dstX, dstY int) error {
	if err := srcFormat.Validate(); err != nil {
		return validationError("Copy", "invalid source pixel format", err)
	}
	if err := dstFormat.Validate(); err != nil {
		return validationError("Copy", "invalid destination pixel format", err)
	}
	if srcRect.IsEmpty() {
		return nil
	}

	srcBpp := srcFormat.BytesPerPixel()
	dstBpp := dstFormat.BytesPerPixel()

	sameFormat := *srcFormat == *dstFormat

	if !sameFormat && !dstFormat.TrueColor {
		return unsupportedError("Copy",
			"destination pixel format must be true-color when converting between formats", nil)
	}

	rowBytes := srcRect.Width * srcBpp

	for row := 0; row < srcRect.Height; row++ {
		srcRowOff := (srcRect.Y+row)*srcStride + srcRect.X*srcBpp
		dstRowOff := (dstY+row)*dstStride + dstX*dstBpp

		if srcRowOff < 0 || srcRowOff+rowBytes > len(srcBuf) {
			return sanityCheckError("Copy", "source rectangle out of bounds", nil)
		}
		dstRowBytes := srcRect.Width * dstBpp
		if dstRowOff < 0 || dstRowOff+dstRowBytes > len(dstBuf) {
			return sanityCheckError("Copy", "destination rectangle out of bounds", nil)
		}

		if sameFormat {
			copy(dstBuf[dstRowOff:dstRowOff+rowBytes], srcBuf[srcRowOff:srcRowOff+rowBytes])
			continue
		}

		for col := 0; col < srcRect.Width; col++ {
			srcPixBuf := srcBuf[srcRowOff+col*srcBpp : srcRowOff+(col+1)*srcBpp]
			dstPixBuf := dstBuf[dstRowOff+col*dstBpp : dstRowOff+(col+1)*dstBpp]

			pixel := readPixelComponent(srcPixBuf, srcFormat.BigEndian)

			var r, g, b uint32
			if srcFormat.TrueColor {
				r = (pixel >> srcFormat.RedShift) & uint32(srcFormat.RedMax)
				g = (pixel >> srcFormat.GreenShift) & uint32(srcFormat.GreenMax)
				b = (pixel >> srcFormat.BlueShift) & uint32(srcFormat.BlueMax)
			} else {
				// Palette source: the byte value is a color map index, not
				// a packed channel triple. Treat the full pixel value as
				// the intensity on every channel so indexed sources still
				// produce a usable (grayscale) result without a color map.
				r, g, b = pixel, pixel, pixel
			}

			dstR := rescaleChannel(r, uint32(srcFormat.RedMax), uint32(dstFormat.RedMax))
			dstG := rescaleChannel(g, uint32(srcFormat.GreenMax), uint32(dstFormat.GreenMax))
			dstB := rescaleChannel(b, uint32(srcFormat.BlueMax), uint32(dstFormat.BlueMax))

			dstPixel := (dstR << dstFormat.RedShift) |
				(dstG << dstFormat.GreenShift) |
				(dstB << dstFormat.BlueShift)

			writePixelComponent(dstPixBuf, dstPixel, dstFormat.BigEndian)
		}
	}

	return nil
}

// CopyFromPalette behaves like Copy but resolves each source index through
// cm before rescaling into the destination format, for a palette source
// whose indexed bytes need the color map's true colors rather than the
// grayscale fallback Copy uses in the absence of a ColorMap.
func CopyFromPalette(srcBuf []byte, srcStride int, srcFormat *PixelFormat, cm *ColorMap, srcRect Rectangle,
	dstBuf []byte, dstStride int, dstFormat *PixelFormat, dstX, dstY int) error {
	if srcFormat.TrueColor {
		return unsupportedError("CopyFromPalette", "source pixel format is true-color, use Copy", nil)
	}
	if err := dstFormat.Validate(); err != nil {
		return validationError("CopyFromPalette", "invalid destination pixel format", err)
	}
	if !dstFormat.TrueColor {
		return unsupportedError("CopyFromPalette",
			"destination pixel format must be true-color when converting from a palette", nil)
	}
	if srcRect.IsEmpty() {
		return nil
	}

	srcBpp := srcFormat.BytesPerPixel()
	dstBpp := dstFormat.BytesPerPixel()

	for row := 0; row < srcRect.Height; row++ {
		srcRowOff := (srcRect.Y+row)*srcStride + srcRect.X*srcBpp
		dstRowOff := (dstY+row)*dstStride + dstX*dstBpp

		if srcRowOff < 0 || srcRowOff+srcRect.Width*srcBpp > len(srcBuf) {
			return sanityCheckError("CopyFromPalette", "source rectangle out of bounds", nil)
		}
		if dstRowOff < 0 || dstRowOff+srcRect.Width*dstBpp > len(dstBuf) {
			return sanityCheckError("CopyFromPalette", "destination rectangle out of bounds", nil)
		}

		for col := 0; col < srcRect.Width; col++ {
			srcPixBuf := srcBuf[srcRowOff+col*srcBpp : srcRowOff+(col+1)*srcBpp]
			dstPixBuf := dstBuf[dstRowOff+col*dstBpp : dstRowOff+(col+1)*dstBpp]

			index := readPixelComponent(srcPixBuf, srcFormat.BigEndian)
			color := cm.Get(uint8(index)) // #nosec G115 - 8-bit indexed palette

			dstR := rescaleChannel(uint32(color.R), 65535, uint32(dstFormat.RedMax))
			dstG := rescaleChannel(uint32(color.G), 65535, uint32(dstFormat.GreenMax))
			dstB := rescaleChannel(uint32(color.B), 65535, uint32(dstFormat.BlueMax))

			dstPixel := (dstR << dstFormat.RedShift) |
				(dstG << dstFormat.GreenShift) |
				(dstB << dstFormat.BlueShift)

			writePixelComponent(dstPixBuf, dstPixel, dstFormat.BigEndian)
		}
	}

	return nil
}
