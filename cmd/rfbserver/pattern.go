// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package main

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	vnc "github.com/cosminvlad/remoteviewing"
)

// patternSource is a CaptureSource that paints an animated sine-wave test
// pattern into its framebuffer on every tick, grounded on the kind of
// synthetic frame generator a standalone RFB demo server uses in place of
// a real screen or application surface. It supports SetDesktopSize so the
// ExtendedDesktopSize negotiation path has something real to exercise.
type patternSource struct {
	mu     sync.Mutex
	width  int
	height int
	frame  uint64
	format *vnc.PixelFormat
}

// newPatternSource creates a pattern source painting directly in format.
// A nil format defaults to 32-bit RGBA.
func newPatternSource(width, height int, format *vnc.PixelFormat) *patternSource {
	if format == nil {
		format = vnc.PixelFormat32BitRGBA
	}
	return &patternSource{width: width, height: height, format: format}
}

// Capture implements vnc.CaptureSource. Each call regenerates the full
// framebuffer; a real capture source would instead diff against the
// screen and report hints through CapturedFramebuffer.
func (p *patternSource) Capture() (vnc.Capture, error) {
	p.mu.Lock()
	width, height, frame, format := p.width, p.height, p.frame, p.format
	p.frame++
	p.mu.Unlock()

	fb, err := vnc.NewFramebuffer("rfbserver demo desktop", width, height, format)
	if err != nil {
		return nil, err
	}

	buf := fb.GetBuffer()
	bpp := format.BytesPerPixel()
	t := float64(frame) * 0.1
	for y := 0; y < height; y++ {
		row := buf[y*fb.Stride : y*fb.Stride+width*bpp]
		waveY := math.Sin(float64(y)*0.04 + t)
		for x := 0; x < width; x++ {
			waveX := math.Sin(float64(x)*0.04 + t)
			intensity := uint8((waveX + waveY + 2) * 63.5) // #nosec G115 - bounded to [0,254]
			writePixel(row[x*bpp:(x+1)*bpp], format, intensity, intensity/2, 255-intensity)
		}
	}

	return fb, nil
}

// writePixel packs an (r, g, b) triple into dst according to format,
// honoring its true-color shifts and channel maxima, or its 8-bit
// indexed convention of treating r as the palette index directly (the
// pattern's grayscale-ish intensity works as an index into the default
// grayscale color map NewColorMap seeds every session with).
func writePixel(dst []byte, format *vnc.PixelFormat, r, g, b uint8) {
	if !format.TrueColor {
		dst[0] = r
		return
	}

	red := rescale(r, format.RedMax)
	green := rescale(g, format.GreenMax)
	blue := rescale(b, format.BlueMax)
	pixel := (red << format.RedShift) | (green << format.GreenShift) | (blue << format.BlueShift)

	switch len(dst) {
	case 1:
		dst[0] = byte(pixel)
	case 2:
		if format.BigEndian {
			binary.BigEndian.PutUint16(dst, uint16(pixel)) // #nosec G115 - pixel fits the format's bit depth
		} else {
			binary.LittleEndian.PutUint16(dst, uint16(pixel)) // #nosec G115 - pixel fits the format's bit depth
		}
	case 4:
		if format.BigEndian {
			binary.BigEndian.PutUint32(dst, pixel)
		} else {
			binary.LittleEndian.PutUint32(dst, pixel)
		}
	}
}

// rescale maps an 8-bit channel value onto [0, max].
func rescale(v uint8, max uint16) uint32 {
	return (uint32(v) * uint32(max)) / 255
}

// SupportsResizing implements vnc.CaptureSource.
func (p *patternSource) SupportsResizing() bool {
	return true
}

// SetDesktopSize implements vnc.CaptureSource: it accepts any positive
// size, simulating a resizable virtual desktop.
func (p *patternSource) SetDesktopSize(width, height uint16) (vnc.Status, error) {
	if width == 0 || height == 0 {
		return vnc.StatusInvalidScreenLayout, nil
	}

	p.mu.Lock()
	p.width = int(width)
	p.height = int(height)
	p.mu.Unlock()

	return vnc.StatusSuccess, nil
}

// resizeSoon simulates an externally driven desktop resize some time
// after startup, exercising the pump's implicit
// maybeQueueDesktopResizeNotice path rather than only the client-driven
// SetDesktopSize opcode.
func (p *patternSource) resizeSoon(after time.Duration, width, height int) {
	go func() {
		time.Sleep(after)
		p.mu.Lock()
		p.width = width
		p.height = height
		p.mu.Unlock()
	}()
}

// pixelFormatByName resolves one of the server core's preset pixel
// formats by the --pixel-format flag's value.
func pixelFormatByName(name string) (*vnc.PixelFormat, error) {
	switch name {
	case "", "rgba32":
		return vnc.PixelFormat32BitRGBA, nil
	case "rgb565":
		return vnc.PixelFormat16BitRGB565, nil
	case "rgb555":
		return vnc.PixelFormat16BitRGB555, nil
	case "indexed8":
		return vnc.PixelFormat8BitIndexed, nil
	default:
		return nil, vnc.NewSessionError("pixelFormatByName", vnc.ErrConfiguration,
			"unknown pixel format \""+name+"\" (want rgba32, rgb565, rgb555, or indexed8)", nil)
	}
}
