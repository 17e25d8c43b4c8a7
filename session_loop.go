// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "fmt"

const (
	msgSetPixelFormat           uint8 = 0
	msgSetEncodings             uint8 = 2
	msgFramebufferUpdateRequest uint8 = 3
	msgKeyEvent                 uint8 = 4
	msgPointerEvent             uint8 = 5
	msgClientCutText            uint8 = 6
	msgSetDesktopSize           uint8 = 251
)

// messageLoop runs the Running state: read one opcode, dispatch it, and
// repeat until the stream fails or a message is malformed. Every write it
// triggers goes through streamLock, so it never races with the update pump.
func (s *Session) messageLoop() error {
	for {
		opcode, err := s.reader.readU8()
		if err != nil {
			return err
		}
		if err := s.dispatch(opcode); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(opcode uint8) error {
	switch opcode {
	case msgSetPixelFormat:
		return s.handleSetPixelFormat()
	case msgSetEncodings:
		return s.handleSetEncodings()
	case msgFramebufferUpdateRequest:
		return s.handleFramebufferUpdateRequest()
	case msgKeyEvent:
		return s.handleKeyEvent()
	case msgPointerEvent:
		return s.handlePointerEvent()
	case msgClientCutText:
		return s.handleClientCutText()
	case msgSetDesktopSize:
		return s.handleSetDesktopSize()
	default:
		return protocolError("Session.dispatch", fmt.Sprintf("unknown client message opcode %d", opcode), nil)
	}
}

func (s *Session) clientDimensions() (uint16, uint16) {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.client.Width, s.client.Height
}

func (s *Session) handleSetPixelFormat() error {
	if err := s.reader.skip(3); err != nil {
		return err
	}

	var pf PixelFormat
	if err := readPixelFormat(s.reader.r, &pf); err != nil {
		return err
	}
	if err := s.validator.ValidatePixelFormat(&pf); err != nil {
		return protocolError("Session.handleSetPixelFormat", "client sent an invalid pixel format", err)
	}

	s.clientMu.Lock()
	s.client.PixelFormat = &pf
	s.clientMu.Unlock()
	return nil
}

func (s *Session) handleSetEncodings() error {
	if err := s.reader.skip(1); err != nil {
		return err
	}
	count, err := s.reader.readU16()
	if err != nil {
		return err
	}
	if err := s.validator.ValidateEncodingCount(count); err != nil {
		return err
	}
	if count > s.config.MaxEncodingsCount {
		return protocolError("Session.handleSetEncodings",
			fmt.Sprintf("encoding count %d exceeds configured maximum %d", count, s.config.MaxEncodingsCount), nil)
	}

	encodings := make([]int32, 0, count)
	for i := 0; i < int(count); i++ {
		code, err := s.reader.readS32()
		if err != nil {
			return err
		}
		if err := s.validator.ValidateEncodingType(code); err != nil {
			return protocolError("Session.handleSetEncodings", "client offered an out-of-range encoding type", err)
		}
		encodings = append(encodings, code)
	}

	s.clientMu.Lock()
	s.client.SupportedEncodings = encodings
	s.client.SelectedEncoder = s.encoders.SelectEncoder(encodings)
	s.clientMu.Unlock()
	return nil
}

func (s *Session) handleFramebufferUpdateRequest() error {
	incrementalByte, err := s.reader.readU8()
	if err != nil {
		return err
	}
	x, err := s.reader.readU16()
	if err != nil {
		return err
	}
	y, err := s.reader.readU16()
	if err != nil {
		return err
	}
	w, err := s.reader.readU16()
	if err != nil {
		return err
	}
	h, err := s.reader.readU16()
	if err != nil {
		return err
	}

	width, height := s.clientDimensions()
	if err := s.validator.ValidateRectangle(x, y, w, h, width, height); err != nil {
		return protocolError("Session.handleFramebufferUpdateRequest", "update request rectangle is out of bounds", err)
	}

	req := UpdateRequest{
		Incremental: incrementalByte != 0,
		Region:      NewRectangle(int(x), int(y), int(w), int(h)),
	}

	s.reqMu.Lock()
	if !req.Incremental {
		s.cache.Reset()
	}
	s.pendingRequest = &req
	s.reqMu.Unlock()

	s.pump.Signal()
	return nil
}

func (s *Session) handleKeyEvent() error {
	downFlag, err := s.reader.readU8()
	if err != nil {
		return err
	}
	if err := s.reader.skip(2); err != nil {
		return err
	}
	keysym, err := s.reader.readU32()
	if err != nil {
		return err
	}

	if err := s.validator.ValidateKeySymbol(keysym); err != nil {
		s.logger.Debug("rejected key event", Field{Key: "error", Value: err})
		return nil
	}

	s.metrics.recordKeyEvent()
	if s.config.Listener != nil && s.config.Listener.KeyChanged != nil {
		s.config.Listener.KeyChanged(s, KeyEvent{Keysym: keysym, Down: downFlag != 0})
	}
	return nil
}

func (s *Session) handlePointerEvent() error {
	mask, err := s.reader.readU8()
	if err != nil {
		return err
	}
	x, err := s.reader.readU16()
	if err != nil {
		return err
	}
	y, err := s.reader.readU16()
	if err != nil {
		return err
	}

	width, height := s.clientDimensions()
	if err := s.validator.ValidatePointerPosition(x, y, width, height); err != nil {
		s.logger.Debug("rejected pointer event", Field{Key: "error", Value: err})
		return nil
	}

	s.metrics.recordPointerEvent()
	if s.config.Listener != nil && s.config.Listener.PointerChanged != nil {
		s.config.Listener.PointerChanged(s, PointerEvent{Mask: ButtonMask(mask), X: x, Y: y})
	}
	return nil
}

func (s *Session) handleClientCutText() error {
	if err := s.reader.skip(3); err != nil {
		return err
	}
	text, err := s.reader.readLengthPrefixedString(uint32(s.config.MaxClipboardLength)) // #nosec G115 - configured, not attacker controlled
	if err != nil {
		return err
	}
	if err := s.validator.ValidateTextData(text, s.config.MaxClipboardLength); err != nil {
		return protocolError("Session.handleClientCutText", "client sent invalid clipboard text", err)
	}

	sanitized := s.validator.SanitizeText(text)
	s.metrics.recordClipboardEvent()
	if s.config.Listener != nil && s.config.Listener.RemoteClipboardChanged != nil {
		s.config.Listener.RemoteClipboardChanged(s, ClipboardEvent{Text: sanitized})
	}
	return nil
}

func (s *Session) handleSetDesktopSize() error {
	if err := s.reader.skip(1); err != nil {
		return err
	}
	width, err := s.reader.readU16()
	if err != nil {
		return err
	}
	height, err := s.reader.readU16()
	if err != nil {
		return err
	}
	numScreens, err := s.reader.readU8()
	if err != nil {
		return err
	}
	if err := s.reader.skip(1); err != nil {
		return err
	}
	if err := s.reader.skip(int(numScreens) * screenRecordSize); err != nil {
		return err
	}

	status := StatusProhibited
	if s.captureSource.SupportsResizing() {
		var resizeErr error
		status, resizeErr = s.captureSource.SetDesktopSize(width, height)
		if resizeErr != nil {
			s.logger.Warn("desktop resize request failed", Field{Key: "error", Value: resizeErr})
			status = StatusResizeFailed
		}
	}

	respWidth, respHeight := width, height
	if status == StatusSuccess {
		s.clientMu.Lock()
		s.client.Width = respWidth
		s.client.Height = respHeight
		s.clientMu.Unlock()

		s.reqMu.Lock()
		s.cache.Reset()
		s.reqMu.Unlock()
	} else {
		respWidth, respHeight = s.clientDimensions()
	}

	return s.sendExtendedDesktopSizeUpdate(ReasonClient, status, respWidth, respHeight)
}

// sendExtendedDesktopSizeUpdate writes a single-rectangle FramebufferUpdate
// carrying an ExtendedDesktopSize pseudo-rectangle directly, bypassing the
// pending-request/rectangle-queue cycle since this reply is owed
// immediately in response to the client's own request.
func (s *Session) sendExtendedDesktopSizeUpdate(reason int, status Status, width, height uint16) error {
	record := encodeScreenRecord(0, 0, 0, width, height, 0)
	region := Rectangle{X: reason, Y: int(status), Width: int(width), Height: int(height)}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if _, err := s.writer.writeU8(0); err != nil {
		return err
	}
	if _, err := s.writer.writePad(1); err != nil {
		return err
	}
	if _, err := s.writer.writeU16(1); err != nil {
		return err
	}

	enc, ok := s.encoders.Get(EncodingExtendedDesktopSizePseudo)
	if !ok {
		return sanityCheckError("Session.sendExtendedDesktopSizeUpdate",
			"no encoder registered for the ExtendedDesktopSize pseudo-encoding", nil)
	}
	_, err := s.encoders.Send(enc, s.writer, s.clientPixelFormatSnapshot(), region, record)
	return err
}

// Bell sends an audible-bell notification to the client.
func (s *Session) Bell() error {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	_, err := s.writer.writeU8(2)
	return err
}

// SetColorMapEntries updates the session's local color map and forwards
// the same entries to the client, for an indexed-color desktop.
func (s *Session) SetColorMapEntries(firstColor uint16, colors []Color) error {
	if err := s.validator.ValidateColorMapEntries(firstColor, uint16(len(colors)), ColorMapSize); err != nil { // #nosec G115 - len(colors) is bounded by ColorMapSize in practice
		return validationError("Session.SetColorMapEntries", "color map range is invalid", err)
	}
	if err := s.colorMap.SetRange(firstColor, colors); err != nil {
		return validationError("Session.SetColorMapEntries", "failed to update local color map", err)
	}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if _, err := s.writer.writeU8(1); err != nil {
		return err
	}
	if _, err := s.writer.writePad(1); err != nil {
		return err
	}
	if _, err := s.writer.writeU16(firstColor); err != nil {
		return err
	}
	if _, err := s.writer.writeU16(uint16(len(colors))); err != nil { // #nosec G115 - bounded by ColorMapSize
		return err
	}
	for _, c := range colors {
		if _, err := s.writer.writeU16(c.R); err != nil {
			return err
		}
		if _, err := s.writer.writeU16(c.G); err != nil {
			return err
		}
		if _, err := s.writer.writeU16(c.B); err != nil {
			return err
		}
	}
	return nil
}

// ServerCutText pushes the host's clipboard contents to the client.
func (s *Session) ServerCutText(text string) error {
	if err := s.validator.ValidateTextData(text, s.config.MaxClipboardLength); err != nil {
		return validationError("Session.ServerCutText", "clipboard text is invalid", err)
	}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if _, err := s.writer.writeU8(3); err != nil {
		return err
	}
	if _, err := s.writer.writePad(3); err != nil {
		return err
	}
	_, err := s.writer.writeLengthPrefixedString(text)
	return err
}

// captureTick obtains this pump tick's framebuffer, giving a configured
// listener first refusal via FramebufferCapturing before falling back to
// the capture source, and recovers hints via a HintProvider type
// assertion rather than depending on CapturedFramebuffer directly.
func (s *Session) captureTick() (*Framebuffer, *CaptureHints, error) {
	if s.config.Listener != nil && s.config.Listener.FramebufferCapturing != nil {
		event := &FramebufferCapturingEvent{}
		s.config.Listener.FramebufferCapturing(s, event)
		if event.Handled {
			return event.Framebuffer, nil, nil
		}
	}

	captured, err := s.captureSource.Capture()
	if err != nil {
		return nil, nil, captureErrorOf("Session.captureTick", "capture source failed", err)
	}
	if captured == nil {
		return nil, nil, nil
	}

	fb := captured.Unwrap()
	var hints *CaptureHints
	if provider, ok := captured.(HintProvider); ok {
		if h, present := provider.CaptureHints(); present {
			hints = &h
		}
	}
	return fb, hints, nil
}

// FramebufferSendChanges is the update pump's action: it holds reqMu for
// the duration of one tick (the FramebufferUpdateRequestLock, per the
// documented lock order), consumes the pending request if one is queued,
// captures a framebuffer, and lets the cache turn the two into rectangles.
func (s *Session) FramebufferSendChanges() (bool, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if s.pendingRequest == nil {
		s.metrics.recordPumpTick(false)
		return false, nil
	}
	req := *s.pendingRequest
	s.pendingRequest = nil

	fb, hints, err := s.captureTick()
	if err != nil {
		if IsSessionError(err, ErrCaptureError) {
			s.logger.Warn("framebuffer capture failed; skipping this tick", Field{Key: "error", Value: err})
			return false, nil
		}
		return false, err
	}
	if fb == nil {
		return false, nil
	}

	s.fbMu.Lock()
	s.framebuffer = fb
	s.fbMu.Unlock()

	if s.config.Listener != nil && s.config.Listener.FramebufferUpdating != nil {
		event := &FramebufferUpdatingEvent{}
		s.config.Listener.FramebufferUpdating(s, event)
		if event.Handled {
			return event.SentChanges, nil
		}
	}

	clientEncodings := s.clientEncodingsSnapshot()
	sent, err := s.cache.RespondToUpdateRequest(s, fb, hints, req, clientEncodings)
	s.metrics.recordPumpTick(sent)

	// The pump itself never closes the session on an action error (see
	// PumpAction); a transport, encoder, protocol, or sanity-check failure
	// here means the connection or the wire state is no longer usable, so
	// this action closes the session itself rather than leaving the pump
	// to retry against a broken stream on the next tick.
	if IsSessionError(err, ErrTransport, ErrEncoderError, ErrProtocolViolation, ErrSanityCheck) {
		_ = s.Close()
	}
	return sent, err
}

// PendingRectangle is a rectangle queued between BeginUpdate and EndUpdate,
// already reduced to its encoding and wire payload.
type PendingRectangle struct {
	Region   Rectangle
	Encoding int32
	Payload  []byte
}

// BeginUpdate implements UpdateSink.
func (s *Session) BeginUpdate() {
	s.rectQueue = s.rectQueue[:0]
}

// ManualCopyRegion implements UpdateSink: it always produces a CopyRect
// rectangle, per the cache design's rule that move hints are reported
// as CopyRect rather than routed through the client's selected encoder.
func (s *Session) ManualCopyRegion(dest Rectangle, srcX, srcY int) {
	s.rectQueue = append(s.rectQueue, PendingRectangle{
		Region:   dest,
		Encoding: EncodingCopyRect,
		Payload:  encodeCopyRectSource(srcX, srcY),
	})
}

// ManualInvalidate implements UpdateSink: it always produces a Raw
// rectangle, converting the framebuffer's bytes into the client's
// negotiated pixel format using a pooled buffer.
func (s *Session) ManualInvalidate(region Rectangle) {
	fb := s.currentFramebuffer()
	if fb == nil || region.IsEmpty() {
		return
	}

	clientFormat := s.clientPixelFormatSnapshot()
	bpp := clientFormat.BytesPerPixel()
	buf := globalRectBufferPool.Get(region.Width * region.Height * bpp)

	fb.SyncRoot.Lock()
	var err error
	if fb.PixelFormat.TrueColor {
		err = Copy(fb.GetBuffer(), fb.Stride, fb.PixelFormat, region, buf, region.Width*bpp, clientFormat, 0, 0)
	} else {
		err = CopyFromPalette(fb.GetBuffer(), fb.Stride, fb.PixelFormat, s.colorMap, region, buf, region.Width*bpp, clientFormat, 0, 0)
	}
	fb.SyncRoot.Unlock()

	if err != nil {
		s.logger.Error("pixel format conversion failed", Field{Key: "error", Value: err})
		globalRectBufferPool.Put(buf)
		return
	}

	s.rectQueue = append(s.rectQueue, PendingRectangle{
		Region:   region,
		Encoding: EncodingRaw,
		Payload:  buf,
	})
}

// ManualCursorUpdate implements UpdateSink: it converts shape's pixel
// data from the host framebuffer's pixel format into the client's
// negotiated one and queues a Cursor pseudo-encoding rectangle, the
// hotspot carried in the rectangle's X/Y per CursorEncoder's convention.
// A nil shape, or one with zero width or height, queues a hide-cursor
// rectangle with no payload.
func (s *Session) ManualCursorUpdate(shape *CursorShape) {
	if shape == nil || shape.Width == 0 || shape.Height == 0 {
		s.rectQueue = append(s.rectQueue, PendingRectangle{Encoding: EncodingCursorPseudo})
		return
	}

	fb := s.currentFramebuffer()
	if fb == nil {
		return
	}

	clientFormat := s.clientPixelFormatSnapshot()
	bpp := clientFormat.BytesPerPixel()
	pixelBuf := make([]byte, shape.Width*shape.Height*bpp)

	hostStride := shape.Width * fb.PixelFormat.BytesPerPixel()
	whole := Rectangle{X: 0, Y: 0, Width: shape.Width, Height: shape.Height}

	var err error
	if fb.PixelFormat.TrueColor {
		err = Copy(shape.Pixels, hostStride, fb.PixelFormat, whole, pixelBuf, shape.Width*bpp, clientFormat, 0, 0)
	} else {
		err = CopyFromPalette(shape.Pixels, hostStride, fb.PixelFormat, s.colorMap, whole, pixelBuf, shape.Width*bpp, clientFormat, 0, 0)
	}
	if err != nil {
		s.logger.Error("cursor pixel format conversion failed", Field{Key: "error", Value: err})
		return
	}

	s.rectQueue = append(s.rectQueue, PendingRectangle{
		Region:   Rectangle{X: shape.HotX, Y: shape.HotY, Width: shape.Width, Height: shape.Height},
		Encoding: EncodingCursorPseudo,
		Payload:  encodeCursorShape(pixelBuf, shape.Mask),
	})
}

// maybeQueueDesktopResizeNotice prepends an ExtendedDesktopSize
// pseudo-rectangle to rectQueue when the framebuffer's dimensions no
// longer match what the client was last told, and the client declared
// support for the pseudo-encoding. Per the "before pixel rectangles"
// ordering rule, the notice goes to the front of the queue, not the back.
func (s *Session) maybeQueueDesktopResizeNotice() {
	fb := s.currentFramebuffer()
	if fb == nil {
		return
	}

	width, height := s.clientDimensions()
	if int(width) == fb.Width && int(height) == fb.Height {
		return
	}
	if !s.clientSupportsEncoding(EncodingExtendedDesktopSizePseudo) {
		return
	}

	newWidth := uint16(fb.Width)   // #nosec G115 - validated at NewFramebuffer construction
	newHeight := uint16(fb.Height) // #nosec G115 - validated at NewFramebuffer construction

	s.clientMu.Lock()
	s.client.Width = newWidth
	s.client.Height = newHeight
	s.clientMu.Unlock()

	pseudo := PendingRectangle{
		Region:   Rectangle{X: ReasonOther, Y: int(StatusSuccess), Width: int(newWidth), Height: int(newHeight)},
		Encoding: EncodingExtendedDesktopSizePseudo,
		Payload:  encodeScreenRecord(0, 0, 0, newWidth, newHeight, 0),
	}
	s.rectQueue = append([]PendingRectangle{pseudo}, s.rectQueue...)
}

// EndUpdate implements UpdateSink: it writes the queued rectangles as a
// single FramebufferUpdate message under streamLock and returns their Raw
// payload buffers to the shared pool once sent.
func (s *Session) EndUpdate() (bool, error) {
	s.maybeQueueDesktopResizeNotice()

	if len(s.rectQueue) == 0 {
		return false, nil
	}

	clientFormat := s.clientPixelFormatSnapshot()

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if _, err := s.writer.writeU8(0); err != nil {
		return false, err
	}
	if _, err := s.writer.writePad(1); err != nil {
		return false, err
	}
	if _, err := s.writer.writeU16(uint16(len(s.rectQueue))); err != nil { // #nosec G115 - a tick's queue never approaches 65536 rectangles
		return false, err
	}

	for _, rect := range s.rectQueue {
		enc, ok := s.encoders.Get(rect.Encoding)
		if !ok {
			return true, sanityCheckError("Session.EndUpdate",
				fmt.Sprintf("no encoder registered for encoding %d", rect.Encoding), nil)
		}
		n, err := s.encoders.Send(enc, s.writer, clientFormat, rect.Region, rect.Payload)
		if err != nil {
			return true, encoderErrorOf("Session.EndUpdate", "failed to send rectangle", err)
		}
		s.metrics.recordRectangle(rect.Encoding, n)
		if rect.Encoding == EncodingRaw {
			globalRectBufferPool.Put(rect.Payload)
		}
	}

	s.rectQueue = nil
	return true, nil
}
