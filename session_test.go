// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeCaptureSource is a CaptureSource test double: it serves a fixed
// framebuffer (optionally wrapped in hints) and records SetDesktopSize
// calls, the same role mock_server_test.go's recorded client plays on the
// other side of the wire.
type fakeCaptureSource struct {
	mu             sync.Mutex
	fb             *Framebuffer
	hints          *CaptureHints
	supportsResize bool
	resizeStatus   Status
	resizeErr      error
	resizedTo      Rectangle
}

func (f *fakeCaptureSource) Capture() (Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hints != nil {
		return &CapturedFramebuffer{Framebuffer: f.fb, Hints: *f.hints}, nil
	}
	return f.fb, nil
}

func (f *fakeCaptureSource) SupportsResizing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supportsResize
}

func (f *fakeCaptureSource) SetDesktopSize(width, height uint16) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizedTo = Rectangle{Width: int(width), Height: int(height)}
	if f.resizeErr != nil {
		return f.resizeStatus, f.resizeErr
	}
	if f.resizeStatus == StatusSuccess {
		fb, err := NewFramebuffer("resized", int(width), int(height), f.fb.PixelFormat)
		if err != nil {
			return StatusResizeFailed, err
		}
		f.fb = fb
	}
	return f.resizeStatus, nil
}

func newFakeCaptureSource(width, height int, fill byte) *fakeCaptureSource {
	fb, err := NewFramebuffer("test desktop", width, height, PixelFormat32BitRGBA)
	if err != nil {
		panic(err)
	}
	buf := fb.GetBuffer()
	for i := range buf {
		buf[i] = fill
	}
	return &fakeCaptureSource{fb: fb}
}

// testClient drives the server side of a Session from the other end of a
// net.Pipe using the package's own wire primitives, the same framing a real
// RFB client speaks.
type testClient struct {
	t *testing.T
	r *wireReader
	w *wireWriter
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{t: t, r: newWireReader(conn), w: newWireWriter(conn)}
}

func (c *testClient) handshakeNoAuth() {
	t := c.t
	version, err := c.r.readBytes(protocolVersionLength)
	if err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if string(version) != "RFB 003.008\n" {
		t.Fatalf("server version = %q, want RFB 003.008", version)
	}
	if _, err := c.w.writeFull(version); err != nil {
		t.Fatalf("write client version: %v", err)
	}

	count, err := c.r.readU8()
	if err != nil {
		t.Fatalf("read security type count: %v", err)
	}
	types := make([]byte, count)
	for i := range types {
		v, err := c.r.readU8()
		if err != nil {
			t.Fatalf("read security type: %v", err)
		}
		types[i] = v
	}

	if _, err := c.w.writeU8(securityTypeNone); err != nil {
		t.Fatalf("write chosen security type: %v", err)
	}

	result, err := c.r.readU32()
	if err != nil {
		t.Fatalf("read security result: %v", err)
	}
	if result != 0 {
		t.Fatalf("security result = %d, want 0 (OK)", result)
	}
}

// clientInit writes the shared-desktop flag and reads back ServerInit,
// returning the advertised framebuffer dimensions and pixel format.
func (c *testClient) clientInit() (uint16, uint16, PixelFormat) {
	t := c.t
	if _, err := c.w.writeU8(0); err != nil {
		t.Fatalf("write shared flag: %v", err)
	}

	width, err := c.r.readU16()
	if err != nil {
		t.Fatalf("read server width: %v", err)
	}
	height, err := c.r.readU16()
	if err != nil {
		t.Fatalf("read server height: %v", err)
	}
	var pf PixelFormat
	if err := readPixelFormat(c.r.r, &pf); err != nil {
		t.Fatalf("read server pixel format: %v", err)
	}
	if _, err := c.r.readLengthPrefixedString(4096); err != nil {
		t.Fatalf("read desktop name: %v", err)
	}
	return width, height, pf
}

func (c *testClient) setEncodings(codes ...int32) {
	t := c.t
	if _, err := c.w.writeU8(msgSetEncodings); err != nil {
		t.Fatalf("write SetEncodings opcode: %v", err)
	}
	if _, err := c.w.writePad(1); err != nil {
		t.Fatalf("write SetEncodings padding: %v", err)
	}
	if _, err := c.w.writeU16(uint16(len(codes))); err != nil {
		t.Fatalf("write SetEncodings count: %v", err)
	}
	for _, code := range codes {
		if _, err := c.w.writeS32(code); err != nil {
			t.Fatalf("write encoding code: %v", err)
		}
	}
}

func (c *testClient) framebufferUpdateRequest(incremental bool, region Rectangle) {
	t := c.t
	if _, err := c.w.writeU8(msgFramebufferUpdateRequest); err != nil {
		t.Fatalf("write FramebufferUpdateRequest opcode: %v", err)
	}
	inc := uint8(0)
	if incremental {
		inc = 1
	}
	if _, err := c.w.writeU8(inc); err != nil {
		t.Fatalf("write incremental flag: %v", err)
	}
	for _, v := range []int{region.X, region.Y, region.Width, region.Height} {
		if _, err := c.w.writeU16(uint16(v)); err != nil {
			t.Fatalf("write update request field: %v", err)
		}
	}
}

func (c *testClient) setDesktopSize(width, height uint16) {
	t := c.t
	if _, err := c.w.writeU8(msgSetDesktopSize); err != nil {
		t.Fatalf("write SetDesktopSize opcode: %v", err)
	}
	if _, err := c.w.writePad(1); err != nil {
		t.Fatalf("write SetDesktopSize padding: %v", err)
	}
	if _, err := c.w.writeU16(width); err != nil {
		t.Fatalf("write requested width: %v", err)
	}
	if _, err := c.w.writeU16(height); err != nil {
		t.Fatalf("write requested height: %v", err)
	}
	if _, err := c.w.writeU8(0); err != nil {
		t.Fatalf("write screen count: %v", err)
	}
	if _, err := c.w.writePad(1); err != nil {
		t.Fatalf("write SetDesktopSize trailing padding: %v", err)
	}
}

// wireRectangle is one decoded FramebufferUpdate rectangle, its payload
// left in raw wire form for the caller to interpret per its encoding.
type wireRectangle struct {
	Region   Rectangle
	Encoding int32
	Payload  []byte
}

// readFramebufferUpdate reads one server->client message and requires it
// to be a FramebufferUpdate, decoding its rectangles by encoding.
func (c *testClient) readFramebufferUpdate(clientBpp int) []wireRectangle {
	t := c.t
	opcode, err := c.r.readU8()
	if err != nil {
		t.Fatalf("read server message opcode: %v", err)
	}
	if opcode != 0 {
		t.Fatalf("server message opcode = %d, want 0 (FramebufferUpdate)", opcode)
	}
	if err := c.r.skip(1); err != nil {
		t.Fatalf("read FramebufferUpdate padding: %v", err)
	}
	count, err := c.r.readU16()
	if err != nil {
		t.Fatalf("read rectangle count: %v", err)
	}

	rects := make([]wireRectangle, 0, count)
	for i := 0; i < int(count); i++ {
		x, err := c.r.readU16()
		if err != nil {
			t.Fatalf("read rectangle x: %v", err)
		}
		y, err := c.r.readU16()
		if err != nil {
			t.Fatalf("read rectangle y: %v", err)
		}
		w, err := c.r.readU16()
		if err != nil {
			t.Fatalf("read rectangle width: %v", err)
		}
		h, err := c.r.readU16()
		if err != nil {
			t.Fatalf("read rectangle height: %v", err)
		}
		encoding, err := c.r.readS32()
		if err != nil {
			t.Fatalf("read rectangle encoding: %v", err)
		}

		region := Rectangle{X: int(x), Y: int(y), Width: int(w), Height: int(h)}
		var payload []byte
		switch encoding {
		case EncodingRaw:
			payload, err = c.r.readBytes(region.Width * region.Height * clientBpp)
		case EncodingCopyRect:
			payload, err = c.r.readBytes(4)
		case EncodingExtendedDesktopSizePseudo:
			var numScreens uint8
			numScreens, err = c.r.readU8()
			if err == nil {
				err = c.r.skip(3)
			}
			if err == nil {
				payload, err = c.r.readBytes(int(numScreens) * screenRecordSize)
			}
		default:
			t.Fatalf("readFramebufferUpdate: unhandled encoding %d", encoding)
		}
		if err != nil {
			t.Fatalf("read rectangle payload for encoding %d: %v", encoding, err)
		}

		rects = append(rects, wireRectangle{Region: region, Encoding: encoding, Payload: payload})
	}
	return rects
}

func (c *testClient) keyEvent(down bool, keysym uint32) {
	t := c.t
	if _, err := c.w.writeU8(msgKeyEvent); err != nil {
		t.Fatalf("write KeyEvent opcode: %v", err)
	}
	downFlag := uint8(0)
	if down {
		downFlag = 1
	}
	if _, err := c.w.writeU8(downFlag); err != nil {
		t.Fatalf("write KeyEvent down flag: %v", err)
	}
	if _, err := c.w.writePad(2); err != nil {
		t.Fatalf("write KeyEvent padding: %v", err)
	}
	if _, err := c.w.writeU32(keysym); err != nil {
		t.Fatalf("write KeyEvent keysym: %v", err)
	}
}

func (c *testClient) pointerEvent(mask uint8, x, y uint16) {
	t := c.t
	if _, err := c.w.writeU8(msgPointerEvent); err != nil {
		t.Fatalf("write PointerEvent opcode: %v", err)
	}
	if _, err := c.w.writeU8(mask); err != nil {
		t.Fatalf("write PointerEvent mask: %v", err)
	}
	if _, err := c.w.writeU16(x); err != nil {
		t.Fatalf("write PointerEvent x: %v", err)
	}
	if _, err := c.w.writeU16(y); err != nil {
		t.Fatalf("write PointerEvent y: %v", err)
	}
}

func (c *testClient) clientCutText(text string) {
	t := c.t
	if _, err := c.w.writeU8(msgClientCutText); err != nil {
		t.Fatalf("write ClientCutText opcode: %v", err)
	}
	if _, err := c.w.writePad(3); err != nil {
		t.Fatalf("write ClientCutText padding: %v", err)
	}
	if _, err := c.w.writeLengthPrefixedString(text); err != nil {
		t.Fatalf("write ClientCutText payload: %v", err)
	}
}

func (c *testClient) readBell() {
	t := c.t
	opcode, err := c.r.readU8()
	if err != nil {
		t.Fatalf("read bell opcode: %v", err)
	}
	if opcode != 2 {
		t.Fatalf("opcode = %d, want 2 (Bell)", opcode)
	}
}

// pipeSession starts a Session over one end of a net.Pipe, returning the
// Session, a testClient for the other end, and a channel that receives
// Serve's result.
func pipeSession(source CaptureSource, opts ...SessionOption) (*Session, *testClient, chan error, net.Conn) {
	serverConn, clientConn := net.Pipe()
	session := NewSession(serverConn, source, opts...)
	done := make(chan error, 1)
	go func() { done <- session.Serve() }()
	return session, &testClient{t: nil, r: newWireReader(clientConn), w: newWireWriter(clientConn)}, done, clientConn
}

func TestSession_Handshake(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x11)
	_, client, done, clientConn := pipeSession(source)
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	width, height, pf := client.clientInit()

	if width != 4 || height != 4 {
		t.Fatalf("ServerInit dimensions = %dx%d, want 4x4", width, height)
	}
	if pf != *PixelFormat32BitRGBA {
		t.Fatalf("ServerInit pixel format = %+v, want %+v", pf, *PixelFormat32BitRGBA)
	}

	clientConn.Close()
	if err := <-done; err == nil {
		t.Fatalf("Serve returned nil error after the client closed the connection")
	}
}

func TestSession_NonIncrementalUpdate(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0xAB)
	_, client, done, clientConn := pipeSession(source)
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.setEncodings(EncodingRaw)
	client.framebufferUpdateRequest(false, Rectangle{X: 0, Y: 0, Width: 4, Height: 4})

	rects := client.readFramebufferUpdate(PixelFormat32BitRGBA.BytesPerPixel())
	if len(rects) != 1 {
		t.Fatalf("got %d rectangles, want 1", len(rects))
	}
	rect := rects[0]
	if rect.Encoding != EncodingRaw {
		t.Fatalf("rectangle encoding = %d, want Raw", rect.Encoding)
	}
	if rect.Region != (Rectangle{X: 0, Y: 0, Width: 4, Height: 4}) {
		t.Fatalf("rectangle region = %+v, want the full 4x4 request", rect.Region)
	}
	for i, b := range rect.Payload {
		if b != 0xAB {
			t.Fatalf("payload byte %d = %#x, want 0xab", i, b)
		}
	}

	clientConn.Close()
	<-done
}

func TestSession_CopyRect(t *testing.T) {
	source := newFakeCaptureSource(8, 8, 0x00)
	source.hints = &CaptureHints{
		MoveRectangles: []MoveRectangle{
			{SrcX: 0, SrcY: 0, Dest: Rectangle{X: 4, Y: 4, Width: 4, Height: 4}},
		},
	}

	_, client, done, clientConn := pipeSession(source)
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.setEncodings(EncodingCopyRect, EncodingRaw)
	client.framebufferUpdateRequest(false, Rectangle{X: 0, Y: 0, Width: 8, Height: 8})

	rects := client.readFramebufferUpdate(PixelFormat32BitRGBA.BytesPerPixel())
	if len(rects) != 1 {
		t.Fatalf("got %d rectangles, want 1", len(rects))
	}
	rect := rects[0]
	if rect.Encoding != EncodingCopyRect {
		t.Fatalf("rectangle encoding = %d, want CopyRect", rect.Encoding)
	}
	if rect.Region != (Rectangle{X: 4, Y: 4, Width: 4, Height: 4}) {
		t.Fatalf("rectangle region = %+v, want the move hint's destination", rect.Region)
	}
	srcX := int(rect.Payload[0])<<8 | int(rect.Payload[1])
	srcY := int(rect.Payload[2])<<8 | int(rect.Payload[3])
	if srcX != 0 || srcY != 0 {
		t.Fatalf("copyrect source = (%d, %d), want (0, 0)", srcX, srcY)
	}

	clientConn.Close()
	<-done
}

func TestSession_BadVersionIsRejected(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)
	serverConn, clientConn := net.Pipe()
	session := NewSession(serverConn, source)
	done := make(chan error, 1)
	go func() { done <- session.Serve() }()
	defer clientConn.Close()

	client := &testClient{t: t, r: newWireReader(clientConn), w: newWireWriter(clientConn)}

	version, err := client.r.readBytes(protocolVersionLength)
	if err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if string(version) != "RFB 003.008\n" {
		t.Fatalf("server version = %q, want RFB 003.008", version)
	}
	if _, err := client.w.writeFull([]byte("RFB 003.003\n")); err != nil {
		t.Fatalf("write bad client version: %v", err)
	}

	count, err := client.r.readU8()
	if err != nil {
		t.Fatalf("read security type count: %v", err)
	}
	if count != 0 {
		t.Fatalf("security type count = %d, want 0 for an unsupported protocol version", count)
	}
	if _, err := client.r.readLengthPrefixedString(4096); err != nil {
		t.Fatalf("read failure reason: %v", err)
	}

	err = <-done
	if !IsSessionError(err, ErrProtocolViolation) {
		t.Fatalf("Serve error = %v, want a protocol violation", err)
	}
}

func TestSession_Resize(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)
	source.supportsResize = true
	source.resizeStatus = StatusSuccess

	_, client, done, clientConn := pipeSession(source)
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.setEncodings(EncodingExtendedDesktopSizePseudo)
	client.setDesktopSize(10, 6)

	rects := client.readFramebufferUpdate(PixelFormat32BitRGBA.BytesPerPixel())
	if len(rects) != 1 {
		t.Fatalf("got %d rectangles, want 1", len(rects))
	}
	rect := rects[0]
	if rect.Encoding != EncodingExtendedDesktopSizePseudo {
		t.Fatalf("rectangle encoding = %d, want ExtendedDesktopSize pseudo", rect.Encoding)
	}
	if rect.Region.X != ReasonClient || rect.Region.Y != int(StatusSuccess) {
		t.Fatalf("rectangle region = %+v, want reason=ReasonClient status=Success", rect.Region)
	}
	if rect.Region.Width != 10 || rect.Region.Height != 6 {
		t.Fatalf("rectangle dimensions = %dx%d, want 10x6", rect.Region.Width, rect.Region.Height)
	}

	source.mu.Lock()
	resizedTo := source.resizedTo
	source.mu.Unlock()
	if resizedTo.Width != 10 || resizedTo.Height != 6 {
		t.Fatalf("capture source was resized to %dx%d, want 10x6", resizedTo.Width, resizedTo.Height)
	}

	clientConn.Close()
	<-done
}

func TestSession_IncrementalNoOpEmitsNothing(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0xCD)
	_, client, done, clientConn := pipeSession(source)
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.setEncodings(EncodingRaw)

	full := Rectangle{X: 0, Y: 0, Width: 4, Height: 4}
	client.framebufferUpdateRequest(false, full)
	if rects := client.readFramebufferUpdate(PixelFormat32BitRGBA.BytesPerPixel()); len(rects) != 1 {
		t.Fatalf("got %d rectangles from the initial sync, want 1", len(rects))
	}

	client.framebufferUpdateRequest(true, full)

	if err := clientConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	_, err := client.r.readU8()
	clientConn.SetReadDeadline(time.Time{})
	if err == nil {
		t.Fatal("received a message for an incremental request with nothing changed, want none")
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("read error = %v, want a read deadline timeout", err)
	}

	clientConn.Close()
	<-done
}

func TestSession_KeyEventDispatch(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)

	events := make(chan KeyEvent, 1)
	listener := &Listener{
		KeyChanged: func(s *Session, event KeyEvent) {
			events <- event
		},
	}

	_, client, done, clientConn := pipeSession(source, WithListener(listener))
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.keyEvent(true, 0x0041)

	select {
	case event := <-events:
		if event.Keysym != 0x0041 || !event.Down {
			t.Fatalf("KeyChanged event = %+v, want {Keysym: 0x41, Down: true}", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for KeyChanged")
	}

	clientConn.Close()
	<-done
}

func TestSession_PointerEventDispatch(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)

	events := make(chan PointerEvent, 1)
	listener := &Listener{
		PointerChanged: func(s *Session, event PointerEvent) {
			events <- event
		},
	}

	_, client, done, clientConn := pipeSession(source, WithListener(listener))
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.pointerEvent(uint8(ButtonLeft), 1, 2)

	select {
	case event := <-events:
		if event.Mask != ButtonLeft || event.X != 1 || event.Y != 2 {
			t.Fatalf("PointerChanged event = %+v, want {Mask: ButtonLeft, X: 1, Y: 2}", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PointerChanged")
	}

	clientConn.Close()
	<-done
}

func TestSession_ClientCutTextDispatch(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)

	events := make(chan ClipboardEvent, 1)
	listener := &Listener{
		RemoteClipboardChanged: func(s *Session, event ClipboardEvent) {
			events <- event
		},
	}

	_, client, done, clientConn := pipeSession(source, WithListener(listener))
	client.t = t
	defer clientConn.Close()

	client.handshakeNoAuth()
	client.clientInit()
	client.clientCutText("hello clipboard")

	select {
	case event := <-events:
		if event.Text != "hello clipboard" {
			t.Fatalf("RemoteClipboardChanged event = %+v, want Text %q", event, "hello clipboard")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RemoteClipboardChanged")
	}

	clientConn.Close()
	<-done
}

func TestSession_Bell(t *testing.T) {
	source := newFakeCaptureSource(4, 4, 0x00)
	serverConn, clientConn := net.Pipe()
	session := NewSession(serverConn, source)
	defer clientConn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		client := &testClient{t: t, r: newWireReader(clientConn), w: newWireWriter(clientConn)}
		client.readBell()
	}()

	if err := session.Bell(); err != nil {
		t.Fatalf("Bell: %v", err)
	}

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the client to observe the bell")
	}
}
