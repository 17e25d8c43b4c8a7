// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// ButtonMask represents the state of pointer buttons carried by a
// PointerEvent.
type ButtonMask uint8

// Button mask constants for standard mouse buttons and scroll wheel events.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	Button4
	Button5
	Button6
	Button7
	Button8
)

// KeyEvent is the decoded payload of a client KeyEvent message.
type KeyEvent struct {
	Keysym uint32
	Down   bool
}

// PointerEvent is the decoded payload of a client PointerEvent message.
type PointerEvent struct {
	Mask ButtonMask
	X, Y uint16
}

// ClipboardEvent is the decoded payload of a client ClientCutText message.
type ClipboardEvent struct {
	Text string
}

// FramebufferCapturingEvent carries the host's chance to supply a
// framebuffer itself, short-circuiting the session's own
// captureSource.Capture() call for this tick.
type FramebufferCapturingEvent struct {
	Handled     bool
	Framebuffer *Framebuffer
}

// FramebufferUpdatingEvent carries the host's chance to take over sending
// this tick's update entirely.
type FramebufferUpdatingEvent struct {
	Handled     bool
	SentChanges bool
}

// Listener is the capability interface the session reports observable
// events through. Every field is optional; a nil callback is simply not
// invoked. Callbacks run synchronously on the session's own goroutine (the
// message loop or the pump, depending on the event), so a callback that
// blocks indefinitely stalls that thread.
type Listener struct {
	// PasswordProvided is invoked once AwaitingAuth has verified (or
	// rejected) the client's response.
	PasswordProvided func(s *Session, authenticated bool)

	// CreatingDesktop is invoked at AwaitingClientInit, before the
	// session asks the capture source for its first framebuffer.
	CreatingDesktop func(s *Session)

	// Connected is invoked once, when the session enters Running.
	Connected func(s *Session)

	// ConnectionFailed is invoked if the session closes before ever
	// reaching Running.
	ConnectionFailed func(s *Session, err error)

	// Closed is invoked exactly once, after Running, whenever the
	// session terminates.
	Closed func(s *Session, err error)

	// FramebufferCapturing is invoked once per pump tick that has a
	// pending update request, before the
	// default Capture() call; setting Handled on the event suppresses
	// it in favor of the supplied Framebuffer.
	FramebufferCapturing func(s *Session, event *FramebufferCapturingEvent)

	// FramebufferUpdating is invoked once per pump tick that captured a
	// framebuffer for a pending request, before the cache responds to it;
	// setting Handled on the
	// event suppresses the cache's own response.
	FramebufferUpdating func(s *Session, event *FramebufferUpdatingEvent)

	// KeyChanged is invoked for each decoded KeyEvent message.
	KeyChanged func(s *Session, event KeyEvent)

	// PointerChanged is invoked for each decoded PointerEvent message.
	PointerChanged func(s *Session, event PointerEvent)

	// RemoteClipboardChanged is invoked for each decoded ClientCutText
	// message.
	RemoteClipboardChanged func(s *Session, event ClipboardEvent)
}
