// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

// SessionState is a state in the RFB server handshake and message-loop
// state machine: AwaitingVersion -> AwaitingSecuritySelection ->
// (AwaitingAuth ->) AwaitingClientInit -> Running -> Closed. Any state may
// transition directly to Closed on I/O failure, timeout, or protocol
// violation.
type SessionState int32

const (
	StateAwaitingVersion SessionState = iota
	StateAwaitingSecuritySelection
	StateAwaitingAuth
	StateAwaitingClientInit
	StateRunning
	StateClosed
)

// String returns the human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case StateAwaitingVersion:
		return "awaiting-version"
	case StateAwaitingSecuritySelection:
		return "awaiting-security-selection"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAwaitingClientInit:
		return "awaiting-client-init"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const protocolVersionLength = 12

// ClientState is the negotiated and observed state of the connected
// client: the version it spoke, the security method chosen, its declared
// encodings and pixel format, and the encoder selected from them.
type ClientState struct {
	Version            string
	AuthMethod         uint8
	SupportedEncodings []int32
	PixelFormat        *PixelFormat
	Width, Height      uint16
	SelectedEncoder    Encoder
}

// SessionConfig carries a session's tunable behavior. Use SessionOption
// functions with NewSession rather than constructing this directly.
type SessionConfig struct {
	ID                 string
	Name               string
	Password           string
	Logger             Logger
	Listener           *Listener
	EncoderRegistry    *EncoderRegistry
	MaxClipboardLength int
	MaxEncodingsCount  uint16
	PumpRateHz         float64
	Metrics            *Metrics
	Tracer             *Tracer
}

// SessionOption configures a Session at construction time.
type SessionOption func(*SessionConfig)

// WithSessionID overrides the session's correlation ID (a UUID is
// generated by default).
func WithSessionID(id string) SessionOption {
	return func(c *SessionConfig) { c.ID = id }
}

// WithDesktopName sets the name advertised during ServerInit.
func WithDesktopName(name string) SessionOption {
	return func(c *SessionConfig) { c.Name = name }
}

// WithPassword enables VNC password authentication (security type 2). An
// empty password (the default) offers only security type 1 (None).
func WithPassword(password string) SessionOption {
	return func(c *SessionConfig) { c.Password = password }
}

// WithSessionLogger sets the session's structured logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(c *SessionConfig) { c.Logger = logger }
}

// WithListener sets the session's event listener.
func WithListener(listener *Listener) SessionOption {
	return func(c *SessionConfig) { c.Listener = listener }
}

// WithEncoderRegistry overrides the session's encoder registry, e.g. to
// register additional encodings beyond the defaults NewEncoderRegistry
// installs.
func WithEncoderRegistry(registry *EncoderRegistry) SessionOption {
	return func(c *SessionConfig) { c.EncoderRegistry = registry }
}

// WithMaxClipboardLength overrides the maximum accepted ClientCutText
// payload (default MaxClientCutTextLength).
func WithMaxClipboardLength(n int) SessionOption {
	return func(c *SessionConfig) { c.MaxClipboardLength = n }
}

// WithMaxEncodingsCount overrides the maximum accepted SetEncodings count
// (default MaxSetEncodingsCount). The protocol-level MaxSetEncodingsCount
// bound still applies, so values above it have no further effect.
func WithMaxEncodingsCount(n uint16) SessionOption {
	return func(c *SessionConfig) { c.MaxEncodingsCount = n }
}

// WithPumpRate overrides the update pump's maximum tick rate in Hz
// (default 15).
func WithPumpRate(hz float64) SessionOption {
	return func(c *SessionConfig) { c.PumpRateHz = hz }
}

// WithMetrics attaches a shared Metrics collector. Pass the same
// *Metrics to every session a listener accepts so their counters
// aggregate.
func WithMetrics(metrics *Metrics) SessionOption {
	return func(c *SessionConfig) { c.Metrics = metrics }
}

// WithTracer attaches a shared Tracer; Serve records one span covering
// the session's handshake and message loop.
func WithTracer(tracer *Tracer) SessionOption {
	return func(c *SessionConfig) { c.Tracer = tracer }
}

// Session drives one RFB client connection end to end: the handshake
// state machine, the inbound message loop, and the outbound update pump.
// A Session owns its wire stream, its pending update request, its
// rectangle queue, and its encoder statistics exclusively; it holds a
// shared reference to the current framebuffer and to the capture source.
type Session struct {
	conn   net.Conn
	reader *wireReader
	writer *wireWriter

	config SessionConfig
	logger Logger

	// streamLock serializes every write to conn, from the message loop,
	// the pump, or a direct call like Bell.
	streamLock sync.Mutex

	stateMu sync.Mutex
	state   SessionState

	clientMu sync.RWMutex
	client   ClientState

	captureSource CaptureSource
	fbMu          sync.Mutex
	framebuffer   *Framebuffer

	cache    *FramebufferCache
	encoders *EncoderRegistry
	colorMap *ColorMap

	validator *InputValidator

	// reqMu is the FramebufferUpdateRequestLock: it guards pendingRequest
	// and rectQueue, the two pieces of state the capture/cache path and a
	// client's FramebufferUpdateRequest both touch.
	reqMu          sync.Mutex
	pendingRequest *UpdateRequest
	rectQueue      []PendingRectangle

	pump *UpdatePump

	passwordChallenge *PasswordChallenge

	metrics *Metrics
	tracer  *Tracer

	reachedRunning bool
}

// NewSession creates a Session for an already-accepted connection. Serve
// must be called (typically in its own goroutine) to run the handshake
// and message loop.
func NewSession(conn net.Conn, capture CaptureSource, opts ...SessionOption) *Session {
	cfg := SessionConfig{
		Name:               "RFB Session",
		MaxClipboardLength: MaxClientCutTextLength,
		MaxEncodingsCount:  MaxSetEncodingsCount,
		PumpRateHz:         15,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoOpLogger{}
	}
	if cfg.EncoderRegistry == nil {
		cfg.EncoderRegistry = NewEncoderRegistry()
	}

	logger := cfg.Logger.With(Field{Key: "session_id", Value: cfg.ID})

	s := &Session{
		conn:          conn,
		reader:        newWireReader(conn),
		writer:        newWireWriter(conn),
		config:        cfg,
		logger:        logger,
		state:         StateAwaitingVersion,
		captureSource: capture,
		cache:         NewFramebufferCache(),
		encoders:      cfg.EncoderRegistry,
		colorMap:      NewColorMap(),
		validator:     newInputValidator(),
		pump:          NewUpdatePump(logger),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
	}
	if cfg.Password != "" {
		s.passwordChallenge = NewPasswordChallenge(cfg.Password)
	}
	return s
}

// ID returns the session's correlation ID.
func (s *Session) ID() string {
	return s.config.ID
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Serve runs the handshake and, on success, the message loop, blocking
// until the session closes. It is safe to call only once per Session.
func (s *Session) Serve() (err error) {
	_, sp := s.tracer.startSpan(traceCtxBackground(), "Session.Serve", Field{Key: "session_id", Value: s.config.ID})
	defer func() { sp.end(err) }()

	s.metrics.recordAccepted()
	defer func() { s.metrics.recordClosed(err) }()

	if err = s.handshake(); err != nil {
		s.logger.Warn("handshake failed", Field{Key: "error", Value: err})
		s.emitConnectionFailed(err)
		s.setState(StateClosed)
		_ = s.conn.Close()
		return err
	}

	s.reachedRunning = true
	s.setState(StateRunning)
	s.logger.Info("session running",
		Field{Key: "width", Value: s.client.Width},
		Field{Key: "height", Value: s.client.Height})
	if s.config.Listener != nil && s.config.Listener.Connected != nil {
		s.config.Listener.Connected(s)
	}

	s.pump.Start(s.FramebufferSendChanges, s.config.PumpRateHz, false)
	loopErr := s.messageLoop()
	s.pump.Stop()

	s.setState(StateClosed)
	if loopErr != nil {
		logSessionError(s.logger, "session closed", loopErr)
	} else {
		s.logger.Info("session closed", Field{Key: "error", Value: loopErr})
	}
	if s.config.Listener != nil && s.config.Listener.Closed != nil {
		s.config.Listener.Closed(s, loopErr)
	}

	_ = s.conn.Close()
	err = loopErr
	return err
}

// Close shuts down the session's transport, which unblocks the message
// loop's pending read with an error and causes Serve to return.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) emitConnectionFailed(err error) {
	if s.reachedRunning {
		return
	}
	if s.config.Listener != nil && s.config.Listener.ConnectionFailed != nil {
		s.config.Listener.ConnectionFailed(s, err)
	}
}

// handshake runs the AwaitingVersion through AwaitingClientInit states in
// sequence, leaving the session ready to enter Running.
func (s *Session) handshake() error {
	if err := s.handshakeVersion(); err != nil {
		return err
	}
	if err := s.handshakeSecurity(); err != nil {
		return err
	}
	if s.client.AuthMethod == securityTypeVNCPassword {
		if err := s.handshakeAuth(); err != nil {
			return err
		}
	}
	return s.handshakeClientInit()
}

const (
	securityTypeNone        uint8 = 1
	securityTypeVNCPassword uint8 = 2
)

func (s *Session) handshakeVersion() error {
	s.setState(StateAwaitingVersion)

	if _, err := s.writer.writeFull([]byte("RFB 003.008\n")); err != nil {
		return err
	}

	versionBytes, err := s.reader.readBytes(protocolVersionLength)
	if err != nil {
		return err
	}
	s.client.Version = string(versionBytes)

	if err := s.validator.ValidateProtocolVersion(s.client.Version); err != nil {
		// Malformed version string: offeredSecurityTypes will also fail to
		// parse it below and fall back to an empty offer, which
		// handshakeSecurity turns into a clean connection failure.
		s.logger.Debug("client sent a malformed protocol version string",
			Field{Key: "version", Value: s.client.Version}, Field{Key: "error", Value: err})
		return nil
	}

	major, minor, err := parseProtocolVersion(versionBytes)
	if err != nil || major != 3 || minor != 8 {
		// Non-3.8 client: advance with an empty security method list,
		// which handshakeSecurity turns into a clean connection failure.
		s.logger.Debug("client offered unsupported protocol version",
			Field{Key: "version", Value: s.client.Version})
	}
	return nil
}

// offeredSecurityTypes returns the security methods this session offers,
// in preference order: only VNC password when a password was configured,
// otherwise only None.
func (s *Session) offeredSecurityTypes() []uint8 {
	major, minor, err := parseProtocolVersion([]byte(s.client.Version))
	if err != nil || major != 3 || minor != 8 {
		return nil
	}
	if s.passwordChallenge != nil {
		return []uint8{securityTypeVNCPassword}
	}
	return []uint8{securityTypeNone}
}

func (s *Session) handshakeSecurity() error {
	s.setState(StateAwaitingSecuritySelection)

	offered := s.offeredSecurityTypes()
	if len(offered) == 0 {
		if _, err := s.writer.writeU8(0); err != nil {
			return err
		}
		_ = s.writeFailureReason("no acceptable security types")
		return protocolError("Session.handshakeSecurity", "no acceptable security types to offer", nil)
	}
	if err := s.validator.ValidateSecurityTypes(offered); err != nil {
		return sanityCheckError("Session.handshakeSecurity", "computed an invalid set of security types to offer", err)
	}

	if _, err := s.writer.writeU8(uint8(len(offered))); err != nil { // #nosec G115 - offered has at most 2 entries
		return err
	}
	for _, method := range offered {
		if _, err := s.writer.writeU8(method); err != nil {
			return err
		}
	}

	selected, err := s.reader.readU8()
	if err != nil {
		return err
	}

	if !containsByte(offered, selected) {
		_ = s.writeFailureReason("unsupported security type")
		return protocolError("Session.handshakeSecurity",
			fmt.Sprintf("client selected unoffered security type %d", selected), nil)
	}

	s.client.AuthMethod = selected
	if selected == securityTypeNone {
		return s.writeSecurityResultOK()
	}
	return nil
}

func (s *Session) handshakeAuth() error {
	s.setState(StateAwaitingAuth)

	challenge, err := s.passwordChallenge.GenerateChallenge()
	if err != nil {
		return err
	}
	if _, err := s.writer.writeFull(challenge[:]); err != nil {
		return err
	}

	response, err := s.reader.readBytes(VNCChallengeSize)
	if err != nil {
		return err
	}

	ok, verifyErr := s.passwordChallenge.Verify(challenge, response)
	for i := range challenge {
		challenge[i] = 0
	}
	for i := range response {
		response[i] = 0
	}

	if s.config.Listener != nil && s.config.Listener.PasswordProvided != nil {
		s.config.Listener.PasswordProvided(s, ok && verifyErr == nil)
	}

	if verifyErr != nil || !ok {
		s.metrics.recordAuthFailure()
		_ = s.writeSecurityResultFail("authentication failed")
		return authFailureError("Session.handshakeAuth", "VNC password authentication failed", verifyErr)
	}

	return s.writeSecurityResultOK()
}

func (s *Session) writeSecurityResultOK() error {
	_, err := s.writer.writeU32(0)
	return err
}

func (s *Session) writeSecurityResultFail(reason string) error {
	if _, err := s.writer.writeU32(1); err != nil {
		return err
	}
	return s.writeFailureReason(reason)
}

func (s *Session) writeFailureReason(reason string) error {
	_, err := s.writer.writeLengthPrefixedString(reason)
	return err
}

func (s *Session) handshakeClientInit() error {
	s.setState(StateAwaitingClientInit)

	if _, err := s.reader.readU8(); err != nil { // shared-desktop flag
		return err
	}

	if s.config.Listener != nil && s.config.Listener.CreatingDesktop != nil {
		s.config.Listener.CreatingDesktop(s)
	}

	captured, err := s.captureSource.Capture()
	if err != nil {
		return captureErrorOf("Session.handshakeClientInit", "initial capture failed", err)
	}
	if captured == nil {
		return sanityCheckError("Session.handshakeClientInit", "capture source produced no framebuffer", nil)
	}
	fb := captured.Unwrap()

	s.fbMu.Lock()
	s.framebuffer = fb
	s.fbMu.Unlock()

	format := *fb.PixelFormat
	s.clientMu.Lock()
	s.client.PixelFormat = &format
	s.client.Width = uint16(fb.Width)   // #nosec G115 - validated by Framebuffer construction
	s.client.Height = uint16(fb.Height) // #nosec G115 - validated by Framebuffer construction
	s.clientMu.Unlock()

	if err := s.validator.ValidateFramebufferDimensions(s.client.Width, s.client.Height); err != nil {
		return protocolError("Session.handshakeClientInit", "initial framebuffer dimensions are invalid", err)
	}

	if _, err := s.writer.writeU16(s.client.Width); err != nil {
		return err
	}
	if _, err := s.writer.writeU16(s.client.Height); err != nil {
		return err
	}
	pfBytes, err := writePixelFormat(fb.PixelFormat)
	if err != nil {
		return err
	}
	if _, err := s.writer.writeFull(pfBytes); err != nil {
		return err
	}
	if _, err := s.writer.writeLengthPrefixedString(s.config.Name); err != nil {
		return err
	}

	return nil
}

func parseProtocolVersion(pv []byte) (uint, uint, error) {
	var major, minor uint
	if len(pv) < protocolVersionLength {
		return 0, 0, protocolError("parseProtocolVersion",
			fmt.Sprintf("protocol version message too short (%d < %d)", len(pv), protocolVersionLength), nil)
	}
	n, err := fmt.Sscanf(string(pv), "RFB %d.%d\n", &major, &minor)
	if err != nil || n != 2 {
		return 0, 0, protocolError("parseProtocolVersion", "invalid protocol version format", err)
	}
	return major, minor, nil
}

func containsByte(values []uint8, v uint8) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// currentFramebuffer returns the most recently adopted framebuffer.
func (s *Session) currentFramebuffer() *Framebuffer {
	s.fbMu.Lock()
	defer s.fbMu.Unlock()
	return s.framebuffer
}

// clientPixelFormatSnapshot returns a copy of the client's currently
// negotiated pixel format.
func (s *Session) clientPixelFormatSnapshot() *PixelFormat {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	format := *s.client.PixelFormat
	return &format
}

// clientEncodingsSnapshot returns a copy of the client's SetEncodings list.
func (s *Session) clientEncodingsSnapshot() []int32 {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	out := make([]int32, len(s.client.SupportedEncodings))
	copy(out, s.client.SupportedEncodings)
	return out
}

// clientSupportsEncoding reports whether code appears in the client's
// SetEncodings list.
func (s *Session) clientSupportsEncoding(code int32) bool {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return hasEncoding(s.client.SupportedEncodings, code)
}
