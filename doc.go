// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package vnc implements the server side of the RFB (Remote Framebuffer)
// protocol as defined in RFC 6143, driving one client connection per
// Session from handshake through an ongoing framebuffer update pump.
//
// A host supplies a CaptureSource — the collaborator that produces
// framebuffer snapshots on demand, optionally accompanied by move/dirty
// hints — and accepts connections on its own net.Listener.
//
// # Basic Usage
//
//	listener, err := net.Listen("tcp", ":5900")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for {
//		conn, err := listener.Accept()
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		session := vnc.NewSession(conn, myCaptureSource,
//			vnc.WithDesktopName("My Desktop"),
//			vnc.WithPassword("secret"),
//		)
//		go func() {
//			if err := session.Serve(); err != nil {
//				log.Printf("session ended: %v", err)
//			}
//		}()
//	}
//
// # Events
//
//	listener := &vnc.Listener{
//		KeyChanged: func(s *vnc.Session, ev vnc.KeyEvent) {
//			// handle a key press or release
//		},
//		RemoteClipboardChanged: func(s *vnc.Session, ev vnc.ClipboardEvent) {
//			// handle an incoming clipboard update
//		},
//	}
//	session := vnc.NewSession(conn, myCaptureSource, vnc.WithListener(listener))
//
// # Driving Updates
//
// A Session's update pump sends a FramebufferUpdate whenever the client
// has an outstanding FramebufferUpdateRequest and the capture source
// reports a framebuffer, at a rate bounded by WithPumpRate. Hosts that
// already know which regions changed can implement HintProvider on their
// Capture to skip the cache's diff scan.
//
// # Error Handling
//
//	if vnc.IsSessionError(err, vnc.ErrAuthFailure) {
//		log.Printf("client failed authentication: %v", err)
//	}
package vnc
