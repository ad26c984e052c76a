package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
)

var (
	// ErrCameraUnavailable means no camera device exists.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCameraDenied means the user refused the camera permission.
	ErrCameraDenied = errors.New("camera permission denied")
	// ErrStreamEnded means the stream stopped underneath an open session.
	ErrStreamEnded = errors.New("camera stream ended unexpectedly")
	// ErrSessionClosed means the session was already torn down.
	ErrSessionClosed = errors.New("capture session closed")
)

// jpegQuality is good enough for the oracle without shipping huge payloads.
const jpegQuality = 85

// Frames is an open camera stream.
type Frames interface {
	// Frame returns the current video frame.
	Frame() (image.Image, error)
	// Close releases the stream. Must be safe to call more than once.
	Close() error
}

// Device acquires a camera stream. Implementations map acquisition failures
// onto ErrCameraUnavailable / ErrCameraDenied.
type Device interface {
	Open(ctx context.Context) (Frames, error)
}

// Session owns one open stream for one submission attempt. The stream is
// released exactly once no matter how the attempt ends.
type Session struct {
	mu      sync.Mutex
	frames  Frames
	closed  bool
	onClose func()
}

// Capture grabs the current frame and encodes it as baseline JPEG.
func (s *Session) Capture() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	img, err := s.frames.Frame()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close releases the camera. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.frames.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Manager hands out sessions and keeps at most one open per owner. Opening a
// new session closes the owner's previous one first.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Session
}

// NewManager creates a session manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*Session)}
}

// Open acquires the owner's camera, tearing down any session the owner
// already holds.
func (m *Manager) Open(ctx context.Context, owner string, device Device) (*Session, error) {
	m.mu.Lock()
	prev := m.active[owner]
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	frames, err := device.Open(ctx)
	if err != nil {
		return nil, err
	}

	sess := &Session{frames: frames}
	sess.onClose = func() {
		m.mu.Lock()
		if m.active[owner] == sess {
			delete(m.active, owner)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.active[owner] = sess
	m.mu.Unlock()
	return sess, nil
}

// Active reports whether owner currently holds an open session.
func (m *Manager) Active(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[owner] != nil
}
