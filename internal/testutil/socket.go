package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// FakeSocket is an in-memory interfaces.Socket
type FakeSocket struct {
	mu       sync.Mutex
	written  [][]byte
	WriteErr error

	inbound   chan []byte
	closed    chan struct{}
	closeErr  error
	closeOnce sync.Once
}

// NewFakeSocket creates an open socket
func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (s *FakeSocket) WriteJSON(v interface{}) error {
	select {
	case <-s.closed:
		return types.ErrNotConnected
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.written = append(s.written, data)
	return nil
}

// ReadMessage drains queued frames before reporting the close
func (s *FakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	default:
	}

	select {
	case data := <-s.inbound:
		return data, nil
	case <-s.closed:
		select {
		case data := <-s.inbound:
			return data, nil
		default:
		}
		return nil, s.closeErr
	}
}

// Close is a local close
func (s *FakeSocket) Close() error {
	s.closeWith(&types.CloseError{Code: types.CloseNormal, Reason: "closed by client"})
	return nil
}

// Deliver queues an inbound frame as if the server sent it
func (s *FakeSocket) Deliver(frame string) {
	s.inbound <- []byte(frame)
}

// ServerClose ends the socket with code as if the server closed it
func (s *FakeSocket) ServerClose(code int) {
	s.closeWith(&types.CloseError{Code: code, Reason: "closed by server"})
}

func (s *FakeSocket) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}

// IsClosed reports whether either side closed the socket
func (s *FakeSocket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Frames decodes every frame written so far
func (s *FakeSocket) Frames() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]map[string]interface{}, 0, len(s.written))
	for _, data := range s.written {
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// FramesOfType filters Frames by the type discriminator
func (s *FakeSocket) FramesOfType(frameType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, frame := range s.Frames() {
		if frame["type"] == frameType {
			out = append(out, frame)
		}
	}
	return out
}

// DialCall records one Dial invocation
type DialCall struct {
	UserID int64
	Token  string
}

// FakeDialer hands out FakeSockets, or queued errors
type FakeDialer struct {
	mu      sync.Mutex
	calls   []DialCall
	errs    []error
	sockets []*FakeSocket
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

func (d *FakeDialer) Dial(ctx context.Context, userID int64, token string) (interfaces.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, DialCall{UserID: userID, Token: token})
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sock := NewFakeSocket()
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

// FailNext makes the next len(errs) dials fail in order
func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *FakeDialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// LastSocket returns the most recently dialed socket, nil if none
func (d *FakeDialer) LastSocket() *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func (d *FakeDialer) Sockets() []*FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeSocket(nil), d.sockets...)
}

// FakeTransport records frames sent through a router.Transport
type FakeTransport struct {
	mu        sync.Mutex
	connected bool
	frames    []map[string]interface{}
}

func NewFakeTransport(connected bool) *FakeTransport {
	return &FakeTransport{connected: connected}
}

func (f *FakeTransport) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return types.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeTransport) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// Frames returns every frame sent so far
func (f *FakeTransport) Frames() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.frames...)
}

// FramesOfType filters Frames by the type discriminator
func (f *FakeTransport) FramesOfType(frameType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, frame := range f.Frames() {
		if frame["type"] == frameType {
			out = append(out, frame)
		}
	}
	return out
}
