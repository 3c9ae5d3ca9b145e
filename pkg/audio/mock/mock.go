// Package mock provides in-memory implementations of [audio.InputDevice],
// [audio.OutputDevice], and [audio.DeviceOpener] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	in := &mock.InputDevice{Rate: 16000, Buffers: [][]byte{speech, silence}}
//	out := &mock.OutputDevice{}
//	opener := &mock.Opener{Input: in, Output: out}
//	c := capture.New(opener)
package mock

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
	_ audio.DeviceOpener = (*Opener)(nil)
)

// ErrAborted is returned by a blocked [OutputDevice.Write] when Abort is called.
var ErrAborted = errors.New("mock: output aborted")

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a scripted microphone. Read returns Buffers in order; once
// they are exhausted it returns Tail repeatedly if set, otherwise it blocks
// until Close and then returns [io.EOF].
type InputDevice struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// Buffers are handed out by successive Read calls.
	Buffers [][]byte

	// Tail is returned forever after Buffers are exhausted, when non-nil.
	Tail []byte

	// ReadDelay paces each Read to mimic a real device.
	ReadDelay time.Duration

	// ReadErr, when set, is returned by every Read.
	ReadErr error

	// CallCountRead records how many times Read returned a buffer.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	closed chan struct{}
}

func (d *InputDevice) closedCh() chan struct{} {
	if d.closed == nil {
		d.closed = make(chan struct{})
	}
	return d.closed
}

// Read implements [audio.InputDevice].
func (d *InputDevice) Read() ([]byte, error) {
	d.mu.Lock()
	closed := d.closedCh()
	delay := d.ReadDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-closed:
			return nil, io.EOF
		}
	}

	d.mu.Lock()
	select {
	case <-closed:
		d.mu.Unlock()
		return nil, io.EOF
	default:
	}
	if d.ReadErr != nil {
		d.mu.Unlock()
		return nil, d.ReadErr
	}
	if d.next < len(d.Buffers) {
		buf := d.Buffers[d.next]
		d.next++
		d.CallCountRead++
		d.mu.Unlock()
		return buf, nil
	}
	if d.Tail != nil {
		d.CallCountRead++
		tail := d.Tail
		d.mu.Unlock()
		return tail, nil
	}
	d.mu.Unlock()

	<-closed
	return nil, io.EOF
}

// SampleRate implements [audio.InputDevice].
func (d *InputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Rate
}

// Close implements [audio.InputDevice]. Unblocks any pending Read.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	ch := d.closedCh()
	select {
	case <-ch:
	default:
		close(ch)
	}
	return nil
}

// reopen clears a previous Close so the device can be opened again; scripted
// buffers continue from where the last stream stopped.
func (d *InputDevice) reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closedCh():
		d.closed = make(chan struct{})
	default:
	}
}

// CloseCount returns how many times Close was called.
func (d *InputDevice) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

// Exhausted reports whether every scripted buffer has been read.
func (d *InputDevice) Exhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next >= len(d.Buffers)
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice records every write. When Gate is non-nil each Write waits for
// a value on Gate (or for Abort) before accepting its buffer, which lets tests
// step device backpressure one write at a time.
type OutputDevice struct {
	mu sync.Mutex

	// Gate, when non-nil, must yield one value per accepted Write.
	Gate chan struct{}

	// WriteDelay is slept per Write, unless aborted.
	WriteDelay time.Duration

	// WriteErr, when set, is returned by every Write.
	WriteErr error

	// CloseDelay makes Close block like a device draining its buffer. Abort
	// cuts the wait short.
	CloseDelay time.Duration

	// Writes records every accepted buffer in order.
	Writes [][]byte

	// CallCountAbort records how many times Abort was called.
	CallCountAbort int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	aborted chan struct{}
	written chan struct{}
}

func (d *OutputDevice) abortCh() chan struct{} {
	if d.aborted == nil {
		d.aborted = make(chan struct{})
	}
	return d.aborted
}

// Written returns a channel that receives one value after every accepted Write.
// It has a large buffer; tests that do not read it are unaffected.
func (d *OutputDevice) Written() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.written == nil {
		d.written = make(chan struct{}, 1024)
	}
	return d.written
}

// Write implements [audio.OutputDevice].
func (d *OutputDevice) Write(pcm []byte) error {
	d.mu.Lock()
	aborted := d.abortCh()
	gate := d.Gate
	delay := d.WriteDelay
	err := d.WriteErr
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-aborted:
			return ErrAborted
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-aborted:
			return ErrAborted
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-aborted:
		return ErrAborted
	default:
	}
	d.Writes = append(d.Writes, pcm)
	if d.written == nil {
		d.written = make(chan struct{}, 1024)
	}
	select {
	case d.written <- struct{}{}:
	default:
	}
	return nil
}

// Abort implements [audio.OutputDevice]. Unblocks any pending Write.
func (d *OutputDevice) Abort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountAbort++
	ch := d.abortCh()
	select {
	case <-ch:
	default:
		close(ch)
	}
	return nil
}

// reopen clears a previous abort so a shared device can be handed out again.
func (d *OutputDevice) reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.abortCh():
		d.aborted = make(chan struct{})
	default:
	}
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	d.CallCountClose++
	aborted := d.abortCh()
	delay := d.CloseDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-aborted:
		}
	}
	return nil
}

// CloseCount returns how many times Close was called.
func (d *OutputDevice) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

// AbortCount returns how many times Abort was called.
func (d *OutputDevice) AbortCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountAbort
}

// WriteCount returns the number of accepted writes.
func (d *OutputDevice) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Writes)
}

// WrittenBytes returns the concatenation of every accepted write.
func (d *OutputDevice) WrittenBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []byte
	for _, w := range d.Writes {
		out = append(out, w...)
	}
	return out
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock [audio.DeviceOpener].
//
// OpenInput returns Input. OpenOutput returns the result of NewOutput when set
// (one fresh device per open), otherwise Output.
type Opener struct {
	mu sync.Mutex

	Input    *InputDevice
	InputErr error

	Output    *OutputDevice
	NewOutput func() *OutputDevice
	OutputErr error

	// InputCalls and OutputCalls record the configs passed to each open.
	InputCalls  []audio.DeviceConfig
	OutputCalls []audio.DeviceConfig

	// Outputs records every output device handed out.
	Outputs []*OutputDevice
}

// OpenInput implements [audio.DeviceOpener].
func (o *Opener) OpenInput(cfg audio.DeviceConfig) (audio.InputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.InputCalls = append(o.InputCalls, cfg)
	if o.InputErr != nil {
		return nil, o.InputErr
	}
	if o.Input == nil {
		return nil, audio.ErrDeviceUnavailable
	}
	o.Input.reopen()
	return o.Input, nil
}

// OpenOutput implements [audio.DeviceOpener].
func (o *Opener) OpenOutput(cfg audio.DeviceConfig) (audio.OutputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OutputCalls = append(o.OutputCalls, cfg)
	if o.OutputErr != nil {
		return nil, o.OutputErr
	}
	dev := o.Output
	if o.NewOutput != nil {
		dev = o.NewOutput()
	}
	if dev == nil {
		return nil, audio.ErrDeviceUnavailable
	}
	dev.reopen()
	o.Outputs = append(o.Outputs, dev)
	return dev, nil
}

// OutputAt returns the i-th device handed out, or nil.
func (o *Opener) OutputAt(i int) *OutputDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.Outputs) {
		return nil
	}
	return o.Outputs[i]
}

// OutputOpens returns how many times OpenOutput succeeded.
func (o *Opener) OutputOpens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Outputs)
}
