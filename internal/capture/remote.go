// Package capture adapts the page's camera and microphone to the session.
//
// The browser owns the hardware: it asks for permission, previews the stream
// and records it. Remote mirrors that on the server side. The page reports the
// outcome of its permission prompt once, and Release tells it to stop every
// track.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/stemsi/vidassess/internal/assessment"
)

// Remote is a capture device whose hardware lives in the page.
type Remote struct {
	mu       sync.Mutex
	reported bool
	granted  bool
	reason   string
	ready    chan struct{}

	releaseOnce sync.Once
	onRelease   func() error
}

// NewRemote creates a device. onRelease is invoked at most once, when the
// session releases the device.
func NewRemote(onRelease func() error) *Remote {
	return &Remote{
		ready:     make(chan struct{}),
		onRelease: onRelease,
	}
}

// Grant records that the page obtained a live stream.
func (r *Remote) Grant() {
	r.report(true, "")
}

// Deny records that the page could not obtain a stream.
func (r *Remote) Deny(reason string) {
	r.report(false, reason)
}

// report keeps only the first outcome; a denied page must reload to retry.
func (r *Remote) report(granted bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reported {
		return
	}
	r.reported = true
	r.granted = granted
	r.reason = reason
	close(r.ready)
}

// Acquire waits for the page's report.
func (r *Remote) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ready:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.granted {
		return nil
	}
	if r.reason == "" {
		return assessment.ErrPermissionDenied
	}
	return fmt.Errorf("%w: %s", assessment.ErrPermissionDenied, r.reason)
}

// Release stops the page's tracks. Calling it more than once is a no-op.
func (r *Remote) Release() error {
	var err error
	r.releaseOnce.Do(func() {
		if r.onRelease != nil {
			err = r.onRelease()
		}
	})
	return err
}

var _ assessment.Device = (*Remote)(nil)
