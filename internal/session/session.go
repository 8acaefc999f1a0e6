// Package session owns the acquisition state machine: it connects to the
// datalogger (or the synthetic generator in test mode), polls one frame per
// tick, decodes it, keeps the history and fans records out to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/shaunagostinho/biomet-dash/internal/biomet"
	"github.com/shaunagostinho/biomet-dash/internal/history"
	"github.com/shaunagostinho/biomet-dash/internal/transport"
)

const (
	DefaultInterval    = 1000 * time.Millisecond
	DefaultReadTimeout = 1000 * time.Millisecond
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	Interval        time.Duration // Pause between ticks
	ReadTimeout     time.Duration // Bound on a single device read
	Capacity        int           // History length
	DisableTestMode bool

	// Synthetic drives test mode. A clock-seeded generator is used if nil.
	Synthetic *biomet.Synthetic

	// OnPollError is called from the poll loop for every failed tick.
	OnPollError func(*PollError)
	// OnStateChange is called after every transition. It must not call
	// control operations on the session.
	OnStateChange func(Status)

	Now func() time.Time
}

// Session is the acquisition session. Control operations (Connect,
// Disconnect, StartTestMode, StopTestMode, Close) are serialized; at most
// one poll loop runs at any time.
type Session struct {
	tr    transport.Transport
	opts  Options
	hist  *history.Buffer
	synth *biomet.Synthetic

	ctrl sync.Mutex // serializes control operations

	mu       sync.Mutex
	state    State
	link     transport.Link
	runID    string
	since    time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	ticks    uint64
	pollErrs uint64
	lastErr  string
	closed   bool

	subMu sync.RWMutex
	subs  map[chan history.Entry]struct{}
}

// New creates a disconnected session reading from tr. tr may be nil when
// only test mode is used.
func New(tr transport.Transport, opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Capacity <= 0 {
		opts.Capacity = history.DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	synth := opts.Synthetic
	if synth == nil {
		synth = biomet.NewSynthetic(nil)
	}
	return &Session{
		tr:    tr,
		opts:  opts,
		hist:  history.New(opts.Capacity),
		synth: synth,
		subs:  make(map[chan history.Entry]struct{}),
	}
}

// Connect opens the device link and starts polling it. A running test mode
// is stopped first. On failure the session stays Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	switch s.State() {
	case Connected:
		return &ConnectionError{Op: "connect", Err: ErrAlreadyConnected}
	case TestMode:
		s.stopTestLocked()
	}
	if s.isClosed() {
		return &ConnectionError{Op: "connect", Err: ErrClosed}
	}
	if s.tr == nil {
		return &ConnectionError{Op: "connect", Err: errors.New("no transport configured")}
	}

	link, err := s.tr.Open(ctx)
	if err != nil {
		log.Printf("[session] connect to %s failed: %v", s.tr.Name(), err)
		return &ConnectionError{Op: "connect", Err: err}
	}

	s.begin(Connected, link, &linkSource{r: link.Reader(), timeout: s.opts.ReadTimeout})
	log.Printf("[session] connected to %s, polling every %v", s.tr.Name(), s.opts.Interval)
	return nil
}

// Disconnect stops polling, releases the link and clears the history. Every
// teardown step runs even if an earlier one fails; failures are returned as
// a ConnectionError but the session is Disconnected either way. In test
// mode it behaves like StopTestMode.
func (s *Session) Disconnect() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	switch s.State() {
	case Connected:
		return s.disconnectLocked()
	case TestMode:
		s.stopTestLocked()
	}
	return nil
}

// StartTestMode switches to the synthetic generator. A connected device is
// disconnected first; teardown failures are logged and do not block the
// switch.
func (s *Session) StartTestMode() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	return s.startTestLocked()
}

// StopTestMode stops the synthetic run, clears the history and rewinds the
// generator.
func (s *Session) StopTestMode() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	if s.State() == TestMode {
		s.stopTestLocked()
	}
}

// ToggleTestMode starts test mode, or stops it if it is running.
func (s *Session) ToggleTestMode() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	if s.State() == TestMode {
		s.stopTestLocked()
		return nil
	}
	return s.startTestLocked()
}

// SetTestModeEnabled allows or forbids test mode at runtime. Disabling it
// while a synthetic run is active stops that run.
func (s *Session) SetTestModeEnabled(enabled bool) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	changed := s.opts.DisableTestMode == enabled
	s.opts.DisableTestMode = !enabled
	running := s.state == TestMode
	s.mu.Unlock()

	if !changed {
		return
	}
	log.Printf("[session] test mode enabled=%v", enabled)
	if !enabled && running {
		s.stopTestLocked()
		return
	}
	s.notify()
}

// Close stops any run and closes every subscriber channel. The session
// cannot be reused.
func (s *Session) Close() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	var err error
	switch s.State() {
	case Connected:
		err = s.disconnectLocked()
	case TestMode:
		s.stopTestLocked()
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan history.Entry]struct{})
	s.subMu.Unlock()
	return err
}

// Subscribe registers a consumer of new history entries. Delivery never
// blocks the poll loop: entries that do not fit in the channel buffer are
// dropped. Records are shared and must not be modified. The returned func
// unsubscribes and closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan history.Entry, func()) {
	ch := make(chan history.Entry, buffer)

	s.subMu.Lock()
	if s.isClosed() {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// History returns the retained entries, oldest first.
func (s *Session) History() []history.Entry {
	return s.hist.All()
}

// Latest returns the newest entry.
func (s *Session) Latest() (history.Entry, bool) {
	return s.hist.Last()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for consumers.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:       s.state,
		Polling:     s.cancel != nil,
		RunID:       s.runID,
		Ticks:       s.ticks,
		PollErrors:  s.pollErrs,
		LastError:   s.lastErr,
		TestEnabled: !s.opts.DisableTestMode,
	}
	if s.state != Disconnected {
		since := s.since
		st.Since = &since
		st.SinceHuman = humanize.Time(since)
	}
	switch s.state {
	case Connected:
		st.Device = s.tr.Name()
	case TestMode:
		st.Device = "synthetic"
	}
	s.mu.Unlock()

	st.Records = s.hist.Len()
	st.Capacity = s.hist.Cap()
	return st
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) startTestLocked() error {
	if s.opts.DisableTestMode {
		return ErrTestModeDisabled
	}
	if s.isClosed() {
		return ErrClosed
	}

	switch s.State() {
	case TestMode:
		return nil
	case Connected:
		if err := s.disconnectLocked(); err != nil {
			log.Printf("[session] %v (continuing into test mode)", err)
		}
	}

	s.begin(TestMode, nil, &syntheticSource{g: s.synth})
	log.Printf("[session] test mode active, generating synthetic frames every %v", s.opts.Interval)
	return nil
}

func (s *Session) stopTestLocked() {
	s.stopPolling()

	s.mu.Lock()
	s.state = Disconnected
	s.runID = ""
	s.mu.Unlock()

	dropped := s.hist.Len()
	s.hist.Clear()
	s.synth.Reset()
	log.Printf("[session] test mode stopped, cleared %s records", humanize.Comma(int64(dropped)))
	s.notify()
}

func (s *Session) disconnectLocked() error {
	s.stopPolling()

	s.mu.Lock()
	link := s.link
	s.link = nil
	s.state = Disconnected
	s.runID = ""
	s.mu.Unlock()

	err := teardown(link)
	dropped := s.hist.Len()
	s.hist.Clear()
	s.notify()

	if err != nil {
		log.Printf("[session] teardown errors: %v", err)
		return &ConnectionError{Op: "disconnect", Err: err}
	}
	log.Printf("[session] disconnected, cleared %s records", humanize.Comma(int64(dropped)))
	return nil
}

// teardown releases reader, writer and port in that order, attempting each
// step regardless of earlier failures.
func teardown(link transport.Link) error {
	if link == nil {
		return nil
	}
	var errs []error
	if r := link.Reader(); r != nil {
		if err := r.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("cancel reader: %w", err))
		}
	}
	if w := link.Writer(); w != nil {
		if err := w.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release writer: %w", err))
		}
	}
	if err := link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close port: %w", err))
	}
	return errors.Join(errs...)
}

// begin enters a polling state with a fresh run and starts its loop.
func (s *Session) begin(state State, link transport.Link, src frameSource) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = state
	s.link = link
	s.runID = uuid.NewString()
	s.since = s.opts.Now()
	s.cancel = cancel
	s.done = done
	s.ticks = 0
	s.pollErrs = 0
	s.lastErr = ""
	s.mu.Unlock()

	go s.poll(ctx, src, done)
	s.notify()
}

// stopPolling cancels the running loop and waits for it to exit. The tick
// in flight, if any, completes first.
func (s *Session) stopPolling() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) notify() {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(s.Status())
	}
}

func (s *Session) poll(ctx context.Context, src frameSource, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx, src)

		t := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Session) tick(ctx context.Context, src frameSource) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.mu.Unlock()

	raw, err := src.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.reportPollError(&PollError{Tick: n, Err: err})
		return
	}

	rec, count := biomet.DecodeCount(raw)
	entry := history.Entry{Time: s.opts.Now(), Record: rec}
	s.hist.Append(entry)
	s.publish(entry)

	if count != biomet.FieldCount {
		s.reportPollError(&PollError{
			Tick: n,
			Err:  fmt.Errorf("malformed frame: %d values, want %d", count, biomet.FieldCount),
		})
	}
}

func (s *Session) reportPollError(pe *PollError) {
	s.mu.Lock()
	s.pollErrs++
	s.lastErr = pe.Err.Error()
	s.mu.Unlock()

	log.Printf("[session] %v", pe)
	if s.opts.OnPollError != nil {
		s.opts.OnPollError(pe)
	}
}

func (s *Session) publish(e history.Entry) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Consumer too slow, skip
		}
	}
}

// frameSource yields one raw frame per tick.
type frameSource interface {
	Next(ctx context.Context) (string, error)
}

type linkSource struct {
	r       transport.Reader
	timeout time.Duration
}

func (l *linkSource) Next(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	b, err := l.r.Read(rctx)
	switch {
	case err == nil && len(b) == 0:
		return "", ErrNoData
	case err == nil:
		return string(b), nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return "", ErrReadTimeout
	case errors.Is(err, io.EOF):
		return "", fmt.Errorf("%w: reader closed", ErrNoData)
	default:
		return "", err
	}
}

type syntheticSource struct {
	g *biomet.Synthetic
}

func (s *syntheticSource) Next(context.Context) (string, error) {
	return s.g.NextFrame(), nil
}
