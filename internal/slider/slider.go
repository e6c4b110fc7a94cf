// Package slider implements the client-side rotation state machine that
// consumes eligibility results. It holds an ordered list of showable ads and a
// cursor, wraps Next/Prev modulo the list length, and optionally auto-advances
// on a timer. Impressions are reported at most once per ad per slider lifetime
// through a local seen-set; this is a display-level dedup, distinct from the
// server-side seen-promo records.
package slider

import (
	"sync"
	"time"

	"github.com/exohunter/promoserve/internal/models"
)

// State of the slider lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Slider rotates through a list of showable ads.
type Slider struct {
	mu    sync.Mutex
	state State
	ads   []models.AdWithState
	index int
	seen  map[string]struct{}

	interval     time.Duration
	onImpression func(adID string)

	ticker *time.Ticker
	done   chan struct{}
}

// Option configures a Slider.
type Option func(*Slider)

// WithAutoAdvance enables the auto-advance timer with the given interval.
// The timer is suspended while the list has one item or fewer.
func WithAutoAdvance(interval time.Duration) Option {
	return func(s *Slider) { s.interval = interval }
}

// WithImpressionFunc sets the callback invoked the first time each ad becomes
// current. The callback runs outside the slider lock and must not call back
// into the slider.
func WithImpressionFunc(fn func(adID string)) Option {
	return func(s *Slider) { s.onImpression = fn }
}

// New constructs an idle slider.
func New(opts ...Option) *Slider {
	s := &Slider{
		state: StateIdle,
		seen:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the ad list with the showable subset of ads and resets the
// cursor and the impression seen-set. An empty result leaves the slider loaded
// with nothing to rotate; the auto-advance timer stays suspended.
func (s *Slider) Load(ads []models.AdWithState) {
	s.mu.Lock()
	s.ads = s.ads[:0]
	for _, ad := range ads {
		if ad.ShouldShow {
			s.ads = append(s.ads, ad)
		}
	}
	s.index = 0
	s.seen = make(map[string]struct{})
	s.state = StateLoaded
	fire := s.markCurrentSeenLocked()
	s.mu.Unlock()

	s.fireImpression(fire)
	s.syncTimer()
}

// Fail moves the slider to the error state and clears the list. Callers treat
// a failed eligibility fetch as "show nothing".
func (s *Slider) Fail() {
	s.mu.Lock()
	s.ads = nil
	s.index = 0
	s.state = StateError
	s.mu.Unlock()
	s.syncTimer()
}

// State returns the current lifecycle state.
func (s *Slider) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len returns the number of rotatable ads.
func (s *Slider) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ads)
}

// Index returns the current cursor position.
func (s *Slider) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Current returns the ad under the cursor, or false when the list is empty.
func (s *Slider) Current() (models.AdWithState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ads) == 0 {
		return models.AdWithState{}, false
	}
	return s.ads[s.index], true
}

// Next advances the cursor, wrapping at the end. No-op for lists of one or
// fewer items.
func (s *Slider) Next() {
	s.step(1)
}

// Prev moves the cursor back, wrapping at the start. No-op for lists of one or
// fewer items.
func (s *Slider) Prev() {
	s.step(-1)
}

func (s *Slider) step(delta int) {
	s.mu.Lock()
	if len(s.ads) <= 1 {
		s.mu.Unlock()
		return
	}
	s.index = (s.index + delta + len(s.ads)) % len(s.ads)
	fire := s.markCurrentSeenLocked()
	s.mu.Unlock()

	s.fireImpression(fire)
}

// markCurrentSeenLocked records the current ad in the seen-set and returns its
// ID when this is the first sighting. Caller holds the lock.
func (s *Slider) markCurrentSeenLocked() string {
	if len(s.ads) == 0 {
		return ""
	}
	id := s.ads[s.index].ID
	if _, ok := s.seen[id]; ok {
		return ""
	}
	s.seen[id] = struct{}{}
	return id
}

func (s *Slider) fireImpression(adID string) {
	if adID != "" && s.onImpression != nil {
		s.onImpression(adID)
	}
}

// syncTimer starts or stops the auto-advance goroutine to match the current
// list length. Only lists of two or more ads rotate.
func (s *Slider) syncTimer() {
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	want := len(s.ads) > 1
	running := s.done != nil
	if want == running {
		s.mu.Unlock()
		return
	}
	if !want {
		close(s.done)
		s.done = nil
		s.ticker.Stop()
		s.ticker = nil
		s.mu.Unlock()
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan struct{})
	ticker, done := s.ticker, s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Next()
			case <-done:
				return
			}
		}
	}()
}

// Close stops the auto-advance timer. The slider remains usable for manual
// navigation afterwards.
func (s *Slider) Close() {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
		s.done = nil
		s.ticker.Stop()
		s.ticker = nil
	}
	s.mu.Unlock()
}
