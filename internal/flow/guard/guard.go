package guard

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	logx "palbot/pkg/logx"
)

// Service runs the four per-conversation anti-loop checks:
// sliding-window rate limit, consecutive-failure breaker, duplicate
// signature cache, and agent-chain fall-off. Each agent owns one Service.
//
// All checks share one lock; they are O(small) and never block on IO.
type Service struct {
	log logx.Logger

	mu     sync.Mutex
	cfg    Config
	states map[string]*convState

	// injectable for tests
	now       func() time.Time
	randFloat func() float64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		cfg:       cfg.withDefaults(),
		states:    map[string]*convState{},
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Apply swaps thresholds at runtime (config reload). Existing per-conversation
// state is kept; new thresholds take effect on the next check.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) state(conv string) *convState {
	st := s.states[conv]
	if st == nil {
		st = &convState{}
		s.states[conv] = st
	}
	st.lastTouch = s.now()
	return st
}

// ObserveHuman resets the agent-chain streak for the conversation.
// Call it for every human-originated event, responded to or not.
func (s *Service) ObserveHuman(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(conv).agentStreak = 0
}

// ObserveAgent bumps the consecutive-agent counter.
// Call it for every agent-originated event, responded to or not.
func (s *Service) ObserveAgent(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(conv).agentStreak++
}

// AllowAgentReply decides whether to engage with an agent-originated event,
// drawing the reply chance from the fall-off curve at the current streak.
// When paused is set, or when this agent replied to an agent within the
// cooldown window, the draw is bypassed and the reply is always allowed
// (the rate limiter still bounds frequency).
func (s *Service) AllowAgentReply(conv string, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conv)

	if paused {
		return true
	}
	if !st.lastAgentReply.IsZero() && s.now().Sub(st.lastAgentReply) < s.cfg.AgentReplyCooldown {
		return true
	}

	p := Probability(st.agentStreak, s.cfg.Falloff)
	return s.randFloat() < p
}

// RecordAgentReply marks that this agent just replied to an agent-originated
// event (starts the fall-off cooldown window).
func (s *Service) RecordAgentReply(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(conv).lastAgentReply = s.now()
}

// RateExceeded reports whether the conversation already received the maximum
// number of responses within the sliding window. It does not record anything.
func (s *Service) RateExceeded(conv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conv)
	s.pruneWindowLocked(st)
	return len(st.window) >= s.cfg.RateMax
}

// RecordResponse adds a send timestamp to the rate window.
// Call it only after a response was actually delivered.
func (s *Service) RecordResponse(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conv)
	s.pruneWindowLocked(st)
	st.window = append(st.window, s.now())
}

func (s *Service) pruneWindowLocked(st *convState) {
	cutoff := s.now().Add(-s.cfg.RateWindow)
	keep := st.window[:0]
	for _, t := range st.window {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	st.window = keep
}

// BreakerTripped reports whether the consecutive-failure breaker suppresses
// this response. Each suppression decrements the counter (floored at 0) so
// the breaker self-heals instead of silencing a conversation forever.
func (s *Service) BreakerTripped(conv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conv)
	if st.failures >= s.cfg.BreakerThreshold {
		st.failures--
		if st.failures < 0 {
			st.failures = 0
		}
		return true
	}
	return false
}

// RecordFailure notes an invalid candidate response (empty or duplicate).
func (s *Service) RecordFailure(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(conv).failures++
}

// RecordSuccess resets the failure counter after a validated response.
func (s *Service) RecordSuccess(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(conv).failures = 0
}

// IsDuplicate reports whether the response matches a recently sent one.
// Non-duplicates are added to the cache (FIFO, bounded).
func (s *Service) IsDuplicate(conv, response string) bool {
	sig := signature(response)
	if sig == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conv)
	for _, prev := range st.signatures {
		if prev == sig {
			return true
		}
	}
	st.signatures = append(st.signatures, sig)
	if n := len(st.signatures) - s.cfg.DuplicateCache; n > 0 {
		st.signatures = append(st.signatures[:0], st.signatures[n:]...)
	}
	return false
}

// signature normalizes a response for duplicate comparison: lowercased,
// trimmed, and capped at signatureLen characters so trivial suffix
// variations still match. The cap counts runes, never splitting a
// multibyte sequence.
func signature(response string) string {
	sig := strings.ToLower(strings.TrimSpace(response))
	if utf8.RuneCountInString(sig) > signatureLen {
		sig = string([]rune(sig)[:signatureLen])
	}
	return sig
}

// ReapIdle drops per-conversation state untouched since olderThan.
func (s *Service) ReapIdle(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for conv, st := range s.states {
		if st.lastTouch.Before(olderThan) {
			delete(s.states, conv)
			n++
		}
	}
	return n
}
