package tz

import (
	"fmt"
	"sync"
)

// Session is the display zone state of one viewer conversation. It lives in request or
// conversation scope; nothing here is process-wide.
type Session struct {
	mu         sync.Mutex
	zone       string
	source     Source
	confidence Confidence
}

func NewSession(initial Detection) *Session {
	s := &Session{}
	if IsValidZone(initial.Zone) {
		s.zone = initial.Zone
		s.source = initial.Source
		s.confidence = initial.Confidence
	}
	return s
}

func (s *Session) Current() Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Detection{Zone: s.zone, Confidence: s.confidence, Source: s.source}
}

// SelectManual pins the zone chosen by the user. Later detections never replace it.
func (s *Session) SelectManual(zone string) error {
	if !IsValidZone(zone) {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zone = zone
	s.source = SourceManual
	s.confidence = ConfidenceHigh
	return nil
}

// ApplyDetection adopts d unless the user picked a zone manually. An empty session takes any
// valid detection; otherwise only high-confidence results replace the current zone.
// It reports whether the displayed zone changed.
func (s *Session) ApplyDetection(d Detection) bool {
	if d.Source == SourceManual || !IsValidZone(d.Zone) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == SourceManual {
		return false
	}
	if s.zone != "" && d.Confidence != ConfidenceHigh {
		return false
	}
	changed := s.zone != d.Zone
	s.zone = d.Zone
	s.source = d.Source
	s.confidence = d.Confidence
	return changed
}
