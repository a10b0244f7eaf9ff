package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs, emitting only when a
// phase changes or the completion percentage crosses a bucket boundary.
type ProgressSampler struct {
	bucketSize float64
	lastPhase  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLogCount reports whether done-of-total progress in phase should be logged.
func (s *ProgressSampler) ShouldLogCount(phase string, done, total int) bool {
	if total <= 0 {
		return s.ShouldLog(phase, -1)
	}
	return s.ShouldLog(phase, float64(done)*100/float64(total))
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means unknown and only phase changes are reported.
func (s *ProgressSampler) ShouldLog(phase string, percent float64) bool {
	if s == nil {
		return true
	}
	phase = strings.TrimSpace(phase)
	emit := false
	if phase != s.lastPhase {
		s.lastPhase = phase
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		if bucket := int(percent / s.bucketSize); bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}
