package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	s := NewProgressSampler(0)
	if s.bucketSize != 10 {
		t.Errorf("bucketSize = %v, want 10", s.bucketSize)
	}
	if s.lastBucket != -1 {
		t.Errorf("lastBucket = %d, want -1", s.lastBucket)
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("staging FA", 50) {
		t.Error("ShouldLog on nil sampler should always return true")
	}
}

func TestProgressSamplerCountBuckets(t *testing.T) {
	s := NewProgressSampler(25)

	steps := []struct {
		done int
		want bool
	}{
		{0, true},
		{3, false},
		{10, true},
		{12, false},
		{20, true},
		{39, true},
		{40, true},
		{40, false},
	}
	for _, step := range steps {
		if got := s.ShouldLogCount("staging", step.done, 40); got != step.want {
			t.Fatalf("ShouldLogCount(%d/40) = %v, want %v", step.done, got, step.want)
		}
	}
}

func TestProgressSamplerPhaseChangeResetsBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog("FA", 95) {
		t.Fatal("first call should log")
	}
	if !s.ShouldLog(" MD ", 5) {
		t.Fatal("phase change should log")
	}
	if s.lastPhase != "MD" {
		t.Fatalf("lastPhase = %q, want MD (trimmed)", s.lastPhase)
	}
	if s.ShouldLog("MD", 8) {
		t.Fatal("same bucket in same phase should not log")
	}
}

func TestProgressSamplerUnknownTotal(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLogCount("discover", 3, 0) {
		t.Fatal("first phase event should log")
	}
	if s.ShouldLogCount("discover", 4, 0) {
		t.Fatal("unknown progress in same phase should not log")
	}
}
