package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "upload/a.mp4") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSampler_Buckets(t *testing.T) {
	s := NewProgressSampler(25)

	if !s.ShouldLog(0, "upload/a.mp4") {
		t.Error("first event should log")
	}
	if s.ShouldLog(10, "upload/a.mp4") {
		t.Error("same bucket should not log")
	}
	if !s.ShouldLog(26, "upload/a.mp4") {
		t.Error("crossing into the next bucket should log")
	}
	if s.ShouldLog(20, "upload/a.mp4") {
		t.Error("moving backwards should not log")
	}
	if !s.ShouldLog(140, "upload/a.mp4") {
		t.Error("completion should log")
	}
	if s.ShouldLog(100, "upload/a.mp4") {
		t.Error("percent above 100 should clamp to the final bucket")
	}
}

func TestProgressSampler_SubjectChangeResetsBucket(t *testing.T) {
	s := NewProgressSampler(25)
	s.ShouldLog(80, "upload/a.mp4")
	if !s.ShouldLog(10, "upload/b.mp4") {
		t.Error("new subject should log")
	}
	if s.lastSubject != "upload/b.mp4" {
		t.Errorf("lastSubject = %q", s.lastSubject)
	}
	if s.ShouldLog(15, "upload/b.mp4") {
		t.Error("same bucket for new subject should not log")
	}
	if s.ShouldLog(-1, "") {
		t.Error("unknown percent without subject should not log")
	}

	s.Reset()
	if !s.ShouldLog(0, "upload/b.mp4") {
		t.Error("reset should allow the subject to log again")
	}
}
