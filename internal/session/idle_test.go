package session

import (
	"testing"
	"time"
)

func TestIdleDuration(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name       string
		startedAt  time.Time
		lastInput  time.Time
		lastOutput time.Time
		wantMax    time.Duration
	}{
		{
			name:      "JustStarted",
			startedAt: now,
			wantMax:   50 * time.Millisecond,
		},
		{
			name:       "OutputOnly",
			startedAt:  now.Add(-time.Hour),
			lastOutput: now.Add(-5 * time.Second),
			wantMax:    5*time.Second + 50*time.Millisecond,
		},
		{
			name:      "InputOnly",
			startedAt: now.Add(-time.Hour),
			lastInput: now.Add(-3 * time.Second),
			wantMax:   3*time.Second + 50*time.Millisecond,
		},
		{
			name:       "BothIO_OutputMoreRecent",
			startedAt:  now.Add(-time.Hour),
			lastInput:  now.Add(-10 * time.Second),
			lastOutput: now.Add(-2 * time.Second),
			wantMax:    2*time.Second + 50*time.Millisecond,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Session{StartedAt: tc.startedAt, lastInput: tc.lastInput, lastOutput: tc.lastOutput}
			d := s.idleDuration()
			if d < 0 || d > tc.wantMax {
				t.Fatalf("idleDuration() = %v, want <= %v", d, tc.wantMax)
			}
		})
	}
}

func TestIsWaitingLocked(t *testing.T) {
	now := time.Now()

	active := &Session{StartedAt: now, lastOutput: now, hasLastByte: true, lastByte: '$'}
	if active.isWaitingLocked() {
		t.Fatalf("freshly active session should not be waiting")
	}

	idlePrompt := &Session{
		StartedAt:   now.Add(-time.Hour),
		lastOutput:  now.Add(-5 * time.Second),
		hasLastByte: true,
		lastByte:    '$',
	}
	if !idlePrompt.isWaitingLocked() {
		t.Fatalf("idle session ending on a printable byte should be waiting")
	}

	idleNewline := &Session{
		StartedAt:   now.Add(-time.Hour),
		lastOutput:  now.Add(-5 * time.Second),
		hasLastByte: true,
		lastByte:    '\n',
	}
	if idleNewline.isWaitingLocked() {
		t.Fatalf("idle session ending on a newline should not be waiting")
	}

	noBytesYet := &Session{StartedAt: now.Add(-time.Hour)}
	if noBytesYet.isWaitingLocked() {
		t.Fatalf("session with no output yet should not be waiting")
	}
}
