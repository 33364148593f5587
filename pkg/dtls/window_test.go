package dtls

import (
	"errors"
	"testing"
)

func TestReplayWindow(t *testing.T) {
	w := &replayWindow{}

	if err := w.update(0); err != nil {
		t.Fatalf("first sequence: %v", err)
	}
	if err := w.update(0); !errors.Is(err, errReplayedSequence) {
		t.Errorf("replayed 0: got %v", err)
	}

	if err := w.update(5); err != nil {
		t.Fatalf("advance to 5: %v", err)
	}
	if err := w.update(4); err != nil {
		t.Errorf("in-window 4: got %v", err)
	}
	if err := w.update(4); !errors.Is(err, errReplayedSequence) {
		t.Errorf("replayed 4: got %v", err)
	}
	if err := w.update(5); !errors.Is(err, errReplayedSequence) {
		t.Errorf("replayed high water: got %v", err)
	}
}

func TestReplayWindowStale(t *testing.T) {
	w := &replayWindow{}
	if err := w.update(70); err != nil {
		t.Fatal(err)
	}
	if err := w.update(6); !errors.Is(err, errStaleSequence) {
		t.Errorf("64 below high water: got %v", err)
	}
	if err := w.update(7); err != nil {
		t.Errorf("63 below high water: got %v", err)
	}
}

func TestReplayWindowLargeJump(t *testing.T) {
	w := &replayWindow{}
	for seq := uint64(0); seq < 8; seq++ {
		if err := w.update(seq); err != nil {
			t.Fatal(err)
		}
	}
	// a jump past the window width must clear every old mark
	if err := w.update(200); err != nil {
		t.Fatal(err)
	}
	if err := w.update(199); err != nil {
		t.Errorf("fresh in-window sequence after jump: got %v", err)
	}
	if err := w.update(100); !errors.Is(err, errStaleSequence) {
		t.Errorf("below shifted window: got %v", err)
	}
}

func TestReplayWindowReset(t *testing.T) {
	w := &replayWindow{}
	if err := w.update(3); err != nil {
		t.Fatal(err)
	}
	w.reset()
	if err := w.update(0); err != nil {
		t.Errorf("sequence 0 after epoch reset: got %v", err)
	}
}
