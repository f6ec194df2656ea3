package sfu

import "testing"

func testRoom(channelID string) *Room {
	reg := &Registry{viewers: NewViewerSet()}
	return newRoom(channelID, reg)
}

// Testable Property 2: no loopback — a sender never receives its own media.
func TestShouldForwardNoLoopback(t *testing.T) {
	r := testRoom("ch1")
	if r.ShouldForward(LabelMicrophone, "alice", "alice") {
		t.Fatalf("expected no loopback forwarding to the sender itself")
	}
	if r.ShouldForward(LabelScreenVideo, "alice", "alice") {
		t.Fatalf("expected no loopback forwarding for screen share either")
	}
}

// Scenario A / Testable Property 4: mic and camera auto-forward to every
// other participant with no opt-in required.
func TestShouldForwardAlwaysOnLabelsReachEverySibling(t *testing.T) {
	r := testRoom("ch1")
	if !r.ShouldForward(LabelMicrophone, "alice", "bob") {
		t.Fatalf("expected microphone to auto-forward")
	}
	if !r.ShouldForward(LabelCameraVideo, "alice", "bob") {
		t.Fatalf("expected camera video to auto-forward")
	}
}

// Scenario B / Testable Property 3: screen share only reaches a receiver
// who has explicitly opted in via WatchScreenShare.
func TestShouldForwardScreenShareRequiresOptIn(t *testing.T) {
	r := testRoom("ch1")
	if r.ShouldForward(LabelScreenVideo, "alice", "bob") {
		t.Fatalf("expected screen video withheld before any opt-in")
	}
	if r.ShouldForward(LabelScreenAudio, "alice", "bob") {
		t.Fatalf("expected screen audio withheld before any opt-in")
	}

	r.viewers.Add("ch1", "alice", "bob")
	if !r.ShouldForward(LabelScreenVideo, "alice", "bob") {
		t.Fatalf("expected screen video forwarded once bob opts in")
	}
	if !r.ShouldForward(LabelScreenAudio, "alice", "bob") {
		t.Fatalf("expected screen audio forwarded once bob opts in")
	}
	if r.ShouldForward(LabelScreenVideo, "alice", "carol") {
		t.Fatalf("expected screen video withheld from a non-opted-in viewer")
	}
}

func TestShouldForwardUnknownLabelDefaultsToForward(t *testing.T) {
	r := testRoom("ch1")
	if !r.ShouldForward(Label("unmapped"), "alice", "bob") {
		t.Fatalf("expected an unmapped label to forward conservatively")
	}
}
