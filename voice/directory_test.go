package voice

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestJoinLeaveSingleChannelInvariant(t *testing.T) {
	d := NewDirectory()

	d.Join("ch1", "alice")
	if ch, ok := d.CurrentChannelOf("alice"); !ok || ch != "ch1" {
		t.Fatalf("expected alice in ch1, got ch=%q ok=%v", ch, ok)
	}

	// Joining a second channel evicts the first — a user is in at most one.
	d.Join("ch2", "alice")
	if ch, ok := d.CurrentChannelOf("alice"); !ok || ch != "ch2" {
		t.Fatalf("expected alice moved to ch2, got ch=%q ok=%v", ch, ok)
	}
	if _, ok := d.Get("ch1", "alice"); ok {
		t.Fatalf("expected alice to no longer be listed under ch1")
	}
	if len(d.List("ch1")) != 0 {
		t.Fatalf("expected ch1's roster to be empty after the move")
	}
	if len(d.List("ch2")) != 1 {
		t.Fatalf("expected ch2's roster to contain exactly alice")
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")
	d.Leave("ch1", "alice")
	d.Leave("ch1", "alice") // no-op, must not panic
	if _, ok := d.CurrentChannelOf("alice"); ok {
		t.Fatalf("expected alice to no longer be in voice")
	}

	// Leaving the wrong channel for a user who is elsewhere is also a no-op.
	d.Join("ch2", "bob")
	d.Leave("ch1", "bob")
	if ch, ok := d.CurrentChannelOf("bob"); !ok || ch != "ch2" {
		t.Fatalf("expected bob to remain in ch2, got ch=%q ok=%v", ch, ok)
	}
}

func TestLeaveAllReturnsPriorChannel(t *testing.T) {
	d := NewDirectory()
	if ch := d.LeaveAll("nobody"); ch != "" {
		t.Fatalf("expected LeaveAll on an absent user to return empty, got %q", ch)
	}
	d.Join("ch1", "alice")
	if ch := d.LeaveAll("alice"); ch != "ch1" {
		t.Fatalf("expected LeaveAll to return ch1, got %q", ch)
	}
	if _, ok := d.CurrentChannelOf("alice"); ok {
		t.Fatalf("expected alice to be gone after LeaveAll")
	}
}

func TestUpdateSelfStateRejectsSelfUnmuteWhileServerMuted(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")
	if _, err := d.SetServerMute("ch1", "alice", true); err != nil {
		t.Fatalf("SetServerMute: %v", err)
	}

	p, err := d.UpdateSelfState("ch1", "alice", StatePatch{IsMuted: boolPtr(false)})
	if err != nil {
		t.Fatalf("UpdateSelfState: %v", err)
	}
	if !p.IsMuted {
		t.Fatalf("expected self-unmute to be rejected while server-muted")
	}
}

func TestUpdateSelfStateAllowsUnrelatedFieldsWhileServerMuted(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")
	d.SetServerMute("ch1", "alice", true)

	p, err := d.UpdateSelfState("ch1", "alice", StatePatch{IsCameraOn: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateSelfState: %v", err)
	}
	if !p.IsCameraOn {
		t.Fatalf("expected camera flag to apply regardless of server-mute")
	}
	if !p.IsServerMuted {
		t.Fatalf("expected server-mute to remain set")
	}
}

func TestSetServerDeafenForcesServerMute(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")

	p, err := d.SetServerDeafen("ch1", "alice", true)
	if err != nil {
		t.Fatalf("SetServerDeafen: %v", err)
	}
	if !p.IsServerDeafened || !p.IsDeafened {
		t.Fatalf("expected deafen flags set, got %+v", p)
	}
	if !p.IsServerMuted || !p.IsMuted {
		t.Fatalf("expected server-deafen to force server-mute too, got %+v", p)
	}

	p, err = d.SetServerDeafen("ch1", "alice", false)
	if err != nil {
		t.Fatalf("SetServerDeafen(false): %v", err)
	}
	if p.IsServerDeafened || p.IsDeafened {
		t.Fatalf("expected deafen flags cleared, got %+v", p)
	}
	// Clearing deafen does not itself clear the independently-forced mute.
	if !p.IsServerMuted {
		t.Fatalf("expected server-mute to remain set after clearing deafen, got %+v", p)
	}
}

func TestMovePreservesStateFlags(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")
	d.UpdateSelfState("ch1", "alice", StatePatch{IsCameraOn: boolPtr(true)})

	moved, from, err := d.Move("alice", "ch2")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if from != "ch1" {
		t.Fatalf("expected Move to report ch1 as the origin, got %q", from)
	}
	if moved.ChannelID != "ch2" {
		t.Fatalf("expected moved participant in ch2, got %q", moved.ChannelID)
	}
	if !moved.IsCameraOn {
		t.Fatalf("expected camera-on flag to survive the move")
	}
	if len(d.List("ch1")) != 0 || len(d.List("ch2")) != 1 {
		t.Fatalf("expected roster membership to follow the move")
	}
}

func TestMoveRejectsUserNotInVoice(t *testing.T) {
	d := NewDirectory()
	if _, _, err := d.Move("ghost", "ch2"); err == nil {
		t.Fatalf("expected Move to fail for a user not currently in voice")
	}
}

func TestGetReturnsACopyNotAnAlias(t *testing.T) {
	d := NewDirectory()
	d.Join("ch1", "alice")
	p1, _ := d.Get("ch1", "alice")
	p1.IsMuted = true

	p2, _ := d.Get("ch1", "alice")
	if p2.IsMuted {
		t.Fatalf("expected Get to return an independent copy, mutation leaked into directory state")
	}
}
