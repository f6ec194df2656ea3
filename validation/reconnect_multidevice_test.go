package validation

import (
	"testing"
)

// TestJoinFromSecondDeviceDisplacesFirst covers multi-device handling: a
// user already in a voice channel on one connection who joins again from
// a second connection should have the first connection displaced, not
// double-counted as a participant.
func TestJoinFromSecondDeviceDisplacesFirst(t *testing.T) {
	owner, device1, channelID := setupVoiceCommunity(t, "multidev")
	defer device1.Close()

	if err := device1.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("device 1 join: %v", err)
	}
	if _, err := device1.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("device 1 expected self join: %v", err)
	}
	device1.Drain()

	device2, err := ConnectWS(owner.Token)
	if err != nil {
		t.Fatalf("connect device 2: %v", err)
	}
	defer device2.Close()

	if err := device2.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("device 2 join: %v", err)
	}

	// Device 1 is told it was displaced, then sees its own session end.
	if _, err := device1.WaitFor("displaced_by_another_device", wsTimeout); err != nil {
		t.Fatalf("device 1 expected displaced_by_another_device: %v", err)
	}
	endedData, err := device1.WaitFor("voice_session_ended", wsTimeout)
	if err != nil {
		t.Fatalf("device 1 expected voice_session_ended: %v", err)
	}
	if jsonStr(parseData(endedData), "reason") != "displaced_by_another_device" {
		t.Fatalf("expected displaced_by_another_device reason, got %v", parseData(endedData))
	}

	// Device 2 becomes the sole designated voice connection: it should be
	// able to update voice state without error.
	if err := device2.Send("update_voice_state", map[string]any{
		"channel_id":   channelID,
		"is_camera_on": true,
	}); err != nil {
		t.Fatalf("device 2 update_voice_state: %v", err)
	}
	if _, err := device2.WaitFor("voice_state_changed", wsTimeout); err != nil {
		t.Fatalf("device 2 expected voice_state_changed: %v", err)
	}
}

// TestReconnectGraceResumesVoiceSession covers SPEC_FULL §12: a client
// that holds a reconnect token issued by join_voice_channel can redeem it
// via resume_voice_channel on a brand-new connection, without the server
// tearing down the voice participant record in between.
func TestReconnectGraceResumesVoiceSession(t *testing.T) {
	owner, ws1, channelID := setupVoiceCommunity(t, "resume")

	if err := ws1.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("join_voice_channel: %v", err)
	}
	tokData, err := ws1.WaitFor("voice_reconnect_token", wsTimeout)
	if err != nil {
		t.Fatalf("expected voice_reconnect_token: %v", err)
	}
	token := jsonStr(parseData(tokData), "token")
	if token == "" {
		t.Fatalf("expected non-empty reconnect token")
	}
	if _, err := ws1.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("expected self join: %v", err)
	}

	// Simulate a dropped connection: close the socket without an explicit
	// leave_voice_channel, which should start the reconnect-grace timer
	// rather than immediately tearing the participant down.
	ws1.Close()

	ws2, err := ConnectWS(owner.Token)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer ws2.Close()

	if err := ws2.Send("resume_voice_channel", map[string]any{
		"channel_id": channelID,
		"token":      token,
	}); err != nil {
		t.Fatalf("resume_voice_channel: %v", err)
	}
	if _, err := ws2.WaitFor("voice_resumed", wsTimeout); err != nil {
		t.Fatalf("expected voice_resumed: %v", err)
	}

	// The resumed connection is now the designated voice connection and
	// can update voice state.
	if err := ws2.Send("update_voice_state", map[string]any{
		"channel_id": channelID,
		"is_muted":   true,
	}); err != nil {
		t.Fatalf("update_voice_state after resume: %v", err)
	}
	if _, err := ws2.WaitFor("voice_state_changed", wsTimeout); err != nil {
		t.Fatalf("expected voice_state_changed after resume: %v", err)
	}
}

// TestResumeVoiceChannelRejectsWrongToken confirms a forged or stale
// token is rejected rather than silently granted.
func TestResumeVoiceChannelRejectsWrongToken(t *testing.T) {
	_, ws1, channelID := setupVoiceCommunity(t, "resumebad")
	defer ws1.Close()

	if err := ws1.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("join_voice_channel: %v", err)
	}
	if _, err := ws1.WaitFor("voice_reconnect_token", wsTimeout); err != nil {
		t.Fatalf("expected voice_reconnect_token: %v", err)
	}

	stranger, _ := RegisterAndLogin(t, "resumebadstranger")
	strangerWS, err := ConnectWS(stranger.Token)
	if err != nil {
		t.Fatalf("connect stranger ws: %v", err)
	}
	defer strangerWS.Close()

	if err := strangerWS.Send("resume_voice_channel", map[string]any{
		"channel_id": channelID,
		"token":      "not-a-real-token",
	}); err != nil {
		t.Fatalf("resume_voice_channel: %v", err)
	}
	errData, err := strangerWS.WaitFor("error", wsTimeout)
	if err != nil {
		t.Fatalf("expected an error rejecting the forged token: %v", err)
	}
	if jsonStr(parseData(errData), "code") != "unauthorized" {
		t.Fatalf("expected unauthorized error code, got %v", parseData(errData))
	}
}
