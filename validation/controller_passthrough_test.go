package validation

import (
	"testing"
)

// joinCommunityAndVoice registers a fresh user, joins the given community
// as a member, connects a websocket, and joins the given voice channel.
func joinCommunityAndVoice(t *testing.T, prefix, communityID, channelID string) (*HTTPClient, *WSClient) {
	user, _ := RegisterAndLogin(t, prefix)
	status, _, err := user.PostJSON("/api/v1/communities/"+communityID+"/members", nil)
	if err != nil || status != 200 {
		t.Fatalf("%s join community: status=%d err=%v", prefix, status, err)
	}
	ws, err := ConnectWS(user.Token)
	if err != nil {
		t.Fatalf("%s connect ws: %v", prefix, err)
	}
	if err := ws.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("%s join_voice_channel: %v", prefix, err)
	}
	if _, err := ws.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("%s expected self voice_participant_joined: %v", prefix, err)
	}
	ws.Drain()
	return user, ws
}

// TestControllerPassthroughLifecycle walks a guest through requesting,
// being accepted for, and later losing controller-passthrough access to
// a host's game, covering the request/accept/state/rumble/stop cycle
// from the C8 state machine.
func TestControllerPassthroughLifecycle(t *testing.T) {
	owner, ownerWS, channelID := setupVoiceCommunity(t, "ctrl")
	defer ownerWS.Close()

	status, communities, err := owner.GetJSONArray("/api/v1/communities")
	if err != nil || status != 200 {
		t.Fatalf("list communities: status=%d err=%v", status, err)
	}
	communityID := jsonStr(communities[0].(map[string]any), "id")

	if err := ownerWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("owner join_voice_channel: %v", err)
	}
	if _, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("owner self join: %v", err)
	}
	ownerWS.Drain()

	_, guestWS := joinCommunityAndVoice(t, "ctrlguest", communityID, channelID)
	defer guestWS.Close()

	// Owner sees the guest's join.
	if _, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("owner expected guest join: %v", err)
	}

	hostID := ownerUserID(t, owner)

	// Request access — guest asks, host sees the request.
	if err := guestWS.Send("request_controller_access", map[string]any{
		"channel_id": channelID,
		"host_id":    hostID,
	}); err != nil {
		t.Fatalf("request_controller_access: %v", err)
	}
	reqData, err := ownerWS.WaitFor("controller_access_requested", wsTimeout)
	if err != nil {
		t.Fatalf("expected controller_access_requested: %v", err)
	}
	guestUserID := jsonStr(parseData(reqData), "guest_id")
	if guestUserID == "" {
		t.Fatalf("expected guest_id in controller_access_requested payload")
	}

	// Host accepts at slot 0.
	if err := ownerWS.Send("accept_controller_access", map[string]any{
		"channel_id": channelID,
		"guest_id":   guestUserID,
		"slot":       0,
	}); err != nil {
		t.Fatalf("accept_controller_access: %v", err)
	}
	if _, err := guestWS.WaitFor("controller_access_accepted", wsTimeout); err != nil {
		t.Fatalf("guest expected controller_access_accepted: %v", err)
	}
	if _, err := ownerWS.WaitFor("controller_access_accepted", wsTimeout); err != nil {
		t.Fatalf("host expected controller_access_accepted echo: %v", err)
	}

	// Guest streams controller state to the host.
	if err := guestWS.Send("send_controller_state", map[string]any{
		"channel_id": channelID,
		"host_id":    hostID,
		"state":      map[string]any{"buttons": 7, "stick_x": 0.5},
	}); err != nil {
		t.Fatalf("send_controller_state: %v", err)
	}
	stateData, err := ownerWS.WaitFor("controller_state_received", wsTimeout)
	if err != nil {
		t.Fatalf("host expected controller_state_received: %v", err)
	}
	if jsonStr(parseData(stateData), "guest_id") != guestUserID {
		t.Fatalf("expected guest_id %s in controller_state_received, got %v", guestUserID, parseData(stateData))
	}

	// Host sends a rumble event back down to the guest's slot.
	if err := ownerWS.Send("send_controller_rumble", map[string]any{
		"channel_id": channelID,
		"guest_id":   guestUserID,
		"slot":       0,
		"low_freq":   0.2,
		"high_freq":  0.8,
	}); err != nil {
		t.Fatalf("send_controller_rumble: %v", err)
	}
	if _, err := guestWS.WaitFor("controller_rumble_received", wsTimeout); err != nil {
		t.Fatalf("guest expected controller_rumble_received: %v", err)
	}

	// Host stops the session; both sides see it end.
	if err := ownerWS.Send("stop_controller_access", map[string]any{
		"channel_id": channelID,
		"host_id":    hostID,
		"guest_id":   guestUserID,
	}); err != nil {
		t.Fatalf("stop_controller_access: %v", err)
	}
	if _, err := guestWS.WaitFor("controller_access_stopped", wsTimeout); err != nil {
		t.Fatalf("guest expected controller_access_stopped: %v", err)
	}

	// A second rumble after stop should be rejected as unauthorized
	// since the link is back to None.
	if err := ownerWS.Send("send_controller_rumble", map[string]any{
		"channel_id": channelID,
		"guest_id":   guestUserID,
		"slot":       0,
		"low_freq":   0.1,
		"high_freq":  0.9,
	}); err != nil {
		t.Fatalf("send_controller_rumble after stop: %v", err)
	}
	errData, err := ownerWS.WaitFor("error", wsTimeout)
	if err != nil {
		t.Fatalf("expected error rejecting rumble after stop: %v", err)
	}
	if jsonStr(parseData(errData), "code") != "unauthorized" {
		t.Fatalf("expected unauthorized error code, got %v", parseData(errData))
	}
}

// ownerUserID resolves the community owner's own user id by issuing a
// fresh auth/login round trip isn't possible without storing credentials,
// so instead it uses the communities list's owner_id field.
func ownerUserID(t *testing.T, owner *HTTPClient) string {
	status, communities, err := owner.GetJSONArray("/api/v1/communities")
	if err != nil || status != 200 {
		t.Fatalf("list communities: status=%d err=%v", status, err)
	}
	if len(communities) == 0 {
		t.Fatalf("expected at least one community")
	}
	return jsonStr(communities[0].(map[string]any), "owner_id")
}
