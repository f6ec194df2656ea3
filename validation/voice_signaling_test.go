package validation

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

const wsTimeout = 5 * time.Second

// setupVoiceCommunity creates a community with one voice channel and
// returns the owner's HTTP client, a websocket client already connected
// as the owner, and the channel id.
func setupVoiceCommunity(t *testing.T, prefix string) (*HTTPClient, *WSClient, string) {
	owner, _ := RegisterAndLogin(t, prefix+"owner")
	status, community, err := owner.PostJSON("/api/v1/communities", map[string]any{"name": uniqueName(prefix + "guild")})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create community: status=%d err=%v", status, err)
	}
	communityID := jsonStr(community, "id")

	status, channel, err := owner.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "voice-lobby", "type": "voice",
	})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create voice channel: status=%d err=%v", status, err)
	}
	channelID := jsonStr(channel, "id")

	ownerWS, err := ConnectWS(owner.Token)
	if err != nil {
		t.Fatalf("connect owner ws: %v", err)
	}
	return owner, ownerWS, channelID
}

// TestJoinVoiceChannelSignalingSequence exercises the handshake a client
// sees immediately after join_voice_channel: an SFU offer, an ssrc
// mappings batch (empty, since it's the first session), and a reconnect
// token, followed by the broadcast voice_participant_joined.
func TestJoinVoiceChannelSignalingSequence(t *testing.T) {
	_, ownerWS, channelID := setupVoiceCommunity(t, "voicejoin")
	defer ownerWS.Close()

	if err := ownerWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("send join_voice_channel: %v", err)
	}

	if _, err := ownerWS.WaitFor("sfu_offer", wsTimeout); err != nil {
		t.Fatalf("expected sfu_offer: %v", err)
	}
	if _, err := ownerWS.WaitFor("ssrc_mappings_batch", wsTimeout); err != nil {
		t.Fatalf("expected ssrc_mappings_batch: %v", err)
	}
	tokData, err := ownerWS.WaitFor("voice_reconnect_token", wsTimeout)
	if err != nil {
		t.Fatalf("expected voice_reconnect_token: %v", err)
	}
	if jsonStr(parseData(tokData), "token") == "" {
		t.Fatalf("expected a non-empty reconnect token")
	}
	joined, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout)
	if err != nil {
		t.Fatalf("expected voice_participant_joined: %v", err)
	}
	participant := jsonMap(parseData(joined), "participant")
	if jsonStr(participant, "channel_id") != channelID {
		t.Fatalf("expected participant channel_id %s, got %v", channelID, participant)
	}
}

// TestSecondJoinerSeesExistingMappings exercises a second participant
// joining the same voice channel: they should receive an ssrc mappings
// batch, exchange voice state updates, and see each other's join/leave
// events.
func TestSecondJoinerSeesExistingMappings(t *testing.T) {
	owner, ownerWS, channelID := setupVoiceCommunity(t, "voicejoin2")
	defer ownerWS.Close()

	if err := ownerWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("owner join: %v", err)
	}
	if _, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("owner self join event: %v", err)
	}
	ownerWS.Drain()

	// Look up the community id through the owner's community list so a
	// second user can join it.
	status, communities, err := owner.GetJSONArray("/api/v1/communities")
	if err != nil || status != http.StatusOK {
		t.Fatalf("list communities: status=%d err=%v", status, err)
	}
	var communityID string
	for _, raw := range communities {
		com, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, channels, err2 := owner.GetJSONArray("/api/v1/communities/" + jsonStr(com, "id") + "/channels"); err2 == nil {
			for _, rawCh := range channels {
				ch, ok := rawCh.(map[string]any)
				if ok && jsonStr(ch, "id") == channelID {
					communityID = jsonStr(com, "id")
				}
			}
		}
	}
	if communityID == "" {
		t.Fatalf("could not resolve community for channel %s", channelID)
	}

	guest, _ := RegisterAndLogin(t, "voicejoin2guest")
	if status, _, err := guest.PostJSON("/api/v1/communities/"+communityID+"/members", nil); err != nil || status != http.StatusOK {
		t.Fatalf("guest join community: status=%d err=%v", status, err)
	}

	guestWS, err := ConnectWS(guest.Token)
	if err != nil {
		t.Fatalf("connect guest ws: %v", err)
	}
	defer guestWS.Close()

	if err := guestWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("guest join_voice_channel: %v", err)
	}

	// The guest should receive ssrc_mappings_batch (possibly including the
	// owner's published tracks once negotiated) and its own join event.
	if _, err := guestWS.WaitFor("ssrc_mappings_batch", wsTimeout); err != nil {
		t.Fatalf("guest expected ssrc_mappings_batch: %v", err)
	}

	// The owner, still connected, should see the guest's join broadcast.
	if _, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("owner expected to see guest's voice_participant_joined: %v", err)
	}

	// update_voice_state: guest mutes, everyone in the community sees it.
	if err := guestWS.Send("update_voice_state", map[string]any{
		"channel_id": channelID,
		"is_muted":   true,
	}); err != nil {
		t.Fatalf("send update_voice_state: %v", err)
	}
	if _, err := ownerWS.WaitForMatch("voice_state_changed", func(raw json.RawMessage) bool {
		p := jsonMap(parseData(raw), "participant")
		return jsonBool(p, "is_muted")
	}, wsTimeout); err != nil {
		t.Fatalf("expected voice_state_changed for mute: %v", err)
	}

	// Guest leaves voice; owner should see voice_participant_left.
	if err := guestWS.Send("leave_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("leave_voice_channel: %v", err)
	}
	if _, err := ownerWS.WaitFor("voice_participant_left", wsTimeout); err != nil {
		t.Fatalf("expected voice_participant_left: %v", err)
	}
}

// TestRejectedSelfUnmuteSuppressesBroadcast exercises Scenario C
// (spec.md:298): server-muting a participant and then having them try to
// self-unmute must leave is_muted true and fire no voice_state_changed
// broadcast at all, rather than broadcasting a no-op change.
func TestRejectedSelfUnmuteSuppressesBroadcast(t *testing.T) {
	owner, ownerWS, channelID := setupVoiceCommunity(t, "voicesuppress")
	defer ownerWS.Close()

	if err := ownerWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("owner join: %v", err)
	}
	if _, err := ownerWS.WaitFor("voice_participant_joined", wsTimeout); err != nil {
		t.Fatalf("owner self join event: %v", err)
	}
	ownerWS.Drain()

	ownerID := ownerUserID(t, owner)

	if err := ownerWS.Send("server_mute_user", map[string]any{
		"channel_id": channelID, "target": ownerID, "value": true,
	}); err != nil {
		t.Fatalf("send server_mute_user: %v", err)
	}
	if _, err := ownerWS.WaitFor("server_voice_state_changed", wsTimeout); err != nil {
		t.Fatalf("expected server_voice_state_changed: %v", err)
	}

	// Self-unmute while server-muted: rejected silently, no broadcast.
	if err := ownerWS.Send("update_voice_state", map[string]any{
		"channel_id": channelID,
		"is_muted":   false,
	}); err != nil {
		t.Fatalf("send update_voice_state: %v", err)
	}
	if _, err := ownerWS.WaitFor("voice_state_changed", 1*time.Second); err == nil {
		t.Fatalf("expected no voice_state_changed broadcast for a rejected self-unmute")
	}

	// A real change (camera toggle) still broadcasts, and is_muted is still true.
	if err := ownerWS.Send("update_voice_state", map[string]any{
		"channel_id":   channelID,
		"is_camera_on": true,
	}); err != nil {
		t.Fatalf("send update_voice_state (camera): %v", err)
	}
	changed, err := ownerWS.WaitFor("voice_state_changed", wsTimeout)
	if err != nil {
		t.Fatalf("expected voice_state_changed for the camera toggle: %v", err)
	}
	participant := jsonMap(parseData(changed), "participant")
	if !jsonBool(participant, "is_muted") {
		t.Fatalf("expected is_muted to remain true after the rejected self-unmute, got %v", participant)
	}
}

// ChannelIDPayload is the d-payload shape shared by most voice ops.
func ChannelIDPayload(channelID string) map[string]any {
	return map[string]any{"channel_id": channelID}
}

// TestJoinVoiceChannelRequiresMembership rejects a non-member attempting
// to join a community's voice channel.
func TestJoinVoiceChannelRequiresMembership(t *testing.T) {
	_, _, channelID := setupVoiceCommunity(t, "voiceauthz")

	stranger, _ := RegisterAndLogin(t, "voiceauthzstranger")
	strangerWS, err := ConnectWS(stranger.Token)
	if err != nil {
		t.Fatalf("connect stranger ws: %v", err)
	}
	defer strangerWS.Close()

	if err := strangerWS.Send("join_voice_channel", ChannelIDPayload(channelID)); err != nil {
		t.Fatalf("send join_voice_channel: %v", err)
	}
	errData, err := strangerWS.WaitFor("error", wsTimeout)
	if err != nil {
		t.Fatalf("expected an error event rejecting the join: %v", err)
	}
	if jsonStr(parseData(errData), "code") != "unauthorized" {
		t.Fatalf("expected unauthorized error code, got %v", parseData(errData))
	}
}
