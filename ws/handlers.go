package ws

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/snacka/voicerelay/sfu"
	"github.com/snacka/voicerelay/voice"
)

var errNotInVoiceChannel = errors.New("not currently in this voice channel")

const screenAudioLabel = sfu.LabelScreenAudio

func isActive(state voice.ControllerState) bool {
	return state == voice.ControllerActive
}

func (h *Hub) HandleMessage(client *Client, msg *Message) {
	switch msg.Op {
	case "join_server":
		h.handleJoinServer(client, msg.Data)
	case "leave_server":
		h.handleLeaveServer(client, msg.Data)
	case "join_channel":
		h.handleJoinChannel(client, msg.Data)
	case "leave_channel":
		h.handleLeaveChannel(client, msg.Data)
	case "send_typing":
		h.handleSendTyping(client, msg.Data)
	case "send_dm_typing":
		h.handleSendDMTyping(client, msg.Data)
	case "send_conversation_typing":
		h.handleSendConversationTyping(client, msg.Data)
	case "join_voice_channel":
		h.handleJoinVoiceChannel(client, msg.Data)
	case "leave_voice_channel":
		h.handleLeaveVoiceChannel(client, msg.Data)
	case "resume_voice_channel":
		h.handleResumeVoiceChannel(client, msg.Data)
	case "send_sfu_answer":
		h.handleSendSfuAnswer(client, msg.Data)
	case "send_sfu_ice_candidate":
		h.handleSendSfuIceCandidate(client, msg.Data)
	case "update_voice_state":
		h.handleUpdateVoiceState(client, msg.Data)
	case "update_speaking_state":
		h.handleUpdateSpeakingState(client, msg.Data)
	case "server_mute_user":
		h.handleServerMuteUser(client, msg.Data)
	case "server_deafen_user":
		h.handleServerDeafenUser(client, msg.Data)
	case "move_user":
		h.handleMoveUser(client, msg.Data)
	case "watch_screen_share":
		h.handleWatchScreenShare(client, msg.Data)
	case "stop_watching_screen_share":
		h.handleStopWatchingScreenShare(client, msg.Data)
	case "send_annotation":
		h.handleSendAnnotation(client, msg.Data)
	case "clear_annotations":
		h.handleClearAnnotations(client, msg.Data)
	case "request_controller_access":
		h.handleRequestControllerAccess(client, msg.Data)
	case "accept_controller_access":
		h.handleAcceptControllerAccess(client, msg.Data)
	case "decline_controller_access":
		h.handleDeclineControllerAccess(client, msg.Data)
	case "stop_controller_access":
		h.handleStopControllerAccess(client, msg.Data)
	case "send_controller_state":
		h.handleSendControllerState(client, msg.Data)
	case "send_controller_rumble":
		h.handleSendControllerRumble(client, msg.Data)
	case "ping":
		pong, _ := NewMessage("pong", nil)
		client.Send(pong)
	default:
		log.Printf("ws: unhandled op %q from %s", msg.Op, client.UserID)
	}
}

func (h *Hub) sendError(client *Client, code, message string) {
	msg, _ := NewMessage("error", ErrorData{Code: code, Message: message})
	client.Send(msg)
}

// --- membership/typing: lightweight, no durable per-connection group
// state — routing is resolved by looking up community/channel membership
// on each call, per the teacher's query-on-demand style. ---

func (h *Hub) handleJoinServer(client *Client, data json.RawMessage) {
	var d CommunityIDData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if role, err := h.DB.GetMemberRole(d.CommunityID, client.UserID); err != nil || role == "" {
		h.sendError(client, "unauthorized", "not a member of this community")
	}
}

func (h *Hub) handleLeaveServer(client *Client, data json.RawMessage) {
	// No per-connection subscription state to tear down; accepted as a no-op.
}

func (h *Hub) handleJoinChannel(client *Client, data json.RawMessage) {
	var d ChannelIDData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if _, err := h.DB.GetChannelByID(d.ChannelID); err != nil {
		h.sendError(client, "not_found", "channel does not exist")
	}
}

func (h *Hub) handleLeaveChannel(client *Client, data json.RawMessage) {
}

func (h *Hub) handleSendTyping(client *Client, data json.RawMessage) {
	var d ChannelIDData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	msg, err := NewMessage("user_typing", UserTypingData{ChannelID: d.ChannelID, UserID: client.UserID})
	if err != nil {
		return
	}
	h.broadcastToChannelCommunity(d.ChannelID, msg)
}

func (h *Hub) handleSendDMTyping(client *Client, data json.RawMessage) {
	var d DMTypingData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if !h.shareCommunity(client.UserID, d.RecipientUserID) {
		h.sendError(client, "unauthorized", "no shared community")
		return
	}
	msg, err := NewMessage("dm_user_typing", DMUserTypingData{UserID: client.UserID})
	if err != nil {
		return
	}
	h.sendTo(d.RecipientUserID, msg)
}

// handleSendConversationTyping accepts the op but cannot route it: resolving
// who else is in a conversation is MessageStore's job, and MessageStore has
// no backing implementation here (out of scope). Accepted as a no-op rather
// than rejected, since the op itself is valid protocol.
func (h *Hub) handleSendConversationTyping(client *Client, data json.RawMessage) {
	var d ConversationTypingData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	_ = d
}

// shareCommunity reports whether two users are both members of at least
// one common community — required before any DM-adjacent signaling.
func (h *Hub) shareCommunity(a, b string) bool {
	mine, err := h.DB.GetCommunitiesForUser(a)
	if err != nil {
		return false
	}
	for _, com := range mine {
		if role, err := h.DB.GetMemberRole(com.ID, b); err == nil && role != "" {
			return true
		}
	}
	return false
}

// --- voice ---

func (h *Hub) handleJoinVoiceChannel(client *Client, data json.RawMessage) {
	var d ChannelIDData
	if json.Unmarshal(data, &d) != nil {
		return
	}

	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		h.sendError(client, "not_found", "channel does not exist")
		return
	}
	if ch.Type != "voice" {
		h.sendError(client, "unauthorized", "channel is not a voice channel")
		return
	}
	if role, err := h.DB.GetMemberRole(ch.CommunityID, client.UserID); err != nil || role == "" {
		h.sendError(client, "unauthorized", "not a member of this community")
		return
	}

	if priorChannel, ok := h.Voice.CurrentChannelOf(client.UserID); ok {
		displaced, _ := NewMessage("displaced_by_another_device", DisplacedByAnotherDeviceData{ChannelID: priorChannel})
		h.sendToOtherConns(client.UserID, client.ConnID, displaced)
		h.leaveVoiceChannel(client.UserID, priorChannel, ReasonDisplaced)
	}

	h.setVoiceConn(client.UserID, client.ConnID)

	room := h.Registry.GetOrCreateRoom(d.ChannelID)
	if _, err := room.CreateSession(client.UserID); err != nil {
		h.sendError(client, "internal", "failed to create voice session")
		h.clearVoiceConn(client.UserID)
		return
	}

	if batch, err := NewMessage("ssrc_mappings_batch", SsrcMappingsBatchData{
		ChannelID: d.ChannelID,
		Mappings:  ssrcMappingsFor(room),
	}); err == nil {
		client.Send(batch)
	}

	if token, err := h.issueReconnectToken(client.UserID, d.ChannelID); err == nil {
		if tokMsg, err := NewMessage("voice_reconnect_token", VoiceReconnectTokenData{ChannelID: d.ChannelID, Token: token}); err == nil {
			client.Send(tokMsg)
		}
	}

	participant := h.Voice.Join(d.ChannelID, client.UserID)

	joined, err := NewMessage("voice_participant_joined", VoiceParticipantJoinedData{
		ChannelID:   d.ChannelID,
		Participant: participantPayload(participant),
	})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, joined)
	}
}

// handleResumeVoiceChannel lets a client that dropped and reconnected
// within ReconnectGrace reclaim its designated voice connection without a
// fresh JoinVoiceChannel (SPEC_FULL §12), instead of the reap that
// onDisconnected would otherwise schedule.
func (h *Hub) handleResumeVoiceChannel(client *Client, data json.RawMessage) {
	var d ResumeVoiceChannelData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	payload, err := h.openReconnectToken(d.Token)
	if err != nil || payload.UserID != client.UserID || payload.ChannelID != d.ChannelID {
		h.sendError(client, "unauthorized", "invalid reconnect token")
		return
	}
	if time.Now().Unix() > payload.ExpiresAt {
		h.sendError(client, "unauthorized", "reconnect token expired")
		return
	}
	if !h.resumeReconnectGrace(client.UserID, d.ChannelID) {
		h.sendError(client, "unauthorized", "no pending voice session to resume")
		return
	}

	h.setVoiceConn(client.UserID, client.ConnID)

	room, ok := h.Registry.GetRoom(d.ChannelID)
	if !ok {
		h.sendError(client, "internal", "voice session no longer exists")
		return
	}
	if msg, err := NewMessage("voice_resumed", VoiceResumedData{
		ChannelID: d.ChannelID,
		Mappings:  ssrcMappingsFor(room),
	}); err == nil {
		client.Send(msg)
	}
}

func (h *Hub) handleLeaveVoiceChannel(client *Client, data json.RawMessage) {
	var d ChannelIDData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	h.leaveVoiceChannel(client.UserID, d.ChannelID, ReasonLeftVoiceChannel)
}

// leaveVoiceChannel is the shared implementation behind an explicit
// LeaveVoiceChannel call, a disconnect, a displacement, and a Failed
// session reap. Always succeeds and never waits on the network.
func (h *Hub) leaveVoiceChannel(userID, channelID, reason string) {
	h.resumeReconnectGrace(userID, channelID) // cancel any pending grace timer, it's moot now
	if room, ok := h.Registry.GetRoom(channelID); ok {
		room.RemoveSession(userID)
	}
	h.clearVoiceConn(userID)
	h.Voice.Leave(channelID, userID)

	ch, err := h.DB.GetChannelByID(channelID)
	if err == nil {
		left, err := NewMessage("voice_participant_left", VoiceParticipantLeftData{ChannelID: channelID, UserID: userID})
		if err == nil {
			h.broadcastToCommunity(ch.CommunityID, left)
		}
	}

	ended, err := NewMessage("voice_session_ended", VoiceSessionEndedData{ChannelID: channelID, Reason: reason})
	if err == nil {
		h.sendToOtherConns(userID, "", ended)
	}

	for _, link := range h.Controllers.LeftChannel(channelID, userID) {
		stopped, err := NewMessage("controller_access_stopped", ControllerAccessStoppedData{
			ChannelID: channelID, HostID: link.HostID, GuestID: link.GuestID,
		})
		if err != nil {
			continue
		}
		h.sendToVoiceConn(link.HostID, stopped)
		h.sendToVoiceConn(link.GuestID, stopped)
	}
}

func (h *Hub) handleSendSfuAnswer(client *Client, data json.RawMessage) {
	var d SfuAnswerData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	if err := h.Registry.HandleAnswer(client.UserID, d.SDP); err != nil {
		log.Printf("ws: send_sfu_answer: %v", err)
	}
}

func (h *Hub) handleSendSfuIceCandidate(client *Client, data json.RawMessage) {
	var d SfuIceCandidateData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	if err := h.Registry.HandleICE(client.UserID, d.Candidate); err != nil {
		log.Printf("ws: send_sfu_ice_candidate: %v", err)
	}
}

func (h *Hub) requireInVoice(userID, channelID string) error {
	current, ok := h.Voice.CurrentChannelOf(userID)
	if !ok || current != channelID {
		return errNotInVoiceChannel
	}
	return nil
}

func (h *Hub) handleUpdateVoiceState(client *Client, data json.RawMessage) {
	var d VoiceStatePatchData
	if json.Unmarshal(data, &d) != nil {
		return
	}

	before, ok := h.Voice.Get(d.ChannelID, client.UserID)
	if !ok {
		h.sendError(client, "unauthorized", "not in this voice channel")
		return
	}

	after, err := h.Voice.UpdateSelfState(d.ChannelID, client.UserID, voice.StatePatch{
		IsMuted:             d.IsMuted,
		IsDeafened:          d.IsDeafened,
		IsCameraOn:          d.IsCameraOn,
		IsScreenSharing:     d.IsScreenSharing,
		ScreenShareHasAudio: d.ScreenShareHasAudio,
	})
	if err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}

	ch, chErr := h.DB.GetChannelByID(d.ChannelID)
	if chErr != nil {
		return
	}

	// A rejected self-unmute/undeafen while server-muted/deafened leaves
	// every field unchanged; UpdateSelfState still returns nil error for
	// that case (it's a no-op, not a rejection), so the broadcast itself
	// must be gated on something having actually changed.
	if *before != *after {
		changed, err := NewMessage("voice_state_changed", VoiceStateChangedData{
			ChannelID:   d.ChannelID,
			Participant: participantPayload(after),
		})
		if err == nil {
			h.broadcastToCommunity(ch.CommunityID, changed)
		}
	}

	if before.IsCameraOn != after.IsCameraOn {
		h.emitVideoStreamEvent(ch.CommunityID, d.ChannelID, client.UserID, VideoKindCamera, after.IsCameraOn)
	}
	if before.IsScreenSharing != after.IsScreenSharing {
		h.emitVideoStreamEvent(ch.CommunityID, d.ChannelID, client.UserID, VideoKindScreenShare, after.IsScreenSharing)
		if !after.IsScreenSharing {
			if room, ok := h.Registry.GetRoom(d.ChannelID); ok {
				room.StopScreenShare(client.UserID)
			}
		}
	}
}

func (h *Hub) emitVideoStreamEvent(communityID, channelID, userID, kind string, started bool) {
	op := "video_stream_stopped"
	if started {
		op = "video_stream_started"
	}
	msg, err := NewMessage(op, VideoStreamEventData{ChannelID: channelID, UserID: userID, Kind: kind})
	if err != nil {
		return
	}
	h.broadcastToCommunity(communityID, msg)
}

func (h *Hub) handleUpdateSpeakingState(client *Client, data json.RawMessage) {
	var d SpeakingStateData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if _, ok := h.Voice.Get(d.ChannelID, client.UserID); !ok {
		return
	}
	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		return
	}
	msg, err := NewMessage("speaking_state_changed", SpeakingStateChangedData{
		ChannelID: d.ChannelID, UserID: client.UserID, IsSpeaking: d.IsSpeaking,
	})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, msg)
	}
}

func (h *Hub) handleServerMuteUser(client *Client, data json.RawMessage) {
	var d ServerMuteUserData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		h.sendError(client, "not_found", "channel does not exist")
		return
	}
	if !h.Permissions.CanServerModerate(client.UserID, ch.CommunityID) {
		h.sendError(client, "forbidden", "not an admin or owner")
		return
	}
	if _, err := h.Voice.SetServerMute(d.ChannelID, d.Target, d.Value); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("server_voice_state_changed", ServerVoiceStateChangedData{
		ChannelID: d.ChannelID, UserID: d.Target, Field: "server_muted", Value: d.Value,
	})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, msg)
	}
}

func (h *Hub) handleServerDeafenUser(client *Client, data json.RawMessage) {
	var d ServerDeafenUserData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		h.sendError(client, "not_found", "channel does not exist")
		return
	}
	if !h.Permissions.CanServerModerate(client.UserID, ch.CommunityID) {
		h.sendError(client, "forbidden", "not an admin or owner")
		return
	}
	if _, err := h.Voice.SetServerDeafen(d.ChannelID, d.Target, d.Value); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("server_voice_state_changed", ServerVoiceStateChangedData{
		ChannelID: d.ChannelID, UserID: d.Target, Field: "server_deafened", Value: d.Value,
	})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, msg)
	}
}

func (h *Hub) handleMoveUser(client *Client, data json.RawMessage) {
	var d MoveUserData
	if json.Unmarshal(data, &d) != nil {
		return
	}

	fromChannelID, ok := h.Voice.CurrentChannelOf(d.Target)
	if !ok {
		h.sendError(client, "unauthorized", "target is not in voice")
		return
	}
	fromCh, err := h.DB.GetChannelByID(fromChannelID)
	if err != nil {
		return
	}
	toCh, err := h.DB.GetChannelByID(d.ToChannel)
	if err != nil {
		h.sendError(client, "not_found", "target channel does not exist")
		return
	}
	if toCh.CommunityID != fromCh.CommunityID {
		h.sendError(client, "unauthorized", "target channel is in a different community")
		return
	}
	if !h.Permissions.CanServerModerate(client.UserID, fromCh.CommunityID) {
		h.sendError(client, "forbidden", "not an admin or owner")
		return
	}

	if room, ok := h.Registry.GetRoom(fromChannelID); ok {
		room.RemoveSession(d.Target)
	}
	newRoom := h.Registry.GetOrCreateRoom(d.ToChannel)
	if _, err := newRoom.CreateSession(d.Target); err != nil {
		log.Printf("ws: move_user: create session in %s: %v", d.ToChannel, err)
		return
	}
	if _, _, err := h.Voice.Move(d.Target, d.ToChannel); err != nil {
		log.Printf("ws: move_user: %v", err)
		return
	}

	msg, err := NewMessage("user_moved", UserMovedData{UserID: d.Target, FromChannel: fromChannelID, ToChannel: d.ToChannel})
	if err == nil {
		h.broadcastToCommunity(fromCh.CommunityID, msg)
	}
}

// --- screen share opt-in ---

func (h *Hub) handleWatchScreenShare(client *Client, data json.RawMessage) {
	var d WatchScreenShareData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	room, ok := h.Registry.GetRoom(d.ChannelID)
	if !ok {
		return
	}
	room.StartWatching(d.Streamer, client.UserID)

	if streamerSession, ok := room.GetSession(d.Streamer); ok {
		if ssrc, ok := streamerSession.SSRCForLabel(screenAudioLabel); ok {
			mapped, err := NewMessage("user_screen_audio_ssrc_mapped", SsrcMappedData{
				ChannelID: d.ChannelID, UserID: d.Streamer, Label: string(screenAudioLabel), Ssrc: ssrc,
			})
			if err == nil {
				client.Send(mapped)
			}
		}
	}
}

func (h *Hub) handleStopWatchingScreenShare(client *Client, data json.RawMessage) {
	var d WatchScreenShareData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	room, ok := h.Registry.GetRoom(d.ChannelID)
	if !ok {
		return
	}
	room.StopWatching(d.Streamer, client.UserID)
}

// --- annotations ---

func (h *Hub) handleSendAnnotation(client *Client, data json.RawMessage) {
	var d AnnotationData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		return
	}
	msg, err := NewMessage("receive_annotation", ReceiveAnnotationData{
		ChannelID: d.ChannelID, Sharer: d.Sharer, From: client.UserID, Payload: d.Payload,
	})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, msg)
	}
}

func (h *Hub) handleClearAnnotations(client *Client, data json.RawMessage) {
	var d ClearAnnotationsData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	ch, err := h.DB.GetChannelByID(d.ChannelID)
	if err != nil {
		return
	}
	msg, err := NewMessage("clear_annotations", ClearAnnotationsEventData{ChannelID: d.ChannelID, Sharer: d.Sharer})
	if err == nil {
		h.broadcastToCommunity(ch.CommunityID, msg)
	}
}

// --- controller passthrough ---

func (h *Hub) handleRequestControllerAccess(client *Client, data json.RawMessage) {
	var d ControllerRequestData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.requireInVoice(client.UserID, d.ChannelID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	if err := h.Controllers.Request(d.ChannelID, d.HostID, client.UserID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("controller_access_requested", ControllerAccessRequestedData{
		ChannelID: d.ChannelID, HostID: d.HostID, GuestID: client.UserID,
	})
	if err == nil {
		h.sendToVoiceConn(d.HostID, msg)
	}
}

func (h *Hub) handleAcceptControllerAccess(client *Client, data json.RawMessage) {
	var d ControllerAcceptData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.Controllers.Accept(d.ChannelID, client.UserID, d.GuestID, d.Slot); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("controller_access_accepted", ControllerAccessAcceptedData{
		ChannelID: d.ChannelID, HostID: client.UserID, GuestID: d.GuestID, Slot: d.Slot,
	})
	if err == nil {
		h.sendToVoiceConn(d.GuestID, msg)
		h.sendToVoiceConn(client.UserID, msg)
	}
}

func (h *Hub) handleDeclineControllerAccess(client *Client, data json.RawMessage) {
	var d ControllerDeclineData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if err := h.Controllers.Decline(d.ChannelID, client.UserID, d.GuestID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("controller_access_declined", ControllerAccessDeclinedData{
		ChannelID: d.ChannelID, HostID: client.UserID, GuestID: d.GuestID,
	})
	if err == nil {
		h.sendToVoiceConn(d.GuestID, msg)
	}
}

func (h *Hub) handleStopControllerAccess(client *Client, data json.RawMessage) {
	var d ControllerStopData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	if client.UserID != d.HostID && client.UserID != d.GuestID {
		h.sendError(client, "unauthorized", "not a party to this controller session")
		return
	}
	if err := h.Controllers.Stop(d.ChannelID, d.HostID, d.GuestID); err != nil {
		h.sendError(client, "unauthorized", err.Error())
		return
	}
	msg, err := NewMessage("controller_access_stopped", ControllerAccessStoppedData{
		ChannelID: d.ChannelID, HostID: d.HostID, GuestID: d.GuestID,
	})
	if err == nil {
		h.sendToVoiceConn(d.HostID, msg)
		h.sendToVoiceConn(d.GuestID, msg)
	}
}

func (h *Hub) handleSendControllerState(client *Client, data json.RawMessage) {
	var d ControllerStateData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	st, _ := h.Controllers.State(d.ChannelID, d.HostID, client.UserID)
	if !isActive(st) {
		h.sendError(client, "unauthorized", "no active controller session")
		return
	}
	msg, err := NewMessage("controller_state_received", ControllerStateReceivedData{
		ChannelID: d.ChannelID, GuestID: client.UserID, State: d.State,
	})
	if err == nil {
		h.sendToVoiceConn(d.HostID, msg)
	}
}

func (h *Hub) handleSendControllerRumble(client *Client, data json.RawMessage) {
	var d ControllerRumbleData
	if json.Unmarshal(data, &d) != nil {
		return
	}
	st, slot := h.Controllers.State(d.ChannelID, client.UserID, d.GuestID)
	if !isActive(st) || slot != d.Slot {
		h.sendError(client, "unauthorized", "guest is not active at that slot")
		return
	}
	msg, err := NewMessage("controller_rumble_received", ControllerRumbleReceivedData{
		ChannelID: d.ChannelID, Slot: d.Slot, LowFreq: d.LowFreq, HighFreq: d.HighFreq,
	})
	if err == nil {
		h.sendToVoiceConn(d.GuestID, msg)
	}
}
