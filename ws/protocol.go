package ws

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/snacka/voicerelay/sfu"
	"github.com/snacka/voicerelay/voice"
)

// Message is the envelope for every frame exchanged over the socket,
// both directions.
type Message struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
}

func NewMessage(op string, data any) ([]byte, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Op: op, Data: d})
}

// --- Client -> Server payloads ---

type AuthenticateData struct {
	Token string `json:"token"`
}

type CommunityIDData struct {
	CommunityID string `json:"community_id"`
}

type ChannelIDData struct {
	ChannelID string `json:"channel_id"`
}

type ResumeVoiceChannelData struct {
	ChannelID string `json:"channel_id"`
	Token     string `json:"token"`
}

type DMTypingData struct {
	RecipientUserID string `json:"recipient_user_id"`
}

type ConversationTypingData struct {
	ConversationID string `json:"conversation_id"`
}

type SfuAnswerData struct {
	ChannelID string `json:"channel_id"`
	SDP       string `json:"sdp"`
}

type SfuIceCandidateData struct {
	ChannelID     string                  `json:"channel_id"`
	Candidate     webrtc.ICECandidateInit `json:"candidate"`
}

type VoiceStatePatchData struct {
	ChannelID           string `json:"channel_id"`
	IsMuted             *bool  `json:"is_muted"`
	IsDeafened          *bool  `json:"is_deafened"`
	IsCameraOn          *bool  `json:"is_camera_on"`
	IsScreenSharing     *bool  `json:"is_screen_sharing"`
	ScreenShareHasAudio *bool  `json:"screen_share_has_audio"`
}

type SpeakingStateData struct {
	ChannelID  string `json:"channel_id"`
	IsSpeaking bool   `json:"is_speaking"`
}

type ServerMuteUserData struct {
	ChannelID string `json:"channel_id"`
	Target    string `json:"target"`
	Value     bool   `json:"value"`
}

type ServerDeafenUserData struct {
	ChannelID string `json:"channel_id"`
	Target    string `json:"target"`
	Value     bool   `json:"value"`
}

type MoveUserData struct {
	Target    string `json:"target"`
	ToChannel string `json:"to_channel"`
}

type WatchScreenShareData struct {
	ChannelID string `json:"channel_id"`
	Streamer  string `json:"streamer"`
}

type AnnotationData struct {
	ChannelID string          `json:"channel_id"`
	Sharer    string          `json:"sharer"`
	Payload   json.RawMessage `json:"payload"`
}

type ClearAnnotationsData struct {
	ChannelID string `json:"channel_id"`
	Sharer    string `json:"sharer"`
}

type ControllerRequestData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
}

type ControllerAcceptData struct {
	ChannelID string `json:"channel_id"`
	GuestID   string `json:"guest_id"`
	Slot      int    `json:"slot"`
}

type ControllerDeclineData struct {
	ChannelID string `json:"channel_id"`
	GuestID   string `json:"guest_id"`
}

type ControllerStopData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	GuestID   string `json:"guest_id"`
}

type ControllerStateData struct {
	ChannelID string          `json:"channel_id"`
	HostID    string          `json:"host_id"`
	State     json.RawMessage `json:"state"`
}

type ControllerRumbleData struct {
	ChannelID string  `json:"channel_id"`
	GuestID   string  `json:"guest_id"`
	Slot      int     `json:"slot"`
	LowFreq   float64 `json:"low_freq"`
	HighFreq  float64 `json:"high_freq"`
}

// --- Server -> Client payloads ---

type UserPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type PresenceData struct {
	User UserPayload `json:"user"`
}

type UserOfflineData struct {
	UserID string `json:"user_id"`
}

type ChannelPayload struct {
	ID          string `json:"id"`
	CommunityID string `json:"community_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Position    int    `json:"position"`
}

type ReadyData struct {
	User        UserPayload      `json:"user"`
	Communities []CommunityView  `json:"communities"`
	ServerTime  float64          `json:"server_time"`
}

// CommunityView mirrors db.Community plus the caller's role and channel
// list, flattened for the ready payload.
type CommunityView struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	OwnerID  string           `json:"owner_id"`
	Role     string           `json:"role"`
	Channels []ChannelPayload `json:"channels"`
}

type SfuOfferData struct {
	ChannelID string `json:"channel_id"`
	SDP       string `json:"sdp"`
}

type SfuIceCandidateEvent struct {
	ChannelID string                  `json:"channel_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type VoiceParticipantPayload struct {
	UserID              string `json:"user_id"`
	ChannelID           string `json:"channel_id"`
	IsMuted             bool   `json:"is_muted"`
	IsDeafened          bool   `json:"is_deafened"`
	IsServerMuted       bool   `json:"is_server_muted"`
	IsServerDeafened    bool   `json:"is_server_deafened"`
	IsCameraOn          bool   `json:"is_camera_on"`
	IsScreenSharing     bool   `json:"is_screen_sharing"`
	ScreenShareHasAudio bool   `json:"screen_share_has_audio"`
}

func participantPayload(p *voice.Participant) VoiceParticipantPayload {
	return VoiceParticipantPayload{
		UserID:              p.UserID,
		ChannelID:           p.ChannelID,
		IsMuted:             p.IsMuted,
		IsDeafened:          p.IsDeafened,
		IsServerMuted:       p.IsServerMuted,
		IsServerDeafened:    p.IsServerDeafened,
		IsCameraOn:          p.IsCameraOn,
		IsScreenSharing:     p.IsScreenSharing,
		ScreenShareHasAudio: p.ScreenShareHasAudio,
	}
}

type VoiceParticipantJoinedData struct {
	ChannelID   string                   `json:"channel_id"`
	Participant VoiceParticipantPayload `json:"participant"`
}

type VoiceParticipantLeftData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type VoiceStateChangedData struct {
	ChannelID   string                   `json:"channel_id"`
	Participant VoiceParticipantPayload `json:"participant"`
}

type SpeakingStateChangedData struct {
	ChannelID  string `json:"channel_id"`
	UserID     string `json:"user_id"`
	IsSpeaking bool   `json:"is_speaking"`
}

type ServerVoiceStateChangedData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Field     string `json:"field"` // "server_muted" | "server_deafened"
	Value     bool   `json:"value"`
}

type UserMovedData struct {
	UserID      string `json:"user_id"`
	FromChannel string `json:"from_channel"`
	ToChannel   string `json:"to_channel"`
}

const (
	VideoKindCamera      = "camera"
	VideoKindScreenShare = "screen_share"
)

type VideoStreamEventData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
}

type SsrcMappedData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	Ssrc      uint32 `json:"ssrc"`
}

type SsrcMappingEntry struct {
	UserID string `json:"user_id"`
	Label  string `json:"label"`
	Ssrc   uint32 `json:"ssrc"`
}

type SsrcMappingsBatchData struct {
	ChannelID string             `json:"channel_id"`
	Mappings  []SsrcMappingEntry `json:"mappings"`
}

func ssrcMappingsFor(room *sfu.Room) []SsrcMappingEntry {
	var out []SsrcMappingEntry
	for _, userID := range room.SessionIDs() {
		session, ok := room.GetSession(userID)
		if !ok {
			continue
		}
		for _, label := range []sfu.Label{sfu.LabelMicrophone, sfu.LabelScreenAudio, sfu.LabelCameraVideo, sfu.LabelScreenVideo} {
			if ssrc, ok := session.SSRCForLabel(label); ok {
				out = append(out, SsrcMappingEntry{UserID: userID, Label: string(label), Ssrc: ssrc})
			}
		}
	}
	return out
}

type VoiceReconnectTokenData struct {
	ChannelID string `json:"channel_id"`
	Token     string `json:"token"`
}

type VoiceResumedData struct {
	ChannelID string `json:"channel_id"`
	Mappings  []SsrcMappingEntry `json:"mappings"`
}

type VoiceSessionActiveOnOtherDeviceData struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

const (
	ReasonLeftVoiceChannel     = "left_voice_channel"
	ReasonDisplaced            = "displaced_by_another_device"
	ReasonConnectionLost       = "connection_lost"
)

type VoiceSessionEndedData struct {
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason"`
}

type DisplacedByAnotherDeviceData struct {
	ChannelID string `json:"channel_id"`
}

type ReceiveAnnotationData struct {
	ChannelID string          `json:"channel_id"`
	Sharer    string          `json:"sharer"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
}

type ClearAnnotationsEventData struct {
	ChannelID string `json:"channel_id"`
	Sharer    string `json:"sharer"`
}

type ControllerAccessRequestedData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	GuestID   string `json:"guest_id"`
}

type ControllerAccessAcceptedData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	GuestID   string `json:"guest_id"`
	Slot      int    `json:"slot"`
}

type ControllerAccessDeclinedData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	GuestID   string `json:"guest_id"`
}

type ControllerAccessStoppedData struct {
	ChannelID string `json:"channel_id"`
	HostID    string `json:"host_id"`
	GuestID   string `json:"guest_id"`
}

type ControllerStateReceivedData struct {
	ChannelID string          `json:"channel_id"`
	GuestID   string          `json:"guest_id"`
	State     json.RawMessage `json:"state"`
}

type ControllerRumbleReceivedData struct {
	ChannelID string  `json:"channel_id"`
	Slot      int     `json:"slot"`
	LowFreq   float64 `json:"low_freq"`
	HighFreq  float64 `json:"high_freq"`
}

type UserTypingData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type DMUserTypingData struct {
	UserID string `json:"user_id"`
}

type ConversationUserTypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
