package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/snacka/voicerelay/crypto"
	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/identity"
	"github.com/snacka/voicerelay/permission"
	"github.com/snacka/voicerelay/sfu"
	"github.com/snacka/voicerelay/voice"
	"nhooyr.io/websocket"
)

// Hub is the Signaling & Protocol State Machine (C5): the only component
// that talks to clients. It translates client intent into operations on
// the Registry and Directory and back.
type Hub struct {
	DB             *db.DB
	Identity       identity.Provider
	Registry       *sfu.Registry
	Voice          *voice.Directory
	Permissions    *permission.Oracle
	Controllers    *voice.ControllerSessions
	DevMode        bool
	EncKey         []byte
	ReconnectGrace time.Duration

	mu sync.RWMutex
	// conns holds every live connection, keyed by its own id (multi-device).
	conns map[string]*Client
	// byUser indexes connections by the user they authenticated as.
	byUser map[string]map[string]*Client
	// voiceConn is the single connection per user currently designated to
	// carry that user's voice signaling.
	voiceConn map[string]string
	// pendingGrace holds, per user, the reconnect-grace timer for a voice
	// connection that dropped but hasn't been declared ended yet.
	pendingGrace map[string]*graceEntry
}

type graceEntry struct {
	channelID string
	timer     *time.Timer
}

func NewHub(database *db.DB, idp identity.Provider, registry *sfu.Registry, devMode bool, controllerSlots int, encKey []byte, reconnectGrace time.Duration) *Hub {
	h := &Hub{
		DB:             database,
		Identity:       idp,
		Registry:       registry,
		Voice:          voice.NewDirectory(),
		Permissions:    permission.New(database, nil),
		Controllers:    voice.NewControllerSessions(controllerSlots),
		DevMode:        devMode,
		EncKey:         encKey,
		ReconnectGrace: reconnectGrace,
		conns:          make(map[string]*Client),
		byUser:         make(map[string]map[string]*Client),
		voiceConn:      make(map[string]string),
		pendingGrace:   make(map[string]*graceEntry),
	}
	registry.Signal = h.signal
	registry.OnIceCandidate = h.onIceCandidate
	registry.OnSsrcDiscovered = h.onSsrcDiscovered
	registry.OnSessionStateChanged = h.onSessionStateChanged
	return h
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.DevMode,
	})
	if err != nil {
		log.Printf("ws accept: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		ctx:    ctx,
		cancel: cancel,
	}

	go client.writePump()
	client.readPump()
}

// onConnected registers client under its user, sends it a snapshot of
// any already-active voice session on another device, and marks the user
// online iff this is its first connection.
func (h *Hub) onConnected(client *Client) {
	h.mu.Lock()
	h.conns[client.ConnID] = client
	firstConn := len(h.byUser[client.UserID]) == 0
	if h.byUser[client.UserID] == nil {
		h.byUser[client.UserID] = make(map[string]*Client)
	}
	h.byUser[client.UserID][client.ConnID] = client
	h.mu.Unlock()

	if firstConn {
		user, _ := h.DB.GetUserByID(client.UserID)
		if user != nil {
			msg, _ := NewMessage("user_online", PresenceData{User: UserPayload{ID: user.ID, Username: user.Username}})
			h.broadcastExceptUser(msg, client.UserID)
		}
	}

	if channelID, ok := h.Voice.CurrentChannelOf(client.UserID); ok {
		ch, err := h.DB.GetChannelByID(channelID)
		if err == nil {
			msg, _ := NewMessage("voice_session_active_on_other_device", VoiceSessionActiveOnOtherDeviceData{
				ChannelID:   channelID,
				ChannelName: ch.Name,
			})
			client.Send(msg)
		}
	}
}

// onDisconnected removes the connection. If it was the user's designated
// voice connection and the user is in a voice channel, starts the
// reconnect grace timer (a LeaveVoiceChannel is synthesized if it expires
// unresumed). Marks the user offline iff this was the last connection.
func (h *Hub) onDisconnected(client *Client) {
	h.mu.Lock()
	delete(h.conns, client.ConnID)
	if conns := h.byUser[client.UserID]; conns != nil {
		delete(conns, client.ConnID)
		if len(conns) == 0 {
			delete(h.byUser, client.UserID)
		}
	}
	wasVoiceConn := h.voiceConn[client.UserID] == client.ConnID
	lastConn := len(h.byUser[client.UserID]) == 0
	h.mu.Unlock()

	if wasVoiceConn {
		if channelID, ok := h.Voice.CurrentChannelOf(client.UserID); ok {
			h.startReconnectGrace(client.UserID, channelID)
		}
	}

	if lastConn {
		msg, _ := NewMessage("user_offline", UserOfflineData{UserID: client.UserID})
		h.broadcastExceptUser(msg, client.UserID)
	}
}

func (h *Hub) sendTo(userID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		c.Send(msg)
	}
}

func (h *Hub) sendToOtherConns(userID, exceptConnID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, c := range h.byUser[userID] {
		if connID != exceptConnID {
			c.Send(msg)
		}
	}
}

func (h *Hub) sendToVoiceConn(userID string, msg []byte) {
	h.mu.RLock()
	connID, ok := h.voiceConn[userID]
	var target *Client
	if ok {
		target = h.conns[connID]
	}
	h.mu.RUnlock()
	if target != nil {
		target.Send(msg)
	}
}

func (h *Hub) setVoiceConn(userID, connID string) {
	h.mu.Lock()
	h.voiceConn[userID] = connID
	h.mu.Unlock()
}

func (h *Hub) clearVoiceConn(userID string) {
	h.mu.Lock()
	delete(h.voiceConn, userID)
	h.mu.Unlock()
}

// reconnectTokenPayload is the plaintext sealed into a voice reconnect
// token (SPEC_FULL §12): enough to prove which user/channel a resume
// request is entitled to pick back up, and when that entitlement expires.
type reconnectTokenPayload struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// issueReconnectToken seals an AES-GCM token a client can present via
// ResumeVoiceChannel to reclaim its designated voice connection after a
// dropped websocket, without a second JoinVoiceChannel round trip.
func (h *Hub) issueReconnectToken(userID, channelID string) (string, error) {
	payload := reconnectTokenPayload{
		UserID:    userID,
		ChannelID: channelID,
		ExpiresAt: time.Now().Add(h.ReconnectGrace).Unix(),
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return crypto.Encrypt(h.EncKey, string(plaintext))
}

func (h *Hub) openReconnectToken(token string) (*reconnectTokenPayload, error) {
	plaintext, err := crypto.Decrypt(h.EncKey, token)
	if err != nil {
		return nil, err
	}
	var payload reconnectTokenPayload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// startReconnectGrace holds a dropped voice connection open for
// ReconnectGrace before declaring the session ungracefully ended,
// matching the teacher's "log and keep going" tolerance for transient
// network failures rather than tearing state down on the first hiccup.
func (h *Hub) startReconnectGrace(userID, channelID string) {
	h.mu.Lock()
	if existing, ok := h.pendingGrace[userID]; ok {
		existing.timer.Stop()
	}
	entry := &graceEntry{channelID: channelID}
	entry.timer = time.AfterFunc(h.ReconnectGrace, func() { h.expireReconnectGrace(userID, channelID) })
	h.pendingGrace[userID] = entry
	h.mu.Unlock()
}

func (h *Hub) expireReconnectGrace(userID, channelID string) {
	h.mu.Lock()
	entry, ok := h.pendingGrace[userID]
	if !ok || entry.channelID != channelID {
		h.mu.Unlock()
		return
	}
	delete(h.pendingGrace, userID)
	h.mu.Unlock()
	h.leaveVoiceChannel(userID, channelID, ReasonConnectionLost)
}

// resumeReconnectGrace cancels a pending grace timer for (userID,
// channelID), reporting whether one was found.
func (h *Hub) resumeReconnectGrace(userID, channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.pendingGrace[userID]
	if !ok || entry.channelID != channelID {
		return false
	}
	entry.timer.Stop()
	delete(h.pendingGrace, userID)
	return true
}

func (h *Hub) broadcastExceptUser(msg []byte, exceptUserID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, conns := range h.byUser {
		if userID == exceptUserID {
			continue
		}
		for _, c := range conns {
			c.Send(msg)
		}
	}
}

// broadcastToCommunity sends msg to every connection of every member of
// communityID.
func (h *Hub) broadcastToCommunity(communityID string, msg []byte) {
	members, err := h.DB.GetCommunityMembers(communityID)
	if err != nil {
		log.Printf("ws: broadcastToCommunity %s: %v", communityID, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range members {
		for _, c := range h.byUser[m.UserID] {
			c.Send(msg)
		}
	}
}

// broadcastToChannelCommunity resolves channelID's community and
// broadcasts to it.
func (h *Hub) broadcastToChannelCommunity(channelID string, msg []byte) {
	ch, err := h.DB.GetChannelByID(channelID)
	if err != nil {
		log.Printf("ws: broadcastToChannelCommunity %s: %v", channelID, err)
		return
	}
	h.broadcastToCommunity(ch.CommunityID, msg)
}

func (h *Hub) onlineUsers() []UserPayload {
	h.mu.RLock()
	userIDs := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		userIDs = append(userIDs, id)
	}
	h.mu.RUnlock()

	out := make([]UserPayload, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := h.DB.GetUserByID(id)
		if err == nil && u != nil {
			out = append(out, UserPayload{ID: u.ID, Username: u.Username})
		}
	}
	return out
}

// NotifyCommunity lets the REST layer push an event (new channel, role
// change, member joined) to every connected member of a community
// without reaching into Hub internals.
func (h *Hub) NotifyCommunity(communityID, op string, data any) {
	msg, err := NewMessage(op, data)
	if err != nil {
		log.Printf("ws: notify community %s op %s: %v", communityID, op, err)
		return
	}
	h.broadcastToCommunity(communityID, msg)
}

// DisconnectUser closes every live connection for userID. No caller in
// this repository invokes it.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

// --- SfuRegistry callbacks, routed back out to clients ---

func (h *Hub) signal(userID string, op string, data any) {
	msg, err := NewMessage(op, data)
	if err != nil {
		log.Printf("ws: signal %s to %s: %v", op, userID, err)
		return
	}
	h.sendToVoiceConn(userID, msg)
}

func (h *Hub) onIceCandidate(channelID, userID string, candidate webrtc.ICECandidateInit) {
	msg, err := NewMessage("sfu_ice_candidate", SfuIceCandidateEvent{ChannelID: channelID, Candidate: candidate})
	if err != nil {
		return
	}
	h.sendToVoiceConn(userID, msg)
}

func (h *Hub) onSsrcDiscovered(channelID, userID string, label sfu.Label, ssrc uint32) {
	msg, err := NewMessage("ssrc_mapped", SsrcMappedData{
		ChannelID: channelID,
		UserID:    userID,
		Label:     string(label),
		Ssrc:      ssrc,
	})
	if err != nil {
		return
	}
	h.broadcastToChannelCommunity(channelID, msg)
}

func (h *Hub) onSessionStateChanged(channelID, userID string, state sfu.State) {
	if state != sfu.StateFailed {
		return
	}
	log.Printf("ws: session %s/%s failed, reaping", channelID, userID)
	h.leaveVoiceChannel(userID, channelID, ReasonConnectionLost)
}
