package sfu

import (
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

type SsrcEntry struct {
	UserID string
	Kind   MediaKind
	Label  Label
}

// Room is one voice channel's set of Sessions (C2). It routes inbound RTP
// from one Session to every other session subject to an opt-in
// predicate, and maintains the SSRC directory.
type Room struct {
	ChannelID string
	registry  *Registry
	viewers   *ViewerSet

	mu       sync.RWMutex
	sessions map[string]*Session
	ssrcDir  map[uint32]SsrcEntry
}

func newRoom(channelID string, registry *Registry) *Room {
	return &Room{
		ChannelID: channelID,
		registry:  registry,
		viewers:   registry.viewers,
		sessions:  make(map[string]*Session),
		ssrcDir:   make(map[uint32]SsrcEntry),
	}
}

// CreateSession displaces any prior Session for userID (self-displacement
// guards against stale state from a crashed client), wires the new
// Session's events, adds its always-on media tracks, binds existing
// siblings' mic/camera tracks onto it, and creates its initial offer.
func (r *Room) CreateSession(userID string) (*Session, error) {
	r.disposeSession(userID)

	session, err := NewSession(r.registry.api, r.registry.config, userID, r.ChannelID)
	if err != nil {
		return nil, err
	}
	session.Signal = r.registry.Signal
	r.wireSession(session)

	if err := session.AddMediaTracks(); err != nil {
		session.Close()
		return nil, err
	}

	r.mu.RLock()
	var siblings []*Session
	for otherID, other := range r.sessions {
		if otherID != userID {
			siblings = append(siblings, other)
		}
	}
	r.mu.RUnlock()

	for _, sib := range siblings {
		r.bindIfReady(sib, session, LabelMicrophone)
		r.bindIfReady(sib, session, LabelCameraVideo)
	}

	sdp, err := session.CreateOffer()
	if err != nil {
		session.Close()
		return nil, err
	}

	r.mu.Lock()
	r.sessions[userID] = session
	r.mu.Unlock()

	if r.registry.Signal != nil {
		r.registry.Signal(userID, "sfu_offer", map[string]string{"sdp": sdp, "channel_id": r.ChannelID})
	}

	return session, nil
}

func (r *Room) wireSession(session *Session) {
	userID := session.UserID

	session.OnIceCandidate = func(candidate webrtc.ICECandidateInit) {
		if r.registry.OnIceCandidate != nil {
			r.registry.OnIceCandidate(r.ChannelID, userID, candidate)
		}
	}
	session.OnStateChanged = func(state State) {
		if r.registry.OnSessionStateChanged != nil {
			r.registry.OnSessionStateChanged(r.ChannelID, userID, state)
		}
	}
	session.OnTrackReady = func(label Label) {
		// Always-on labels fan out to every current sibling as soon as
		// they're negotiated, mirroring the teacher's addTrackToOthers.
		// Screen labels wait for an explicit WatchScreenShare.
		if label == LabelMicrophone || label == LabelCameraVideo {
			r.fanOutToAll(userID, label)
		}
	}
	session.OnSsrcDiscovered = func(label Label, ssrc uint32) {
		r.mu.Lock()
		r.ssrcDir[ssrc] = SsrcEntry{UserID: userID, Kind: label.Kind(), Label: label}
		r.mu.Unlock()

		if r.registry.OnSsrcDiscovered != nil {
			r.registry.OnSsrcDiscovered(r.ChannelID, userID, label, ssrc)
		}
	}
}

// bindIfReady binds source's inbound track for label onto target, if the
// track has already been negotiated and ShouldForward authorizes it.
func (r *Room) bindIfReady(source, target *Session, label Label) {
	if !r.ShouldForward(label, source.UserID, target.UserID) {
		return
	}
	track, ok := source.InboundTrack(label)
	if !ok {
		return
	}
	if err := target.AddSourceTrack(source.UserID, label, track); err != nil {
		log.Printf("sfu: room %s: bind %s from %s to %s: %v", r.ChannelID, label, source.UserID, target.UserID, err)
	}
}

// fanOutToAll binds sourceUserID's just-ready label track onto every
// other session currently in the room.
func (r *Room) fanOutToAll(sourceUserID string, label Label) {
	r.mu.RLock()
	source, ok := r.sessions[sourceUserID]
	var others []*Session
	if ok {
		for id, s := range r.sessions {
			if id != sourceUserID {
				others = append(others, s)
			}
		}
	}
	r.mu.RUnlock()
	if !ok {
		return
	}
	for _, other := range others {
		r.bindIfReady(source, other, label)
	}
}

// disposeSession tears down and removes userID's session (if any) and
// unwinds anything it was bound onto or receiving, without touching room
// emptiness bookkeeping — used both by displacement and explicit removal.
func (r *Room) disposeSession(userID string) {
	r.mu.Lock()
	session, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
		for ssrc, entry := range r.ssrcDir {
			if entry.UserID == userID {
				delete(r.ssrcDir, ssrc)
			}
		}
	}
	var siblings []*Session
	for _, s := range r.sessions {
		siblings = append(siblings, s)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	session.Close()

	for _, sib := range siblings {
		for _, label := range []Label{LabelMicrophone, LabelScreenAudio, LabelCameraVideo, LabelScreenVideo} {
			_ = sib.RemoveSourceTrack(userID, label)
		}
	}
}

// RemoveSession closes the Session, deletes it and its SSRC entries from
// the room, and unbinds its tracks from the siblings. Idempotent. If the room becomes empty it is removed
// from the registry under a lock that re-checks emptiness.
func (r *Room) RemoveSession(userID string) {
	r.disposeSession(userID)

	r.mu.RLock()
	empty := len(r.sessions) == 0
	r.mu.RUnlock()

	if r.registry.OnSessionRemoved != nil {
		r.registry.OnSessionRemoved(r.ChannelID, userID)
	}

	if empty {
		r.registry.removeRoomIfEmpty(r.ChannelID)
	}
}

func (r *Room) GetSession(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

func (r *Room) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) IsEmpty() bool {
	return r.SessionCount() == 0
}

func (r *Room) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// LookupSSRC resolves an SSRC to its directory entry.
func (r *Room) LookupSSRC(ssrc uint32) (SsrcEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ssrcDir[ssrc]
	return e, ok
}

// ShouldForward decides, per the fan-out algorithm, whether media
// labelled `label` from `sourceUserID` should reach `receiverID`. It is
// the authorization gate `bindIfReady` consults before binding a track —
// forwarding here is a one-time bind decision rather than a per-packet
// one, since once a sibling's track is bound onto a receiver's
// PeerConnection every subsequent packet rides it unfiltered. Pure and
// side-effect free so it can be exercised without a live PeerConnection.
func (r *Room) ShouldForward(label Label, sourceUserID, receiverID string) bool {
	if sourceUserID == receiverID {
		return false // no loopback
	}
	switch label {
	case LabelMicrophone, LabelCameraVideo:
		return true
	case LabelScreenAudio, LabelScreenVideo:
		return r.viewers.IsWatching(r.ChannelID, sourceUserID, receiverID)
	default:
		// Unknown label (SSRC not yet learned): forward conservatively as
		// if camera — see DESIGN.md for the open-question rationale.
		return true
	}
}

// StartWatching wires the streamer's current screen tracks onto
// viewerID's session, per WatchScreenShare. A no-op for a label whose
// track hasn't been negotiated yet — it will bind once SsrcDiscovered
// fires if the caller re-invokes, but in practice the streamer's offer
// always precedes a watcher's request.
func (r *Room) StartWatching(streamerID, viewerID string) {
	r.viewers.Add(r.ChannelID, streamerID, viewerID)

	r.mu.RLock()
	streamer, sOk := r.sessions[streamerID]
	viewer, vOk := r.sessions[viewerID]
	r.mu.RUnlock()
	if !sOk || !vOk {
		return
	}
	r.bindIfReady(streamer, viewer, LabelScreenVideo)
	r.bindIfReady(streamer, viewer, LabelScreenAudio)
}

// StopWatching unwires the streamer's screen tracks from viewerID's
// session, per StopWatchingScreenShare.
func (r *Room) StopWatching(streamerID, viewerID string) {
	r.viewers.Remove(r.ChannelID, streamerID, viewerID)
	r.mu.RLock()
	viewer, ok := r.sessions[viewerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	_ = viewer.RemoveSourceTrack(streamerID, LabelScreenVideo)
	_ = viewer.RemoveSourceTrack(streamerID, LabelScreenAudio)
}

// StopScreenShare clears every viewer of streamerID and unwires the
// corresponding tracks. Must run before the caller broadcasts
// VideoStreamStopped so a stale viewer can't receive one more packet.
func (r *Room) StopScreenShare(streamerID string) {
	viewerIDs := r.viewers.ClearForStreamer(r.ChannelID, streamerID)

	r.mu.RLock()
	var targets []*Session
	for _, v := range viewerIDs {
		if s, ok := r.sessions[v]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		_ = t.RemoveSourceTrack(streamerID, LabelScreenVideo)
		_ = t.RemoveSourceTrack(streamerID, LabelScreenAudio)
	}
}

func (r *Room) HandleAnswer(userID, sdp string) {
	r.mu.RLock()
	session, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		log.Printf("sfu: room %s: HandleAnswer: session %s not found", r.ChannelID, userID)
		return
	}
	if err := session.SetRemoteAnswer(sdp); err != nil {
		log.Printf("sfu: room %s: HandleAnswer for %s: %v", r.ChannelID, userID, err)
	}
}

func (r *Room) HandleICE(userID string, candidate webrtc.ICECandidateInit) {
	r.mu.RLock()
	session, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := session.AddRemoteICE(candidate); err != nil {
		log.Printf("sfu: room %s: HandleICE for %s: %v", r.ChannelID, userID, err)
	}
}
