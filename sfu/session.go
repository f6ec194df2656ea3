package sfu

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MediaKind is the RTP payload kind carried by a Label.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Label identifies which of a Session's media streams an SSRC belongs
// to. Discovered once per Session and immutable thereafter.
type Label string

const (
	LabelMicrophone Label = "microphone"
	LabelScreenAudio Label = "screen_audio"
	LabelCameraVideo Label = "camera_video"
	LabelScreenVideo Label = "screen_video"
)

func (l Label) Kind() MediaKind {
	if l == LabelCameraVideo || l == LabelScreenVideo {
		return KindVideo
	}
	return KindAudio
}

// State is a Session's connection lifecycle. Transitions are monotonic
// toward Closed; there is no resurrection.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SsrcDiscoveredFunc is called exactly once per distinct label observed
// on a Session's receive side.
type SsrcDiscoveredFunc func(label Label, ssrc uint32)
type IceCandidateFunc func(candidate webrtc.ICECandidateInit)
type StateChangedFunc func(state State)

// Session is one WebRTC peer connection for one user in one channel (C1).
type Session struct {
	UserID    string
	ChannelID string

	mu    sync.RWMutex
	pc    *webrtc.PeerConnection
	state State

	ssrcByLabel map[Label]uint32
	labelBySSRC map[uint32]Label

	// inbound[label] is the local track this session re-emits for media
	// it receives on that label — what Room binds onto sibling sessions.
	inbound map[Label]*webrtc.TrackLocalStaticRTP

	// outbound[label][sourceUserID] is the local track this session's PC
	// currently sends for that (label, source) pair — i.e. what this
	// session receives from one sibling. Populated by Room as it wires
	// fan-out; Session only owns the PC plumbing around it.
	outbound map[Label]map[string]*webrtc.TrackLocalStaticRTP

	needsRenegotiation bool

	OnIceCandidate   IceCandidateFunc
	OnStateChanged   StateChangedFunc
	OnSsrcDiscovered SsrcDiscoveredFunc
	// OnTrackReady fires once a label's inbound track has been negotiated
	// and is available to bind onto siblings, ahead of any SSRC discovery.
	OnTrackReady func(label Label)

	Signal SignalFunc
}

// NewSession constructs a Session with a STUN configuration and registers
// internal handlers before returning. Precondition: no existing Session
// for this (user, channel) — enforced by the caller (Room).
func NewSession(api *webrtc.API, config webrtc.Configuration, userID, channelID string) (*Session, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("sfu: new peer connection: %w", err)
	}

	s := &Session{
		UserID:      userID,
		ChannelID:   channelID,
		pc:          pc,
		state:       StateNew,
		ssrcByLabel: make(map[Label]uint32),
		labelBySSRC: make(map[uint32]Label),
		inbound:     make(map[Label]*webrtc.TrackLocalStaticRTP),
		outbound:    make(map[Label]map[string]*webrtc.TrackLocalStaticRTP),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.OnIceCandidate == nil {
			return
		}
		s.OnIceCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		var next State
		switch st {
		case webrtc.PeerConnectionStateConnecting:
			next = StateConnecting
		case webrtc.PeerConnectionStateConnected:
			next = StateConnected
		case webrtc.PeerConnectionStateFailed:
			next = StateFailed
		case webrtc.PeerConnectionStateClosed:
			next = StateClosed
		default:
			return
		}
		s.setState(next)
		if s.OnStateChanged != nil {
			s.OnStateChanged(next)
		}
	})

	return s, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateFailed {
		return // monotonic toward Closed, no resurrection
	}
	s.state = state
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AddMediaTracks adds the always-present recvonly transceivers: one
// microphone audio track and one camera video track. Must be called
// before CreateOffer.
func (s *Session) AddMediaTracks() error {
	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("sfu: add mic transceiver: %w", err)
	}
	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("sfu: add camera transceiver: %w", err)
	}

	s.wireOnTrack(LabelMicrophone, LabelScreenAudio)
	return nil
}

// EnableScreenShare adds the screen-video and screen-audio recvonly
// transceivers on demand, when a participant starts sharing, and
// renegotiates. Screen audio is optional at the SDP level but the
// transceiver is reserved regardless so a later opt-in doesn't need a
// third renegotiation.
func (s *Session) EnableScreenShare() error {
	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("sfu: add screen video transceiver: %w", err)
	}
	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("sfu: add screen audio transceiver: %w", err)
	}
	s.wireOnTrack(LabelCameraVideo, LabelScreenVideo)
	return s.renegotiate()
}

// wireOnTrack arms the next OnTrack callback to resolve to firstOfKind on
// its first call and secondOfKind on the second, per media kind — the
// order add_media_tracks (or EnableScreenShare) added the transceivers in.
// This mirrors the teacher's track-identification-by-creation-order
// fallback for when a negotiated track identifier isn't available.
func (s *Session) wireOnTrack(firstOfKind, secondOfKind Label) {
	kind := firstOfKind.Kind()
	seen := false

	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		trackKind := webrtc.RTPCodecTypeAudio
		if kind == KindVideo {
			trackKind = webrtc.RTPCodecTypeVideo
		}
		if track.Kind() != trackKind {
			return
		}

		label := firstOfKind
		if seen {
			label = secondOfKind
		}
		seen = true

		local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
		if err != nil {
			log.Printf("sfu: session %s create local track for %s: %v", s.UserID, label, err)
			return
		}

		s.mu.Lock()
		s.inbound[label] = local
		s.mu.Unlock()
		if s.OnTrackReady != nil {
			s.OnTrackReady(label)
		}

		go s.readRemoteTrack(track, local, label)
	})
}

func (s *Session) readRemoteTrack(track *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP, label Label) {
	buf := make([]byte, 1500)
	discovered := false
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if !discovered {
			discovered = true
			s.recordSsrc(label, uint32(track.SSRC()))
		}
		if _, err := local.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (s *Session) recordSsrc(label Label, ssrc uint32) {
	s.mu.Lock()
	if _, ok := s.ssrcByLabel[label]; ok {
		s.mu.Unlock()
		return
	}
	s.ssrcByLabel[label] = ssrc
	s.labelBySSRC[ssrc] = label
	s.mu.Unlock()

	if s.OnSsrcDiscovered != nil {
		s.OnSsrcDiscovered(label, ssrc)
	}
}

// InboundTrack returns the local track this session re-emits for the
// given label, if its transceiver has been negotiated yet.
func (s *Session) InboundTrack(label Label) (*webrtc.TrackLocalStaticRTP, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.inbound[label]
	return t, ok
}

// LabelForSSRC resolves a previously-discovered SSRC to its label.
func (s *Session) LabelForSSRC(ssrc uint32) (Label, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labelBySSRC[ssrc]
	return l, ok
}

func (s *Session) SSRCForLabel(label Label) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ssrc, ok := s.ssrcByLabel[label]
	return ssrc, ok
}

// CreateOffer generates an offer, sets it as the local description, and
// returns the SDP. Fails if called after the remote description is set.
func (s *Session) CreateOffer() (string, error) {
	if s.pc.RemoteDescription() != nil {
		return "", fmt.Errorf("sfu: create offer after remote description set")
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("sfu: create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("sfu: set local description: %w", err)
	}
	return offer.SDP, nil
}

// SetRemoteAnswer applies the client's answer, then runs any renegotiation
// that was deferred while an offer/answer exchange was outstanding.
func (s *Session) SetRemoteAnswer(sdp string) error {
	if s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("sfu: set remote answer: no outstanding local offer")
	}
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("sfu: set remote answer: %w", err)
	}

	s.mu.Lock()
	needsRenego := s.needsRenegotiation
	s.needsRenegotiation = false
	s.mu.Unlock()

	if needsRenego {
		return s.renegotiate()
	}
	return nil
}

// AddRemoteICE appends a trickled candidate. Tolerated silently once
// connected.
func (s *Session) AddRemoteICE(candidate webrtc.ICECandidateInit) error {
	if err := s.pc.AddICECandidate(candidate); err != nil {
		if s.State() == StateConnected {
			return nil
		}
		return fmt.Errorf("sfu: add remote ICE: %w", err)
	}
	return nil
}

// AddSourceTrack binds a sibling session's local track as a sender track
// on this session's PC so its owner starts receiving that media, then
// renegotiates (deferring if signaling is mid-exchange).
func (s *Session) AddSourceTrack(sourceUserID string, label Label, track *webrtc.TrackLocalStaticRTP) error {
	s.mu.Lock()
	if s.outbound[label] == nil {
		s.outbound[label] = make(map[string]*webrtc.TrackLocalStaticRTP)
	}
	if _, exists := s.outbound[label][sourceUserID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.outbound[label][sourceUserID] = track
	s.mu.Unlock()

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("sfu: add track (%s from %s) to %s: %w", label, sourceUserID, s.UserID, err)
	}
	go drainRTCP(sender)

	return s.renegotiate()
}

// RemoveSourceTrack unbinds a sibling's track (e.g. on opt-out or
// disconnect) and renegotiates.
func (s *Session) RemoveSourceTrack(sourceUserID string, label Label) error {
	s.mu.Lock()
	track, ok := s.outbound[label][sourceUserID]
	if ok {
		delete(s.outbound[label], sourceUserID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	for _, sender := range s.pc.GetSenders() {
		if sender.Track() == track {
			if err := s.pc.RemoveTrack(sender); err != nil {
				return fmt.Errorf("sfu: remove track (%s from %s) on %s: %w", label, sourceUserID, s.UserID, err)
			}
			break
		}
	}
	return s.renegotiate()
}

func (s *Session) renegotiate() error {
	s.mu.Lock()
	if s.pc.SignalingState() != webrtc.SignalingStateStable {
		s.needsRenegotiation = true
		s.mu.Unlock()
		return nil
	}
	s.needsRenegotiation = false
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("sfu: renegotiate offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("sfu: renegotiate set local description: %w", err)
	}
	if s.Signal != nil {
		s.Signal(s.UserID, "sfu_offer", map[string]string{"sdp": offer.SDP, "channel_id": s.ChannelID})
	}
	return nil
}

// Close tears the peer connection down; idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.pc.Close()
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
