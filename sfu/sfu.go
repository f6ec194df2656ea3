// Package sfu implements the selective forwarding unit: one
// PeerConnection per (user, channel) Session (C1), grouped into Rooms
// (C2) under a Registry (C3).
package sfu

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
)

// SignalFunc delivers an out-of-band signaling message to userID over
// the websocket hub.
type SignalFunc func(userID string, op string, data any)
type IceCandidateFunc2 func(channelID, userID string, candidate webrtc.ICECandidateInit)
type SessionStateFunc func(channelID, userID string, state State)
type SsrcFunc func(channelID, userID string, label Label, ssrc uint32)
type SessionRemovedFunc func(channelID, userID string)

// Registry implements SfuRegistry (C3): the process-wide map of active
// Rooms, plus the single shared ViewerSet (C7) every Room consults —
// kept on the Registry rather than per-Room since the spec's own
// ScreenShareViewerSet key already spans (channel, streamer), not a
// single room.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room // channelID -> room
	viewers *ViewerSet

	config webrtc.Configuration
	api    *webrtc.API

	Signal                SignalFunc
	OnIceCandidate        IceCandidateFunc2
	OnSessionStateChanged SessionStateFunc
	OnSsrcDiscovered      SsrcFunc
	OnSessionRemoved      SessionRemovedFunc
}

// New constructs a Registry. iceServers should carry at least two STUN
// URLs per the connectivity precondition; publicIP, if set, is
// advertised via 1:1 NAT mapping for hosts behind a static public
// address.
func New(iceServers []string, publicIP string) *Registry {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1;usedtx=1;maxaveragebitrate=128000",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("sfu: register opus codec: %v", err)
	}
	// PCMU/PCMA accepted for interop alongside the preferred Opus codec.
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("sfu: register pcmu codec: %v", err)
	}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("sfu: register pcma codec: %v", err)
	}

	// Camera and screen video share one media engine, so both labels use
	// the same negotiated codec: H.264 payload type 96.
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		log.Printf("sfu: register h264 codec: %v", err)
	}

	ir := &interceptor.Registry{}
	if responder, err := nack.NewResponderInterceptor(); err == nil {
		ir.Add(responder)
	}
	if generator, err := nack.NewGeneratorInterceptor(); err == nil {
		ir.Add(generator)
	}

	se := webrtc.SettingEngine{}
	if publicIP != "" {
		se.SetNAT1To1IPs([]string{publicIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(iceServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: iceServers})
	}

	return &Registry{
		rooms:   make(map[string]*Room),
		viewers: NewViewerSet(),
		config:  webrtc.Configuration{ICEServers: servers},
		api:     api,
	}
}

func (reg *Registry) GetOrCreateRoom(channelID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[channelID]; ok {
		return room
	}
	room := newRoom(channelID, reg)
	reg.rooms[channelID] = room
	return room
}

func (reg *Registry) GetRoom(channelID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[channelID]
	return r, ok
}

// GetUserRoom linearly scans rooms for one containing userID. Acceptable
// at this scale per the teacher's own GetUserRoom; a reverse index would
// be the next step if room counts grow large.
func (reg *Registry) GetUserRoom(userID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, room := range reg.rooms {
		if _, ok := room.GetSession(userID); ok {
			return room
		}
	}
	return nil
}

func (reg *Registry) removeRoomIfEmpty(channelID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[channelID]
	if !ok || !room.IsEmpty() {
		return
	}
	delete(reg.rooms, channelID)
}

// HandleAnswer routes a client's SFU answer to its session, wherever its
// room is.
func (reg *Registry) HandleAnswer(userID, sdp string) error {
	room := reg.GetUserRoom(userID)
	if room == nil {
		return fmt.Errorf("sfu: HandleAnswer: %s is not in any room", userID)
	}
	room.HandleAnswer(userID, sdp)
	return nil
}

// HandleICE routes a trickled ICE candidate to its session.
func (reg *Registry) HandleICE(userID string, candidate webrtc.ICECandidateInit) error {
	room := reg.GetUserRoom(userID)
	if room == nil {
		return fmt.Errorf("sfu: HandleICE: %s is not in any room", userID)
	}
	room.HandleICE(userID, candidate)
	return nil
}
