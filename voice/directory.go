// Package voice implements VoiceDirectory (C4): the authoritative record
// of who is in which voice channel and their per-user state flags, and
// ControllerSessions (C8): the gamepad passthrough state machine.
package voice

import (
	"fmt"
	"sync"
	"time"
)

type Participant struct {
	UserID              string    `json:"user_id"`
	ChannelID           string    `json:"channel_id"`
	JoinedAt            time.Time `json:"joined_at"`
	IsMuted             bool      `json:"is_muted"`
	IsDeafened          bool      `json:"is_deafened"`
	IsServerMuted       bool      `json:"is_server_muted"`
	IsServerDeafened    bool      `json:"is_server_deafened"`
	IsCameraOn          bool      `json:"is_camera_on"`
	IsScreenSharing     bool      `json:"is_screen_sharing"`
	ScreenShareHasAudio bool      `json:"screen_share_has_audio"`
}

// StatePatch carries the subset of self-state fields a client may update
// via UpdateVoiceState. Nil fields are left unchanged.
type StatePatch struct {
	IsMuted             *bool
	IsDeafened          *bool
	IsCameraOn          *bool
	IsScreenSharing     *bool
	ScreenShareHasAudio *bool
}

// Directory tracks, for every user currently in voice, which channel and
// what state. A user is in at most one channel at any time; per-user
// mutations are serialized by a lock taken for the whole critical
// section, per the single-channel invariant.
type Directory struct {
	mu       sync.Mutex
	byUser   map[string]*Participant
	byChan   map[string]map[string]*Participant
}

func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]*Participant),
		byChan: make(map[string]map[string]*Participant),
	}
}

// Join records that user_id has joined channel_id, first leaving any
// channel the user was previously in (single-channel invariant). The
// caller is responsible for validating community membership beforehand.
func (d *Directory) Join(channelID, userID string) *Participant {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(userID)

	p := &Participant{
		UserID:    userID,
		ChannelID: channelID,
		JoinedAt:  time.Now(),
	}
	d.byUser[userID] = p
	if d.byChan[channelID] == nil {
		d.byChan[channelID] = make(map[string]*Participant)
	}
	d.byChan[channelID][userID] = p

	cp := *p
	return &cp
}

// Leave removes userID from channelID if currently joined there.
// Idempotent: leaving a channel the user isn't in is a no-op.
func (d *Directory) Leave(channelID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok || p.ChannelID != channelID {
		return
	}
	d.removeLocked(userID)
}

// LeaveAll removes userID from whatever channel it's in, returning that
// channel id (or "" if the user wasn't in voice). Idempotent.
func (d *Directory) LeaveAll(userID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok {
		return ""
	}
	ch := p.ChannelID
	d.removeLocked(userID)
	return ch
}

// removeLocked must be called with d.mu held.
func (d *Directory) removeLocked(userID string) {
	p, ok := d.byUser[userID]
	if !ok {
		return
	}
	delete(d.byUser, userID)
	if m := d.byChan[p.ChannelID]; m != nil {
		delete(m, userID)
		if len(m) == 0 {
			delete(d.byChan, p.ChannelID)
		}
	}
}

func (d *Directory) UpdateSelfState(channelID, userID string, patch StatePatch) (*Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok || p.ChannelID != channelID {
		return nil, fmt.Errorf("voice: %s is not in channel %s", userID, channelID)
	}

	if patch.IsMuted != nil {
		if p.IsServerMuted && !*patch.IsMuted {
			// self-lift rejected while server-muted; state unchanged
		} else {
			p.IsMuted = *patch.IsMuted
		}
	}
	if patch.IsDeafened != nil {
		if p.IsServerDeafened && !*patch.IsDeafened {
			// self-lift rejected while server-deafened
		} else {
			p.IsDeafened = *patch.IsDeafened
		}
	}
	if patch.IsCameraOn != nil {
		p.IsCameraOn = *patch.IsCameraOn
	}
	if patch.IsScreenSharing != nil {
		p.IsScreenSharing = *patch.IsScreenSharing
	}
	if patch.ScreenShareHasAudio != nil {
		p.ScreenShareHasAudio = *patch.ScreenShareHasAudio
	}

	cp := *p
	return &cp, nil
}

// SetServerMute sets the server-mute flag. Setting it false clears both
// server-mute and server-deafen is NOT implied; only the deafen->mute
// direction is forced (see SetServerDeafen).
func (d *Directory) SetServerMute(channelID, userID string, value bool) (*Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok || p.ChannelID != channelID {
		return nil, fmt.Errorf("voice: %s is not in channel %s", userID, channelID)
	}
	p.IsServerMuted = value
	if !value {
		p.IsMuted = false
	} else {
		p.IsMuted = true
	}
	cp := *p
	return &cp, nil
}

// SetServerDeafen sets server-deafen; true forces server-mute true too,
// applied atomically under the same lock.
func (d *Directory) SetServerDeafen(channelID, userID string, value bool) (*Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok || p.ChannelID != channelID {
		return nil, fmt.Errorf("voice: %s is not in channel %s", userID, channelID)
	}
	p.IsServerDeafened = value
	p.IsDeafened = value
	if value {
		p.IsServerMuted = true
		p.IsMuted = true
	}
	cp := *p
	return &cp, nil
}

// Move transfers target_user from its current channel to toChannel,
// returning the new participant state and the channel moved from.
func (d *Directory) Move(targetUser, toChannel string) (*Participant, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior, ok := d.byUser[targetUser]
	if !ok {
		return nil, "", fmt.Errorf("voice: %s is not in voice", targetUser)
	}
	fromChannel := prior.ChannelID

	// Preserve flags across the move; only membership changes.
	moved := *prior
	moved.ChannelID = toChannel

	d.removeLocked(targetUser)

	np := moved
	d.byUser[targetUser] = &np
	if d.byChan[toChannel] == nil {
		d.byChan[toChannel] = make(map[string]*Participant)
	}
	d.byChan[toChannel][targetUser] = &np

	cp := np
	return &cp, fromChannel, nil
}

func (d *Directory) Get(channelID, userID string) (*Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok || p.ChannelID != channelID {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (d *Directory) List(channelID string) []Participant {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := d.byChan[channelID]
	out := make([]Participant, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	return out
}

func (d *Directory) CurrentChannelOf(userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byUser[userID]
	if !ok {
		return "", false
	}
	return p.ChannelID, true
}
