package sfu

import "sync"

type streamerKey struct {
	channelID string
	streamer  string
}

// ViewerSet implements ScreenShareViewerSet (C7): a per-(channel,
// streamer) opt-in viewer set consulted by Room's fan-out. Mutations
// are serialized per (channel, streamer).
type ViewerSet struct {
	mu      sync.Mutex
	viewers map[streamerKey]map[string]struct{}
}

func NewViewerSet() *ViewerSet {
	return &ViewerSet{viewers: make(map[streamerKey]map[string]struct{})}
}

func (v *ViewerSet) Add(channelID, streamer, viewer string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := streamerKey{channelID, streamer}
	if v.viewers[key] == nil {
		v.viewers[key] = make(map[string]struct{})
	}
	v.viewers[key][viewer] = struct{}{}
}

func (v *ViewerSet) Remove(channelID, streamer, viewer string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := streamerKey{channelID, streamer}
	if m := v.viewers[key]; m != nil {
		delete(m, viewer)
		if len(m) == 0 {
			delete(v.viewers, key)
		}
	}
}

// ClearForStreamer removes every viewer of (channel, streamer). Must run
// before the VideoStreamStopped event reaches viewers, so a stale viewer
// can't cause one more forwarding cycle.
func (v *ViewerSet) ClearForStreamer(channelID, streamer string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := streamerKey{channelID, streamer}
	m := v.viewers[key]
	delete(v.viewers, key)
	out := make([]string, 0, len(m))
	for viewer := range m {
		out = append(out, viewer)
	}
	return out
}

func (v *ViewerSet) IsWatching(channelID, streamer, viewer string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.viewers[streamerKey{channelID, streamer}]
	if m == nil {
		return false
	}
	_, ok := m[viewer]
	return ok
}

func (v *ViewerSet) ViewersOf(channelID, streamer string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.viewers[streamerKey{channelID, streamer}]
	out := make([]string, 0, len(m))
	for viewer := range m {
		out = append(out, viewer)
	}
	return out
}
