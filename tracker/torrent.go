package tracker

import (
	"encoding/hex"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/turn/ttorrent/metainfo"
)

// TrackedTorrent is one actively tracked torrent and its repository of
// seeding and leeching peers. Announce handlers and the collector mutate the
// repository concurrently; a per-torrent lock keeps per-peer operations
// atomic without one torrent's announce storm stalling another's.
type TrackedTorrent struct {
	meta *metainfo.Torrent

	mu    sync.RWMutex
	peers map[string]*TrackedPeer // keyed by hex peer id
}

func newTrackedTorrent(meta *metainfo.Torrent) *TrackedTorrent {
	return &TrackedTorrent{
		meta:  meta,
		peers: make(map[string]*TrackedPeer),
	}
}

// Name returns the torrent's display name.
func (t *TrackedTorrent) Name() string {
	return t.meta.Name()
}

// HexInfoHash returns the torrent's registry key.
func (t *TrackedTorrent) HexInfoHash() string {
	return t.meta.HexInfoHash()
}

// Update applies an announce from the peer identified by id, creating its
// lifecycle record on first contact. A Stopped announce removes the peer
// before Update returns; a Stopped announce for a peer never seen is a
// no-op. Returns the peer record, or nil when nothing remains tracked.
func (t *TrackedTorrent) Update(id []byte, ip net.IP, port uint16, state PeerState, uploaded, downloaded, left uint64) *TrackedPeer {
	key := hex.EncodeToString(id)

	t.mu.Lock()
	peer, ok := t.peers[key]
	if !ok {
		if state == Stopped {
			t.mu.Unlock()
			return nil
		}
		peer = newTrackedPeer(id, ip, port)
		t.peers[key] = peer
	}
	prev := peer.state
	peer.update(state, uploaded, downloaded, left)
	cur := peer.state
	if cur == Stopped {
		delete(t.peers, key)
	}
	t.mu.Unlock()

	if cur != prev {
		info("peer %s %s download of '%s'", key, cur, t.Name())
	}
	if cur == Stopped {
		return nil
	}
	return peer
}

// peerState returns the current state for a peer key, so keep-alive
// announces refresh a peer without overriding its state. A peer never seen
// before counts as Started.
func (t *TrackedTorrent) peerState(hexID string) PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if peer, ok := t.peers[hexID]; ok {
		return peer.state
	}
	return Started
}

// PeerCount returns the number of peers currently tracked on this torrent.
func (t *TrackedTorrent) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// SeederCount returns the number of peers that completed their download.
func (t *TrackedTorrent) SeederCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, peer := range t.peers {
		if peer.IsCompleted() {
			count++
		}
	}
	return count
}

// LeecherCount returns the number of peers still downloading.
func (t *TrackedTorrent) LeecherCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, peer := range t.peers {
		if !peer.IsCompleted() {
			count++
		}
	}
	return count
}

// SomePeers returns up to numWant peers to disclose to the requesting peer,
// never including the requester itself. Selection walks the peer set from a
// random offset so repeated announces spread the swarm around; no further
// ordering is guaranteed.
func (t *TrackedTorrent) SomePeers(excludeHexID string, numWant int) []*TrackedPeer {
	t.mu.RLock()
	candidates := make([]*TrackedPeer, 0, len(t.peers))
	for key, peer := range t.peers {
		if key != excludeHexID {
			candidates = append(candidates, peer)
		}
	}
	t.mu.RUnlock()

	if len(candidates) == 0 || numWant <= 0 {
		return nil
	}

	count := min(numWant, len(candidates))
	selected := make([]*TrackedPeer, 0, count)
	start := rand.Intn(len(candidates))
	for i := 0; i < count; i++ {
		selected = append(selected, candidates[(start+i)%len(candidates)])
	}
	return selected
}

// CollectUnfreshPeers removes every peer whose last announce fell out of the
// fresh window. This is the only automatic expiry path; stopped announces
// remove peers directly and independently.
func (t *TrackedTorrent) CollectUnfreshPeers(now time.Time, window time.Duration) {
	t.mu.Lock()
	for key, peer := range t.peers {
		if !peer.IsFresh(now, window) {
			delete(t.peers, key)
			if debugEnabled.Load() {
				debug("collected unfresh peer %s from '%s'", key, t.meta.Name())
			}
		}
	}
	t.mu.Unlock()
}
