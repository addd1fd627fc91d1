package tracker

import (
	"encoding/hex"
	"net"
	"time"
)

// freshWindow is how long a peer stays fresh after an announce. Peers that
// miss the window are evicted by the collector.
const freshWindow = 30 * time.Second

// PeerState is the lifecycle state of a peer exchanging on a torrent.
//
// Peers enter Started when they announce themselves. A peer starting with a
// complete file is put straight into Completed, since it reports 0 bytes
// left and will never announce completed itself. Peers pass through Stopped
// very briefly before removal, in case someone kept a reference on them.
type PeerState int

const (
	// Unknown is the state of a peer created before its first announce is
	// applied.
	Unknown PeerState = iota
	Started
	Completed
	Stopped
)

func (s PeerState) String() string {
	switch s {
	case Started:
		return "started"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TrackedPeer is one peer exchanging on one torrent. The tracker is not an
// exchange and does not care how much a peer has transferred, only when it
// starts, completes and stops, plus the timestamp of its last announce for
// freshness. The record is owned by its TrackedTorrent and only mutated
// under that torrent's lock.
type TrackedPeer struct {
	id           []byte
	hexID        string
	ip           net.IP
	port         uint16
	state        PeerState
	lastAnnounce time.Time
}

// newTrackedPeer creates a peer record in the Unknown state. The identity
// (id, ip, port) is fixed at creation; later announces re-identify the peer
// by its id instead of recreating it.
func newTrackedPeer(id []byte, ip net.IP, port uint16) *TrackedPeer {
	return &TrackedPeer{
		id:    append([]byte(nil), id...),
		hexID: hex.EncodeToString(id),
		ip:    ip,
		port:  port,
		state: Unknown,
	}
}

// HexID returns the hex form of the peer id, the key this peer is tracked
// under.
func (p *TrackedPeer) HexID() string {
	return p.hexID
}

// IP returns the peer's address.
func (p *TrackedPeer) IP() net.IP {
	return p.ip
}

// Port returns the peer's listening port.
func (p *TrackedPeer) Port() uint16 {
	return p.port
}

// State returns the peer's current lifecycle state.
func (p *TrackedPeer) State() PeerState {
	return p.state
}

// update applies an announce to this peer and stamps its freshness clock.
// A peer announcing Started with nothing left to download is a seeder
// already and is coerced to Completed. Inputs are never rejected.
func (p *TrackedPeer) update(state PeerState, uploaded, downloaded, left uint64) {
	if state == Started && left == 0 {
		state = Completed
	}
	p.state = state
	p.lastAnnounce = time.Now()
}

// IsCompleted reports whether this peer finished its download and can be
// counted as a seeder.
func (p *TrackedPeer) IsCompleted() bool {
	return p.state == Completed
}

// IsFresh reports whether this peer announced within the window ending at
// now. A peer that never announced is never fresh.
func (p *TrackedPeer) IsFresh(now time.Time, window time.Duration) bool {
	return !p.lastAnnounce.IsZero() && now.Sub(p.lastAnnounce) < window
}

// announceEntry is this peer's dictionary in an announce reply: the peer id
// in its original byte form, the IP and the port.
type announceEntry struct {
	PeerID string `bencode:"peer id"`
	IP     string `bencode:"ip"`
	Port   int    `bencode:"port"`
}

func (p *TrackedPeer) announceEntry() announceEntry {
	return announceEntry{
		PeerID: string(p.id),
		IP:     p.ip.String(),
		Port:   int(p.port),
	}
}
