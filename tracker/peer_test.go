package tracker

import (
	"net"
	"testing"
	"time"
)

func newTestPeer() *TrackedPeer {
	return newTrackedPeer([]byte("peer1_______________"), net.ParseIP("192.168.1.1"), 6881)
}

func TestNewTrackedPeer_StartsUnknown(t *testing.T) {
	peer := newTestPeer()

	if peer.State() != Unknown {
		t.Errorf("state = %v, want unknown", peer.State())
	}
	if peer.IsCompleted() {
		t.Error("fresh peer should not be completed")
	}
	if peer.IsFresh(time.Now(), freshWindow) {
		t.Error("peer with no announce should never be fresh")
	}
}

func TestUpdate_Started(t *testing.T) {
	peer := newTestPeer()
	peer.update(Started, 0, 0, 1000)

	if peer.State() != Started {
		t.Errorf("state = %v, want started", peer.State())
	}
	if peer.IsCompleted() {
		t.Error("leecher should not be completed")
	}
}

func TestUpdate_StartedWithZeroLeftBecomesCompleted(t *testing.T) {
	peer := newTestPeer()
	peer.update(Started, 0, 0, 0)

	if peer.State() != Completed {
		t.Errorf("state = %v, want completed", peer.State())
	}
	if !peer.IsCompleted() {
		t.Error("peer with nothing left is a seeder from the start")
	}
}

func TestUpdate_CompletedThenRestart(t *testing.T) {
	peer := newTestPeer()
	peer.update(Completed, 0, 2048, 0)

	if !peer.IsCompleted() {
		t.Error("peer should be completed")
	}

	// An explicit new started announce may re-enter Started
	peer.update(Started, 0, 0, 500)
	if peer.State() != Started {
		t.Errorf("state = %v, want started after restart", peer.State())
	}
}

func TestUpdate_StampsFreshness(t *testing.T) {
	peer := newTestPeer()
	peer.update(Started, 0, 0, 1000)

	if !peer.IsFresh(time.Now(), freshWindow) {
		t.Error("peer should be fresh right after an announce")
	}
}

func TestIsFresh_WindowBoundaries(t *testing.T) {
	peer := newTestPeer()
	peer.update(Started, 0, 0, 1000)
	now := time.Now()

	peer.lastAnnounce = now.Add(-29 * time.Second)
	if !peer.IsFresh(now, freshWindow) {
		t.Error("peer announced 29s ago should be fresh")
	}

	peer.lastAnnounce = now.Add(-31 * time.Second)
	if peer.IsFresh(now, freshWindow) {
		t.Error("peer announced 31s ago should not be fresh")
	}
}

func TestHexID(t *testing.T) {
	peer := newTrackedPeer([]byte{0xde, 0xad, 0xbe, 0xef}, net.ParseIP("10.0.0.1"), 6881)

	if peer.HexID() != "deadbeef" {
		t.Errorf("HexID = %q, want deadbeef", peer.HexID())
	}
}

func TestAnnounceEntry(t *testing.T) {
	peer := newTrackedPeer([]byte("peer1_______________"), net.ParseIP("192.168.1.1"), 6882)
	entry := peer.announceEntry()

	if entry.PeerID != "peer1_______________" {
		t.Errorf("PeerID = %q, want original bytes", entry.PeerID)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("IP = %q, want 192.168.1.1", entry.IP)
	}
	if entry.Port != 6882 {
		t.Errorf("Port = %d, want 6882", entry.Port)
	}
}
