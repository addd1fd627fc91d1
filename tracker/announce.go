package tracker

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	bencode "github.com/jackpal/bencode-go"
)

const (
	// announceInterval is the re-announce period suggested to clients. It
	// has to stay well inside the fresh window or healthy peers would be
	// collected between two announces.
	announceInterval = 10 * time.Second

	// defaultNumWant is the number of peers returned when the client does
	// not ask for a specific count.
	defaultNumWant = 50
)

// Announce events, as reported in the "event" query parameter. An empty
// event is a keep-alive: the peer refreshes its freshness clock without
// changing state.
const (
	EventNone      = ""
	EventStarted   = "started"
	EventStopped   = "stopped"
	EventCompleted = "completed"
)

// AnnounceRequest is a parsed announce, as delivered by the HTTP layer.
// Fields arrive already validated; Announce itself never rejects a
// well-formed request except for an unknown info-hash.
type AnnounceRequest struct {
	HexInfoHash string
	PeerID      []byte
	IP          net.IP
	Port        uint16
	Uploaded    uint64
	Downloaded  uint64
	Left        uint64
	Event       string
	NumWant     int // 0 means default
}

// announceReply is the bencoded announce response.
type announceReply struct {
	Interval   int             `bencode:"interval"`
	Complete   int             `bencode:"complete"`
	Incomplete int             `bencode:"incomplete"`
	Peers      []announceEntry `bencode:"peers"`
}

// failureReply is the bencoded error response. Per BEP 3 the failure reason
// is the only key.
type failureReply struct {
	Reason string `bencode:"failure reason"`
}

// Announce applies an announce request against the registry and returns the
// bencoded reply body. An unknown info-hash produces a failure reply, not
// an error: this is a closed tracker and unknown torrents are an expected
// client mistake. Errors are reserved for encoding problems.
func (tr *Tracker) Announce(req AnnounceRequest) ([]byte, error) {
	torrent := tr.torrent(req.HexInfoHash)
	if torrent == nil {
		if debugEnabled.Load() {
			debug("announce for unknown torrent %s", req.HexInfoHash)
		}
		return Failure("unknown torrent")
	}

	hexPeerID := hex.EncodeToString(req.PeerID)

	state := Unknown
	switch req.Event {
	case EventStarted:
		state = Started
	case EventCompleted:
		state = Completed
	case EventStopped:
		state = Stopped
	case EventNone:
		state = torrent.peerState(hexPeerID)
	}

	torrent.Update(req.PeerID, req.IP, req.Port, state, req.Uploaded, req.Downloaded, req.Left)

	numWant := req.NumWant
	if numWant <= 0 {
		numWant = defaultNumWant
	}

	reply := announceReply{
		Interval:   int(announceInterval / time.Second),
		Complete:   torrent.SeederCount(),
		Incomplete: torrent.LeecherCount(),
	}
	for _, peer := range torrent.SomePeers(hexPeerID, numWant) {
		reply.Peers = append(reply.Peers, peer.announceEntry())
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, reply); err != nil {
		return nil, fmt.Errorf("can't encode announce reply: %w", err)
	}
	return buf.Bytes(), nil
}

// Failure encodes a bencoded failure reply with the given reason.
func Failure(reason string) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, failureReply{Reason: reason}); err != nil {
		return nil, fmt.Errorf("can't encode failure reply: %w", err)
	}
	return buf.Bytes(), nil
}
