package tracker

import (
	"bytes"
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	bencode "github.com/jackpal/bencode-go"
	"golang.org/x/time/rate"
)

const (
	// Query parameters are byte strings in disguise; the charset matters
	// when clients decode the reply.
	announceContentType = "text/plain; charset=iso-8859-1"

	// Per-IP announce budget. Well-behaved clients announce once per
	// announceInterval; the burst absorbs clients on many torrents.
	announcesPerSecond = 1
	announceBurst      = 10

	// limiterIdleTimeout is how long an idle client keeps its limiter
	// entry before the collector prunes it.
	limiterIdleTimeout = 10 * time.Minute
)

// announceLimiters tracks one rate limiter per client IP. Entries for idle
// clients are pruned from the collector loop.
type announceLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAnnounceLimiters() *announceLimiters {
	return &announceLimiters{limiters: make(map[string]*limiterEntry)}
}

func (al *announceLimiters) allow(ip string) bool {
	al.mu.Lock()
	entry, ok := al.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(announcesPerSecond, announceBurst)}
		al.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	allowed := entry.limiter.Allow()
	al.mu.Unlock()
	return allowed
}

func (al *announceLimiters) prune(now time.Time) {
	al.mu.Lock()
	for ip, entry := range al.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTimeout {
			delete(al.limiters, ip)
		}
	}
	al.mu.Unlock()
}

// routes builds the tracker's HTTP handler. The version string rides along
// in the Server header of every response.
func (tr *Tracker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AnnouncePath, tr.handleAnnounce)
	mux.HandleFunc(ScrapePath, tr.handleScrape)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "ttorrent "+tr.version)
		mux.ServeHTTP(w, r)
	})
}

// handleAnnounce parses the announce query parameters, rejecting malformed
// requests before they reach the registry, and writes the bencoded reply.
func (tr *Tracker) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	clientIP := remoteIP(r)
	if clientIP == nil {
		writeFailure(w, "can't determine client address")
		return
	}
	if !tr.limiters.allow(clientIP.String()) {
		if debugEnabled.Load() {
			debug("rate limited announce from %s", clientIP)
		}
		writeFailure(w, "too many announces, slow down")
		return
	}

	infoHash := query.Get("info_hash")
	if len(infoHash) != 20 {
		writeFailure(w, "info_hash must be 20 bytes")
		return
	}
	peerID := query.Get("peer_id")
	if peerID == "" || len(peerID) > 20 {
		writeFailure(w, "invalid peer_id")
		return
	}
	port, err := strconv.ParseUint(query.Get("port"), 10, 16)
	if err != nil || port == 0 {
		writeFailure(w, "invalid port")
		return
	}
	uploaded, err := queryUint(query, "uploaded")
	if err != nil {
		writeFailure(w, "invalid uploaded value")
		return
	}
	downloaded, err := queryUint(query, "downloaded")
	if err != nil {
		writeFailure(w, "invalid downloaded value")
		return
	}
	left, err := queryUint(query, "left")
	if err != nil {
		writeFailure(w, "invalid left value")
		return
	}

	event := query.Get("event")
	switch event {
	case EventNone, EventStarted, EventStopped, EventCompleted:
	default:
		writeFailure(w, "invalid event")
		return
	}

	numWant := 0
	if raw := query.Get("numwant"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeFailure(w, "invalid numwant")
			return
		}
		numWant = n
	}

	// Clients behind a gateway may report their routable address.
	if raw := query.Get("ip"); raw != "" {
		if ip := net.ParseIP(raw); ip != nil {
			clientIP = ip
		}
	}

	if debugEnabled.Load() {
		debug("announce from %s: info_hash=%x peer_id=%x event=%q left=%d port=%d numwant=%d",
			clientIP, infoHash, peerID, event, left, port, numWant)
	}

	body, err := tr.Announce(AnnounceRequest{
		HexInfoHash: hex.EncodeToString([]byte(infoHash)),
		PeerID:      []byte(peerID),
		IP:          clientIP,
		Port:        uint16(port),
		Uploaded:    uploaded,
		Downloaded:  downloaded,
		Left:        left,
		Event:       event,
		NumWant:     numWant,
	})
	if err != nil {
		errorLog("announce from %s: %v", r.RemoteAddr, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeReply(w, body)
}

// scrapeEntry is the per-torrent statistics dictionary in a scrape reply.
// The tracker does not record completion totals over time, so only the
// current seeder and leecher counts are served.
type scrapeEntry struct {
	Complete   int `bencode:"complete"`
	Incomplete int `bencode:"incomplete"`
}

// handleScrape serves torrent statistics without an announce. Unknown or
// malformed hashes are silently omitted from the reply, per convention.
func (tr *Tracker) handleScrape(w http.ResponseWriter, r *http.Request) {
	hashes := r.URL.Query()["info_hash"]
	if len(hashes) == 0 {
		writeFailure(w, "no info hashes provided")
		return
	}

	files := make(map[string]interface{}, len(hashes))
	for _, raw := range hashes {
		if len(raw) != 20 {
			continue
		}
		torrent := tr.torrent(hex.EncodeToString([]byte(raw)))
		if torrent == nil {
			continue
		}
		files[raw] = scrapeEntry{
			Complete:   torrent.SeederCount(),
			Incomplete: torrent.LeecherCount(),
		}
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, map[string]interface{}{"files": files}); err != nil {
		errorLog("scrape from %s: %v", r.RemoteAddr, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeReply(w, buf.Bytes())
}

func queryUint(query url.Values, key string) (uint64, error) {
	return strconv.ParseUint(query.Get(key), 10, 64)
}

// remoteIP extracts the client IP from the request, without the port.
func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func writeReply(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", announceContentType)
	if _, err := w.Write(body); err != nil {
		debug("failed to write tracker reply: %v", err)
	}
}

// writeFailure sends a bencoded failure reply. Failures ride on HTTP 200:
// BitTorrent clients surface the failure reason, not the status code.
func writeFailure(w http.ResponseWriter, reason string) {
	body, err := Failure(reason)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeReply(w, body)
}
