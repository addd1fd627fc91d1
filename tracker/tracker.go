package tracker

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turn/ttorrent/metainfo"
)

const (
	// AnnouncePath is the path clients announce on.
	AnnouncePath = "/announce"
	// ScrapePath is the path clients query torrent statistics on.
	ScrapePath = "/scrape"
	// DefaultPort is the standard BitTorrent tracker port.
	DefaultPort = 6969

	// collectionInterval is how often the collector sweeps every tracked
	// torrent for unfresh peers.
	collectionInterval = 15 * time.Second

	// stopDrainTimeout bounds how long Stop waits for the serve and
	// collector loops to wind down.
	stopDrainTimeout = 5 * time.Second
)

// Tracker is a closed BitTorrent tracker: it only serves announces for
// torrents registered to it beforehand, and the registration list is
// managed by the program instrumenting it.
type Tracker struct {
	addr    string
	version string

	mu       sync.RWMutex
	torrents map[string]*TrackedTorrent // keyed by hex info-hash

	running  atomic.Bool
	listener net.Listener
	server   *http.Server
	done     chan struct{}
	wg       sync.WaitGroup

	limiters *announceLimiters
}

// New creates a tracker that will listen on addr. The version string is
// served in the HTTP headers.
func New(addr, version string) *Tracker {
	return &Tracker{
		addr:     addr,
		version:  version,
		torrents: make(map[string]*TrackedTorrent),
		limiters: newAnnounceLimiters(),
	}
}

// Register starts tracking the given torrent. Registering an info-hash that
// is already tracked is a no-op returning the existing entry unchanged, so
// concurrent callers always observe the same entry.
func (tr *Tracker) Register(meta *metainfo.Torrent) *TrackedTorrent {
	key := meta.HexInfoHash()

	tr.mu.Lock()
	if existing, ok := tr.torrents[key]; ok {
		tr.mu.Unlock()
		warn("already tracking torrent '%s' with hash %s", existing.Name(), key)
		return existing
	}
	torrent := newTrackedTorrent(meta)
	tr.torrents[key] = torrent
	tr.mu.Unlock()

	info("registered new torrent '%s' with hash %s", meta.Name(), key)
	return torrent
}

// Unregister stops tracking the given torrent immediately. A nil torrent or
// an unknown hash is a no-op.
func (tr *Tracker) Unregister(meta *metainfo.Torrent) {
	if meta == nil {
		return
	}
	tr.mu.Lock()
	delete(tr.torrents, meta.HexInfoHash())
	tr.mu.Unlock()
}

// UnregisterAfter schedules removal of the torrent once delay elapses.
// Multiple schedules for the same torrent are independent; the first to
// fire removes the entry and the rest are no-ops. A timer firing after the
// tracker stopped just removes from the in-memory map, which is harmless.
func (tr *Tracker) UnregisterAfter(meta *metainfo.Torrent, delay time.Duration) {
	if meta == nil {
		return
	}
	time.AfterFunc(delay, func() {
		tr.Unregister(meta)
	})
}

// Len returns the number of torrents currently tracked.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.torrents)
}

// torrent returns the tracked torrent for a hex info-hash, or nil.
func (tr *Tracker) torrent(hexInfoHash string) *TrackedTorrent {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.torrents[hexInfoHash]
}

// snapshot copies the current set of tracked torrents so the sweep never
// holds the registry lock while it works. A torrent removed mid-sweep is
// simply swept one last time; one registered mid-sweep catches the next
// tick.
func (tr *Tracker) snapshot() []*TrackedTorrent {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	torrents := make([]*TrackedTorrent, 0, len(tr.torrents))
	for _, torrent := range tr.torrents {
		torrents = append(torrents, torrent)
	}
	return torrents
}

// AnnounceURL returns the full announce URL served by this tracker, of the
// form http://host:port/announce.
func (tr *Tracker) AnnounceURL() string {
	addr := tr.addr
	if tr.running.Load() && tr.listener != nil {
		addr = tr.listener.Addr().String()
	}
	return fmt.Sprintf("http://%s%s", addr, AnnouncePath)
}

// Start brings the tracker online: it binds the announce listener and
// spawns the HTTP serve loop and the peer collector. Starting a running
// tracker is a no-op.
func (tr *Tracker) Start() error {
	if !tr.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := net.Listen("tcp", tr.addr)
	if err != nil {
		tr.running.Store(false)
		return fmt.Errorf("can't bind tracker listener: %w", err)
	}
	tr.listener = listener
	tr.done = make(chan struct{})
	tr.server = &http.Server{
		Handler:           tr.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	info("starting BitTorrent tracker on %s", tr.AnnounceURL())

	tr.wg.Add(2)
	go tr.serve()
	go tr.collect()
	return nil
}

// Stop takes the tracker offline. Closing the listener and cancelling the
// collector are independent: a failure on one does not prevent the other.
// Stop is safe to call twice and waits a bounded time for in-flight loops.
func (tr *Tracker) Stop() {
	if !tr.running.CompareAndSwap(true, false) {
		return
	}

	if err := tr.server.Close(); err != nil {
		errorLog("could not close tracker listener: %v", err)
	} else {
		info("BitTorrent tracker closed")
	}

	close(tr.done)

	drained := make(chan struct{})
	go func() {
		tr.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		info("peer collection terminated")
	case <-time.After(stopDrainTimeout):
		warn("tracker stopped with loops still draining")
	}
}

// serve runs the HTTP listener until the tracker is stopped.
func (tr *Tracker) serve() {
	defer tr.wg.Done()

	err := tr.server.Serve(tr.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && tr.running.Load() {
		errorLog("tracker serve loop: %v", err)
	}
}

// collect periodically sweeps every tracked torrent for unfresh peers and
// prunes idle announce limiters. The loop wakes promptly on Stop rather
// than sleeping out a full tick.
func (tr *Tracker) collect() {
	defer tr.wg.Done()

	ticker := time.NewTicker(collectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tr.done:
			return
		case now := <-ticker.C:
			for _, torrent := range tr.snapshot() {
				torrent.CollectUnfreshPeers(now, freshWindow)
			}
			tr.limiters.prune(now)
		}
	}
}
