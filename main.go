package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/turn/ttorrent/metainfo"
	"github.com/turn/ttorrent/tracker"
)

var version = "dev"

// torrentRescanInterval is how often the torrent directory is rescanned for
// newly dropped .torrent files.
const torrentRescanInterval = time.Minute

//nolint:govet // Field alignment is acceptable
type config struct {
	torrentsDir string
	port        int
	showVersion bool
	debug       bool
}

// parseFlags parses command-line flags and returns configuration.
// Default values are read from environment variables:
//   - TTORRENT__PORT: port to listen on (must be > 0)
//   - TTORRENT__TORRENTS: directory of .torrent files to track
//   - DEBUG: enables debug mode if set
func parseFlags(args []string) config {
	defaultPort := tracker.DefaultPort
	if p, err := strconv.Atoi(os.Getenv("TTORRENT__PORT")); err == nil && p > 0 {
		defaultPort = p
	}

	defaultTorrents := os.Getenv("TTORRENT__TORRENTS")
	if defaultTorrents == "" {
		defaultTorrents = "."
	}

	debugDefault := os.Getenv("DEBUG") != ""

	fs := flag.NewFlagSet("ttorrent-tracker", flag.ExitOnError)
	port := fs.Int("port", defaultPort, "port to listen on [env TTORRENT__PORT]")
	fs.IntVar(port, "p", defaultPort, "alias to -port")

	torrents := fs.String("torrents", defaultTorrents,
		"directory of .torrent files to track [env TTORRENT__TORRENTS]")
	fs.StringVar(torrents, "t", defaultTorrents, "alias to -torrents")

	debug := fs.Bool("debug", debugDefault, "enable debug logs [env DEBUG]")
	fs.BoolVar(debug, "d", debugDefault, "alias to -debug")

	showVersion := fs.Bool("version", false, "print version")
	fs.BoolVar(showVersion, "v", false, "alias to -version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nttorrent tracker: %s\nClosed BitTorrent tracker (HTTP)\n\n", version)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
	}

	// With ExitOnError, flag package exits on error
	//nolint:errcheck // Test flags are valid, parsing error will exit
	_ = fs.Parse(args)

	return config{
		port:        *port,
		torrentsDir: *torrents,
		showVersion: *showVersion,
		debug:       *debug,
	}
}

// watchTorrents registers every .torrent file under dir, then periodically
// rescans for newcomers until the context is cancelled. A file that fails
// to parse only fails its own registration: it is logged, skipped, and
// retried on the next scan in case it was still being written.
func watchTorrents(ctx context.Context, tr *tracker.Tracker, dir string) {
	seen := make(map[string]struct{})

	scan := func() {
		matches, err := filepath.Glob(filepath.Join(dir, "*.torrent"))
		if err != nil {
			log.Printf("[ERROR] can't scan torrent directory: %v", err)
			return
		}
		for _, path := range matches {
			if _, ok := seen[path]; ok {
				continue
			}
			meta, err := metainfo.Load(path)
			if err != nil {
				log.Printf("[WARN] skipping %s: %v", filepath.Base(path), err)
				continue
			}
			tr.Register(meta)
			seen[path] = struct{}{}
		}
	}

	scan()

	ticker := time.NewTicker(torrentRescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		}
	}
}

func main() {
	cfg := parseFlags(os.Args[1:])

	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	tracker.SetDebug(cfg.debug)

	tr := tracker.New(fmt.Sprintf(":%d", cfg.port), version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tr.Start(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	go watchTorrents(ctx, tr, cfg.torrentsDir)

	<-ctx.Done()
	log.Printf("[INFO] Shutting down gracefully...")
	tr.Stop()
}
