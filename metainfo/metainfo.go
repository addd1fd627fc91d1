// Package metainfo parses BitTorrent metainfo (.torrent) blobs and computes
// the canonical info-hash identifying a torrent on the tracker.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	bencode "github.com/jackpal/bencode-go"
)

// pieceLength is the piece size used when creating new torrents (512 KiB).
const pieceLength = 512 * 1024

// Torrent is the immutable identity of a torrent, derived once from its
// metainfo blob. Two blobs with byte-identical "info" dictionaries yield the
// same identity regardless of the surrounding metadata.
type Torrent struct {
	encoded     []byte
	infoHash    [20]byte
	hexInfoHash string
	name        string
	announceURL string
}

// Parse decodes a metainfo blob and computes its info-hash.
//
// The info-hash is the SHA-1 digest of the canonical bencoding of the "info"
// dictionary only. The bencode library writes dictionary keys in sorted
// order, which is the canonical form, so the digest is reproducible no
// matter how the source blob ordered its keys.
func Parse(blob []byte) (*Torrent, error) {
	decoded, err := bencode.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("can't parse torrent metainfo: %w", err)
	}

	top, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, errors.New("metainfo is not a dictionary")
	}
	announce, ok := top["announce"].(string)
	if !ok {
		return nil, errors.New("metainfo has no announce URL")
	}
	info, ok := top["info"].(map[string]interface{})
	if !ok {
		return nil, errors.New("metainfo has no info dictionary")
	}
	name, ok := info["name"].(string)
	if !ok {
		return nil, errors.New("info dictionary has no name")
	}

	var encodedInfo bytes.Buffer
	if err := bencode.Marshal(&encodedInfo, info); err != nil {
		return nil, fmt.Errorf("can't re-encode info dictionary: %w", err)
	}

	t := &Torrent{
		encoded:     append([]byte(nil), blob...),
		infoHash:    sha1.Sum(encodedInfo.Bytes()),
		name:        name,
		announceURL: announce,
	}
	t.hexInfoHash = hex.EncodeToString(t.infoHash[:])
	return t, nil
}

// Load reads a .torrent file and parses it.
func Load(path string) (*Torrent, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read torrent file: %w", err)
	}
	return Parse(blob)
}

// Create builds a single-file metainfo blob for the file at source, hashing
// its pieces, and returns the parsed identity.
func Create(source, announce, createdBy string) (*Torrent, error) {
	pieces, length, err := hashPieces(source)
	if err != nil {
		return nil, fmt.Errorf("can't hash pieces of %s: %w", source, err)
	}

	blob := map[string]interface{}{
		"announce":      announce,
		"created by":    createdBy,
		"creation date": time.Now().Unix(),
		"info": map[string]interface{}{
			"length":       length,
			"name":         filepath.Base(source),
			"piece length": pieceLength,
			"pieces":       pieces,
		},
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, blob); err != nil {
		return nil, fmt.Errorf("can't encode torrent metainfo: %w", err)
	}
	return Parse(buf.Bytes())
}

// hashPieces returns the concatenated SHA-1 digests of the source file's
// pieces, plus its total length.
func hashPieces(source string) (string, int64, error) {
	f, err := os.Open(source)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var pieces bytes.Buffer
	var length int64
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			pieces.Write(sum[:])
			length += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return pieces.String(), length, nil
		}
		if err != nil {
			return "", 0, err
		}
	}
}

// InfoHash returns the raw 20-byte SHA-1 info-hash.
func (t *Torrent) InfoHash() [20]byte {
	return t.infoHash
}

// HexInfoHash returns the lowercase hex form of the info-hash, used as the
// tracker's registry key.
func (t *Torrent) HexInfoHash() string {
	return t.hexInfoHash
}

// Name returns the torrent's display name. For a single-file torrent this
// is the file name; for a multi-file torrent the top-level directory.
func (t *Torrent) Name() string {
	return t.name
}

// AnnounceURL returns the announce URL declared in the metainfo.
func (t *Torrent) AnnounceURL() string {
	return t.announceURL
}

// Encoded returns the original metainfo blob.
func (t *Torrent) Encoded() []byte {
	return t.encoded
}

func (t *Torrent) String() string {
	return t.name
}
