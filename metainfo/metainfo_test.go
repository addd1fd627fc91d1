package metainfo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bencode "github.com/jackpal/bencode-go"
)

func encodeBlob(t *testing.T, data map[string]interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, data); err != nil {
		t.Fatalf("failed to encode test blob: %v", err)
	}
	return buf.Bytes()
}

func testInfo() map[string]interface{} {
	return map[string]interface{}{
		"name":         "ubuntu.iso",
		"length":       2048,
		"piece length": 1024,
		"pieces":       "aaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbb",
	}
}

func TestParse_Fields(t *testing.T) {
	blob := encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com:6969/announce",
		"info":     testInfo(),
	})

	torrent, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if torrent.Name() != "ubuntu.iso" {
		t.Errorf("Name = %q, want ubuntu.iso", torrent.Name())
	}
	if torrent.AnnounceURL() != "http://tracker.example.com:6969/announce" {
		t.Errorf("AnnounceURL = %q", torrent.AnnounceURL())
	}
	if len(torrent.HexInfoHash()) != 40 {
		t.Errorf("HexInfoHash length = %d, want 40", len(torrent.HexInfoHash()))
	}
	if torrent.InfoHash() == [20]byte{} {
		t.Error("InfoHash is zero")
	}
	if !bytes.Equal(torrent.Encoded(), blob) {
		t.Error("Encoded does not round-trip the original blob")
	}
}

func TestParse_HashIgnoresSurroundingMetadata(t *testing.T) {
	first, err := Parse(encodeBlob(t, map[string]interface{}{
		"announce": "http://one.example.com/announce",
		"info":     testInfo(),
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	second, err := Parse(encodeBlob(t, map[string]interface{}{
		"announce":   "http://two.example.com/announce",
		"comment":    "entirely different surroundings",
		"created by": "someone else",
		"info":       testInfo(),
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if first.HexInfoHash() != second.HexInfoHash() {
		t.Errorf("identical info dicts hashed differently: %s vs %s",
			first.HexInfoHash(), second.HexInfoHash())
	}
}

func TestParse_HashChangesWithInfo(t *testing.T) {
	info := testInfo()
	info["name"] = "debian.iso"

	first, err := Parse(encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     testInfo(),
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	second, err := Parse(encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     info,
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if first.HexInfoHash() == second.HexInfoHash() {
		t.Error("different info dicts produced the same hash")
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a torrent at all")); err == nil {
		t.Error("expected error for non-bencoded data")
	}
}

func TestParse_RejectsMissingAnnounce(t *testing.T) {
	blob := encodeBlob(t, map[string]interface{}{"info": testInfo()})
	if _, err := Parse(blob); err == nil {
		t.Error("expected error for missing announce")
	}
}

func TestParse_RejectsMissingInfo(t *testing.T) {
	blob := encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
	})
	if _, err := Parse(blob); err == nil {
		t.Error("expected error for missing info dictionary")
	}
}

func TestParse_RejectsInfoWithoutName(t *testing.T) {
	info := testInfo()
	delete(info, "name")
	blob := encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     info,
	})
	if _, err := Parse(blob); err == nil {
		t.Error("expected error for info dictionary without name")
	}
}

func TestHexInfoHash_IsLowercase(t *testing.T) {
	torrent, err := Parse(encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     testInfo(),
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if torrent.HexInfoHash() != strings.ToLower(torrent.HexInfoHash()) {
		t.Errorf("HexInfoHash is not lowercase: %s", torrent.HexInfoHash())
	}
}

func TestLoad(t *testing.T) {
	blob := encodeBlob(t, map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     testInfo(),
	})
	path := filepath.Join(t.TempDir(), "test.torrent")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatalf("can't write test file: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	parsed, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if loaded.HexInfoHash() != parsed.HexInfoHash() {
		t.Error("Load and Parse disagree on the info-hash")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.torrent")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCreate(t *testing.T) {
	source := filepath.Join(t.TempDir(), "payload.bin")
	data := bytes.Repeat([]byte("x"), 3000)
	if err := os.WriteFile(source, data, 0o644); err != nil {
		t.Fatalf("can't write source file: %v", err)
	}

	torrent, err := Create(source, "http://tracker.example.com/announce", "unit test")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if torrent.Name() != "payload.bin" {
		t.Errorf("Name = %q, want payload.bin", torrent.Name())
	}
	if torrent.AnnounceURL() != "http://tracker.example.com/announce" {
		t.Errorf("AnnounceURL = %q", torrent.AnnounceURL())
	}

	decoded, err := bencode.Decode(bytes.NewReader(torrent.Encoded()))
	if err != nil {
		t.Fatalf("can't decode created blob: %v", err)
	}
	info := decoded.(map[string]interface{})["info"].(map[string]interface{})
	if length := info["length"].(int64); length != 3000 {
		t.Errorf("length = %d, want 3000", length)
	}
	// 3000 bytes fit in a single 512 KiB piece: one 20-byte digest
	if pieces := info["pieces"].(string); len(pieces) != 20 {
		t.Errorf("pieces length = %d, want 20", len(pieces))
	}
}

func TestCreate_DeterministicHash(t *testing.T) {
	source := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(source, []byte("same content"), 0o644); err != nil {
		t.Fatalf("can't write source file: %v", err)
	}

	first, err := Create(source, "http://tracker.example.com/announce", "unit test")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := Create(source, "http://other.example.com/announce", "someone else")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Creation date and announce differ but the info dict is identical
	if first.HexInfoHash() != second.HexInfoHash() {
		t.Error("same content produced different info-hashes")
	}
}

func TestCreate_MissingSource(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "nope.bin"), "http://t/announce", "test")
	if err == nil {
		t.Error("expected error for missing source file")
	}
}
