package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const Version = 1

// Codec names accepted by WriteSnapshot.
const (
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

type Header struct {
	Version int    `json:"version"`
	TakenMs int64  `json:"taken_ms"`
	Digest  string `json:"digest"`
	Codec   string `json:"codec"`
}

// SnapshotV1 is a flattened, gob-friendly copy of the territory state. Sets become
// sorted slices and ids become strings.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Towns    []TownV1     `json:"towns"`
	Contests []ContestV1  `json:"contests"`
	Immunity []ImmunityV1 `json:"immunity"`
	History  []HistoryV1  `json:"history"`
	Stats    []StatsV1    `json:"stats"`
}

type TownV1 struct {
	Owner                string   `json:"owner"`
	Name                 string   `json:"name"`
	World                string   `json:"world"`
	Color                string   `json:"color"`
	Claims               []string `json:"claims"`
	Capital              []string `json:"capital,omitempty"`
	Members              []string `json:"members,omitempty"`
	Allies               []string `json:"allies,omitempty"`
	Wars                 []string `json:"wars,omitempty"`
	BonusClaims          int      `json:"bonus_claims"`
	ContestedClaimsSpent int      `json:"contested_claims_spent"`
	Kills                int      `json:"kills"`
	CreatedAtMs          int64    `json:"created_at_ms"`
	Reputation           int      `json:"reputation"`
}

type ContestV1 struct {
	ID                 string   `json:"id"`
	Defender           string   `json:"defender"`
	Challenger         string   `json:"challenger"`
	Chunks             []string `json:"chunks"`
	StartMs            int64    `json:"start_ms"`
	EndMs              int64    `json:"end_ms"`
	RemainingMs        int64    `json:"remaining_ms"`
	LastUpdatedMs      int64    `json:"last_updated_ms"`
	Paused             bool     `json:"paused"`
	HoldEligible       bool     `json:"hold_eligible"`
	HoldOfflineAllowed bool     `json:"hold_offline_allowed"`
	StartCost          int      `json:"start_cost"`
}

type ImmunityV1 struct {
	Cell    string `json:"cell"`
	UntilMs int64  `json:"until_ms"`
}

type HistoryV1 struct {
	Cell    string           `json:"cell"`
	Entries []HistoryEntryV1 `json:"entries"`
}

type HistoryEntryV1 struct {
	TimestampMs int64    `json:"ts_ms"`
	Action      string   `json:"action"`
	TownName    string   `json:"town"`
	TownOwner   string   `json:"owner,omitempty"`
	Allies      []string `json:"allies,omitempty"`
	Wars        []string `json:"wars,omitempty"`
}

type StatsV1 struct {
	Player string `json:"player"`
	Kills  int    `json:"kills"`
	Deaths int    `json:"deaths"`
	Claims int    `json:"claims"`
}

// WriteSnapshot writes a JSON header line followed by the gob body, framed with
// codec ("" means zstd).
func WriteSnapshot(path string, snap SnapshotV1, codec string) error {
	if codec == "" {
		codec = CodecZstd
	}
	snap.Header.Version = Version
	snap.Header.Codec = codec

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var frame io.WriteCloser
	switch codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		frame = enc
	case CodecLZ4:
		frame = lz4.NewWriter(f)
	default:
		return fmt.Errorf("unknown snapshot codec %q", codec)
	}

	bw := bufio.NewWriterSize(frame, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := frame.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadSnapshot detects the codec from the frame magic.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	body, closeFn, err := openFrame(f)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	r := bufio.NewReaderSize(body, 256*1024)
	// Header line; the gob body carries it too.
	if _, err := r.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	body, closeFn, err := openFrame(f)
	if err != nil {
		return h, err
	}
	defer closeFn()
	line, err := bufio.NewReader(body).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func openFrame(f io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, nil, fmt.Errorf("read magic: %w", err)
	}
	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case bytes.Equal(magic, lz4Magic):
		return lz4.NewReader(br), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot framing %x", magic)
	}
}
