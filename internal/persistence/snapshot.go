package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/drivesim/internal/engine"
)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// SnapshotHeader is the first line of a snapshot, readable without decoding
// the body.
type SnapshotHeader struct {
	Version int       `json:"version"`
	Tick    uint64    `json:"tick"`
	Agents  int       `json:"agents"`
	Written time.Time `json:"written"`
}

// WriteSnapshot writes st to path as a zstd-compressed header line followed
// by the JSON-encoded state.
func WriteSnapshot(path string, st engine.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(SnapshotHeader{
		Version: SnapshotVersion,
		Tick:    st.Tick,
		Agents:  len(st.Agents),
		Written: time.Now().UTC(),
	})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&st); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (SnapshotHeader, engine.State, error) {
	var (
		hdr SnapshotHeader
		st  engine.State
	)
	f, err := os.Open(path)
	if err != nil {
		return hdr, st, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, st, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, st, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, st, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != SnapshotVersion {
		return hdr, st, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if err := json.NewDecoder(br).Decode(&st); err != nil {
		return hdr, st, fmt.Errorf("decode state: %w", err)
	}
	return hdr, st, nil
}
