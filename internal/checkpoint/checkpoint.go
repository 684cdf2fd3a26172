// Package checkpoint implements the checkpoint manager (spec §4.5, C5):
// periodic, atomically-written snapshots of live state that bound
// recovery time. The write path is the teacher's store.Store
// write-to-tmp-then-rename idiom, generalized from one position file per
// market to one file per checkpoint id in an instrument's directory.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/segmentio/encoding/json"
	"golang.org/x/crypto/blake2b"

	"exchanged/pkg/model"
)

// Snapshot is the durable payload of one checkpoint: everything needed to
// resume without replaying the WAL from the beginning (spec §4.5,
// "create()").
type Snapshot struct {
	ID              int64                     `json:"id"`
	Instrument      string                    `json:"instrument"`
	WALSequence     int64                     `json:"wal_sequence"`
	Accounts        map[string]model.Account  `json:"accounts"`
	Orders          map[string]model.Order    `json:"orders"`
	Positions       map[string]model.Position `json:"positions"`
	ManifestVersion int64                     `json:"manifest_version"`
	Digest          string                    `json:"digest"` // blake2b-256 over digestInput's subset of the fields above, hex-encoded
}

// digestInput builds the deterministic byte sequence a Snapshot's digest
// covers: ID, Instrument, WALSequence, ManifestVersion, each account's
// Balance, each order's Status and each position's today volumes; other
// fields are not covered. Field order is fixed by explicit sorted
// iteration so the digest is reproducible across runs.
func (s Snapshot) digestInput() []byte {
	var b []byte
	b = append(b, []byte(fmt.Sprintf("%d|%s|%d|%d|", s.ID, s.Instrument, s.WALSequence, s.ManifestVersion))...)

	accountIDs := make([]string, 0, len(s.Accounts))
	for id := range s.Accounts {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)
	for _, id := range accountIDs {
		b = append(b, []byte(fmt.Sprintf("acct:%s=%s;", id, s.Accounts[id].Balance.String()))...)
	}

	orderIDs := make([]string, 0, len(s.Orders))
	for id := range s.Orders {
		orderIDs = append(orderIDs, id)
	}
	sort.Strings(orderIDs)
	for _, id := range orderIDs {
		b = append(b, []byte(fmt.Sprintf("order:%s=%s;", id, s.Orders[id].Status))...)
	}

	posIDs := make([]string, 0, len(s.Positions))
	for id := range s.Positions {
		posIDs = append(posIDs, id)
	}
	sort.Strings(posIDs)
	for _, id := range posIDs {
		p := s.Positions[id]
		b = append(b, []byte(fmt.Sprintf("pos:%s=%s/%s;", id, p.VolumeLongToday.String(), p.VolumeShortToday.String()))...)
	}
	return b
}

// computeDigest returns the hex-encoded blake2b-256 digest over the
// snapshot's content, used to detect a torn checkpoint write on load.
func computeDigest(s Snapshot) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("%w: init blake2b: %v", model.ErrIOError, err)
	}
	h.Write(s.digestInput())
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Manager creates and loads checkpoints for one instrument's data
// directory (spec §4.5).
type Manager struct {
	mu  sync.Mutex
	dir string
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create checkpoint dir: %v", model.ErrIOError, err)
	}
	return &Manager{dir: dir}, nil
}

func checkpointFileName(id int64) string {
	return fmt.Sprintf("checkpoint-%020d.json", id)
}

// Create captures the given in-memory state and atomically persists it
// (spec §4.5, "create() -> checkpoint_id"). It writes to a .tmp file and
// renames over the final path, the same crash-safety idiom the teacher
// uses for position files.
func (m *Manager) Create(instrument string, id, walSeq int64, accounts map[string]model.Account, orders map[string]model.Order, positions map[string]model.Position, manifestVersion int64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		ID:              id,
		Instrument:      instrument,
		WALSequence:     walSeq,
		Accounts:        accounts,
		Orders:          orders,
		Positions:       positions,
		ManifestVersion: manifestVersion,
	}
	digest, err := computeDigest(snap)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Digest = digest

	data, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: marshal checkpoint: %v", model.ErrIOError, err)
	}

	path := filepath.Join(m.dir, checkpointFileName(id))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return Snapshot{}, fmt.Errorf("%w: write checkpoint: %v", model.ErrIOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Snapshot{}, fmt.Errorf("%w: rename checkpoint: %v", model.ErrIOError, err)
	}
	return snap, nil
}

// LoadLatest returns the newest valid checkpoint, skipping any whose
// digest does not match its content (a torn write), per spec §4.5,
// "load_latest() -> Option<checkpoint>".
func (m *Manager) LoadLatest() (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, false, fmt.Errorf("%w: list checkpoint dir: %v", model.ErrIOError, err)
	}

	var ids []int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "checkpoint-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "checkpoint-"), ".json")
		n, err := strconv.ParseInt(numPart, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	for _, id := range ids {
		path := filepath.Join(m.dir, checkpointFileName(id))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		wantDigest := snap.Digest
		snap.Digest = ""
		gotDigest, err := computeDigest(snap)
		if err != nil {
			continue
		}
		if gotDigest != wantDigest {
			continue // torn write: try the next-oldest checkpoint
		}
		snap.Digest = wantDigest
		return &snap, true, nil
	}
	return nil, false, nil
}
