// Package compaction implements the leveled compactor (spec §4.4, C4):
// merging overlapping SSTables from level L into level L+1 to bound read
// amplification, with an atomically-swapped manifest so readers never
// observe a key in zero files.
package compaction

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"exchanged/internal/sstable"
)

// FileMeta describes one on-disk SSTable tracked by the manifest.
type FileMeta struct {
	ID        uint32
	Level     int
	Path      string
	MinTS     int64
	MaxTS     int64
	SizeBytes int64
}

// Manifest is the published set of live SSTables per level. A
// github.com/RoaringBitmap/roaring/v2 bitmap per level records which file
// IDs are currently live; FilesAtLevel lists a level from it, and the
// compactor finds "files at L+1 whose range overlaps" by scanning that
// list (spec §4.4, "Atomically swap the manifest").
type Manifest struct {
	mu      sync.RWMutex
	version int64
	files   map[uint32]FileMeta
	live    map[int]*roaring.Bitmap // level -> live file ids
	nextID  uint32
}

func NewManifest() *Manifest {
	return &Manifest{
		files: make(map[uint32]FileMeta),
		live:  make(map[int]*roaring.Bitmap),
	}
}

// Snapshot is an immutable view of the manifest at one instant, acquired
// by readers at the start of a query (spec §4.4, "Correctness").
type Snapshot struct {
	Version int64
	Files   []FileMeta
}

// Current returns a consistent snapshot for a query to hold for its
// duration (spec §4.6, "the facade holds the manifest snapshot for readers").
func (m *Manifest) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FileMeta, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	return Snapshot{Version: m.version, Files: out}
}

// FilesAtLevel returns the live files at a given level, sorted newest-id-first
// (spec §4.12, "level 0 ... newest-first, they may overlap").
func (m *Manifest) FilesAtLevel(level int) []FileMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, ok := m.live[level]
	if !ok {
		return nil
	}
	ids := bm.ToArray()
	out := make([]FileMeta, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if f, ok := m.files[ids[i]]; ok {
			out = append(out, f)
		}
	}
	return out
}

// LevelSizeBytes sums the size of every live file at a level, used by the
// compactor to decide whether a level is over capacity (spec §4.4,
// "A level L is over capacity when its aggregate size exceeds base_size *
// ratio^L").
func (m *Manifest) LevelSizeBytes(level int) int64 {
	var total int64
	for _, f := range m.FilesAtLevel(level) {
		total += f.SizeBytes
	}
	return total
}

// Add registers a newly written file and returns its assigned ID.
func (m *Manifest) Add(level int, path string, r *sstable.Reader, sizeBytes int64) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.files[id] = FileMeta{
		ID:        id,
		Level:     level,
		Path:      path,
		MinTS:     r.MinTimestamp(),
		MaxTS:     r.MaxTimestamp(),
		SizeBytes: sizeBytes,
	}
	if m.live[level] == nil {
		m.live[level] = roaring.New()
	}
	m.live[level].Add(id)
	m.version++
	return id
}

// Swap removes oldFileIDs from the live set of each file's source level
// under one lock and returns their metadata for the caller to delete;
// the files replacing them are published earlier, by Add (spec §4.4,
// "add the new files, mark the old for deletion").
func (m *Manifest) Swap(oldFileIDs []uint32) []FileMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []FileMeta
	for _, id := range oldFileIDs {
		meta, ok := m.files[id]
		if !ok {
			continue
		}
		if bm := m.live[meta.Level]; bm != nil {
			bm.Remove(id)
		}
		delete(m.files, id)
		removed = append(removed, meta)
	}
	m.version++
	return removed
}

func (m *Manifest) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("manifest(version=%d, files=%d)", m.version, len(m.files))
}
