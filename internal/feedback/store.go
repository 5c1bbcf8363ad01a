// Package feedback records player ratings of NPC responses. Records are
// stored as append-only JSON lines in a local file so brain authors can
// find the lines players disliked.
package feedback

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"
)

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// ErrInvalidRating is returned by [FileStore.Save] for ratings outside
// [MinRating, MaxRating].
var ErrInvalidRating = errors.New("feedback: rating out of range")

// Record is a single feedback entry written to the file store.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	NPCID          string    `json:"npc_id"`
	PlayerID       string    `json:"player_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment,omitempty"`

	// The exchange being rated, when one exists.
	PlayerInput string `json:"player_input,omitempty"`
	Response    string `json:"response,omitempty"`
	Source      string `json:"source,omitempty"`
}

// FileStore persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the file the store appends to.
func (s *FileStore) Path() string { return s.path }

// Save appends rec to the file. A zero Timestamp is set to the current time.
func (s *FileStore) Save(rec Record) error {
	if rec.Rating < MinRating || rec.Rating > MaxRating {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidRating, rec.Rating, MinRating, MaxRating)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// Records reads every record in the file. A missing file yields no records.
// Lines that are not valid JSON are skipped and counted.
func (s *FileStore) Records() (recs []Record, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return recs, skipped, fmt.Errorf("feedback: read: %w", err)
	}
	return recs, skipped, nil
}

// Summary aggregates the ratings of one NPC.
type Summary struct {
	NPCID   string
	Count   int
	Average float64

	// Worst holds the lowest rated records, lowest first, at most the
	// number requested from [Summarize].
	Worst []Record
}

// Summarize groups recs by NPC, sorted by NPC ID, keeping up to worst of
// the lowest rated records per NPC.
func Summarize(recs []Record, worst int) []Summary {
	byNPC := make(map[string][]Record)
	for _, r := range recs {
		byNPC[r.NPCID] = append(byNPC[r.NPCID], r)
	}

	out := make([]Summary, 0, len(byNPC))
	for id, rs := range byNPC {
		total := 0
		for _, r := range rs {
			total += r.Rating
		}
		slices.SortStableFunc(rs, func(a, b Record) int { return cmp.Compare(a.Rating, b.Rating) })
		out = append(out, Summary{
			NPCID:   id,
			Count:   len(rs),
			Average: float64(total) / float64(len(rs)),
			Worst:   rs[:min(worst, len(rs))],
		})
	}
	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.NPCID, b.NPCID) })
	return out
}
