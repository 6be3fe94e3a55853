// internal/checkpoint/storage.go
package checkpoint

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/database"
)

// Storage persists checkpoints: metadata and file references go to the
// record store, file contents and transcripts go to the content pool.
// Blobs are written before the metadata transaction commits, so a
// checkpoint record never references a missing blob.
type Storage struct {
	db      *database.Database
	content *ContentStore

	// mu serializes saves against the blob sweep across all sessions. The
	// sweep's referenced set must not go stale between another session's
	// blob writes and its record commit.
	mu sync.Mutex
}

// NewStorage creates checkpoint storage over a record store and content pool
func NewStorage(db *database.Database, content *ContentStore) *Storage {
	return &Storage{db: db, content: content}
}

// GenerateID generates a new checkpoint ID
func GenerateID() string {
	return uuid.New().String()
}

// SaveCheckpoint stores a checkpoint with its file snapshots and captured
// transcript. Unstorable files become warnings on the result; a transcript
// that cannot be stored fails the whole save.
func (s *Storage) SaveCheckpoint(cp *Checkpoint, files []FileSnapshot, transcript []byte) (*CheckpointResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	transcriptHash, err := s.content.Put(transcript)
	if err != nil {
		return nil, fmt.Errorf("store transcript for checkpoint %s: %w", cp.ID, err)
	}

	result := &CheckpointResult{Checkpoint: cp}

	var refs []database.FileRecord
	for _, f := range files {
		hash := f.Hash
		if hash == "" {
			hash = HashContent(f.Content)
		}
		if _, err := s.content.Put(f.Content); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to store %s: %v", f.FilePath, err))
			continue
		}
		refs = append(refs, database.FileRecord{
			CheckpointID: cp.ID,
			FilePath:     f.FilePath,
			Hash:         hash,
			Size:         f.Size,
			Mode:         f.Mode,
		})
		result.FilesProcessed++
	}

	cp.Metadata.FileCount = result.FilesProcessed

	rec := &database.CheckpointRecord{
		ID:             cp.ID,
		SessionID:      cp.SessionID,
		ProjectID:      cp.ProjectID,
		ParentID:       cp.ParentCheckpointID,
		MessageIndex:   cp.MessageIndex,
		Trigger:        cp.Trigger,
		Description:    cp.Description,
		TotalTokens:    cp.Metadata.TotalTokens,
		FileCount:      cp.Metadata.FileCount,
		TranscriptHash: transcriptHash,
		CreatedAt:      cp.CreatedAt,
	}
	if err := s.db.SaveCheckpoint(rec, refs); err != nil {
		return nil, fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	cp.CreatedAt = rec.CreatedAt

	return result, nil
}

// LoadCheckpoint loads a checkpoint, its file snapshots resolved through
// the content pool, and the exact transcript bytes captured with it
func (s *Storage) LoadCheckpoint(checkpointID string) (*Checkpoint, []FileSnapshot, []byte, error) {
	rec, err := s.db.GetCheckpoint(checkpointID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	if rec == nil {
		return nil, nil, nil, fmt.Errorf("checkpoint %s: %w", checkpointID, ErrNotFound)
	}

	refs, err := s.db.ListFiles(checkpointID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load file refs for %s: %w", checkpointID, err)
	}

	var files []FileSnapshot
	for _, ref := range refs {
		content, err := s.content.Get(ref.Hash)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve %s for checkpoint %s: %w", ref.FilePath, checkpointID, err)
		}
		files = append(files, FileSnapshot{
			CheckpointID: ref.CheckpointID,
			FilePath:     ref.FilePath,
			Content:      content,
			Hash:         ref.Hash,
			Size:         ref.Size,
			Mode:         ref.Mode,
		})
	}

	var transcript []byte
	if rec.TranscriptHash != "" {
		transcript, err = s.content.Get(rec.TranscriptHash)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve transcript for %s: %w", checkpointID, err)
		}
	}

	return recordToCheckpoint(rec), files, transcript, nil
}

// ListCheckpoints returns a session's checkpoints in creation order
func (s *Storage) ListCheckpoints(sessionID string) ([]Checkpoint, error) {
	recs, err := s.db.ListCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for session %s: %w", sessionID, err)
	}

	checkpoints := make([]Checkpoint, 0, len(recs))
	for i := range recs {
		checkpoints = append(checkpoints, *recordToCheckpoint(&recs[i]))
	}
	return checkpoints, nil
}

// CleanupOldCheckpoints retains the keepCount most recent checkpoints of a
// session and deletes the rest, then sweeps content-pool blobs no longer
// referenced by any surviving checkpoint. Returns the number of
// checkpoints removed.
func (s *Storage) CleanupOldCheckpoints(sessionID string, keepCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.db.ListCheckpoints(sessionID)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints for session %s: %w", sessionID, err)
	}
	if keepCount < 0 {
		keepCount = 0
	}
	if len(recs) <= keepCount {
		return 0, nil
	}

	removed := 0
	for _, rec := range recs[:len(recs)-keepCount] {
		if err := s.db.DeleteCheckpoint(rec.ID); err != nil {
			return removed, fmt.Errorf("delete checkpoint %s: %w", rec.ID, err)
		}
		removed++
	}

	// Move a timeline pointer off a deleted checkpoint before sweeping.
	survivors := recs[len(recs)-keepCount:]
	if tl, err := s.db.GetTimeline(sessionID); err == nil && tl != nil && tl.CurrentCheckpointID != "" {
		if cur, err := s.db.GetCheckpoint(tl.CurrentCheckpointID); err == nil && cur == nil {
			tl.CurrentCheckpointID = ""
			if len(survivors) > 0 {
				tl.CurrentCheckpointID = survivors[len(survivors)-1].ID
			}
			if err := s.db.SaveTimeline(tl); err != nil {
				return removed, fmt.Errorf("update timeline for session %s: %w", sessionID, err)
			}
		}
	}

	if err := s.sweepUnreferencedBlobs(); err != nil {
		return removed, err
	}
	return removed, nil
}

// sweepUnreferencedBlobs deletes pool blobs referenced by no checkpoint
// in any session. Union-then-sweep: the referenced set is computed after
// record deletion, so a blob shared with a retained checkpoint survives.
func (s *Storage) sweepUnreferencedBlobs() error {
	referenced, err := s.db.ReferencedHashes()
	if err != nil {
		return fmt.Errorf("collect referenced hashes: %w", err)
	}

	hashes, err := s.content.Hashes()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if !referenced[hash] {
			if err := s.content.Delete(hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// Diff compares the file sets of two checkpoints. Counts are coarse
// whole-file line counts; no content patch is produced.
func (s *Storage) Diff(fromID, toID string) (*CheckpointDiff, error) {
	fromCp, fromFiles, _, err := s.LoadCheckpoint(fromID)
	if err != nil {
		return nil, err
	}
	toCp, toFiles, _, err := s.LoadCheckpoint(toID)
	if err != nil {
		return nil, err
	}

	fromMap := make(map[string]FileSnapshot, len(fromFiles))
	for _, f := range fromFiles {
		fromMap[f.FilePath] = f
	}
	toMap := make(map[string]FileSnapshot, len(toFiles))
	for _, f := range toFiles {
		toMap[f.FilePath] = f
	}

	diff := &CheckpointDiff{
		FromCheckpointID: fromID,
		ToCheckpointID:   toID,
		TokenDelta:       toCp.Metadata.TotalTokens - fromCp.Metadata.TotalTokens,
	}

	for path, fromFile := range fromMap {
		if toFile, exists := toMap[path]; exists {
			if fromFile.Hash != toFile.Hash {
				diff.ModifiedFiles = append(diff.ModifiedFiles, FileDiff{
					Path:      path,
					Additions: countLines(toFile.Content),
					Deletions: countLines(fromFile.Content),
				})
			}
		} else {
			diff.DeletedFiles = append(diff.DeletedFiles, path)
		}
	}
	for path := range toMap {
		if _, exists := fromMap[path]; !exists {
			diff.AddedFiles = append(diff.AddedFiles, path)
		}
	}

	sort.Slice(diff.ModifiedFiles, func(i, j int) bool {
		return diff.ModifiedFiles[i].Path < diff.ModifiedFiles[j].Path
	})
	sort.Strings(diff.AddedFiles)
	sort.Strings(diff.DeletedFiles)

	return diff, nil
}

// Lineage returns the set of checkpoint ids reachable from a session's
// checkpoints by following parent references, including parents created
// under other session ids before a fork.
func (s *Storage) Lineage(sessionID string) (map[string]bool, error) {
	recs, err := s.db.ListCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for session %s: %w", sessionID, err)
	}

	lineage := make(map[string]bool)
	var pending []string
	for _, rec := range recs {
		lineage[rec.ID] = true
		if rec.ParentID != "" {
			pending = append(pending, rec.ParentID)
		}
	}

	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if lineage[id] {
			continue
		}
		rec, err := s.db.GetCheckpoint(id)
		if err != nil {
			return nil, fmt.Errorf("resolve lineage of session %s: %w", sessionID, err)
		}
		if rec == nil {
			continue
		}
		lineage[id] = true
		if rec.ParentID != "" {
			pending = append(pending, rec.ParentID)
		}
	}

	return lineage, nil
}

func recordToCheckpoint(rec *database.CheckpointRecord) *Checkpoint {
	return &Checkpoint{
		ID:                 rec.ID,
		SessionID:          rec.SessionID,
		ProjectID:          rec.ProjectID,
		ParentCheckpointID: rec.ParentID,
		MessageIndex:       rec.MessageIndex,
		Description:        rec.Description,
		Trigger:            rec.Trigger,
		Metadata: CheckpointMetadata{
			TotalTokens: rec.TotalTokens,
			FileCount:   rec.FileCount,
		},
		CreatedAt: rec.CreatedAt,
	}
}

// countLines counts lines the way a diff tool would: a trailing newline
// does not start a new line
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
