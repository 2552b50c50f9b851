package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a stored long-term memory fact. Records are immutable after
// insertion; the only mutations are delete and clear.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	Embedding Vector    `json:"-"`
}

// AddOutcome reports the result of an Add call. A duplicate is a normal
// outcome, not an error: Inserted is false and DupID/Score identify the
// closest existing record.
type AddOutcome struct {
	Inserted bool
	ID       string
	DupID    string
	Score    float64
}

// SearchResult is one ranked item returned by Search. Score is nil in
// recency-browse mode (empty query).
type SearchResult struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	Score     *float64  `json:"score"`
}

// Store persists memory records, partitioned by owner. Similarity search
// is a brute-force scan over the owner's records; per-user memory sets
// are small and exact scores with stable ordering are required.
type Store struct {
	db       *sql.DB
	embedder Embedder

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewStore creates a memory store backed by db, using embedder to vectorize
// text at insertion and query time.
func NewStore(db *sql.DB, embedder Embedder) *Store {
	return &Store{
		db:       db,
		embedder: embedder,
		owners:   make(map[string]*sync.Mutex),
	}
}

// NormalizeOwner canonicalizes an owner identifier: trimmed and lower-cased.
func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// ownerLock returns the mutex serializing mutations for one owner.
// Cross-owner operations never block each other.
func (s *Store) ownerLock(owner string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.owners[owner]
	if !ok {
		l = &sync.Mutex{}
		s.owners[owner] = l
	}
	return l
}

// Add stores a new fact for owner unless it duplicates the closest
// existing fact. Dedup is nearest-neighbor: the candidate is rejected
// when its similarity to the single best match reaches threshold,
// regardless of the rest of the set. createdAt zero means "now".
func (s *Store) Add(ctx context.Context, owner, text string, tags []string, createdAt time.Time, threshold float64) (*AddOutcome, error) {
	owner = NormalizeOwner(owner)
	if owner == "" {
		return nil, &ValidationError{Msg: "owner is required"}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Msg: "text is required"}
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	candidate := Vector(vecs[0])

	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM memories WHERE owner = ?`, owner)
	if err != nil {
		return nil, storageErr("scan", err)
	}
	defer rows.Close()

	bestScore := -1.0
	bestID := ""
	existing := 0
	for rows.Next() {
		var id string
		var vec Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, storageErr("scan", err)
		}
		existing++
		score := Dot(candidate, vec)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan", err)
	}

	// The service clamps threshold to [0.5, 0.99]; still be defensive
	// about out-of-range values rather than erroring.
	duplicate := false
	switch {
	case threshold > 1.0:
		duplicate = false
	case threshold < 0:
		duplicate = existing > 0
	default:
		duplicate = existing > 0 && bestScore >= threshold
	}
	if duplicate {
		return &AddOutcome{DupID: bestID, Score: roundScore(bestScore)}, nil
	}

	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tagsJSON, err := json.Marshal(dedupeTags(tags))
	if err != nil {
		return nil, storageErr("encode tags", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner, text, tags, created_at, embedding)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, owner, text, string(tagsJSON), createdAt, candidate)
	if err != nil {
		return nil, storageErr("insert", err)
	}

	return &AddOutcome{Inserted: true, ID: id}, nil
}

// Search returns up to topK results for owner. With an empty query it
// browses the most recent records (no similarity, Score nil); otherwise
// it ranks every record by cosine similarity, descending, with a stable
// sort so identical inputs yield identical order.
func (s *Store) Search(ctx context.Context, owner, query string, topK int) ([]SearchResult, error) {
	owner = NormalizeOwner(owner)
	if owner == "" {
		return nil, &ValidationError{Msg: "owner is required"}
	}
	if topK < 1 {
		topK = 1
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return s.recent(ctx, owner, topK)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	qvec := Vector(vecs[0])

	records, err := s.loadAll(ctx, owner)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   *Record
		score float64
	}
	ranked := make([]scored, 0, len(records))
	for _, rec := range records {
		ranked = append(ranked, scored{rec: rec, score: Dot(qvec, rec.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		score := roundScore(r.score)
		results = append(results, SearchResult{
			ID:        r.rec.ID,
			Text:      r.rec.Text,
			Tags:      r.rec.Tags,
			CreatedAt: r.rec.CreatedAt,
			Score:     &score,
		})
	}
	return results, nil
}

// recent returns the topK most recently created records, newest first.
func (s *Store) recent(ctx context.Context, owner string, topK int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, tags, created_at FROM memories
		 WHERE owner = ? ORDER BY created_at DESC LIMIT ?`, owner, topK)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topK)
	for rows.Next() {
		var r SearchResult
		var tagsJSON string
		if err := rows.Scan(&r.ID, &r.Text, &tagsJSON, &r.CreatedAt); err != nil {
			return nil, storageErr("query", err)
		}
		r.Tags = decodeTags(tagsJSON)
		results = append(results, r)
	}
	return results, rows.Err()
}

// loadAll reads every record for owner, embeddings included.
func (s *Store) loadAll(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, text, tags, created_at, embedding
		 FROM memories WHERE owner = ?`, owner)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var tagsJSON string
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Text, &tagsJSON, &rec.CreatedAt, &rec.Embedding); err != nil {
			return nil, storageErr("query", err)
		}
		rec.Tags = decodeTags(tagsJSON)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// All pages through every stored record across owners, oldest first.
// Used by maintenance tooling (re-embedding after a model switch).
func (s *Store) All(ctx context.Context, limit, offset int) ([]*Record, error) {
	if limit < 1 {
		limit = 1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, text, tags, created_at, embedding
		 FROM memories ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var tagsJSON string
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Text, &tagsJSON, &rec.CreatedAt, &rec.Embedding); err != nil {
			return nil, storageErr("query", err)
		}
		rec.Tags = decodeTags(tagsJSON)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateEmbedding replaces the stored vector for one record.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vec Vector) error {
	if len(vec) == 0 {
		return &ValidationError{Msg: "embedding is required"}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ? WHERE id = ?`, vec, id)
	if err != nil {
		return storageErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one record. Deleting an unknown id is reported as
// ErrNotFound, not silently ignored.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	owner = NormalizeOwner(owner)
	if owner == "" {
		return &ValidationError{Msg: "owner is required"}
	}

	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return storageErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every record for owner and returns how many were removed.
// Clearing an owner with no records succeeds with count 0.
func (s *Store) Clear(ctx context.Context, owner string) (int64, error) {
	owner = NormalizeOwner(owner)
	if owner == "" {
		return 0, &ValidationError{Msg: "owner is required"}
	}

	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE owner = ?`, owner)
	if err != nil {
		return 0, storageErr("clear", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear", err)
	}
	return n, nil
}

// decodeTags unpacks the JSON tags column, tolerating NULL-ish values.
func decodeTags(tagsJSON string) []string {
	if tagsJSON == "" || tagsJSON == "null" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
