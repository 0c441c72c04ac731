// Package index provides the per-user vector memory index on top of
// chromem-go, an embedded pure-Go vector database. Every user gets an own
// collection, so one user's memories never appear in another user's results
// and dropping a user is a collection delete.
package index

import (
	"context"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	pkgerrors "engram-backend/pkg/errors"
)

const createdAtKey = "created_at"

// Params tunes the index.
type Params struct {
	Dim int
}

// Hit is one search result.
type Hit struct {
	ID         string
	Similarity float64
	CreatedAt  time.Time
}

// Index partitions vectors by user, one chromem collection per user.
type Index struct {
	dim int

	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
}

// New creates an empty index for embeddings of dimension params.Dim.
func New(params Params) *Index {
	return &Index{
		dim:         params.Dim,
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// Dim returns the configured embedding dimension.
func (ix *Index) Dim() int { return ix.dim }

// Add inserts a vector for a user. Re-adding an id overwrites it in place.
// Fails with DIMENSION_MISMATCH when the vector length is wrong.
func (ix *Index) Add(ctx context.Context, userID, id string, vec []float32, createdAt time.Time) error {
	if len(vec) != ix.dim {
		return pkgerrors.NewDimensionMismatch(ix.dim, len(vec))
	}

	col, err := ix.collection(userID, true)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), vec...),
		Metadata:  map[string]string{createdAtKey: createdAt.Format(time.RFC3339Nano)},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return pkgerrors.NewInternal("failed to index vector", err)
	}
	return nil
}

// Search returns up to k hits for the user, ranked by descending cosine
// similarity with ties broken by most recent CreatedAt.
func (ix *Index) Search(ctx context.Context, userID string, query []float32, k int) ([]Hit, error) {
	return ix.scan(ctx, userID, query, k)
}

// SearchExact returns the same ranking as Search; chromem scans every vector
// in the collection, so the exact path is the only path.
func (ix *Index) SearchExact(ctx context.Context, userID string, query []float32, k int) ([]Hit, error) {
	return ix.scan(ctx, userID, query, k)
}

func (ix *Index) scan(ctx context.Context, userID string, query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, pkgerrors.NewDimensionMismatch(ix.dim, len(query))
	}
	if k < 1 {
		return nil, pkgerrors.NewValidation("top_k must be >= 1")
	}

	col, err := ix.collection(userID, false)
	if err != nil || col == nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	// Ask for the whole collection and rank here: chromem leaves the order of
	// equal similarities unspecified, and the recency tie-break needs every
	// candidate at the cut line.
	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, pkgerrors.NewInternal("failed to query index", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata[createdAtKey])
		hits = append(hits, Hit{
			ID:         r.ID,
			Similarity: float64(r.Similarity),
			CreatedAt:  createdAt,
		})
	}
	return rankHits(hits, k), nil
}

// Remove deletes one vector. Removing an unknown id is harmless.
func (ix *Index) Remove(ctx context.Context, userID, id string) error {
	col, err := ix.collection(userID, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return pkgerrors.NewInternal("failed to remove vector", err)
	}
	return nil
}

// DropUser discards a user's whole collection (cascading user deletion).
func (ix *Index) DropUser(userID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.collections[userID]; !ok {
		return nil
	}
	delete(ix.collections, userID)
	if err := ix.db.DeleteCollection(collectionName(userID)); err != nil {
		return pkgerrors.NewInternal("failed to drop user collection", err)
	}
	return nil
}

// Count returns the number of vectors indexed for a user.
func (ix *Index) Count(userID string) int {
	col, err := ix.collection(userID, false)
	if err != nil || col == nil {
		return 0
	}
	return col.Count()
}

func (ix *Index) collection(userID string, create bool) (*chromem.Collection, error) {
	ix.mu.RLock()
	col := ix.collections[userID]
	ix.mu.RUnlock()
	if col != nil || !create {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col = ix.collections[userID]; col != nil {
		return col, nil
	}

	// Embedding and distance funcs stay nil: callers always supply embeddings
	// and chromem defaults to cosine similarity.
	col, err := ix.db.CreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, pkgerrors.NewInternal("failed to create user collection", err)
	}
	ix.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

// rankHits orders hits by similarity descending, ties by recency, and trims
// to k.
func rankHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
