package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const vectorDocumentsTable = "vector_documents"

type pgvectorConfig struct {
	Dimension int `json:"dimension"`
}

// pgvectorStore keeps documents and their embeddings in one postgres table and
// ranks by cosine distance.
type pgvectorStore struct {
	*sqlStore
	dimension int
}

func init() {
	Register("pgvector", createPgvectorStore)
}

func createPgvectorStore(deps Deps, args interface{}) (Store, error) {
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if deps.DB == nil {
		return nil, appErr.Config("pgvector store requires a database")
	}
	if deps.Driver != dbutil.DriverPostgres {
		return nil, appErr.Config("pgvector store requires postgres, got %s", deps.Driver)
	}
	if cfg.Dimension <= 0 {
		return nil, appErr.Config("pgvector store requires a positive dimension")
	}
	base := newSQLStore(deps)
	base.name = "pgvector"
	base.table = vectorDocumentsTable
	base.vector = true
	base.embedder = deps.Embedder
	s := &pgvectorStore{sqlStore: base, dimension: cfg.Dimension}
	if err := s.init(context.Background()); err != nil {
		return nil, appErr.Store("init", vectorDocumentsTable, err)
	}
	return s, nil
}

func (s *pgvectorStore) init(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'General',
			emergency_type TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding vector(%d),
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.table, s.dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at DESC, id DESC)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SearchByVector ranks by cosine similarity (1 - cosine distance) and drops
// rows below threshold.
func (s *pgvectorStore) SearchByVector(ctx context.Context, vec []float32, filter model.Filter, threshold float32, limit int) (model.RetrievalResult, error) {
	if len(vec) != s.dimension {
		return nil, appErr.Embedding("search", fmt.Errorf("query embedding dimension %d, expected %d", len(vec), s.dimension))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := pgvector.NewVector(vec)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, 1 - (embedding <=> ?) AS similarity FROM %s WHERE embedding IS NOT NULL",
		strings.Join(s.columns(), ", "), s.table)
	args := []interface{}{query}
	if filter.Category != "" {
		sb.WriteString(" AND category = ?")
		args = append(args, filter.Category)
	}
	if filter.EmergencyType != "" {
		sb.WriteString(" AND emergency_type = ?")
		args = append(args, filter.EmergencyType)
	}
	sb.WriteString(" AND 1 - (embedding <=> ?) >= ? ORDER BY embedding <=> ?")
	args = append(args, query, threshold, query)
	if limit > 0 && len(filter.Metadata) == 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	sqlStr, args := dbutil.Finalize(s.driver, sb.String(), args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, appErr.Store("vector search", "", err)
	}
	defer rows.Close()
	result := make(model.RetrievalResult, 0)
	for rows.Next() {
		var score float64
		doc, err := s.scan(rows, &score)
		if err != nil {
			return nil, appErr.Store("vector search", "", err)
		}
		if !filter.Match(doc) {
			continue
		}
		similarity := float32(score)
		doc.Similarity = &similarity
		result = append(result, doc)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Store("vector search", "", err)
	}
	logutil.GetLogger(ctx).Debug("vector search",
		zap.String("store", s.name),
		zap.Int("hits", len(result)),
	)
	return result, nil
}

func (s *pgvectorStore) ListStale(ctx context.Context, modelName string, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	where := map[string]interface{}{
		"_custom_stale": builder.Custom("(embedding IS NULL OR embedding_model <> ?)", modelName),
		"_orderby":      "created_at asc, id asc",
		"_limit":        []uint{0, uint(limit)},
	}
	docs, err := s.selectDocs(ctx, where)
	if err != nil {
		return nil, appErr.Store("list stale", modelName, err)
	}
	return docs, nil
}

func (s *pgvectorStore) SetEmbedding(ctx context.Context, id, content string, vec []float32, modelName string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := map[string]interface{}{
		"embedding":       vectorValue(vec),
		"embedding_model": modelName,
	}
	where := map[string]interface{}{"id": id, "content": content}
	sqlStr, args, err := builder.BuildUpdate(s.table, where, update)
	if err != nil {
		return false, appErr.Store("set embedding", id, err)
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	result, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, appErr.Store("set embedding", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, appErr.Store("set embedding", id, err)
	}
	return affected > 0, nil
}
