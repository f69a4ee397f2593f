package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const documentsTable = "documents"

var documentColumns = []string{"id", "title", "content", "category", "emergency_type", "tags", "metadata", "created_at", "updated_at"}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqlStore is the relational backend. With vector set it also keeps an
// embedding column and embeds content on write.
type sqlStore struct {
	name     string
	db       *sql.DB
	driver   string
	table    string
	timeout  time.Duration
	vector   bool
	embedder ai.IEmbedder
}

func init() {
	Register("sql", createSQLStore)
}

func createSQLStore(deps Deps, args interface{}) (Store, error) {
	if deps.DB == nil {
		return nil, appErr.Config("sql store requires a database")
	}
	return newSQLStore(deps), nil
}

func newSQLStore(deps Deps) *sqlStore {
	driver := deps.Driver
	if driver == "" {
		driver = dbutil.DriverSQLite
	}
	return &sqlStore{
		name:    "sql",
		db:      deps.DB,
		driver:  driver,
		table:   documentsTable,
		timeout: deps.Timeout,
	}
}

func (s *sqlStore) Name() string {
	return s.name
}

func (s *sqlStore) columns() []string {
	if !s.vector {
		return documentColumns
	}
	return append(append([]string(nil), documentColumns...), "embedding", "embedding_model")
}

func (s *sqlStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *sqlStore) Create(ctx context.Context, in *model.DocumentInput) (*model.Document, error) {
	doc, err := newDocument(in)
	if err != nil {
		return nil, err
	}
	if s.vector {
		if err := ensureEmbedding(ctx, s.embedder, doc); err != nil {
			return nil, err
		}
	}
	data, err := s.rowData(doc)
	if err != nil {
		return nil, appErr.Store("create", doc.ID, err)
	}
	data["id"] = doc.ID
	data["created_at"] = doc.CreatedAt
	sqlStr, args, err := builder.BuildInsert(s.table, []map[string]interface{}{data})
	if err != nil {
		return nil, appErr.Store("create", doc.ID, err)
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return nil, appErr.Store("create", doc.ID, fmt.Errorf("duplicate id: %w", err))
		}
		return nil, appErr.Store("create", doc.ID, err)
	}
	return doc, nil
}

// rowData holds the mutable columns of doc.
func (s *sqlStore) rowData(doc *model.Document) (map[string]interface{}, error) {
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"title":          doc.Title,
		"content":        doc.Content,
		"category":       doc.Category,
		"emergency_type": doc.EmergencyType,
		"tags":           string(tags),
		"metadata":       string(metadata),
		"updated_at":     doc.UpdatedAt,
	}
	if s.vector {
		data["embedding"] = vectorValue(doc.Embedding)
		data["embedding_model"] = doc.EmbeddingModel
	}
	return data, nil
}

func vectorValue(vec []float32) interface{} {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

func (s *sqlStore) Get(ctx context.Context, id string) (*model.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := s.getOne(ctx, s.db, id, false)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, err
		}
		return nil, appErr.Store("get", id, err)
	}
	return doc, nil
}

func (s *sqlStore) getOne(ctx context.Context, q querier, id string, forUpdate bool) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect(s.table, map[string]interface{}{"id": id}, s.columns())
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	if forUpdate && s.driver == dbutil.DriverPostgres {
		sqlStr += " FOR UPDATE"
	}
	doc, err := s.scan(q.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	return doc, err
}

func (s *sqlStore) scan(row rowScanner, extra ...interface{}) (*model.Document, error) {
	var (
		doc            model.Document
		tags, metadata string
		embedding      sql.NullString
		embeddingModel sql.NullString
	)
	dest := []interface{}{&doc.ID, &doc.Title, &doc.Content, &doc.Category, &doc.EmergencyType, &tags, &metadata, &doc.CreatedAt, &doc.UpdatedAt}
	if s.vector {
		dest = append(dest, &embedding, &embeddingModel)
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", doc.ID, err)
		}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		var vec pgvector.Vector
		if err := vec.Scan(embedding.String); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", doc.ID, err)
		}
		doc.Embedding = vec.Slice()
	}
	doc.EmbeddingModel = embeddingModel.String
	return &doc, nil
}

func (s *sqlStore) where(filter model.Filter, search string) map[string]interface{} {
	where := map[string]interface{}{}
	if filter.Category != "" {
		where["category"] = filter.Category
	}
	if filter.EmergencyType != "" {
		where["emergency_type"] = filter.EmergencyType
	}
	if search != "" {
		op := dbutil.LikeOperator(s.driver)
		pattern := "%" + dbutil.EscapeLike(search) + "%"
		where["_custom_search"] = builder.Custom(
			fmt.Sprintf(`(title %s ? ESCAPE '\' OR content %s ? ESCAPE '\')`, op, op),
			pattern, pattern,
		)
	}
	return where
}

func (s *sqlStore) selectDocs(ctx context.Context, where map[string]interface{}) ([]*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect(s.table, where, s.columns())
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]*model.Document, 0)
	for rows.Next() {
		doc, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *sqlStore) count(ctx context.Context, where map[string]interface{}) (int64, error) {
	sqlStr, args, err := builder.BuildSelect(s.table, where, []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	var total int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *sqlStore) List(ctx context.Context, q *model.ListQuery) ([]*model.Document, int64, error) {
	if q == nil {
		q = &model.ListQuery{}
	}
	limit, offset, err := pageBounds(q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where := s.where(q.Filter, q.Search)
	if len(q.Filter.Metadata) > 0 {
		// metadata lives in a JSON column, so these filters run after the query
		where["_orderby"] = "created_at desc, id desc"
		all, err := s.selectDocs(ctx, where)
		if err != nil {
			return nil, 0, appErr.Store("list", "", err)
		}
		matched := filterDocs(all, q.Filter)
		return paginate(matched, limit, offset), int64(len(matched)), nil
	}
	total, err := s.count(ctx, where)
	if err != nil {
		return nil, 0, appErr.Store("list", "", err)
	}
	where["_orderby"] = "created_at desc, id desc"
	where["_limit"] = []uint{uint(offset), uint(limit)}
	docs, err := s.selectDocs(ctx, where)
	if err != nil {
		return nil, 0, appErr.Store("list", "", err)
	}
	return docs, total, nil
}

func (s *sqlStore) Search(ctx context.Context, query string, filter model.Filter, limit int) ([]*model.Document, error) {
	limit = clampSearchLimit(limit)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	where := s.where(filter, query)
	where["_orderby"] = "created_at desc, id desc"
	if len(filter.Metadata) == 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	docs, err := s.selectDocs(ctx, where)
	if err != nil {
		return nil, appErr.Store("search", query, err)
	}
	docs = filterDocs(docs, filter)
	if len(docs) > limit {
		docs = docs[:limit]
	}
	logutil.GetLogger(ctx).Debug("lexical search",
		zap.String("store", s.name),
		zap.Int("hits", len(docs)),
	)
	return docs, nil
}

func (s *sqlStore) Update(ctx context.Context, id string, patch *model.DocumentPatch) (*model.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, appErr.Store("update", id, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	doc, err := s.getOne(ctx, tx, id, true)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, err
		}
		return nil, appErr.Store("update", id, err)
	}
	changed, err := applyPatch(doc, patch)
	if err != nil {
		return nil, err
	}
	if changed && s.vector {
		if err := reembed(ctx, s.embedder, doc); err != nil {
			return nil, err
		}
	}
	data, err := s.rowData(doc)
	if err != nil {
		return nil, appErr.Store("update", id, err)
	}
	sqlStr, args, err := builder.BuildUpdate(s.table, map[string]interface{}{"id": id}, data)
	if err != nil {
		return nil, appErr.Store("update", id, err)
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, appErr.Store("update", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, appErr.Store("update", id, err)
	}
	return doc, nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	sqlStr, args, err := builder.BuildDelete(s.table, map[string]interface{}{"id": id})
	if err != nil {
		return false, appErr.Store("delete", id, err)
	}
	sqlStr, args = dbutil.Finalize(s.driver, sqlStr, args)
	result, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, appErr.Store("delete", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, appErr.Store("delete", id, err)
	}
	return affected > 0, nil
}
