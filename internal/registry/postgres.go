package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/stackdrive/stackdrive/internal/files"
	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
	"go.uber.org/zap"
)

// PostgresStore is a PostgreSQL-backed registry.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given database URL.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *PostgresStore) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *PostgresStore) Migrate(migrationsDir string) error {
	matches, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range matches {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// Create inserts a new file record.
func (s *PostgresStore) Create(ctx context.Context, f *files.File) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_file", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, owner_id, owner_name, owner_email, name, cid, mime_type, category, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.OwnerID, f.OwnerName, f.OwnerEmail, f.Name, f.CID, f.MimeType, f.Category, f.Size, f.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicate
		}
		return fmt.Errorf("create file: %w", err)
	}

	logging.Debug("created file",
		zap.String("id", f.ID),
		zap.String("category", string(f.Category)),
		zap.Int64("size", f.Size))
	return nil
}

// Get returns a file with its grants.
func (s *PostgresStore) Get(ctx context.Context, id string) (*files.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_file", time.Since(start)) }()

	f := &files.File{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, owner_name, owner_email, name, cid, mime_type, category, size_bytes, created_at
		 FROM files WHERE id = $1`, id).
		Scan(&f.ID, &f.OwnerID, &f.OwnerName, &f.OwnerEmail, &f.Name, &f.CID,
			&f.MimeType, &f.Category, &f.Size, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	grants, err := s.loadGrants(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	f.Grants = grants[id]
	return f, nil
}

// Rename changes a file's display name.
func (s *PostgresStore) Rename(ctx context.Context, id, name string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename_file", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a file and its grants. Grants go with the file via the
// foreign key cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) (string, int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_file", time.Since(start)) }()

	var ownerID string
	var size int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM files WHERE id = $1 RETURNING owner_id, size_bytes`, id).
		Scan(&ownerID, &size)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("delete file: %w", err)
	}

	logging.Debug("deleted file", zap.String("id", id), zap.Int64("size", size))
	return ownerID, size, nil
}

// UpsertGrant creates or replaces the grant for an email on a file.
func (s *PostgresStore) UpsertGrant(ctx context.Context, fileID string, g files.Grant) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_grant", time.Since(start)) }()

	perms := make([]string, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = string(p)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO file_grants (file_id, email, permissions, updated_at)
		 VALUES ($1, lower($2), $3, NOW())
		 ON CONFLICT (file_id, email) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			updated_at = NOW()`,
		fileID, g.Email, pq.Array(perms))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return ErrNotFound
		}
		return fmt.Errorf("upsert grant: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

// RemoveGrant deletes the grant for an email on a file.
func (s *PostgresStore) RemoveGrant(ctx context.Context, fileID, email string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("remove_grant", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_grants WHERE file_id = $1 AND email = lower($2)`,
		fileID, email)
	if err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

// sharedWhere filters files to those granted to the viewer but not owned
// by them. All other views scope to the owner alone.
const sharedWhere = `(f.owner_id <> $1 AND EXISTS (
	SELECT 1 FROM file_grants g WHERE g.file_id = f.id AND g.email = lower($2)))`

// List returns one page of files visible to the viewer, newest first.
func (s *PostgresStore) List(ctx context.Context, p ListParams) (*Listing, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_files", time.Since(start)) }()

	if p.Page < 1 {
		p.Page = 1
	}

	where := `f.owner_id = $1`
	args := []interface{}{p.AccountID}
	if p.SharedOnly {
		where = sharedWhere
		args = append(args, p.Email)
	}
	if p.Category != "" {
		where += fmt.Sprintf(` AND f.category = $%d`, len(args)+1)
		args = append(args, p.Category)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files f WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}

	offset := (p.Page - 1) * PageSize
	query := fmt.Sprintf(
		`SELECT f.id, f.owner_id, f.owner_name, f.owner_email, f.name, f.cid, f.mime_type, f.category, f.size_bytes, f.created_at
		 FROM files f WHERE %s
		 ORDER BY f.created_at DESC, f.id
		 LIMIT %d OFFSET %d`, where, PageSize, offset)

	result, err := s.queryFiles(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &Listing{
		Files:       result,
		Total:       total,
		CurrentPage: p.Page,
		TotalPages:  TotalPages(total),
	}, nil
}

// Search returns the account's files whose name contains the term.
func (s *PostgresStore) Search(ctx context.Context, accountID, term string) ([]*files.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search_files", time.Since(start)) }()

	query := `SELECT f.id, f.owner_id, f.owner_name, f.owner_email, f.name, f.cid, f.mime_type, f.category, f.size_bytes, f.created_at
	          FROM files f WHERE f.owner_id = $1
	          AND f.name ILIKE '%' || $2 || '%'
	          ORDER BY f.created_at DESC, f.id`

	return s.queryFiles(ctx, query, accountID, escapeLike(term))
}

// escapeLike neutralizes LIKE metacharacters so the term matches
// literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// SumSizesByOwner returns total stored bytes per owner account.
func (s *PostgresStore) SumSizesByOwner(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("sum_sizes_by_owner", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, COALESCE(SUM(size_bytes), 0) FROM files GROUP BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("sum sizes: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var owner string
		var total int64
		if err := rows.Scan(&owner, &total); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		sums[owner] = total
	}
	return sums, rows.Err()
}

// CountCID returns how many file records reference a content ID.
func (s *PostgresStore) CountCID(ctx context.Context, cid string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("count_cid", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE cid = $1`, cid).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cid: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) queryFiles(ctx context.Context, query string, args ...interface{}) ([]*files.File, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var result []*files.File
	var ids []string
	for rows.Next() {
		f := &files.File{}
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.OwnerName, &f.OwnerEmail, &f.Name,
			&f.CID, &f.MimeType, &f.Category, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		result = append(result, f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) > 0 {
		grants, err := s.loadGrants(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, f := range result {
			f.Grants = grants[f.ID]
		}
	}
	return result, nil
}

func (s *PostgresStore) loadGrants(ctx context.Context, fileIDs []string) (map[string][]files.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, email, permissions FROM file_grants
		 WHERE file_id = ANY($1) ORDER BY email`, pq.Array(fileIDs))
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants := make(map[string][]files.Grant)
	for rows.Next() {
		var fileID, email string
		var perms []string
		if err := rows.Scan(&fileID, &email, pq.Array(&perms)); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		parsed, err := files.ParsePermissions(perms)
		if err != nil {
			return nil, fmt.Errorf("grant for %s on %s: %w", email, fileID, err)
		}
		grants[fileID] = append(grants[fileID], files.Grant{Email: email, Permissions: parsed})
	}
	return grants, rows.Err()
}
