// Package intern deduplicates immutable scalar values (decimal, short
// string, long text), returning stable surrogate ids. Rows are created
// lazily on first use and never updated or deleted: historical change rows
// may reference a value long after the last live field value stopped using
// it.
package intern

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"tracker/internal/apperr"
)

const cacheSize = 4096

// Interner resolves scalar values to surrogate ids and back. Lookups go
// through a process-local cache; ids are never reused or mutated in place,
// so cached entries never need invalidation.
type Interner struct {
	DB *sql.DB

	strCache *lru.Cache[int64, string]
	txtCache *lru.Cache[int64, string]
	decCache *lru.Cache[int64, string]
}

func New(db *sql.DB) *Interner {
	strCache, _ := lru.New[int64, string](cacheSize)
	txtCache, _ := lru.New[int64, string](cacheSize)
	decCache, _ := lru.New[int64, string](cacheSize)
	return &Interner{DB: db, strCache: strCache, txtCache: txtCache, decCache: decCache}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetOrCreateString interns a short string value.
func (i *Interner) GetOrCreateString(ctx context.Context, tx *sql.Tx, value string) (int64, error) {
	id, err := getOrCreate(ctx, i.run(tx), "string_values", "value", value, value)
	if err != nil {
		return 0, err
	}
	i.strCache.Add(id, value)
	return id, nil
}

// GetOrCreateText interns a long text value, keyed by its SHA-256 hash so
// the uniqueness constraint stays cheap for large bodies.
func (i *Interner) GetOrCreateText(ctx context.Context, tx *sql.Tx, value string) (int64, error) {
	hash := hashText(value)
	run := i.run(tx)
	// Concurrent first use of the same text races on the hash constraint;
	// INSERT OR IGNORE makes the loser fall through to the re-read.
	if _, err := run.ExecContext(ctx, `INSERT OR IGNORE INTO text_values(hash, value) VALUES (?,?)`, hash, value); err != nil {
		return 0, fmt.Errorf("intern text: %w", err)
	}
	var id int64
	if err := run.QueryRowContext(ctx, `SELECT id FROM text_values WHERE hash=?`, hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("reread text: %w", err)
	}
	i.txtCache.Add(id, value)
	return id, nil
}

// GetOrCreateDecimal interns a canonical fixed-scale decimal string.
func (i *Interner) GetOrCreateDecimal(ctx context.Context, tx *sql.Tx, canonical string) (int64, error) {
	id, err := getOrCreate(ctx, i.run(tx), "decimal_values", "value", canonical, canonical)
	if err != nil {
		return 0, err
	}
	i.decCache.Add(id, canonical)
	return id, nil
}

func getOrCreate(ctx context.Context, run execer, table, keyCol, key, value string) (int64, error) {
	if _, err := run.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s(%s) VALUES (?)`, table, keyCol), value); err != nil {
		return 0, fmt.Errorf("intern %s: %w", table, err)
	}
	var id int64
	if err := run.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s=?`, table, keyCol), key).Scan(&id); err != nil {
		return 0, fmt.Errorf("reread %s: %w", table, err)
	}
	return id, nil
}

// LookupString resolves a string surrogate id, hitting the cache first.
func (i *Interner) LookupString(ctx context.Context, id int64) (string, error) {
	return i.lookup(ctx, i.strCache, "string_values", id)
}

// LookupText resolves a text surrogate id.
func (i *Interner) LookupText(ctx context.Context, id int64) (string, error) {
	return i.lookup(ctx, i.txtCache, "text_values", id)
}

// LookupDecimal resolves a decimal surrogate id to its canonical string.
func (i *Interner) LookupDecimal(ctx context.Context, id int64) (string, error) {
	return i.lookup(ctx, i.decCache, "decimal_values", id)
}

func (i *Interner) lookup(ctx context.Context, cache *lru.Cache[int64, string], table string, id int64) (string, error) {
	if v, ok := cache.Get(id); ok {
		return v, nil
	}
	var value string
	err := i.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE id=?`, table), id).Scan(&value)
	if err == sql.ErrNoRows {
		return "", apperr.NotFound(table, fmt.Sprintf("%d", id))
	}
	if err != nil {
		return "", err
	}
	cache.Add(id, value)
	return value, nil
}

// WarmupStrings bulk-loads string surrogates into the cache before a batch
// of decodes (a history page), avoiding N+1 point lookups.
func (i *Interner) WarmupStrings(ctx context.Context, ids []int64) error {
	return i.warmup(ctx, i.strCache, "string_values", ids)
}

// WarmupTexts bulk-loads text surrogates into the cache.
func (i *Interner) WarmupTexts(ctx context.Context, ids []int64) error {
	return i.warmup(ctx, i.txtCache, "text_values", ids)
}

// WarmupDecimals bulk-loads decimal surrogates into the cache.
func (i *Interner) WarmupDecimals(ctx context.Context, ids []int64) error {
	return i.warmup(ctx, i.decCache, "decimal_values", ids)
}

func (i *Interner) warmup(ctx context.Context, cache *lru.Cache[int64, string], table string, ids []int64) error {
	var missing []int64
	for _, id := range ids {
		if _, ok := cache.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(missing)), ",")
	args := make([]any, len(missing))
	for n, id := range missing {
		args[n] = id
	}
	rows, err := i.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, value FROM %s WHERE id IN (%s)`, table, placeholders), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return err
		}
		cache.Add(id, value)
	}
	return rows.Err()
}

func (i *Interner) run(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return i.DB
}

func hashText(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
