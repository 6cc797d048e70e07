package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/types"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve pooled and transactional calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgCatalog implements the catalog queries over a querier.
type pgCatalog struct {
	q      querier
	logger *slog.Logger
}

// PostgresStore is the pgx-backed catalog store.
type PostgresStore struct {
	pgCatalog
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{
		pgCatalog: pgCatalog{q: pool, logger: logger.With("component", "catalog_store")},
		pool:      pool,
	}, nil
}

// WithTx runs fn in a single transaction. pgx rolls back when fn returns an
// error and commits otherwise.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(CatalogTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgCatalog{q: tx, logger: s.logger})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }

// article is NULL in the table when the item has none; the partial unique
// index only covers real articles. Reads coalesce it back to "".
const itemColumns = `id, name, brand, color, size, clothing_type, description,
	price, category, COALESCE(article, ''), style, image_url, created_at, updated_at`

func scanItem(row pgx.Row) (*types.CatalogItem, error) {
	var (
		it       types.CatalogItem
		category string
	)
	err := row.Scan(
		&it.ID, &it.Name, &it.Brand, &it.Color, &it.Size, &it.ClothingType,
		&it.Description, &it.Price, &category, &it.Article, &it.Style,
		&it.ImageURL, &it.CreatedAt, &it.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Category = types.Category(category)
	return &it, nil
}

func (c *pgCatalog) FindByArticle(ctx context.Context, article string) (*types.CatalogItem, error) {
	if article == "" {
		return nil, nil
	}
	row := c.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE article = $1`, article)
	it, err := scanItem(row)
	if err != nil {
		return nil, &types.StoreError{Op: "find_by_article", Err: err}
	}
	return it, nil
}

func (c *pgCatalog) FindByBrandAndName(ctx context.Context, brand, name string) (*types.CatalogItem, error) {
	if brand == "" || name == "" {
		return nil, nil
	}
	row := c.q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE brand = $1 AND name = $2 ORDER BY id LIMIT 1`,
		brand, name)
	it, err := scanItem(row)
	if err != nil {
		return nil, &types.StoreError{Op: "find_by_brand_and_name", Err: err}
	}
	return it, nil
}

func (c *pgCatalog) FindByName(ctx context.Context, name string) (*types.CatalogItem, error) {
	if name == "" {
		return nil, nil
	}
	row := c.q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE name = $1 ORDER BY id LIMIT 1`, name)
	it, err := scanItem(row)
	if err != nil {
		return nil, &types.StoreError{Op: "find_by_name", Err: err}
	}
	return it, nil
}

func (c *pgCatalog) InsertItem(ctx context.Context, it *types.CatalogItem) (int64, error) {
	row := c.q.QueryRow(ctx, `
		INSERT INTO items (name, brand, color, size, clothing_type, description,
		                   price, category, article, style, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING id, created_at, updated_at`,
		it.Name, it.Brand, it.Color, it.Size, it.ClothingType, it.Description,
		it.Price, string(it.Category), it.Article, it.Style, it.ImageURL)
	if err := row.Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return 0, &types.StoreError{Op: "insert_item", Err: err}
	}
	c.logger.Debug("item inserted", "item_id", it.ID, "name", it.Name)
	return it.ID, nil
}

func (c *pgCatalog) UpdateItem(ctx context.Context, it *types.CatalogItem) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE items
		SET name = $2, brand = $3, color = $4, size = $5, clothing_type = $6,
		    description = $7, price = $8, category = $9, article = NULLIF($10, ''),
		    style = $11, image_url = $12, updated_at = now()
		WHERE id = $1`,
		it.ID, it.Name, it.Brand, it.Color, it.Size, it.ClothingType,
		it.Description, it.Price, string(it.Category), it.Article, it.Style, it.ImageURL)
	if err != nil {
		return &types.StoreError{Op: "update_item", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &types.StoreError{Op: "update_item", Err: fmt.Errorf("item %d not found", it.ID)}
	}
	return nil
}

// InsertImage is idempotent: a URL already attached to the item is left
// untouched.
func (c *pgCatalog) InsertImage(ctx context.Context, img *types.ItemImage) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO item_images (item_id, url, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id, url) DO NOTHING`,
		img.ItemID, img.URL, img.Position)
	if err != nil {
		return &types.StoreError{Op: "insert_image", Err: err}
	}
	return nil
}

// InsertVariant is idempotent: an SKU already attached to the item is left
// untouched.
func (c *pgCatalog) InsertVariant(ctx context.Context, v *types.ItemVariant) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO item_variants (item_id, size, color, sku, stock, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id, sku) DO NOTHING`,
		v.ItemID, v.Size, v.Color, v.SKU, v.Stock, v.Price)
	if err != nil {
		return &types.StoreError{Op: "insert_variant", Err: err}
	}
	return nil
}

func (c *pgCatalog) ImagesByItem(ctx context.Context, itemID int64) ([]types.ItemImage, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, item_id, url, position
		FROM item_images
		WHERE item_id = $1
		ORDER BY position`, itemID)
	if err != nil {
		return nil, &types.StoreError{Op: "images_by_item", Err: err}
	}
	defer rows.Close()

	var images []types.ItemImage
	for rows.Next() {
		var img types.ItemImage
		if err := rows.Scan(&img.ID, &img.ItemID, &img.URL, &img.Position); err != nil {
			return nil, &types.StoreError{Op: "images_by_item", Err: err}
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "images_by_item", Err: err}
	}
	return images, nil
}

func (c *pgCatalog) VariantsByItem(ctx context.Context, itemID int64) ([]types.ItemVariant, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, item_id, size, color, sku, stock, price
		FROM item_variants
		WHERE item_id = $1
		ORDER BY id`, itemID)
	if err != nil {
		return nil, &types.StoreError{Op: "variants_by_item", Err: err}
	}
	defer rows.Close()

	var variants []types.ItemVariant
	for rows.Next() {
		var v types.ItemVariant
		if err := rows.Scan(&v.ID, &v.ItemID, &v.Size, &v.Color, &v.SKU, &v.Stock, &v.Price); err != nil {
			return nil, &types.StoreError{Op: "variants_by_item", Err: err}
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "variants_by_item", Err: err}
	}
	return variants, nil
}

// Statistics aggregates the stored catalog: totals, top-10 brands and
// categories, price range and the count of items added in the last week.
func (c *pgCatalog) Statistics(ctx context.Context) (*types.CatalogStats, error) {
	stats := &types.CatalogStats{}

	err := c.q.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM items),
			(SELECT count(*) FROM item_variants),
			(SELECT count(*) FROM items WHERE created_at >= now() - INTERVAL '7 days')`).
		Scan(&stats.TotalItems, &stats.TotalVariants, &stats.RecentItems)
	if err != nil {
		return nil, &types.StoreError{Op: "statistics", Err: err}
	}

	err = c.q.QueryRow(ctx, `
		SELECT COALESCE(min(price), 0), COALESCE(max(price), 0), COALESCE(avg(price), 0)
		FROM items
		WHERE price IS NOT NULL`).
		Scan(&stats.Price.Min, &stats.Price.Max, &stats.Price.Avg)
	if err != nil {
		return nil, &types.StoreError{Op: "statistics", Err: err}
	}

	stats.TopBrands, err = c.labelCounts(ctx, `
		SELECT brand, count(*) AS n
		FROM items
		WHERE brand <> ''
		GROUP BY brand
		ORDER BY n DESC, brand
		LIMIT 10`)
	if err != nil {
		return nil, err
	}

	stats.TopCategories, err = c.labelCounts(ctx, `
		SELECT category, count(*) AS n
		FROM items
		WHERE category <> ''
		GROUP BY category
		ORDER BY n DESC, category
		LIMIT 10`)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (c *pgCatalog) labelCounts(ctx context.Context, query string) ([]types.LabelCount, error) {
	rows, err := c.q.Query(ctx, query)
	if err != nil {
		return nil, &types.StoreError{Op: "statistics", Err: err}
	}
	defer rows.Close()

	var counts []types.LabelCount
	for rows.Next() {
		var lc types.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, &types.StoreError{Op: "statistics", Err: err}
		}
		counts = append(counts, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "statistics", Err: err}
	}
	return counts, nil
}
