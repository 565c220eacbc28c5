package sqlite

import (
	"context"
	"fmt"

	"botstore/db"
	"botstore/models"
)

const productColumns = `item_id, name, price, description, image_ref, file_ref, category, is_new, is_archived, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var (
		p         models.Product
		isNew     int
		archived  int
		createdAt int64
	)
	if err := row.Scan(&p.ItemID, &p.Name, &p.Price, &p.Description, &p.ImageRef, &p.FileRef,
		&p.Category, &isNew, &archived, &createdAt); err != nil {
		return models.Product{}, err
	}
	p.IsNew = isNew == 1
	p.IsArchived = archived == 1
	p.CreatedAt = fromNanos(createdAt)
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list products: %w", err))
	}
	defer rows.Close()
	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iter products: %w", err))
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, itemID string) (models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE item_id = ?`, itemID)
	p, err := scanProduct(row)
	if err != nil {
		return models.Product{}, classify(err)
	}
	return p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products(`+productColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ItemID, p.Name, p.Price, p.Description, p.ImageRef, p.FileRef, p.Category,
		boolInt(p.IsNew), boolInt(p.IsArchived), nanos(p.CreatedAt))
	return classify(err)
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = ?, price = ?, description = ?, image_ref = ?, file_ref = ?,
			category = ?, is_new = ?, is_archived = ? WHERE item_id = ?`,
		p.Name, p.Price, p.Description, p.ImageRef, p.FileRef, p.Category,
		boolInt(p.IsNew), boolInt(p.IsArchived), p.ItemID)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}

func (s *Store) SetProductArchived(ctx context.Context, itemID string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET is_archived = ? WHERE item_id = ?`, boolInt(archived), itemID)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var cats []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, classify(rows.Err())
}

func (s *Store) InsertCategory(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO categories(name) VALUES(?)`, name)
	return classify(err)
}

func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE name = ?`, name)
	if err != nil {
		return classify(err)
	}
	return mustMatch(res)
}

func (s *Store) LoadSettings(ctx context.Context) (models.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	settings := models.Settings{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[k] = v
	}
	return settings, classify(rows.Err())
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return classify(err)
}

func (s *Store) ListPages(ctx context.Context) ([]models.StaticPage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, title, content, is_active FROM static_pages ORDER BY slug`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var pages []models.StaticPage
	for rows.Next() {
		var (
			p      models.StaticPage
			active int
		)
		if err := rows.Scan(&p.Slug, &p.Title, &p.Content, &active); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.IsActive = active == 1
		pages = append(pages, p)
	}
	return pages, classify(rows.Err())
}

func (s *Store) UpsertPage(ctx context.Context, p models.StaticPage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO static_pages(slug, title, content, is_active) VALUES(?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET title = excluded.title, content = excluded.content,
			is_active = excluded.is_active`,
		p.Slug, p.Title, p.Content, boolInt(p.IsActive))
	return classify(err)
}

func mustMatch(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
