// Package catalog serves products, categories, settings and static pages.
// Every read goes through the two-tier cache and every admin write goes to
// the store first and then refreshes the cached copy.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"botstore/cache"
	"botstore/db"
	"botstore/errs"
	"botstore/models"
)

// Cache keys, one per table.
const (
	keyProducts   = "products"
	keyCategories = "categories"
	keySettings   = "settings"
	keyPages      = "pages"
)

var slugRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

type Options struct {
	TTL    time.Duration
	Clock  cache.Clock
	Local  *cache.Local
	Remote cache.Tier
	Logger *slog.Logger
}

type Service struct {
	store db.CatalogStore
	now   func() time.Time
	log   *slog.Logger

	products   *cache.Manager[[]models.Product]
	categories *cache.Manager[[]models.Category]
	settings   *cache.Manager[models.Settings]
	pages      *cache.Manager[[]models.StaticPage]
}

func NewService(store db.CatalogStore, opts Options) *Service {
	if opts.Local == nil {
		opts.Local = cache.NewLocal()
	}
	if opts.Clock == nil {
		opts.Clock = cache.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	co := cache.Options{
		Namespace: "catalog:",
		TTL:       opts.TTL,
		Clock:     opts.Clock,
		Local:     opts.Local,
		Remote:    opts.Remote,
		Logger:    opts.Logger,
	}
	return &Service{
		store:      store,
		now:        opts.Clock.Now,
		log:        opts.Logger,
		products:   cache.New[[]models.Product](co),
		categories: cache.New[[]models.Category](co),
		settings:   cache.New[models.Settings](co),
		pages:      cache.New[[]models.StaticPage](co),
	}
}

func (s *Service) loadProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *Service) loadCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) loadSettings(ctx context.Context) (models.Settings, error) {
	return s.store.LoadSettings(ctx)
}

func (s *Service) loadPages(ctx context.Context) ([]models.StaticPage, error) {
	return s.store.ListPages(ctx)
}

// Snapshot is the storefront view: archived products and inactive pages are left out.
func (s *Service) Snapshot(ctx context.Context) (models.CatalogSnapshot, error) {
	products, err := s.products.Get(ctx, keyProducts, s.loadProducts)
	if err != nil {
		return models.CatalogSnapshot{}, db.Surface("load products", err)
	}
	categories, err := s.categories.Get(ctx, keyCategories, s.loadCategories)
	if err != nil {
		return models.CatalogSnapshot{}, db.Surface("load categories", err)
	}
	settings, err := s.settings.Get(ctx, keySettings, s.loadSettings)
	if err != nil {
		return models.CatalogSnapshot{}, db.Surface("load settings", err)
	}
	pages, err := s.pages.Get(ctx, keyPages, s.loadPages)
	if err != nil {
		return models.CatalogSnapshot{}, db.Surface("load pages", err)
	}

	snap := models.CatalogSnapshot{
		Products:    make([]models.Product, 0, len(products)),
		Categories:  categories,
		Settings:    settings,
		StaticPages: make([]models.StaticPage, 0, len(pages)),
	}
	for _, p := range products {
		if !p.IsArchived {
			snap.Products = append(snap.Products, p)
		}
	}
	for _, p := range pages {
		if p.IsActive {
			snap.StaticPages = append(snap.StaticPages, p)
		}
	}
	if snap.Categories == nil {
		snap.Categories = []models.Category{}
	}
	if snap.Settings == nil {
		snap.Settings = models.Settings{}
	}
	return snap, nil
}

// Products returns every product, archived ones included. Admin listing.
func (s *Service) Products(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.Get(ctx, keyProducts, s.loadProducts)
	if err != nil {
		return nil, db.Surface("load products", err)
	}
	return products, nil
}

func (s *Service) Product(ctx context.Context, itemID string) (models.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return models.Product{}, err
	}
	for _, p := range products {
		if p.ItemID == itemID {
			return p, nil
		}
	}
	return models.Product{}, errs.NotFound("product", itemID)
}

// ProductFile returns the stored file reference for a product. File refs are
// not serialized into the cache, so this always reads the store.
func (s *Service) ProductFile(ctx context.Context, itemID string) (string, error) {
	p, err := s.store.GetProduct(ctx, itemID)
	if errors.Is(err, db.ErrNotFound) {
		return "", errs.NotFound("product", itemID)
	}
	if err != nil {
		return "", db.Surface("load product file", err)
	}
	return p.FileRef, nil
}

func (s *Service) Page(ctx context.Context, slug string) (models.StaticPage, error) {
	pages, err := s.pages.Get(ctx, keyPages, s.loadPages)
	if err != nil {
		return models.StaticPage{}, db.Surface("load pages", err)
	}
	for _, p := range pages {
		if p.Slug == slug && p.IsActive {
			return p, nil
		}
	}
	return models.StaticPage{}, errs.NotFound("page", slug)
}

func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	settings, err := s.settings.Get(ctx, keySettings, s.loadSettings)
	if err != nil {
		return nil, db.Surface("load settings", err)
	}
	return settings, nil
}

func (s *Service) ActivePaymentMethods(ctx context.Context) (map[models.PaymentMethod]bool, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return settings.ActivePaymentMethods()
}

// ProductInput is an admin create-or-update. CreatedAt is set by the service.
type ProductInput struct {
	ItemID      string  `json:"item_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	ImageRef    string  `json:"image_ref"`
	FileRef     string  `json:"file_ref"`
	Category    string  `json:"category"`
	IsNew       bool    `json:"is_new"`
	IsArchived  bool    `json:"is_archived"`
}

func (s *Service) SaveProduct(ctx context.Context, in ProductInput) (models.Product, error) {
	var v errs.Validation
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.Name = strings.TrimSpace(in.Name)
	if !slugRE.MatchString(in.ItemID) {
		v.Add("item_id", "must be lowercase letters, digits and dashes")
	}
	if in.Name == "" {
		v.Add("name", "is required")
	}
	if in.Price <= 0 {
		v.Add("price", "must be greater than zero")
	}
	if in.Category != "" {
		ok, err := s.hasCategory(ctx, in.Category)
		if err != nil {
			return models.Product{}, err
		}
		if !ok {
			v.Add("category", "unknown category")
		}
	}
	if err := v.Err(); err != nil {
		return models.Product{}, err
	}

	p := models.Product{
		ItemID:      in.ItemID,
		Name:        in.Name,
		Price:       in.Price,
		Description: in.Description,
		ImageRef:    in.ImageRef,
		FileRef:     in.FileRef,
		Category:    in.Category,
		IsNew:       in.IsNew,
		IsArchived:  in.IsArchived,
		CreatedAt:   s.now(),
	}
	err := s.products.Write(ctx, keyProducts, func(ctx context.Context) error {
		err := s.store.UpdateProduct(ctx, p)
		if errors.Is(err, db.ErrNotFound) {
			return s.store.InsertProduct(ctx, p)
		}
		return err
	}, s.loadProducts)
	if err != nil {
		return models.Product{}, db.Surface("save product", err)
	}
	return s.Product(ctx, p.ItemID)
}

// ArchiveProduct hides a product from the storefront. Existing orders keep working.
func (s *Service) ArchiveProduct(ctx context.Context, itemID string, archived bool) error {
	err := s.products.Write(ctx, keyProducts, func(ctx context.Context) error {
		return s.store.SetProductArchived(ctx, itemID, archived)
	}, s.loadProducts)
	if errors.Is(err, db.ErrNotFound) {
		return errs.NotFound("product", itemID)
	}
	return db.Surface("archive product", err)
}

func (s *Service) hasCategory(ctx context.Context, name string) (bool, error) {
	cats, err := s.categories.Get(ctx, keyCategories, s.loadCategories)
	if err != nil {
		return false, db.Surface("load categories", err)
	}
	for _, c := range cats {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.Invalid("name", "is required")
	}
	err := s.categories.Write(ctx, keyCategories, func(ctx context.Context) error {
		return s.store.InsertCategory(ctx, name)
	}, s.loadCategories)
	if errors.Is(err, db.ErrDuplicate) {
		return errs.Invalid("name", "already exists")
	}
	return db.Surface("add category", err)
}

func (s *Service) RemoveCategory(ctx context.Context, name string) error {
	err := s.categories.Write(ctx, keyCategories, func(ctx context.Context) error {
		return s.store.DeleteCategory(ctx, name)
	}, s.loadCategories)
	if errors.Is(err, db.ErrNotFound) {
		return errs.NotFound("category", name)
	}
	return db.Surface("remove category", err)
}

func (s *Service) SaveSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errs.Invalid("key", "is required")
	}
	err := s.settings.Write(ctx, keySettings, func(ctx context.Context) error {
		return s.store.PutSetting(ctx, key, value)
	}, s.loadSettings)
	return db.Surface("save setting", err)
}

func (s *Service) SetUrgentMessage(ctx context.Context, m models.UrgentMessage) error {
	if m.Enabled && strings.TrimSpace(m.Text) == "" {
		return errs.Invalid("text", "is required when the message is enabled")
	}
	raw, err := models.EncodeUrgentMessage(m)
	if err != nil {
		return err
	}
	return s.SaveSetting(ctx, models.SettingUrgentMessage, raw)
}

func (s *Service) SetSocialLinks(ctx context.Context, links map[string]string) error {
	var v errs.Validation
	for name, url := range links {
		if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
			v.Add(name, "must be an http(s) URL")
		}
	}
	if err := v.Err(); err != nil {
		return err
	}
	raw, err := models.EncodeSocialLinks(links)
	if err != nil {
		return err
	}
	return s.SaveSetting(ctx, models.SettingSocialLinks, raw)
}

func (s *Service) SetPaymentMethods(ctx context.Context, methods []models.PaymentMethod) error {
	if len(methods) == 0 {
		return errs.Invalid("payment_methods", "at least one method must stay active")
	}
	for _, m := range methods {
		if !m.Valid() {
			return errs.Invalid("payment_methods", fmt.Sprintf("unknown method %q", m))
		}
	}
	raw, err := models.EncodePaymentMethods(methods)
	if err != nil {
		return err
	}
	return s.SaveSetting(ctx, models.SettingPaymentMethods, raw)
}

func (s *Service) SavePage(ctx context.Context, p models.StaticPage) error {
	var v errs.Validation
	if !slugRE.MatchString(p.Slug) {
		v.Add("slug", "must be lowercase letters, digits and dashes")
	}
	if strings.TrimSpace(p.Title) == "" {
		v.Add("title", "is required")
	}
	if err := v.Err(); err != nil {
		return err
	}
	err := s.pages.Write(ctx, keyPages, func(ctx context.Context) error {
		return s.store.UpsertPage(ctx, p)
	}, s.loadPages)
	return db.Surface("save page", err)
}
