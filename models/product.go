package models

import "time"

// Product is a purchasable bot file. ItemID is assigned once and never changes.
type Product struct {
	ItemID      string    `json:"item_id" bson:"item_id"`
	Name        string    `json:"name" bson:"name"`
	Price       float64   `json:"price" bson:"price"`
	Description string    `json:"description" bson:"description"` // stored as-is, format is the editor's concern
	ImageRef    string    `json:"image_ref,omitempty" bson:"image_ref,omitempty"`
	FileRef     string    `json:"-" bson:"file_ref,omitempty"`
	Category    string    `json:"category" bson:"category"`
	IsNew       bool      `json:"is_new" bson:"is_new"`
	IsArchived  bool      `json:"is_archived" bson:"is_archived"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

type Category struct {
	Name string `json:"name" bson:"name"`
}

type StaticPage struct {
	Slug     string `json:"slug" bson:"slug"`
	Title    string `json:"title" bson:"title"`
	Content  string `json:"content" bson:"content"`
	IsActive bool   `json:"is_active" bson:"is_active"`
}

// CatalogSnapshot is everything the storefront renders from.
type CatalogSnapshot struct {
	Products    []Product    `json:"products"`
	Categories  []Category   `json:"categories"`
	Settings    Settings     `json:"settings"`
	StaticPages []StaticPage `json:"static_pages"`
}
