package models

import "time"

// Listing is the ownership lookup row for a marketplace listing. The listing
// lifecycle itself (create/search/update) is owned by another service; only
// the owner relation matters here.
type Listing struct {
	ID        int       `db:"id" json:"id"`
	OwnerID   int       `db:"owner_id" json:"owner_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
