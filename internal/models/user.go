package models

// User is the lookup row used to resolve senders and populate display fields.
type User struct {
	ID     int    `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Avatar string `db:"avatar" json:"avatar,omitempty"`
}

// Ref returns the display view of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}
