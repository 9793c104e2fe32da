// Package policy decides who may take part in listing-scoped conversations.
package policy

import "messaging-service/internal/models"

// CanParticipate reports whether actor may send to or read a conversation with
// counterpart on the listing. At least one side of the pair must be the
// listing owner; two guests cannot message each other through a listing.
func CanParticipate(listing models.Listing, actorID, counterpartID int) bool {
	return actorID == listing.OwnerID || counterpartID == listing.OwnerID
}

// IsOwner reports whether actor owns the listing. Owner-inbox retrieval is
// restricted to the owner.
func IsOwner(listing models.Listing, actorID int) bool {
	return actorID == listing.OwnerID
}
