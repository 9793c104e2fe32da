package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"messaging-service/internal/models"
)

func TestCanParticipate(t *testing.T) {
	listing := models.Listing{ID: 10, OwnerID: 1}

	cases := []struct {
		name        string
		actor       int
		counterpart int
		authorized  bool
	}{
		{"owner messages guest", 1, 2, true},
		{"guest messages owner", 2, 1, true},
		{"guest messages other guest", 2, 3, false},
		{"guest messages self", 2, 2, false},
		{"owner messages owner", 1, 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.authorized, CanParticipate(listing, tc.actor, tc.counterpart))
		})
	}
}

func TestCanParticipateIsSymmetric(t *testing.T) {
	listing := models.Listing{ID: 10, OwnerID: 1}

	assert.Equal(t, CanParticipate(listing, 1, 2), CanParticipate(listing, 2, 1))
	assert.Equal(t, CanParticipate(listing, 2, 3), CanParticipate(listing, 3, 2))
}

func TestIsOwner(t *testing.T) {
	listing := models.Listing{ID: 10, OwnerID: 1}

	assert.True(t, IsOwner(listing, 1))
	assert.False(t, IsOwner(listing, 2))
}
