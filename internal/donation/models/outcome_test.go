package models

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"sangue/internal/docstore"
)

func TestOutcomeHTTPStatus(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    int
	}{
		{OutcomeOK, http.StatusOK},
		{OutcomeCreated, http.StatusCreated},
		{OutcomeUpdated, http.StatusOK},
		{OutcomeDeleted, http.StatusOK},
		{OutcomeCampaignNotFound, http.StatusNotFound},
		{OutcomeDonorNotFound, http.StatusNotFound},
		{OutcomeFamilyMemberNotFound, http.StatusNotFound},
		{OutcomeAlreadyParticipating, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.HTTPStatus())
		})
	}
}

func TestReply(t *testing.T) {
	r := Reply(OutcomeDonorNotFound)

	assert.Equal(t, OutcomeDonorNotFound, r.Outcome)
	assert.Equal(t, Message{Message: "donor not found"}, r.Data)
	assert.False(t, r.Outcome.Success())
}

func TestDeleted(t *testing.T) {
	r := Deleted("campaign")

	assert.Equal(t, OutcomeDeleted, r.Outcome)
	assert.Equal(t, Message{Message: "campaign deleted"}, r.Data)
	assert.True(t, r.Outcome.Success())
}

func TestPublicCampaign(t *testing.T) {
	doc := docstore.Document{
		"id": "c1", "name": "Drive", "participants": []any{"a@x.com"},
		"_rid": "r", "_self": "s", "_etag": "e", "_attachments": "a", "_ts": 1.0,
	}

	assert.Equal(t, docstore.Document{"id": "c1", "name": "Drive"}, PublicCampaign(doc))
}

func TestCollectionSpecs(t *testing.T) {
	specs := DefaultCollectionNames().Specs()

	assert.Len(t, specs, 4)
	assert.Equal(t, docstore.CollectionSpec{Name: "doadores", PartitionKey: "email", UniqueKey: "email"}, specs[1])

	withoutNotifications := Collections{Campaigns: "c", Donors: "d", FamilyMembers: "f"}
	assert.Len(t, withoutNotifications.Specs(), 3)
}
