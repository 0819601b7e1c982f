package models

import "sangue/internal/docstore"

// Document field names, as they appear in JSON payloads.
const (
	FieldID                 = docstore.FieldID
	FieldName               = "name"
	FieldStartDate          = "start_date"
	FieldEndDate            = "end_date"
	FieldImage              = "image"
	FieldDescription        = "description"
	FieldRequiredBloodTypes = "required_blood_types"
	FieldCoordinates        = "coordinates"
	FieldLocation           = "location"
	FieldCity               = "city"
	FieldStatus             = "status"
	FieldParticipants       = "participants"

	FieldEmail     = "email"
	FieldBloodType = "blood_type"
	FieldBirthDate = "birth_date"
	FieldFeedback  = "feedback"

	FieldEmailDoador  = "email_doador"
	FieldRelationship = "relationship"

	FieldCampaignID = "campaign_id"
	FieldSentAt     = "sent_at"
	FieldError      = "error"
)

// Projections applied to records leaving the service.
var (
	// CreatedDonorFields is echoed when a donor is first registered.
	CreatedDonorFields = []string{FieldEmail, FieldID}
	// FamilyMemberFields is echoed for listed and newly created family members.
	FamilyMemberFields = []string{FieldEmailDoador, FieldName, FieldRelationship, FieldBloodType, FieldID}
	// CampaignHiddenFields never leaves the service in a campaign echo.
	CampaignHiddenFields = append([]string{FieldParticipants}, docstore.SystemFields...)
)

// PublicCampaign strips bookkeeping fields and the participant list.
func PublicCampaign(doc docstore.Document) docstore.Document {
	return doc.Without(CampaignHiddenFields...)
}
