package models

import (
	"net/http"

	"sangue/internal/docstore"
)

// Outcome classifies the result of a service operation with branching semantics.
type Outcome string

const (
	OutcomeOK                   Outcome = "ok"
	OutcomeCreated              Outcome = "created"
	OutcomeUpdated              Outcome = "updated"
	OutcomeDeleted              Outcome = "deleted"
	OutcomeCampaignNotFound     Outcome = "campaign_not_found"
	OutcomeDonorNotFound        Outcome = "donor_not_found"
	OutcomeFamilyMemberNotFound Outcome = "family_member_not_found"
	OutcomeAlreadyParticipating Outcome = "already_participating"
)

// HTTPStatus maps the outcome to the status the HTTP layer answers with.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeCreated:
		return http.StatusCreated
	case OutcomeCampaignNotFound, OutcomeDonorNotFound, OutcomeFamilyMemberNotFound:
		return http.StatusNotFound
	case OutcomeAlreadyParticipating:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// Success reports whether the operation changed or returned data as requested.
func (o Outcome) Success() bool {
	switch o {
	case OutcomeOK, OutcomeCreated, OutcomeUpdated, OutcomeDeleted:
		return true
	default:
		return false
	}
}

// Message is the payload of confirmations and typed failures.
type Message struct {
	Message string `json:"message"`
}

// Result is the (status, payload) pair returned to the request handler.
// Data is a document, a list of documents or a Message.
type Result struct {
	Outcome Outcome
	Data    any
}

// Document returns Data as a single document, or nil.
func (r Result) Document() docstore.Document {
	doc, _ := r.Data.(docstore.Document)
	return doc
}

// Documents returns Data as a document list, or nil.
func (r Result) Documents() []docstore.Document {
	docs, _ := r.Data.([]docstore.Document)
	return docs
}

var outcomeMessages = map[Outcome]string{
	OutcomeCampaignNotFound:     "campaign not found",
	OutcomeDonorNotFound:        "donor not found",
	OutcomeFamilyMemberNotFound: "family member not found",
	OutcomeAlreadyParticipating: "donor already participating in campaign",
}

// Reply builds a Result whose payload is the outcome's fixed message.
func Reply(o Outcome) Result {
	return Result{Outcome: o, Data: Message{Message: outcomeMessages[o]}}
}

// Deleted confirms the removal of an entity, e.g. Deleted("campaign").
func Deleted(entity string) Result {
	return Result{Outcome: OutcomeDeleted, Data: Message{Message: entity + " deleted"}}
}
