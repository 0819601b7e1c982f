package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"sangue/internal/docstore"
	"sangue/internal/donation/models"
	"sangue/internal/platform/middleware"
	dErrors "sangue/pkg/domain-errors"
	"sangue/pkg/platform/httputil"
)

// Service defines the donation operations the HTTP surface calls.
type Service interface {
	ListCampaigns(ctx context.Context) ([]docstore.Document, error)
	CreateCampaign(ctx context.Context, doc docstore.Document) (models.Result, error)
	DeleteCampaign(ctx context.Context, id, status string) (models.Result, error)
	UpsertDonor(ctx context.Context, doc docstore.Document) (models.Result, error)
	DeleteDonor(ctx context.Context, id, email string) (models.Result, error)
	JoinCampaign(ctx context.Context, email, campaignID string) (models.Result, error)
	FamilyMembers(ctx context.Context, email string) (models.Result, error)
	UpsertFamilyMember(ctx context.Context, doc docstore.Document) (models.Result, error)
	DeleteFamilyMember(ctx context.Context, id, emailDoador string) (models.Result, error)
}

// Handler serves the campaign, donor and family member routes.
type Handler struct {
	logger   *slog.Logger
	service  Service
	validate *validator.Validate
}

// New creates a donation Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: newValidator(),
	}
}

// Register registers the donation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/campanhas", h.handleListCampaigns)
	r.Post("/campanha", h.handleCreateCampaign)
	r.Delete("/campanha", h.handleDeleteCampaign)
	r.Post("/doador", h.handleUpsertDonor)
	r.Delete("/doador", h.handleDeleteDonor)
	r.Post("/doador/campanha", h.handleJoinCampaign)
	r.Post("/familiares", h.handleFamilyMembers)
	r.Post("/familiar", h.handleUpsertFamilyMember)
	r.Delete("/familiar", h.handleDeleteFamilyMember)
}

func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaigns, err := h.service.ListCampaigns(ctx)
	if err != nil {
		h.internalError(ctx, w, "failed to list campaigns", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, campaigns)
}

func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}
	if err := validateBloodTypesField(h.validate, doc); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	result, err := h.service.CreateCampaign(ctx, doc)
	h.respond(ctx, w, "failed to create campaign", result, err)
}

func (h *Handler) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeValid[deleteCampaignRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteCampaign(ctx, req.ID, req.Status)
	h.respond(ctx, w, "failed to delete campaign", result, err)
}

func (h *Handler) handleUpsertDonor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}
	if err := validateEmailField(h.validate, doc, models.FieldEmail); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	result, err := h.service.UpsertDonor(ctx, doc)
	h.respond(ctx, w, "failed to upsert donor", result, err)
}

func (h *Handler) handleDeleteDonor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeValid[deleteDonorRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteDonor(ctx, req.ID, req.Email)
	h.respond(ctx, w, "failed to delete donor", result, err)
}

func (h *Handler) handleJoinCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeValid[joinCampaignRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.JoinCampaign(ctx, req.Email, req.ID)
	h.respond(ctx, w, "failed to join campaign", result, err)
}

func (h *Handler) handleFamilyMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeValid[familyMembersRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.FamilyMembers(ctx, req.Email)
	h.respond(ctx, w, "failed to list family members", result, err)
}

func (h *Handler) handleUpsertFamilyMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}
	if err := validateEmailField(h.validate, doc, models.FieldEmailDoador); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	if err := validateIDField(doc); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	result, err := h.service.UpsertFamilyMember(ctx, doc)
	h.respond(ctx, w, "failed to upsert family member", result, err)
}

func (h *Handler) handleDeleteFamilyMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeValid[deleteFamilyMemberRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteFamilyMember(ctx, req.ID, req.EmailDoador)
	h.respond(ctx, w, "failed to delete family member", result, err)
}

// decodeDocument decodes a free-form JSON object body.
func (h *Handler) decodeDocument(w http.ResponseWriter, r *http.Request) (docstore.Document, bool) {
	ctx := r.Context()
	doc, ok := httputil.DecodeJSON[docstore.Document](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return nil, false
	}
	if doc == nil {
		h.badRequest(ctx, w, dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object"))
		return nil, false
	}
	return doc, true
}

// decodeValid decodes a typed request body and checks its validate tags.
func decodeValid[T any](h *Handler, w http.ResponseWriter, r *http.Request) (T, bool) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[T](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return req, false
	}
	if err := validateStruct(h.validate, &req); err != nil {
		h.badRequest(ctx, w, err)
		return req, false
	}
	return req, true
}

// respond writes a service result, or a 500 for a store failure.
func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, failure string, result models.Result, err error) {
	if err != nil {
		h.internalError(ctx, w, failure, err)
		return
	}
	if !result.Outcome.Success() {
		h.logger.InfoContext(ctx, "request answered with "+string(result.Outcome),
			"request_id", middleware.GetRequestID(ctx),
			"outcome", string(result.Outcome),
		)
	}
	httputil.WriteJSON(w, result.Outcome.HTTPStatus(), result.Data)
}

func (h *Handler) badRequest(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "invalid request",
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}

func (h *Handler) internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
}
