package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sangue/internal/docstore"
	"sangue/internal/donation/models"
	"sangue/internal/donation/service"
	"sangue/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	logs   *bytes.Buffer
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	store := docstore.NewInMemory()
	svc := service.New(store)
	s.Require().NoError(svc.Init(context.Background(), nil))

	s.logs = &bytes.Buffer{}
	s.router = newRouter(svc, slog.New(slog.NewTextHandler(s.logs, nil)))
}

func newRouter(svc Service, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	return r
}

func (s *HandlerSuite) do(method, path string, body any) map[string]any {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), method, path, body))
	if rr.Body.Len() == 0 {
		return nil
	}
	out := map[string]any{}
	_ = testutil.DecodeBody(rr, &out)
	out["__status"] = rr.Code
	return out
}

func (s *HandlerSuite) TestEndToEndScenario() {
	donor := s.do(http.MethodPost, "/doador", map[string]any{"email": "a@x.com"})
	s.Equal(http.StatusCreated, donor["__status"])
	s.Equal("a@x.com", donor["email"])
	s.NotEmpty(donor["id"])

	campaign := s.do(http.MethodPost, "/campanha", map[string]any{"name": "Drive1", "status": "Active"})
	s.Equal(http.StatusCreated, campaign["__status"])
	s.NotEmpty(campaign["id"])
	s.NotContains(campaign, "participants")

	joined := s.do(http.MethodPost, "/doador/campanha", map[string]any{"email": "a@x.com", "id": campaign["id"]})
	s.Equal(http.StatusOK, joined["__status"])
	s.NotContains(joined, "participants")

	again := s.do(http.MethodPost, "/doador/campanha", map[string]any{"email": "a@x.com", "id": campaign["id"]})
	s.Equal(http.StatusConflict, again["__status"])
	s.Equal("donor already participating in campaign", again["message"])
}

func (s *HandlerSuite) TestListCampaigns() {
	s.do(http.MethodPost, "/campanha", map[string]any{"name": "Listed", "status": "Active"})

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/campanhas"))
	testutil.AssertStatusOK(s.T(), rr)

	var campaigns []map[string]any
	s.Require().NoError(testutil.DecodeBody(rr, &campaigns))
	s.Require().Len(campaigns, 1)
	s.Equal("Listed", campaigns[0]["name"])
	s.NotContains(campaigns[0], "_etag")
}

func (s *HandlerSuite) TestDeleteRoutes() {
	campaign := s.do(http.MethodPost, "/campanha", map[string]any{"name": "Gone", "status": "Active"})

	first := s.do(http.MethodDelete, "/campanha", map[string]any{"id": campaign["id"], "status": "Active"})
	s.Equal(http.StatusOK, first["__status"])
	s.Equal("campaign deleted", first["message"])

	second := s.do(http.MethodDelete, "/campanha", map[string]any{"id": campaign["id"], "status": "Active"})
	s.Equal(http.StatusNotFound, second["__status"])

	donor := s.do(http.MethodPost, "/doador", map[string]any{"email": "del@x.com"})
	deleted := s.do(http.MethodDelete, "/doador", map[string]any{"id": donor["id"], "email": "del@x.com"})
	s.Equal(http.StatusOK, deleted["__status"])
}

func (s *HandlerSuite) TestFamilyRoutes() {
	s.do(http.MethodPost, "/doador", map[string]any{"email": "p@x.com"})

	none := s.do(http.MethodPost, "/familiares", map[string]any{"email": "p@x.com"})
	s.Equal(http.StatusNotFound, none["__status"])

	created := s.do(http.MethodPost, "/familiar", map[string]any{"email_doador": "p@x.com", "name": "Kid", "blood_type": "A+"})
	s.Equal(http.StatusCreated, created["__status"])

	updated := s.do(http.MethodPost, "/familiar", map[string]any{"email_doador": "p@x.com", "id": created["id"], "relationship": "Filho"})
	s.Equal(http.StatusOK, updated["__status"])
	s.Equal("Kid", updated["name"])

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/familiares", map[string]any{"email": "p@x.com"}))
	testutil.AssertStatusOK(s.T(), rr)
	var members []map[string]any
	s.Require().NoError(testutil.DecodeBody(rr, &members))
	s.Len(members, 1)

	unknownDonor := s.do(http.MethodPost, "/familiar", map[string]any{"email_doador": "ghost@x.com", "id": created["id"]})
	s.Equal(http.StatusNotFound, unknownDonor["__status"])
	s.Equal("donor not found", unknownDonor["message"])

	gone := s.do(http.MethodDelete, "/familiar", map[string]any{"id": created["id"], "email_doador": "p@x.com"})
	s.Equal(http.StatusOK, gone["__status"])
}

func (s *HandlerSuite) TestValidation() {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"malformed json", http.MethodPost, "/doador", `{"email":`},
		{"json array", http.MethodPost, "/campanha", `[1,2]`},
		{"null body", http.MethodPost, "/campanha", `null`},
		{"donor without email", http.MethodPost, "/doador", `{"name":"x"}`},
		{"donor with invalid email", http.MethodPost, "/doador", `{"email":"not-an-email"}`},
		{"donor with numeric email", http.MethodPost, "/doador", `{"email":42}`},
		{"delete campaign without status", http.MethodDelete, "/campanha", `{"id":"c1"}`},
		{"delete donor with invalid email", http.MethodDelete, "/doador", `{"id":"d1","email":"nope"}`},
		{"join without id", http.MethodPost, "/doador/campanha", `{"email":"a@x.com"}`},
		{"family listing with invalid email", http.MethodPost, "/familiares", `{"email":"nope"}`},
		{"family member without donor email", http.MethodPost, "/familiar", `{"name":"x"}`},
		{"family member with numeric id", http.MethodPost, "/familiar", `{"email_doador":"a@x.com","id":7}`},
		{"delete family member without id", http.MethodDelete, "/familiar", `{"email_doador":"a@x.com"}`},
		{"campaign with blood types as string", http.MethodPost, "/campanha", `{"name":"x","required_blood_types":"O-"}`},
		{"campaign with numeric blood type", http.MethodPost, "/campanha", `{"name":"x","required_blood_types":["O-",1]}`},
		{"campaign with blank blood type", http.MethodPost, "/campanha", `{"name":"x","required_blood_types":["O-"," "]}`},
		{"campaign with repeated blood type", http.MethodPost, "/campanha", `{"name":"x","required_blood_types":["O-","O-"]}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), tt.method, tt.path, tt.body))
			testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		})
	}
}

func (s *HandlerSuite) TestCreateCampaignKeepsBloodTypesAsSent() {
	created := s.do(http.MethodPost, "/campanha", map[string]any{
		"name":                 "Drive",
		"required_blood_types": []string{"o-", "AB+"},
	})
	s.Require().Equal(http.StatusCreated, created["__status"])
	s.Equal([]any{"o-", "AB+"}, created["required_blood_types"])

	rejected := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/campanha",
		`{"name":"Drive","required_blood_types":["A+","A+"]}`))
	resp := testutil.UnmarshalErrorResponse(s.T(), rejected)
	s.Equal("validation_error", resp["error"])
	s.Equal("required_blood_types must not repeat a blood type", resp["error_description"])

	campaigns := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/campanhas"))
	var list []map[string]any
	s.Require().NoError(testutil.DecodeBody(campaigns, &list))
	s.Len(list, 1, "a rejected campaign is never stored")
}

func (s *HandlerSuite) TestValidationNamesJSONField() {
	rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodDelete, "/familiar", `{"id":"f1"}`))

	resp := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Equal("validation_error", resp["error"])
	s.Equal("email_doador is required", resp["error_description"])
}

// failingService answers every call with a store failure.
type failingService struct {
	Service
}

var errStore = errors.New("store unreachable")

func (failingService) ListCampaigns(context.Context) ([]docstore.Document, error) {
	return nil, errStore
}

func (failingService) UpsertDonor(context.Context, docstore.Document) (models.Result, error) {
	return models.Result{}, errStore
}

func TestStoreFailureIsInternalError(t *testing.T) {
	logs := &bytes.Buffer{}
	router := newRouter(failingService{}, slog.New(slog.NewJSONHandler(logs, nil)))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/campanhas"))
	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/doador", map[string]any{"email": "a@x.com"}))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := testutil.UnmarshalErrorResponse(t, rr)
	assert.Empty(t, resp["error_description"], "store errors are not leaked")

	assert.Contains(t, logs.String(), "store unreachable")
}
