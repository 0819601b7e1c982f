package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"sangue/internal/docstore"
	"sangue/internal/donation/metrics"
	"sangue/internal/donation/models"
	"sangue/pkg/platform/sentinel"
	"sangue/pkg/requestcontext"
)

// DefaultMaxAttempts bounds how often a read-modify-write is re-applied after
// a concurrent write invalidated the document it read.
const DefaultMaxAttempts = 5

// Store is the document store surface the service depends on.
type Store interface {
	EnsureCollection(ctx context.Context, spec docstore.CollectionSpec) error
	ReadAll(ctx context.Context, collection string) ([]docstore.Document, error)
	Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error)
	Create(ctx context.Context, collection string, doc docstore.Document) (docstore.Document, error)
	Replace(ctx context.Context, collection, id string, doc docstore.Document) (docstore.Document, error)
	Delete(ctx context.Context, collection, id, partitionValue string) error
}

// Service orchestrates campaigns, donors and family members over a document store.
// It holds no state between calls beyond its configuration; every operation
// re-reads from the store.
type Service struct {
	store       Store
	collections models.Collections
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCollections overrides the collection ids.
func WithCollections(c models.Collections) Option {
	return func(s *Service) {
		s.collections = c
	}
}

// WithMaxAttempts sets how often a conflicting read-modify-write is tried.
// Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		collections: models.DefaultCollectionNames(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collections returns the configured collection ids.
func (s *Service) Collections() models.Collections {
	return s.collections
}

// Init ensures every configured collection exists and seeds the ones that
// are empty. Collections that already hold documents are left untouched.
func (s *Service) Init(ctx context.Context, seeds map[string][]docstore.Document) error {
	for _, spec := range s.collections.Specs() {
		if err := s.store.EnsureCollection(ctx, spec); err != nil {
			return fmt.Errorf("ensure collection %s: %w", spec.Name, err)
		}
		existing, err := s.store.ReadAll(ctx, spec.Name)
		if err != nil {
			return fmt.Errorf("read collection %s: %w", spec.Name, err)
		}
		if len(existing) > 0 {
			continue
		}
		for _, doc := range seeds[spec.Name] {
			if _, err := s.store.Create(ctx, spec.Name, doc); err != nil {
				return fmt.Errorf("seed collection %s: %w", spec.Name, err)
			}
		}
		if len(seeds[spec.Name]) > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "collection seeded",
				"collection", spec.Name,
				"documents", len(seeds[spec.Name]),
			)
		}
	}
	return nil
}

// ListCampaigns returns every campaign without bookkeeping fields or participants.
func (s *Service) ListCampaigns(ctx context.Context) ([]docstore.Document, error) {
	defer s.observe("list_campaigns", time.Now())

	docs, err := s.store.ReadAll(ctx, s.collections.Campaigns)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		out[i] = models.PublicCampaign(doc)
	}
	s.recordOutcome("list_campaigns", models.OutcomeOK)
	return out, nil
}

// FamilyMembers lists the family members registered under a donor email.
// An email without family members answers donor-not-found; the service does
// not check whether the donor itself exists.
func (s *Service) FamilyMembers(ctx context.Context, email string) (models.Result, error) {
	defer s.observe("family_members", time.Now())

	docs, err := s.probe(ctx, s.collections.FamilyMembers, models.FieldEmailDoador, email)
	if err != nil {
		return models.Result{}, err
	}
	if len(docs) == 0 {
		return s.reply("family_members", models.Reply(models.OutcomeDonorNotFound)), nil
	}
	out := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Keep(models.FamilyMemberFields...)
	}
	return s.reply("family_members", models.Result{Outcome: models.OutcomeOK, Data: out}), nil
}

// UpsertDonor creates the donor when no donor has the given email, otherwise
// merges doc over the stored record.
func (s *Service) UpsertDonor(ctx context.Context, doc docstore.Document) (models.Result, error) {
	defer s.observe("upsert_donor", time.Now())

	incoming := doc.WithoutSystemFields()
	result, err := s.retry(ctx, "upsert_donor", func() (models.Result, error) {
		donors, err := s.probe(ctx, s.collections.Donors, models.FieldEmail, incoming[models.FieldEmail])
		if err != nil {
			return models.Result{}, err
		}
		if len(donors) == 0 {
			// A concurrent registration of the same email fails with ErrUniqueKey
			// on the unique key and the retry takes the merge path.
			created, err := s.store.Create(ctx, s.collections.Donors, incoming)
			if err != nil {
				return models.Result{}, fmt.Errorf("create donor: %w", err)
			}
			s.logAudit(ctx, "donor_created", "donor_id", created.ID())
			return models.Result{
				Outcome: models.OutcomeCreated,
				Data:    created.Keep(models.CreatedDonorFields...),
			}, nil
		}

		replaced, err := s.mergeReplace(ctx, s.collections.Donors, donors[0], incoming)
		if err != nil {
			return models.Result{}, fmt.Errorf("update donor: %w", err)
		}
		return models.Result{Outcome: models.OutcomeUpdated, Data: replaced.WithoutSystemFields()}, nil
	})
	if err != nil {
		return models.Result{}, err
	}
	return s.reply("upsert_donor", result), nil
}

// CreateCampaign stores a new campaign under a store-assigned id.
func (s *Service) CreateCampaign(ctx context.Context, doc docstore.Document) (models.Result, error) {
	defer s.observe("create_campaign", time.Now())

	campaign := doc.WithoutSystemFields().Without(models.FieldID)
	created, err := s.store.Create(ctx, s.collections.Campaigns, campaign)
	if err != nil {
		return models.Result{}, fmt.Errorf("create campaign: %w", err)
	}
	s.logAudit(ctx, "campaign_created", "campaign_id", created.ID())
	return s.reply("create_campaign", models.Result{
		Outcome: models.OutcomeCreated,
		Data:    models.PublicCampaign(created),
	}), nil
}

// DeleteCampaign removes the campaign addressed by id and status.
func (s *Service) DeleteCampaign(ctx context.Context, id, status string) (models.Result, error) {
	defer s.observe("delete_campaign", time.Now())
	return s.delete(ctx, "delete_campaign", s.collections.Campaigns, id, status, "campaign", models.OutcomeCampaignNotFound)
}

// DeleteDonor removes the donor addressed by id and email.
func (s *Service) DeleteDonor(ctx context.Context, id, email string) (models.Result, error) {
	defer s.observe("delete_donor", time.Now())
	return s.delete(ctx, "delete_donor", s.collections.Donors, id, email, "donor", models.OutcomeDonorNotFound)
}

// DeleteFamilyMember removes the family member addressed by id and donor email.
func (s *Service) DeleteFamilyMember(ctx context.Context, id, emailDoador string) (models.Result, error) {
	defer s.observe("delete_family_member", time.Now())
	return s.delete(ctx, "delete_family_member", s.collections.FamilyMembers, id, emailDoador, "family member", models.OutcomeFamilyMemberNotFound)
}

func (s *Service) delete(ctx context.Context, op, collection, id, key, entity string, notFound models.Outcome) (models.Result, error) {
	err := s.store.Delete(ctx, collection, id, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.reply(op, models.Reply(notFound)), nil
	}
	if err != nil {
		return models.Result{}, fmt.Errorf("delete %s: %w", entity, err)
	}
	s.logAudit(ctx, op, "document_id", id, "collection", collection)
	return s.reply(op, models.Deleted(entity)), nil
}

// JoinCampaign appends a donor email to a campaign's participants.
// The campaign is checked before the donor, so a request naming neither
// answers campaign-not-found.
func (s *Service) JoinCampaign(ctx context.Context, email, campaignID string) (models.Result, error) {
	defer s.observe("join_campaign", time.Now())

	result, err := s.retry(ctx, "join_campaign", func() (models.Result, error) {
		campaigns, err := s.probe(ctx, s.collections.Campaigns, models.FieldID, campaignID)
		if err != nil {
			return models.Result{}, err
		}
		if len(campaigns) == 0 {
			return models.Reply(models.OutcomeCampaignNotFound), nil
		}
		donors, err := s.probe(ctx, s.collections.Donors, models.FieldEmail, email)
		if err != nil {
			return models.Result{}, err
		}
		if len(donors) == 0 {
			return models.Reply(models.OutcomeDonorNotFound), nil
		}

		campaign := campaigns[0]
		participants, _ := campaign.Strings(models.FieldParticipants)
		if slices.Contains(participants, email) {
			return models.Reply(models.OutcomeAlreadyParticipating), nil
		}
		campaign[models.FieldParticipants] = append(participants, email)

		// campaign still carries the etag it was read with.
		replaced, err := s.store.Replace(ctx, s.collections.Campaigns, campaign.ID(), campaign)
		if err != nil {
			return models.Result{}, fmt.Errorf("update campaign participants: %w", err)
		}
		s.logAudit(ctx, "campaign_joined", "campaign_id", campaign.ID(), "participants", len(participants)+1)
		return models.Result{Outcome: models.OutcomeOK, Data: models.PublicCampaign(replaced)}, nil
	})
	if err != nil {
		return models.Result{}, err
	}
	return s.reply("join_campaign", result), nil
}

// UpsertFamilyMember registers a family member under an existing donor, or
// merges doc over the family member named by its id.
func (s *Service) UpsertFamilyMember(ctx context.Context, doc docstore.Document) (models.Result, error) {
	defer s.observe("upsert_family_member", time.Now())

	incoming := doc.WithoutSystemFields()
	result, err := s.retry(ctx, "upsert_family_member", func() (models.Result, error) {
		donors, err := s.probe(ctx, s.collections.Donors, models.FieldEmail, incoming[models.FieldEmailDoador])
		if err != nil {
			return models.Result{}, err
		}
		if len(donors) == 0 {
			return models.Reply(models.OutcomeDonorNotFound), nil
		}

		if incoming[models.FieldID] == nil {
			created, err := s.store.Create(ctx, s.collections.FamilyMembers, incoming.Without(models.FieldID))
			if err != nil {
				return models.Result{}, fmt.Errorf("create family member: %w", err)
			}
			s.logAudit(ctx, "family_member_created", "family_member_id", created.ID())
			return models.Result{
				Outcome: models.OutcomeCreated,
				Data:    created.Keep(models.FamilyMemberFields...),
			}, nil
		}

		members, err := s.probe(ctx, s.collections.FamilyMembers, models.FieldID, incoming[models.FieldID])
		if err != nil {
			return models.Result{}, err
		}
		if len(members) == 0 {
			return models.Reply(models.OutcomeFamilyMemberNotFound), nil
		}
		replaced, err := s.mergeReplace(ctx, s.collections.FamilyMembers, members[0], incoming)
		if err != nil {
			return models.Result{}, fmt.Errorf("update family member: %w", err)
		}
		return models.Result{Outcome: models.OutcomeUpdated, Data: replaced.WithoutSystemFields()}, nil
	})
	if err != nil {
		return models.Result{}, err
	}
	return s.reply("upsert_family_member", result), nil
}

// probe is the equality lookup every existence check goes through.
// An empty result means not found.
func (s *Service) probe(ctx context.Context, collection, field string, value any) ([]docstore.Document, error) {
	docs, err := s.store.Query(ctx, collection, docstore.Eq(field, value))
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, field, err)
	}
	return docs, nil
}

// mergeReplace writes incoming over stored and replaces it conditionally on
// the etag stored was read with. The stored id always wins.
func (s *Service) mergeReplace(ctx context.Context, collection string, stored, incoming docstore.Document) (docstore.Document, error) {
	merged := stored.WithoutSystemFields().Merge(incoming)
	merged[models.FieldID] = stored.ID()
	merged[docstore.FieldETag] = stored.ETag()
	return s.store.Replace(ctx, collection, stored.ID(), merged)
}

// retry runs fn again while it fails because a concurrent write got there
// first: a stale etag on replace, or a unique key taken between probe and
// create. A duplicate id is not a race and fails at once.
func (s *Service) retry(ctx context.Context, op string, fn func() (models.Result, error)) (models.Result, error) {
	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil || !retryable(err) {
			return result, err
		}
		if attempt >= s.maxAttempts {
			return models.Result{}, fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, err)
		}
		if err := ctx.Err(); err != nil {
			return models.Result{}, err
		}
		if s.logger != nil {
			s.logger.DebugContext(ctx, "concurrent write, retrying",
				"operation", op,
				"attempt", attempt,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		if s.metrics != nil {
			s.metrics.IncrementRetries()
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, sentinel.ErrPreconditionFailed) || errors.Is(err, docstore.ErrUniqueKey)
}

func (s *Service) reply(op string, r models.Result) models.Result {
	s.recordOutcome(op, r.Outcome)
	return r
}

func (s *Service) recordOutcome(op string, o models.Outcome) {
	if s.metrics != nil {
		s.metrics.RecordOutcome(op, string(o))
	}
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}
