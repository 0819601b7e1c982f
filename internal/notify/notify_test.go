package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sangue/internal/docstore"
	"sangue/internal/donation/models"
)

type fakeSender struct {
	sent   []Message
	failTo string
}

func (s *fakeSender) Send(_ context.Context, msg Message) error {
	if msg.To == s.failTo {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakeBlobs struct {
	refs []string
	err  error
}

func (b *fakeBlobs) Fetch(_ context.Context, ref string) (*Attachment, error) {
	b.refs = append(b.refs, ref)
	if b.err != nil {
		return nil, b.err
	}
	return &Attachment{Filename: "img.png", ContentType: "image/png", Content: []byte("png")}, nil
}

type NotifierSuite struct {
	suite.Suite
	ctx      context.Context
	store    *docstore.InMemory
	cols     models.Collections
	sender   *fakeSender
	blobs    *fakeBlobs
	notifier *Notifier
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = docstore.NewInMemory()
	s.cols = models.DefaultCollectionNames()
	for _, spec := range s.cols.Specs() {
		s.Require().NoError(s.store.EnsureCollection(s.ctx, spec))
	}
	s.sender = &fakeSender{}
	s.blobs = &fakeBlobs{}
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s.notifier = New(s.store, s.cols, s.sender,
		WithBlobFetcher(s.blobs),
		WithClock(func() time.Time { return now }),
	)
}

func (s *NotifierSuite) addDonor(doc docstore.Document) {
	_, err := s.store.Create(s.ctx, s.cols.Donors, doc)
	s.Require().NoError(err)
}

func (s *NotifierSuite) campaignCreated() docstore.Change {
	return docstore.Change{
		Seq:        1,
		Collection: s.cols.Campaigns,
		DocumentID: "c1",
		Operation:  docstore.OperationCreate,
		Document: docstore.Document{
			"id":                   "c1",
			"name":                 "Drive1",
			"image":                "https://blob/campanhas/drive1.png",
			"start_date":           "2026-11-01",
			"end_date":             "2026-11-30",
			"required_blood_types": []any{"O-", "AB-"},
			"participants":         []any{"someone@x.com"},
			"_etag":                `"e"`,
		},
	}
}

func (s *NotifierSuite) notifications() []docstore.Document {
	docs, err := s.store.ReadAll(s.ctx, s.cols.Notifications)
	s.Require().NoError(err)
	return docs
}

func (s *NotifierSuite) TestNewCampaignEmailsEveryDonor() {
	s.addDonor(docstore.Document{"email": "ana@x.com", "name": "Ana"})
	s.addDonor(docstore.Document{"email": "joao.silva@x.com"})

	s.Require().NoError(s.notifier.HandleChange(s.ctx, s.campaignCreated()))

	s.Require().Len(s.sender.sent, 2)
	first := s.sender.sent[0]
	s.Equal("ana@x.com", first.To)
	s.Equal("Nova campanha: Drive1", first.Subject)
	s.Contains(first.HTML, "Olá, Ana!")
	s.Contains(first.HTML, "2026-11-01 a 2026-11-30")
	s.Contains(first.HTML, "O-, AB-")
	s.Require().Len(first.Attachments, 1)
	s.Equal("img.png", first.Attachments[0].Filename)
	s.Contains(s.sender.sent[1].HTML, "Olá, Joao Silva!")
	s.Equal([]string{"https://blob/campanhas/drive1.png"}, s.blobs.refs)

	records := s.notifications()
	s.Require().Len(records, 2)
	s.Equal("c1", records[0].String("campaign_id"))
	s.Equal(StatusSent, records[0].String("status"))
	s.Equal("2026-10-14T12:00:00Z", records[0].String("sent_at"))
}

func (s *NotifierSuite) TestSendFailureIsRecordedAndSkipped() {
	s.addDonor(docstore.Document{"email": "ana@x.com"})
	s.addDonor(docstore.Document{"email": "bia@x.com"})
	s.sender.failTo = "ana@x.com"

	s.Require().NoError(s.notifier.HandleChange(s.ctx, s.campaignCreated()))

	s.Require().Len(s.sender.sent, 1)
	s.Equal("bia@x.com", s.sender.sent[0].To)
	records := s.notifications()
	s.Require().Len(records, 2)
	s.Equal(StatusFailed, records[0].String("status"))
	s.Contains(records[0].String("error"), "mailbox unavailable")
	s.Equal(StatusSent, records[1].String("status"))
}

func (s *NotifierSuite) TestImageFailureStillSends() {
	s.addDonor(docstore.Document{"email": "ana@x.com"})
	s.blobs.err = errors.New("404")

	s.Require().NoError(s.notifier.HandleChange(s.ctx, s.campaignCreated()))

	s.Require().Len(s.sender.sent, 1)
	s.Empty(s.sender.sent[0].Attachments)
}

func (s *NotifierSuite) TestIgnoresOtherChanges() {
	s.addDonor(docstore.Document{"email": "ana@x.com"})

	replaced := s.campaignCreated()
	replaced.Operation = docstore.OperationReplace
	donorCreated := s.campaignCreated()
	donorCreated.Collection = s.cols.Donors

	s.Require().NoError(s.notifier.HandleChange(s.ctx, replaced))
	s.Require().NoError(s.notifier.HandleChange(s.ctx, donorCreated))

	s.Empty(s.sender.sent)
	s.Empty(s.notifications())
}

func (s *NotifierSuite) TestDonorsWithoutEmailAreSkipped() {
	s.addDonor(docstore.Document{"name": "no email"})

	s.Require().NoError(s.notifier.HandleChange(s.ctx, s.campaignCreated()))

	s.Empty(s.sender.sent)
}

func (s *NotifierSuite) TestReadFailurePropagates() {
	notifier := New(s.store, models.Collections{Campaigns: s.cols.Campaigns, Donors: "missing"}, s.sender)

	err := notifier.HandleChange(s.ctx, s.campaignCreated())
	s.Error(err)
}

func (s *NotifierSuite) TestWithoutNotificationsCollectionNothingIsRecorded() {
	s.addDonor(docstore.Document{"email": "ana@x.com"})
	cols := s.cols
	cols.Notifications = ""
	notifier := New(s.store, cols, s.sender)

	s.Require().NoError(notifier.HandleChange(s.ctx, s.campaignCreated()))

	s.Len(s.sender.sent, 1)
	s.Empty(s.notifications())
}
