// Package notify announces new campaigns to every registered donor. It is a
// change feed subscriber: the donation service never calls it directly.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"sangue/internal/docstore"
	"sangue/internal/donation/models"
	"sangue/pkg/email"
)

// Notification delivery states recorded in the notifications collection.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Store is the document store surface the notifier reads donors from and
// records deliveries in.
type Store interface {
	ReadAll(ctx context.Context, collection string) ([]docstore.Document, error)
	Create(ctx context.Context, collection string, doc docstore.Document) (docstore.Document, error)
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// BlobFetcher downloads a campaign image by its reference.
type BlobFetcher interface {
	Fetch(ctx context.Context, ref string) (*Attachment, error)
}

// Notifier handles campaign changes.
type Notifier struct {
	store       Store
	collections models.Collections
	sender      Sender
	blobs       BlobFetcher
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(n *Notifier)

// WithBlobFetcher attaches the campaign image to every email.
func WithBlobFetcher(b BlobFetcher) Option {
	return func(n *Notifier) {
		n.blobs = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// New constructs a Notifier. Deliveries are recorded only when
// collections.Notifications is set.
func New(store Store, collections models.Collections, sender Sender, opts ...Option) *Notifier {
	n := &Notifier{
		store:       store,
		collections: collections,
		sender:      sender,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// HandleChange emails every donor about a newly created campaign. Other
// changes are ignored. Only a failure to read the donors is returned, so the
// change is redelivered; individual send failures are recorded and skipped.
func (n *Notifier) HandleChange(ctx context.Context, change docstore.Change) error {
	if change.Collection != n.collections.Campaigns || change.Operation != docstore.OperationCreate {
		return nil
	}
	campaign := models.PublicCampaign(change.Document)

	donors, err := n.store.ReadAll(ctx, n.collections.Donors)
	if err != nil {
		return fmt.Errorf("read donors: %w", err)
	}

	var attachments []Attachment
	if ref := campaign.String(models.FieldImage); ref != "" && n.blobs != nil {
		image, err := n.blobs.Fetch(ctx, ref)
		if err != nil {
			n.logger.WarnContext(ctx, "campaign image unavailable, sending without attachment",
				"campaign_id", change.DocumentID,
				"image", ref,
				"error", err,
			)
		} else {
			attachments = []Attachment{*image}
		}
	}

	var sent, failed int
	for _, donor := range donors {
		to := donor.String(models.FieldEmail)
		if to == "" {
			continue
		}
		msg, err := announcement(campaign, donor, attachments)
		if err == nil {
			err = n.sender.Send(ctx, msg)
		}
		if err != nil {
			failed++
			n.logger.ErrorContext(ctx, "campaign announcement failed",
				"campaign_id", change.DocumentID,
				"error", err,
			)
		} else {
			sent++
		}
		n.record(ctx, change.DocumentID, to, err)
	}

	n.logger.InfoContext(ctx, "campaign announced",
		"campaign_id", change.DocumentID,
		"sent", sent,
		"failed", failed,
	)
	return nil
}

func (n *Notifier) record(ctx context.Context, campaignID, to string, sendErr error) {
	if n.collections.Notifications == "" {
		return
	}
	doc := docstore.Document{
		models.FieldCampaignID: campaignID,
		models.FieldEmail:      to,
		models.FieldStatus:     StatusSent,
		models.FieldSentAt:     n.now().UTC().Format(time.RFC3339),
	}
	if sendErr != nil {
		doc[models.FieldStatus] = StatusFailed
		doc[models.FieldError] = sendErr.Error()
	}
	if _, err := n.store.Create(ctx, n.collections.Notifications, doc); err != nil {
		n.logger.WarnContext(ctx, "failed to record notification",
			"campaign_id", campaignID,
			"error", err,
		)
	}
}

var announcementTemplate = template.Must(template.New("announcement").Parse(`<p>Olá, {{.Name}}!</p>
<p>Uma nova campanha de doação de sangue foi publicada: <strong>{{.Campaign}}</strong>.</p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{if .Period}}<p>Período: {{.Period}}</p>{{end}}
{{if .BloodTypes}}<p>Tipos sanguíneos necessários: {{range $i, $t := .BloodTypes}}{{if $i}}, {{end}}{{$t}}{{end}}</p>{{end}}
<p>Participe e ajude a salvar vidas.</p>`))

type announcementData struct {
	Name        string
	Campaign    string
	Description string
	Period      string
	BloodTypes  []string
}

func announcement(campaign, donor docstore.Document, attachments []Attachment) (Message, error) {
	to := donor.String(models.FieldEmail)
	data := announcementData{
		Name:        donor.String(models.FieldName),
		Campaign:    campaign.String(models.FieldName),
		Description: campaign.String(models.FieldDescription),
	}
	if data.Name == "" {
		data.Name = email.DisplayName(to)
	}
	if start, end := campaign.String(models.FieldStartDate), campaign.String(models.FieldEndDate); start != "" && end != "" {
		data.Period = start + " a " + end
	}
	data.BloodTypes, _ = campaign.Strings(models.FieldRequiredBloodTypes)

	var body bytes.Buffer
	if err := announcementTemplate.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render announcement: %w", err)
	}
	return Message{
		To:          to,
		Subject:     "Nova campanha: " + data.Campaign,
		HTML:        body.String(),
		Attachments: attachments,
	}, nil
}
