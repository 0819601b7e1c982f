package models

import "sangue/internal/docstore"

// Default collection ids.
const (
	DefaultCampaigns     = "campanhas"
	DefaultDonors        = "doadores"
	DefaultFamilyMembers = "familiares"
	DefaultNotifications = "notificacoes"
)

// Collections names the logical collections the donation service reads and writes.
// Notifications is optional; the service never reads it.
type Collections struct {
	Campaigns     string
	Donors        string
	FamilyMembers string
	Notifications string
}

// DefaultCollectionNames returns the collection ids used when none are configured.
func DefaultCollectionNames() Collections {
	return Collections{
		Campaigns:     DefaultCampaigns,
		Donors:        DefaultDonors,
		FamilyMembers: DefaultFamilyMembers,
		Notifications: DefaultNotifications,
	}
}

// Specs returns the store definition of every configured collection.
// Partition keys match the key fields the delete operations address documents by.
func (c Collections) Specs() []docstore.CollectionSpec {
	specs := []docstore.CollectionSpec{
		{Name: c.Campaigns, PartitionKey: FieldStatus},
		{Name: c.Donors, PartitionKey: FieldEmail, UniqueKey: FieldEmail},
		{Name: c.FamilyMembers, PartitionKey: FieldEmailDoador},
	}
	if c.Notifications != "" {
		specs = append(specs, docstore.CollectionSpec{Name: c.Notifications, PartitionKey: FieldEmail})
	}
	return specs
}
