package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// NotionNotifier appends one page per change summary to a Notion database,
// giving the account owner a visible sync activity feed.
type NotionNotifier struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
}

// NewNotionNotifier creates a notifier writing to the given database.
func NewNotionNotifier(token, databaseID string) *NotionNotifier {
	return &NotionNotifier{
		client:     notionapi.NewClient(notionapi.Token(token)),
		databaseID: notionapi.DatabaseID(databaseID),
	}
}

// AccountChanged implements the Notifier interface.
func (n *NotionNotifier) AccountChanged(ctx context.Context, accountID uuid.UUID, summary domain.ChangeSummary) error {
	now := notionapi.Date(time.Now())

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: n.databaseID,
		},
		Properties: notionapi.Properties{
			"Account": notionapi.TitleProperty{
				Title: []notionapi.RichText{
					{
						Type: notionapi.ObjectTypeText,
						Text: &notionapi.Text{Content: accountID.String()},
					},
				},
			},
			"Synced At": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
			"Added":    notionapi.NumberProperty{Number: float64(summary.Added)},
			"Modified": notionapi.NumberProperty{Number: float64(summary.Modified)},
			"Removed":  notionapi.NumberProperty{Number: float64(summary.Removed)},
		},
	}

	if _, err := n.client.Page.Create(ctx, req); err != nil {
		return fmt.Errorf("notion: creating sync summary page: %w", err)
	}
	return nil
}
