package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/xero"
)

type MatchSource string

const (
	SourceLink   MatchSource = "link"
	SourceRemote MatchSource = "remote"
	SourceNone   MatchSource = "none"
)

// Match is the remote resource an entity corresponds to, if any.
type Match struct {
	RemoteID string
	Source   MatchSource
}

// Finder looks resources up by their natural key.
type Finder interface {
	FindItemByCode(ctx context.Context, code string) (*xero.Item, error)
	FindContactByEmail(ctx context.Context, email string) (*xero.Contact, error)
	FindInvoiceByReference(ctx context.Context, reference string) (*xero.Invoice, error)
}

// Locator resolves the remote counterpart of a local entity. A recorded link
// wins; otherwise the remote side is searched by natural key. Items and
// contacts must also carry the same name, so an unrelated resource sharing a
// code or email is never adopted.
type Locator struct {
	finder Finder
}

func NewLocator(finder Finder) *Locator {
	return &Locator{finder: finder}
}

func (l *Locator) LocateItem(ctx context.Context, link *store.SyncLink, item xero.Item) (Match, error) {
	if link.Linked() {
		return Match{RemoteID: link.RemoteID, Source: SourceLink}, nil
	}
	if item.Code == "" {
		return Match{Source: SourceNone}, nil
	}

	found, err := l.finder.FindItemByCode(ctx, item.Code)
	if err != nil {
		return Match{}, err
	}
	if found == nil {
		return Match{Source: SourceNone}, nil
	}
	if !sameName(found.Name, item.Name) {
		logMismatch("item", item.Code, found.Name, item.Name)
		return Match{Source: SourceNone}, nil
	}
	return Match{RemoteID: found.ItemID, Source: SourceRemote}, nil
}

func (l *Locator) LocateContact(ctx context.Context, link *store.SyncLink, contact xero.Contact) (Match, error) {
	if link.Linked() {
		return Match{RemoteID: link.RemoteID, Source: SourceLink}, nil
	}
	if contact.EmailAddress == "" {
		return Match{Source: SourceNone}, nil
	}

	found, err := l.finder.FindContactByEmail(ctx, contact.EmailAddress)
	if err != nil {
		return Match{}, err
	}
	if found == nil {
		return Match{Source: SourceNone}, nil
	}
	if !sameName(found.Name, contact.Name) {
		logMismatch("contact", contact.EmailAddress, found.Name, contact.Name)
		return Match{Source: SourceNone}, nil
	}
	return Match{RemoteID: found.ContactID, Source: SourceRemote}, nil
}

// LocateInvoice matches on the reference alone; it is derived from the
// order number and unique per shop.
func (l *Locator) LocateInvoice(ctx context.Context, link *store.SyncLink, reference string) (Match, error) {
	if link.Linked() {
		return Match{RemoteID: link.RemoteID, Source: SourceLink}, nil
	}
	if reference == "" {
		return Match{Source: SourceNone}, nil
	}

	found, err := l.finder.FindInvoiceByReference(ctx, reference)
	if err != nil {
		return Match{}, err
	}
	if found == nil {
		return Match{Source: SourceNone}, nil
	}
	return Match{RemoteID: found.InvoiceID, Source: SourceRemote}, nil
}

func sameName(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func logMismatch(kind, key, remoteName, localName string) {
	logger.Log.Info("Remote match ignored, name differs",
		zap.String("kind", kind),
		zap.String("key", key),
		zap.String("remote_name", remoteName),
		zap.String("local_name", localName))
}
