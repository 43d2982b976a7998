package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
)

var (
	// ErrAlertDelivery wraps per-contact delivery failures.
	ErrAlertDelivery = errors.New("alert delivery failed")
	// ErrNoContacts is returned when there is nobody to alert.
	ErrNoContacts = errors.New("no emergency contacts configured")
)

// ContactStore lists emergency contacts.
type ContactStore interface {
	List(ctx context.Context) ([]sos.Contact, error)
}

// Messenger delivers a text to one phone number.
type Messenger interface {
	Send(ctx context.Context, phone, text string) error
}

// LocationProvider returns the current position. The context carries the deadline.
type LocationProvider interface {
	Current(ctx context.Context) (*sos.Location, error)
}

const (
	defaultConcurrency     = 4
	defaultLocationTimeout = 10 * time.Second
)

// Options configures a Broadcaster.
type Options struct {
	Contacts        ContactStore
	Messenger       Messenger
	Location        LocationProvider
	Metrics         *observe.Metrics
	Concurrency     int
	LocationTimeout time.Duration
}

// Broadcaster sends one text to every contact, isolating per-contact failures.
type Broadcaster struct {
	contacts        ContactStore
	messenger       Messenger
	location        LocationProvider
	metrics         *observe.Metrics
	concurrency     int
	locationTimeout time.Duration
}

// NewBroadcaster creates a broadcaster; zero options get defaults.
func NewBroadcaster(opts Options) *Broadcaster {
	b := &Broadcaster{
		contacts:        opts.Contacts,
		messenger:       opts.Messenger,
		location:        opts.Location,
		metrics:         opts.Metrics,
		concurrency:     opts.Concurrency,
		locationTimeout: opts.LocationTimeout,
	}

	if b.metrics == nil {
		b.metrics = observe.Nop()
	}

	if b.concurrency <= 0 {
		b.concurrency = defaultConcurrency
	}

	if b.locationTimeout <= 0 {
		b.locationTimeout = defaultLocationTimeout
	}

	return b
}

// Contacts returns the configured contacts.
func (b *Broadcaster) Contacts(ctx context.Context) ([]sos.Contact, error) {
	contacts, err := b.contacts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	return contacts, nil
}

// Locate resolves the current location within the configured timeout.
// Any failure is logged and reported as nil.
func (b *Broadcaster) Locate(ctx context.Context) *sos.Location {
	if b.location == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.locationTimeout)
	defer cancel()

	loc, err := b.location.Current(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Location unavailable", "error", err)
		return nil
	}

	return loc
}

// Broadcast sends text to every contact. It returns the number of delivered
// messages and a joined error describing every failed contact.
func (b *Broadcaster) Broadcast(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	contacts, err := b.Contacts(ctx)
	if err != nil {
		return 0, err
	}

	if len(contacts) == 0 {
		return 0, ErrNoContacts
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		sent int
		errs []error
	)

	g.SetLimit(b.concurrency)

	for _, contact := range contacts {
		g.Go(func() error {
			phone := contact.NormalizedPhone()

			if sendErr := b.messenger.Send(ctx, phone, text); sendErr != nil {
				b.metrics.AlertsFailed.Add(ctx, 1)
				logger.WarnKV(ctx, "Alert failed", "contact", contact.Name, "error", sendErr)

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", contact.Name, sendErr))
				mu.Unlock()

				return nil
			}

			b.metrics.AlertsSent.Add(ctx, 1)

			mu.Lock()
			sent++
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	if len(errs) > 0 {
		return sent, fmt.Errorf("%w: %w", ErrAlertDelivery, errors.Join(errs...))
	}

	return sent, nil
}
