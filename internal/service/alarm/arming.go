package alarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/hold"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/service/alert"
)

// ContactLister reports the configured contacts.
type ContactLister interface {
	Contacts(ctx context.Context) ([]sos.Contact, error)
}

// Arming is the cancellable countdown that precedes a shake or manual SOS.
type Arming struct {
	controller *Controller
	contacts   ContactLister
	notifier   sos.Notifier
	timer      *hold.Timer

	mu     sync.Mutex
	source sos.Source
	actor  *sos.Actor
}

// NewArming creates an idle countdown that submits to controller on completion.
func NewArming(controller *Controller, contacts ContactLister) *Arming {
	a := &Arming{
		controller: controller,
		contacts:   contacts,
		notifier:   controller.notifier,
	}

	a.timer = hold.New(controller.cfg.ArmingDuration, controller.cfg.ArmingTick, hold.Callbacks{
		OnTick:     a.onTick,
		OnComplete: a.onComplete,
		OnCancel:   a.onCancel,
	})

	return a
}

// Arm starts the countdown on behalf of source.
func (a *Arming) Arm(ctx context.Context, source sos.Source, actor *sos.Actor) error {
	if a.controller.Active() {
		return ErrAlreadyActive
	}

	contacts, err := a.contacts.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("failed to check contacts: %w", err)
	}

	if len(contacts) == 0 {
		return alert.ErrNoContacts
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer.Running() {
		return ErrArmed
	}

	a.source, a.actor = source, actor.Clone()
	a.timer.Start()

	logger.InfoKV(ctx, "SOS armed", "source", source, "countdown", a.controller.cfg.ArmingDuration)

	return nil
}

// Disarm cancels a running countdown. It returns false if none was running.
func (a *Arming) Disarm() bool {
	return a.timer.Cancel()
}

// Armed reports whether a countdown is running.
func (a *Arming) Armed() bool {
	return a.timer.Running()
}

func (a *Arming) onTick(p hold.Progress) {
	a.notifier.Announce(sos.EventArmingProgress, map[string]any{
		"remaining_ms": p.Remaining.Milliseconds(),
		"percent":      p.Percent,
	})
}

func (a *Arming) onComplete() {
	a.mu.Lock()
	req := sos.NewTriggerRequest(a.source)
	req.Actor = a.actor
	a.mu.Unlock()

	a.controller.Submit(req)
}

func (a *Arming) onCancel() {
	a.notifier.Announce(sos.EventArmingCancelled, nil)
}
