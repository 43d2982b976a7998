package contacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

const filePermissions = 0o600

var (
	// ErrInvalidContact is returned for a contact without a name or phone.
	ErrInvalidContact = errors.New("contact needs a name and a phone number")
	// ErrContactNotFound is returned when removing an unknown contact.
	ErrContactNotFound = errors.New("contact not found")
)

type document struct {
	Contacts []sos.Contact `yaml:"contacts"`
}

// FileStore keeps emergency contacts in a YAML file. A missing file is an
// empty list.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

// List returns every contact in file order.
func (s *FileStore) List(_ context.Context) ([]sos.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Add appends a contact, replacing an existing one with the same phone.
func (s *FileStore) Add(_ context.Context, contact sos.Contact) error {
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Phone = strings.TrimSpace(contact.Phone)

	if contact.Name == "" || contact.NormalizedPhone() == "" {
		return ErrInvalidContact
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}

	list = slices.DeleteFunc(list, func(c sos.Contact) bool {
		return c.NormalizedPhone() == contact.NormalizedPhone()
	})

	return s.save(append(list, contact))
}

// Remove deletes the contact with the given phone number.
func (s *FileStore) Remove(_ context.Context, phone string) error {
	target := sos.Contact{Phone: phone}.NormalizedPhone()

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}

	kept := slices.DeleteFunc(list, func(c sos.Contact) bool {
		return c.NormalizedPhone() == target
	})
	if len(kept) == len(list) {
		return fmt.Errorf("%s: %w", phone, ErrContactNotFound)
	}

	return s.save(kept)
}

func (s *FileStore) load() ([]sos.Contact, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read contacts: %w", err)
	}

	var doc document
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}

	return doc.Contacts, nil
}

func (s *FileStore) save(list []sos.Contact) error {
	data, err := yaml.Marshal(document{Contacts: list})
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}

	if err = os.WriteFile(s.path, data, filePermissions); err != nil {
		return fmt.Errorf("write contacts: %w", err)
	}

	return nil
}
