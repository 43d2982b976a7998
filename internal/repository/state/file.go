package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Snapshot is the persisted daemon state.
type Snapshot struct {
	// Flags holds the detector enable flags keyed by "<detector>_enabled".
	Flags map[string]bool
	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time
}

// Repository defines persistence operations for the daemon state.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// FileRepository persists the state to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over a
// structpb.Struct document.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

const (
	// filePermissions restricts the state file to its owner.
	filePermissions = 0o600

	flagsKey     = "flags"
	updatedAtKey = "updated_at"
	flagSuffix   = "_enabled"
)

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// errMalformed is returned when the file is valid JSON but not a state document.
	errMalformed = errors.New("malformed state document")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Save writes the state to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.save(snapshot)
}

// Flag returns the enable flag of a detector. A missing file or key is false.
func (r *FileRepository) Flag(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, err := r.load()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return snapshot.Flags[name+flagSuffix], nil
}

// SetFlag persists the enable flag of a detector.
func (r *FileRepository) SetFlag(_ context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, err := r.load()
	switch {
	case errors.Is(err, ErrNotFound):
		snapshot = &Snapshot{Flags: make(map[string]bool)}
	case err != nil:
		return err
	}

	snapshot.Flags[name+flagSuffix] = enabled
	snapshot.UpdatedAt = time.Now()

	return r.save(snapshot)
}

func (r *FileRepository) load() (*Snapshot, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromStruct(&doc)
}

func (r *FileRepository) save(snapshot *Snapshot) error {
	doc, err := toStruct(snapshot)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, filePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// fromStruct converts the JSON document into a Snapshot.
func fromStruct(doc *structpb.Struct) (*Snapshot, error) {
	snapshot := &Snapshot{Flags: make(map[string]bool)}

	fields := doc.GetFields()

	if flags := fields[flagsKey]; flags != nil {
		flagStruct := flags.GetStructValue()
		if flagStruct == nil {
			return nil, fmt.Errorf("%s is not an object: %w", flagsKey, errMalformed)
		}

		for key, value := range flagStruct.GetFields() {
			if _, ok := value.GetKind().(*structpb.Value_BoolValue); !ok {
				return nil, fmt.Errorf("%s.%s is not a boolean: %w", flagsKey, key, errMalformed)
			}

			snapshot.Flags[key] = value.GetBoolValue()
		}
	}

	if raw := fields[updatedAtKey].GetStringValue(); raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", updatedAtKey, errors.Join(errMalformed, err))
		}

		snapshot.UpdatedAt = updatedAt
	}

	return snapshot, nil
}

// toStruct converts a Snapshot into the JSON document.
func toStruct(snapshot *Snapshot) (*structpb.Struct, error) {
	flags := make(map[string]any, len(snapshot.Flags))
	for key, value := range snapshot.Flags {
		flags[key] = value
	}

	doc := map[string]any{flagsKey: flags}
	if !snapshot.UpdatedAt.IsZero() {
		doc[updatedAtKey] = snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(doc)
}
