package evidence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := Open(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

// TestSQLiteRepository_AppendList stores artifacts and lists them in order.
func TestSQLiteRepository_AppendList(t *testing.T) {
	t.Parallel()

	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 21, 0, 0, 0, time.UTC)

	want := []sos.EvidenceArtifact{
		{SessionID: "s1", Sequence: 1, Path: "/e/CAM_1.jpg", CapturedAt: base},
		{SessionID: "s1", Sequence: 2, Path: "/e/CAM_2.jpg", CapturedAt: base.Add(5 * time.Second)},
	}

	// Insert out of order to check the ordering.
	require.NoError(t, repo.Append(ctx, want[1]))
	require.NoError(t, repo.Append(ctx, want[0]))
	require.NoError(t, repo.Append(ctx, sos.EvidenceArtifact{
		SessionID: "s2", Sequence: 1, Path: "/e/other.jpg", CapturedAt: base.Add(time.Hour),
	}))

	got, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}

	empty, err := repo.ListBySession(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)

	sessions, err := repo.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s2", sessions[0].SessionID)
	require.Equal(t, 2, sessions[1].Photos)
	require.Equal(t, base, sessions[1].FirstPhoto)
}

// TestSQLiteRepository_Reopen keeps data across reopen.
func TestSQLiteRepository_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "evidence.db")

	repo, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), sos.EvidenceArtifact{
		SessionID: "s1", Sequence: 1, Path: "a.jpg", CapturedAt: time.Unix(100, 0).UTC(),
	}))
	require.NoError(t, repo.Close())

	repo, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	got, err := repo.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a.jpg", got[0].Path)
}

// TestSQLiteRepository_Recordings lists manual recordings newest first.
func TestSQLiteRepository_Recordings(t *testing.T) {
	t.Parallel()

	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 21, 0, 0, 0, time.UTC)

	older := sos.Recording{Path: "/e/REC_1.wav", StartedAt: base, EndedAt: base.Add(time.Minute), Bytes: 2048}
	newer := sos.Recording{Path: "/e/REC_2.wav", StartedAt: base.Add(time.Hour), EndedAt: base.Add(2 * time.Hour), Bytes: 44}

	empty, err := repo.Recordings(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, repo.AppendRecording(ctx, older))
	require.NoError(t, repo.AppendRecording(ctx, newer))

	got, err := repo.Recordings(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff([]sos.Recording{newer, older}, got); diff != "" {
		t.Fatalf("recordings mismatch (-want +got):\n%s", diff)
	}
}
