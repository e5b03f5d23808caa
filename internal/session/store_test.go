package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
)

func writeReport(t *testing.T, dir, account, content string) {
	t.Helper()
	accDir := filepath.Join(dir, account)
	require.NoError(t, os.MkdirAll(accDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(accDir, "sessions.yml"), []byte(content), 0o644))
}

func TestLoadLayersOverSkeleton(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "alice", "today-session-activity-likes: \"42\"\ntrends-new-followers-today: \"7\"\n")

	s := NewStore(dir)
	rows, err := s.Load("alice")
	require.NoError(t, err)
	require.Equal(t, "42", rows["today-session-activity-likes"])
	require.Equal(t, "7", rows["trends-new-followers-today"])
	// Keys the report file never mentions are still present.
	require.Contains(t, rows, "weekly-average-likes")
	require.Empty(t, rows["weekly-average-likes"])
}

func TestLoadMissingFileStillReturnsSkeleton(t *testing.T) {
	s := NewStore(t.TempDir())
	rows, err := s.Load("ghost")
	require.Error(t, err)
	require.Contains(t, rows, "overview-username")
}

func TestFillOverridesOverviewRows(t *testing.T) {
	p := types.Process{
		Account:   "alice",
		Status:    types.StatusRunning,
		Followers: 1520,
		Following: 340,
	}

	rows := Fill(map[string]string{"overview-username": "stale"}, p)
	require.Equal(t, "alice", rows["overview-username"])
	require.Equal(t, "RUNNING", rows["overview-status"])
	require.Equal(t, "1520", rows["overview-followers"])
	require.Equal(t, "340", rows["overview-following"])

	// A nil report degrades to the skeleton.
	rows = Fill(nil, p)
	require.Equal(t, "alice", rows["overview-username"])
}
