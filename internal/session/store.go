// Package session fills process report skeletons from the per-account
// session report files the bot writes between runs.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"gopkg.in/yaml.v3"
)

// Store reads report rows from <accountsDir>/<account>/sessions.yml.
// The files are owned by the bot; the orchestrator only ever reads
// them.
type Store struct {
	accountsDir string
}

func NewStore(accountsDir string) *Store {
	return &Store{accountsDir: accountsDir}
}

// Load returns the session report for one account, layered over the
// zero-filled skeleton so every known metric key is present.
func (s *Store) Load(account string) (map[string]string, error) {
	session := types.SessionSkeleton()

	path := filepath.Join(s.accountsDir, account, "sessions.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return session, fmt.Errorf("no session report for %s: %w", account, err)
	}

	var rows map[string]string
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return session, fmt.Errorf("failed to parse session report for %s: %w", account, err)
	}
	for k, v := range rows {
		session[k] = v
	}
	return session, nil
}

// Fill merges the live process state into a session report: the
// overview rows always reflect the pool, whatever the report file
// said.
func Fill(session map[string]string, p types.Process) map[string]string {
	if session == nil {
		session = types.SessionSkeleton()
	}
	session["overview-username"] = p.Account
	session["overview-status"] = string(p.Status)
	session["overview-followers"] = strconv.Itoa(p.Followers)
	session["overview-following"] = strconv.Itoa(p.Following)
	return session
}
