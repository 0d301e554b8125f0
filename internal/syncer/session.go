package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/util"
	"gopkg.in/yaml.v3"
)

const sessionNamespace = "sessions"

// Session is one session file of .research/sessions.
type Session struct {
	SessionID            string      `yaml:"session_id"`
	ProjectName          string      `yaml:"project_name"`
	Summary              string      `yaml:"summary"`
	Focus                string      `yaml:"focus"`
	CheckpointsCompleted []string    `yaml:"checkpoints_completed"`
	DecisionsMade        []yaml.Node `yaml:"decisions_made"`
	AgentsUsed           []string    `yaml:"agents_used"`
}

// SessionDir reads every *.yaml file of a sessions directory, in file name
// order. Sessions have no cursor: each run rechecks them all by key.
type SessionDir struct {
	Dir string
}

// NewSessionDir creates a SessionDir source for dir.
func NewSessionDir(dir string) *SessionDir {
	return &SessionDir{Dir: dir}
}

// Name implements Source.
func (s *SessionDir) Name() string { return "sessions" }

// CursorKey implements Source.
func (s *SessionDir) CursorKey() string { return "" }

// Scope implements Source.
func (s *SessionDir) Scope() memorystore.Filter {
	return memorystore.Filter{NamespacePrefix: sessionNamespace, Type: memorystore.TypeContext}
}

// Entries lists the session files. Files are decoded here; a file that does
// not decode still yields an entry, keyed by its file name, that fails in
// ToRecord.
func (s *SessionDir) Entries(ctx context.Context) ([]Entry, error) {
	info, err := os.Stat(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errortypes.NotFoundError(err, fmt.Sprintf("sessions directory not found: %s", s.Dir))
		}
		return nil, errortypes.InternalError(err, "failed to stat sessions directory")
	}
	if !info.IsDir() {
		return nil, errortypes.NotFoundError(fmt.Errorf("%s is not a directory", s.Dir), "sessions directory not found")
	}

	paths, err := filepath.Glob(filepath.Join(s.Dir, "*.yaml"))
	if err != nil {
		return nil, errortypes.InternalError(err, "failed to list session files")
	}
	sort.Strings(paths)

	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := &sessionEntry{stem: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
		entry.raw, entry.readErr = os.ReadFile(path)
		if entry.readErr == nil {
			entry.readErr = yaml.Unmarshal(entry.raw, &entry.session)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type sessionEntry struct {
	stem    string
	raw     []byte
	session Session
	readErr error
}

func (e *sessionEntry) id() string {
	if id := strings.TrimSpace(e.session.SessionID); id != "" {
		return id
	}
	return e.stem
}

func (e *sessionEntry) Key() (string, error) {
	id := e.id()
	if id == "" {
		return "", errortypes.MalformedEntryError(errors.New("session has no id"), "session file has no id and no name")
	}
	return "session_" + id, nil
}

func (e *sessionEntry) Fingerprint() string {
	return util.Fingerprint(e.stem, string(e.raw))
}

func (e *sessionEntry) ToRecord() (memorystore.Record, error) {
	if e.readErr != nil {
		return memorystore.Record{}, errortypes.MalformedEntryError(e.readErr, fmt.Sprintf("session %s cannot be decoded", e.stem))
	}

	id := e.id()
	content := e.session.Summary
	if strings.TrimSpace(content) == "" {
		content = sessionSummary(e.session)
	}

	return memorystore.Record{
		ExternalID:  "session_" + id,
		Type:        memorystore.TypeContext,
		Namespace:   sessionNamespace,
		Title:       "Session " + id,
		Content:     content,
		Summary:     e.session.Focus,
		Tags:        []string{"session"},
		ProjectName: e.session.ProjectName,
		SessionID:   id,
	}, nil
}

// sessionSummary builds a one-line summary for sessions that carry none.
func sessionSummary(s Session) string {
	var parts []string
	if s.Focus != "" {
		parts = append(parts, "Focus: "+s.Focus)
	}
	if len(s.CheckpointsCompleted) > 0 {
		parts = append(parts, "Checkpoints: "+strings.Join(s.CheckpointsCompleted, ", "))
	}
	if len(s.DecisionsMade) > 0 {
		parts = append(parts, fmt.Sprintf("Decisions: %d", len(s.DecisionsMade)))
	}
	if len(s.AgentsUsed) > 0 {
		parts = append(parts, "Agents: "+strings.Join(s.AgentsUsed, ", "))
	}
	if len(parts) == 0 {
		return "No summary available"
	}
	return strings.Join(parts, " | ")
}
