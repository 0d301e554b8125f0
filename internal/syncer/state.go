package syncer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"gopkg.in/yaml.v3"
)

// Project state metadata keys written by the sync engine.
const (
	metadataKey      = "metadata"
	lastSyncTimeKey  = "last_sync_time"
	lastSyncRunIDKey = "last_sync_run_id"
	deadLettersKey   = "sync_dead_letters"
	syncTimeLayout   = "2006-01-02T15:04:05.000000Z"
)

// DeadLetter records a log entry that could not be applied. The cursor still
// moves past it; the dead letter keeps it visible.
type DeadLetter struct {
	// Key is the entry key, or "sha:<fingerprint>" for keyless entries.
	Key        string `yaml:"key" json:"key"`
	Source     string `yaml:"source" json:"source"`
	Position   int    `yaml:"position" json:"position"`
	Reason     string `yaml:"reason" json:"reason"`
	RunID      string `yaml:"run_id" json:"run_id"`
	RecordedAt string `yaml:"recorded_at" json:"recorded_at"`
}

// Checkpoint is what one sync run persists.
type Checkpoint struct {
	// CursorKey and Cursor are skipped when either is empty.
	CursorKey string
	Cursor    string

	RunID       string
	Time        time.Time
	DeadLetters []DeadLetter
}

// ProjectState reads and edits .research/project-state.yaml. Edits go through
// the YAML node tree so keys the sync engine does not own, and their comments,
// survive. Writes replace the file atomically.
type ProjectState struct {
	path string
	mu   sync.Mutex
}

// NewProjectState creates a ProjectState for the file at path. The file need
// not exist yet.
func NewProjectState(path string) *ProjectState {
	return &ProjectState{path: path}
}

// Path returns the state file location.
func (p *ProjectState) Path() string {
	return p.path
}

// Metadata returns the scalar metadata value under key, or "" when unset.
func (p *ProjectState) Metadata(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, root, err := p.load()
	if err != nil {
		return "", err
	}
	meta := mappingValue(root, metadataKey)
	if meta == nil || meta.Kind != yaml.MappingNode {
		return "", nil
	}
	v := mappingValue(meta, key)
	if v == nil || v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
		return "", nil
	}
	return v.Value, nil
}

// Cursor returns the cursor stored under key, or "" when absent.
func (p *ProjectState) Cursor(key string) (string, error) {
	return p.Metadata(key)
}

// DeadLetters returns the recorded dead letters of source, or of every
// source when source is "".
func (p *ProjectState) DeadLetters(source string) ([]DeadLetter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, root, err := p.load()
	if err != nil {
		return nil, err
	}
	all, err := readDeadLetters(root)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return all, nil
	}

	var out []DeadLetter
	for _, dl := range all {
		if dl.Source == source {
			out = append(out, dl)
		}
	}
	return out, nil
}

// Commit writes the cursor and merges dead letters into the state file. A
// dead letter already recorded for the same source and key is kept as is.
func (p *ProjectState) Commit(c Checkpoint) error {
	writeCursor := c.CursorKey != "" && c.Cursor != ""
	if !writeCursor && len(c.DeadLetters) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	doc, root, err := p.load()
	if err != nil {
		return err
	}
	meta := ensureMapping(root, metadataKey)

	if writeCursor {
		setScalar(meta, c.CursorKey, c.Cursor)
		setScalar(meta, lastSyncTimeKey, c.Time.UTC().Format(syncTimeLayout))
		if c.RunID != "" {
			setScalar(meta, lastSyncRunIDKey, c.RunID)
		}
	}

	if len(c.DeadLetters) > 0 {
		existing, err := readDeadLetters(root)
		if err != nil {
			return err
		}
		merged := mergeDeadLetters(existing, c.DeadLetters)
		if len(merged) != len(existing) {
			var seq yaml.Node
			if err := seq.Encode(merged); err != nil {
				return errortypes.InternalError(err, "failed to encode dead letters")
			}
			setNode(meta, deadLettersKey, &seq)
		}
	}

	return p.save(doc)
}

func mergeDeadLetters(existing, added []DeadLetter) []DeadLetter {
	seen := make(map[string]bool, len(existing))
	for _, dl := range existing {
		seen[dl.Source+"\x00"+dl.Key] = true
	}
	merged := existing
	for _, dl := range added {
		k := dl.Source + "\x00" + dl.Key
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, dl)
	}
	return merged
}

func readDeadLetters(root *yaml.Node) ([]DeadLetter, error) {
	meta := mappingValue(root, metadataKey)
	if meta == nil || meta.Kind != yaml.MappingNode {
		return nil, nil
	}
	seq := mappingValue(meta, deadLettersKey)
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return nil, nil
	}
	var letters []DeadLetter
	if err := seq.Decode(&letters); err != nil {
		return nil, errortypes.InternalError(err, "failed to decode dead letters")
	}
	return letters, nil
}

// load returns the document and its root mapping. A missing or empty file
// yields a new document with an empty mapping.
func (p *ProjectState) load() (doc, root *yaml.Node, err error) {
	empty := func() (*yaml.Node, *yaml.Node, error) {
		root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}, root, nil
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty()
	}
	if err != nil {
		return nil, nil, errortypes.StorageUnavailableError(err, "failed to read project state")
	}

	doc = &yaml.Node{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, nil, errortypes.InternalError(err, fmt.Sprintf("project state %s is not valid YAML", p.path))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return empty()
	}
	root = doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, errortypes.InternalError(errors.New("top level is not a mapping"), fmt.Sprintf("project state %s has an unexpected layout", p.path))
	}
	return doc, root, nil
}

func (p *ProjectState) save(doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errortypes.InternalError(err, "failed to encode project state")
	}
	if err := enc.Close(); err != nil {
		return errortypes.InternalError(err, "failed to encode project state")
	}

	if err := writeFileAtomic(p.path, buf.Bytes()); err != nil {
		return errortypes.StorageUnavailableError(err, "failed to write project state")
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it over
// path, so readers see the old or the new content and nothing in between.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setNode(m *yaml.Node, key string, value *yaml.Node) {
	if v := mappingValue(m, key); v != nil {
		*v = *value
		return
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

func setScalar(m *yaml.Node, key, value string) {
	setNode(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}

func ensureMapping(m *yaml.Node, key string) *yaml.Node {
	if v := mappingValue(m, key); v != nil && v.Kind == yaml.MappingNode {
		return v
	}
	setNode(m, key, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	return mappingValue(m, key)
}
