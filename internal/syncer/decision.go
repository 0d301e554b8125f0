package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	// DecisionCursorKey holds the decision log cursor in project state metadata.
	DecisionCursorKey = "last_synced_decision_id"

	// DecisionPriority is the priority of records synced from the decision log.
	DecisionPriority = 8

	decisionNamespace = "decisions"
)

// Decision is one checkpoint decision of the decision log.
type Decision struct {
	ID         string           `yaml:"id"`
	Checkpoint string           `yaml:"checkpoint"`
	Stage      string           `yaml:"stage"`
	Timestamp  string           `yaml:"timestamp"`
	Rationale  string           `yaml:"rationale"`
	Decision   DecisionChoice   `yaml:"decision"`
	Context    DecisionContext  `yaml:"context"`
	Metadata   DecisionMetadata `yaml:"metadata"`
}

// DecisionChoice is the selected option and the ones turned down.
type DecisionChoice struct {
	Selected     string        `yaml:"selected"`
	Alternatives []Alternative `yaml:"alternatives"`
}

// Alternative is a rejected option. The log writes it either as a bare
// string or as a mapping with option and rejection_reason (or reason).
type Alternative struct {
	Option string
	Reason string
}

// UnmarshalYAML accepts both alternative shapes.
func (a *Alternative) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Option = value.Value
		return nil
	}

	var raw struct {
		Option          string `yaml:"option"`
		RejectionReason string `yaml:"rejection_reason"`
		Reason          string `yaml:"reason"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	a.Option = raw.Option
	a.Reason = raw.RejectionReason
	if a.Reason == "" {
		a.Reason = raw.Reason
	}
	return nil
}

// DecisionContext is the research context a decision was taken in.
type DecisionContext struct {
	ResearchQuestion string `yaml:"research_question"`
}

// DecisionMetadata carries bookkeeping fields of a decision.
type DecisionMetadata struct {
	SessionID string `yaml:"session_id"`
}

// decisionLogFile is the on-disk layout. Decisions stay raw nodes so one bad
// decision does not fail the whole file.
type decisionLogFile struct {
	Project   string      `yaml:"project"`
	Decisions []yaml.Node `yaml:"decisions"`
}

// DecisionLog reads .research/decision-log.yaml. It never writes to it.
type DecisionLog struct {
	Path string
}

// NewDecisionLog creates a DecisionLog source for path.
func NewDecisionLog(path string) *DecisionLog {
	return &DecisionLog{Path: path}
}

// Name implements Source.
func (d *DecisionLog) Name() string { return "decisions" }

// CursorKey implements Source.
func (d *DecisionLog) CursorKey() string { return DecisionCursorKey }

// Scope implements Source.
func (d *DecisionLog) Scope() memorystore.Filter {
	return memorystore.Filter{NamespacePrefix: decisionNamespace, Type: memorystore.TypeDecision}
}

// Entries decodes every decision of the log individually.
func (d *DecisionLog) Entries(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errortypes.NotFoundError(err, fmt.Sprintf("decision log not found: %s", d.Path))
		}
		return nil, errortypes.InternalError(err, "failed to read decision log")
	}

	var file decisionLogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errortypes.MalformedEntryError(err, "failed to parse decision log")
	}

	entries := make([]Entry, 0, len(file.Decisions))
	for i := range file.Decisions {
		node := &file.Decisions[i]
		entry := &decisionEntry{project: file.Project, node: node}
		if id := mappingValue(node, "id"); id != nil && id.Kind == yaml.ScalarNode {
			entry.id = strings.TrimSpace(id.Value)
		}
		if err := node.Decode(&entry.decision); err != nil {
			entry.decodeErr = err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type decisionEntry struct {
	project string
	node    *yaml.Node

	// id is read straight from the node so a decision with a badly shaped
	// field still keeps its key.
	id string

	decision  Decision
	decodeErr error
}

func (e *decisionEntry) Key() (string, error) {
	if e.id == "" {
		return "", errortypes.MalformedEntryError(errors.New("decision has no id"), fmt.Sprintf("decision at line %d is missing its id", e.node.Line))
	}
	return e.id, nil
}

func (e *decisionEntry) Fingerprint() string {
	raw, err := yaml.Marshal(e.node)
	if err != nil {
		return util.Fingerprint(fmt.Sprintf("line:%d", e.node.Line))
	}
	return util.Fingerprint(string(raw))
}

func (e *decisionEntry) ToRecord() (memorystore.Record, error) {
	if e.decodeErr != nil {
		return memorystore.Record{}, errortypes.MalformedEntryError(e.decodeErr, fmt.Sprintf("decision %s at line %d cannot be decoded", e.id, e.node.Line))
	}
	return DecisionRecord(e.project, e.decision), nil
}

// DecisionRecord maps a decision to the record stored for it.
func DecisionRecord(project string, d Decision) memorystore.Record {
	checkpoint := strings.TrimSpace(d.Checkpoint)

	namespace := decisionNamespace + ".unknown"
	title := "Unknown Checkpoint"
	if checkpoint != "" {
		namespace = decisionNamespace + "." + checkpoint
		title = checkpoint
	}

	var tags []string
	for _, t := range []string{"decision", checkpoint, strings.TrimSpace(d.Stage)} {
		if t != "" {
			tags = append(tags, t)
		}
	}

	return memorystore.Record{
		ExternalID:  strings.TrimSpace(d.ID),
		Type:        memorystore.TypeDecision,
		Namespace:   namespace,
		Title:       title,
		Content:     decisionContent(d),
		Summary:     d.Decision.Selected,
		Tags:        tags,
		Priority:    DecisionPriority,
		ProjectName: project,
		SessionID:   d.Metadata.SessionID,
	}
}

// decisionContent renders the searchable text of a decision.
func decisionContent(d Decision) string {
	lines := []string{
		"Checkpoint: " + d.Checkpoint,
		"Stage: " + d.Stage,
		"Selected: " + d.Decision.Selected,
	}
	if d.Rationale != "" {
		lines = append(lines, "Rationale: "+d.Rationale)
	}
	if len(d.Decision.Alternatives) > 0 {
		lines = append(lines, "Alternatives considered:")
		for _, alt := range d.Decision.Alternatives {
			if alt.Reason == "" {
				lines = append(lines, "  - "+alt.Option)
				continue
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s", alt.Option, alt.Reason))
		}
	}
	if d.Context.ResearchQuestion != "" {
		lines = append(lines, "Research Question: "+d.Context.ResearchQuestion)
	}
	return strings.Join(lines, "\n")
}
