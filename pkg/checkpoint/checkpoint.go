// Package checkpoint persists enough play state to disk that an
// interrupted run can be resumed without redoing work already done:
// which (host, task) pairs finished, the variables and registered
// outputs at that point, and any handler notifications still pending.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion is the current on-disk checkpoint format.
const SchemaVersion = "1.0"

// TaskRef identifies one completed (host, task) pair.
type TaskRef struct {
	Host   string `json:"host"`
	TaskID string `json:"task_id"`
}

// Checkpoint is the full serialized run state.
type Checkpoint struct {
	Version              string                            `json:"version"`
	PlaybookPath          string                            `json:"playbook_path"`
	PlaybookHash          string                            `json:"playbook_hash"`
	InventoryPath         string                            `json:"inventory_path"`
	CompletedTasks        []TaskRef                         `json:"completed_tasks"`
	Variables             map[string]map[string]interface{} `json:"variables"`
	RegisteredResults     map[string]map[string]interface{} `json:"registered_results"`
	HandlerNotifications  map[string][]string               `json:"handler_notifications"`
	Timestamp             time.Time                         `json:"timestamp"`
	LastTask              string                            `json:"last_task"`
	LastHost              string                            `json:"last_host"`

	completed map[TaskRef]bool
}

// New creates an empty checkpoint bound to a specific playbook and
// inventory, hashing the playbook content for later integrity checks.
func New(playbookPath string, playbookContent []byte, inventoryPath string) *Checkpoint {
	sum := sha256.Sum256(playbookContent)
	return &Checkpoint{
		Version:              SchemaVersion,
		PlaybookPath:         playbookPath,
		PlaybookHash:         hex.EncodeToString(sum[:]),
		InventoryPath:        inventoryPath,
		CompletedTasks:       nil,
		Variables:            make(map[string]map[string]interface{}),
		RegisteredResults:    make(map[string]map[string]interface{}),
		HandlerNotifications: make(map[string][]string),
		completed:            make(map[TaskRef]bool),
	}
}

// Store is the on-disk checkpoint repository.
type Store struct {
	dir string
}

// NewStore opens (and lazily creates) a checkpoint directory. An empty
// dir defaults to "<cwd>/.nexus/checkpoints".
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cwd, ".nexus", "checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// KeyFor returns the filename (first 16 hex chars of SHA-256 of the
// playbook path) a checkpoint for that playbook is stored under.
func KeyFor(playbookPath string) string {
	sum := sha256.Sum256([]byte(playbookPath))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) pathFor(playbookPath string) string {
	return filepath.Join(s.dir, KeyFor(playbookPath)+".json")
}

// Save writes the checkpoint, overwriting any prior one for this
// playbook path.
func (s *Store) Save(cp *Checkpoint) error {
	cp.Timestamp = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling checkpoint: %w", err)
	}
	path := s.pathFor(cp.PlaybookPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads back a checkpoint for the given playbook path, or
// os.ErrNotExist (wrapped) if none exists yet.
func (s *Store) Load(playbookPath string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.pathFor(playbookPath))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	cp.completed = make(map[TaskRef]bool, len(cp.CompletedTasks))
	for _, ref := range cp.CompletedTasks {
		cp.completed[ref] = true
	}
	return &cp, nil
}

// Verify checks version, playbook hash, and inventory path against a
// freshly-loaded playbook/inventory, returning a distinct error message
// per mismatch kind.
func (cp *Checkpoint) Verify(playbookContent []byte, inventoryPath string) error {
	if cp.Version != SchemaVersion {
		return fmt.Errorf("checkpoint schema version %q does not match current version %q", cp.Version, SchemaVersion)
	}
	sum := sha256.Sum256(playbookContent)
	if cp.PlaybookHash != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("playbook %s has changed since the checkpoint was written", cp.PlaybookPath)
	}
	if cp.InventoryPath != inventoryPath {
		return fmt.Errorf("inventory path %q does not match checkpointed path %q", inventoryPath, cp.InventoryPath)
	}
	return nil
}

// IsCompleted reports whether (host, taskID) already finished.
func (cp *Checkpoint) IsCompleted(host, taskID string) bool {
	if cp.completed == nil {
		return false
	}
	return cp.completed[TaskRef{Host: host, TaskID: taskID}]
}

// MarkCompleted records (host, taskID) as done.
func (cp *Checkpoint) MarkCompleted(host, taskID string) {
	if cp.completed == nil {
		cp.completed = make(map[TaskRef]bool)
	}
	ref := TaskRef{Host: host, TaskID: taskID}
	if cp.completed[ref] {
		return
	}
	cp.completed[ref] = true
	cp.CompletedTasks = append(cp.CompletedTasks, ref)
	cp.LastHost = host
	cp.LastTask = taskID
}

// SetVariables snapshots a host's effective variables.
func (cp *Checkpoint) SetVariables(host string, vars map[string]interface{}) {
	if cp.Variables == nil {
		cp.Variables = make(map[string]map[string]interface{})
	}
	cp.Variables[host] = vars
}

// SetRegistered snapshots a host's registered-output map.
func (cp *Checkpoint) SetRegistered(host string, registered map[string]interface{}) {
	if cp.RegisteredResults == nil {
		cp.RegisteredResults = make(map[string]map[string]interface{})
	}
	cp.RegisteredResults[host] = registered
}

// SetHandlerNotifications snapshots pending handler notifications
// (handler name -> notified hosts) for resume.
func (cp *Checkpoint) SetHandlerNotifications(notifications map[string][]string) {
	cp.HandlerNotifications = notifications
}
