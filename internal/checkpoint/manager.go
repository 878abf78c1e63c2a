package checkpoint

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/calenvarek/kodrdriv/internal/kodrlog"
)

// ErrCorrupt is returned by Load when the checkpoint artifact exists but
// cannot be parsed or its schema version is unsupported.
var ErrCorrupt = errors.New("checkpoint: artifact exists but is corrupt")

// DefaultFileName is the well-known checkpoint file name within the
// .kodrdriv directory of a run's working directory.
const DefaultFileName = "checkpoint.yaml"

// DefaultDir returns the conventional .kodrdriv directory under root.
func DefaultDir(root string) string {
	return filepath.Join(root, ".kodrdriv")
}

// Manager is responsible for atomic persistence of a Checkpoint to a single
// file path.
type Manager struct {
	path string
	log  *kodrlog.Logger
}

// New returns a Manager that reads/writes the checkpoint at path. Use
// DefaultDir + DefaultFileName to get the conventional location.
func New(path string, log *kodrlog.Logger) *Manager {
	if log == nil {
		log = kodrlog.Nop()
	}
	return &Manager{path: path, log: log}
}

// Save serializes checkpoint to YAML and writes it via a temp-file + atomic
// rename, so a process crash mid-write can never leave a corrupt or
// partially-written artifact at Path.
func (m *Manager) Save(cp *Checkpoint) error {
	cp.SchemaVersion = SchemaVersion
	// Normalize the set-valued partitions into their serializable list form.
	cp.State.Normalize()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return xerrors.Errorf("checkpoint: create directory: %w", err)
	}

	b, err := yaml.Marshal(cp)
	if err != nil {
		return xerrors.Errorf("checkpoint: marshal: %w", err)
	}

	if err := renameio.WriteFile(m.path, b, 0o644); err != nil {
		return xerrors.Errorf("checkpoint: atomic write: %w", err)
	}

	m.log.Debugf("checkpoint saved to %s", m.path)
	return nil
}

// Load returns the last saved checkpoint, or (nil, nil) if none exists. If
// the artifact exists but cannot be parsed or carries an unsupported schema
// version, it returns ErrCorrupt.
func (m *Manager) Load() (*Checkpoint, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("checkpoint: read: %w", err)
	}

	var cp Checkpoint
	if err := yaml.Unmarshal(b, &cp); err != nil {
		return nil, xerrors.Errorf("checkpoint: parse %s: %v: %w", m.path, err, ErrCorrupt)
	}
	if cp.SchemaVersion != SchemaVersion {
		return nil, xerrors.Errorf("checkpoint schema version %d unsupported (want %d): %w", cp.SchemaVersion, SchemaVersion, ErrCorrupt)
	}
	cp.State.Denormalize()
	return &cp, nil
}

// Cleanup removes the checkpoint artifact. It is not an error for the
// artifact to already be absent.
func (m *Manager) Cleanup() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("checkpoint: cleanup: %w", err)
	}
	return nil
}

// Exists reports whether a checkpoint artifact is currently present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the checkpoint file path this Manager operates on.
func (m *Manager) Path() string { return m.path }
