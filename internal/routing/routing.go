// Package routing transfers unit-of-work outcomes to their destinations.
//
// A Router sends success outcomes to one Sink and failure outcomes to another.
// A relationship without a sink is auto-terminated: the outcome is dropped.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/canectors/keyhash/internal/logger"
	"github.com/canectors/keyhash/internal/pathutil"
	"github.com/canectors/keyhash/pkg/connector"
)

// AttributesSuffix is appended to the content file name for the attributes file.
const AttributesSuffix = ".attributes.json"

// Sink receives FlowFiles for one relationship.
type Sink interface {
	Transfer(ctx context.Context, ff *connector.FlowFile) error
}

// DirectorySink writes each FlowFile to <dir>/<filename> and its attributes to
// <dir>/<filename>.attributes.json. Files left by earlier runs are replaced.
// Within the lifetime of a sink every name is written once: a FlowFile whose
// filename was already transferred is written as <id>-<filename>, and the
// attributes file records the name actually used.
type DirectorySink struct {
	dir string

	mu      sync.Mutex
	claimed map[string]bool
}

// NewDirectorySink creates dir if needed and returns a sink writing into it.
func NewDirectorySink(dir string) (*DirectorySink, error) {
	if dir == "" {
		return nil, fmt.Errorf("sink directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sink directory %q: %w", dir, err)
	}
	return &DirectorySink{dir: dir, claimed: make(map[string]bool)}, nil
}

// Dir returns the sink directory.
func (s *DirectorySink) Dir() string {
	return s.dir
}

// Transfer writes content then attributes. Both files are written to a
// temporary name first and renamed into place.
func (s *DirectorySink) Transfer(ctx context.Context, ff *connector.FlowFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ff == nil {
		return fmt.Errorf("nil flow file")
	}

	name, err := s.claim(ff)
	if err != nil {
		return err
	}
	target := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", name, err)
	}

	if err := writeFileAtomic(target, ff.Content); err != nil {
		return err
	}

	attrs := make(map[string]interface{}, len(ff.Attributes))
	for k, v := range ff.Attributes {
		attrs[k] = v
	}
	if name != ff.Filename() {
		attrs[connector.AttrFilename] = name
		logger.Warn("filename already routed, renamed",
			slog.String("unit_id", ff.ID),
			slog.String("filename", ff.Filename()),
			slog.String("routed_as", name),
		)
	}
	data := []byte(oj.JSON(attrs, &ojg.Options{Sort: true, Indent: 2}))
	return writeFileAtomic(target+AttributesSuffix, append(data, '\n'))
}

// claim reserves the name ff is written under.
func (s *DirectorySink) claim(ff *connector.FlowFile) (string, error) {
	name := ff.Filename()
	if err := pathutil.ValidateFlowFileName(name); err != nil {
		return "", fmt.Errorf("invalid filename for %s: %w", ff.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[name] {
		name = pathutil.PrefixedName(name, ff.ID)
		if s.claimed[name] {
			return "", fmt.Errorf("unit %s was already transferred to %s", ff.ID, s.dir)
		}
	}
	s.claimed[name] = true
	return name, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming into %q: %w", path, err)
	}
	return nil
}

// Router dispatches outcomes by relationship.
type Router struct {
	Success Sink
	Failure Sink
}

// NewDirectoryRouter builds a Router from a routing configuration. An empty
// directory leaves that relationship auto-terminated. A nil cfg drops everything.
func NewDirectoryRouter(cfg *connector.RoutingConfig) (*Router, error) {
	r := &Router{}
	if cfg == nil {
		return r, nil
	}
	if cfg.Success != "" {
		sink, err := NewDirectorySink(cfg.Success)
		if err != nil {
			return nil, err
		}
		r.Success = sink
	}
	if cfg.Failure != "" {
		sink, err := NewDirectorySink(cfg.Failure)
		if err != nil {
			return nil, err
		}
		r.Failure = sink
	}
	return r, nil
}

// Route transfers the outcome's FlowFile to the sink of its relationship.
func (r *Router) Route(ctx context.Context, outcome *connector.Outcome) error {
	if outcome == nil || outcome.FlowFile == nil {
		return fmt.Errorf("outcome has no flow file")
	}

	var sink Sink
	switch outcome.Relationship {
	case connector.RelationshipSuccess:
		sink = r.Success
	case connector.RelationshipFailure:
		sink = r.Failure
	default:
		return fmt.Errorf("unknown relationship %q", outcome.Relationship)
	}

	if sink == nil {
		logger.Debug("relationship auto-terminated",
			slog.String("unit_id", outcome.FlowFile.ID),
			slog.String("relationship", outcome.Relationship),
		)
		return nil
	}

	if err := sink.Transfer(ctx, outcome.FlowFile); err != nil {
		return fmt.Errorf("transferring %s to %s: %w", outcome.FlowFile.ID, outcome.Relationship, err)
	}
	return nil
}
