// Package workspace owns the per-task directories the orchestrator shares
// with the compute engine: naming, artifact IO, stale-file purge, archival
// and administrative snapshots.
package workspace

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"github.com/compozy/enginebridge/engine/record"
)

const stepDirPrefix = "st-"

// Key identifies one task workspace. Step is optional; zero means the task
// has no step subdirectory.
type Key struct {
	InstanceID string
	TaskID     string
	Step       int
}

func (k Key) String() string {
	if k.Step > 0 {
		return fmt.Sprintf("%s/%s/%s%d", k.InstanceID, k.TaskID, stepDirPrefix, k.Step)
	}
	return k.InstanceID + "/" + k.TaskID
}

func (k Key) validate() error {
	for name, v := range map[string]string{"instance id": k.InstanceID, "task id": k.TaskID} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return fmt.Errorf("%s %q is not a valid path element", name, v)
		}
	}
	if k.Step < 0 {
		return fmt.Errorf("step %d is negative", k.Step)
	}
	return nil
}

// Name returns the task directory name <prefix>-<instanceId>-<taskId>, with
// the prefix normalized to a slug.
func Name(prefix, instanceID, taskID string) string {
	p := slug.Make(prefix)
	if p == "" {
		p = "task"
	}
	return p + "-" + instanceID + "-" + taskID
}

// StepDir names the subdirectory of a multi-step task.
func StepDir(step int) string {
	return stepDirPrefix + strconv.Itoa(step)
}

// Workspace is a resolved task directory plus the record format its
// interchange files use.
type Workspace struct {
	Key    Key
	Dir    string
	Format record.Format
}

func (w *Workspace) artifact(module, kind string, seq int, ext string) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s-%s-%d%s", module, kind, seq, ext))
}

func (w *Workspace) InputsPath(module string, seq int) string {
	return w.artifact(module, "inputs", seq, w.Format.Ext())
}

func (w *Workspace) OutputsPath(module string, seq int) string {
	return w.artifact(module, "outputs", seq, w.Format.Ext())
}

func (w *Workspace) ErrorPath(module string, seq int) string {
	return w.artifact(module, "error", seq, w.Format.Ext())
}

func (w *Workspace) StatePath(module string, seq int) string {
	return w.artifact(module, "state", seq, "")
}

// LogPath is where captured log records of one invocation are appended.
func (w *Workspace) LogPath(module string, seq int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s-%d.log", module, seq))
}
