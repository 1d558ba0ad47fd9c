// Package transaction applies a parsed patch document to a workspace as a
// single all-or-nothing unit.
//
// A commit runs in two phases. Planning reads every path the document
// references exactly once, checks it against the workspace policy and runs
// the applier on it, staging the new content in memory. Nothing is written
// unless every operation plans cleanly. Committing then writes the staged
// changes in document order; if any write fails, the paths already written
// are restored from their snapshots in reverse order.
package transaction

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/forge-patch/pkg/patch"
	"github.com/entrhq/forge-patch/pkg/types"
)

// Workspace is the storage a coordinator reads snapshots from and commits
// changes to. Paths are workspace-relative and slash separated.
type Workspace interface {
	// Read returns the current content of path. A missing file yields a
	// snapshot with Exists == false and no error.
	Read(path string) (patch.Snapshot, error)

	// Version returns the current version token of path, matching the
	// Version of an unchanged snapshot.
	Version(path string) (string, error)

	// Write replaces path with content, creating it if needed. A zero mode
	// keeps the current permission bits of path.
	Write(path, content string, mode fs.FileMode) error

	// Remove deletes path.
	Remove(path string) error
}

// Coordinator plans and commits patch documents.
type Coordinator struct {
	observers []Observer
	policy    *Policy
	now       func() time.Time
	newID     func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver registers an observer for transaction events.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithPolicy enforces p while planning.
func WithPolicy(p *Policy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithClock overrides the time source used for event durations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plan is a document whose operations all staged cleanly against one set of
// snapshots.
type Plan struct {
	CommitID string

	// Changes is parallel to the document's operations.
	Changes []*patch.Change

	snapshots map[string]patch.Snapshot
	paths     []string       // in read order
	owners    map[string]int // path -> operation index
}

// Touched lists the paths the plan affects, in document order. A move
// contributes both its source and destination.
func (p *Plan) Touched() []string {
	touched := make([]string, 0, len(p.Changes))
	for _, ch := range p.Changes {
		touched = append(touched, changedPaths(ch)...)
	}
	return touched
}

// Snapshot returns the content read for path while planning.
func (p *Plan) Snapshot(path string) (patch.Snapshot, bool) {
	snap, ok := p.snapshots[path]
	return snap, ok
}

// Plan stages doc against ws without mutating it. The returned error is a
// *Failure locating the first operation that could not be staged.
func (c *Coordinator) Plan(ctx context.Context, doc *patch.Document, ws Workspace) (*Plan, error) {
	plan, failure := c.plan(ctx, c.newID(), doc, ws)
	if failure != nil {
		return nil, failure
	}
	return plan, nil
}

// Commit plans doc and, when every operation staged cleanly, writes the
// result to ws. The workspace is either fully updated or left as it was,
// except when rollback itself fails, which is reported as StatusPartial.
func (c *Coordinator) Commit(ctx context.Context, doc *patch.Document, ws Workspace) *Outcome {
	start := c.now()
	commitID := c.newID()

	plan, failure := c.plan(ctx, commitID, doc, ws)
	if failure != nil {
		return c.fail(commitID, nil, failure, start)
	}

	added, removed := 0, 0
	for _, ch := range plan.Changes {
		added += ch.LinesAdded
		removed += ch.LinesRemoved
	}
	c.notify(types.NewPatchPlannedEvent(commitID, plan.Touched(), added, removed))

	if err := ctx.Err(); err != nil {
		return c.fail(commitID, plan.Changes, canceled(-1, err), start)
	}
	if failure := checkStale(plan, ws); failure != nil {
		return c.fail(commitID, plan.Changes, failure, start)
	}

	// Cancellation is not observed after the first write.
	if failure := commit(plan, ws); failure != nil {
		return c.fail(commitID, plan.Changes, failure, start)
	}

	touched := plan.Touched()
	c.notify(types.NewPatchAppliedEvent(commitID, touched, c.now().Sub(start)))
	return &Outcome{
		Status:   StatusApplied,
		CommitID: commitID,
		Touched:  touched,
		Changes:  plan.Changes,
	}
}

func (c *Coordinator) plan(ctx context.Context, commitID string, doc *patch.Document, ws Workspace) (*Plan, *Failure) {
	plan := &Plan{
		CommitID:  commitID,
		snapshots: make(map[string]patch.Snapshot),
		owners:    make(map[string]int),
	}

	var tally *usage
	if c.policy != nil {
		tally = c.policy.newUsage()
	}

	for i, op := range doc.Operations {
		if err := ctx.Err(); err != nil {
			return nil, canceled(i, err)
		}

		paths := []string{op.FilePath()}
		if u, ok := op.(*patch.UpdateFile); ok && u.MoveTo != "" {
			paths = append(paths, u.MoveTo)
		}

		for _, p := range paths {
			if c.policy != nil {
				if err := c.policy.CheckPath(p); err != nil {
					return nil, failAt(i, p, err)
				}
			}
			if err := plan.read(ws, i, p); err != nil {
				return nil, failAt(i, p, err)
			}
		}

		change, err := patch.Apply(op, plan.snapshots[op.FilePath()])
		if err != nil {
			return nil, failAt(i, op.FilePath(), err)
		}
		if change.MoveTo != "" && plan.snapshots[change.MoveTo].Exists {
			err := &patch.ApplyError{Code: patch.ReasonAlreadyExists, Path: change.MoveTo, HunkIndex: -1}
			return nil, failAt(i, change.MoveTo, err)
		}

		if tally != nil {
			if err := tally.record(change); err != nil {
				return nil, failAt(i, op.FilePath(), err)
			}
		}

		plan.Changes = append(plan.Changes, change)
	}

	return plan, nil
}

// read takes the one snapshot of path used for the whole transaction.
func (p *Plan) read(ws Workspace, opIndex int, path string) error {
	if _, seen := p.snapshots[path]; seen {
		return &PlanError{
			Code: patch.ReasonDuplicatePath,
			Path: path,
			Err:  errors.New("path is touched by more than one operation"),
		}
	}

	snap, err := ws.Read(path)
	if err != nil {
		if patch.ReasonOf(err) != "" {
			return err
		}
		return &PlanError{Code: patch.ReasonReadFailed, Path: path, Err: err}
	}

	p.snapshots[path] = snap
	p.paths = append(p.paths, path)
	p.owners[path] = opIndex
	return nil
}

// checkStale fails if any path changed between planning and committing.
func checkStale(plan *Plan, ws Workspace) *Failure {
	for _, path := range plan.paths {
		version, err := ws.Version(path)
		if err != nil {
			stale := &PlanError{Code: patch.ReasonStaleSnapshot, Path: path, Err: err}
			return failAt(plan.owners[path], path, stale)
		}
		if version != plan.snapshots[path].Version {
			stale := &PlanError{
				Code: patch.ReasonStaleSnapshot,
				Path: path,
				Err:  errors.New("file changed since it was read"),
			}
			return failAt(plan.owners[path], path, stale)
		}
	}
	return nil
}

// mutation is one workspace write or removal.
type mutation struct {
	path    string
	content string
	mode    fs.FileMode
	remove  bool
}

func (m mutation) apply(ws Workspace) error {
	if m.remove {
		return ws.Remove(m.path)
	}
	return ws.Write(m.path, m.content, m.mode)
}

// mutationsOf lists the writes and removals that commit ch. A move carries
// the source's permission bits to the destination.
func mutationsOf(plan *Plan, ch *patch.Change) []mutation {
	switch {
	case ch.Kind == patch.ChangeDelete:
		return []mutation{{path: ch.Path, remove: true}}
	case ch.MoveTo != "":
		return []mutation{
			{path: ch.MoveTo, content: ch.Content, mode: plan.snapshots[ch.Path].Mode},
			{path: ch.Path, remove: true},
		}
	default:
		return []mutation{{path: ch.Path, content: ch.Content}}
	}
}

// commit writes every staged change, rolling back on the first failure.
func commit(plan *Plan, ws Workspace) *Failure {
	var written []string

	for i, ch := range plan.Changes {
		for _, m := range mutationsOf(plan, ch) {
			if err := m.apply(ws); err != nil {
				recovered, unrecovered := rollback(plan, ws, written)

				code := patch.ReasonWriteFailed
				if len(unrecovered) > 0 {
					code = patch.ReasonPartialCommit
				}
				commitErr := &CommitError{
					Code:        code,
					Path:        m.path,
					Err:         err,
					Recovered:   recovered,
					Unrecovered: unrecovered,
				}
				return &Failure{
					OperationIndex: i,
					HunkIndex:      -1,
					Path:           m.path,
					Code:           code,
					Err:            commitErr,
					Recovered:      recovered,
					Unrecovered:    unrecovered,
				}
			}
			written = append(written, m.path)
		}
	}
	return nil
}

// rollback restores written paths to their snapshots, newest first. The
// returned lists are in the order the paths were written.
func rollback(plan *Plan, ws Workspace, written []string) (recovered, unrecovered []string) {
	for i := len(written) - 1; i >= 0; i-- {
		path := written[i]
		prior := plan.snapshots[path]

		var err error
		if prior.Exists {
			err = ws.Write(path, prior.Content, prior.Mode)
		} else {
			err = ws.Remove(path)
		}

		if err != nil {
			unrecovered = append(unrecovered, path)
		} else {
			recovered = append(recovered, path)
		}
	}
	slices.Reverse(recovered)
	slices.Reverse(unrecovered)
	return recovered, unrecovered
}

func failAt(opIndex int, path string, err error) *Failure {
	f := &Failure{
		OperationIndex: opIndex,
		HunkIndex:      -1,
		Path:           path,
		Code:           patch.ReasonOf(err),
		Err:            err,
	}

	var ae *patch.ApplyError
	if errors.As(err, &ae) {
		f.HunkIndex = ae.HunkIndex
		if ae.Path != "" {
			f.Path = ae.Path
		}
	}
	if f.Code == "" {
		f.Code = patch.ReasonReadFailed
	}
	return f
}

func canceled(opIndex int, err error) *Failure {
	return &Failure{
		OperationIndex: opIndex,
		HunkIndex:      -1,
		Code:           patch.ReasonCanceled,
		Err:            &PlanError{Code: patch.ReasonCanceled, Err: err},
	}
}

func (c *Coordinator) fail(commitID string, changes []*patch.Change, f *Failure, start time.Time) *Outcome {
	status := StatusFailed
	var event types.PatchEvent
	if f.Code == patch.ReasonPartialCommit {
		status = StatusPartial
		event = types.NewPatchPartialEvent(commitID, f.OperationIndex, f.Path, string(f.Code), f.Message(), f.Recovered, f.Unrecovered)
	} else {
		event = types.NewPatchFailedEvent(commitID, f.OperationIndex, f.HunkIndex, f.Path, string(f.Code), f.Message())
		event.Recovered = f.Recovered
	}
	event.Duration = c.now().Sub(start)
	c.notify(event)

	return &Outcome{
		Status:   status,
		CommitID: commitID,
		Changes:  changes,
		Failure:  f,
	}
}

func (c *Coordinator) notify(event types.PatchEvent) {
	for _, o := range c.observers {
		o.Notify(event)
	}
}
