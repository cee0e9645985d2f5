package migrate

import (
	"context"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
)

// Direction selects which side of the start boundary a cursor walks.
type Direction int

const (
	// Before walks nodes created at or before the start boundary
	Before Direction = iota
	// After walks nodes created after the start boundary
	After
)

func (d Direction) String() string {
	if d == After {
		return "after"
	}
	return "before"
}

// NodeCursor enumerates the nodes of one repository in id order. Its only
// resume state is the iterated count: the cursor restarts at page
// count/pageSize, offset count%pageSize.
type NodeCursor struct {
	nodes    NodeCatalog
	query    datastore.NodeQuery
	pageSize int

	page      int
	skip      int
	buffer    []entities.Node
	pos       int
	iterated  int64
	total     int64
	exhausted bool
}

// NewNodeCursor builds a cursor from a task snapshot. Before resumes from
// MigratedCount, After from CorrectedCount. The total is counted once here.
func NewNodeCursor(ctx context.Context, nodes NodeCatalog, task *entities.MigrationTask, dir Direction, pageSize int) (*NodeCursor, error) {
	if task.StartBoundary == nil {
		return nil, errors.New(ErrMissingStartBoundary).
			Component("migrate").
			Category(errors.CategoryState).
			TaskContext(task.ID, task.ProjectID, task.RepoName).
			Build()
	}
	if pageSize <= 0 {
		return nil, errors.Newf("page size must be positive, got %d", pageSize).
			Component("migrate").
			Category(errors.CategoryValidation).
			Build()
	}

	boundary := *task.StartBoundary
	query := datastore.NodeQuery{ProjectID: task.ProjectID, RepoName: task.RepoName}
	start := task.MigratedCount
	if dir == After {
		query.CreatedAfter = &boundary
		start = task.CorrectedCount
	} else {
		query.CreatedAtOrBefore = &boundary
	}
	start = max(start, 0)

	total, err := nodes.Count(ctx, query)
	if err != nil {
		return nil, err
	}

	return &NodeCursor{
		nodes:    nodes,
		query:    query,
		pageSize: pageSize,
		page:     int(start / int64(pageSize)),
		skip:     int(start % int64(pageSize)),
		iterated: start,
		total:    total,
	}, nil
}

// Next returns the next node. ok is false once the cursor is exhausted.
func (c *NodeCursor) Next(ctx context.Context) (node *entities.Node, ok bool, err error) {
	if c.pos >= len(c.buffer) {
		if c.exhausted {
			return nil, false, nil
		}
		if err := c.fill(ctx); err != nil {
			return nil, false, err
		}
		if c.pos >= len(c.buffer) {
			c.exhausted = true
			return nil, false, nil
		}
	}

	node = &c.buffer[c.pos]
	c.pos++
	c.iterated++
	return node, true, nil
}

func (c *NodeCursor) fill(ctx context.Context) error {
	page, err := c.nodes.Find(ctx, c.query, c.page, c.pageSize)
	if err != nil {
		return err
	}
	c.page++
	c.buffer = page
	c.pos = c.skip
	c.skip = 0
	if len(page) < c.pageSize {
		c.exhausted = true
	}
	return nil
}

// IteratedCount is the number of nodes consumed, including those skipped on resume.
func (c *NodeCursor) IteratedCount() int64 {
	return c.iterated
}

// TotalCount is the number of matching nodes when the cursor was built.
func (c *NodeCursor) TotalCount() int64 {
	return c.total
}
