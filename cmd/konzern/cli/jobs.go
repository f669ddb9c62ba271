package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/jobs"
)

// QueueInspector is the part of asynq.Inspector the jobs helpers read.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual inspection helpers for Asynq jobs.
type JobsCLI struct {
	inspector QueueInspector
}

// NewJobsCLI initialises the CLI helpers on top of an inspector.
func NewJobsCLI(inspector QueueInspector) *JobsCLI {
	return &JobsCLI{inspector: inspector}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// InspectOptions configures the jobs inspect command.
type InspectOptions struct {
	Scheduled  int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// InspectCommand prints queue statistics and, when asked, the next
// scheduled tasks.
func (c *JobsCLI) InspectCommand(ctx context.Context, opts InspectOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "inspect queue: %v\n", err)
		return 1
	}
	var scheduled []*asynq.TaskInfo
	if opts.Scheduled > 0 {
		if scheduled, err = c.ListScheduled(ctx, opts.Scheduled); err != nil {
			fmt.Fprintf(opts.Stderr, "list scheduled: %v\n", err)
			return 1
		}
	}
	if opts.JSONOutput {
		out := struct {
			QueueStats
			Next []string `json:"next_scheduled,omitempty"`
		}{QueueStats: stats}
		for _, t := range scheduled {
			out.Next = append(out.Next, t.ID)
		}
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			fmt.Fprintf(opts.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	for _, t := range scheduled {
		fmt.Fprintf(opts.Stdout, "  %s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04"))
	}
	return 0
}
