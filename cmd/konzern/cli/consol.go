package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Runner performs a consolidation run; *consol.Service satisfies it.
type Runner interface {
	RunConsolidation(ctx context.Context, statementID, actor uuid.UUID) (consol.RunResult, error)
}

// RunEnqueuer hands a run to the worker; *jobs.Client satisfies it.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, statementID, actor uuid.UUID) (string, error)
}

// ConsolOpsCLI exposes operational helpers for consolidation runs.
type ConsolOpsCLI struct {
	runner   Runner
	enqueuer RunEnqueuer
}

// NewConsolOpsCLI constructs the helper. Either dependency may be nil when
// the matching mode is not used.
func NewConsolOpsCLI(runner Runner, enqueuer RunEnqueuer) *ConsolOpsCLI {
	return &ConsolOpsCLI{runner: runner, enqueuer: enqueuer}
}

// RunOptions configures the run command.
type RunOptions struct {
	StatementID string
	ActorID     string
	Async       bool
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// RunCommand consolidates one statement, in process or through the queue.
// It returns 2 for usage errors and 1 when the run fails.
func (c *ConsolOpsCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	statementID, err := uuid.Parse(opts.StatementID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "invalid --statement %q: %v\n", opts.StatementID, err)
		return 2
	}
	actor := uuid.Nil
	if opts.ActorID != "" {
		if actor, err = uuid.Parse(opts.ActorID); err != nil {
			fmt.Fprintf(opts.Stderr, "invalid --actor %q: %v\n", opts.ActorID, err)
			return 2
		}
	}

	if opts.Async {
		if c == nil || c.enqueuer == nil {
			fmt.Fprintln(opts.Stderr, "background runs are not configured")
			return 1
		}
		taskID, err := c.enqueuer.EnqueueRun(ctx, statementID, actor)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "enqueue run: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			return encodeJSON(opts.Stdout, opts.Stderr, map[string]string{"task_id": taskID, "statement_id": statementID.String()})
		}
		fmt.Fprintf(opts.Stdout, "queued %s\n", taskID)
		return 0
	}

	if c == nil || c.runner == nil {
		fmt.Fprintln(opts.Stderr, "consolidation service not configured")
		return 1
	}
	res, err := c.runner.RunConsolidation(ctx, statementID, actor)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "run failed (%s): %v\n", shared.KindOf(err), err)
		var stageErr *consol.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintf(opts.Stderr, "stage: %s\n", stageErr.Stage)
		}
		return 1
	}
	if opts.JSONOutput {
		return encodeJSON(opts.Stdout, opts.Stderr, res)
	}
	printRun(opts.Stdout, res)
	return 0
}

// Fixture is the input of the simulate command: one statement with its
// companies, balances and the acquisitions to consolidate first.
type Fixture struct {
	Statement    consol.Statement                 `json:"statement"`
	Companies    []consol.Company                 `json:"companies"`
	Balances     []consol.AccountBalance          `json:"balances"`
	ICBalances   []elimination.Balance            `json:"ic_balances"`
	Acquisitions []consol.FirstConsolidationInput `json:"acquisitions"`
	AsOf         time.Time                        `json:"as_of"`
}

// SimulateOptions configures the simulate command.
type SimulateOptions struct {
	Fixture    io.Reader
	Config     consol.Config
	JSONOutput bool
	Logger     *slog.Logger
	Stdout     io.Writer
	Stderr     io.Writer
}

// SimulateCommand consolidates a fixture against an in-memory store. Nothing
// is written to the database.
func SimulateCommand(ctx context.Context, opts SimulateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Fixture == nil {
		fmt.Fprintln(opts.Stderr, "fixture required")
		return 2
	}
	var fx Fixture
	dec := json.NewDecoder(opts.Fixture)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		fmt.Fprintf(opts.Stderr, "decode fixture: %v\n", err)
		return 2
	}
	if fx.Statement.ID == uuid.Nil {
		fx.Statement.ID = uuid.New()
	}
	asOf := fx.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	if opts.Config == (consol.Config{}) {
		opts.Config = consol.DefaultConfig()
	}

	store := memstore.New()
	store.AddStatement(fx.Statement, fx.Companies...)
	store.AddBalances(fx.Statement.ID, fx.Balances...)
	store.AddICBalances(fx.Statement.ID, fx.ICBalances...)

	svc := consol.NewService(store, opts.Config, opts.Logger, consol.WithClock(func() time.Time { return asOf }))
	actor := uuid.New()
	for i, in := range fx.Acquisitions {
		if in.StatementID == uuid.Nil {
			in.StatementID = fx.Statement.ID
		}
		in.ActorID = actor
		if _, err := svc.PerformFirstConsolidation(ctx, in); err != nil {
			fmt.Fprintf(opts.Stderr, "acquisition %d: %v\n", i+1, err)
			return 1
		}
	}
	res, err := svc.RunConsolidation(ctx, fx.Statement.ID, actor)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "run failed (%s): %v\n", shared.KindOf(err), err)
		return 1
	}
	if opts.JSONOutput {
		return encodeJSON(opts.Stdout, opts.Stderr, res)
	}
	printRun(opts.Stdout, res)
	return 0
}

func printRun(w io.Writer, res consol.RunResult) {
	sum := res.Summary
	fmt.Fprintf(w, "run %s statement %s\n", res.RunID, res.StatementID)
	fmt.Fprintf(w, "entries: %d  total: %s\n", sum.EntryCount, shared.FormatEUR(sum.TotalAmount))

	types := make([]string, 0, len(sum.CountsByType))
	for t := range sum.CountsByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\n", t, sum.CountsByType[ledger.AdjustmentType(t)])
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "exceptions: %d (material %d)\n", sum.ExceptionCount, sum.MaterialExceptions)
	fmt.Fprintf(w, "goodwill amortizations: %d\n", sum.AmortizationEntries)
	fmt.Fprintf(w, "fiscal year flags: %d\n", sum.FiscalYearFlags)
}

func encodeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
