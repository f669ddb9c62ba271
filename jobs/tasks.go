package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsolidationRun runs the full consolidation of one statement.
	TaskConsolidationRun = "consol:run"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RunPayload identifies the statement to consolidate and who asked for it.
type RunPayload struct {
	StatementID uuid.UUID `json:"statement_id"`
	ActorID     uuid.UUID `json:"actor_id"`
}

// NewRunTask constructs the Asynq task for a consolidation run. The task id
// is derived from the statement so a statement is queued at most once.
func NewRunTask(statementID, actor uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(RunPayload{StatementID: statementID, ActorID: actor})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidationRun, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func runTaskID(statementID uuid.UUID) string {
	return TaskConsolidationRun + ":" + statementID.String()
}
