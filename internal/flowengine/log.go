package flowengine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/models"
)

type flowLogStore interface {
	Create(ctx context.Context, log *models.FlowLog) error
}

// runLog collects the audit trail of one execution segment. It lives on the
// stack of a single HandleInbound call and is flushed exactly once, at the
// suspend or terminal boundary.
type runLog struct {
	projectID int64
	contactID int64
	flowID    int64
	flowName  string
	entries   models.FlowLogEntries
}

func newRunLog(projectID, contactID int64, flow *models.Flow) *runLog {
	return &runLog{
		projectID: projectID,
		contactID: contactID,
		flowID:    flow.ID,
		flowName:  flow.Name,
	}
}

func (l *runLog) add(message string, data map[string]any) {
	l.entries = append(l.entries, models.FlowLogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Data:      data,
	})
}

// switchFlow re-points the trail after a sub-flow jump so the stored log
// names the flow that finished the segment.
func (l *runLog) switchFlow(flow *models.Flow) {
	l.flowID = flow.ID
	l.flowName = flow.Name
}

func (l *runLog) flush(ctx context.Context, store flowLogStore, logger *zap.Logger) {
	if len(l.entries) == 0 {
		return
	}
	err := store.Create(ctx, &models.FlowLog{
		ProjectID: l.projectID,
		ContactID: l.contactID,
		FlowID:    l.flowID,
		FlowName:  l.flowName,
		Entries:   l.entries,
	})
	if err != nil {
		logger.Error("Failed to flush flow log",
			zap.Int64("contact_id", l.contactID),
			zap.Int64("flow_id", l.flowID),
			zap.Error(err))
	}
}
