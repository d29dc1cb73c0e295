// internal/collaborators/governance.go
package collaborators

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// Approval states published on approvalUpdated.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// BusRecorder is the in-process governance collaborator. Provenance records
// and approval changes are published on the bus for any persistence
// subscriber to pick up.
type BusRecorder struct {
	bus    schemas.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

func NewBusRecorder(eb schemas.EventPublisher, logger *zap.Logger) *BusRecorder {
	return &BusRecorder{bus: eb, logger: logger.Named("governance"), now: time.Now}
}

// Record implements schemas.ProvenanceRecorder.
func (r *BusRecorder) Record(ctx context.Context, record schemas.ProvenanceRecord) error {
	if record.ReportID == "" || record.Action == "" {
		return fmt.Errorf("provenance record requires a report id and an action")
	}
	if record.At.IsZero() {
		record.At = r.now().UTC()
	}
	r.logger.Info("Provenance recorded",
		zap.String("report_id", record.ReportID),
		zap.String("action", record.Action),
		zap.String("actor", record.Actor))
	return r.bus.Publish(ctx, schemas.Event{
		Type:          schemas.EventProvenanceRecorded,
		CorrelationID: record.ReportID,
		Payload:       schemas.ProvenanceRecordedPayload{Record: record},
	})
}

// UpdateApproval publishes a governance approval change for a report.
func (r *BusRecorder) UpdateApproval(ctx context.Context, reportID, approval, mandate string) error {
	switch approval {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return fmt.Errorf("unknown approval state %q", approval)
	}
	return r.bus.Publish(ctx, schemas.Event{
		Type:          schemas.EventApprovalUpdated,
		CorrelationID: reportID,
		Payload:       schemas.ApprovalUpdatedPayload{ReportID: reportID, Approval: approval, Mandate: mandate},
	})
}

var _ schemas.ProvenanceRecorder = (*BusRecorder)(nil)
