package verification

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"attendgate/internal/metrics"
	"attendgate/internal/queue"
	"attendgate/internal/roster"
)

// Service is the teacher-side approval workflow. All status changes go
// through the queue's compare-and-set, so two racing decisions on one request
// resolve to exactly one winner.
type Service struct {
	queue   Queue
	intents queue.Queue
	logger  *zap.Logger
	mets    *metrics.Set
}

// NewService creates the approval workflow over a submission queue and an
// intent queue.
func NewService(q Queue, intents queue.Queue, logger *zap.Logger, mets *metrics.Set) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: q, intents: intents, logger: logger, mets: mets}
}

// Pending lists requests awaiting a decision in insertion order.
func (s *Service) Pending(ctx context.Context) ([]Request, error) {
	return s.queue.List(ctx, StatusPending)
}

// All lists every request in insertion order.
func (s *Service) All(ctx context.Context) ([]Request, error) {
	return s.queue.List(ctx, "")
}

// ByStatus lists requests with the given status.
func (s *Service) ByStatus(ctx context.Context, status Status) ([]Request, error) {
	return s.queue.List(ctx, status)
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.queue.Get(ctx, id)
}

// Approve moves a pending request to approved and publishes exactly one
// attendance-record creation intent. A non-pending request fails
// ErrInvalidTransition and emits nothing.
func (s *Service) Approve(ctx context.Context, id, decidedBy string) (Request, error) {
	req, err := s.queue.Transition(ctx, id, StatusApproved, decidedBy)
	if err != nil {
		return Request{}, err
	}
	if s.mets != nil {
		s.mets.Decisions.WithLabelValues("approved").Inc()
		s.mets.PendingDepth.Dec()
	}

	intent := roster.AttendanceRecord{
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		Date:      time.Now().UTC().Format("2006-01-02"),
		Status:    roster.StatusPresent,
		Method:    roster.MethodFace,
	}
	body, _ := json.Marshal(intent)
	if err := s.intents.Publish(ctx, queue.Message{Type: queue.TypeAttendanceIntent, Body: body}); err != nil {
		// The decision stands; delivery gets retried by operators, not by
		// flipping the request back.
		s.logger.Error("attendance intent publish failed",
			zap.String("request_id", req.ID), zap.Error(err))
	} else if s.mets != nil {
		s.mets.IntentsSent.Inc()
	}

	s.logger.Info("request approved",
		zap.String("request_id", req.ID),
		zap.String("student_id", req.StudentID),
		zap.String("decided_by", decidedBy))
	return req, nil
}

// Reject moves a pending request to rejected. No attendance record is
// emitted; a later submission runs the full gate-capture-verify cycle again.
func (s *Service) Reject(ctx context.Context, id, decidedBy string) (Request, error) {
	req, err := s.queue.Transition(ctx, id, StatusRejected, decidedBy)
	if err != nil {
		return Request{}, err
	}
	if s.mets != nil {
		s.mets.Decisions.WithLabelValues("rejected").Inc()
		s.mets.PendingDepth.Dec()
	}
	s.logger.Info("request rejected",
		zap.String("request_id", req.ID),
		zap.String("student_id", req.StudentID),
		zap.String("decided_by", decidedBy))
	return req, nil
}
