package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendgate/internal/capture"
	"attendgate/internal/geo"
	"attendgate/internal/metrics"
	"attendgate/internal/oracle"
	"attendgate/internal/verification"
)

// ErrInFlight means the student already has a submission attempt running.
// Re-entrant attempts are refused, never queued.
var ErrInFlight = errors.New("submission already in flight")

// RejectedError is an oracle rejection: the capture is reset, the gate pass
// kept, and the student may retry immediately.
type RejectedError struct {
	Reason oracle.Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("verification rejected: %s", e.Reason)
}

// ClassLocator resolves a class's configured gate location.
type ClassLocator interface {
	ClassLocation(ctx context.Context, classID string) (geo.ClassLocation, error)
}

// ReferenceLookup returns the student's enrolled reference photo, or "" when
// none is on file (the oracle then runs in liveness-only mode).
type ReferenceLookup interface {
	ReferencePhoto(ctx context.Context, studentID string) (string, error)
}

// Verifier is the oracle contract the flow depends on.
type Verifier interface {
	Verify(ctx context.Context, image, reference string) (oracle.Result, error)
}

// Attempt carries one student action plus the device handles local to it.
type Attempt struct {
	StudentID   string
	StudentName string
	ClassID     string
	Positions   geo.Source
	Camera      capture.Device
}

// Flow runs the submission workflow: gate, capture, verify, enqueue, strictly
// in that order. One queue entry appears per fully successful pass and none
// otherwise.
type Flow struct {
	classes  ClassLocator
	refs     ReferenceLookup
	verifier Verifier
	queue    verification.Queue
	sessions *capture.Manager
	logger   *zap.Logger
	mets     *metrics.Set

	mu       sync.Mutex
	inflight map[string]struct{}
	// gatePass remembers a passed gate check per student+class so an oracle
	// rejection can be retried without re-acquiring a position fix.
	gatePass map[string]geo.Position
}

// NewFlow wires the submission workflow.
func NewFlow(classes ClassLocator, refs ReferenceLookup, verifier Verifier, q verification.Queue, logger *zap.Logger, mets *metrics.Set) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		classes:  classes,
		refs:     refs,
		verifier: verifier,
		queue:    q,
		sessions: capture.NewManager(),
		logger:   logger,
		mets:     mets,
		inflight: make(map[string]struct{}),
		gatePass: make(map[string]geo.Position),
	}
}

// Submit runs one attempt end to end. Any failure leaves the queue untouched
// and the camera released.
func (f *Flow) Submit(ctx context.Context, a Attempt) (verification.Request, error) {
	if !f.begin(a.StudentID) {
		return verification.Request{}, ErrInFlight
	}
	defer f.end(a.StudentID)

	pos, err := f.passGate(ctx, a)
	if err != nil {
		f.count("gate_failed")
		return verification.Request{}, err
	}

	sess, err := f.sessions.Open(ctx, a.StudentID, a.Camera)
	if err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.count("camera_failed")
		return verification.Request{}, err
	}
	defer sess.Close()

	img, err := sess.Capture()
	if err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.count("camera_failed")
		return verification.Request{}, err
	}

	ref, err := f.refs.ReferencePhoto(ctx, a.StudentID)
	if err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.count("infra_failed")
		return verification.Request{}, err
	}

	start := time.Now()
	res, err := f.verifier.Verify(ctx, oracle.DataURI(img), ref)
	if f.mets != nil {
		f.mets.OracleLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.countOracle("error")
		f.count("oracle_failed")
		return verification.Request{}, err
	}
	f.countOracle(string(res.Reason))
	if !res.Accepted {
		f.count("verification_rejected")
		f.logger.Info("verification rejected",
			zap.String("student_id", a.StudentID),
			zap.String("reason", string(res.Reason)))
		return verification.Request{}, &RejectedError{Reason: res.Reason}
	}

	// Cancelled before final submission: camera is released by the deferred
	// close and nothing reaches the queue.
	if err := ctx.Err(); err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.count("cancelled")
		return verification.Request{}, err
	}

	req := verification.Request{
		ID:            uuid.NewString(),
		StudentID:     a.StudentID,
		StudentName:   a.StudentName,
		ClassID:       a.ClassID,
		CapturedImage: oracle.DataURI(img),
		Location:      pos,
		SubmittedAt:   time.Now().UTC().UnixMilli(),
		Status:        verification.StatusPending,
	}
	out, err := f.queue.Enqueue(ctx, req)
	if err != nil {
		f.clearGatePass(a.StudentID, a.ClassID)
		f.count("infra_failed")
		return verification.Request{}, err
	}

	f.clearGatePass(a.StudentID, a.ClassID)
	f.count("enqueued")
	if f.mets != nil {
		f.mets.PendingDepth.Inc()
	}
	f.logger.Info("verification request enqueued",
		zap.String("request_id", out.ID),
		zap.String("student_id", a.StudentID),
		zap.String("class_id", a.ClassID))
	return out, nil
}

// passGate acquires a position and checks proximity, reusing a previous pass
// after an oracle rejection. Environmental and positional failures clear the
// pass so the next attempt starts over.
func (f *Flow) passGate(ctx context.Context, a Attempt) (geo.Position, error) {
	key := a.StudentID + "/" + a.ClassID
	f.mu.Lock()
	pos, ok := f.gatePass[key]
	f.mu.Unlock()
	if ok {
		return pos, nil
	}

	pos, err := a.Positions.Current(ctx)
	if err != nil {
		return geo.Position{}, err
	}
	loc, err := f.classes.ClassLocation(ctx, a.ClassID)
	if err != nil {
		return geo.Position{}, err
	}

	prox := geo.CheckProximity(pos, loc)
	if !prox.Allowed {
		radius := loc.AllowedRadiusMeters
		if radius <= 0 {
			radius = geo.DefaultRadiusMeters
		}
		return geo.Position{}, &geo.OutOfRangeError{DistanceMeters: prox.DistanceMeters, AllowedMeters: radius}
	}

	f.mu.Lock()
	f.gatePass[key] = pos
	f.mu.Unlock()
	return pos, nil
}

func (f *Flow) clearGatePass(studentID, classID string) {
	f.mu.Lock()
	delete(f.gatePass, studentID+"/"+classID)
	f.mu.Unlock()
}

func (f *Flow) begin(studentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inflight[studentID]; busy {
		return false
	}
	f.inflight[studentID] = struct{}{}
	return true
}

func (f *Flow) end(studentID string) {
	f.mu.Lock()
	delete(f.inflight, studentID)
	f.mu.Unlock()
}

func (f *Flow) count(outcome string) {
	if f.mets != nil {
		f.mets.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (f *Flow) countOracle(result string) {
	if f.mets != nil {
		f.mets.OracleCalls.WithLabelValues(result).Inc()
	}
}
