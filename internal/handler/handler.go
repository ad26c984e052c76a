package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"attendgate/internal/auth"
	"attendgate/internal/capture"
	"attendgate/internal/geo"
	"attendgate/internal/imagestore"
	"attendgate/internal/oracle"
	"attendgate/internal/roster"
	"attendgate/internal/submission"
	"attendgate/internal/verification"
)

// Roster is the slice of the store client the handlers use.
type Roster interface {
	ListClasses(ctx context.Context) ([]roster.Class, error)
	CreateClass(ctx context.Context, cls roster.Class) (roster.Class, error)
	ListUsers(ctx context.Context) ([]roster.User, error)
	GetUser(ctx context.Context, id string) (roster.User, error)
	CreateUser(ctx context.Context, u roster.User) (roster.User, error)
	SetReferencePhoto(ctx context.Context, userID, photo string) error
	ListAttendance(ctx context.Context, studentID string) ([]roster.AttendanceRecord, error)
}

// Verifier matches the oracle client; enrollment uses it in liveness mode.
type Verifier interface {
	Verify(ctx context.Context, image, reference string) (oracle.Result, error)
}

// Handler carries the wired workflow pieces.
type Handler struct {
	flow      *submission.Flow
	approvals *verification.Service
	roster    Roster
	verifier  Verifier
	images    imagestore.Store

	jwtIssuer  string
	signingKey string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// New creates the handler set.
func New(flow *submission.Flow, approvals *verification.Service, ros Roster, verifier Verifier, images imagestore.Store, issuer, signingKey string, accessTTL, refreshTTL time.Duration) *Handler {
	if images == nil {
		images = imagestore.Inline{}
	}
	return &Handler{
		flow:       flow,
		approvals:  approvals,
		roster:     ros,
		verifier:   verifier,
		images:     images,
		jwtIssuer:  issuer,
		signingKey: signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// ---------- Tokens ----------

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Tokens exchanges a roster identity for a JWT pair.
func (h *Handler) Tokens(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.roster.GetUser(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, roster.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}

	tokens, err := auth.Issue(user.ID, user.Role, h.jwtIssuer, h.signingKey, h.accessTTL, h.refreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Student submission ----------

type submitRequest struct {
	ClassID       string        `json:"class_id" binding:"required"`
	Position      *geo.Position `json:"position"`
	LocationError string        `json:"location_error"`
	Image         string        `json:"image"`
	CameraError   string        `json:"camera_error"`
}

// SubmitVerification runs the gate-capture-verify-enqueue flow for the
// authenticated student. The request body carries the device results; device
// failures the browser saw are reported in the *_error fields so the flow
// sees the same taxonomy a local client would.
func (h *Handler) SubmitVerification(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.roster.GetUser(c.Request.Context(), claims.Subject)
	if err != nil && !errors.Is(err, roster.ErrUserNotFound) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}

	attempt := submission.Attempt{
		StudentID:   claims.Subject,
		StudentName: user.Name,
		ClassID:     req.ClassID,
		Positions:   requestPositions{pos: req.Position, failure: req.LocationError},
		Camera:      requestCamera{dataURI: req.Image, failure: req.CameraError},
	}

	out, err := h.flow.Submit(c.Request.Context(), attempt)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"request_id":   out.ID,
		"status":       out.Status,
		"submitted_at": out.SubmittedAt,
	})
}

// ---------- Teacher approval ----------

// ListVerifications returns queue entries; ?status=pending is the filter the
// approval screen uses.
func (h *Handler) ListVerifications(c *gin.Context) {
	status := verification.Status(c.Query("status"))
	var (
		out []verification.Request
		err error
	)
	if status == verification.StatusPending || status == "" {
		if status == verification.StatusPending {
			out, err = h.approvals.Pending(c.Request.Context())
		} else {
			out, err = h.approvals.All(c.Request.Context())
		}
	} else {
		out, err = h.approvals.ByStatus(c.Request.Context(), status)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// GetVerification returns one queue entry.
func (h *Handler) GetVerification(c *gin.Context) {
	req, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDecisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Approve transitions a pending request to approved.
func (h *Handler) Approve(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := h.approvals.Approve(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeDecisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Reject transitions a pending request to rejected.
func (h *Handler) Reject(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	req, err := h.approvals.Reject(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeDecisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ---------- Enrollment ----------

type enrollRequest struct {
	Image string `json:"image" binding:"required"`
}

// Enroll registers a liveness-checked reference photo for the authenticated
// student.
func (h *Handler) Enroll(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.verifier.Verify(c.Request.Context(), req.Image, "")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification service unavailable, try again"})
		return
	}
	if !res.Accepted {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "reference photo rejected", "reason": res.Reason})
		return
	}

	stored, err := h.images.Put(c.Request.Context(), req.Image)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	if err := h.roster.SetReferencePhoto(c.Request.Context(), claims.Subject, stored); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": claims.Subject, "reference_photo": stored})
}

// ---------- Roster proxy ----------

// ListClasses proxies the store's class list.
func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.roster.ListClasses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// CreateClass proxies class creation.
func (h *Handler) CreateClass(c *gin.Context) {
	var cls roster.Class
	if err := c.ShouldBindJSON(&cls); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.roster.CreateClass(c.Request.Context(), cls)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// ListUsers proxies the store's user list.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.roster.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// CreateUser proxies user creation.
func (h *Handler) CreateUser(c *gin.Context) {
	var u roster.User
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.roster.CreateUser(c.Request.Context(), u)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// ---------- Reports ----------

// AttendanceCSV streams the caller's attendance records as CSV. Teachers and
// admins may export any student via ?student_id=.
func (h *Handler) AttendanceCSV(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	studentID := claims.Subject
	if claims.Role != auth.RoleStudent {
		if q := c.Query("student_id"); q != "" {
			studentID = q
		} else {
			studentID = ""
		}
	}

	records, err := h.roster.ListAttendance(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster store unavailable, try again"})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="attendance-report.csv"`)
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"Class", "Date", "Status", "Method"})
	for _, rec := range records {
		_ = w.Write([]string{rec.ClassID, rec.Date, rec.Status, rec.Method})
	}
	w.Flush()
}

// writeFlowError maps submission failures onto the HTTP surface without
// leaking infrastructure faults as face problems.
func writeFlowError(c *gin.Context, err error) {
	var (
		oor *geo.OutOfRangeError
		rej *submission.RejectedError
	)
	switch {
	case errors.As(err, &oor):
		c.JSON(http.StatusForbidden, gin.H{
			"error":           "too far from class",
			"distance_meters": oor.DistanceMeters,
			"allowed_meters":  oor.AllowedMeters,
		})
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "verification rejected", "reason": rej.Reason})
	case errors.Is(err, geo.ErrLocationDenied), errors.Is(err, geo.ErrLocationUnavailable),
		errors.Is(err, capture.ErrCameraDenied), errors.Is(err, capture.ErrCameraUnavailable),
		errors.Is(err, capture.ErrStreamEnded):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, submission.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "submission already in progress"})
	case errors.Is(err, oracle.ErrOracleUnavailable), errors.Is(err, roster.ErrStoreUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "service unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// writeDecisionError maps approval failures; these indicate races or bad ids,
// not anything the teacher can fix by retrying.
func writeDecisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, verification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
	case errors.Is(err, verification.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "request already decided"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
