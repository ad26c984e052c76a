package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"attendgate/internal/geo"
)

// AttendanceStatus values the record store understands.
const (
	StatusPresent = "Present"
	StatusAbsent  = "Absent"
	StatusLate    = "Late"
)

// MethodFace marks records produced by the face-verification workflow.
const MethodFace = "Face"

// ErrStoreUnavailable covers transport failures and non-2xx store responses.
var ErrStoreUnavailable = errors.New("roster store unavailable")

// ErrUserNotFound is returned for an unknown user id.
var ErrUserNotFound = errors.New("user not found")

// Class mirrors the store's class document; Location is the read-only gate
// configuration.
type Class struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Subject  string             `json:"subject"`
	Teacher  string             `json:"teacher"`
	Schedule string             `json:"schedule"`
	Location *geo.ClassLocation `json:"location,omitempty"`
}

// User mirrors the store's user document. ReferencePhoto is a data URI or
// image URL when a face is enrolled.
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	ReferencePhoto string `json:"reference_photo,omitempty"`
}

// AttendanceRecord is the creation intent emitted on approval; the store owns
// the persisted record.
type AttendanceRecord struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Method    string `json:"method"`
}

// Client talks to the external class/user/attendance store.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a store client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListClasses fetches all classes.
func (c *Client) ListClasses(ctx context.Context) ([]Class, error) {
	var out []Class
	if err := c.get(ctx, "/classes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetClass fetches one class, including its configured location.
func (c *Client) GetClass(ctx context.Context, id string) (Class, error) {
	var out Class
	if err := c.get(ctx, "/classes/"+url.PathEscape(id), &out); err != nil {
		return Class{}, err
	}
	return out, nil
}

// CreateClass creates a class document.
func (c *Client) CreateClass(ctx context.Context, cls Class) (Class, error) {
	var out Class
	if err := c.post(ctx, "/classes", cls, &out); err != nil {
		return Class{}, err
	}
	return out, nil
}

// ListUsers fetches all users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.get(ctx, "/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var out User
	err := c.get(ctx, "/users/"+url.PathEscape(id), &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return out, nil
}

// CreateUser creates a user document.
func (c *Client) CreateUser(ctx context.Context, u User) (User, error) {
	var out User
	if err := c.post(ctx, "/users", u, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// ClassLocation resolves the gate configuration for a class.
func (c *Client) ClassLocation(ctx context.Context, classID string) (geo.ClassLocation, error) {
	cls, err := c.GetClass(ctx, classID)
	if err != nil {
		return geo.ClassLocation{}, err
	}
	if cls.Location == nil {
		return geo.ClassLocation{}, fmt.Errorf("class %s has no location configured", classID)
	}
	return *cls.Location, nil
}

// ReferencePhoto returns the student's enrolled reference photo, or "" when
// none is on file.
func (c *Client) ReferencePhoto(ctx context.Context, studentID string) (string, error) {
	u, err := c.GetUser(ctx, studentID)
	if err != nil {
		return "", err
	}
	return u.ReferencePhoto, nil
}

// SetReferencePhoto registers an enrolled reference photo on the user.
func (c *Client) SetReferencePhoto(ctx context.Context, userID, photo string) error {
	body := map[string]string{"reference_photo": photo}
	return c.post(ctx, "/users/"+url.PathEscape(userID)+"/reference", body, nil)
}

// CreateAttendanceRecord delivers an attendance-record creation intent.
func (c *Client) CreateAttendanceRecord(ctx context.Context, rec AttendanceRecord) error {
	return c.post(ctx, "/attendance", rec, nil)
}

// ListAttendance fetches attendance records, optionally for one student.
func (c *Client) ListAttendance(ctx context.Context, studentID string) ([]AttendanceRecord, error) {
	path := "/attendance"
	if studentID != "" {
		path += "?student_id=" + url.QueryEscape(studentID)
	}
	var out []AttendanceRecord
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("store status %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return ErrStoreUnavailable }

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrStoreUnavailable, err)
	}
	return nil
}
