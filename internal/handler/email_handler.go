package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mailqueue/internal/domain"
	"github.com/kursadbilgin/mailqueue/internal/observability"
	"github.com/kursadbilgin/mailqueue/internal/service"
)

type EmailService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.QueuedEmail, error)
	Attempts(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

type EmailHandler struct {
	service EmailService
}

func NewEmailHandler(service EmailService) (*EmailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("email service is required")
	}
	return &EmailHandler{service: service}, nil
}

func RegisterEmailRoutes(router fiber.Router, service EmailService) error {
	h, err := NewEmailHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1", RequestContext())
	v1.Post("/emails", h.EnqueueEmail)
	v1.Get("/emails/stats", h.GetStats)
	v1.Get("/emails/:id", h.GetEmail)
	v1.Get("/emails/:id/attempts", h.ListAttempts)

	return nil
}

// RequestContext copies the request id into the user context so services log it.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requestID := requestID(c); requestID != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		}
		return c.Next()
	}
}

type enqueueEmailRequest struct {
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	ScheduledFor string `json:"scheduledFor,omitempty"`
}

type enqueueEmailResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type emailResponse struct {
	ID           int64      `json:"id"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	LastError    *string    `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	ID             string    `json:"id"`
	AttemptNumber  int       `json:"attemptNumber"`
	Error          *string   `json:"error,omitempty"`
	DurationMillis int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

type listAttemptsResponse struct {
	EmailID int64             `json:"emailId"`
	Data    []attemptResponse `json:"data"`
}

func (h *EmailHandler) EnqueueEmail(c *fiber.Ctx) error {
	var req enqueueEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	scheduledFor, err := parseRFC3339(req.ScheduledFor, "scheduledFor")
	if err != nil {
		return toHTTPError(err)
	}

	id, err := h.service.Enqueue(c.UserContext(), service.EnqueueRequest{
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueEmailResponse{
		ID:     id,
		Status: domain.StatusPending.String(),
	})
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	id, err := parseEmailID(c)
	if err != nil {
		return toHTTPError(err)
	}

	email, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEmailResponse(email))
}

func (h *EmailHandler) ListAttempts(c *fiber.Ctx) error {
	id, err := parseEmailID(c)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.service.Attempts(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:             a.ID,
			AttemptNumber:  a.AttemptNumber,
			Error:          a.Error,
			DurationMillis: a.DurationMillis,
			CreatedAt:      a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listAttemptsResponse{EmailID: id, Data: data})
}

func (h *EmailHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func parseEmailID(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Params("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid email id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func parseRFC3339(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toEmailResponse(e *domain.QueuedEmail) emailResponse {
	return emailResponse{
		ID:           e.ID,
		Recipient:    e.Recipient,
		Subject:      e.Subject,
		Body:         e.Body,
		Status:       e.Status.String(),
		Attempts:     e.Attempts,
		ScheduledFor: e.ScheduledFor,
		SentAt:       e.SentAt,
		LastError:    e.LastError,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "email not found")
	case errors.Is(err, domain.ErrStorageUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "storage unavailable")
	default:
		return err
	}
}
