package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/call-memento/internal/domain"
	callsvc "github.com/acme/call-memento/internal/service/call"
)

type triggerCallRequest struct {
	OwnerID         string `json:"owner_id"`
	EncryptedHandle string `json:"encrypted_handle"`
	DialString      string `json:"dial_string"`
	Instructions    string `json:"instructions"`
	UserPhotoURL    string `json:"user_photo_url"`
}

type callResponse struct {
	ID           uuid.UUID          `json:"id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	Status       domain.CallStatus  `json:"status"`
	CallSID      *string            `json:"call_sid,omitempty"`
	Attempts     int                `json:"attempts"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty"`
	LastError    *string            `json:"last_error,omitempty"`
	VideoStatus  domain.VideoStatus `json:"video_status"`
	VideoURL     *string            `json:"video_url,omitempty"`
	RecordingSID *string            `json:"recording_sid,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type attemptResponse struct {
	AttemptNum int        `json:"attempt_num"`
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
	NextRetry  *time.Time `json:"next_retry,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func (h *HandlerSet) triggerCall(ctx *fiber.Ctx) error {
	var req triggerCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid owner id")
	}

	record, err := h.calls.TriggerCall(ctx.Context(), callsvc.TriggerCallInput{
		OwnerID:         ownerID,
		EncryptedHandle: req.EncryptedHandle,
		DialString:      req.DialString,
		Instructions:    req.Instructions,
		UserPhotoURL:    req.UserPhotoURL,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toCallResponse(record))
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	record, err := h.calls.GetCall(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(record))
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	limit := ctx.QueryInt("limit", 50)
	events, err := h.calls.Attempts(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]attemptResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, attemptResponse{
			AttemptNum: ev.AttemptNum,
			Outcome:    string(ev.Outcome),
			Detail:     ev.Detail,
			NextRetry:  ev.NextRetry,
			OccurredAt: ev.OccurredAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"attempts": out})
}

// callStatusWebhook is the carrier's form-encoded status callback body.
type callStatusWebhook struct {
	CallSID    string `form:"CallSid"`
	CallStatus string `form:"CallStatus"`
}

func (h *HandlerSet) callStatus(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	var hook callStatusWebhook
	if err := ctx.BodyParser(&hook); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid webhook body")
	}

	err = h.calls.HandleCallStatus(ctx.Context(), id, callsvc.CallStatusEvent{
		CallSID:    hook.CallSID,
		CallStatus: hook.CallStatus,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusNoContent)
}

type recordingWebhook struct {
	RecordingSID    string `form:"RecordingSid"`
	RecordingURL    string `form:"RecordingUrl"`
	RecordingStatus string `form:"RecordingStatus"`
}

func (h *HandlerSet) recordingStatus(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	var hook recordingWebhook
	if err := ctx.BodyParser(&hook); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid webhook body")
	}

	err = h.calls.HandleRecordingStatus(ctx.Context(), id, callsvc.RecordingEvent{
		RecordingSID:    hook.RecordingSID,
		RecordingURL:    hook.RecordingURL,
		RecordingStatus: hook.RecordingStatus,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusNoContent)
}

func toCallResponse(call *domain.CallRecord) callResponse {
	return callResponse{
		ID:           call.ID,
		OwnerID:      call.OwnerID,
		Status:       call.Status,
		CallSID:      call.CallSID,
		Attempts:     call.Attempts,
		NextRetryAt:  call.NextRetryAt,
		LastError:    call.LastError,
		VideoStatus:  call.VideoStatus,
		VideoURL:     call.VideoURL,
		RecordingSID: call.RecordingSID,
		CreatedAt:    call.CreatedAt,
		UpdatedAt:    call.UpdatedAt,
	}
}
