package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/printqueue"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleEnqueuePrint(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload) == 0 {
		respondError(c, http.StatusBadRequest, "json body required")
		return
	}

	job, err := h.printQueue.Enqueue(c.Request.Context(), string(payload))
	if err != nil {
		if errors.Is(err, printqueue.ErrEmptyPayload) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("print enqueue failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"job_id": job.ID, "message": "print job queued"})
}

type pendingJobPayload struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at"`
}

func (h *httpHandler) handlePendingPrintJobs(c *gin.Context) {
	jobs, err := h.printQueue.Pending(c.Request.Context())
	if err != nil {
		h.logger.Error("pending jobs lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	payload := make([]pendingJobPayload, 0, len(jobs))
	for _, job := range jobs {
		payload = append(payload, pendingJobPayload{
			ID:        job.ID,
			Data:      json.RawMessage(job.PayloadJSON),
			CreatedAt: job.CreatedAt.Format(timestampLayout),
		})
	}
	respondOK(c, http.StatusOK, payload)
}

type ackJobPayload struct {
	Success *bool `json:"success"`
}

func (h *httpHandler) handleAckPrintJob(c *gin.Context) {
	var request ackJobPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	success := true
	if request.Success != nil {
		success = *request.Success
	}

	job, err := h.printQueue.Ack(c.Request.Context(), c.Param("id"), success)
	if err != nil {
		if errors.Is(err, printqueue.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("print job ack failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status})
}

type listedJobPayload struct {
	ID        string               `json:"id"`
	Status    printqueue.JobStatus `json:"status"`
	CreatedAt string               `json:"created_at"`
	AckAt     string               `json:"ack_at,omitempty"`
	Token     int                  `json:"token,omitempty"`
	Lorry     string               `json:"lorry,omitempty"`
	Type      string               `json:"type,omitempty"`
}

func (h *httpHandler) handleListPrintJobs(c *gin.Context) {
	jobs, err := h.printQueue.List(c.Request.Context())
	if err != nil {
		h.logger.Error("print job list failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	payload := make([]listedJobPayload, 0, len(jobs))
	for _, job := range jobs {
		listed := listedJobPayload{
			ID:        job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt.Format(timestampLayout),
		}
		if job.AckAt != nil {
			listed.AckAt = job.AckAt.Format(timestampLayout)
		}
		var receipt printqueue.Receipt
		if err := json.Unmarshal([]byte(job.PayloadJSON), &receipt); err == nil {
			listed.Token = receipt.Token
			listed.Lorry = receipt.Lorry
			listed.Type = receipt.Type
		}
		payload = append(payload, listed)
	}
	respondOK(c, http.StatusOK, payload)
}

func (h *httpHandler) handleDeletePrintJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.printQueue.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, printqueue.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("print job delete failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "job " + id + " deleted"})
}

func (h *httpHandler) handleCleanupPrintJobs(c *gin.Context) {
	removed, err := h.printQueue.Cleanup(c.Request.Context())
	if err != nil {
		h.logger.Error("print job cleanup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"removed": removed, "message": "old jobs cleaned up"})
}
