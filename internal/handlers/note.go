package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/services"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type NoteHandler struct {
	notes services.NoteService
	log   *logger.Logger
}

func NewNoteHandler(notes services.NoteService, baseLog *logger.Logger) *NoteHandler {
	return &NoteHandler{
		notes: notes,
		log:   baseLog.With("handler", "NoteHandler"),
	}
}

// Create accepts the note and starts the pipeline. Results arrive through
// the status endpoint; the 202 body is the acceptance acknowledgement in the
// same shape a completed result uses.
func (h *NoteHandler) Create(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.CreateNoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, &apperrors.ValidationError{Message: "invalid request body"})
		return
	}
	note, err := h.notes.CreateNote(c.Request.Context(), campaignID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"noteId":                   note.ID,
		"success":                  true,
		"processingStatus":         note.ProcessingStatus,
		"artifacts":                []types.Artifact{},
		"relationshipCount":        0,
		"requiresUserConfirmation": false,
		"artifactMergeProposals":   []types.MergeProposal{},
	})
}

func (h *NoteHandler) GetStatus(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	noteID, ok := pathUUID(c, "noteId")
	if !ok {
		return
	}
	status, err := h.notes.GetStatus(c.Request.Context(), campaignID, noteID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type confirmRequest struct {
	ApprovedMergeProposals []uuid.UUID `json:"approvedMergeProposals"`
}

func (h *NoteHandler) ConfirmDeduplication(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	noteID, ok := pathUUID(c, "noteId")
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &apperrors.ValidationError{Message: "invalid request body"})
		return
	}
	result, err := h.notes.ConfirmDeduplication(c.Request.Context(), campaignID, noteID, req.ApprovedMergeProposals)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type retrySyncRequest struct {
	Store string `json:"store"`
}

func (h *NoteHandler) RetrySync(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	noteID, ok := pathUUID(c, "noteId")
	if !ok {
		return
	}
	var req retrySyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &apperrors.ValidationError{Message: "invalid request body"})
		return
	}
	note, err := h.notes.RetrySync(c.Request.Context(), campaignID, noteID, req.Store)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"noteId":           note.ID,
		"qdrantSyncStatus": note.QdrantSyncStatus,
		"graphSyncStatus":  note.GraphSyncStatus,
	})
}

// RetryProcessing re-runs the full pipeline for a note whose processing
// failed. The 202 mirrors Create: results arrive through the status
// endpoint.
func (h *NoteHandler) RetryProcessing(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	noteID, ok := pathUUID(c, "noteId")
	if !ok {
		return
	}
	note, err := h.notes.RetryProcessing(c.Request.Context(), campaignID, noteID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"noteId":           note.ID,
		"processingStatus": note.ProcessingStatus,
	})
}
