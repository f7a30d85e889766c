package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/services"
)

type CampaignHandler struct {
	campaigns services.CampaignService
	graphs    services.GraphService
	search    services.SearchService
	log       *logger.Logger
}

func NewCampaignHandler(
	campaigns services.CampaignService,
	graphs services.GraphService,
	search services.SearchService,
	baseLog *logger.Logger,
) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		graphs:    graphs,
		search:    search,
		log:       baseLog.With("handler", "CampaignHandler"),
	}
}

func (h *CampaignHandler) Create(c *gin.Context) {
	var input services.CreateCampaignInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, &apperrors.ValidationError{Message: "invalid request body"})
		return
	}
	campaign, err := h.campaigns.CreateCampaign(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.campaigns.GetCampaign(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h *CampaignHandler) GetGraph(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	graph, err := h.graphs.GetCampaignGraph(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *CampaignHandler) Search(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &apperrors.ValidationError{Message: "invalid request body"})
		return
	}
	results, err := h.search.SearchNotes(c.Request.Context(), id, req.Query, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
