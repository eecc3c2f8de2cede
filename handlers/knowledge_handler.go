package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"lawsim-backend/repository"
	"lawsim-backend/service"

	"github.com/gin-gonic/gin"
)

const (
	defaultSearchTopK = 5
	maxSearchTopK     = 20
)

// KnowledgeHandler handles HTTP requests for the statute knowledge base
type KnowledgeHandler struct {
	retrieval *service.RetrievalService
	chunkRepo *repository.ChunkRepository
	catalog   *service.CaseTemplateCatalog
}

// NewKnowledgeHandler creates a new knowledge handler
func NewKnowledgeHandler(retrieval *service.RetrievalService, chunkRepo *repository.ChunkRepository, catalog *service.CaseTemplateCatalog) *KnowledgeHandler {
	return &KnowledgeHandler{
		retrieval: retrieval,
		chunkRepo: chunkRepo,
		catalog:   catalog,
	}
}

// Search handles GET /api/search
func (h *KnowledgeHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		// Short alias kept for curl convenience.
		query = strings.TrimSpace(c.Query("q"))
	}
	if query == "" {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Query parameter query is required")
		return
	}

	topK := defaultSearchTopK
	if raw := c.Query("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "top_k must be a positive integer")
			return
		}
		topK = parsed
		if topK > maxSearchTopK {
			topK = maxSearchTopK
		}
	}

	chunks, err := h.retrieval.Search(c.Request.Context(), query, topK)
	if err != nil {
		if errors.Is(err, service.ErrRetrievalUnavailable) {
			errorJSON(c, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", err.Error())
			return
		}
		errorJSON(c, http.StatusInternalServerError, "SEARCH_FAILED", err.Error())
		return
	}

	setMetricMeta(c, map[string]any{"results": len(chunks)})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"query":   query,
			"results": chunks,
		},
	})
}

// GetChunk handles GET /api/chunks/:id
func (h *KnowledgeHandler) GetChunk(c *gin.Context) {
	chunkID := c.Param("id")

	chunk, err := h.chunkRepo.GetByID(c.Request.Context(), chunkID)
	if err != nil {
		if errors.Is(err, repository.ErrChunkNotFound) {
			errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Chunk not found: "+chunkID)
			return
		}
		errorJSON(c, http.StatusInternalServerError, "RETRIEVAL_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    chunk,
	})
}

// ListCases handles GET /api/cases
func (h *KnowledgeHandler) ListCases(c *gin.Context) {
	ids := h.catalog.CaseIDs()
	sort.Strings(ids)

	cases := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		template, err := h.catalog.TemplateFor(id)
		if err != nil {
			continue
		}
		cases = append(cases, gin.H{
			"case_id":        template.CaseID,
			"required_slots": template.RequiredFactSlots,
			"intro":          template.FactIntroOpening,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"cases": cases},
	})
}
