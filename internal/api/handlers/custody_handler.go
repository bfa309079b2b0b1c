package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/services"
)

// CustodyHandler serves card scans and the custody read models.
type CustodyHandler struct {
	custody  *services.CustodyService
	identity *services.IdentityService
}

func NewCustodyHandler(custody *services.CustodyService, identity *services.IdentityService) *CustodyHandler {
	return &CustodyHandler{custody: custody, identity: identity}
}

type ScanRequest struct {
	CardID string `json:"card_id" binding:"required"`
}

// Scan handles POST /api/v1/scan. On success it returns the employee together
// with the keys they currently hold.
func (h *CustodyHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	employee, err := h.identity.ResolveByCardID(req.CardID)
	if err != nil {
		respondError(c, err)
		return
	}
	issued, err := h.custody.ListIssued(employee.UUID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"employee": employee, "issued": issued})
}

// Issued handles GET /api/v1/custody/issued?employee=<uuid>
func (h *CustodyHandler) Issued(c *gin.Context) {
	issued, err := h.custody.ListIssued(c.Query("employee"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

// History handles GET /api/v1/custody/history?q=<term>
func (h *CustodyHandler) History(c *gin.Context) {
	history, err := h.custody.ListHistory(c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
