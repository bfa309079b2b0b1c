package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/api/middleware"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/services"
)

type KeyHandler struct {
	directory *services.DirectoryService
	custody   *services.CustodyService
}

func NewKeyHandler(directory *services.DirectoryService, custody *services.CustodyService) *KeyHandler {
	return &KeyHandler{directory: directory, custody: custody}
}

type KeyRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
}

type CustodyRequest struct {
	EmployeeUUID string `json:"employee_uuid" binding:"required"`
}

// List handles GET /api/v1/keys
func (h *KeyHandler) List(c *gin.Context) {
	keys, err := h.directory.ListKeys()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// Get handles GET /api/v1/keys/:uuid. The response carries the state derived
// from the ledger alongside the key record.
func (h *KeyHandler) Get(c *gin.Context) {
	key, err := h.directory.GetKey(c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	state, err := h.custody.Holder(key.UUID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "state": state})
}

// Create handles POST /api/v1/keys
func (h *KeyHandler) Create(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := h.directory.CreateKey(middleware.GetSession(c), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

// Update handles PUT /api/v1/keys/:uuid
func (h *KeyHandler) Update(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := h.directory.UpdateKey(middleware.GetSession(c), c.Param("uuid"), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// Delete handles DELETE /api/v1/keys/:uuid
func (h *KeyHandler) Delete(c *gin.Context) {
	if err := h.directory.DeleteKey(middleware.GetSession(c), c.Param("uuid")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "key deleted"})
}

// Take handles POST /api/v1/keys/:uuid/take
func (h *KeyHandler) Take(c *gin.Context) {
	h.transition(c, h.custody.Take)
}

// Return handles POST /api/v1/keys/:uuid/return
func (h *KeyHandler) Return(c *gin.Context) {
	h.transition(c, h.custody.Return)
}

func (h *KeyHandler) transition(c *gin.Context, apply func(*services.Session, string, string) (*models.CustodyEvent, error)) {
	var req CustodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := apply(middleware.GetSession(c), c.Param("uuid"), req.EmployeeUUID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}
