package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/api/middleware"
	"github.com/Wikid82/keyroom/internal/services"
)

type EmployeeHandler struct {
	directory *services.DirectoryService
}

func NewEmployeeHandler(directory *services.DirectoryService) *EmployeeHandler {
	return &EmployeeHandler{directory: directory}
}

type EmployeeRequest struct {
	Name       string `json:"name" binding:"required"`
	CardID     string `json:"card_id" binding:"required"`
	Department string `json:"department"`
}

// List handles GET /api/v1/employees
func (h *EmployeeHandler) List(c *gin.Context) {
	employees, err := h.directory.ListEmployees()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, employees)
}

// Get handles GET /api/v1/employees/:uuid
func (h *EmployeeHandler) Get(c *gin.Context) {
	employee, err := h.directory.GetEmployee(c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, employee)
}

// Create handles POST /api/v1/employees
func (h *EmployeeHandler) Create(c *gin.Context) {
	var req EmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	employee, err := h.directory.CreateEmployee(middleware.GetSession(c), req.Name, req.CardID, req.Department)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, employee)
}

// Update handles PUT /api/v1/employees/:uuid
func (h *EmployeeHandler) Update(c *gin.Context) {
	var req EmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	employee, err := h.directory.UpdateEmployee(middleware.GetSession(c), c.Param("uuid"), req.Name, req.CardID, req.Department)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, employee)
}

// Delete handles DELETE /api/v1/employees/:uuid
func (h *EmployeeHandler) Delete(c *gin.Context) {
	if err := h.directory.DeleteEmployee(middleware.GetSession(c), c.Param("uuid")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "employee deleted"})
}
