package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/api/middleware"
	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/services"
)

type handlerEnv struct {
	db        *gorm.DB
	auth      *services.AuthService
	directory *services.DirectoryService
	custody   *services.CustodyService
	router    *gin.Engine

	adminToken string
	userToken  string
}

// newHandlerEnv wires the handlers behind the real auth middleware with one
// admin and one plain operator logged in.
func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := OpenTestDB(t)
	store := services.NewStore(db)
	ledger := services.NewLedgerService(store)
	directory := services.NewDirectoryService(store, ledger)
	custody := services.NewCustodyService(store, ledger, nil)
	identity := services.NewIdentityService(directory)
	auth := services.NewAuthService(db, config.Config{JWTSecret: "test-secret", SessionTTL: time.Hour})

	env := &handlerEnv{db: db, auth: auth, directory: directory, custody: custody}
	env.adminToken = env.login(t, "admin", "admin-password", models.RoleAdmin)
	env.userToken = env.login(t, "user", "user-password", models.RoleUser)

	authHandler := NewAuthHandler(auth, 3600, false)
	employees := NewEmployeeHandler(directory)
	keys := NewKeyHandler(directory, custody)
	custodyHandler := NewCustodyHandler(custody, identity)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/health", HealthHandler)

	api := router.Group("/api/v1")
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(auth))
	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/scan", custodyHandler.Scan)
	protected.GET("/custody/issued", custodyHandler.Issued)
	protected.GET("/custody/history", custodyHandler.History)
	protected.GET("/employees", employees.List)
	protected.GET("/employees/:uuid", employees.Get)
	protected.GET("/keys", keys.List)
	protected.GET("/keys/:uuid", keys.Get)

	admin := protected.Group("")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/employees", employees.Create)
	admin.PUT("/employees/:uuid", employees.Update)
	admin.DELETE("/employees/:uuid", employees.Delete)
	admin.POST("/keys", keys.Create)
	admin.PUT("/keys/:uuid", keys.Update)
	admin.DELETE("/keys/:uuid", keys.Delete)
	admin.POST("/keys/:uuid/take", keys.Take)
	admin.POST("/keys/:uuid/return", keys.Return)

	env.router = router
	return env
}

func (e *handlerEnv) login(t *testing.T, username, password, role string) string {
	t.Helper()
	_, _, err := e.auth.EnsureOperator(username, password, role)
	require.NoError(t, err)
	token, _, err := e.auth.Login(username, password)
	require.NoError(t, err)
	return token
}

func (e *handlerEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) createEmployee(t *testing.T, name, card string) models.Employee {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/employees", e.adminToken, gin.H{"name": name, "card_id": card, "department": "IT"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var emp models.Employee
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &emp))
	return emp
}

func (e *handlerEnv) createKey(t *testing.T, name string) models.Key {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/keys", e.adminToken, gin.H{"name": name, "description": "Key for " + name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var key models.Key
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &key))
	return key
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
