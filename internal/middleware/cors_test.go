package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(origins string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins))
	r.GET("/courses", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORS_ListedOrigin(t *testing.T) {
	r := corsRouter("https://hortus.example/, http://localhost:3000")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/courses", nil)
	req.Header.Set("Origin", "https://hortus.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://hortus.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/courses", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	r := corsRouter("*")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/courses", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}
