package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidCustomerID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"1", true},
		{"42", true},
		{"9223372036854775807", true},

		// Invalid cases
		{"0", false},
		{"-1", false},
		{"abc", false},
		{"1.5", false},
		{"", false},
		{"9223372036854775808", false}, // Overflows int64
	}

	for _, tc := range tests {
		result := IsValidCustomerID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidCustomerID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestCustomerIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/customers/:id", CustomerIDParamMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	tests := []struct {
		path string
		code int
	}{
		{"/customers/42", http.StatusOK},
		{"/customers/abc", http.StatusBadRequest},
		{"/customers/-1", http.StatusBadRequest},
		{"/customers/0", http.StatusBadRequest},
	}

	for _, tc := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", tc.path, nil)
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.path, w.Code, tc.code)
		}
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large"})
			return
		}
		c.JSON(http.StatusOK, body)
	})

	// Under limit
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("small body: got %d, want 200", w.Code)
	}

	// Over limit
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":"this is far too long for the limit"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: got %d, want 413", w.Code)
	}
}
