package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GadCoder/BikeRoutes/internal/security"
	"github.com/GadCoder/BikeRoutes/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newGatewayRouter(gw *Gateway) *gin.Engine {
	r := gin.New()
	r.GET("/protected", gw.Require(), func(c *gin.Context) {
		user, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID.String()})
	})
	r.GET("/open", gw.Optional(), func(c *gin.Context) {
		if user, ok := PrincipalFrom(c); ok {
			c.JSON(http.StatusOK, gin.H{"user_id": user.ID.String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": nil})
	})
	return r
}

func seedUser(store *memStore, active bool) *storage.User {
	user := &storage.User{ID: uuid.New(), Email: "rider@example.com", IsActive: active}
	store.mu.Lock()
	store.users[user.ID] = user
	store.mu.Unlock()
	return user
}

func get(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGatewayRequire(t *testing.T) {
	store := newMemStore()
	user := seedUser(store, true)
	gw := NewGateway(store, testLogger(), "test-secret", false)
	r := newGatewayRouter(gw)

	access, err := security.NewAccessToken(user.ID.String(), []byte("test-secret"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w := get(r, "/protected", map[string]string{"Authorization": "Bearer " + access})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = get(r, "/protected", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}

	w = get(r, "/protected", map[string]string{"Authorization": "Bearer not-a-jwt"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}

	w = get(r, "/protected", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", w.Code)
	}
}

func TestGatewayRejectsDeletedAndInactiveUsers(t *testing.T) {
	store := newMemStore()
	inactive := seedUser(store, false)
	gw := NewGateway(store, testLogger(), "test-secret", false)
	r := newGatewayRouter(gw)

	access, err := security.NewAccessToken(inactive.ID.String(), []byte("test-secret"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	w := get(r, "/protected", map[string]string{"Authorization": "Bearer " + access})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive user, got %d", w.Code)
	}
	if code := decodeError(t, w).Code; code != "user_not_found" {
		t.Fatalf("expected user_not_found, got %s", code)
	}

	// Token signed for a user that no longer exists.
	ghost, err := security.NewAccessToken(uuid.NewString(), []byte("test-secret"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	w = get(r, "/protected", map[string]string{"Authorization": "Bearer " + ghost})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown subject, got %d", w.Code)
	}
}

func TestGatewayOptional(t *testing.T) {
	store := newMemStore()
	user := seedUser(store, true)
	gw := NewGateway(store, testLogger(), "test-secret", false)
	r := newGatewayRouter(gw)

	// Anonymous passes through.
	w := get(r, "/open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 anonymous, got %d", w.Code)
	}

	access, err := security.NewAccessToken(user.ID.String(), []byte("test-secret"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	w = get(r, "/open", map[string]string{"Authorization": "Bearer " + access})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 authenticated, got %d", w.Code)
	}
}

func TestGatewayDebugHeader(t *testing.T) {
	store := newMemStore()
	user := seedUser(store, true)

	t.Run("enabled", func(t *testing.T) {
		gw := NewGateway(store, testLogger(), "test-secret", true)
		r := newGatewayRouter(gw)

		w := get(r, "/protected", map[string]string{debugUserHeader: user.ID.String()})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 via debug header, got %d: %s", w.Code, w.Body.String())
		}

		// A real bearer token wins over the debug header.
		access, err := security.NewAccessToken(user.ID.String(), []byte("test-secret"), time.Minute, time.Now())
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		w = get(r, "/protected", map[string]string{
			"Authorization": "Bearer " + access,
			debugUserHeader: uuid.NewString(),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected bearer to take precedence, got %d", w.Code)
		}

		w = get(r, "/protected", map[string]string{debugUserHeader: "not-a-uuid"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for malformed debug header, got %d", w.Code)
		}

		w = get(r, "/protected", map[string]string{debugUserHeader: uuid.NewString()})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for unknown debug user, got %d", w.Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		gw := NewGateway(store, testLogger(), "test-secret", false)
		r := newGatewayRouter(gw)

		w := get(r, "/protected", map[string]string{debugUserHeader: user.ID.String()})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected debug header to be inert, got %d", w.Code)
		}
	})
}
