package apitokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

var testIssuer = auth.NewTokenIssuer("test-secret", time.Hour)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:?_foreign_keys=on"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	models.AutoMigrate(db)
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	user, err := auth.CreateUser(context.Background(), db, auth.NewUser{Email: email, Password: "password123", Name: "Test User"})
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)

	api := r.Group("/api/user")
	api.Use(CombinedAuthMiddleware(db, testIssuer))
	handler.RegisterRoutes(api)
	api.GET("/whoami", func(c *gin.Context) {
		id, _ := auth.GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id, "is_staff": auth.IsStaff(c)})
	})

	return r
}

func getAuthHeader(user *models.User) string {
	token, _, _ := testIssuer.Generate(user)
	return "Bearer " + token
}

func doRequest(router *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func createToken(t *testing.T, router *gin.Engine, user *models.User, description string) CreateTokenResponse {
	resp := doRequest(router, "POST", "/api/user/tokens", CreateTokenRequest{Description: description}, getAuthHeader(user))
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created CreateTokenResponse
	json.Unmarshal(resp.Body.Bytes(), &created)
	return created
}

func TestCreateToken(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")

	created := createToken(t, router, user, "CI pipeline")

	if len(created.Token) != TokenLength*2 {
		t.Errorf("Expected %d char token, got %d", TokenLength*2, len(created.Token))
	}
	if created.TokenPrefix != created.Token[:TokenPrefixLength] {
		t.Errorf("Expected prefix %s, got %s", created.Token[:TokenPrefixLength], created.TokenPrefix)
	}
	if created.Description != "CI pipeline" {
		t.Errorf("Expected description 'CI pipeline', got %s", created.Description)
	}

	var stored models.APIToken
	db.First(&stored, created.ID)
	if stored.TokenHash == created.Token {
		t.Error("Token must be stored hashed")
	}
}

func TestCreateTokenWithoutBody(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")

	req, _ := http.NewRequest("POST", "/api/user/tokens", nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListTokensOnlyOwn(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")
	other := createTestUser(t, db, "other@example.com")

	createToken(t, router, user, "one")
	createToken(t, router, user, "two")
	createToken(t, router, other, "theirs")

	resp := doRequest(router, "GET", "/api/user/tokens", nil, getAuthHeader(user))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}

	var tokens []TokenResponse
	json.Unmarshal(resp.Body.Bytes(), &tokens)
	if len(tokens) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Description != "two" {
		t.Errorf("Expected newest first, got %s", tokens[0].Description)
	}
}

func TestDeleteToken(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")
	other := createTestUser(t, db, "other@example.com")
	created := createToken(t, router, user, "mine")

	path := fmt.Sprintf("/api/user/tokens/%d", created.ID)

	resp := doRequest(router, "DELETE", path, nil, getAuthHeader(other))
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user's token, got %d", resp.Code)
	}

	resp = doRequest(router, "DELETE", path, nil, getAuthHeader(user))
	if resp.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(router, "GET", "/api/user/whoami", nil, "Bearer "+created.Token)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected revoked token to be rejected, got %d", resp.Code)
	}
}

func TestCombinedAuthWithAPIToken(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")
	created := createToken(t, router, user, "script")

	resp := doRequest(router, "GET", "/api/user/whoami", nil, "Bearer "+created.Token)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		UserID uint `json:"user_id"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.UserID != user.ID {
		t.Errorf("Expected user %d, got %d", user.ID, body.UserID)
	}

	var stored models.APIToken
	db.First(&stored, created.ID)
	if stored.LastUsedAt == nil {
		t.Error("Expected last_used_at to be recorded")
	}
}

func TestCombinedAuthRejects(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")

	cases := map[string]string{
		"no header":     "",
		"wrong scheme":  "Basic abc",
		"bad jwt":       "Bearer a.b.c",
		"unknown token": "Bearer deadbeef",
		"empty bearer":  "Bearer ",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			resp := doRequest(router, "GET", "/api/user/whoami", nil, header)
			if resp.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", resp.Code)
			}
		})
	}

	// a valid JWT for a deactivated account is refused
	db.Model(user).Update("is_active", false)
	resp := doRequest(router, "GET", "/api/user/whoami", nil, getAuthHeader(user))
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for inactive user, got %d", resp.Code)
	}
}

func TestCombinedAuthUsesStoredStaffFlag(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")
	header := getAuthHeader(user)

	db.Model(user).Update("is_staff", true)

	resp := doRequest(router, "GET", "/api/user/whoami", nil, header)
	var body struct {
		IsStaff bool `json:"is_staff"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if !body.IsStaff {
		t.Error("Expected staff flag from the database")
	}
}
