package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

const testSecret = "test-secret"

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:?_foreign_keys=on"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	issuer := NewTokenIssuer(testSecret, time.Hour)
	handler := NewHandler(db, issuer)
	handler.RegisterRoutes(r.Group("/api/user"), AuthMiddleware(issuer))
	return r
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string) *models.User {
	user, err := CreateUser(context.Background(), db, NewUser{Email: email, Password: password, Name: "Test User"})
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func getAuthHeader(user *models.User) string {
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Generate(user)
	return "Bearer " + token
}

func doJSON(router *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
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

func TestPasswordHashing(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == password {
		t.Error("Hash should not equal plain password")
	}

	if !CheckPassword(password, hash) {
		t.Error("CheckPassword should return true for correct password")
	}

	if CheckPassword("wrongpassword", hash) {
		t.Error("CheckPassword should return false for incorrect password")
	}
}

func TestJWTToken(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	user := &models.User{ID: 1, Email: "test@example.com", IsStaff: true}

	token, expiresAt, err := issuer.Generate(user)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("Expected expiry in the future, got %v", expiresAt)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if claims.UserID != 1 {
		t.Errorf("Expected UserID 1, got %d", claims.UserID)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", claims.Email)
	}
	if !claims.IsStaff {
		t.Error("Expected staff claim")
	}
}

func TestInvalidToken(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	if _, err := issuer.Validate("invalid-token"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	token, _, _ := NewTokenIssuer("other-secret", time.Hour).Generate(&models.User{ID: 1})
	if _, err := issuer.Validate(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, _ := issuer.Generate(&models.User{ID: 1})

	issuer.now = time.Now
	if _, err := issuer.Validate(token); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := map[string]string{
		"test1@EXAMPLE.com":   "test1@example.com",
		"Test2@Example.com":   "Test2@example.com",
		"  TEST3@EXAMPLE.COM": "TEST3@example.com",
		"test4@example.COM":   "test4@example.com",
		"":                    "",
	}
	for in, want := range tests {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateUserStoresHash(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db, "test@EXAMPLE.com", "testpass123")

	if user.Email != "test@example.com" {
		t.Errorf("Expected normalized email, got %s", user.Email)
	}
	if user.PasswordHash == "testpass123" || !CheckPassword("testpass123", user.PasswordHash) {
		t.Error("Expected stored password to be a matching hash")
	}
	if user.IsStaff {
		t.Error("Expected regular user")
	}
}

func TestCreateUserWithoutEmail(t *testing.T) {
	db := setupTestDB(t)
	_, err := CreateUser(context.Background(), db, NewUser{Email: "  ", Password: "test123"})
	if err == nil {
		t.Fatal("Expected error for missing email")
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	body := CreateUserRequest{
		Email:    "test@example.com",
		Password: "testpass123",
		Name:     "Test Name",
	}
	resp := doJSON(router, "POST", "/api/user/create", body, "")

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var raw map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &raw)
	if _, ok := raw["password"]; ok {
		t.Error("Password must not be returned")
	}
	if raw["email"] != "test@example.com" || raw["name"] != "Test Name" {
		t.Errorf("Unexpected response: %v", raw)
	}

	var user models.User
	db.Where("email = ?", "test@example.com").First(&user)
	if !CheckPassword("testpass123", user.PasswordHash) {
		t.Error("Expected stored password to verify")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	createTestUser(t, db, "test@example.com", "testpass123")

	body := CreateUserRequest{Email: "test@example.com", Password: "otherpass", Name: "Other"}
	resp := doJSON(router, "POST", "/api/user/create", body, "")

	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCreateUserPasswordTooShort(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	body := CreateUserRequest{Email: "test@example.com", Password: "pw", Name: "Test"}
	resp := doJSON(router, "POST", "/api/user/create", body, "")

	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}

	var count int64
	db.Model(&models.User{}).Where("email = ?", "test@example.com").Count(&count)
	if count != 0 {
		t.Error("User should not have been created")
	}
}

func TestToken(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	createTestUser(t, db, "test@example.com", "test-user-password123")

	resp := doJSON(router, "POST", "/api/user/token", TokenRequest{
		Email:    "test@example.com",
		Password: "test-user-password123",
	}, "")

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var response TokenResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	if response.Token == "" {
		t.Error("Expected token in response")
	}
}

func TestTokenBadCredentials(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	createTestUser(t, db, "test@example.com", "goodpass")

	cases := []struct {
		name string
		body TokenRequest
	}{
		{"wrong password", TokenRequest{Email: "test@example.com", Password: "badpass"}},
		{"unknown email", TokenRequest{Email: "nobody@example.com", Password: "goodpass"}},
		{"blank password", TokenRequest{Email: "test@example.com", Password: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(router, "POST", "/api/user/token", tc.body, "")
			if resp.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
			}
			if strings.Contains(resp.Body.String(), `"token"`) {
				t.Error("Expected no token in response")
			}
		})
	}
}

func TestTokenInactiveUser(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "goodpass")
	db.Model(user).Update("is_active", false)

	resp := doJSON(router, "POST", "/api/user/token", TokenRequest{Email: "test@example.com", Password: "goodpass"}, "")
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestMeUnauthenticated(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := doJSON(router, "GET", "/api/user/me", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestMe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "testpass123")

	resp := doJSON(router, "GET", "/api/user/me", nil, getAuthHeader(user))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var response UserResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	if response.Email != "test@example.com" || response.Name != "Test User" {
		t.Errorf("Unexpected profile: %+v", response)
	}
}

func TestPostMeNotAllowed(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "testpass123")

	resp := doJSON(router, "POST", "/api/user/me", map[string]string{}, getAuthHeader(user))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.Code)
	}
}

func TestUpdateMe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "testpass123")

	resp := doJSON(router, "PATCH", "/api/user/me", map[string]string{
		"name":     "Updated name",
		"password": "newpassword123",
	}, getAuthHeader(user))

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var updated models.User
	db.First(&updated, user.ID)
	if updated.Name != "Updated name" {
		t.Errorf("Expected name to be updated, got %s", updated.Name)
	}
	if !CheckPassword("newpassword123", updated.PasswordHash) {
		t.Error("Expected new password to verify against stored hash")
	}
	if updated.Email != "test@example.com" {
		t.Errorf("Email should be untouched, got %s", updated.Email)
	}
}

func TestReplaceMeRequiresAllFields(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "testpass123")

	resp := doJSON(router, "PUT", "/api/user/me", map[string]string{"name": "Only name"}, getAuthHeader(user))
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(router, "PUT", "/api/user/me", ReplaceMeRequest{
		Email:    "new@example.com",
		Password: "replaced1",
		Name:     "Replaced",
	}, getAuthHeader(user))
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUpdateMeEmailConflict(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com", "testpass123")
	createTestUser(t, db, "taken@example.com", "testpass123")

	resp := doJSON(router, "PATCH", "/api/user/me", map[string]string{"email": "taken@example.com"}, getAuthHeader(user))
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRequireStaff(t *testing.T) {
	db := setupTestDB(t)
	gin.SetMode(gin.TestMode)
	issuer := NewTokenIssuer(testSecret, time.Hour)
	r := gin.New()
	r.GET("/admin", AuthMiddleware(issuer), RequireStaff(), func(c *gin.Context) { c.Status(http.StatusOK) })

	regular := createTestUser(t, db, "user@example.com", "testpass123")
	staff, _ := CreateUser(context.Background(), db, NewUser{Email: "staff@example.com", Password: "testpass123", IsStaff: true})

	if resp := doJSON(r, "GET", "/admin", nil, getAuthHeader(regular)); resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
	if resp := doJSON(r, "GET", "/admin", nil, getAuthHeader(staff)); resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.Code)
	}
}
