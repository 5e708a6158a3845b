package recipes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/images"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

var testIssuer = auth.NewTokenIssuer("test-secret", time.Hour)

func setupTestRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	store, err := images.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create image storage: %v", err)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	handler := NewHandler(NewService(db, WithImageStore(store)), "/media", 1<<20)

	api := r.Group("/api/recipe")
	api.Use(auth.AuthMiddleware(testIssuer))
	handler.RegisterRoutes(api)
	return r
}

func getAuthHeader(user models.User) string {
	token, _, _ := testIssuer.Generate(&user)
	return "Bearer " + token
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for x := 0; x < 10; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
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

func createRecipe(t *testing.T, router *gin.Engine, authHeader string, body map[string]interface{}) RecipeDetailResponse {
	t.Helper()
	resp := doJSON(router, "POST", "/api/recipe/recipes", body, authHeader)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created RecipeDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &created)
	return created
}

func TestRecipesRequireAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)

	resp := doJSON(router, "GET", "/api/recipe/recipes", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestCreateRecipeScenario(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	a := createTestUser(t, db, "a@x.com")
	b := createTestUser(t, db, "b@x.com")

	created := createRecipe(t, router, getAuthHeader(a), map[string]interface{}{
		"title":        "cake swords",
		"time_minutes": 15,
		"price":        11.75,
	})

	path := fmt.Sprintf("/api/recipe/recipes/%d", created.ID)
	resp := doJSON(router, "GET", path, nil, getAuthHeader(a))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var detail RecipeDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &detail)
	if detail.Title != "cake swords" {
		t.Errorf("Expected title 'cake swords', got %s", detail.Title)
	}
	if detail.Price != "11.75" {
		t.Errorf("Expected price 11.75, got %s", detail.Price)
	}
	if detail.TimeMinutes != 15 {
		t.Errorf("Expected 15 minutes, got %d", detail.TimeMinutes)
	}

	resp = doJSON(router, "GET", path, nil, getAuthHeader(b))
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user, got %d", resp.Code)
	}
}

func TestCreateRecipeValidation(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")

	cases := map[string]map[string]interface{}{
		"missing title":    {"time_minutes": 5, "price": "1.00"},
		"missing time":     {"title": "x", "price": "1.00"},
		"missing price":    {"title": "x", "time_minutes": 5},
		"negative minutes": {"title": "x", "time_minutes": -3, "price": "1.00"},
		"price precision":  {"title": "x", "time_minutes": 5, "price": "1.234"},
		"blank tag":        {"title": "x", "time_minutes": 5, "price": "1.00", "tags": []map[string]string{{"name": " "}}},
		"wrong type":       {"title": "x", "time_minutes": "soon", "price": "1.00"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := doJSON(router, "POST", "/api/recipe/recipes", body, getAuthHeader(user))
			if resp.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
			}
		})
	}
}

func TestCreateRecipeZeroMinutesAllowed(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")

	created := createRecipe(t, router, getAuthHeader(user), map[string]interface{}{
		"title": "Water", "time_minutes": 0, "price": "0",
	})
	if created.TimeMinutes != 0 || created.Price != "0.00" {
		t.Errorf("Unexpected recipe: %+v", created)
	}
}

func TestListRecipesOmitsDescription(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")

	createRecipe(t, router, getAuthHeader(user), map[string]interface{}{
		"title": "Soup", "time_minutes": 30, "price": "4.50", "description": "Hot",
	})

	resp := doJSON(router, "GET", "/api/recipe/recipes", nil, getAuthHeader(user))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "description") {
		t.Errorf("List should not include description: %s", resp.Body.String())
	}

	var list []RecipeResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Title != "Soup" {
		t.Errorf("Unexpected list: %+v", list)
	}
}

func TestFilterByTagsScenario(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	r1 := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Thai vegetable curry", "time_minutes": 15, "price": "5.00",
		"tags": []map[string]string{{"name": "15-min"}, {"name": "easy"}},
	})
	r2 := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Aubergine with tahini", "time_minutes": 20, "price": "4.00",
		"tags": []map[string]string{{"name": "easy"}},
	})
	createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Fish and chips", "time_minutes": 45, "price": "7.00",
	})

	resp := doJSON(router, "GET", "/api/recipe/recipes?tags=15-min,easy", nil, authHeader)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}

	var list []RecipeResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("Expected 2 recipes, got %d: %s", len(list), resp.Body.String())
	}
	if list[0].ID != r2.ID || list[1].ID != r1.ID {
		t.Errorf("Expected newest first [%d %d], got [%d %d]", r2.ID, r1.ID, list[0].ID, list[1].ID)
	}
}

func TestFilterByIngredients(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	r1 := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Posh beans on toast", "time_minutes": 5, "price": "3.00",
		"ingredients": []map[string]string{{"name": "Feta cheese"}},
	})
	createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Red lentil daal", "time_minutes": 20, "price": "2.00",
		"ingredients": []map[string]string{{"name": "Lentils"}},
	})

	resp := doJSON(router, "GET", "/api/recipe/recipes?ingredients=Feta%20cheese", nil, authHeader)
	var list []RecipeResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != r1.ID {
		t.Errorf("Expected only recipe %d, got %s", r1.ID, resp.Body.String())
	}
}

func TestPatchRecipe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	created := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Chicken tikka", "time_minutes": 30, "price": "5.00",
		"tags": []map[string]string{{"name": "Spicy"}},
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d", created.ID)

	resp := doJSON(router, "PATCH", path, map[string]interface{}{
		"title": "Chicken tikka masala",
		"tags":  nil,
	}, authHeader)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var detail RecipeDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &detail)
	if detail.Title != "Chicken tikka masala" {
		t.Errorf("Expected updated title, got %s", detail.Title)
	}
	if len(detail.Tags) != 1 {
		t.Errorf("Null tags should leave tags unchanged, got %v", detail.Tags)
	}

	resp = doJSON(router, "PATCH", path, map[string]interface{}{"tags": []string{}}, authHeader)
	json.Unmarshal(resp.Body.Bytes(), &detail)
	if resp.Code != http.StatusOK || len(detail.Tags) != 0 {
		t.Errorf("Expected tags cleared, got %d %v", resp.Code, detail.Tags)
	}
}

func TestPutRecipeRequiresAllFields(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	created := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Spaghetti", "time_minutes": 25, "price": "5.00", "link": "https://example.com",
		"tags": []map[string]string{{"name": "Italian"}},
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d", created.ID)

	resp := doJSON(router, "PUT", path, map[string]interface{}{"title": "Only title"}, authHeader)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.Code)
	}

	resp = doJSON(router, "PUT", path, map[string]interface{}{
		"title": "Spaghetti carbonara", "time_minutes": 25, "price": "5.00",
	}, authHeader)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var detail RecipeDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &detail)
	if detail.Link != "" {
		t.Errorf("PUT should reset link, got %s", detail.Link)
	}
	if len(detail.Tags) != 1 {
		t.Errorf("Omitted tags should be unchanged, got %v", detail.Tags)
	}
}

func TestUpdateOtherUsersRecipe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	owner := createTestUser(t, db, "owner@example.com")
	other := createTestUser(t, db, "other@example.com")

	created := createRecipe(t, router, getAuthHeader(owner), map[string]interface{}{
		"title": "Mine", "time_minutes": 5, "price": "1.00",
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d", created.ID)

	resp := doJSON(router, "PATCH", path, map[string]string{"title": "Theirs"}, getAuthHeader(other))
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
	resp = doJSON(router, "DELETE", path, nil, getAuthHeader(other))
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
}

func TestDeleteRecipe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	created := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Gone", "time_minutes": 5, "price": "1.00",
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d", created.ID)

	resp := doJSON(router, "DELETE", path, nil, authHeader)
	if resp.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.Code)
	}
	resp = doJSON(router, "GET", path, nil, authHeader)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", resp.Code)
	}
}

func TestInvalidRecipeID(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")

	resp := doJSON(router, "GET", "/api/recipe/recipes/abc", nil, getAuthHeader(user))
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
}

func uploadImage(router *gin.Engine, path, authHeader, field string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if data != nil {
		part, _ := writer.CreateFormFile(field, "upload.png")
		part.Write(data)
	} else {
		writer.WriteField("other", "value")
	}
	writer.Close()

	req, _ := http.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", authHeader)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestUploadImage(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	created := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Photo", "time_minutes": 5, "price": "1.00",
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d/upload-image", created.ID)

	resp := uploadImage(router, path, authHeader, "image", testPNG(t))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var uploaded ImageResponse
	json.Unmarshal(resp.Body.Bytes(), &uploaded)
	if !strings.HasPrefix(uploaded.Image, "/media/uploads/recipe/") || !strings.HasSuffix(uploaded.Image, ".png") {
		t.Errorf("Unexpected image URL %s", uploaded.Image)
	}

	resp = doJSON(router, "GET", fmt.Sprintf("/api/recipe/recipes/%d", created.ID), nil, authHeader)
	var detail RecipeDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &detail)
	if detail.Image == nil || *detail.Image != uploaded.Image {
		t.Errorf("Expected detail image %s, got %v", uploaded.Image, detail.Image)
	}
}

func TestUploadImageBadRequest(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(t, db)
	user := createTestUser(t, db, "user@example.com")
	authHeader := getAuthHeader(user)

	created := createRecipe(t, router, authHeader, map[string]interface{}{
		"title": "Photo", "time_minutes": 5, "price": "1.00",
	})
	path := fmt.Sprintf("/api/recipe/recipes/%d/upload-image", created.ID)

	if resp := uploadImage(router, path, authHeader, "image", []byte("notimage")); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-image, got %d", resp.Code)
	}
	if resp := uploadImage(router, path, authHeader, "image", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing file, got %d", resp.Code)
	}
	if resp := uploadImage(router, path, authHeader, "image", bytes.Repeat([]byte{1}, 2<<20)); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for oversized file, got %d", resp.Code)
	}
}
