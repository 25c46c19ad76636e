package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type adminBackend struct {
	mu      sync.Mutex
	deleted []string
	added   []string
}

func (b *adminBackend) record(list *[]string, v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*list = append(*list, v)
}

func (b *adminBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /admin/login", loginBackend("/admin/login", testToken(t, "", time.Now().Add(time.Hour))))
	mux.HandleFunc("GET /blog/all-blogs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"blogs": sampleBlogs()})
	})
	mux.HandleFunc("GET /admin/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"users": []map[string]string{
			{"userNumber": "U1", "username": "alice", "email": "alice@example.com"},
			{"userNumber": "U2", "username": "bob", "email": "bob@example.com"},
		}})
	})
	mux.HandleFunc("DELETE /admin/delete-user/{n}", func(w http.ResponseWriter, r *http.Request) {
		b.record(&b.deleted, "user:"+r.PathValue("n"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
	mux.HandleFunc("GET /admin/get-categories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": []map[string]string{
			{"_id": "c1", "name": "Tech", "createdAt": "2024-01-02T03:04:00Z"},
		}})
	})
	mux.HandleFunc("DELETE /admin/delete-categories/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.record(&b.deleted, "category:"+r.PathValue("id"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
	mux.HandleFunc("POST /admin/add-categories", func(w http.ResponseWriter, r *http.Request) {
		b.record(&b.added, "called")
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Category created"})
	})
	return mux
}

func adminRequest(t *testing.T, s *Site, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.AddCookie(loginAs(t, s, roleAdmin, ""))
	return serve(s, req)
}

func TestAdminLogin(t *testing.T) {
	s := setupTestSite(t, (&adminBackend{}).handler(t))

	form := url.Values{"email": {"admin@example.com"}, "password": {"password"}}
	w := serve(s, newFormRequest("/adminlogin", form))

	assertRedirect(t, w, "/admindashboard")
	if responseCookie(w, adminSessionCookieName) == nil {
		t.Fatal("expected admin session cookie")
	}
	if responseCookie(w, sessionCookieName) != nil {
		t.Error("expected user session to be left alone")
	}
}

func TestAdminLogout_KeepsUserSession(t *testing.T) {
	s := setupTestSite(t, nil)
	user := loginAs(t, s, roleUser, "U1")
	admin := loginAs(t, s, roleAdmin, "")

	req := newFormRequest("/adminlogout", nil)
	req.AddCookie(user)
	req.AddCookie(admin)
	w := serve(s, req)

	assertRedirect(t, w, "/adminlogin")
	if session, _ := getSession(s.db, admin.Value, roleAdmin); session != nil {
		t.Error("expected admin session to be deleted")
	}
	if session, _ := getSession(s.db, user.Value, roleUser); session == nil {
		t.Error("expected user session to survive admin logout")
	}
}

func TestAdminDashboard(t *testing.T) {
	s := setupTestSite(t, (&adminBackend{}).handler(t))

	w := adminRequest(t, s, httptest.NewRequest(http.MethodGet, "/admindashboard", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	if !contains(body, "Admin Dashboard", "Go Concurrency", "By: alice", "By: Admin", "/editblogsbyadmin/BLOG003") {
		t.Error("expected recent blogs with authors and edit links")
	}
}

func TestManageUsers(t *testing.T) {
	s := setupTestSite(t, (&adminBackend{}).handler(t))

	w := adminRequest(t, s, httptest.NewRequest(http.MethodGet, "/manageusers?q=ALI", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	if !contains(body, "alice@example.com", "/manageusers/U1/delete") {
		t.Error("expected matching user")
	}
	if strings.Contains(body, "bob@example.com") {
		t.Error("expected non-matching user to be filtered out")
	}
}

func TestDeleteUser(t *testing.T) {
	backend := &adminBackend{}
	s := setupTestSite(t, backend.handler(t))

	w := adminRequest(t, s, newFormRequest("/manageusers/U2/delete", url.Values{"confirm": {"yes"}}))

	assertRedirect(t, w, "/manageusers")
	if len(backend.deleted) != 1 || backend.deleted[0] != "user:U2" {
		t.Errorf("unexpected deletions %v", backend.deleted)
	}
	if f := flashOf(t, w); f == nil || f.Message != "User deleted successfully!" {
		t.Errorf("unexpected flash %+v", f)
	}
}

func TestDeleteUser_Unconfirmed(t *testing.T) {
	backend := &adminBackend{}
	s := setupTestSite(t, backend.handler(t))

	w := adminRequest(t, s, newFormRequest("/manageusers/U2/delete", nil))

	assertRedirect(t, w, "/manageusers")
	if len(backend.deleted) != 0 {
		t.Error("expected no deletion without confirmation")
	}
}

func TestAllBlogsAdmin(t *testing.T) {
	s := setupTestSite(t, (&adminBackend{}).handler(t))

	w := adminRequest(t, s, httptest.NewRequest(http.MethodGet, "/allblogsadmin?sort=title", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	// Title order, two per page
	if !contains(body, "Baking Bread", "Go Concurrency", "Blog ID: BLOG002", "Page 1 of 2") {
		t.Error("expected first page in title order")
	}
	if strings.Contains(body, "Testing in Go") {
		t.Error("expected last title on the second page")
	}
}

func TestManageCategories(t *testing.T) {
	s := setupTestSite(t, (&adminBackend{}).handler(t))

	w := adminRequest(t, s, httptest.NewRequest(http.MethodGet, "/allcategories", nil))

	if !contains(w.Body.String(), "Tech", "Jan 2, 2024 03:04", "/allcategories/c1/delete") {
		t.Error("expected category list with delete form")
	}
}

func TestDeleteCategory(t *testing.T) {
	backend := &adminBackend{}
	s := setupTestSite(t, backend.handler(t))

	w := adminRequest(t, s, newFormRequest("/allcategories/c1/delete", url.Values{"confirm": {"yes"}}))

	assertRedirect(t, w, "/allcategories")
	if len(backend.deleted) != 1 || backend.deleted[0] != "category:c1" {
		t.Errorf("unexpected deletions %v", backend.deleted)
	}
	if f := flashOf(t, w); f == nil || f.Message != "Category deleted successfully" {
		t.Errorf("unexpected flash %+v", f)
	}
}

func TestAddCategories(t *testing.T) {
	backend := &adminBackend{}
	s := setupTestSite(t, backend.handler(t))

	t.Run("empty name", func(t *testing.T) {
		w := adminRequest(t, s, newFormRequest("/add-categories", url.Values{"name": {"  "}}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Please enter a category name.") {
			t.Error("expected validation message")
		}
		if len(backend.added) != 0 {
			t.Error("expected no backend call")
		}
	})

	t.Run("success", func(t *testing.T) {
		w := adminRequest(t, s, newFormRequest("/add-categories", url.Values{"name": {"Travel"}}))

		assertRedirect(t, w, "/add-categories")
		if f := flashOf(t, w); f == nil || f.Message != "Category created" {
			t.Errorf("expected backend message as flash, got %+v", f)
		}
	})
}

func TestAdminPages_RequireAdmin(t *testing.T) {
	s := setupTestSite(t, nil)

	for _, path := range []string{"/admindashboard", "/manageusers", "/allblogsadmin", "/allcategories", "/add-categories", "/admin/settings", "/editblogsbyadmin/BLOG001"} {
		t.Run(path, func(t *testing.T) {
			w := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
			assertRedirect(t, w, "/adminlogin")
		})
	}
}

func TestManageUsers_NumericUserNumber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"users": []map[string]any{
			{"userNumber": 1001, "username": "alice", "email": "alice@example.com"},
		}})
	})
	s := setupTestSite(t, mux)

	w := adminRequest(t, s, httptest.NewRequest(http.MethodGet, "/manageusers", nil))

	body := w.Body.String()
	if !contains(body, "alice@example.com", "/manageusers/1001/delete") {
		t.Error("expected user with a numeric user number")
	}
	if strings.Contains(body, "Failed to fetch users") {
		t.Error("expected no error toast")
	}
}

func TestDeleteCategory_Unconfirmed(t *testing.T) {
	backend := &adminBackend{}
	s := setupTestSite(t, backend.handler(t))

	w := adminRequest(t, s, newFormRequest("/allcategories/c1/delete", nil))

	assertRedirect(t, w, "/allcategories")
	if len(backend.deleted) != 0 {
		t.Error("expected no deletion without confirmation")
	}
	if f := flashOf(t, w); f == nil || f.Message != "Please confirm that you want to delete this category." {
		t.Errorf("expected confirmation flash, got %+v", f)
	}
}
