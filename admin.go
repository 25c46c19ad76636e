package main

import (
	"log"
	"net/http"
	"strings"
)

const recentBlogs = 10

func (s *Site) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	data := map[string]any{"Title": "Admin Dashboard"}

	blogs, err := s.api.AllBlogs(r.Context(), session.APIToken)
	if err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("fetching blogs: %v", err)
		data["Flash"] = newFlash(flashError, errorMessage(err, "Failed to load blogs."))
	}

	recent, _ := paginate(sortBlogs(blogs, sortNewest), 1, recentBlogs)
	data["Blogs"] = recent
	data["TotalPosts"] = len(blogs)

	s.render(w, r, "admin_dashboard.html", data)
}

func (s *Site) ManageUsers(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	q := parseListQuery(r)
	data := map[string]any{
		"Title": "Manage Users",
		"Query": q,
	}

	users, err := s.api.Users(r.Context(), session.APIToken)
	if err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("fetching users: %v", err)
		data["Flash"] = newFlash(flashError, errorMessage(err, "Failed to fetch users"))
	}

	page, pagination := paginate(filterUsers(users, q.Search), q.Page, s.pageSize)
	data["Users"] = page
	data["Pagination"] = pagination.withBase(r.URL)

	s.render(w, r, "manage_users.html", data)
}

func (s *Site) DeleteUser(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	userNumber := r.PathValue("userNumber")

	if !parseFormWithCSRF(w, r) {
		return
	}

	if r.FormValue("confirm") != "yes" {
		setFlash(w, flashError, "Please confirm that you want to delete this user.")
		http.Redirect(w, r, "/manageusers", http.StatusSeeOther)
		return
	}

	if err := s.api.DeleteUser(r.Context(), session.APIToken, userNumber); err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("deleting user %q: %v", userNumber, err)
		setFlash(w, flashError, errorMessage(err, "Failed to delete user"))
		http.Redirect(w, r, "/manageusers", http.StatusSeeOther)
		return
	}

	setFlash(w, flashSuccess, "User deleted successfully!")
	http.Redirect(w, r, "/manageusers", http.StatusSeeOther)
}

func (s *Site) AllBlogsAdmin(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	q := parseListQuery(r)
	data := map[string]any{
		"Title":       "All Blogs",
		"Query":       q,
		"SortOptions": sortOptions,
	}

	blogs, err := s.api.AllBlogs(r.Context(), session.APIToken)
	if err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("fetching blogs: %v", err)
		data["Flash"] = newFlash(flashError, errorMessage(err, "Failed to fetch blogs."))
	}

	visible := sortBlogs(filterBlogs(blogs, q), q.Sort)
	page, pagination := paginate(visible, q.Page, s.pageSize)
	data["Blogs"] = page
	data["Pagination"] = pagination.withBase(r.URL)

	s.render(w, r, "admin_blogs.html", data)
}

func (s *Site) ManageCategories(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	data := map[string]any{"Title": "Manage Categories"}

	categories, err := s.api.AdminCategories(r.Context(), session.APIToken)
	if err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("fetching categories: %v", err)
		data["Flash"] = newFlash(flashError, "Failed to fetch categories")
	}
	data["Categories"] = categories

	s.render(w, r, "manage_categories.html", data)
}

func (s *Site) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	id := r.PathValue("id")

	if !parseFormWithCSRF(w, r) {
		return
	}

	if r.FormValue("confirm") != "yes" {
		setFlash(w, flashError, "Please confirm that you want to delete this category.")
		http.Redirect(w, r, "/allcategories", http.StatusSeeOther)
		return
	}

	if err := s.api.DeleteCategory(r.Context(), session.APIToken, id); err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("deleting category %q: %v", id, err)
		setFlash(w, flashError, "Failed to delete category")
		http.Redirect(w, r, "/allcategories", http.StatusSeeOther)
		return
	}

	setFlash(w, flashSuccess, "Category deleted successfully")
	http.Redirect(w, r, "/allcategories", http.StatusSeeOther)
}

func (s *Site) AddCategories(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context(), roleAdmin)
	data := map[string]any{"Title": "Add New Category"}

	if r.Method == http.MethodGet {
		s.render(w, r, "add_category.html", data)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !parseFormWithCSRF(w, r) {
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	data["Name"] = name

	if name == "" {
		data["Flash"] = newFlash(flashError, "Please enter a category name.")
		s.renderStatus(w, r, http.StatusBadRequest, "add_category.html", data)
		return
	}

	msg, err := s.api.AddCategory(r.Context(), session.APIToken, name)
	if err != nil {
		if s.expireOnUnauthorized(w, r, err, session) {
			return
		}
		log.Printf("adding category %q: %v", name, err)
		data["Flash"] = newFlash(flashError, errorMessage(err, "Something went wrong"))
		s.renderStatus(w, r, apiStatus(err), "add_category.html", data)
		return
	}

	if msg == "" {
		msg = "Category added."
	}
	setFlash(w, flashSuccess, msg)
	http.Redirect(w, r, "/add-categories", http.StatusSeeOther)
}
