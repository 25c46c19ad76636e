package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const maxResponseSize = 8 << 20

// APIClient talks to the blogging platform's REST backend.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply from the backend. Message is the backend's
// "message" field when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// errorMessage picks the text shown to the visitor for a failed call.
func errorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// apiStatus maps a failed call onto the status the page is served with.
func apiStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

func (c *APIClient) do(ctx context.Context, method, path, token string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := requestID(ctx); id != "" {
		req.Header.Set(requestIDHeader, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	var contentType string
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, token, body, contentType, out)
}

type messageResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Auth

func (c *APIClient) Register(ctx context.Context, username, email, password string) (string, error) {
	in := map[string]string{"username": username, "email": email, "password": password}
	var out messageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/users/register", "", in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *APIClient) Login(ctx context.Context, email, password string) (string, error) {
	return c.login(ctx, "/users/login", email, password)
}

func (c *APIClient) AdminLogin(ctx context.Context, email, password string) (string, error) {
	return c.login(ctx, "/admin/login", email, password)
}

func (c *APIClient) login(ctx context.Context, path, email, password string) (string, error) {
	in := map[string]string{"email": email, "password": password}
	var out tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, path, "", in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("POST %s: response carried no token", path)
	}
	return out.Token, nil
}

// ForgotPassword asks the backend to issue an OTP and returns it as the
// backend reports it.
func (c *APIClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out struct {
		OTP any `json:"otp"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/users/forgot-password", "", map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	switch v := out.OTP.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", nil
}

func (c *APIClient) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	var out struct {
		ResetToken string `json:"resetToken"`
	}
	in := map[string]string{"email": email, "otp": otp}
	if err := c.doJSON(ctx, http.MethodPost, "/users/verify-otp", "", in, &out); err != nil {
		return "", err
	}
	if out.ResetToken == "" {
		return "", errors.New("POST /users/verify-otp: response carried no reset token")
	}
	return out.ResetToken, nil
}

func (c *APIClient) ResetPassword(ctx context.Context, resetToken, email, password, confirm string) error {
	in := map[string]string{"email": email, "password": password, "confirmPassword": confirm}
	return c.doJSON(ctx, http.MethodPost, "/users/reset-password", resetToken, in, nil)
}

// Categories

func (c *APIClient) Categories(ctx context.Context) ([]Category, error) {
	var out struct {
		Categories []Category `json:"categories"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/categories", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func (c *APIClient) AdminCategories(ctx context.Context, token string) ([]Category, error) {
	var out struct {
		Categories []Category `json:"categories"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/admin/get-categories", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func (c *APIClient) AddCategory(ctx context.Context, token, name string) (string, error) {
	var out messageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/admin/add-categories", token, map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *APIClient) DeleteCategory(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/admin/delete-categories/"+url.PathEscape(id), token, nil, nil)
}

// Blogs

type blogList struct {
	Blogs []Blog `json:"blogs"`
}

func (c *APIClient) AllBlogs(ctx context.Context, token string) ([]Blog, error) {
	var out blogList
	if err := c.doJSON(ctx, http.MethodGet, "/blog/all-blogs", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Blogs, nil
}

func (c *APIClient) UserBlogs(ctx context.Context, token, userNumber string) ([]Blog, error) {
	var out blogList
	if err := c.doJSON(ctx, http.MethodGet, "/users/blogs/"+url.PathEscape(userNumber), token, nil, &out); err != nil {
		return nil, err
	}
	return out.Blogs, nil
}

// Blog fetches one blog. The backend answers either {"blog": {...}} or
// the bare record.
func (c *APIClient) Blog(ctx context.Context, token, id string) (*Blog, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/blog/blogs/"+url.PathEscape(id), token, nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		Blog *Blog `json:"blog"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding blog %q: %w", id, err)
	}
	if wrapped.Blog != nil {
		return wrapped.Blog, nil
	}

	var blog Blog
	if err := json.Unmarshal(raw, &blog); err != nil {
		return nil, fmt.Errorf("decoding blog %q: %w", id, err)
	}
	return &blog, nil
}

type BlogForm struct {
	Title          string
	Description    string
	Category       string
	ExistingImages []string
}

func (c *APIClient) CreateBlog(ctx context.Context, token string, form BlogForm, images []Upload) error {
	body, contentType, err := encodeBlogForm(form, images)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/blog/create", token, body, contentType, nil)
}

func (c *APIClient) UpdateBlog(ctx context.Context, token, id string, form BlogForm, images []Upload) error {
	body, contentType, err := encodeBlogForm(form, images)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/blog/blogs/"+url.PathEscape(id), token, body, contentType, nil)
}

func (c *APIClient) DeleteBlog(ctx context.Context, token, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/blog/blogs/"+url.PathEscape(id), token, nil, nil)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeBlogForm(form BlogForm, images []Upload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"title", form.Title},
		{"description", form.Description},
		{"category", form.Category},
	}
	for _, img := range form.ExistingImages {
		fields = append(fields, [2]string{"existingImages", img})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}

	for _, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, quoteEscaper.Replace(img.Filename)))
		h.Set("Content-Type", img.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", fmt.Errorf("writing image %s: %w", img.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// Users

func (c *APIClient) Users(ctx context.Context, token string) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/admin/users", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *APIClient) DeleteUser(ctx context.Context, token, userNumber string) error {
	return c.doJSON(ctx, http.MethodDelete, "/admin/delete-user/"+url.PathEscape(userNumber), token, nil, nil)
}

// Comments

func (c *APIClient) Comments(ctx context.Context, blogID string) ([]Comment, error) {
	var out struct {
		Comments []Comment `json:"comments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/blog/blogs/"+url.PathEscape(blogID)+"/comments", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

func (c *APIClient) AddComment(ctx context.Context, token, blogID, text string) error {
	return c.doJSON(ctx, http.MethodPost, "/blog/blogs/"+url.PathEscape(blogID)+"/comments", token, map[string]string{"text": text}, nil)
}
