package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"example.com/communityfeed/internal/auth"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/session"
	"resty.dev/v3"
)

var logg = logger.New()

var ErrNotFound = errors.New("게시글을 찾을 수 없습니다")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return e.Message
}

// Client talks to the community feed API. It implements session.Authenticator
// and forms.Backend.
type Client struct {
	client      *resty.Client
	realtimeURL string
}

func New(baseURL, realtimeURL string) *Client {
	client := resty.NewWithTransportSettings(&resty.TransportSettings{
		DialerTimeout:         2 * time.Second,
		DialerKeepAlive:       30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	})
	client.SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")

	return &Client{client: client, realtimeURL: realtimeURL}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) r(ctx context.Context) *resty.Request {
	return c.client.R().WithContext(ctx)
}

func (c *Client) authed(ctx context.Context, token string) *resty.Request {
	return c.r(ctx).SetAuthToken(token)
}

// check turns transport failures and non-2xx responses into errors.
func check(res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !res.IsError() {
		return nil
	}

	apiErr := &APIError{Status: res.StatusCode()}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if json.Unmarshal([]byte(res.String()), &body) == nil {
		apiErr.Message = body.Error
		apiErr.Field = body.Field
	}
	return apiErr
}

// --- session.Authenticator ---

func (c *Client) Login(ctx context.Context, username, password string) (*models.Session, error) {
	res, err := c.r(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&models.Session{}).
		Post("/login")
	if err := check(res, err); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	return res.Result().(*models.Session), nil
}

func (c *Client) Signup(ctx context.Context, username, password, nickname string) (*models.User, error) {
	res, err := c.r(ctx).
		SetBody(map[string]string{"username": username, "password": password, "nickname": nickname}).
		SetResult(&models.User{}).
		Post("/signup")
	if err := check(res, err); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusConflict:
				return nil, auth.ErrUsernameTaken
			case http.StatusBadRequest:
				for _, known := range []error{auth.ErrInvalidUsername, auth.ErrInvalidPassword, auth.ErrInvalidNickname} {
					if apiErr.Message == known.Error() {
						return nil, known
					}
				}
			}
		}
		return nil, err
	}
	return res.Result().(*models.User), nil
}

func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	res, err := c.authed(ctx, token).
		SetResult(&models.User{}).
		Get("/me")
	if err := check(res, err); err != nil {
		return nil, mutationError(err)
	}
	return res.Result().(*models.User), nil
}

// --- Reads ---

// ListPosts fetches the aggregated list; authorID and token are optional.
func (c *Client) ListPosts(ctx context.Context, token, authorID string) ([]models.PostView, error) {
	req := c.r(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	if authorID != "" {
		req.SetQueryParam("author", authorID)
	}
	var views []models.PostView
	res, err := req.SetResult(&views).Get("/posts")
	if err := check(res, err); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *Client) GetPost(ctx context.Context, token, postID string) (*models.PostView, error) {
	req := c.r(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	res, err := req.
		SetPathParam("id", postID).
		SetResult(&models.PostView{}).
		Get("/posts/{id}")
	if err := check(res, err); err != nil {
		return nil, notFound(err)
	}
	return res.Result().(*models.PostView), nil
}

func (c *Client) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	var comments []models.Comment
	res, err := c.r(ctx).
		SetPathParam("id", postID).
		SetResult(&comments).
		Get("/posts/{id}/comments")
	if err := check(res, err); err != nil {
		return nil, err
	}
	return comments, nil
}

// --- forms.Backend ---

func (c *Client) CreatePost(ctx context.Context, token string, form forms.PostForm) (*models.Post, error) {
	res, err := c.authed(ctx, token).
		SetBody(form).
		SetResult(&models.Post{}).
		Post("/posts")
	if err := check(res, err); err != nil {
		return nil, mutationError(err)
	}
	return res.Result().(*models.Post), nil
}

func (c *Client) AddComment(ctx context.Context, token string, form forms.CommentForm) (*models.Comment, error) {
	res, err := c.authed(ctx, token).
		SetPathParam("id", form.PostID).
		SetBody(form).
		SetResult(&models.Comment{}).
		Post("/posts/{id}/comments")
	if err := check(res, err); err != nil {
		return nil, mutationError(notFound(err))
	}
	return res.Result().(*models.Comment), nil
}

func (c *Client) Like(ctx context.Context, token, postID string) (models.LikeResult, error) {
	return c.like(ctx, token, postID, http.MethodPost)
}

func (c *Client) Unlike(ctx context.Context, token, postID string) (models.LikeResult, error) {
	return c.like(ctx, token, postID, http.MethodDelete)
}

func (c *Client) like(ctx context.Context, token, postID, method string) (models.LikeResult, error) {
	res, err := c.authed(ctx, token).
		SetPathParam("id", postID).
		SetResult(&models.LikeResult{}).
		Execute(method, "/posts/{id}/like")
	if err := check(res, err); err != nil {
		return models.LikeResult{}, mutationError(notFound(err))
	}
	return *res.Result().(*models.LikeResult), nil
}

func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// mutationError surfaces field errors and expired sessions as the types the
// submission flow understands.
func mutationError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		return session.ErrNotAuthenticated
	case apiErr.Status == http.StatusBadRequest && apiErr.Field != "":
		return &forms.ValidationError{Field: apiErr.Field, Message: apiErr.Message}
	}
	return err
}

// realtimeEndpoint builds the websocket URL for a table.
func (c *Client) realtimeEndpoint(table string) (string, error) {
	u, err := url.Parse(c.realtimeURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/realtime"
	u.RawQuery = url.Values{"table": {table}}.Encode()
	return u.String(), nil
}
