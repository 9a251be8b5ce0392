package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/communityfeed/internal/models"
)

// MockStore simulates the table store in memory for testing.
type MockStore struct {
	mu sync.Mutex

	Users    map[string]models.User
	Posts    map[string]models.Post
	Comments map[string][]models.Comment
	Likes    map[string]map[string]models.Like // post_id -> user_id -> like

	ShouldFail bool            // every call fails
	FailCounts map[string]bool // count calls touching any of these post IDs fail

	CountCalls  int // CountLikes + CountComments invocations
	CreateCalls int // CreateUser invocations

	counter int
}

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Users:      make(map[string]models.User),
		Posts:      make(map[string]models.Post),
		Comments:   make(map[string][]models.Comment),
		Likes:      make(map[string]map[string]models.Like),
		FailCounts: make(map[string]bool),
	}
}

func (m *MockStore) Close() {}

func (m *MockStore) fail(op string) error {
	if m.ShouldFail {
		return errors.New("mock: " + op + " failed")
	}
	return nil
}

// --- Users ---

func (m *MockStore) CreateUser(_ context.Context, user models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if err := m.fail("create user"); err != nil {
		return models.User{}, err
	}
	for _, u := range m.Users {
		if u.Username == user.Username {
			return models.User{}, ErrUsernameTaken
		}
	}
	if user.ID == "" {
		m.counter++
		user.ID = fmt.Sprintf("user_%d", m.counter)
	}
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}
	m.Users[user.ID] = user
	return user, nil
}

func (m *MockStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("get user by username"); err != nil {
		return nil, err
	}
	for _, u := range m.Users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("get user by id"); err != nil {
		return nil, err
	}
	u, ok := m.Users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MockStore) GetUsersByIDs(_ context.Context, userIDs []string) (map[string]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("get users by ids"); err != nil {
		return nil, err
	}
	res := make(map[string]models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := m.Users[id]; ok {
			u.PasswordHash = nil
			res[id] = u
		}
	}
	return res, nil
}

// --- Posts ---

func (m *MockStore) AddPost(_ context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("add post"); err != nil {
		return err
	}
	m.Posts[post.ID] = post
	return nil
}

func (m *MockStore) GetPost(_ context.Context, postID string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("get post"); err != nil {
		return nil, err
	}
	p, ok := m.Posts[postID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListPosts returns posts newest-first, ties broken by ID.
func (m *MockStore) ListPosts(_ context.Context, authorID string) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("list posts"); err != nil {
		return nil, err
	}
	var res []models.Post
	for _, p := range m.Posts {
		if authorID == "" || p.AuthorID == authorID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Created.Equal(res[j].Created) {
			return res[i].Created.After(res[j].Created)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MockStore) IncrementViews(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("increment views"); err != nil {
		return err
	}
	p, ok := m.Posts[postID]
	if !ok {
		return ErrNotFound
	}
	p.Views++
	m.Posts[postID] = p
	return nil
}

// --- Comments ---

func (m *MockStore) AddComment(_ context.Context, c models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("add comment"); err != nil {
		return err
	}
	m.Comments[c.PostID] = append(m.Comments[c.PostID], c)
	return nil
}

func (m *MockStore) ListComments(_ context.Context, postID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("list comments"); err != nil {
		return nil, err
	}
	res := append([]models.Comment(nil), m.Comments[postID]...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Created.Before(res[j].Created) })
	return res, nil
}

func (m *MockStore) CountComments(_ context.Context, postIDs []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CountCalls++
	if err := m.countFailure("count comments", postIDs); err != nil {
		return nil, err
	}
	res := make(map[string]int64)
	for _, id := range postIDs {
		if n := len(m.Comments[id]); n > 0 {
			res[id] = int64(n)
		}
	}
	return res, nil
}

// --- Likes ---

func (m *MockStore) AddLike(_ context.Context, like models.Like) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("add like"); err != nil {
		return false, err
	}
	byUser, ok := m.Likes[like.PostID]
	if !ok {
		byUser = make(map[string]models.Like)
		m.Likes[like.PostID] = byUser
	}
	if _, exists := byUser[like.UserID]; exists {
		return false, nil
	}
	byUser[like.UserID] = like
	return true, nil
}

func (m *MockStore) RemoveLike(_ context.Context, postID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("remove like"); err != nil {
		return false, err
	}
	if _, exists := m.Likes[postID][userID]; !exists {
		return false, nil
	}
	delete(m.Likes[postID], userID)
	return true, nil
}

func (m *MockStore) CountLikes(_ context.Context, postIDs []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CountCalls++
	if err := m.countFailure("count likes", postIDs); err != nil {
		return nil, err
	}
	res := make(map[string]int64)
	for _, id := range postIDs {
		if n := len(m.Likes[id]); n > 0 {
			res[id] = int64(n)
		}
	}
	return res, nil
}

func (m *MockStore) LikedBy(_ context.Context, userID string, postIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.countFailure("liked by", postIDs); err != nil {
		return nil, err
	}
	res := make(map[string]bool)
	for _, id := range postIDs {
		if _, ok := m.Likes[id][userID]; ok {
			res[id] = true
		}
	}
	return res, nil
}

func (m *MockStore) countFailure(op string, postIDs []string) error {
	if err := m.fail(op); err != nil {
		return err
	}
	for _, id := range postIDs {
		if m.FailCounts[id] {
			return fmt.Errorf("mock: %s failed for post %s", op, id)
		}
	}
	return nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

var errMockFail = errors.New("mock store failed")

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) CreateUser(context.Context, models.User) (models.User, error) {
	return models.User{}, errMockFail
}

func (m *MockStoreFail) GetUserByUsername(context.Context, string) (*models.User, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) GetUserByID(context.Context, string) (*models.User, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) GetUsersByIDs(context.Context, []string) (map[string]models.User, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) AddPost(context.Context, models.Post) error { return errMockFail }

func (m *MockStoreFail) GetPost(context.Context, string) (*models.Post, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) ListPosts(context.Context, string) ([]models.Post, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) IncrementViews(context.Context, string) error { return errMockFail }

func (m *MockStoreFail) AddComment(context.Context, models.Comment) error { return errMockFail }

func (m *MockStoreFail) ListComments(context.Context, string) ([]models.Comment, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) CountComments(context.Context, []string) (map[string]int64, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) AddLike(context.Context, models.Like) (bool, error) {
	return false, errMockFail
}

func (m *MockStoreFail) RemoveLike(context.Context, string, string) (bool, error) {
	return false, errMockFail
}

func (m *MockStoreFail) CountLikes(context.Context, []string) (map[string]int64, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) LikedBy(context.Context, string, []string) (map[string]bool, error) {
	return nil, errMockFail
}
