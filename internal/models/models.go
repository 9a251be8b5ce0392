package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	ProfileImage string    `json:"profile_image,omitempty"`
	PasswordHash []byte    `json:"-"`
	Created      time.Time `json:"created"`
}

// Session is the client-local record of who is signed in.
type Session struct {
	User    User      `json:"user"`
	Token   string    `json:"token"`
	Created time.Time `json:"created"`
}

type Post struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"author_id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Caption  string    `json:"caption,omitempty"`
	Price    *float64  `json:"price,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Location string    `json:"location,omitempty"`
	Hashtags []string  `json:"hashtags,omitempty"`
	Views    int64     `json:"views"`
	Created  time.Time `json:"created"`
}

type Comment struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	AuthorID       string    `json:"author_id"`
	AuthorNickname string    `json:"author_nickname,omitempty"`
	Content        string    `json:"content"`
	Created        time.Time `json:"created"`
}

// Like is the (post, user) join row. At most one exists per pair.
type Like struct {
	PostID  string    `json:"post_id"`
	UserID  string    `json:"user_id"`
	Created time.Time `json:"created"`
}

// PostView is a Post merged with its author and derived counts for list rendering.
type PostView struct {
	Post
	AuthorNickname string `json:"author_nickname"`
	LikesCount     int64  `json:"likes_count"`
	CommentsCount  int64  `json:"comments_count"`
	LikedByMe      bool   `json:"liked_by_me"`
}

// LikeResult carries the authoritative like state after a like or unlike.
type LikeResult struct {
	PostID     string `json:"post_id"`
	Liked      bool   `json:"liked"`
	LikesCount int64  `json:"likes_count"`
}

type EventType string

const (
	EventPostCreated    EventType = "post_created"
	EventCommentCreated EventType = "comment_created"
	EventLikeAdded      EventType = "like_added"
	EventLikeRemoved    EventType = "like_removed"
)

// Event is a change notification published after a successful mutation.
type Event struct {
	Type    EventType       `json:"type"`
	Table   string          `json:"table"`
	Record  json.RawMessage `json:"record"`
	Created time.Time       `json:"created"`
}

// Table names used by events and realtime subscriptions.
const (
	TablePosts    = "posts"
	TableComments = "comments"
	TableLikes    = "likes"
)
