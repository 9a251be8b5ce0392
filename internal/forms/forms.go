package forms

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"example.com/communityfeed/internal/models"
	"github.com/samber/lo"
)

const (
	MaxTitleLen   = 100
	MaxContentLen = 2000
	MaxCommentLen = 500
	MaxHashtags   = 10
)

// ValidationError is an inline form error. It never involves the network.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// PostRules switches the per-app differences of the post form.
type PostRules struct {
	RequirePrice bool
}

// PostForm holds the raw field values as typed by the user.
type PostForm struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Caption  string `json:"caption,omitempty"`
	Price    string `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Location string `json:"location,omitempty"`
	Hashtags string `json:"hashtags,omitempty"`
}

func (f PostForm) Validate(rules PostRules) error {
	_, err := f.Build(rules)
	return err
}

// Build validates the form and returns the post draft without id, author or timestamps.
func (f PostForm) Build(rules PostRules) (models.Post, error) {
	title := strings.TrimSpace(f.Title)
	content := strings.TrimSpace(f.Content)

	switch {
	case title == "":
		return models.Post{}, invalid("title", "제목을 입력해주세요")
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return models.Post{}, invalid("title", fmt.Sprintf("제목은 %d자 이하여야 합니다", MaxTitleLen))
	case content == "":
		return models.Post{}, invalid("content", "내용을 입력해주세요")
	case utf8.RuneCountInString(content) > MaxContentLen:
		return models.Post{}, invalid("content", fmt.Sprintf("내용은 %d자 이하여야 합니다", MaxContentLen))
	}

	price, err := parsePrice(f.Price, rules.RequirePrice)
	if err != nil {
		return models.Post{}, err
	}

	imageURL := strings.TrimSpace(f.ImageURL)
	if imageURL != "" {
		u, err := url.Parse(imageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return models.Post{}, invalid("image_url", "이미지 주소는 http(s) URL이어야 합니다")
		}
	}

	tags := ParseHashtags(f.Hashtags)
	if len(tags) > MaxHashtags {
		return models.Post{}, invalid("hashtags", fmt.Sprintf("해시태그는 %d개까지 입력할 수 있습니다", MaxHashtags))
	}

	return models.Post{
		Title:    title,
		Content:  content,
		Caption:  strings.TrimSpace(f.Caption),
		Price:    price,
		ImageURL: imageURL,
		Location: strings.TrimSpace(f.Location),
		Hashtags: tags,
	}, nil
}

func parsePrice(raw string, required bool) (*float64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		if required {
			return nil, invalid("price", "가격을 입력해주세요")
		}
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, invalid("price", "가격은 0 이상의 숫자여야 합니다")
	}
	return &v, nil
}

// ParseHashtags accepts "#go #feed", "go, feed" or a mix and returns unique tags without '#'.
func ParseHashtags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	tags := lo.FilterMap(fields, func(f string, _ int) (string, bool) {
		t := strings.TrimLeft(strings.TrimSpace(f), "#")
		return t, t != ""
	})
	return lo.Uniq(tags)
}

// CommentForm is the comment box under a post.
type CommentForm struct {
	PostID  string `json:"post_id"`
	Content string `json:"content"`
}

func (f CommentForm) Validate() error {
	content := strings.TrimSpace(f.Content)
	switch {
	case strings.TrimSpace(f.PostID) == "":
		return invalid("post_id", "게시글을 찾을 수 없습니다")
	case content == "":
		return invalid("content", "댓글 내용을 입력해주세요")
	case utf8.RuneCountInString(content) > MaxCommentLen:
		return invalid("content", fmt.Sprintf("댓글은 %d자 이하여야 합니다", MaxCommentLen))
	}
	return nil
}
