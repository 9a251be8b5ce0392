package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/communityfeed/internal/client"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/models"
)

var out io.Writer = os.Stdout

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

func cmdSignup(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signup")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	nickname := fs.String("n", "", "nickname (defaults to username)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.sess.Signup(ctx, *username, *password, *nickname)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "회원가입 완료: %s (%s). 로그인해주세요.\n", user.Username, user.Nickname)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.sess.Login(ctx, *username, *password); err != nil {
		return err
	}
	cur, _ := a.sess.Current()
	fmt.Fprintf(out, "%s님 환영합니다\n", cur.User.Nickname)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string) error {
	a.sess.Logout()
	fmt.Fprintln(out, "로그아웃되었습니다")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	user, err := a.api.Me(ctx, a.sess.Token())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%s\t%s\n", user.ID, user.Username, user.Nickname)
	return nil
}

func cmdPosts(ctx context.Context, a *app, args []string) error {
	fs := newFlags("posts")
	author := fs.String("author", "", "only posts by this user id")
	mine := fs.Bool("mine", false, "only my posts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mine {
		cur, ok := a.sess.Current()
		if !ok {
			return errors.New("로그인이 필요합니다")
		}
		*author = cur.User.ID
	}

	views, err := a.api.ListPosts(ctx, a.sess.Token(), *author)
	if err != nil {
		return err
	}
	printPosts(out, views)
	return nil
}

func printPosts(w io.Writer, views []models.PostView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tLIKES\tCOMMENTS\tVIEWS\tCREATED")
	for _, v := range views {
		heart := ""
		if v.LikedByMe {
			heart = " ♥"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%s\t%d\t%d\t%s\n",
			v.ID, v.Title, v.AuthorNickname, v.LikesCount, heart, v.CommentsCount, v.Views,
			v.Created.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func cmdShow(ctx context.Context, a *app, args []string) error {
	fs := newFlags("show")
	id := fs.String("id", "", "post id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("id", *id); err != nil {
		return err
	}

	v, err := a.api.GetPost(ctx, a.sess.Token(), *id)
	if err != nil {
		return err
	}
	comments, err := a.api.Comments(ctx, *id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n%s · %s · 조회 %d · 좋아요 %d\n\n%s\n", v.Title, v.AuthorNickname,
		v.Created.Local().Format("2006-01-02 15:04"), v.Views, v.LikesCount, v.Content)
	if v.Price != nil {
		fmt.Fprintf(out, "가격: %.0f\n", *v.Price)
	}
	if len(v.Hashtags) > 0 {
		fmt.Fprintln(out, "#"+strings.Join(v.Hashtags, " #"))
	}
	fmt.Fprintf(out, "\n댓글 %d\n", len(comments))
	for _, c := range comments {
		fmt.Fprintf(out, "  %s: %s\n", c.AuthorNickname, c.Content)
	}
	return nil
}

func cmdPost(ctx context.Context, a *app, args []string) error {
	fs := newFlags("post")
	var form forms.PostForm
	fs.StringVar(&form.Title, "title", "", "title")
	fs.StringVar(&form.Content, "content", "", "content")
	fs.StringVar(&form.Caption, "caption", "", "caption")
	fs.StringVar(&form.Price, "price", "", "price")
	fs.StringVar(&form.ImageURL, "image", "", "image URL")
	fs.StringVar(&form.Location, "location", "", "location")
	fs.StringVar(&form.Hashtags, "tags", "", "hashtags, e.g. \"#food #seoul\"")
	if err := fs.Parse(args); err != nil {
		return err
	}

	post, err := a.submit.SubmitPost(ctx, form)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "게시글이 등록되었습니다: "+post.ID)
	return nil
}

func cmdComment(ctx context.Context, a *app, args []string) error {
	fs := newFlags("comment")
	var form forms.CommentForm
	fs.StringVar(&form.PostID, "id", "", "post id")
	fs.StringVar(&form.Content, "text", "", "comment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := a.submit.SubmitComment(ctx, form); err != nil {
		return err
	}
	fmt.Fprintln(out, "댓글이 등록되었습니다")
	return nil
}

// cmdLike toggles the like on a post starting from the server's current state.
func cmdLike(ctx context.Context, a *app, args []string) error {
	fs := newFlags("like")
	id := fs.String("id", "", "post id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("id", *id); err != nil {
		return err
	}

	v, err := a.api.GetPost(ctx, a.sess.Token(), *id)
	if err != nil {
		return err
	}
	st := &forms.LikeState{PostID: v.ID, Liked: v.LikedByMe, Count: v.LikesCount}
	if err := a.submit.ToggleLike(ctx, st); err != nil {
		return err
	}

	state := "좋아요 취소"
	if st.Liked {
		state = "좋아요"
	}
	fmt.Fprintf(out, "%s (%d)\n", state, st.Count)
	return nil
}

// cmdWatch prints the list once and then every inserted post until interrupted.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags("watch")
	table := fs.String("table", models.TablePosts, "table to watch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := a.api.Subscribe(ctx, *table)
	if err != nil {
		return err
	}

	var tl *client.Timeline
	if *table == models.TablePosts {
		views, err := a.api.ListPosts(ctx, a.sess.Token(), "")
		if err != nil {
			return err
		}
		tl = client.NewTimeline(views)
		printPosts(out, tl.Posts())
	}

	for ev := range events {
		if tl != nil {
			if tl.Apply(ev) {
				latest := tl.Posts()[0]
				fmt.Fprintf(out, "[%s] 새 게시글 %s: %s\n", time.Now().Format("15:04:05"), latest.ID, latest.Title)
			}
			continue
		}
		fmt.Fprintf(out, "[%s] %s %s\n", ev.Created.Local().Format("15:04:05"), ev.Type, string(ev.Record))
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("실시간 연결이 끊어졌습니다")
}
