package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"example.com/communityfeed/internal/client"
	"example.com/communityfeed/internal/forms"
	config "example.com/communityfeed/internal/init"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/session"
)

type app struct {
	api    *client.Client
	sess   *session.Store
	submit *forms.Submitter
}

type command struct {
	route string // guarded route, empty for public commands
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"signup":  {usage: "signup -u <username> -p <password> [-n <nickname>]", run: cmdSignup},
	"login":   {usage: "login -u <username> -p <password>", run: cmdLogin},
	"logout":  {usage: "logout", run: cmdLogout},
	"whoami":  {route: "/me", usage: "whoami", run: cmdWhoami},
	"posts":   {usage: "posts [-author <user id>] [-mine]", run: cmdPosts},
	"show":    {usage: "show -id <post id>", run: cmdShow},
	"post":    {route: "/posts/new", usage: "post -title <t> -content <c> [-price n] [-image url] [-location l] [-tags \"#a #b\"]", run: cmdPost},
	"comment": {route: "/posts/{id}/comments", usage: "comment -id <post id> -text <content>", run: cmdComment},
	"like":    {route: "/posts/{id}/like", usage: "like -id <post id>", run: cmdLike},
	"watch":   {usage: "watch [-table posts]", run: cmdWatch},
}

func main() {
	cfg := config.Init()
	// stdout carries command output; only errors are logged
	logger.SetLevel("ERROR")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	api := client.New(cfg.APIURL, cfg.RealtimeURL)
	defer api.Close()

	sess := session.New(api, session.NewFilePersister(cfg.SessionDir), cfg.SessionKey)
	sess.Restore()

	a := &app{
		api:    api,
		sess:   sess,
		submit: forms.NewSubmitter(sess, api, forms.PostRules{RequirePrice: cfg.PostPriceRequired}),
	}

	if cmd.route != "" && sess.Guard(cmd.route) == session.LoginPath {
		fmt.Fprintln(os.Stderr, session.ErrNotAuthenticated.Error()+" (boardctl login)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: boardctl <command> [flags]")
	for _, name := range []string{"signup", "login", "logout", "whoami", "posts", "show", "post", "comment", "like", "watch"} {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
}
