// authcli is a small console consumer of the session stack, playing the
// role the page layer plays in a browser client: it logs in and out on
// user action, asks the session manager for a token before API calls, and
// redirects to sign-in (here: prints and exits) when the session expires.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"authkit/api"
	"authkit/internal/config"
	"authkit/session"
	"authkit/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return nil
	}

	_ = godotenv.Load()
	c := config.New()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	credStore, err := openStore(c)
	if err != nil {
		return err
	}
	apiClient, err := api.NewClient(c.GetBaseURL(),
		api.WithTimeout(c.GetRequestTimeout()),
		api.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	manager, err := session.NewManager(apiClient, credStore,
		session.WithSafetyMargin(c.GetSafetyMargin()),
		session.WithRefreshTimeout(c.GetRefreshTimeout()),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	manager.OnSessionExpired(func() {
		fmt.Fprintln(os.Stderr, "session expired, sign in again with: authcli login")
		os.Exit(1)
	})

	ctx := context.Background()
	switch args[0] {
	case "login":
		if len(args) != 3 {
			return fmt.Errorf("usage: authcli login <identifier> <secret>")
		}
		profile, err := manager.Login(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s <%s>\n", profile.DisplayName, profile.Email)
		return nil
	case "logout":
		manager.Logout(ctx)
		fmt.Println("signed out")
		return nil
	case "me":
		if err := manager.Resume(ctx); err != nil {
			return err
		}
		profile, err := manager.Profile(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> (id %s)\n", profile.DisplayName, profile.Email, profile.ID)
		return nil
	case "token":
		if err := manager.Resume(ctx); err != nil {
			return err
		}
		accessToken, err := manager.GetValidAccessToken(ctx)
		if err != nil {
			return err
		}
		fmt.Println(accessToken)
		return nil
	case "status":
		fmt.Println(manager.State())
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openStore(c config.Config) (store.Repo, error) {
	path := c.GetCredentialFile()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".authkit", "credentials.json")
	}
	return store.NewFileStore(path)
}

func usage() {
	fmt.Println(`usage: authcli <command>

commands:
  login <identifier> <secret>  sign in and persist the session
  logout                       sign out locally and notify the server
  me                           show the signed-in user's profile
  token                        print a valid access token (refreshing if needed)
  status                       show the session state`)
}
