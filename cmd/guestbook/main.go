package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/serandev/seran-sjune/internal/content"
	"github.com/serandev/seran-sjune/internal/guestbook"
	"github.com/serandev/seran-sjune/internal/logging"
	"github.com/serandev/seran-sjune/internal/messages"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix         = "GUESTBOOK"
	defaultAPIURL     = "http://localhost:8080"
	sessionFileName   = "session.json"
	displayTimeLayout = "2006. 1. 2. 15:04"
)

var displayZone = time.FixedZone("KST", 9*60*60)

func main() {
	if err := newRootCommand(viper.New(), os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(settings *viper.Viper, out io.Writer) *cobra.Command {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "guestbook",
		Short:         "Read and sign the wedding guestbook",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().String("api-url", defaultAPIURL, "Guestbook API base URL")
	rootCmd.PersistentFlags().String("session-file", defaultSessionFile(), "Where the login session is stored")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	for _, flag := range []string{"api-url", "session-file", "log-level"} {
		if err := settings.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a Kakao access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				user, err := client.Login(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", user.Nickname, user.ID)
				return nil
			})
		},
	}
	loginCmd.Flags().String("kakao-token", "", "Kakao access token (or GUESTBOOK_KAKAO_TOKEN)")
	if err := settings.BindPFlag("kakao-token", loginCmd.Flags().Lookup("kakao-token")); err != nil {
		panic(err)
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				if err := client.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				user, ok := client.User()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), guestbook.LoggedOut)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", guestbook.LoggedIn, user.Nickname, user.ID)
				if remaining := client.CooldownRemaining(); remaining > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "next post in %ds\n", int(remaining.Round(time.Second).Seconds()))
				}
				return nil
			})
		},
	}

	postCmd := &cobra.Command{
		Use:   "post <message>",
		Short: "Leave a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				created, err := client.Post(ctx, strings.Join(args, " "))
				if err != nil {
					return describePostError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted %s\n", created.ID)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print all messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				list, err := client.Messages(ctx)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the guestbook live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, settings, func(ctx context.Context, client *guestbook.Client) error {
				return client.Watch(ctx, func(list []messages.MessageWithUser) {
					fmt.Fprintf(cmd.OutOrStdout(), "--- %d messages ---\n", len(list))
					printMessages(cmd.OutOrStdout(), list)
				})
			})
		},
	}

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, postCmd, listCmd, watchCmd)
	return rootCmd
}

// withClient builds a client from settings, restores the stored session and runs fn until interrupted.
func withClient(cmd *cobra.Command, settings *viper.Viper, fn func(context.Context, *guestbook.Client) error) error {
	logger, err := logging.NewLogger("guestbook", settings.GetString("log-level"), "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := guestbook.NewFileStore(settings.GetString("session-file"))
	if err != nil {
		return err
	}

	var tokens guestbook.TokenSource
	if token := strings.TrimSpace(settings.GetString("kakao-token")); token != "" {
		tokens = guestbook.StaticToken(token)
	}

	client, err := guestbook.New(guestbook.Config{
		BaseURL: settings.GetString("api-url"),
		Store:   store,
		Tokens:  tokens,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if _, err := client.Restore(); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, client)
}

func describePostError(err error) error {
	var rateLimited *guestbook.RateLimitError
	switch {
	case errors.As(err, &rateLimited):
		return fmt.Errorf("please wait %d seconds before posting again", rateLimited.RemainingSeconds)
	case errors.Is(err, guestbook.ErrNotLoggedIn):
		return fmt.Errorf("log in first: guestbook login --kakao-token <token>")
	case errors.Is(err, content.ErrValidation):
		return fmt.Errorf("message rejected: %s", content.Reason(err))
	default:
		return err
	}
}

func printMessages(out io.Writer, list []messages.MessageWithUser) {
	if len(list) == 0 {
		fmt.Fprintln(out, "no messages yet")
		return
	}
	for _, message := range list {
		fmt.Fprintf(out, "[%s] %s: %s\n",
			message.CreatedAt.In(displayZone).Format(displayTimeLayout),
			message.User.Nickname,
			message.Content)
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return sessionFileName
	}
	return filepath.Join(dir, "guestbook", sessionFileName)
}
