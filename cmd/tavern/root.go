package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/model/session"
	"github.com/zhouzirui/z-tavern/client/internal/service/auth"
	"github.com/zhouzirui/z-tavern/client/internal/state"
)

// Version is set via ldflags.
var Version = "dev"

type cli struct {
	app     *app
	verbose bool
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "tavern",
		Short:        "Z Tavern client: sign in, pick a character and chat",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !c.verbose && cmd.Name() != "serve" {
				log.SetOutput(io.Discard)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			c.app, err = newApp(cmd.Context(), cfg)
			return err
		},
	}
	// 命令出错时也要释放存储与录音设备。
	cobra.OnFinalize(func() {
		if c.app == nil {
			return
		}
		if err := c.app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
		c.app = nil
	})
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "print request logs")

	root.AddCommand(
		c.loginCommand(),
		c.registerCommand(),
		c.guestCommand(),
		c.logoutCommand(),
		c.statusCommand(),
		c.charactersCommand(),
		c.chatCommand(),
		c.voiceCommand(),
		c.serveCommand(),
	)
	return root
}

func (c *cli) loginCommand() *cobra.Command {
	var creds session.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with username and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				password, err := promptPassword("密码: ")
				if err != nil {
					return err
				}
				creds.Password = password
			}
			if _, err := c.app.auth.Login(cmd.Context(), creds); err != nil {
				return describeAuthError(err)
			}
			snap := c.app.authState.Hydrate(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "已登录: %s\n", displayName(snap))
			return nil
		},
	}
	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func (c *cli) registerCommand() *cobra.Command {
	var data session.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if data.Password == "" {
				password, err := promptPassword("密码: ")
				if err != nil {
					return err
				}
				data.Password = password
			}
			resp, err := c.app.auth.Register(cmd.Context(), data)
			if err != nil {
				return describeAuthError(err)
			}
			out := cmd.OutOrStdout()
			if resp.Token == "" {
				fmt.Fprintln(out, "注册成功，请使用 tavern login 登录")
				return nil
			}
			c.app.authState.Hydrate(cmd.Context())
			fmt.Fprintf(out, "注册成功，已登录: %s\n", data.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&data.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&data.Password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&data.Email, "email", "", "email address")
	return cmd
}

func (c *cli) guestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Start a guest trial session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.app.auth.GuestLogin(cmd.Context()); err != nil {
				return describeAuthError(err)
			}
			snap := c.app.authState.Hydrate(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "游客模式，剩余试用次数: %d\n", snap.TrialCount)
			return nil
		},
	}
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			c.app.authState.Clear()
			c.app.chatState.ClearCurrentSession()
			fmt.Fprintln(cmd.OutOrStdout(), "已退出登录")
			return nil
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := c.app.authState.Snapshot()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "mode\t%s\n", snap.Mode)
			fmt.Fprintf(w, "user\t%s\n", displayName(snap))
			if snap.Guest {
				fmt.Fprintf(w, "trials left\t%d\n", snap.TrialCount)
			}
			if err := c.app.authState.Validate(); err != nil {
				fmt.Fprintf(w, "warning\t%v\n", err)
			}

			info, err := c.app.auth.TokenInfo(cmd.Context())
			switch {
			case errors.Is(err, auth.ErrNoToken):
			case errors.Is(err, auth.ErrOpaqueToken):
				fmt.Fprintf(w, "token\topaque\n")
			case err != nil:
				fmt.Fprintf(w, "token\tunreadable: %v\n", err)
			default:
				if info.Subject != "" {
					fmt.Fprintf(w, "subject\t%s\n", info.Subject)
				}
				if !info.ExpiresAt.IsZero() {
					fmt.Fprintf(w, "expires\t%s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
				}
			}
			return w.Flush()
		},
	}
}

func (c *cli) charactersCommand() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "characters",
		Short: "List or search characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.app.requireLogin(ctx); err != nil {
				return err
			}

			if strings.TrimSpace(query) == "" {
				c.app.chatState.LoadCharacters(ctx)
			} else {
				c.app.chatState.SearchCharacters(ctx, query)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tDESCRIPTION")
			for _, ch := range c.app.chatState.Snapshot().Characters {
				fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\n", ch.ID, ch.Avatar, ch.Name, ch.Category, ch.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "filter by name or description")
	return cmd
}

func describeAuthError(err error) error {
	var rejected *auth.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return errors.New(rejected.Message)
	}
	return err
}

func displayName(snap state.AuthSnapshot) string {
	switch {
	case snap.User != nil:
		return snap.User.Username
	case snap.Guest:
		return "游客"
	case snap.LoggedIn:
		return "(unknown)"
	default:
		return "-"
	}
}

func promptPassword(prompt string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	return line.PasswordPrompt(prompt)
}
