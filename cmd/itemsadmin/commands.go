package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/sethvargo/go-password/password"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/nkiryanov/itemsadmin/internal/models"
)

const (
	generatedPasswordLen = 16
	maxParallelGets      = 4

	// Commands with this annotation run even when persisted session can't be loaded
	annotationIgnoreLoadError = "ignore-load-error"
)

// Asks for missing credentials
type prompter interface {
	Credentials(username *string, password *string) error
}

type huhPrompter struct{}

func (huhPrompter) Credentials(username *string, pass *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(username).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(pass).
				Validate(huh.ValidateNotEmpty()),
		),
	).Run()
}

type cli struct {
	cfg    *Config
	deps   appDeps
	out    io.Writer
	prompt prompter

	app        *App
	jsonOutput bool

	// Set when the persisted session was removed, nothing is saved after the command
	purged bool
}

func newCLI(cfg *Config, deps appDeps, out io.Writer) *cli {
	return &cli{cfg: cfg, deps: deps, out: out, prompt: huhPrompter{}}
}

// Close releases app resources, safe to call when the app was never started
func (c *cli) Close() {
	if c.app != nil {
		c.app.Close()
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "itemsadmin",
		Short: "Manage items of the admin backend",
		Long: `itemsadmin signs in to the admin backend and manages its items.

The session (user, token and cached items) is persisted between runs.

Environment Variables:
  API_URL         Backend API URL (default: ` + defaultAPIURL + `)
  STORE           Session store: file, postgres or memory (default: file)
  SECRET_KEY      Hex key to seal the persisted session
  DATABASE_URI    Database for the postgres store`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.start,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.purged {
				return nil
			}
			return c.app.Store.Save(cmd.Context())
		},
	}

	root.PersistentFlags().AddFlagSet(c.cfg.FlagSet())
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Output JSON instead of human-readable text")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.itemsCmd(),
	)

	return root
}

// Starts the app and restores persisted session before any command
func (c *cli) start(cmd *cobra.Command, _ []string) error {
	app, err := NewApp(cmd.Context(), c.cfg, c.deps)
	if err != nil {
		return err
	}
	c.app = app

	err = app.Store.Load(cmd.Context())
	<-app.Store.Hydrated()

	switch {
	case err == nil:
		return nil
	case cmd.Annotations[annotationIgnoreLoadError] != "":
		app.Logger.Warn("Persisted session ignored", "error", err)
		return nil
	default:
		return fmt.Errorf("%w (run 'itemsadmin logout --purge' to reset)", err)
	}
}

func (c *cli) loginCmd() *cobra.Command {
	var username, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || pass == "" {
				if err := c.prompt.Credentials(&username, &pass); err != nil {
					return err
				}
			}

			state, err := c.app.Auth.Login(cmd.Context(), username, pass)
			if err != nil {
				return err
			}

			if c.jsonOutput {
				return printJSON(c.out, state.User)
			}
			_, err = fmt.Fprintf(c.out, "Logged in as %s\n", okStyle.Render(state.User.Username))
			return err
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (prompted if empty)")
	cmd.Flags().StringVar(&pass, "password", "", "Password (prompted if empty)")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var r models.UserRegistration
	var generate bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if generate {
				generated, err := password.Generate(generatedPasswordLen, 4, 0, false, false)
				if err != nil {
					return fmt.Errorf("can't generate password: %w", err)
				}
				r.Password = generated
			}

			user, err := c.app.Auth.Register(cmd.Context(), r)
			if err != nil {
				return err
			}

			if c.jsonOutput {
				return printJSON(c.out, user)
			}
			if _, err := fmt.Fprintf(c.out, "Registered %s\n", user.Username); err != nil {
				return err
			}
			if generate {
				_, err = fmt.Fprintf(c.out, "Generated password: %s\n", r.Password)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&r.Username, "username", "", "Username: 3-50 letters, digits, '_' or '-'")
	cmd.Flags().StringVar(&r.Email, "email", "", "Email")
	cmd.Flags().StringVar(&r.Password, "password", "", "Password: at least 8 chars with a letter and a digit")
	cmd.Flags().BoolVar(&generate, "generate-password", false, "Generate a random password and print it")
	cmd.MarkFlagsMutuallyExclusive("password", "generate-password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:         "logout",
		Short:       "Sign out, the local session is cleared even if the server is unreachable",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationIgnoreLoadError: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			if purge {
				if err := c.app.Store.Purge(cmd.Context()); err != nil {
					return err
				}
				c.purged = true
			}

			_, err := fmt.Fprintln(c.out, "Logged out")
			return err
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also remove cached items and the persisted session")
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user and check the server session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			active := false
			if !offline {
				var err error
				if active, err = c.app.Auth.CheckSession(cmd.Context()); err != nil {
					return err
				}
			}

			state := c.app.Store.Snapshot()
			expired := c.app.Auth.IsTokenExpired()

			if c.jsonOutput {
				out := map[string]any{"user": state.User, "token_expired": expired}
				if !offline {
					out["session_active"] = active
				}
				if !state.Token.Expiry.IsZero() {
					out["token_expiry"] = state.Token.Expiry.Format(time.RFC3339)
				}
				return printJSON(c.out, out)
			}

			if state.User == nil {
				_, err := fmt.Fprintln(c.out, "Not logged in")
				return err
			}

			status := okStyle.Render("valid")
			if expired {
				status = warnStyle.Render("expired")
			}
			_, err := fmt.Fprintf(c.out, "%s <%s>\nToken: %s", state.User.Username, state.User.Email, status)
			if err == nil && !state.Token.Expiry.IsZero() {
				_, err = fmt.Fprintf(c.out, " (until %s)", state.Token.Expiry.Local().Format(time.DateTime))
			}
			if err == nil {
				_, err = fmt.Fprintln(c.out)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Do not ask the server whether the session is active")
	return cmd
}

func (c *cli) itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage items",
	}

	cmd.AddCommand(
		c.itemsListCmd(),
		c.itemsGetCmd(),
		c.itemsCreateCmd(),
		c.itemsUpdateCmd(),
		c.itemsDeleteCmd(),
	)
	return cmd
}

func (c *cli) itemsListCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, cached for 30 seconds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if refresh {
				c.app.Items.Invalidate(cmd.Context())
			}
			if _, err := c.app.Items.FetchItems(cmd.Context()); err != nil {
				return err
			}
			return printItems(c.out, c.app.Items.Items(), c.jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cache and fetch from the server")
	return cmd
}

func (c *cli) itemsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID...",
		Short: "Show items by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			got, err := c.getItems(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return printItems(c.out, got, c.jsonOutput)
		},
	}
}

// Fetches items in parallel, result keeps ids order
func (c *cli) getItems(ctx context.Context, ids []models.ID) ([]models.Item, error) {
	got := make([]models.Item, len(ids))

	p := pool.New().
		WithMaxGoroutines(maxParallelGets).
		WithContext(ctx)

	for i, id := range ids {
		p.Go(func(ctx context.Context) error {
			item, err := c.app.Items.GetItem(ctx, id)
			if err != nil {
				return err
			}
			got[i] = item
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return got, nil
}

func (c *cli) itemsCreateCmd() *cobra.Command {
	var input models.ItemInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			item, err := c.app.Items.CreateItem(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printItems(c.out, []models.Item{item}, c.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&input.Name, "name", "", "Item name")
	cmd.Flags().StringVar(&input.Description, "description", "", "Item description")
	return cmd
}

func (c *cli) itemsUpdateCmd() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update item fields, only given flags are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var patch models.ItemPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if patch.Name == nil && patch.Description == nil {
				return errors.New("nothing to update, pass --name or --description")
			}

			item, err := c.app.Items.UpdateItem(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			return printItems(c.out, []models.Item{item}, c.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	return cmd
}

func (c *cli) itemsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := c.app.Items.DeleteItem(cmd.Context(), id); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.out, "Deleted item %s\n", id)
			return err
		},
	}
}

// Item ids are integers or opaque strings, only blank ones are rejected
func parseID(arg string) (models.ID, error) {
	id := models.ID(strings.TrimSpace(arg))
	if id.IsZero() {
		return "", fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func parseIDs(args []string) ([]models.ID, error) {
	ids := make([]models.ID, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
