package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-catalog/config"
	"library-catalog/httpapi"
	"library-catalog/library"
)

// operator is the identity CLI commands act under.
var operator = library.Identity{Username: "cli", IsAdmin: true}

type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	dbPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "library",
		Short:        "Library catalog and borrowing service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if a.dbPath != "" {
				cfg.DBDSN = a.dbPath
			}
			a.cfg = cfg
			a.log = cfg.NewLogger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path or DSN (overrides DB_DSN)")

	userCmd := &cobra.Command{Use: "user", Short: "Manage accounts"}
	userCmd.AddCommand(a.userAddCmd(), a.resetPasswordCmd())

	root.AddCommand(a.serveCmd(), userCmd, a.borrowsCmd(), a.statsCmd())
	return root
}

func (a *app) openManager() (*library.LibraryManager, error) {
	mgr, err := library.OpenLibraryManager(a.cfg.DBDriver, a.cfg.DBDSN,
		library.WithLogger(a.log),
		library.WithAdminSignup(a.cfg.AllowAdminSignup),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return mgr, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireJWTSecret(); err != nil {
				return err
			}
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if a.cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := httpapi.NewServer(mgr, httpapi.NewTokenIssuer(a.cfg.JWTSecret, a.cfg.JWTExpiry()), a.log)
			return srv.Run(ctx, ":"+a.cfg.ServerPort)
		},
	}
}

func (a *app) userAddCmd() *cobra.Command {
	var (
		email string
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := mgr.CreateUser(cmd.Context(), args[0], email, password, admin)
			if err != nil {
				return err
			}
			role := "member"
			if u.IsAdmin {
				role = "administrator"
			}
			fmt.Printf("Added %s '%s' with ID %d\n", role, u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username|id>",
		Short: "Set a new password for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			u, err := lookupUser(cmd.Context(), mgr, args[0])
			if err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("Enter new password for %s (ID: %d): ", u.Username, u.ID))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := mgr.ResetPassword(cmd.Context(), u.ID, password); err != nil {
				return err
			}
			fmt.Printf("Password successfully reset for %s (ID: %d)\n", u.Username, u.ID)
			return nil
		},
	}
}

func (a *app) borrowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrows",
		Short: "List books that are currently borrowed",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			views, err := mgr.ListActiveBorrows(cmd.Context(), operator)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				fmt.Println("No books are currently borrowed.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tUSER\tBOOK ID\tTITLE\tBORROWED\tDUE")
			for _, v := range views {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Username, v.BookExternalID, v.BookTitle,
					v.BorrowTime.Format("2006-01-02 15:04"), v.DueTime.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			s, err := mgr.AdminStats(cmd.Context(), operator)
			if err != nil {
				return err
			}
			fmt.Printf("Books:            %d\n", s.TotalBooks)
			fmt.Printf("Available copies: %d\n", s.AvailableCopies)
			fmt.Printf("Active borrows:   %d\n", s.ActiveBorrows)
			fmt.Printf("Users:            %d\n", s.TotalUsers)
			return nil
		},
	}
}

func lookupUser(ctx context.Context, mgr *library.LibraryManager, ref string) (*library.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return mgr.GetUser(ctx, id)
	}
	return mgr.GetUserByUsername(ctx, ref)
}

// readPassword reads a password with masking, or a plain line when stdin is not a terminal.
func readPassword(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}
