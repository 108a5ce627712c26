package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/config"
	"github.com/renderinc/quillhub/internal/ratelimit"
	"github.com/renderinc/quillhub/internal/seo"
	"github.com/renderinc/quillhub/internal/storage"
	"github.com/renderinc/quillhub/internal/web"
)

// cliAdmin is the identity the CLI acts as for admin-only reports.
var cliAdmin = &storage.User{ID: "cli", Username: "cli", Role: storage.RoleAdmin}

var (
	serveAddr   string
	serveWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Serves the pages, the JSON API and the SEO endpoints. With --worker (the
default) the background jobs run in the same process. With --worker=false run
"quillhub worker" separately; it does not open the search index, so posts it
publishes on schedule become searchable after the next "quillhub reindex" or
their next edit through the server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "Run background jobs in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	}
	proxies, err := ratelimit.ParseProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	server, err := web.NewServer(a.db, a.svc, web.Options{
		Site:      seo.NewSite(cfg.Name, cfg.BaseURL, cfg.Description),
		Limiter:   limiter,
		Proxies:   proxies,
		UndoDepth: cfg.Content.UndoDepth,
	}, logger.Named("web"))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.ReadTimeout(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Expired cache entries and idle rate-limit buckets are swept in the background.
	sweep := cfg.SweepInterval()
	g.Go(func() error { a.svc.Blog.Cache().Run(gctx, sweep); return nil })
	g.Go(func() error { a.svc.Stats.Cache().Run(gctx, sweep); return nil })
	if limiter != nil {
		g.Go(func() error { limiter.Buckets().Run(gctx, sweep); return nil })
	}

	if serveWorker {
		w, err := a.worker(cfg, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx, cfg.JobInterval()) })
	}

	fmt.Println()
	fmt.Printf("=== %s ===\n", cfg.Name)
	fmt.Printf("Server running at: http://%s\n", addr)
	fmt.Printf("Public URL:        %s\n", cfg.BaseURL)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	logger.Info("server started", zap.String("addr", addr), zap.Bool("worker", serveWorker))
	err = g.Wait()
	logger.Info("server stopped")
	return err
}

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background jobs",
	Long: `Publishes scheduled posts that are due, delivers queued newsletter
campaigns and purges expired sessions, every jobs.interval. The worker does
not open the search index and can run next to "quillhub serve".`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run a single pass and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.worker(cfg, logger)
	if err != nil {
		return err
	}
	if !workerOnce {
		logger.Info("worker started", zap.Duration("interval", cfg.JobInterval()))
		return w.Run(ctx, cfg.JobInterval())
	}

	stats, err := w.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("=== Jobs Complete ===")
	fmt.Printf("Posts published: %d\n", stats.PostsPublished)
	fmt.Printf("Campaigns:       %d (%d sent, %d failed)\n", stats.Campaigns, stats.Sent, stats.Failed)
	fmt.Printf("Sessions purged: %d\n", stats.SessionsPurged)
	fmt.Printf("Errors:          %d\n", stats.Errors)
	fmt.Printf("Duration:        %v\n", stats.Duration.Round(time.Millisecond))
	return nil
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Rebuilding search index...")
		fmt.Println()

		a, err := openApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		startTime := time.Now()
		posts, err := a.svc.Blog.Published(cmd.Context(), 0)
		if err != nil {
			return fmt.Errorf("list posts: %w", err)
		}
		fmt.Printf("Found %d published posts in database\n", len(posts))

		if err := a.idx.Rebuild(posts); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		indexCount, err := a.idx.Count()
		if err != nil {
			return fmt.Errorf("count index: %w", err)
		}

		fmt.Println()
		fmt.Println("=== Reindex Complete ===")
		fmt.Printf("Posts indexed: %d\n", indexCount)
		fmt.Printf("Duration:      %v\n", time.Since(startTime).Round(time.Millisecond))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show site statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.svc.Stats.Dashboard(cmd.Context(), cliAdmin)
		if err != nil {
			return err
		}
		indexCount, err := a.idx.Count()
		if err != nil {
			return fmt.Errorf("count index: %w", err)
		}

		fmt.Println("=== Site Statistics ===")
		fmt.Printf("Posts:            %s\n", formatCounts(d.Posts))
		fmt.Printf("Posts in index:   %d\n", indexCount)
		fmt.Printf("Users:            %s\n", formatCounts(d.Users))
		fmt.Printf("New users (7d):   %d\n", d.NewUsers)
		fmt.Printf("Comments:         %s\n", formatCounts(d.Comments))
		fmt.Printf("Views:            %d\n", d.Views)
		fmt.Printf("Likes:            %d\n", d.Likes)
		fmt.Printf("Subscribers:      %d\n", d.Subscribers)
		fmt.Printf("Affiliate clicks: %d\n", d.Clicks)
		if len(d.TopPosts) > 0 {
			fmt.Println()
			fmt.Println("Top posts:")
			for i, p := range d.TopPosts {
				fmt.Printf("  %d. %s (%d views)\n", i+1, p.Title, p.Views)
			}
		}
		return nil
	},
}

// formatCounts renders a status->count map in a stable order.
func formatCounts(counts map[string]int) string {
	order := []string{
		storage.PostPublished, storage.PostDraft, storage.PostScheduled, storage.PostArchived,
		storage.RoleReader, storage.RoleAuthor, storage.RoleAdmin,
		storage.CommentApproved, storage.CommentPending, storage.CommentSpam, storage.CommentRejected,
	}
	var parts []string
	for _, k := range order {
		if n, ok := counts[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search published posts",
	Example: `  quillhub search tomatoes
  quillhub search "raised beds"
  quillhub search 'title:compost'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		res, err := a.idx.Search(query, searchLimit, 0)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			fmt.Println("No results found")
			return nil
		}

		site := seo.NewSite(cfg.Name, cfg.BaseURL, cfg.Description)
		fmt.Printf("\nFound %d results:\n\n", res.Total)
		for i, hit := range res.Hits {
			fmt.Printf("%d. %s\n", i+1, hit.Title)
			if hit.Author != "" {
				fmt.Printf("   Author: %s\n", hit.Author)
			}
			fmt.Printf("   URL: %s\n", site.PostURL(&storage.Post{Slug: hit.Slug}))
			fmt.Printf("   Score: %.3f\n", hit.Score)
			if snippets, ok := hit.Fragments["content"]; ok && len(snippets) > 0 {
				fmt.Printf("   Preview: %s\n", snippets[0])
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
}

var adminInput accounts.RegisterInput

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Creates an admin user. The password is read from --password or, when
omitted, from QUILLHUB_ADMIN_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminInput.Password == "" {
			adminInput.Password = os.Getenv("QUILLHUB_ADMIN_PASSWORD")
		}

		a, err := openApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.svc.Accounts.CreateUser(cmd.Context(), adminInput, storage.RoleAdmin)
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("a user with email %s already exists", adminInput.Email)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Created admin %s (%s)\n", u.Username, u.Email)
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminInput.Email, "email", "", "Email address")
	createAdminCmd.Flags().StringVar(&adminInput.DisplayName, "name", "", "Display name")
	createAdminCmd.Flags().StringVar(&adminInput.Username, "username", "", "Username (derived from the name when empty)")
	createAdminCmd.Flags().StringVar(&adminInput.Password, "password", "", "Password")
	createAdminCmd.MarkFlagRequired("email")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
