package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shorts-relay/internal/app"
	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     *logger.Logger
	a       *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shorts-relay",
		Short: "Republish YouTube shorts on a per-channel schedule",
		Long: `shorts-relay downloads shorts from source channels and uploads them to
destination channels at configured daily slots, respecting per-day quotas.`,
		PersistentPreRunE: initializeApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				_ = a.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(mappingsCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(oauthCmd())
	rootCmd.AddCommand(trackerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	log = logger.New(logger.Config{
		Level:  logLevel,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	a, err = app.New(cmd.Context(), cfg, log)
	return err
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC1123)
}

// ============ PIPELINE COMMANDS ============

func triggerCmd() *cobra.Command {
	var mappingID uint

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Process the next queued item now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var scope *uint
			if mappingID > 0 {
				scope = &mappingID
			}

			out := a.Uploader.ProcessNext(ctx, scope)

			fmt.Println("\n=== Pipeline Result ===")
			fmt.Printf("Success: %t\n", out.OK)
			fmt.Printf("Reason: %s\n", out.Reason)
			if out.ItemID > 0 {
				fmt.Printf("Item: %d\n", out.ItemID)
			}
			if out.ExternalID != "" {
				fmt.Printf("Uploaded: https://www.youtube.com/shorts/%s\n", out.ExternalID)
			}
			if out.Message != "" {
				fmt.Printf("Message: %s\n", out.Message)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&mappingID, "mapping", 0, "mapping id (default: global pool)")
	return cmd
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one trigger loop tick at the current minute",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			res := a.Loop().Tick(ctx, time.Now())

			if res.Skipped {
				fmt.Println("Automation is disabled, tick skipped")
				return nil
			}
			fmt.Printf("\n=== Tick Results (%d jobs) ===\n\n", len(res.Jobs))
			for i, job := range res.Jobs {
				fmt.Printf("%s", job.Key)
				if i < len(res.Outcomes) {
					fmt.Printf(" -> %s", res.Outcomes[i].Reason)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state and remaining quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			now := time.Now()

			state, err := a.Repo.GetRunState(ctx)
			if err != nil {
				return err
			}
			global, err := a.Repo.GetGlobalConfig(ctx)
			if err != nil {
				return err
			}
			tz, err := slots.SanitizeZone(global.SchedulerTimezone)
			if err != nil {
				fmt.Printf("Warning: %v, using %s\n", err, tz)
			}
			effective := *global
			effective.SchedulerTimezone = tz

			quota := slots.NewQuota(a.Repo)
			remaining, err := quota.GlobalRemaining(ctx, &effective, now)
			if err != nil {
				return err
			}

			fmt.Println("\n=== Scheduler Status ===")
			fmt.Printf("Automation: %t\n", global.AutomationEnabled)
			fmt.Printf("Timezone: %s\n", tz)
			fmt.Printf("Default slots: %s\n", strings.Join(global.DefaultSlotTimes, ", "))
			fmt.Printf("Running: %t (%s)\n", state.IsRunning, state.CurrentStatus)
			fmt.Printf("Last run: %s\n", formatTime(state.LastRunAt))
			fmt.Printf("Uploads today: %d (counter date %s)\n", state.UploadsToday, state.CounterDate)
			fmt.Printf("Global remaining: %d/%d\n", remaining, global.DefaultUploadsPerDay)

			mappings, err := a.Repo.ListMappings(ctx, true)
			if err != nil {
				return err
			}
			if len(mappings) > 0 {
				fmt.Println("\nMappings:")
			}
			for _, m := range mappings {
				left, err := quota.MappingRemaining(ctx, m, &effective, now)
				if err != nil {
					return err
				}
				fmt.Printf("  [%d] %s: %d remaining\n", m.ID, m.Name, left)
			}
			return nil
		},
	}
}

// ============ MAPPING COMMANDS ============

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage source to destination mappings",
	}

	cmd.AddCommand(mappingsListCmd())
	cmd.AddCommand(mappingsAddCmd())
	cmd.AddCommand(mappingsToggleCmd("enable", true))
	cmd.AddCommand(mappingsToggleCmd("disable", false))
	cmd.AddCommand(mappingsDeleteCmd())
	return cmd
}

func mappingsListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			mappings, err := a.Repo.ListMappings(context.Background(), !all)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Mappings (%d) ===\n\n", len(mappings))
			for _, m := range mappings {
				state := "active"
				if !m.IsActive {
					state = "inactive"
				}
				fmt.Printf("[%d] %s | %s\n", m.ID, m.Name, state)
				fmt.Printf("    Source: %s %s\n", m.SourceChannelID, m.SourceChannelURL)
				fmt.Printf("    Target: %s\n", m.TargetChannelID)
				fmt.Printf("    Uploads/day: %d | Slots: %s\n", m.UploadsPerDay, strings.Join(m.SlotTimes, ", "))
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include inactive mappings")
	return cmd
}

func mappingsAddCmd() *cobra.Command {
	var (
		name       string
		sourceID   string
		sourceURL  string
		target     string
		perDay     int
		slotTimes  []string
		visibility string
		delayHours int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceID == "" && sourceURL == "" {
				return fmt.Errorf("--source-id or --source-url is required")
			}
			if target == "" {
				return fmt.Errorf("--target is required")
			}
			for _, s := range slotTimes {
				if !slots.ValidSlot(s) {
					return fmt.Errorf("slot %q is not HH:MM", s)
				}
			}

			m := &models.Mapping{
				Name:             name,
				SourceChannelID:  sourceID,
				SourceChannelURL: sourceURL,
				TargetChannelID:  target,
				IsActive:         true,
				UploadsPerDay:    perDay,
				SlotTimes:        models.StringSlice(slotTimes),
			}
			if visibility != "" {
				v := models.Visibility(visibility)
				if !v.Valid() {
					return fmt.Errorf("unknown visibility %q", visibility)
				}
				m.DefaultVisibility = &v
			}
			if cmd.Flags().Changed("publish-delay") {
				m.PublishDelayHours = &delayHours
			}

			if err := a.Repo.CreateMapping(context.Background(), m); err != nil {
				return err
			}
			fmt.Printf("Mapping %d created\n", m.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source channel id")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "source channel URL")
	cmd.Flags().StringVar(&target, "target", "", "destination channel id")
	cmd.Flags().IntVar(&perDay, "per-day", 0, "uploads per day (0: number of slots)")
	cmd.Flags().StringSliceVar(&slotTimes, "slots", nil, "slot times as HH:MM")
	cmd.Flags().StringVar(&visibility, "visibility", "", "public, unlisted or private")
	cmd.Flags().IntVar(&delayHours, "publish-delay", 0, "hours before an unlisted upload goes public")
	return cmd
}

func mappingsToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [mapping-id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.Repo.GetMappingByID(ctx, id)
			if err != nil {
				return fmt.Errorf("mapping not found: %w", err)
			}
			m.IsActive = active
			if err := a.Repo.UpdateMapping(ctx, m); err != nil {
				return err
			}
			fmt.Printf("Mapping %d %sd\n", m.ID, use)
			return nil
		},
	}
}

func mappingsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [mapping-id]",
		Short: "Delete a mapping and return its pending items to the global pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Repo.DeleteMapping(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Mapping %d deleted\n", id)
			return nil
		},
	}
}

// ============ ITEM COMMANDS ============

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List and manage queued content items",
	}

	cmd.AddCommand(itemsListCmd())
	cmd.AddCommand(itemsRetryCmd())
	cmd.AddCommand(itemsActivityCmd())
	return cmd
}

func itemsListCmd() *cobra.Command {
	var status string
	var mappingID uint
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content items",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultItemFilter()
			filter.Limit = limit
			if status != "" {
				s := models.ContentStatus(status)
				filter.Status = &s
			}
			if mappingID > 0 {
				filter.MappingID = &mappingID
			}

			items, err := a.Repo.ListItems(context.Background(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Items (%d) ===\n\n", len(items))
			for _, it := range items {
				scope := "global"
				if it.MappingID != nil {
					scope = fmt.Sprintf("mapping %d", *it.MappingID)
				}
				fmt.Printf("[%d] %s | %s | %s\n", it.ID, it.Status, scope, it.VideoID)
				fmt.Printf("    Title: %s\n", it.Title)
				if it.TargetVideoID != "" {
					fmt.Printf("    Uploaded: %s (%s) at %s\n", it.TargetVideoID, it.Visibility, formatTime(it.UploadedAt))
				}
				if it.ScheduledPublishAt != nil {
					fmt.Printf("    Publish at: %s\n", formatTime(it.ScheduledPublishAt))
				}
				if it.ErrorMessage != "" {
					fmt.Printf("    Error (%s, retries %d): %s\n", it.ErrorKind, it.RetryCount, it.ErrorMessage)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (Pending, Downloaded, Uploading, Uploaded, Failed)")
	cmd.Flags().UintVar(&mappingID, "mapping", 0, "Filter by mapping id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum items to show")
	return cmd
}

func itemsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id]",
		Short: "Move a failed item back to Pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Uploader.RetryItem(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Item %d requeued\n", id)
			return nil
		},
	}
}

func itemsActivityCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "activity [item-id]",
		Short: "Show the activity log, optionally for one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var itemID *uint
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				itemID = &id
			}

			logs, err := a.Repo.ListActivity(context.Background(), itemID, limit)
			if err != nil {
				return err
			}
			for _, l := range logs {
				fmt.Printf("%s  %-8s %-8s %s\n", l.CreatedAt.Format(time.RFC3339), l.Action, l.Status, l.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

// ============ PUBLISH COMMANDS ============

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Promote unlisted uploads to public",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "Publish every item whose scheduled time has arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.Publisher.PublishDue(context.Background(), 0)
			if err != nil {
				return err
			}
			fmt.Println("\n=== Publish Results ===")
			fmt.Printf("Due: %d\n", res.Due)
			fmt.Printf("Published: %d\n", res.Published)
			fmt.Printf("Deferred: %d\n", res.Deferred)
			for _, e := range res.Errors {
				fmt.Printf("  Error: %v\n", e)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "now [item-id]",
		Short: "Publish one uploaded item immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Publisher.Publish(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Item %d is public\n", id)
			return nil
		},
	})

	return cmd
}

// ============ MAINTENANCE COMMANDS ============

func cleanupCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete uploaded items past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention <= 0 {
				retention = time.Duration(cfg.Cleanup.RetentionHours) * time.Hour
			}
			res, err := a.Cleanup.Run(context.Background(), retention, cfg.Cleanup.Batch)
			if err != nil {
				return err
			}
			fmt.Println("\n=== Cleanup Results ===")
			fmt.Printf("Candidates: %d\n", res.Candidates)
			fmt.Printf("Deleted: %d\n", res.Deleted)
			fmt.Printf("Kept (shared source): %d\n", res.Kept)
			for _, e := range res.Errors {
				fmt.Printf("  Error: %v\n", e)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "older-than", 0, "retention override (default: cleanup.retention_hours)")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch new shorts from every source channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Ingest == nil {
				return fmt.Errorf("sources are disabled in config")
			}

			fmt.Println("Fetching source channels...")
			res, err := a.Ingest.Run(context.Background())
			if err != nil {
				return err
			}
			fmt.Println("\n=== Ingest Results ===")
			fmt.Printf("Fetched: %d\n", res.Fetched)
			fmt.Printf("Created: %d\n", res.Created)
			fmt.Printf("Skipped: %d\n", res.Skipped)
			fmt.Printf("Duration: %s\n", res.Duration)
			for _, e := range res.Errors {
				fmt.Printf("  Error: %v\n", e)
			}
			return nil
		},
	}
}

// ============ OAUTH COMMANDS ============

func oauthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage destination channel authorization",
	}

	cmd.AddCommand(oauthLoginCmd())
	cmd.AddCommand(oauthStatusCmd())
	cmd.AddCommand(oauthLogoutCmd())
	return cmd
}

func oauthLoginCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize a destination channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateUploads(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			fmt.Println("Starting OAuth flow...")
			token, err := a.OAuth.StartOAuthServer(ctx, port, func(url string) {
				fmt.Printf("\nPlease open this URL in your browser:\n%s\n", url)
				fmt.Println("\nWaiting for authorization...")
			})
			if err != nil {
				return fmt.Errorf("OAuth failed: %w", err)
			}

			fmt.Println("\nAuthorization successful!")
			fmt.Printf("Channel: %s\n", token.ChannelID)
			fmt.Printf("Token expires: %s\n", token.ExpiresAt.Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port for OAuth callback server")
	return cmd
}

func oauthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [channel-id]",
		Short: "Check a channel's token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			valid, expiresAt, err := a.OAuth.TokenStatus(context.Background(), args[0])
			if err != nil {
				fmt.Println("Status: Not connected")
				fmt.Println("Run 'shorts-relay oauth login' to authorize")
				return nil
			}

			if valid {
				fmt.Println("Status: Connected")
			} else {
				fmt.Println("Status: Token expired, it will be refreshed on next use")
			}
			fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC1123))
			return nil
		},
	}
}

func oauthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [channel-id]",
		Short: "Forget a channel's token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.OAuth.Disconnect(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Channel %s disconnected\n", args[0])
			return nil
		},
	}
}

// ============ TRACKER COMMANDS ============

func trackerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Mirror uploads to Google Sheets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeApp(cmd, args); err != nil {
				return err
			}
			if a.Tracker == nil {
				return fmt.Errorf("tracker is disabled, set tracker.enabled and tracker.spreadsheet_id")
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the sheet and header row",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.Tracker.InitializeSheet(context.Background()); err != nil {
				return err
			}
			fmt.Println("Sheet initialized")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Write every uploaded item to the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			filter := storage.DefaultItemFilter()
			filter.Limit = 1000
			s := models.ContentStatusUploaded
			filter.Status = &s

			items, err := a.Repo.ListItems(ctx, filter)
			if err != nil {
				return err
			}
			added, updated, err := a.Tracker.SyncUploads(ctx, items)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d items (%d added, %d updated)\n", len(items), added, updated)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show rows currently in the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.Tracker.GetAllUploads(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("\n=== Tracked Uploads (%d) ===\n\n", len(rows))
			for _, r := range rows {
				fmt.Printf("[%d] %s | %s | %s\n", r.ItemID, r.Status, r.Visibility, r.Title)
				if r.TargetURL != "" {
					fmt.Printf("    %s\n", r.TargetURL)
				}
			}
			return nil
		},
	})

	return cmd
}
