package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/crm"
	"github.com/leadflow/leadflow/internal/leadfile"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/web"
)

// withApp builds the app, runs fn and closes the app. SIGINT cancels ctx.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	reader := bufio.NewReader(os.Stdin)
	cfg := &config.Config{}

	fmt.Println("Leadflow configuration")
	fmt.Println()
	cfg.Profile.Name = prompt(reader, "Your name: ")
	cfg.Profile.Company = prompt(reader, "Company (optional): ")
	cfg.Profile.MeetingLink = prompt(reader, "Meeting link (optional): ")

	fmt.Println()
	cfg.Email.Provider = "smtp"
	cfg.Email.From = prompt(reader, "Sending address: ")
	cfg.Email.SMTP.Host = prompt(reader, "SMTP host: ")
	cfg.Email.SMTP.Username = prompt(reader, "SMTP username: ")
	cfg.Email.SMTP.Password = prompt(reader, "SMTP password: ")
	cfg.Inbox.Provider = prompt(reader, "Inbox provider (gmail, outlook, imap): ")

	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("\nConfig written to %s\n", path)
	fmt.Println("Defaults are filled in on load; edit the file to change them.")
	return nil
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. When sync.schedule is set in the config, replies are
also pulled from the inbox on that cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runServe(ctx, a, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, a *app, addr string) error {
	serverCfg := a.cfg.Server
	if addr != "" {
		serverCfg.Addr = addr
	}

	server := web.NewServer(serverCfg, a.service, web.Options{
		Metrics:        a.metrics,
		Logger:         a.log,
		Version:        Version,
		MaxUploadBytes: a.cfg.Storage.MaxUploadBytes,
	})

	if schedule := a.cfg.Sync.Schedule; schedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(schedule, func() { scheduledSync(ctx, a) }); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		a.log.Info("scheduled reply sync enabled", "schedule", schedule)
	}

	go func() {
		<-ctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Error("shutdown failed", "error", err)
		}
	}()

	return server.Start()
}

func scheduledSync(ctx context.Context, a *app) {
	res, err := a.service.SyncReplies(ctx)
	if err != nil {
		a.log.Error("scheduled sync failed", "error", err)
		return
	}
	if res.Failed > 0 {
		a.log.Warn("scheduled sync left messages for the next run", "failed", res.Failed)
	}
	if res.Ingested > 0 || res.Unclassified > 0 {
		a.log.Info("scheduled sync finished", "ingested", res.Ingested, "unclassified", res.Unclassified)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Timeouts.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("Database ready (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func leadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Manage leads",
	}

	var company string
	add := &cobra.Command{
		Use:   "add <name> <email>",
		Short: "Add a lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				lead, err := a.service.CreateLead(ctx, crm.LeadInput{Name: args[0], Email: args[1], Company: company})
				if err != nil {
					return err
				}
				fmt.Printf("Added %s <%s> (%s)\n", lead.Name, lead.Email, lead.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&company, "company", "", "company name")

	var byPriority, asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				leads, err := a.service.ListLeads(ctx)
				if err != nil {
					return err
				}
				if byPriority {
					crm.SortByPriority(leads)
				}
				if asJSON {
					return printJSON(leads)
				}
				printLeads(leads)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&byPriority, "priority", false, "sort by priority, then score")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	importCmd := &cobra.Command{
		Use:   "import <file|dir>",
		Short: "Import leads from YAML",
		Long: `Import leads from a YAML file, or from every .yaml/.yml file in a directory:

  leads:
    - name: Lee Park
      email: lee@example.com
      company: Acme

Leads whose email already exists are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runImport(ctx, a, args[0])
			})
		},
	}

	export := &cobra.Command{
		Use:   "export <file>",
		Short: "Export leads to YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				leads, err := a.service.ListLeads(ctx)
				if err != nil {
					return err
				}
				f := &leadfile.File{}
				for _, l := range leads {
					f.Leads = append(f.Leads, leadfile.Entry{Name: l.Name, Email: l.Email, Company: l.Company})
				}
				if err := f.Save(args[0]); err != nil {
					return err
				}
				fmt.Printf("Exported %d leads to %s\n", len(f.Leads), args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, importCmd, export)
	return cmd
}

func runImport(ctx context.Context, a *app, path string) error {
	f, err := leadfile.Load(path)
	if err != nil {
		return err
	}
	if n := f.Dedupe(); n > 0 {
		fmt.Printf("Ignoring %d repeated entries\n", n)
	}

	create := func(ctx context.Context, e leadfile.Entry) error {
		_, err := a.service.CreateLead(ctx, crm.LeadInput{Name: e.Name, Email: e.Email, Company: e.Company})
		return err
	}
	exists := func(err error) bool { return crm.IsKind(err, crm.KindConflict) }

	res := leadfile.Import(ctx, f, create, exists)
	fmt.Printf("Imported %d, skipped %d existing, %d failed\n", res.Created, res.Skipped, len(res.Failed))
	for _, fe := range res.Failed {
		fmt.Printf("  %s: %v\n", fe.Email, fe.Err)
	}
	if len(res.Failed) > 0 {
		return errors.New("some leads were not imported")
	}
	return nil
}

func sendCmd() *cobra.Command {
	var subject, body, bodyFile string

	cmd := &cobra.Command{
		Use:   "send <lead-id>",
		Short: "Send an email to a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("failed to read body: %w", err)
				}
				body = string(data)
			}
			return withApp(func(ctx context.Context, a *app) error {
				o, err := a.service.RecordSend(ctx, crm.SendInput{LeadID: args[0], Subject: subject, Body: body})
				if err != nil {
					return err
				}
				fmt.Printf("Sent %q (message id %s)\n", o.Subject, o.MessageID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "read the body from a file")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull new replies from the inbox and classify them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.service.SyncReplies(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Synced %d new replies\n", res.Ingested)
				if res.Unclassified > 0 {
					fmt.Printf("  %d could not be classified; run \"leadflow reclassify\" later\n", res.Unclassified)
				}
				if res.Unmatched > 0 || res.Duplicates > 0 {
					fmt.Printf("  skipped %d unmatched, %d already stored\n", res.Unmatched, res.Duplicates)
				}
				if res.Failed > 0 {
					fmt.Printf("  %d could not be stored and will be retried on the next sync\n", res.Failed)
				}
				return nil
			})
		},
	}
}

func repliesCmd() *cobra.Command {
	var byPriority, asJSON bool

	cmd := &cobra.Command{
		Use:   "replies",
		Short: "List inbound replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				replies, err := a.service.ListReplies(ctx)
				if err != nil {
					return err
				}
				if byPriority {
					crm.SortRepliesByPriority(replies)
				}
				if asJSON {
					return printJSON(replies)
				}
				printReplies(replies)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&byPriority, "priority", false, "sort by priority, then score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func reclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify",
		Short: "Retry classification of replies that failed it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.service.Reclassify(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Classified %d, still failing %d\n", res.Classified, res.Failed)
				return nil
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLeads(leads []store.Lead) {
	if len(leads) == 0 {
		fmt.Println("No leads yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS\tPRIORITY\tSCORE")
	for _, l := range leads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", l.ID, l.Name, l.Email, l.Status, l.LeadPriority, l.LeadScore)
	}
	w.Flush()
}

func printReplies(replies []store.ReplyDetail) {
	if len(replies) == 0 {
		fmt.Println("No replies yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED\tFROM\tINTENT\tPRIORITY\tSCORE\tDRAFT\tPREVIEW")
	for _, r := range replies {
		intent, priority, score := "-", "-", "-"
		if r.Intent != nil {
			intent = string(*r.Intent)
		}
		if r.Priority != nil {
			priority = string(*r.Priority)
		}
		if r.ReplyScore != nil {
			score = fmt.Sprint(*r.ReplyScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ReceivedAt.Format("2006-01-02 15:04"), r.Lead.Email, intent, priority, score, r.DraftStatus, truncateString(r.BodyPreview, 60))
	}
	w.Flush()
}

func truncateString(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
