package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/timeblocker/internal"
	"github.com/starford/timeblocker/internal/planner"
	pkgconfig "github.com/starford/timeblocker/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

// openApp wires the application for one-shot commands; logs go to stderr so
// stdout stays readable.
func openApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	return internal.Open(internal.WithConfig(cfg), internal.WithLogger(logger))
}

func listTasks(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Planner.Refresh(ctx)
	if err != nil {
		return err
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return printTasks(cmd.Root().Writer, a.Planner.Tasks(int(cmd.Int("page"))))
}

func printTasks(w io.Writer, page planner.TaskPage) error {
	if page.Notice != "" {
		_, err := fmt.Fprintln(w, page.Notice)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tDUE\tTASK")
	for _, t := range page.Tasks {
		due := "-"
		if t.DueDate != nil {
			due = *t.DueDate
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Scope, due, t.Text)
	}
	fmt.Fprintf(tw, "\npage %d/%d (%d tasks)\n", page.Page, page.TotalPages, page.Total)
	return tw.Flush()
}

func today(_ context.Context, cmd *cli.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = fmt.Fprintln(cmd.Root().Writer, planner.RenderSchedule(a.Planner.TodayBlocks()))
	return err
}

func reset(_ context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return errors.New("refusing to delete every time block without --yes")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Planner.ResetBlocks(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, "All time blocks removed.")
	return err
}

func main() {
	cmd := &cli.Command{
		Name:   "timeblocker",
		Usage:  "Plan the day in time blocks from your Craft tasks",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdio",
				Action: serveMCP,
			},
			{
				Name:   "tasks",
				Usage:  "Refresh and print tasks from Craft",
				Action: listTasks,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "Page to print"},
				},
			},
			{
				Name:   "today",
				Usage:  "Print today's time blocks",
				Action: today,
			},
			{
				Name:   "reset",
				Usage:  "Delete every time block on every day",
				Action: reset,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the reset"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
