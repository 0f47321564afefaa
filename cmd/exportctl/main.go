// exportctl is the command line client for exportd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/schedules"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type options struct {
	serverURL string
	apiKey    string
	output    string
	timezone  string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "exportctl",
		Short:         "exportctl - Manage recurring report export schedules",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.serverURL, "server", "s", envOr("EXPORTD_SERVER", "http://localhost:8080"), "exportd server URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("EXPORTD_API_KEY"), "API key")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format (table, json, yaml)")
	flags.StringVar(&opts.timezone, "timezone", clock.DefaultZone, "Timezone used to display instants")

	scheduleCmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules", "sched"},
		Short:   "Manage export schedules",
	}
	scheduleCmd.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newCreateCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newActionCmd(opts, "pause", "Pause a schedule"),
		newActionCmd(opts, "resume", "Resume a paused schedule"),
		newActionCmd(opts, "complete", "Retire a schedule permanently"),
		newUpcomingCmd(opts),
	)

	rootCmd.AddCommand(scheduleCmd, newPreviewCmd(opts))
	return rootCmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().listSchedules(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), opts.output, list); done {
				return err
			}
			loc, err := opts.location()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %d schedules\n\n", len(list))
			return printSchedulesTable(cmd.OutOrStdout(), list, loc)
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [schedule-id]",
		Short: "Get schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := opts.client().getSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), opts.output, sched); done {
				return err
			}
			loc, err := opts.location()
			if err != nil {
				return err
			}
			printSchedule(cmd.OutOrStdout(), sched, loc)
			return nil
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create -f [file]",
		Short: "Create a schedule from a YAML or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			in, err := readInput(file)
			if err != nil {
				return err
			}
			sched, err := opts.client().createSchedule(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule created: %s (%s)\n", sched.Name, sched.ID)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Schedule definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newUpdateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [schedule-id] -f [file]",
		Short: "Replace a schedule's definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			in, err := readInput(file)
			if err != nil {
				return err
			}
			sched, err := opts.client().updateSchedule(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule updated: %s (version %d)\n", sched.ID, sched.Version)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Schedule definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [schedule-id]",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().deleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schedule deleted")
			return nil
		},
	}
}

func newActionCmd(opts *options, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [schedule-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := opts.client().action(cmd.Context(), args[0], verb)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s is now %s\n", sched.ID, sched.Status)
			return nil
		},
	}
}

func newUpcomingCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upcoming [schedule-id]",
		Short: "Show the next due instants of a stored schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			runs, err := opts.client().preview(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), opts.output, runs); done {
				return err
			}
			loc, err := opts.location()
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, loc)
			return nil
		},
	}
	cmd.Flags().IntP("count", "n", 5, "Number of instants to show")
	return cmd
}

// newPreviewCmd evaluates a definition file locally without a server.
func newPreviewCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview -f [file]",
		Short: "Validate a schedule file and show its next due instants locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			count, _ := cmd.Flags().GetInt("count")
			from, _ := cmd.Flags().GetString("from")
			overflow, _ := cmd.Flags().GetString("month-overflow")

			in, err := readInput(file)
			if err != nil {
				return err
			}
			runs, err := previewLocal(cmd.Context(), in, opts.timezone, overflow, from, count)
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), opts.output, runs); done {
				return err
			}
			loc, err := opts.location()
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, loc)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Schedule definition file (YAML or JSON)")
	cmd.Flags().IntP("count", "n", 5, "Number of instants to show")
	cmd.Flags().String("from", "", "Evaluate from this RFC 3339 instant instead of now")
	cmd.Flags().String("month-overflow", string(recurrence.OverflowClamp), "Monthly overflow policy (clamp, skip)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// previewLocal runs the definition through the same validation and next-run
// calculation the server uses, against a throwaway in-memory store.
func previewLocal(ctx context.Context, in schedules.Input, zone, overflow, from string, count int) ([]time.Time, error) {
	civil, err := clock.NewCivil(zone)
	if err != nil {
		return nil, err
	}
	policy, err := recurrence.ParseMonthOverflow(overflow)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if from != "" {
		if now, err = time.Parse(time.RFC3339, from); err != nil {
			return nil, fmt.Errorf("invalid --from: %w", err)
		}
	}

	store := storage.NewMemoryStore()
	defer store.Close()
	svc := schedules.NewService(store, recurrence.NewCalculator(civil, policy), clock.NewMock(now), zerolog.Nop())

	sched, err := svc.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return svc.Preview(ctx, sched.ID, count)
}

func readInput(file string) (schedules.Input, error) {
	var in schedules.Input
	data, err := os.ReadFile(file)
	if err != nil {
		return in, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &in); err != nil {
			return in, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &in); err != nil {
			return in, fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return in, nil
}

func (o *options) client() *client {
	return newClient(o.serverURL, o.apiKey)
}

func (o *options) location() (*time.Location, error) {
	return time.LoadLocation(o.timezone)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
