package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/cron"
	"github.com/hermesworks/hermes/internal/gateway"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Run and manage scheduled jobs",
	}

	tick := &cobra.Command{
		Use:   "tick",
		Short: "Run every due job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sup.Connect(ctx)
			defer sup.Close()

			ran, err := sup.TickCron(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d job(s) ran\n", ran)
			return nil
		},
	}

	var intervalSec int
	daemon := &cobra.Command{
		Use:   "daemon",
		Short: "Run the cron loop in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			sup.Connect(ctx)
			defer sup.Close()

			err = sup.RunCronDaemon(ctx, time.Duration(intervalSec)*time.Second)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	daemon.Flags().IntVar(&intervalSec, "interval", 60, "tick interval in seconds")

	var listAll bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cronStore()
			if err != nil {
				return err
			}
			jobs, err := store.Load()
			if err != nil {
				return err
			}
			printJobs(jobs, listAll)
			return nil
		},
	}
	list.Flags().BoolVar(&listAll, "all", false, "include disabled jobs")

	var (
		addSchedule string
		addDeliver  []string
		addRepeat   int
	)
	add := &cobra.Command{
		Use:   "add <name> <prompt>",
		Short: "Add a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cronStore()
			if err != nil {
				return err
			}
			var repeat *int
			if cmd.Flags().Changed("repeat") {
				repeat = &addRepeat
			}
			job, err := cron.NewJob(args[0], args[1], addSchedule, addDeliver, repeat)
			if err != nil {
				return err
			}
			err = store.Update(func(jobs []*cron.Job) ([]*cron.Job, bool) {
				return append(jobs, job), true
			})
			if err != nil {
				return err
			}
			fmt.Printf("job %s added, next run %s\n", job.ID, job.NextRunAt.Format(time.RFC3339))
			return nil
		},
	}
	add.Flags().StringVar(&addSchedule, "schedule", "", "cron expression or RFC3339 instant (required)")
	add.Flags().StringSliceVar(&addDeliver, "deliver", []string{"local"}, "delivery targets")
	add.Flags().IntVar(&addRepeat, "repeat", 0, "number of runs before the job disables")
	_ = add.MarkFlagRequired("schedule")

	remove := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateJob(args[0], "removed", func(jobs []*cron.Job, i int) []*cron.Job {
				return append(jobs[:i], jobs[i+1:]...)
			})
		},
	}

	enable := &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateJob(args[0], "enabled", func(jobs []*cron.Job, i int) []*cron.Job {
				jobs[i].Enabled = true
				if next, err := cron.NextAfter(jobs[i].Schedule, time.Now()); err == nil {
					jobs[i].NextRunAt = next
				}
				return jobs
			})
		},
	}

	disable := &cobra.Command{
		Use:   "disable <job-id>",
		Short: "Disable a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateJob(args[0], "disabled", func(jobs []*cron.Job, i int) []*cron.Job {
				jobs[i].Enabled = false
				return jobs
			})
		},
	}

	cmd.AddCommand(tick, daemon, list, add, remove, enable, disable)
	return cmd
}

func buildSupervisor() (*gateway.Supervisor, error) {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	invoker := agent.NewCommandInvoker(
		cfg.Agent.Command,
		cfg.Agent.Args,
		time.Duration(cfg.Agent.TimeoutSeconds)*time.Second,
	)
	return gateway.New(cfg, invoker)
}

func cronStore() (*cron.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cron.NewStore(cfg.CronJobsFile()), nil
}

func mutateJob(id, verb string, fn func(jobs []*cron.Job, i int) []*cron.Job) error {
	store, err := cronStore()
	if err != nil {
		return err
	}
	found := false
	err = store.Update(func(jobs []*cron.Job) ([]*cron.Job, bool) {
		for i, job := range jobs {
			if job.ID == id {
				found = true
				return fn(jobs, i), true
			}
		}
		return jobs, false
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no job with id %s", id)
	}
	fmt.Printf("job %s %s\n", id, verb)
	return nil
}

func printJobs(jobs []*cron.Job, includeDisabled bool) {
	headers := []string{"ID", "NAME", "SCHEDULE", "NEXT RUN", "STATE"}
	rows := [][]string{headers}
	for _, job := range jobs {
		if !job.Enabled && !includeDisabled {
			continue
		}
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		if job.Remaining != nil {
			state += fmt.Sprintf(" (%d left)", *job.Remaining)
		}
		rows = append(rows, []string{
			job.ID,
			job.Name,
			job.Schedule,
			job.NextRunAt.Format("2006-01-02 15:04"),
			state,
		})
	}
	if len(rows) == 1 {
		fmt.Println("no jobs")
		return
	}

	widths := make([]int, len(headers))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		fmt.Println(strings.TrimRight(b.String(), " "))
	}
}
