package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ignatij/todoflow/internal/config"
	"github.com/ignatij/todoflow/internal/events"
	internal_http "github.com/ignatij/todoflow/internal/http"
	"github.com/ignatij/todoflow/internal/log"
	"github.com/ignatij/todoflow/internal/scheduler"
	internal_storage "github.com/ignatij/todoflow/internal/storage"
	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// openStore is swapped out in tests.
var openStore = func(connStr string) (storage.Store, error) {
	return internal_storage.NewPostgresStore(connStr)
}

// SetupCLI registers the todoflow commands on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (defaults to ./config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database connection string (overrides the configured database)")
	rootCmd.PersistentFlags().String("user", internal_http.AnonymousUser, "User recorded on status changes")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		serveCmd(),
		projectCmd(),
		actorCmd(),
		protoCmd(),
		trackerCmd(),
		taskCmd(),
		stepCmd(),
		stepsCmd(),
		actionsCmd(),
	)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dbConnStr, _ := cmd.Flags().GetString("db"); dbConnStr != "" {
		cfg.DB.URL = dbConnStr
	}
	return cfg, nil
}

func currentUser(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return internal_http.AnonymousUser
	}
	return user
}

// withService opens the store, runs fn against a service on top of it and closes the store.
func withService(cmd *cobra.Command, fn func(svc *service.TodoService) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.GetLogger().Debugf("Running %s with db: %s", cmd.CommandPath(), cfg.DB.Host)
	store, err := openStore(cfg.DB.ConnString())
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		return errors.Wrap(err, "failed to initialize store")
	}
	defer store.Close()
	return fn(service.NewTodoService(store, log.GetLogger(), service.WithNotifier(service.LogNotifier{Logger: log.GetLogger()})))
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// optionalID returns the value of an id flag, or nil when the flag was not given.
func optionalID(cmd *cobra.Command, name string) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	id, _ := cmd.Flags().GetInt64(name)
	return &id
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the todoflow HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
				return err
			}
			logger := log.GetLogger()

			store, err := openStore(cfg.DB.ConnString())
			if err != nil {
				return errors.Wrap(err, "failed to initialize store")
			}
			defer store.Close()

			notifiers := service.MultiNotifier{service.LogNotifier{Logger: logger}}
			if cfg.Events.SinkURL != "" {
				publisher, err := events.NewPublisher(cfg.Events.SinkURL, cfg.Events.Source)
				if err != nil {
					return err
				}
				notifiers = append(notifiers, publisher)
				logger.Infof("Publishing status changes to %s", cfg.Events.SinkURL)
			}
			svc := service.NewTodoService(store, logger, service.WithNotifier(notifiers))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Overdue.Enabled {
				sweeper := scheduler.NewOverdueSweeper(svc, logger, cfg.Overdue.Interval)
				if err := sweeper.Start(ctx); err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			return internal_http.NewServer(svc, logger).Serve(ctx, cfg.Server.Address(), cfg.Server.ShutdownTimeout)
		},
	}
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(&cobra.Command{
		Use:   "create CODE [LABEL]",
		Short: "Create a project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := ""
			if len(args) == 2 {
				label = args[1]
			}
			return withService(cmd, func(svc *service.TodoService) error {
				id, err := svc.CreateProject(cmd.Context(), args[0], label)
				if err != nil {
					return errors.Wrap(err, "failed to create project")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project '%s' with ID %d\n", args[0], id)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *service.TodoService) error {
				projects, err := svc.ListProjects(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "failed to list projects")
				}
				out := cmd.OutOrStdout()
				if len(projects) == 0 {
					fmt.Fprintln(out, "No projects found.")
					return nil
				}
				fmt.Fprintln(out, "Projects:")
				for _, p := range projects {
					fmt.Fprintf(out, "- ID: %d, Code: %s, Label: %s, Active: %t\n", p.ID, p.Code, p.Label, p.IsActive)
				}
				return nil
			})
		},
	})
	return cmd
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage step owners"}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *service.TodoService) error {
				id, err := svc.CreateActor(cmd.Context(), args[0])
				if err != nil {
					return errors.Wrap(err, "failed to create actor")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created actor '%s' with ID %d\n", args[0], id)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *service.TodoService) error {
				actors, err := svc.ListActors(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "failed to list actors")
				}
				for _, a := range actors {
					fmt.Fprintf(cmd.OutOrStdout(), "- ID: %d, Name: %s\n", a.ID, a.Name)
				}
				return nil
			})
		},
	})
	return cmd
}

func protoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proto", Short: "Manage prototypes"}

	create := &cobra.Command{
		Use:   "create SUMMARY",
		Short: "Create a tracker, task or step prototype",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawType, _ := cmd.Flags().GetString("type")
			protoType, err := models.ParseProtoType(rawType)
			if err != nil {
				return err
			}
			isReview, _ := cmd.Flags().GetBool("review")
			allowedTime, _ := cmd.Flags().GetInt("allowed-time")
			proto := models.Proto{
				Type:        protoType,
				Summary:     args[0],
				OwnerID:     optionalID(cmd, "owner"),
				IsReview:    isReview,
				AllowedTime: allowedTime,
			}
			return withService(cmd, func(svc *service.TodoService) error {
				id, err := svc.CreateProto(cmd.Context(), proto)
				if err != nil {
					return errors.Wrap(err, "failed to create proto")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s proto '%s' with ID %d\n", protoType, args[0], id)
				return nil
			})
		},
	}
	create.Flags().String("type", "step", "Prototype type: tracker, task or step")
	create.Flags().Int64("owner", 0, "Default owner of spawned steps")
	create.Flags().Bool("review", false, "Spawned steps are reviews and can fail")
	create.Flags().Int("allowed-time", models.DefaultAllowedTime, "Days the owner has to complete a spawned step")

	list := &cobra.Command{
		Use:   "list",
		Short: "List prototypes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var protoType models.ProtoType
			if rawType, _ := cmd.Flags().GetString("type"); rawType != "" {
				parsed, err := models.ParseProtoType(rawType)
				if err != nil {
					return err
				}
				protoType = parsed
			}
			return withService(cmd, func(svc *service.TodoService) error {
				protos, err := svc.ListProtos(cmd.Context(), protoType)
				if err != nil {
					return errors.Wrap(err, "failed to list protos")
				}
				for _, p := range protos {
					fmt.Fprintf(cmd.OutOrStdout(), "- ID: %d, Type: %s, Summary: %s\n", p.ID, p.Type, p.Summary)
				}
				return nil
			})
		},
	}
	list.Flags().String("type", "", "Only list prototypes of this type")

	nest := &cobra.Command{
		Use:   "nest PARENT CHILD",
		Short: "Nest a child prototype under a parent prototype",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			childID, err := parseID(args[1])
			if err != nil {
				return err
			}
			order, _ := cmd.Flags().GetInt("order")
			autoActivated, _ := cmd.Flags().GetBool("auto-activate")
			resolvesParent, _ := cmd.Flags().GetBool("resolves-parent")
			perLocale, _ := cmd.Flags().GetBool("clone-per-locale")
			perProject, _ := cmd.Flags().GetBool("clone-per-project")
			nesting := models.Nesting{
				ParentID:        parentID,
				ChildID:         childID,
				Order:           order,
				IsAutoActivated: autoActivated,
				ResolvesParent:  resolvesParent,
				ClonePerLocale:  perLocale,
				ClonePerProject: perProject,
			}
			return withService(cmd, func(svc *service.TodoService) error {
				id, err := svc.AddNesting(cmd.Context(), nesting)
				if err != nil {
					return errors.Wrap(err, "failed to nest proto")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Nested proto %d under %d with ID %d\n", childID, parentID, id)
				return nil
			})
		},
	}
	nest.Flags().Int("order", 0, "Position among the siblings, required for steps")
	nest.Flags().Bool("auto-activate", false, "Activate the spawned child together with its first sibling")
	nest.Flags().Bool("resolves-parent", false, "Resolving the spawned child resolves its parent")
	nest.Flags().Bool("clone-per-locale", false, "Spawn one child per locale")
	nest.Flags().Bool("clone-per-project", false, "Spawn one child per project")

	cmd.AddCommand(create, list, nest)
	return cmd
}

func trackerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tracker", Short: "Manage trackers"}

	spawn := &cobra.Command{
		Use:   "spawn PROTO",
		Short: "Spawn a tracker and its nested trackers and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			protoID, err := parseID(args[0])
			if err != nil {
				return err
			}
			spawnArgs := service.TrackerSpawn{ParentID: optionalID(cmd, "parent")}
			spawnArgs.Summary, _ = cmd.Flags().GetString("summary")
			spawnArgs.Suffix, _ = cmd.Flags().GetString("suffix")
			spawnArgs.Locale, _ = cmd.Flags().GetString("locale")
			spawnArgs.Locales, _ = cmd.Flags().GetStringSlice("locales")
			spawnArgs.ProjectIDs, _ = cmd.Flags().GetInt64Slice("project")
			return withService(cmd, func(svc *service.TodoService) error {
				tracker, err := svc.SpawnTracker(cmd.Context(), currentUser(cmd), protoID, spawnArgs)
				if err != nil {
					return errors.Wrap(err, "failed to spawn tracker")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spawned tracker '%s' (%s) with ID %d\n", tracker.Summary, tracker.Alias, tracker.ID)
				return nil
			})
		},
	}
	spawn.Flags().String("summary", "", "Summary, defaults to the prototype's")
	spawn.Flags().String("suffix", "", "Suffix appended to the alias")
	spawn.Flags().String("locale", "", "Locale of the tracker")
	spawn.Flags().StringSlice("locales", nil, "Locales for children cloned per locale")
	spawn.Flags().Int64Slice("project", nil, "Projects of the spawned tasks")
	spawn.Flags().Int64("parent", 0, "Parent tracker")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a tracker with its trackers and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				tracker, err := svc.GetTracker(cmd.Context(), id)
				if err != nil {
					return errors.Wrap(err, "failed to get tracker")
				}
				printTracker(cmd.OutOrStdout(), tracker, 0)
				return nil
			})
		},
	}

	cmd.AddCommand(spawn, show)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}

	spawn := &cobra.Command{
		Use:   "spawn PROTO",
		Short: "Spawn a task and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			protoID, err := parseID(args[0])
			if err != nil {
				return err
			}
			spawnArgs := service.TaskSpawn{ParentID: optionalID(cmd, "parent"), BatchID: optionalID(cmd, "batch")}
			spawnArgs.Summary, _ = cmd.Flags().GetString("summary")
			spawnArgs.Suffix, _ = cmd.Flags().GetString("suffix")
			spawnArgs.Alias, _ = cmd.Flags().GetString("alias")
			spawnArgs.Locale, _ = cmd.Flags().GetString("locale")
			spawnArgs.Bug, _ = cmd.Flags().GetString("bug")
			spawnArgs.ProjectIDs, _ = cmd.Flags().GetInt64Slice("project")
			return withService(cmd, func(svc *service.TodoService) error {
				task, err := svc.SpawnTask(cmd.Context(), currentUser(cmd), protoID, spawnArgs)
				if err != nil {
					return errors.Wrap(err, "failed to spawn task")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spawned task '%s' with ID %d\n", task, task.ID)
				return nil
			})
		},
	}
	spawn.Flags().String("summary", "", "Summary, defaults to the prototype's")
	spawn.Flags().String("suffix", "", "Suffix appended to the alias")
	spawn.Flags().String("alias", "", "Alias of the task")
	spawn.Flags().String("locale", "", "Locale of the task")
	spawn.Flags().String("bug", "", "Bug number or alias")
	spawn.Flags().Int64Slice("project", nil, "Projects the task is part of")
	spawn.Flags().Int64("parent", 0, "Parent tracker")
	spawn.Flags().Int64("batch", 0, "Batch of the task")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a task with its statuses and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				task, err := svc.GetTask(cmd.Context(), id)
				if err != nil {
					return errors.Wrap(err, "failed to get task")
				}
				printTask(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.TaskFilter{BatchID: optionalID(cmd, "batch"), ParentID: optionalID(cmd, "tracker")}
			filter.ProjectIDs, _ = cmd.Flags().GetInt64Slice("project")
			filter.Locales, _ = cmd.Flags().GetStringSlice("locale")
			return withService(cmd, func(svc *service.TodoService) error {
				tasks, err := svc.ListTasks(cmd.Context(), filter)
				if err != nil {
					return errors.Wrap(err, "failed to list tasks")
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks found.")
					return nil
				}
				for _, task := range tasks {
					fmt.Fprintf(out, "- ID: %d, %s, Bug: %s, Resolved: %t\n", task.ID, task, task.Bug(), task.IsResolvedAll())
				}
				return nil
			})
		},
	}
	list.Flags().Int64Slice("project", nil, "Only tasks in these projects")
	list.Flags().StringSlice("locale", nil, "Only tasks for these locales")
	list.Flags().Int64("batch", 0, "Only tasks in this batch")
	list.Flags().Int64("tracker", 0, "Only tasks under this tracker")

	activate := &cobra.Command{
		Use:   "activate ID",
		Short: "Activate a task in all its projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				if err := svc.ActivateTask(cmd.Context(), currentUser(cmd), id); err != nil {
					return errors.Wrap(err, "failed to activate task")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Activated task %d\n", id)
				return nil
			})
		},
	}

	clone := &cobra.Command{
		Use:   "clone ID",
		Short: "Spawn a fresh copy of a task from its prototype",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				task, err := svc.CloneTask(cmd.Context(), currentUser(cmd), id)
				if err != nil {
					return errors.Wrap(err, "failed to clone task")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cloned task %d as '%s' with ID %d\n", id, task, task.ID)
				return nil
			})
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve ID",
		Short: "Resolve a task in one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			projectID, _ := cmd.Flags().GetInt64("project")
			resolution, err := resolutionFlag(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				if err := svc.ResolveTask(cmd.Context(), currentUser(cmd), id, projectID, resolution); err != nil {
					return errors.Wrap(err, "failed to resolve task")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved task %d in project %d as %s\n", id, projectID, resolution)
				return nil
			})
		},
	}
	resolve.Flags().Int64("project", 0, "Project to resolve the task in")
	resolve.Flags().String("resolution", "completed", "Resolution: completed, failed or incomplete")
	_ = resolve.MarkFlagRequired("project")

	cmd.AddCommand(spawn, show, list, activate, clone, resolve)
	return cmd
}

func resolutionFlag(cmd *cobra.Command) (models.Resolution, error) {
	raw, _ := cmd.Flags().GetString("resolution")
	return models.ParseResolution(raw)
}

// stepAction builds a command running fn on the step given as the only argument.
func stepAction(use, short string, fn func(cmd *cobra.Command, svc *service.TodoService, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *service.TodoService) error {
				return fn(cmd, svc, id)
			})
		},
	}
}

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "step", Short: "Work on steps"}

	show := stepAction("show", "Show a step with its children", func(cmd *cobra.Command, svc *service.TodoService, id int64) error {
		step, err := svc.GetStep(cmd.Context(), id)
		if err != nil {
			return errors.Wrap(err, "failed to get step")
		}
		printSteps(cmd.OutOrStdout(), []models.Step{step}, 0)
		return nil
	})

	activate := stepAction("activate", "Activate a new or on-hold step", func(cmd *cobra.Command, svc *service.TodoService, id int64) error {
		step, err := svc.ActivateStep(cmd.Context(), currentUser(cmd), id)
		if err != nil {
			return errors.Wrap(err, "failed to activate step")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Step %d is now %s\n", step.ID, step.Status)
		return nil
	})

	resolve := stepAction("resolve", "Resolve a step", func(cmd *cobra.Command, svc *service.TodoService, id int64) error {
		resolution, err := resolutionFlag(cmd)
		if err != nil {
			return err
		}
		noBubble, _ := cmd.Flags().GetBool("no-bubble")
		step, err := svc.ResolveStep(cmd.Context(), currentUser(cmd), id, resolution, !noBubble)
		if err != nil {
			return errors.Wrap(err, "failed to resolve step")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved step %d as %s\n", step.ID, resolution)
		return nil
	})
	resolve.Flags().String("resolution", "completed", "Resolution: completed, failed or incomplete")
	resolve.Flags().Bool("no-bubble", false, "Do not resolve parents or activate next steps")

	review := stepAction("review", "Resolve a review step", func(cmd *cobra.Command, svc *service.TodoService, id int64) error {
		success, _ := cmd.Flags().GetBool("success")
		failure, _ := cmd.Flags().GetBool("failure")
		step, err := svc.ResolveReview(cmd.Context(), currentUser(cmd), id, success, failure)
		if err != nil {
			return errors.Wrap(err, "failed to resolve review")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved review %d as %s\n", step.ID, *step.Resolution)
		return nil
	})
	review.Flags().Bool("success", false, "The review passed")
	review.Flags().Bool("failure", false, "The review failed")

	resetTime := stepAction("reset-time", "Restart the allowed time of a next step", func(cmd *cobra.Command, svc *service.TodoService, id int64) error {
		if err := svc.ResetStepTime(cmd.Context(), currentUser(cmd), id); err != nil {
			return errors.Wrap(err, "failed to reset step time")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset the time of step %d\n", id)
		return nil
	})

	cmd.AddCommand(show, activate, resolve, review, resetTime)
	return cmd
}

func stepsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "steps", Short: "List steps waiting for their owners"}

	list := func(use, short string, fetch func(svc *service.TodoService, ctx context.Context, filter models.StepFilter) ([]models.Step, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var filter models.StepFilter
				filter.OwnerIDs, _ = cmd.Flags().GetInt64Slice("owner")
				filter.ProjectIDs, _ = cmd.Flags().GetInt64Slice("project")
				filter.TaskIDs, _ = cmd.Flags().GetInt64Slice("task")
				filter.Locales, _ = cmd.Flags().GetStringSlice("locale")
				return withService(cmd, func(svc *service.TodoService) error {
					steps, err := fetch(svc, cmd.Context(), filter)
					if err != nil {
						return errors.Wrapf(err, "failed to list %s steps", use)
					}
					out := cmd.OutOrStdout()
					if len(steps) == 0 {
						fmt.Fprintln(out, "No steps found.")
						return nil
					}
					for _, step := range steps {
						overdue := ""
						if step.IsOverdue {
							overdue = " (overdue)"
						}
						fmt.Fprintf(out, "- ID: %d, Task: %d, %s%s\n", step.ID, step.TaskID, step.Summary, overdue)
					}
					return nil
				})
			},
		}
		c.Flags().Int64Slice("owner", nil, "Only steps owned by these actors")
		c.Flags().Int64Slice("project", nil, "Only steps in these projects")
		c.Flags().Int64Slice("task", nil, "Only steps of these tasks")
		c.Flags().StringSlice("locale", nil, "Only steps for these locales")
		return c
	}

	cmd.AddCommand(
		list("next", "List next steps", func(svc *service.TodoService, ctx context.Context, filter models.StepFilter) ([]models.Step, error) {
			return svc.ListNextSteps(ctx, filter)
		}),
		list("overdue", "List next steps past their allowed time", func(svc *service.TodoService, ctx context.Context, filter models.StepFilter) ([]models.Step, error) {
			return svc.ListOverdueSteps(ctx, filter)
		}),
	)
	return cmd
}

func actionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List recorded status changes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subjectType, _ := cmd.Flags().GetString("subject-type")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := models.ActionFilter{
				SubjectType: models.SubjectType(subjectType),
				SubjectID:   optionalID(cmd, "subject-id"),
				Limit:       limit,
			}
			return withService(cmd, func(svc *service.TodoService) error {
				actions, err := svc.ListActions(cmd.Context(), filter)
				if err != nil {
					return errors.Wrap(err, "failed to list actions")
				}
				for _, a := range actions {
					fmt.Fprintf(cmd.OutOrStdout(), "- %s %s %s %d: %s\n",
						a.Timestamp.Format(time.RFC3339), a.User, a.SubjectType, a.SubjectID, a.Flag)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("subject-type", "", "Only actions on step or task_in_project subjects")
	cmd.Flags().Int64("subject-id", 0, "Only actions on this subject")
	cmd.Flags().Int("limit", 20, "Maximum number of actions, 0 for all")
	return cmd
}

func printTracker(out io.Writer, tracker models.Tracker, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(out, "%sTracker %d: %s (%s)\n", indent, tracker.ID, tracker.Summary, tracker.Alias)
	for _, child := range tracker.Trackers {
		printTracker(out, child, depth+1)
	}
	for _, task := range tracker.Tasks {
		fmt.Fprintf(out, "%s  Task %d: %s\n", indent, task.ID, task)
	}
}

func printTask(out io.Writer, task models.Task) {
	fmt.Fprintf(out, "Task %d: %s\n", task.ID, task)
	fmt.Fprintf(out, "Bug: %s\n", task.Bug())
	for _, status := range task.Statuses {
		resolution := ""
		if status.Resolution != nil {
			resolution = " " + status.Resolution.String()
		}
		fmt.Fprintf(out, "Project %d: %s%s\n", status.ProjectID, status.Status, resolution)
	}
	printSteps(out, task.Steps, 0)
}

func printSteps(out io.Writer, steps []models.Step, depth int) {
	for _, step := range steps {
		state := step.Status.String()
		if step.Resolution != nil {
			state += " " + step.Resolution.String()
		}
		fmt.Fprintf(out, "%s%d. %s [%d] %s\n", strings.Repeat("  ", depth), step.Order, step.Summary, step.ID, state)
		printSteps(out, step.Children, depth+1)
	}
}
