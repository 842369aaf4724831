package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/notify"
	"taskdesk/internal/repo"
	"taskdesk/internal/server"
	"taskdesk/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "taskdesk",
	Short: "Taskdesk CLI",
	Long: `Taskdesk tracks an institution's tasks with role-gated workflow.
Roles: admins decide everything, team members move work through the
todo -> in_progress -> review -> done pipeline, guests submit tasks that
wait for admin approval. Every guest submission notifies the admins;
every review decision notifies the task's creator.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("institution", "", "institution id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("institution", rootCmd.PersistentFlags().Lookup("institution"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// withEngine opens the workspace database, migrates it, and hands a ready
// engine to fn.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// requireActor resolves --actor-id against the roster. Policy decisions need
// the stored role, not a caller-asserted one.
func requireActor(ctx context.Context, e engine.Engine) (domain.Actor, error) {
	actorID := viper.GetString("actor-id")
	actor, err := e.Repo.GetActor(ctx, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s not registered; run taskdesk actor add (as an admin) or taskdesk init", actorID)
	}
	return actor, nil
}

func initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace, config, and bootstrap admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			institutionID := viper.GetString("institution")
			if institutionID == "" {
				institutionID = "default"
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(institutionID)), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				inst, err := app.ResolveInstitution(ctx, e, e.Config, institutionID, actorID)
				if err != nil {
					return err
				}
				admin, err := app.EnsureBootstrapAdmin(ctx, e, inst.ID, actorID, name)
				if err != nil {
					return err
				}
				fmt.Printf("institution %s ready; admin %s\n", inst.ID, admin.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "bootstrap admin display name")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage the institution roster"}
	actor.AddCommand(actorAddCmd())
	actor.AddCommand(actorListCmd())
	return actor
}

func actorAddCmd() *cobra.Command {
	var id, name, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				if caller.Role != domain.RoleAdmin {
					return fmt.Errorf("only admins manage the roster")
				}
				created, err := e.RegisterActor(ctx, domain.Actor{
					ID:            id,
					Name:          name,
					Role:          domain.Role(role),
					InstitutionID: caller.InstitutionID,
				}, caller.ID)
				if err != nil {
					return err
				}
				return printActors([]domain.Actor{created})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "team", "role: admin, team, or guest")
	return cmd
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caller, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				actors, err := e.Repo.ListActors(ctx, caller.InstitutionID)
				if err != nil {
					return err
				}
				return printActors(actors)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, description, priority, assignee, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				in := workflow.CreateInput{
					Title:       title,
					Description: description,
					Priority:    domain.Priority(priority),
				}
				if assignee != "" {
					in.AssignedToID = &assignee
				}
				if due != "" {
					in.DueDate = &due
				}
				res, err := e.CreateTask(ctx, actor, in)
				if err != nil {
					return err
				}
				if len(res.Notifications) > 0 {
					fmt.Printf("notified %d admin(s)\n", len(res.Notifications))
				}
				return printTasks([]domain.Task{res.Task})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high, or urgent")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee actor id")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC 3339)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, reviewStatus string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				filter := repo.TaskFilter{
					InstitutionID: actor.InstitutionID,
					Status:        domain.Status(status),
					ReviewStatus:  domain.ReviewStatus(reviewStatus),
				}
				if mine {
					filter.AssignedToID = actor.ID
				}
				tasks, err := e.Repo.ListTasks(ctx, filter)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&reviewStatus, "review-status", "", "filter by review status")
	cmd.Flags().BoolVar(&mine, "mine", false, "only tasks assigned to me")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				task, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if task.InstitutionID != actor.InstitutionID {
					return repo.ErrNotFound
				}
				return printTasks([]domain.Task{task})
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, assignee, due, status string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				var delta workflow.Delta
				if cmd.Flags().Changed("title") {
					delta.Title = &title
				}
				if cmd.Flags().Changed("description") {
					delta.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					p := domain.Priority(priority)
					delta.Priority = &p
				}
				if cmd.Flags().Changed("assignee") {
					delta.AssignedToID = &assignee
				}
				if cmd.Flags().Changed("due") {
					delta.DueDate = &due
				}
				if cmd.Flags().Changed("status") {
					s := domain.Status(status)
					delta.Status = &s
				}
				res, err := e.UpdateTask(ctx, actor, args[0], delta)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{res.Task})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "new due date (empty clears)")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Approve or reject a pending guest task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				rs := domain.ReviewStatus(decision)
				res, err := e.UpdateTask(ctx, actor, args[0], workflow.Delta{ReviewStatus: &rs})
				if err != nil {
					return err
				}
				if len(res.Notifications) > 0 {
					fmt.Printf("notified creator %s\n", res.Notifications[0].RecipientID)
				}
				return printTasks([]domain.Task{res.Task})
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				if err := e.DeleteTask(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Manage notifications"}
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List my notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListNotifications(ctx, actor.ID, unread)
				if err != nil {
					return err
				}
				return printNotifications(items)
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread")
	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				return e.Repo.MarkNotificationRead(ctx, args[0], actor.ID)
			})
		},
	}
	n.AddCommand(list)
	n.AddCommand(read)
	return n
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := requireActor(ctx, e)
				if err != nil {
					return err
				}
				evts, err := e.Repo.ListEvents(ctx, actor.InstitutionID, limit)
				if err != nil {
					return err
				}
				return printEvents(evts)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	logc.AddCommand(tail)
	return logc
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{AllowLegacyActorHeader: true}
				if e.Config != nil {
					authCfg.JWTSecret = e.Config.Auth.JWTSecret
					authCfg.AllowLegacyActorHeader = e.Config.Auth.AllowLegacyActorHeader
				}
				handler, err := server.New(server.Config{Engine: e, Auth: authCfg})
				if err != nil {
					return err
				}
				if e.Config != nil {
					notify.Start(e.Repo, e.Config.Webhooks)
				}
				fmt.Println("listening on", addr)
				return http.ListenAndServe(addr, handler)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// --- output helpers ---

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(header)
	return t
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	t := newTable(table.Row{"ID", "TITLE", "STATUS", "PRIORITY", "REVIEW", "ASSIGNEE", "DUE"})
	for _, task := range tasks {
		assignee, due := "", ""
		if task.AssignedToID != nil {
			assignee = *task.AssignedToID
		}
		if task.DueDate != nil {
			due = *task.DueDate
		}
		t.AppendRow(table.Row{task.ID, task.Title, task.Status, task.Priority, task.ReviewStatus, assignee, due})
	}
	t.Render()
	return nil
}

func printActors(actors []domain.Actor) error {
	if viper.GetBool("json") {
		return printJSON(actors)
	}
	t := newTable(table.Row{"ID", "NAME", "ROLE", "INSTITUTION"})
	for _, a := range actors {
		t.AppendRow(table.Row{a.ID, a.Name, a.Role, a.InstitutionID})
	}
	t.Render()
	return nil
}

func printNotifications(items []domain.NotificationEvent) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable(table.Row{"ID", "TYPE", "TITLE", "READ", "CREATED"})
	for _, n := range items {
		t.AppendRow(table.Row{n.ID, n.Type, n.Title, n.Read, n.CreatedAt})
	}
	t.Render()
	return nil
}

func printEvents(evts []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(evts)
	}
	t := newTable(table.Row{"ID", "TS", "TYPE", "ENTITY", "ACTOR"})
	for _, evt := range evts {
		t.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
	}
	t.Render()
	return nil
}
