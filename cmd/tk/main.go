package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracker/internal/config"
	"tracker/internal/db"
	"tracker/internal/domain"
	"tracker/internal/engine"
	"tracker/internal/migrate"
	"tracker/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tk",
	Short: "Tracker CLI",
	Long: `Tracker manages template-driven issues with typed fields.
Templates define workflow states, each state carries typed fields, and
role or group grants decide who sees and edits what. Every value change
lands in an append-only ledger.`,
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
	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("timezone", "", "IANA zone for date fields (defaults to tracker.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("timezone", rootCmd.PersistentFlags().Lookup("timezone"))
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(serveCmd())
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Manage templates"}
	cmd.AddCommand(templateListCmd())
	cmd.AddCommand(templateCreateCmd())
	cmd.AddCommand(templateRenameCmd())
	cmd.AddCommand(templateLockCmd())
	cmd.AddCommand(templateDeleteCmd())
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Locked", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Locked, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateCreateCmd() *cobra.Command {
	var criticalAge, frozenTime int
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TemplateCreateOptions{Name: args[0]}
				if cmd.Flags().Changed("critical-age") {
					opts.CriticalAge = &criticalAge
				}
				if cmd.Flags().Changed("frozen-time") {
					opts.FrozenTime = &frozenTime
				}
				t, err := e.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&criticalAge, "critical-age", 0, "days before an open issue counts as critical")
	cmd.Flags().IntVar(&frozenTime, "frozen-time", 0, "days after closing during which edits remain allowed")
	return cmd
}

func templateRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RenameTemplate(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateLockCmd() *cobra.Command {
	var unlock bool
	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "Lock or unlock template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetTemplateLocked(ctx, args[0], !unlock)
			})
		},
	}
	cmd.Flags().BoolVar(&unlock, "unlock", false, "unlock instead of lock")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete template (refused while issues exist)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTemplate(ctx, args[0])
			})
		},
	}
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "state", Short: "Manage workflow states"}
	cmd.AddCommand(stateListCmd())
	cmd.AddCommand(stateCreateCmd())
	cmd.AddCommand(stateSetInitialCmd())
	cmd.AddCommand(stateTransitionsCmd())
	cmd.AddCommand(stateDeleteCmd())
	return cmd
}

func stateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <template-id>",
		Short: "List states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStates(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Responsible", "Default next"})
				for _, s := range items {
					next := ""
					if s.DefaultNextStateID != nil {
						next = *s.DefaultNextStateID
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.Type, s.ResponsibleMode, next})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func stateCreateCmd() *cobra.Command {
	var stateType, mode string
	cmd := &cobra.Command{
		Use:   "create <template-id> <name>",
		Short: "Create state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateState(ctx, engine.StateCreateOptions{
					TemplateID:      args[0],
					Name:            args[1],
					Type:            domain.StateType(stateType),
					ResponsibleMode: domain.ResponsibleMode(mode),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&stateType, "type", "intermediate", "state type (initial|intermediate|final)")
	cmd.Flags().StringVar(&mode, "responsible", "keep", "responsibility mode on entry (keep|assign|remove)")
	return cmd
}

func stateSetInitialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-initial <state-id>",
		Short: "Make state the template's initial state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetInitial(ctx, args[0])
			})
		},
	}
}

func stateTransitionsCmd() *cobra.Command {
	var roles, groups []string
	cmd := &cobra.Command{
		Use:   "transitions <from-id> <to-id>",
		Short: "Set transition grantees for one edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sysRoles := make([]domain.SystemRole, 0, len(roles))
				for _, role := range roles {
					sysRoles = append(sysRoles, domain.SystemRole(role))
				}
				if err := e.SetRoleTransitions(ctx, args[0], args[1], sysRoles); err != nil {
					return err
				}
				return e.SetGroupTransitions(ctx, args[0], args[1], groups)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "system roles allowed (anyone|author|responsible)")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "group ids allowed")
	return cmd
}

func stateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <state-id>",
		Short: "Delete state (refused while issues sit in it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteState(ctx, args[0])
			})
		},
	}
}

func fieldCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "field", Short: "Manage fields"}
	cmd.AddCommand(fieldListCmd())
	cmd.AddCommand(fieldCreateCmd())
	cmd.AddCommand(fieldRemoveCmd())
	cmd.AddCommand(fieldItemAddCmd())
	cmd.AddCommand(fieldItemDeleteCmd())
	return cmd
}

func fieldListCmd() *cobra.Command {
	var includeRemoved bool
	cmd := &cobra.Command{
		Use:   "list <state-id>",
		Short: "List fields of a state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListFields(ctx, args[0], includeRemoved)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Pos", "Name", "Type", "Required", "Removed"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Position, f.Name, f.Type, f.Required, f.Removed()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeRemoved, "include-removed", false, "include soft-deleted fields")
	return cmd
}

func fieldCreateCmd() *cobra.Command {
	var fieldType string
	var required bool
	var position, maxLength int
	var minValue, maxValue, defaultValue, check, search, replace string
	cmd := &cobra.Command{
		Use:   "create <state-id> <name>",
		Short: "Create field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.FieldCreateOptions{
					StateID:  args[0],
					Name:     args[1],
					Type:     domain.FieldType(fieldType),
					Required: required,
					Position: position,
				}
				if cmd.Flags().Changed("min") {
					opts.MinValue = &minValue
				}
				if cmd.Flags().Changed("max") {
					opts.MaxValue = &maxValue
				}
				if cmd.Flags().Changed("default") {
					opts.DefaultValue = &defaultValue
				}
				if cmd.Flags().Changed("max-length") {
					opts.MaxLength = &maxLength
				}
				if cmd.Flags().Changed("check") {
					opts.PCRECheck = &check
				}
				if cmd.Flags().Changed("search") {
					opts.PCRESearch = &search
				}
				if cmd.Flags().Changed("replace") {
					opts.PCREReplace = &replace
				}
				f, err := e.CreateField(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&fieldType, "type", "string", "field type")
	cmd.Flags().BoolVar(&required, "required", false, "value required")
	cmd.Flags().IntVar(&position, "position", 0, "1-based position (0 appends)")
	cmd.Flags().StringVar(&minValue, "min", "", "minimum value")
	cmd.Flags().StringVar(&maxValue, "max", "", "maximum value")
	cmd.Flags().StringVar(&defaultValue, "default", "", "default value")
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "maximum length for string/text")
	cmd.Flags().StringVar(&check, "check", "", "validation pattern")
	cmd.Flags().StringVar(&search, "search", "", "display rewrite search pattern")
	cmd.Flags().StringVar(&replace, "replace", "", "display rewrite replacement")
	return cmd
}

func fieldRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <field-id>",
		Short: "Soft-delete field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveField(ctx, args[0])
			})
		},
	}
}

func fieldItemAddCmd() *cobra.Command {
	var value int64
	cmd := &cobra.Command{
		Use:   "item-add <field-id> <text>",
		Short: "Add list item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddListItem(ctx, args[0], value, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().Int64Var(&value, "value", 0, "item value (unique per field)")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func fieldItemDeleteCmd() *cobra.Command {
	var value int64
	cmd := &cobra.Command{
		Use:   "item-delete <field-id>",
		Short: "Delete list item (refused while in use)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteListItem(ctx, args[0], value)
			})
		},
	}
	cmd.Flags().Int64Var(&value, "value", 0, "item value")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Manage groups"}
	var project string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var projectID *string
				if project != "" {
					projectID = &project
				}
				g, err := e.CreateGroup(ctx, args[0], projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	create.Flags().StringVar(&project, "project", "", "scope group to a project")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "add-member <group-id> <user-id>",
		Short: "Add group member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddGroupMember(ctx, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove-member <group-id> <user-id>",
		Short: "Remove group member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveGroupMember(ctx, args[0], args[1])
			})
		},
	})
	return cmd
}

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grant", Short: "Manage permission grants"}
	cmd.AddCommand(grantRoleCmd())
	cmd.AddCommand(grantGroupCmd())
	return cmd
}

func grantRoleCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "role <kind> <target-id> <role>",
		Short: "Set role grant (level none deletes)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetRoleGrant(ctx,
					domain.TargetKind(args[0]), args[1],
					domain.SystemRole(args[2]), domain.ParseLevel(level))
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "ro", "permission level (none|ro|rw)")
	return cmd
}

func grantGroupCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "group <kind> <target-id> <group-id>",
		Short: "Set group grant (level none deletes)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetGroupGrant(ctx,
					domain.TargetKind(args[0]), args[1],
					args[2], domain.ParseLevel(level))
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "ro", "permission level (none|ro|rw)")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure <id> [name]",
		Short: "Create user if missing",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				name := ""
				if len(args) > 1 {
					name = args[1]
				}
				u, err := e.EnsureUser(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	var admin bool
	setAdmin := &cobra.Command{
		Use:   "set-admin <id>",
		Short: "Toggle admin override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetUserAdmin(ctx, args[0], admin)
			})
		},
	}
	setAdmin.Flags().BoolVar(&admin, "admin", true, "admin flag value")
	cmd.AddCommand(setAdmin)
	return cmd
}

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "issue", Short: "Manage issues"}
	cmd.AddCommand(issueCreateCmd())
	cmd.AddCommand(issueMoveCmd())
	cmd.AddCommand(issueSetCmd())
	cmd.AddCommand(issueFieldsCmd())
	cmd.AddCommand(issueHistoryCmd())
	return cmd
}

func issueCreateCmd() *cobra.Command {
	var project, responsible string
	cmd := &cobra.Command{
		Use:   "create <template-id> <subject>",
		Short: "Create issue at the template's initial state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.IssueCreateOptions{
					TemplateID: args[0],
					Subject:    args[1],
					ActorID:    viper.GetString("actor-id"),
				}
				if project != "" {
					opts.ProjectID = &project
				}
				if responsible != "" {
					opts.ResponsibleID = &responsible
				}
				issue, err := e.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&responsible, "responsible", "", "responsible user (assign states)")
	return cmd
}

func issueMoveCmd() *cobra.Command {
	var responsible string
	cmd := &cobra.Command{
		Use:   "move <issue-id> <state-id>",
		Short: "Transition issue to another state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TransitionOptions{
					IssueID:   args[0],
					ToStateID: args[1],
					ActorID:   viper.GetString("actor-id"),
				}
				if responsible != "" {
					opts.ResponsibleID = &responsible
				}
				issue, err := e.Transition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&responsible, "responsible", "", "responsible user (assign states)")
	return cmd
}

func issueSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <issue-id> <field-id> <value>",
		Short: "Set a field value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tz, err := viewerTimezone()
				if err != nil {
					return err
				}
				return e.SetFieldValue(ctx, engine.SetFieldValueOptions{
					IssueID: args[0],
					FieldID: args[1],
					ActorID: viper.GetString("actor-id"),
					Value:   args[2],
					TZ:      tz,
				})
			})
		},
	}
}

func issueFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <issue-id>",
		Short: "Show field values visible to the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tz, err := viewerTimezone()
				if err != nil {
					return err
				}
				views, err := e.ReadFieldValues(ctx, args[0], viper.GetString("actor-id"), tz)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Type", "Value", "Display"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.Field.Name, v.Field.Type, v.Value, v.Display})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <issue-id>",
		Short: "Show change history visible to the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tz, err := viewerTimezone()
				if err != nil {
					return err
				}
				entries, err := e.History(ctx, args[0], viper.GetString("actor-id"), tz)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Event", "Actor", "Field", "Old", "New"})
				for _, he := range entries {
					field, old, next := "(subject)", "", ""
					if he.Field != nil {
						field = he.Field.Name
					}
					if he.OldValue != nil {
						old = *he.OldValue
					}
					if he.NewValue != nil {
						next = *he.NewValue
					}
					tw.AppendRow(table.Row{he.CreatedAt, he.EventType, he.ActorID, field, old, next})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TRACKER_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("TRACKER_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Tracker API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to tracker.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to tracker.yml)")
	return cmd
}

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
	e := engine.New(conn)
	actor := viper.GetString("actor-id")
	if actor != "" {
		if _, err := e.EnsureUser(ctx, actor, ""); err != nil {
			return err
		}
	}
	return fn(ctx, e)
}

func viewerTimezone() (*time.Location, error) {
	zone := viper.GetString("timezone")
	if zone == "" {
		cfg, err := config.Load(viper.GetString("workspace"))
		if err != nil {
			return nil, err
		}
		return cfg.Location(), nil
	}
	return time.LoadLocation(zone)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
