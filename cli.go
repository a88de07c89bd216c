package main

import (
	"context"
	"fmt"

	"gdcli/shell"

	"github.com/urfave/cli/v3"
)

// Globals are the options accepted by every command.
type Globals struct {
	Config   string // empty for the default configuration file
	Verbose  bool
	User     string
	Password string
	Project  string
}

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Begin(ctx context.Context, g Globals) error
	Login(ctx context.Context, user, password string) error
	Logout(ctx context.Context) error
	ListProjects(ctx context.Context) error
	RemoveProject(ctx context.Context, uri string) error
	MakeProject(ctx context.Context, title, summary, authToken string) error
	Project(ctx context.Context, uri string) error
	ListReports(ctx context.Context, uri string) error
	Export(ctx context.Context, reportURI, format, file string) error
	Model(ctx context.Context, uri, file string) error
	ChangeModel(ctx context.Context, uri, maqlFile string) error
	Upload(ctx context.Context, uri, manifestFile, dataFile string) error
	History(ctx context.Context, limit int) error
	PromptText() string
	AddHistory(ctx context.Context, line string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(application Applicator) *cli.Command {
	// Global flags, inherited by all commands.
	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "log in as this user",
			Sources: cli.EnvVars("GDCLI_USER"),
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"p"},
			Usage:   "password for --user, prompted for on a terminal if omitted",
			Sources: cli.EnvVars("GDCLI_PASSWORD"),
		},
		&cli.StringFlag{
			Name:  "project",
			Usage: "select this project URI or id",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the configuration file (default ~/.gdcli.yaml)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log debug messages",
		},
	}

	uriFlag := &cli.StringFlag{
		Name:  "uri",
		Usage: "project URI or id, defaults to the selected project",
	}

	// Define all application commands.
	loginCmd := &cli.Command{
		Name:      "login",
		Usage:     "Log in to GoodData",
		ArgsUsage: "[USER [PASSWORD]]",
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			arg := positionals(c)
			return application.Login(ctx, arg("user"), arg("password"))
		}),
	}

	logoutCmd := &cli.Command{
		Name:  "logout",
		Usage: "Log out and forget the stored session",
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.Logout(ctx)
		}),
	}

	lsProjectsCmd := &cli.Command{
		Name:  "lsprojects",
		Usage: "List the projects available to you",
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.ListProjects(ctx)
		}),
	}

	rmProjectCmd := &cli.Command{
		Name:      "rmproject",
		Usage:     "Delete a project",
		ArgsUsage: "[URI]",
		Flags:     []cli.Flag{uriFlag},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.RemoveProject(ctx, positionals(c)("uri"))
		}),
	}

	mkProjectCmd := &cli.Command{
		Name:      "mkproject",
		Usage:     "Create a project and select it",
		ArgsUsage: "[TITLE [SUMMARY]]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "project title"},
			&cli.StringFlag{Name: "summary", Usage: "project summary"},
			&cli.StringFlag{Name: "token", Usage: "project authorization token, overriding the configured one"},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			arg := positionals(c)
			return application.MakeProject(ctx, arg("title"), arg("summary"), c.String("token"))
		}),
	}

	projectCmd := &cli.Command{
		Name:      "project",
		Usage:     "Show the selected project, or select one",
		ArgsUsage: "[URI]",
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.Project(ctx, c.Args().First())
		}),
	}

	lsReportsCmd := &cli.Command{
		Name:      "lsreports",
		Usage:     "List the reports in a project",
		ArgsUsage: "[URI]",
		Flags:     []cli.Flag{uriFlag},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.ListReports(ctx, positionals(c)("uri"))
		}),
	}

	exportCmd := &cli.Command{
		Name:      "export",
		Usage:     "Export a report as a document",
		ArgsUsage: "[REPORT_URI [FILE]]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "report", Usage: "report URI"},
			&cli.StringFlag{Name: "format", Usage: "pdf, xls, xlsx, csv or png; taken from the file extension if omitted"},
			&cli.StringFlag{Name: "file", Usage: "output file, defaults to <report id>.<format>"},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			arg := positionals(c)
			report := arg("report")
			return application.Export(ctx, report, c.String("format"), arg("file"))
		}),
	}

	modelCmd := &cli.Command{
		Name:      "model",
		Usage:     "Save a picture of a project's data model",
		ArgsUsage: "[FILE]",
		Flags: []cli.Flag{
			uriFlag,
			&cli.StringFlag{Name: "file", Usage: "output file", Value: "model.png"},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.Model(ctx, c.String("uri"), positionals(c)("file"))
		}),
	}

	chModelCmd := &cli.Command{
		Name:      "chmodel",
		Usage:     "Change a project's data model with a MAQL script",
		ArgsUsage: "[MAQL_FILE]",
		Flags: []cli.Flag{
			uriFlag,
			&cli.StringFlag{Name: "maql", Usage: "file holding the MAQL script"},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.ChangeModel(ctx, c.String("uri"), positionals(c)("maql"))
		}),
	}

	uploadCmd := &cli.Command{
		Name:      "upload",
		Usage:     "Upload data into a project",
		ArgsUsage: "[MANIFEST [DATA]]",
		Flags: []cli.Flag{
			uriFlag,
			&cli.StringFlag{Name: "manifest", Usage: "SLI manifest file"},
			&cli.StringFlag{Name: "data", Usage: "csv data file, defaults to the manifest path with a .csv extension"},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			arg := positionals(c)
			manifest := arg("manifest")
			return application.Upload(ctx, c.String("uri"), manifest, arg("data"))
		}),
	}

	historyCmd := &cli.Command{
		Name:  "history",
		Usage: "Show the most recent shell commands",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "number of commands to show", Value: 20},
		},
		Action: begin(application, func(ctx context.Context, c *cli.Command) error {
			return application.History(ctx, c.Int("limit"))
		}),
	}

	shellCmd := &cli.Command{
		Name:   "shell",
		Usage:  "Run commands interactively (the default)",
		Action: begin(application, runShell(application)),
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "gdcli",
		Usage: "A command line client and shell for the GoodData API",
		Flags: globalFlags,
		Commands: []*cli.Command{
			loginCmd, logoutCmd,
			lsProjectsCmd, rmProjectCmd, mkProjectCmd, projectCmd,
			lsReportsCmd, exportCmd,
			modelCmd, chModelCmd, uploadCmd,
			shellCmd, historyCmd,
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return begin(application, runShell(application))(ctx, c)
		},
	}

	return rootCmd
}

// begin records the global options with the application before running action.
func begin(application Applicator, action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		g := Globals{
			Config:   c.String("config"),
			Verbose:  c.Bool("verbose"),
			User:     c.String("user"),
			Password: c.String("password"),
			Project:  c.String("project"),
		}
		if err := application.Begin(ctx, g); err != nil {
			return err
		}
		return action(ctx, c)
	}
}

// positionals returns a lookup giving a parameter its flag value if set, otherwise
// the next unused positional argument. Parameters must be looked up in argument
// order; a flag wins over the positional fallback.
func positionals(c *cli.Command) func(name string) string {
	next := 0
	return func(name string) string {
		if c.IsSet(name) {
			return c.String(name)
		}
		arg := c.Args().Get(next)
		next++
		if arg != "" {
			return arg
		}
		return c.String(name)
	}
}

// runShell returns an action running the interactive loop. Each line is run as a
// command on a freshly built command tree.
func runShell(application Applicator) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		root := c.Root()
		sh := shell.New(shell.Options{
			In:       root.Reader,
			Out:      root.Writer,
			Commands: commandNames(BuildCLI(application)),
			Dispatch: func(ctx context.Context, args []string) error {
				cmd := BuildCLI(application)
				cmd.Reader, cmd.Writer, cmd.ErrWriter = root.Reader, root.Writer, root.ErrWriter
				cmd.ExitErrHandler = func(context.Context, *cli.Command, error) {}
				return cmd.Run(ctx, append([]string{cmd.Name}, args...))
			},
			Prompt:  application.PromptText,
			History: application,
		})
		return sh.Run(ctx)
	}
}

// commandNames lists the names and aliases of the commands runnable in the shell.
func commandNames(root *cli.Command) []string {
	names := []string{"help"}
	for _, c := range root.Commands {
		if c.Name == "shell" {
			continue
		}
		names = append(names, c.Name)
		names = append(names, c.Aliases...)
	}
	return names
}
