// Package app holds the command handlers of gdcli. Each handler validates its
// parameters, makes the matching call on the GoodData API client and prints or saves
// the result. Handlers share a Session recording the current user, password and
// project, which is persisted between invocations through a Store.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gdcli/apiclients/gooddata"
	"gdcli/db"
	"gdcli/internal/token"

	"golang.org/x/oauth2"
)

// Validation errors returned by the handlers.
var (
	ErrUserRequired     = errors.New("user required")
	ErrPasswordRequired = errors.New("password required")
	ErrProjectRequired  = errors.New("project URI required")
	ErrReportRequired   = errors.New("report URI required")
	ErrTitleRequired    = errors.New("title required")
	ErrMAQLRequired     = errors.New("maql file required")
	ErrManifestRequired = errors.New("manifest file required")
	ErrNotLoggedIn      = gooddata.ErrNotLoggedIn
)

// APIClient is the part of the GoodData API client used by the handlers.
type APIClient interface {
	Login(ctx context.Context, user, password string) (*token.ExtendedToken, error)
	Resume(sst *token.ExtendedToken) error
	Logout(ctx context.Context) error
	SetAuthorizationToken(authToken string)
	Projects(ctx context.Context) ([]gooddata.Project, error)
	CreateProject(ctx context.Context, title, summary string) (string, error)
	DeleteProject(ctx context.Context, uri string) error
	Reports(ctx context.Context, projectURI string) ([]gooddata.Report, error)
	ExportReport(ctx context.Context, reportURI, format string) ([]byte, error)
	LDMPicture(ctx context.Context, projectURI string) ([]byte, error)
	LDMManage(ctx context.Context, projectURI, maql string) ([]gooddata.ManageEntry, error)
	Upload(ctx context.Context, ur gooddata.UploadRequest) error
}

// Store persists the session and the shell history.
type Store interface {
	SessionGet(ctx context.Context) (db.Session, error)
	SessionUpsert(ctx context.Context, s db.Session) error
	SessionDelete(ctx context.Context) error
	HistoryAdd(ctx context.Context, line string, keep int) error
	HistoryGet(ctx context.Context, limit int) ([]string, error)
}

// Session is the state shared between commands. The password is only ever held in
// memory.
type Session struct {
	User     string
	Password string
	Project  string
	SST      *token.ExtendedToken
}

// Globals are the options given before or with any command.
type Globals struct {
	User     string
	Password string
	Project  string
}

// Options configure an App.
type Options struct {
	Client      APIClient
	Store       Store    // optional
	Prompter    Prompter // optional, defaults to the process terminal
	Out         io.Writer
	Logger      *slog.Logger
	HistorySize int
	User        string // default user
	Project     string // default project
}

// App is the central orchestrator for the application's business logic. It
// coordinates the API client, the local store and the session.
type App struct {
	client      APIClient
	store       Store
	prompter    Prompter
	out         io.Writer
	log         *slog.Logger
	historySize int

	session    Session
	restored   bool // stored session has been loaded
	needsLogin bool // credentials were given which have not yet been used
}

// New creates and returns a new App instance.
func New(opts Options) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Prompter == nil {
		opts.Prompter = NewTermPrompter(os.Stdin, os.Stderr)
	}
	return &App{
		client:      opts.Client,
		store:       opts.Store,
		prompter:    opts.Prompter,
		out:         opts.Out,
		log:         opts.Logger,
		historySize: opts.HistorySize,
		session: Session{
			User:    opts.User,
			Project: gooddata.ProjectURI(opts.Project),
		},
	}
}

// Session returns a copy of the current session.
func (a *App) Session() Session {
	return a.session
}

// Begin prepares the session for a command. The stored session is loaded on first
// use, after which the non-empty global options override it. A user or password
// given here is used to log in before the first call needing authentication.
func (a *App) Begin(ctx context.Context, g Globals) error {
	if !a.restored {
		a.restored = true
		if err := a.restore(ctx); err != nil {
			return err
		}
	}
	if g.User != "" {
		if g.User != a.session.User || a.session.SST == nil {
			a.needsLogin = true
		}
		if g.User != a.session.User {
			a.session.Password = ""
		}
		a.session.User = g.User
	}
	if g.Password != "" && g.Password != a.session.Password {
		a.session.Password = g.Password
		a.needsLogin = true
	}
	if g.Project != "" {
		a.session.Project = gooddata.ProjectURI(g.Project)
	}
	return nil
}

// restore loads the stored session, resuming the stored token if it is still valid.
func (a *App) restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	stored, err := a.store.SessionGet(ctx)
	if errors.Is(err, db.ErrNoSession) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not load session: %w", err)
	}
	if stored.Project != "" {
		a.session.Project = stored.Project
	}
	if stored.User != "" {
		a.session.User = stored.User
	}
	if stored.SST == "" {
		return nil
	}

	sst, err := token.NewExtendedToken(token.SuperSecuredToken, &oauth2.Token{
		AccessToken: stored.SST,
		TokenType:   token.SuperSecuredToken.String(),
		Expiry:      stored.Expiry(),
	})
	if err != nil {
		return fmt.Errorf("invalid stored session: %w", err)
	}
	sst.User = stored.User
	sst.Profile = stored.Profile
	sst.State = stored.State
	if !sst.IsValid() {
		a.log.Debug(fmt.Sprintf("restore: stored session for %s has expired", stored.User))
		return nil
	}
	if err := a.client.Resume(sst); err != nil {
		return err
	}
	a.session.SST = sst
	a.log.Debug(fmt.Sprintf("restore: resumed session for %s", stored.User))
	return nil
}

// save persists the session without the password.
func (a *App) save(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	s := db.Session{
		User:    a.session.User,
		Project: a.session.Project,
	}
	if sst := a.session.SST; sst != nil {
		s.Profile = sst.Profile
		s.State = sst.State
		s.SST = sst.Token.AccessToken
		if !sst.Token.Expiry.IsZero() {
			s.SSTExpiry = sst.Token.Expiry.Unix()
		}
	}
	if err := a.store.SessionUpsert(ctx, s); err != nil {
		return fmt.Errorf("could not save session: %w", err)
	}
	return nil
}

// login logs user in, prompting for a password on a terminal when none is known.
func (a *App) login(ctx context.Context, user, password string) error {
	if user == "" {
		return ErrUserRequired
	}
	if password == "" {
		if !a.prompter.IsTerminal() {
			return ErrPasswordRequired
		}
		var err error
		password, err = a.prompter.ReadPassword(fmt.Sprintf("Password for %s: ", user))
		if err != nil {
			return fmt.Errorf("could not read password: %w", err)
		}
		if password == "" {
			return ErrPasswordRequired
		}
	}

	sst, err := a.client.Login(ctx, user, password)
	if err != nil {
		return err
	}
	a.session.User = user
	a.session.Password = password
	a.session.SST = sst
	a.needsLogin = false
	return a.save(ctx)
}

// authenticate ensures the client holds a session, logging in with the credentials
// given as global options if necessary.
func (a *App) authenticate(ctx context.Context) error {
	if a.needsLogin {
		return a.login(ctx, a.session.User, a.session.Password)
	}
	if a.session.SST == nil {
		return ErrNotLoggedIn
	}
	if !a.session.SST.IsValid() {
		return fmt.Errorf("%w: session expired at %s", ErrNotLoggedIn, a.session.SST.Token.Expiry.Format(time.DateTime))
	}
	return nil
}

// currentProject returns uri normalised, or the selected project if uri is empty.
func (a *App) currentProject(uri string) (string, error) {
	if uri == "" {
		uri = a.session.Project
	}
	if uri == "" {
		return "", ErrProjectRequired
	}
	return gooddata.ProjectURI(uri), nil
}

// PromptText returns the shell prompt, showing the selected project id if any.
func (a *App) PromptText() string {
	if a.session.Project == "" {
		return "gooddata> "
	}
	id, err := gooddata.ProjectID(a.session.Project)
	if err != nil {
		return "gooddata> "
	}
	return fmt.Sprintf("gooddata [%s]> ", id)
}

// AddHistory records a shell line, keeping the configured number of lines.
func (a *App) AddHistory(ctx context.Context, line string) error {
	if a.store == nil {
		return nil
	}
	return a.store.HistoryAdd(ctx, line, a.historySize)
}
