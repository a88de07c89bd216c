package app

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"gdcli/apiclients/gooddata"

	"github.com/dustin/go-humanize"
)

// defaultModelFile is where the data model picture is saved by default.
const defaultModelFile = "model.png"

// Login logs in, defaulting to the session user and password.
func (a *App) Login(ctx context.Context, user, password string) error {
	if user == "" {
		user = a.session.User
	}
	if password == "" && user == a.session.User {
		password = a.session.Password
	}
	if err := a.login(ctx, user, password); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "logged in as %s\n", user)
	return nil
}

// Logout ends the session and removes the stored copy.
func (a *App) Logout(ctx context.Context) error {
	if a.session.SST == nil {
		return ErrNotLoggedIn
	}
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	a.session.SST = nil
	a.session.Password = ""
	a.needsLogin = false
	if a.store != nil {
		if err := a.store.SessionDelete(ctx); err != nil {
			return fmt.Errorf("could not remove stored session: %w", err)
		}
	}
	_, _ = fmt.Fprintln(a.out, "logged out")
	return nil
}

// ListProjects prints the projects available to the user, marking the selected one.
func (a *App) ListProjects(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	projects, err := a.client.Projects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		_, _ = fmt.Fprintln(a.out, "no projects")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, p := range projects {
		marker := " "
		if p.URI == a.session.Project {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s %s\t%s\t%s\n", marker, p.URI, p.Title, ago(p.Updated))
	}
	return w.Flush()
}

// RemoveProject deletes a project, by default the selected one, clearing the
// selection if it was the project removed.
func (a *App) RemoveProject(ctx context.Context, uri string) error {
	uri, err := a.currentProject(uri)
	if err != nil {
		return err
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if err := a.client.DeleteProject(ctx, uri); err != nil {
		return err
	}
	if uri == a.session.Project {
		a.session.Project = ""
		if err := a.save(ctx); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(a.out, "deleted %s\n", uri)
	return nil
}

// MakeProject creates a project and selects it. A non-empty authToken overrides the
// configured authorization token.
func (a *App) MakeProject(ctx context.Context, title, summary, authToken string) error {
	if title == "" {
		return ErrTitleRequired
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if authToken != "" {
		a.client.SetAuthorizationToken(authToken)
	}
	uri, err := a.client.CreateProject(ctx, title, summary)
	if err != nil {
		return err
	}
	a.session.Project = uri
	if err := a.save(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.out, uri)
	return nil
}

// Project selects the project at uri, or prints the selected project if uri is empty.
func (a *App) Project(ctx context.Context, uri string) error {
	if uri == "" {
		if a.session.Project == "" {
			_, _ = fmt.Fprintln(a.out, "no project selected")
			return nil
		}
		_, _ = fmt.Fprintln(a.out, a.session.Project)
		return nil
	}
	a.session.Project = gooddata.ProjectURI(uri)
	if err := a.save(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "selected %s\n", a.session.Project)
	return nil
}

// ListReports prints the reports of a project, by default the selected one.
func (a *App) ListReports(ctx context.Context, uri string) error {
	uri, err := a.currentProject(uri)
	if err != nil {
		return err
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	reports, err := a.client.Reports(ctx, uri)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		_, _ = fmt.Fprintln(a.out, "no reports")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.URI, r.Title, ago(r.Updated))
	}
	return w.Flush()
}

// Export saves a report as a document. See exportTarget for the format and file
// defaults.
func (a *App) Export(ctx context.Context, reportURI, format, file string) error {
	if reportURI == "" {
		return ErrReportRequired
	}
	format, file = exportTarget(reportURI, format, file)
	if !slices.Contains(gooddata.ExportFormats, format) {
		return fmt.Errorf("unsupported export format %q (want one of %s)", format, strings.Join(gooddata.ExportFormats, ", "))
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	document, err := a.client.ExportReport(ctx, reportURI, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, document, 0o644); err != nil {
		return fmt.Errorf("could not save export: %w", err)
	}
	_, _ = fmt.Fprintf(a.out, "saved %s (%s)\n", file, humanize.Bytes(uint64(len(document))))
	return nil
}

// exportTarget resolves the export format and output file. Without a format, a file
// name containing a dot gives the format by its lower-cased extension, otherwise pdf
// is used. Without a file, the document is saved as <report id>.<format>.
func exportTarget(reportURI, format, file string) (string, string) {
	if format == "" {
		format = "pdf"
		if strings.Contains(filepath.Base(file), ".") {
			if ext := strings.TrimPrefix(filepath.Ext(file), "."); ext != "" {
				format = ext
			}
		}
	}
	format = strings.ToLower(format)
	if file == "" {
		file = path.Base(reportURI) + "." + format
	}
	return format, file
}

// Model saves a picture of a project's data model, by default that of the selected
// project.
func (a *App) Model(ctx context.Context, uri, file string) error {
	uri, err := a.currentProject(uri)
	if err != nil {
		return err
	}
	if file == "" {
		file = defaultModelFile
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	picture, err := a.client.LDMPicture(ctx, uri)
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, picture, 0o644); err != nil {
		return fmt.Errorf("could not save model picture: %w", err)
	}
	_, _ = fmt.Fprintf(a.out, "saved %s (%s)\n", file, humanize.Bytes(uint64(len(picture))))
	return nil
}

// ChangeModel applies the MAQL script in maqlFile to a project's data model.
func (a *App) ChangeModel(ctx context.Context, uri, maqlFile string) error {
	if maqlFile == "" {
		return ErrMAQLRequired
	}
	uri, err := a.currentProject(uri)
	if err != nil {
		return err
	}
	maql, err := os.ReadFile(maqlFile)
	if err != nil {
		return fmt.Errorf("could not read maql file: %w", err)
	}
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	entries, err := a.client.LDMManage(ctx, uri, string(maql))
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(a.out, "%s\t%s\n", e.Category, e.Link)
	}
	_, _ = fmt.Fprintf(a.out, "model updated (%d %s)\n", len(entries), plural(len(entries), "entry", "entries"))
	return nil
}

// Upload loads a data file into a project as described by an SLI manifest. The data
// file defaults to the manifest path with a .csv extension.
func (a *App) Upload(ctx context.Context, uri, manifestFile, dataFile string) error {
	if manifestFile == "" {
		return ErrManifestRequired
	}
	uri, err := a.currentProject(uri)
	if err != nil {
		return err
	}
	if dataFile == "" {
		dataFile = defaultDataFile(manifestFile)
	}
	manifest, err := os.ReadFile(manifestFile)
	if err != nil {
		return fmt.Errorf("could not read manifest: %w", err)
	}
	data, err := os.Open(dataFile)
	if err != nil {
		return fmt.Errorf("could not open data file: %w", err)
	}
	defer func() {
		_ = data.Close()
	}()

	if err := a.authenticate(ctx); err != nil {
		return err
	}
	password, err := a.password()
	if err != nil {
		return err
	}
	err = a.client.Upload(ctx, gooddata.UploadRequest{
		ProjectURI: uri,
		User:       a.session.User,
		Password:   password,
		Manifest:   manifest,
		Data:       data,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "uploaded %s to %s\n", dataFile, uri)
	return nil
}

// password returns the session password, prompting for it on a terminal if it is not
// known, for example when the session was restored from the store.
func (a *App) password() (string, error) {
	if a.session.Password != "" {
		return a.session.Password, nil
	}
	if !a.prompter.IsTerminal() {
		return "", ErrPasswordRequired
	}
	password, err := a.prompter.ReadPassword(fmt.Sprintf("Password for %s: ", a.session.User))
	if err != nil {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	if password == "" {
		return "", ErrPasswordRequired
	}
	a.session.Password = password
	return password, nil
}

// defaultDataFile swaps the manifest file extension for .csv.
func defaultDataFile(manifestFile string) string {
	return strings.TrimSuffix(manifestFile, filepath.Ext(manifestFile)) + ".csv"
}

// History prints up to limit of the most recent shell lines.
func (a *App) History(ctx context.Context, limit int) error {
	if a.store == nil {
		return nil
	}
	if limit <= 0 {
		return fmt.Errorf("invalid history limit %d", limit)
	}
	lines, err := a.store.HistoryGet(ctx, limit)
	if err != nil {
		return err
	}
	for i, l := range lines {
		_, _ = fmt.Fprintf(a.out, "%4d  %s\n", i+1, l)
	}
	return nil
}

// ago describes t relative to now, or "-" for a zero time.
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
