package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gdcli/apiclients/gooddata"
	"gdcli/db"
	"gdcli/internal/mounts"
	"gdcli/internal/token"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

// fakeClient records the calls made by the handlers.
type fakeClient struct {
	logins        int
	loginUser     string
	loginPassword string
	loginErr      error
	resumed       *token.ExtendedToken
	loggedOut     bool
	authToken     string

	projects []gooddata.Project
	reports  []gooddata.Report
	created  string
	deleted  []string

	exportReport string
	exportFormat string
	document     []byte

	ldmProject string
	maql       string
	entries    []gooddata.ManageEntry

	upload     gooddata.UploadRequest
	uploadData string
}

func (f *fakeClient) Login(ctx context.Context, user, password string) (*token.ExtendedToken, error) {
	f.logins++
	f.loginUser, f.loginPassword = user, password
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	sst, err := token.NewExtendedToken(token.SuperSecuredToken, &oauth2.Token{
		AccessToken: "sst-" + user,
		Expiry:      time.Now().Add(time.Hour),
	})
	if err != nil {
		return nil, err
	}
	sst.User = user
	sst.Profile = "/gdc/account/profile/1"
	sst.State = "/gdc/account/login/1"
	return sst, nil
}

func (f *fakeClient) Resume(sst *token.ExtendedToken) error {
	f.resumed = sst
	return nil
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.loggedOut = true
	return nil
}

func (f *fakeClient) SetAuthorizationToken(authToken string) {
	f.authToken = authToken
}

func (f *fakeClient) Projects(ctx context.Context) ([]gooddata.Project, error) {
	return f.projects, nil
}

func (f *fakeClient) CreateProject(ctx context.Context, title, summary string) (string, error) {
	f.created = title + "|" + summary
	return "/gdc/projects/new1", nil
}

func (f *fakeClient) DeleteProject(ctx context.Context, uri string) error {
	f.deleted = append(f.deleted, uri)
	return nil
}

func (f *fakeClient) Reports(ctx context.Context, projectURI string) ([]gooddata.Report, error) {
	return f.reports, nil
}

func (f *fakeClient) ExportReport(ctx context.Context, reportURI, format string) ([]byte, error) {
	f.exportReport, f.exportFormat = reportURI, format
	return f.document, nil
}

func (f *fakeClient) LDMPicture(ctx context.Context, projectURI string) ([]byte, error) {
	f.ldmProject = projectURI
	return []byte("png"), nil
}

func (f *fakeClient) LDMManage(ctx context.Context, projectURI, maql string) ([]gooddata.ManageEntry, error) {
	f.ldmProject, f.maql = projectURI, maql
	return f.entries, nil
}

func (f *fakeClient) Upload(ctx context.Context, ur gooddata.UploadRequest) error {
	b, err := io.ReadAll(ur.Data)
	if err != nil {
		return err
	}
	f.upload = ur
	f.uploadData = string(b)
	return nil
}

// fakePrompter stands in for a terminal.
type fakePrompter struct {
	terminal bool
	password string
	prompts  []string
}

func (p *fakePrompter) IsTerminal() bool { return p.terminal }

func (p *fakePrompter) ReadPassword(prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	return p.password, nil
}

// setupStore opens a session store in a temporary directory.
func setupStore(t *testing.T) *db.DB {
	t.Helper()
	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		t.Fatal(err)
	}
	store, err := db.NewConnection(context.Background(), filepath.Join(t.TempDir(), "gdcli.db"), sqlFS, nil)
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// setup returns an app using fakes, with an optional store.
func setup(t *testing.T, store Store) (*App, *fakeClient, *fakePrompter, *bytes.Buffer) {
	t.Helper()
	client := &fakeClient{}
	prompter := &fakePrompter{}
	out := new(bytes.Buffer)
	opts := Options{
		Client:      client,
		Prompter:    prompter,
		Out:         out,
		HistorySize: 10,
	}
	if store != nil {
		opts.Store = store
	}
	return New(opts), client, prompter, out
}

// loggedIn returns an app which has logged in as analyst.
func loggedIn(t *testing.T) (*App, *fakeClient, *bytes.Buffer) {
	t.Helper()
	a, client, _, out := setup(t, nil)
	if err := a.Begin(context.Background(), Globals{User: "analyst", Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	if err := a.authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	return a, client, out
}

func TestRequiredParameters(t *testing.T) {

	ctx := context.Background()
	a, client, _, _ := setup(t, nil)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"login", func() error { return a.Login(ctx, "", "") }, ErrUserRequired},
		{"login no terminal", func() error { return a.Login(ctx, "analyst", "") }, ErrPasswordRequired},
		{"logout", func() error { return a.Logout(ctx) }, ErrNotLoggedIn},
		{"lsprojects", func() error { return a.ListProjects(ctx) }, ErrNotLoggedIn},
		{"rmproject", func() error { return a.RemoveProject(ctx, "") }, ErrProjectRequired},
		{"mkproject", func() error { return a.MakeProject(ctx, "", "summary", "") }, ErrTitleRequired},
		{"lsreports", func() error { return a.ListReports(ctx, "") }, ErrProjectRequired},
		{"export", func() error { return a.Export(ctx, "", "pdf", "out.pdf") }, ErrReportRequired},
		{"model", func() error { return a.Model(ctx, "", "") }, ErrProjectRequired},
		{"chmodel", func() error { return a.ChangeModel(ctx, "abc123", "") }, ErrMAQLRequired},
		{"chmodel project", func() error { return a.ChangeModel(ctx, "", "model.maql") }, ErrProjectRequired},
		{"upload", func() error { return a.Upload(ctx, "abc123", "", "") }, ErrManifestRequired},
		{"upload project", func() error { return a.Upload(ctx, "", "manifest.json", "") }, ErrProjectRequired},
		{"export logged out", func() error { return a.Export(ctx, "/gdc/md/abc123/obj/1", "", "") }, ErrNotLoggedIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v want %v", err, tt.want)
			}
		})
	}
	if got, want := client.logins, 0; got != want {
		t.Errorf("logins got %d want %d", got, want)
	}
	if got, want := ErrProjectRequired.Error(), "project URI required"; got != want {
		t.Errorf("message got %q want %q", got, want)
	}
}

func TestLoginPrompt(t *testing.T) {

	ctx := context.Background()
	a, client, prompter, out := setup(t, nil)
	prompter.terminal = true
	prompter.password = "from-terminal"

	if err := a.Login(ctx, "analyst", ""); err != nil {
		t.Fatal(err)
	}
	if got, want := client.loginPassword, "from-terminal"; got != want {
		t.Errorf("password got %q want %q", got, want)
	}
	if diff := cmp.Diff([]string{"Password for analyst: "}, prompter.prompts); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
	if got, want := out.String(), "logged in as analyst\n"; got != want {
		t.Errorf("output got %q want %q", got, want)
	}

	// an explicit password is not prompted for
	prompter.prompts = nil
	if err := a.Login(ctx, "other", "given"); err != nil {
		t.Fatal(err)
	}
	if len(prompter.prompts) != 0 {
		t.Errorf("unexpected prompts %v", prompter.prompts)
	}
	if got, want := client.loginPassword, "given"; got != want {
		t.Errorf("password got %q want %q", got, want)
	}
}

func TestLoginPositionalDefaults(t *testing.T) {

	ctx := context.Background()
	a, client, _, _ := setup(t, nil)

	if err := a.Begin(ctx, Globals{User: "analyst", Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Login(ctx, "", ""); err != nil {
		t.Fatal(err)
	}
	if got, want := client.loginUser+"/"+client.loginPassword, "analyst/secret"; got != want {
		t.Errorf("credentials got %q want %q", got, want)
	}
}

func TestLazyLogin(t *testing.T) {

	ctx := context.Background()
	a, client, _, out := setup(t, nil)
	client.projects = []gooddata.Project{
		{URI: "/gdc/projects/abc123", Title: "Sales Analytics", Updated: time.Now().Add(-2 * time.Hour)},
		{URI: "/gdc/projects/def456", Title: "Marketing"},
	}

	if err := a.Begin(ctx, Globals{User: "analyst", Password: "secret", Project: "abc123"}); err != nil {
		t.Fatal(err)
	}
	if got, want := client.logins, 0; got != want {
		t.Fatalf("logins before first call got %d want %d", got, want)
	}
	for range 2 {
		if err := a.ListProjects(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := client.logins, 1; got != want {
		t.Errorf("logins got %d want %d", got, want)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got, want := len(lines), 4; got != want {
		t.Fatalf("got %d lines want %d:\n%s", got, want, out.String())
	}
	if !strings.HasPrefix(lines[0], "* /gdc/projects/abc123") || !strings.Contains(lines[0], "2 hours ago") {
		t.Errorf("unexpected selected project line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "  /gdc/projects/def456") || !strings.HasSuffix(lines[1], "-") {
		t.Errorf("unexpected project line %q", lines[1])
	}
}

func TestProjectSelection(t *testing.T) {

	ctx := context.Background()
	a, _, _, out := setup(t, nil)

	if err := a.Project(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "no project selected\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	if err := a.Project(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := a.Project(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "/gdc/projects/abc123\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if got, want := a.PromptText(), "gooddata [abc123]> "; got != want {
		t.Errorf("prompt got %q want %q", got, want)
	}
}

func TestPromptText(t *testing.T) {
	a, _, _, _ := setup(t, nil)
	if got, want := a.PromptText(), "gooddata> "; got != want {
		t.Errorf("prompt got %q want %q", got, want)
	}
}

func TestRemoveProject(t *testing.T) {

	ctx := context.Background()
	a, client, out := loggedIn(t)

	if err := a.Project(ctx, "/gdc/projects/abc123"); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveProject(ctx, "def456"); err != nil {
		t.Fatal(err)
	}
	if got, want := a.Session().Project, "/gdc/projects/abc123"; got != want {
		t.Errorf("selection got %q want %q", got, want)
	}

	if err := a.RemoveProject(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := a.Session().Project, ""; got != want {
		t.Errorf("selection got %q want %q", got, want)
	}
	if diff := cmp.Diff([]string{"/gdc/projects/def456", "/gdc/projects/abc123"}, client.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "deleted /gdc/projects/abc123") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestConfiguredProject(t *testing.T) {

	ctx := context.Background()
	client := &fakeClient{
		projects: []gooddata.Project{{URI: "/gdc/projects/abc123", Title: "Sales Analytics"}},
	}
	out := new(bytes.Buffer)
	a := New(Options{
		Client:   client,
		Prompter: &fakePrompter{},
		Out:      out,
		Project:  "abc123",
	})
	if err := a.Begin(ctx, Globals{User: "analyst", Password: "secret"}); err != nil {
		t.Fatal(err)
	}

	if err := a.Project(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(out.String()), "/gdc/projects/abc123"; got != want {
		t.Errorf("project got %q want %q", got, want)
	}
	if got, want := a.PromptText(), "gooddata [abc123]> "; got != want {
		t.Errorf("prompt got %q want %q", got, want)
	}

	out.Reset()
	if err := a.ListProjects(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "* /gdc/projects/abc123") {
		t.Errorf("configured project not marked:\n%s", out.String())
	}

	if err := a.RemoveProject(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/gdc/projects/abc123"}, client.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if got, want := a.Session().Project, ""; got != want {
		t.Errorf("selection after rmproject got %q want %q", got, want)
	}
}

func TestMakeProject(t *testing.T) {

	ctx := context.Background()
	a, client, out := loggedIn(t)

	if err := a.MakeProject(ctx, "Sales", "Quarterly", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if got, want := client.created, "Sales|Quarterly"; got != want {
		t.Errorf("created got %q want %q", got, want)
	}
	if got, want := client.authToken, "tok-1"; got != want {
		t.Errorf("authorization token got %q want %q", got, want)
	}
	if got, want := a.Session().Project, "/gdc/projects/new1"; got != want {
		t.Errorf("selection got %q want %q", got, want)
	}
	if got, want := out.String(), "/gdc/projects/new1\n"; got != want {
		t.Errorf("output got %q want %q", got, want)
	}
}

func TestListReports(t *testing.T) {

	ctx := context.Background()
	a, client, out := loggedIn(t)

	if err := a.ListReports(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "no reports\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	client.reports = []gooddata.Report{{URI: "/gdc/md/abc123/obj/1001", Title: "Revenue by Region"}}
	out.Reset()
	if err := a.ListReports(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "/gdc/md/abc123/obj/1001  Revenue by Region  -\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestExportTarget(t *testing.T) {

	const report = "/gdc/md/abc123/obj/1001"
	tests := []struct {
		format, file         string
		wantFormat, wantFile string
	}{
		{"", "", "pdf", "1001.pdf"},
		{"", "report.xlsx", "xlsx", "report.xlsx"},
		{"", "Report.CSV", "csv", "Report.CSV"},
		{"", "report", "pdf", "report"},
		{"", "out.d/report", "pdf", "out.d/report"},
		{"XLS", "", "xls", "1001.xls"},
		{"png", "chart.pdf", "png", "chart.pdf"},
		{"", "archive.tar.gz", "gz", "archive.tar.gz"},
	}
	for _, tt := range tests {
		gotFormat, gotFile := exportTarget(report, tt.format, tt.file)
		if gotFormat != tt.wantFormat || gotFile != tt.wantFile {
			t.Errorf("exportTarget(%q, %q) got %q %q want %q %q",
				tt.format, tt.file, gotFormat, gotFile, tt.wantFormat, tt.wantFile)
		}
	}
}

func TestExport(t *testing.T) {

	ctx := context.Background()
	a, client, out := loggedIn(t)
	client.document = []byte("id,amount\n1,10\n")

	file := filepath.Join(t.TempDir(), "revenue.CSV")
	if err := a.Export(ctx, "/gdc/md/abc123/obj/1001", "", file); err != nil {
		t.Fatal(err)
	}
	if got, want := client.exportFormat, "csv"; got != want {
		t.Errorf("format got %q want %q", got, want)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(client.document), string(b)); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	if got, want := out.String(), "saved "+file+" (15 B)\n"; got != want {
		t.Errorf("output got %q want %q", got, want)
	}

	err = a.Export(ctx, "/gdc/md/abc123/obj/1001", "", filepath.Join(t.TempDir(), "notes.txt"))
	if err == nil || !strings.Contains(err.Error(), `unsupported export format "txt"`) {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestModel(t *testing.T) {

	ctx := context.Background()
	a, client, _ := loggedIn(t)

	t.Chdir(t.TempDir())
	if err := a.Project(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := a.Model(ctx, "", ""); err != nil {
		t.Fatal(err)
	}
	if got, want := client.ldmProject, "/gdc/projects/abc123"; got != want {
		t.Errorf("project got %q want %q", got, want)
	}
	if _, err := os.Stat(defaultModelFile); err != nil {
		t.Errorf("model picture not saved: %v", err)
	}
}

func TestChangeModel(t *testing.T) {

	ctx := context.Background()
	a, client, out := loggedIn(t)
	client.entries = []gooddata.ManageEntry{{Link: "/gdc/md/abc123/obj/77", Category: "dataSet"}}

	maqlFile := filepath.Join(t.TempDir(), "model.maql")
	const maql = `CREATE DATASET {dataset.sales};`
	if err := os.WriteFile(maqlFile, []byte(maql), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.ChangeModel(ctx, "abc123", maqlFile); err != nil {
		t.Fatal(err)
	}
	if got, want := client.maql, maql; got != want {
		t.Errorf("maql got %q want %q", got, want)
	}
	want := "dataSet\t/gdc/md/abc123/obj/77\nmodel updated (1 entry)\n"
	if got := out.String(); got != want {
		t.Errorf("output got %q want %q", got, want)
	}

	if err := a.ChangeModel(ctx, "abc123", filepath.Join(t.TempDir(), "missing.maql")); err == nil {
		t.Error("expected error for missing maql file")
	}
}

func TestUpload(t *testing.T) {

	ctx := context.Background()
	a, client, _ := loggedIn(t)

	dir := t.TempDir()
	manifest := filepath.Join(dir, "sales.json")
	if err := os.WriteFile(manifest, []byte(`{"dataSetSLIManifest":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sales.csv"), []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Upload(ctx, "abc123", manifest, ""); err != nil {
		t.Fatal(err)
	}
	if got, want := client.uploadData, "id\n1\n"; got != want {
		t.Errorf("data got %q want %q", got, want)
	}
	if got, want := client.upload.ProjectURI, "/gdc/projects/abc123"; got != want {
		t.Errorf("project got %q want %q", got, want)
	}
	if got, want := client.upload.User+"/"+client.upload.Password, "analyst/secret"; got != want {
		t.Errorf("credentials got %q want %q", got, want)
	}

	if err := a.Upload(ctx, "abc123", manifest, filepath.Join(dir, "other.csv")); err == nil {
		t.Error("expected error for missing data file")
	}
}

func TestDefaultDataFile(t *testing.T) {
	tests := map[string]string{
		"manifest.json":         "manifest.csv",
		"dir/upload_info.json":  "dir/upload_info.csv",
		"manifest":              "manifest.csv",
		"dir.d/manifest.v1.txt": "dir.d/manifest.v1.csv",
	}
	for in, want := range tests {
		if got := defaultDataFile(in); got != want {
			t.Errorf("defaultDataFile(%q) got %q want %q", in, got, want)
		}
	}
}

func TestSessionPersistence(t *testing.T) {

	ctx := context.Background()
	store := setupStore(t)

	first, _, _, _ := setup(t, store)
	if err := first.Begin(ctx, Globals{User: "analyst", Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	if err := first.Login(ctx, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := first.Project(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}

	stored, err := store.SessionGet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := stored.SST, "sst-analyst"; got != want {
		t.Errorf("stored sst got %q want %q", got, want)
	}

	// a later invocation resumes the session without logging in
	second, client, _, _ := setup(t, store)
	if err := second.Begin(ctx, Globals{User: "analyst"}); err != nil {
		t.Fatal(err)
	}
	if client.resumed == nil || client.resumed.Token.AccessToken != "sst-analyst" {
		t.Fatalf("session not resumed: %+v", client.resumed)
	}
	if got, want := client.resumed.Profile, "/gdc/account/profile/1"; got != want {
		t.Errorf("profile got %q want %q", got, want)
	}
	if err := second.ListProjects(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := client.logins, 0; got != want {
		t.Errorf("logins got %d want %d", got, want)
	}
	if got, want := second.Session().Project, "/gdc/projects/abc123"; got != want {
		t.Errorf("project got %q want %q", got, want)
	}
	if got, want := second.Session().Password, ""; got != want {
		t.Errorf("password should not be stored, got %q", got)
	}

	if err := second.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if !client.loggedOut {
		t.Error("client not logged out")
	}
	if _, err := store.SessionGet(ctx); !errors.Is(err, db.ErrNoSession) {
		t.Errorf("expected ErrNoSession after logout, got %v", err)
	}
}

func TestSessionExpired(t *testing.T) {

	ctx := context.Background()
	store := setupStore(t)
	err := store.SessionUpsert(ctx, db.Session{
		User:      "analyst",
		SST:       "old-sst",
		SSTExpiry: time.Now().Add(-time.Hour).Unix(),
		Project:   "/gdc/projects/abc123",
	})
	if err != nil {
		t.Fatal(err)
	}

	a, client, _, _ := setup(t, store)
	if err := a.Begin(ctx, Globals{}); err != nil {
		t.Fatal(err)
	}
	if client.resumed != nil {
		t.Error("expired session should not be resumed")
	}
	if err := a.ListProjects(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
	if got, want := a.Session().Project, "/gdc/projects/abc123"; got != want {
		t.Errorf("project got %q want %q", got, want)
	}
}

func TestHistory(t *testing.T) {

	ctx := context.Background()
	store := setupStore(t)
	a, _, _, out := setup(t, store)

	for _, l := range []string{"lsprojects", "project abc123", "lsreports"} {
		if err := a.AddHistory(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.History(ctx, 2); err != nil {
		t.Fatal(err)
	}
	want := "   1  project abc123\n   2  lsreports\n"
	if got := out.String(); got != want {
		t.Errorf("history got %q want %q", got, want)
	}
	if err := a.History(ctx, 0); err == nil {
		t.Error("expected error for zero limit")
	}
}
