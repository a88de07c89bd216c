package gooddata

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// timeLayout is the layout of the timestamps in GoodData metadata.
const timeLayout = "2006-01-02 15:04:05"

// Time is a GoodData metadata timestamp.
type Time struct {
	time.Time
}

// UnmarshalJSON implements the json.Unmarshaler interface, parsing a GoodData
// timestamp into a UTC time.Time. RFC3339 timestamps are accepted as a fallback.
func (gt *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid gooddata time %q: %w", s, err)
		}
	}
	gt.Time = t.UTC()
	return nil
}

// Project is a remote workspace.
type Project struct {
	URI     string
	Title   string
	Summary string
	Created time.Time
	Updated time.Time
}

// UnmarshalJSON flattens the `{"project":{"meta":{...},"links":{"self":...}}}`
// envelope into a Project.
func (p *Project) UnmarshalJSON(data []byte) error {
	var helper struct {
		Project struct {
			Meta  meta `json:"meta"`
			Links struct {
				Self string `json:"self"`
			} `json:"links"`
		} `json:"project"`
	}
	if err := json.Unmarshal(data, &helper); err != nil {
		return err
	}
	m := helper.Project.Meta
	*p = Project{
		URI:     helper.Project.Links.Self,
		Title:   m.Title,
		Summary: m.Summary,
		Created: m.Created.Time,
		Updated: m.Updated.Time,
	}
	return nil
}

// ID returns the last element of the project URI.
func (p Project) ID() string {
	return path.Base(p.URI)
}

// meta is the metadata block shared by most GoodData objects.
type meta struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Created Time   `json:"created"`
	Updated Time   `json:"updated"`
}

// ProjectsResponse is the structure of the account projects listing.
type ProjectsResponse struct {
	Projects []Project `json:"projects"`
}

// Report is a report definition in a project.
type Report struct {
	URI     string
	Title   string
	Summary string
	Created time.Time
	Updated time.Time
}

// UnmarshalJSON reads a metadata query entry into a Report.
func (r *Report) UnmarshalJSON(data []byte) error {
	var helper struct {
		Link string `json:"link"`
		meta
	}
	if err := json.Unmarshal(data, &helper); err != nil {
		return err
	}
	*r = Report{
		URI:     helper.Link,
		Title:   helper.Title,
		Summary: helper.Summary,
		Created: helper.Created.Time,
		Updated: helper.Updated.Time,
	}
	return nil
}

// ID returns the last element of the report URI.
func (r Report) ID() string {
	return path.Base(r.URI)
}

// QueryResponse is the structure of a metadata query such as /query/reports.
type QueryResponse struct {
	Query struct {
		Entries []Report `json:"entries"`
	} `json:"query"`
}

// loginRequest is the body posted to /gdc/account/login.
type loginRequest struct {
	PostUserLogin struct {
		Login       string `json:"login"`
		Password    string `json:"password"`
		Remember    int    `json:"remember"`
		VerifyLevel int    `json:"verify_level"`
	} `json:"postUserLogin"`
}

// loginResponse is the login reply when verify_level 2 is requested.
type loginResponse struct {
	UserLogin struct {
		Profile string `json:"profile"`
		State   string `json:"state"`
		Token   string `json:"token"`
	} `json:"userLogin"`
}

// tokenResponse is the reply from /gdc/account/token.
type tokenResponse struct {
	UserToken struct {
		Token string `json:"token"`
	} `json:"userToken"`
}

// createProjectRequest is the body posted to /gdc/projects.
type createProjectRequest struct {
	Project struct {
		Meta struct {
			Title   string `json:"title"`
			Summary string `json:"summary,omitempty"`
		} `json:"meta"`
		Content struct {
			GuidedNavigation   int    `json:"guidedNavigation"`
			Driver             string `json:"driver"`
			AuthorizationToken string `json:"authorizationToken,omitempty"`
		} `json:"content"`
	} `json:"project"`
}

// uriResponse is the common `{"uri": ...}` reply.
type uriResponse struct {
	URI string `json:"uri"`
}

// exportRequest is the body posted to the exporter.
type exportRequest struct {
	ResultReq struct {
		Format string          `json:"format"`
		Result json.RawMessage `json:"result"`
	} `json:"result_req"`
}

// executeRequest is the body posted to the report executor.
type executeRequest struct {
	ReportReq struct {
		Report string `json:"report"`
	} `json:"report_req"`
}

// ManageEntry is a link to an object created or altered by a MAQL script.
type ManageEntry struct {
	Link     string `json:"link"`
	Category string `json:"category"`
}

// manageRequest is the body posted to /ldm/manage.
type manageRequest struct {
	Manage struct {
		MAQL string `json:"maql"`
	} `json:"manage"`
}

// manageResponse is the reply from /ldm/manage.
type manageResponse struct {
	Entries []ManageEntry `json:"entries"`
}

// pullRequest is the body posted to /etl/pull.
type pullRequest struct {
	PullIntegration string `json:"pullIntegration"`
}

// pullResponse is the reply from /etl/pull.
type pullResponse struct {
	PullTask struct {
		URI string `json:"uri"`
	} `json:"pullTask"`
}

// taskStatusResponse is the reply when polling an etl task.
type taskStatusResponse struct {
	TaskStatus string `json:"taskStatus"`
}

// ldmOptions are the query parameters of the ldm picture request.
type ldmOptions struct {
	IncludeCA bool `url:"includeCA"`
}
