package gooddata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/go-querystring/query"
)

// ExportFormats are the document formats the exporter produces.
var ExportFormats = []string{"pdf", "xls", "xlsx", "csv", "png"}

// ExportReport executes a report and exports the result as a document in the given
// format, returning the document bytes. The exporter works asynchronously, so the
// result is polled until ready.
func (c *APIClient) ExportReport(ctx context.Context, reportURI, format string) ([]byte, error) {
	format = strings.ToLower(format)
	if !slices.Contains(ExportFormats, format) {
		return nil, fmt.Errorf("unsupported export format %q (want one of %s)", format, strings.Join(ExportFormats, ", "))
	}

	// Execute the report.
	var execBody executeRequest
	execBody.ReportReq.Report = reportURI
	req, err := c.newRequest(ctx, http.MethodPost, c.url("/gdc/xtab2/executor3"), execBody)
	if err != nil {
		return nil, err
	}
	var execResult json.RawMessage
	if _, err := do(c, req, &execResult); err != nil {
		c.log.Error(fmt.Sprintf("ExportReport: execution error: %v", err))
		return nil, fmt.Errorf("failed to execute report: %w", err)
	}

	// Ask the exporter for a document of the execution result.
	var exportBody exportRequest
	exportBody.ResultReq.Format = format
	exportBody.ResultReq.Result = execResult
	req, err = c.newRequest(ctx, http.MethodPost, c.url("/gdc/exporter/executor"), exportBody)
	if err != nil {
		return nil, err
	}
	var exported uriResponse
	if _, err := do(c, req, &exported); err != nil {
		c.log.Error(fmt.Sprintf("ExportReport: export error: %v", err))
		return nil, fmt.Errorf("failed to export report: %w", err)
	}
	if exported.URI == "" {
		return nil, errors.New("export response did not contain a result uri")
	}
	c.log.Debug(fmt.Sprintf("ExportReport: polling %s", exported.URI))

	var document []byte
	err = c.poll(ctx, func() (bool, error) {
		req, err := c.newRequest(ctx, http.MethodGet, c.url(exported.URI), nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "*/*")
		status, body, err := c.fetch(req)
		if err != nil {
			return false, err
		}
		if status == http.StatusAccepted {
			return false, nil
		}
		document = body
		return true, nil
	})
	if err != nil {
		c.log.Error(fmt.Sprintf("ExportReport: result error: %v", err))
		return nil, fmt.Errorf("failed to retrieve exported report: %w", err)
	}
	c.log.Info(fmt.Sprintf("ExportReport: exported %d bytes as %s", len(document), format))
	return document, nil
}

// LDMPicture returns a PNG image of the project's logical data model.
func (c *APIClient) LDMPicture(ctx context.Context, projectURI string) ([]byte, error) {
	id, err := ProjectID(projectURI)
	if err != nil {
		return nil, err
	}
	params, err := query.Values(ldmOptions{IncludeCA: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ldm options: %w", err)
	}
	requestURL := c.url(fmt.Sprintf("/gdc/projects/%s/ldm?%s", id, params.Encode()))
	c.log.Debug(fmt.Sprintf("LDMPicture request %v", requestURL))

	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/png")
	_, body, err := c.fetch(req)
	if err != nil {
		c.log.Error(fmt.Sprintf("LDMPicture: request error: %v", err))
		return nil, fmt.Errorf("failed to retrieve data model picture: %w", err)
	}
	return body, nil
}

// LDMManage runs a MAQL script against the project's logical data model, returning
// the entries created or altered.
func (c *APIClient) LDMManage(ctx context.Context, projectURI, maql string) ([]ManageEntry, error) {
	id, err := ProjectID(projectURI)
	if err != nil {
		return nil, err
	}
	var body manageRequest
	body.Manage.MAQL = maql

	req, err := c.newRequest(ctx, http.MethodPost, c.url(fmt.Sprintf("/gdc/md/%s/ldm/manage", id)), body)
	if err != nil {
		return nil, err
	}
	var response manageResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("LDMManage: request error: %v", err))
		return nil, fmt.Errorf("failed to apply maql: %w", err)
	}
	c.log.Info(fmt.Sprintf("LDMManage: %d entries", len(response.Entries)))
	return response.Entries, nil
}
