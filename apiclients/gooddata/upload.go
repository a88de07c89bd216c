package gooddata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"
)

const (
	manifestName = "upload_info.json"
	dataName     = "data.csv"
	archiveName  = "upload.zip"
)

// errUploadFinished closes the archive pipe once the upload request has returned.
var errUploadFinished = errors.New("upload request finished")

// UploadRequest describes a data upload. The WebDAV staging area authenticates with
// the account's user name and password.
type UploadRequest struct {
	ProjectURI string
	User       string
	Password   string
	Manifest   []byte    // SLI manifest, stored as upload_info.json
	Data       io.Reader // csv data, stored as data.csv
}

// Upload stages a zip of the manifest and data on the WebDAV server and asks the
// project to integrate it, waiting for the integration task to finish.
func (c *APIClient) Upload(ctx context.Context, ur UploadRequest) error {
	id, err := ProjectID(ur.ProjectURI)
	if err != nil {
		return err
	}
	if len(ur.Manifest) == 0 {
		return errors.New("empty manifest")
	}
	if ur.Data == nil {
		return errors.New("no data to upload")
	}
	if c.webdavURL == "" {
		return errors.New("no webdav server configured")
	}

	dir := uuid.NewString()
	dirURL := fmt.Sprintf("%s/%s/", c.webdavURL, dir)

	if err := c.webdav(ctx, "MKCOL", dirURL, nil, ur); err != nil {
		c.log.Error(fmt.Sprintf("Upload: mkcol error: %v", err))
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	c.log.Debug(fmt.Sprintf("Upload: created %s", dirURL))

	if err := c.putArchive(ctx, dirURL+archiveName, ur); err != nil {
		c.log.Error(fmt.Sprintf("Upload: put error: %v", err))
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.url(fmt.Sprintf("/gdc/md/%s/etl/pull", id)), pullRequest{PullIntegration: dir})
	if err != nil {
		return err
	}
	var pull pullResponse
	if _, err := do(c, req, &pull); err != nil {
		c.log.Error(fmt.Sprintf("Upload: pull error: %v", err))
		return fmt.Errorf("failed to start data integration: %w", err)
	}
	if pull.PullTask.URI == "" {
		return errors.New("pull response did not contain a task uri")
	}

	err = c.poll(ctx, func() (bool, error) {
		req, err := c.newRequest(ctx, http.MethodGet, c.url(pull.PullTask.URI), nil)
		if err != nil {
			return false, err
		}
		var status taskStatusResponse
		if _, err := do(c, req, &status); err != nil {
			return false, err
		}
		switch strings.ToUpper(status.TaskStatus) {
		case "OK":
			return true, nil
		case "ERROR":
			return false, errors.New("data integration task failed")
		default:
			return false, nil
		}
	})
	if err != nil {
		c.log.Error(fmt.Sprintf("Upload: task error: %v", err))
		return fmt.Errorf("data integration failed: %w", err)
	}
	c.log.Info(fmt.Sprintf("Upload: integrated %s into %s", dir, id))
	return nil
}

// putArchive streams the zip archive to url. The archive is written into a pipe by
// one goroutine while the request reads from it in another.
func (c *APIClient) putArchive(ctx context.Context, url string, ur UploadRequest) error {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	var archiveErr error
	g.Go(func() error {
		archiveErr = writeArchive(pw, ur.Manifest, ur.Data)
		_ = pw.CloseWithError(archiveErr)
		return archiveErr
	})

	g.Go(func() error {
		defer func() {
			_ = pr.CloseWithError(errUploadFinished)
		}()
		return c.webdav(gctx, http.MethodPut, url, pr, ur)
	})

	err := g.Wait()
	// a failed archive write also fails the request; report the cause
	if archiveErr != nil && !errors.Is(archiveErr, errUploadFinished) {
		return archiveErr
	}
	return err
}

// writeArchive writes the manifest and data as a zip archive to w.
func writeArchive(w io.Writer, manifest []byte, data io.Reader) error {
	zw := zip.NewWriter(w)
	f, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("could not add manifest to archive: %w", err)
	}
	if _, err := f.Write(manifest); err != nil {
		return fmt.Errorf("could not write manifest to archive: %w", err)
	}
	f, err = zw.Create(dataName)
	if err != nil {
		return fmt.Errorf("could not add data to archive: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("could not write data to archive: %w", err)
	}
	return zw.Close()
}

// webdav makes a basic-authenticated request against the WebDAV staging server.
func (c *APIClient) webdav(ctx context.Context, method, url string, body io.Reader, ur UploadRequest) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(ur.User, ur.Password)
	if method == http.MethodPut {
		req.Header.Set("Content-Type", "application/zip")
	}
	_, err = send[struct{}](c.httpClient, req, nil)
	return err
}
