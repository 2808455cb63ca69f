package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
	"github.com/erp/mabang/internal/mabang/extract"
)

var logURLRe = regexp.MustCompile(`window\.open\('([^']+)'\)`)

// ImportStatus is one row of the order-import job list.
type ImportStatus struct {
	Filename  string
	StartedAt string
	State     string
	Total     int
	Succeeded int
	Failed    int
	LogURL    string
}

// Done reports whether the import job finished processing every row.
func (s *ImportStatus) Done() bool {
	return s.Total > 0 && s.Succeeded+s.Failed >= s.Total
}

// Uploader pushes order-import spreadsheets to the order backend and polls
// their processing status.
type Uploader struct {
	api API
	log *zap.Logger
}

// NewUploader creates an uploader on top of the dispatcher.
func NewUploader(api API, log *zap.Logger) *Uploader {
	return &Uploader{api: api, log: log.Named("upload")}
}

// UploadOrderFile submits an order-import spreadsheet. The import endpoint
// answers with an HTML page rather than the usual envelope, so success is
// judged from the embedded success flag.
func (u *Uploader) UploadOrderFile(ctx context.Context, filename string, content []byte, templateID, shopID string) error {
	fields := url.Values{}
	fields.Set("templateId", templateID)
	fields.Set("shopId", shopID)
	body, err := u.api.PostMultipartRaw(ctx, mabang.EndpointImportOrders, fields, mabang.FormFile{
		Field:       "templetfile",
		Name:        filename,
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     content,
	})
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), `"success":true`) {
		return fmt.Errorf("%w: import of %s rejected", mabang.ErrBusiness, filename)
	}
	u.log.Info("uploaded order file",
		zap.String("file", filename),
		zap.Int("bytes", len(content)))
	return nil
}

// Status returns the import job row for the given filename.
// ErrUploadNotTracked when the job list has no such row.
func (u *Uploader) Status(ctx context.Context, filename string) (*ImportStatus, error) {
	env, err := u.api.Send(ctx, mabang.EndpointImportStatus, "post", url.Values{})
	if err != nil {
		return nil, err
	}
	cells, attrs, ok, err := extract.RowContaining(env.Message, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: import job list: %v", mabang.ErrProtocol, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotTracked, filename)
	}
	if len(cells) < 7 {
		return nil, fmt.Errorf("%w: import row for %s has %d cells",
			mabang.ErrProtocol, filename, len(cells))
	}
	status := &ImportStatus{
		Filename:  cells[1],
		StartedAt: cells[2],
		State:     cells[3],
	}
	for i, dst := range []*int{&status.Total, &status.Succeeded, &status.Failed} {
		n, err := strconv.Atoi(strings.TrimSpace(cells[4+i]))
		if err != nil {
			return nil, fmt.Errorf("%w: import row for %s: count %q is not a number",
				mabang.ErrProtocol, filename, cells[4+i])
		}
		*dst = n
	}
	// The error-log link lives in the row's onclick handler.
	if m := logURLRe.FindStringSubmatch(attrs["onclick"]); m != nil {
		status.LogURL = m[1]
	}
	return status, nil
}

// IsUploaded reports whether the job list tracks the filename at all.
func (u *Uploader) IsUploaded(ctx context.Context, filename string) (bool, error) {
	_, err := u.Status(ctx, filename)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrUploadNotTracked) {
		return false, nil
	}
	return false, err
}
