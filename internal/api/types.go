package api

import (
	"net/http"
	"strings"

	"marketplace-report-proxy/internal/marketplace"
)

const (
	msgUnauthorized     = "Unauthorized"
	msgMissingDates     = "startDate & endDate (epoch ms) required"
	msgTooManyRequests  = "Too many requests"
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
	msgInternal         = "Internal server error"

	defaultPage = "0"
	defaultSize = "200"
)

// ReportRequest 报表查询参数，除去空白外原样转发
type ReportRequest struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	Page      string `form:"page"`
	Size      string `form:"size"`
}

func (r *ReportRequest) Normalize() {
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)
	r.Page = strings.TrimSpace(r.Page)
	r.Size = strings.TrimSpace(r.Size)

	if r.Page == "" {
		r.Page = defaultPage
	}
	if r.Size == "" {
		r.Size = defaultSize
	}
}

func (r *ReportRequest) Validate() error {
	if r.StartDate == "" || r.EndDate == "" {
		return errBadRequest(msgMissingDates)
	}
	return nil
}

func (r ReportRequest) Query() marketplace.Query {
	return marketplace.Query{
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Page:      r.Page,
		Size:      r.Size,
	}
}

type apiError struct {
	Message string
	Code    int
}

func (e apiError) Error() string {
	return e.Message
}

func errBadRequest(message string) error {
	return apiError{Message: message, Code: http.StatusBadRequest}
}
