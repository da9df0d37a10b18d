package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/export"
)

const dateLayout = "2006-01-02"

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	kind, err := analytics.ParseReportKind(chi.URLParam(r, "report"))
	if err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.parseQuery(r.URL.Query())
	if err != nil {
		fail(w, r, err)
		return
	}
	v, err := h.reports.Report(r.Context(), kind, q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	kind, err := analytics.ParseReportKind(params.Get("report"))
	if err != nil {
		fail(w, r, err)
		return
	}
	format, err := export.ParseFormat(params.Get("format"))
	if err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.parseQuery(params)
	if err != nil {
		fail(w, r, err)
		return
	}

	table, err := h.reports.Export(r.Context(), kind, q)
	if err != nil {
		fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exporter.Write(&buf, table, format); err != nil {
		fail(w, r, err)
		return
	}

	name := fmt.Sprintf("%s-%s.%s", kind, time.Now().In(h.cfg.Location).Format(dateLayout), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// parseQuery reads the shared report parameters. Dates without a time are
// read in the configured location and a date-only "to" covers the whole day.
func (h *Handler) parseQuery(v url.Values) (analytics.Query, error) {
	var (
		q   analytics.Query
		err error
	)
	if q.From, err = h.parseTime("from", v.Get("from"), false); err != nil {
		return q, err
	}
	if q.To, err = h.parseTime("to", v.Get("to"), true); err != nil {
		return q, err
	}
	if s := v.Get("group_by"); s != "" {
		if q.GroupBy, err = timebucket.Parse(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return q, apperr.Validation("limit", "not a number: %q", s)
		}
	}
	if s := v.Get("include_cancelled"); s != "" {
		if q.IncludeCancelled, err = strconv.ParseBool(s); err != nil {
			return q, apperr.Validation("include_cancelled", "not a boolean: %q", s)
		}
	}
	q.Sort = v.Get("sort")
	q.Category = v.Get("category")
	q.Market = v.Get("market")
	q.CampaignID = v.Get("campaign")
	return q, q.Validate()
}

func (h *Handler) parseTime(field, s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, h.cfg.Location)
	if err != nil {
		return nil, apperr.Validation(field, "want RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
