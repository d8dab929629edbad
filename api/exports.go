package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/warp/payroll-engine/export"
	"github.com/warp/payroll-engine/payroll"
)

// ExportDisbursements downloads the disbursement register.
// GET /api/exports/disbursements?month=&year=&status=&format=spreadsheet|document
func (h *Handler) ExportDisbursements(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid format", err)
		return
	}
	filter, err := disbursementFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	list, err := h.Store.ListDisbursements(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list disbursements", err)
		return
	}
	teachers, err := h.Store.ListTeachers(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list teachers", err)
		return
	}
	byID := make(map[payroll.TeacherID]payroll.Teacher, len(teachers))
	for _, t := range teachers {
		byID[t.ID] = t
	}

	title, name := "Salary Disbursements", "disbursements"
	if filter.Period != nil {
		title += " " + filter.Period.String()
		name += "-" + filter.Period.String()
	}
	h.writeExport(w, format, name, export.DisbursementRegister(title, list, byID))
}

// ExportTeachers downloads the teacher roster.
// GET /api/exports/teachers?status=&format=spreadsheet|document
func (h *Handler) ExportTeachers(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid format", err)
		return
	}
	status := payroll.TeacherStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	teachers, err := h.Store.ListTeachers(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list teachers", err)
		return
	}
	h.writeExport(w, format, "teachers", export.TeacherRoster("Teachers", teachers))
}

// writeExport renders into a buffer first so a rendering error can still be
// reported as JSON.
func (h *Handler) writeExport(w http.ResponseWriter, format export.Format, name string, ds export.Dataset) {
	var buf bytes.Buffer
	if err := export.Render(&buf, format, ds); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render export", err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+format.Extension()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
