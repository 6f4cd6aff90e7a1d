package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/subject-visit-tracking/internal/export"
)

func exportHandler(ex *export.Exporter, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := changeLogFilter(r, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}

		art, err := ex.Export(r.Context(), export.Request{
			Kind:      export.Kind(chi.URLParam(r, "kind")),
			Format:    export.Format(r.URL.Query().Get("format")),
			SubjectID: f.SubjectID,
			Types:     f.Types,
			From:      f.From,
			To:        f.To,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", art.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
		w.Header().Set("X-Export-Rows", strconv.Itoa(art.Rows))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(art.Data)
	}
}

func listArchivesHandler(ex *export.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := ex.Archives(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}
