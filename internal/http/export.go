package http

import (
	"bufio"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/qreview/internal/models"
)

var exportColumns = []string{
	"id",
	"company_name",
	"position",
	"duration",
	"rating",
	"comment",
	"email",
	"siret",
	"company_verified",
	"linkedin_verified",
	"is_validated",
	"flagged",
	"admin_reply",
	"created_at",
}

// ExportCSV streams every review. Spreadsheet tools need the BOM to pick up
// UTF-8, and every field is quoted.
func (e *Env) ExportCSV(c *gin.Context) {
	filename := "qreview-export-" + time.Now().UTC().Format("2006-01-02") + ".csv"
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := bufio.NewWriter(c.Writer)
	w.WriteString("\uFEFF")
	w.WriteString(strings.Join(exportColumns, ","))

	err := e.Reviews.Export(c.Request.Context(), func(r *models.Review) error {
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		_, err := w.WriteString(csvRow(r))
		return err
	})
	if err != nil {
		// Headers are gone already; the client gets a truncated file.
		e.log.Error().Err(err).Msg("CSV export failed")
	}
	if err := w.Flush(); err != nil {
		e.log.Warn().Err(err).Msg("CSV export flush failed")
	}
}

func csvRow(r *models.Review) string {
	fields := []string{
		strconv.FormatUint(uint64(r.ID), 10),
		r.CompanyName,
		r.Position,
		r.Duration,
		strconv.Itoa(r.Rating),
		deref(r.Comment),
		r.Email,
		deref(r.Siret),
		strconv.FormatBool(r.CompanyVerified),
		strconv.FormatBool(r.LinkedInVerified),
		strconv.FormatBool(r.IsValidated),
		strconv.FormatBool(r.Flagged),
		deref(r.AdminReply),
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
	for i, f := range fields {
		fields[i] = quoteField(f)
	}
	return strings.Join(fields, ",")
}

func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
