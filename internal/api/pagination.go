package api

import (
	"net/http"
	"strconv"

	"github.com/jdholdren/gleaner/internal/timeline"
)

// paginationMeta holds pagination metadata for API responses.
type paginationMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// parsePage reads ?limit=&offset= off the request. Junk values fall back to the defaults
// rather than failing the request.
func parsePage(r *http.Request) timeline.Page {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	return timeline.Page{Limit: limit, Offset: offset}.Normalize()
}
