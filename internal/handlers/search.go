package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/realtime"
	"github.com/sataplan/server/internal/services"
	"github.com/sataplan/server/pkg/metrics"
	"github.com/sataplan/server/pkg/response"
)

const (
	defaultSearchPageSize = 10
	maxSearchPageSize     = 50
)

// SearchHandler exposes goal search over both a WebSocket feed and a
// plain HTTP fallback for clients that cannot hold a socket open.
type SearchHandler struct {
	search *services.SearchService
	hub    *realtime.SearchHub
}

func NewSearchHandler(search *services.SearchService, hub *realtime.SearchHub) *SearchHandler {
	return &SearchHandler{search: search, hub: hub}
}

// Live upgrades the request to a WebSocket session served by the hub.
func (h *SearchHandler) Live(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request)
}

// LiveSearch answers a single search query over HTTP with the same
// matching semantics as the socket feed.
func (h *SearchHandler) LiveSearch(c *gin.Context) {
	opts := services.SearchOptions{
		Query:    c.Query("query"),
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", defaultSearchPageSize),
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultSearchPageSize
	}
	if opts.PageSize > maxSearchPageSize {
		opts.PageSize = maxSearchPageSize
	}

	metrics.SearchQueries.WithLabelValues("http").Inc()

	goals, total, err := h.search.SearchGoals(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]gin.H, 0, len(goals))
	for i := range goals {
		items = append(items, gin.H{
			"id":          goals[i].ID,
			"name":        goals[i].Name,
			"description": goals[i].Description,
		})
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Page:    opts.Page,
		PerPage: opts.PageSize,
		Total:   total,
	})
}
