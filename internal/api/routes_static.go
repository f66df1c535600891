package api

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/web"
)

// registerStaticRoutes serves the embedded viewer shell. QR codes encode
// `/view?token=...` for one-time links and `/?goal_id=...` for permanent
// ones; both land on the same page, which talks to the API from the browser.
func registerStaticRoutes(r *gin.Engine) {
	shell, err := web.FS()
	if err != nil {
		return
	}

	index, err := fs.ReadFile(shell, "index.html")
	if err != nil {
		return
	}

	serveIndex := func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	}

	r.GET("/", serveIndex)
	r.GET("/view", serveIndex)
}
