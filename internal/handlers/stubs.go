package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Forms and catalog are boundary-only: the routes exist so clients get a
// clean 501 instead of a 404 while those surfaces live elsewhere.

// POST /forms/submit
func FormsSubmit(c *gin.Context) {
	c.Status(http.StatusNotImplemented)
}

// GET /forms/:form_id
func FormsGet(c *gin.Context) {
	c.Status(http.StatusNotImplemented)
}

// GET /catalog/list
func CatalogList(c *gin.Context) {
	c.Status(http.StatusNotImplemented)
}

// GET /catalog/:item_id
func CatalogGet(c *gin.Context) {
	c.Status(http.StatusNotImplemented)
}
