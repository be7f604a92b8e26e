package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/services"
)

// statusFor maps a service error kind onto an HTTP status.
func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation, services.KindConflict:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindProcessor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the stable code for service errors and hides anything
// else behind a generic message.
func messageFor(err error) string {
	if code := services.CodeOf(err); code != "" {
		return code
	}
	return "INTERNAL_ERROR"
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	entry := log.WithFields(log.Fields{"path": c.FullPath(), "status": status}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.JSON(status, gin.H{"statusCode": status, "message": messageFor(err)})
}

// respondLNURLError reports failures the way LNURL wallets expect: HTTP 200
// with an ERROR status.
func respondLNURLError(c *gin.Context, err error) {
	if services.CodeOf(err) == "" {
		log.WithField("path", c.FullPath()).WithError(err).Error("lnurl request failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ERROR", "reason": messageFor(err)})
}
