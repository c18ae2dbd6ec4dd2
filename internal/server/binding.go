package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type bindMessages map[string]map[string]string

type roomURI struct {
	ID uint `uri:"id" binding:"required,min=1"`
}

type playerURI struct {
	PlayerID uint `uri:"playerId" binding:"required,min=1"`
}

var playerURIMessages = bindMessages{
	"PlayerID": {
		"required": "player id is required",
		"min":      "player id is required",
	},
}

// bindURI binds path parameters into req and writes an error response with
// status when they do not parse or validate.
func bindURI(c *gin.Context, req any, status int, messages bindMessages, fallback string) bool {
	if err := c.ShouldBindUri(req); err != nil {
		writeError(c, status, resolveBindError(err, messages, fallback))
		return false
	}
	return true
}

func resolveBindError(err error, messages bindMessages, fallback string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			if fieldMsgs, ok := messages[verr.Field()]; ok {
				if msg, ok := fieldMsgs[verr.Tag()]; ok {
					return msg
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "invalid request"
}
