package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/model"
)

// ContextActor is the gin context key holding the authenticated *model.Actor.
const ContextActor = "actor"

// Actor returns the authenticated caller. Routes behind the auth middleware always have one.
func Actor(c *gin.Context) *model.Actor {
	if v, ok := c.Get(ContextActor); ok {
		if actor, ok := v.(*model.Actor); ok {
			return actor
		}
	}
	return nil
}
