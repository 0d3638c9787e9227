package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"milestone-tracker/pkg/rbac"
)

const capabilityKey = "capability"

// SetCapability stores the caller's capability for the handlers downstream.
func SetCapability(c *gin.Context, cp rbac.Capability) {
	c.Set(capabilityKey, cp)
}

// CapabilityFrom returns the capability set by the auth middleware.
func CapabilityFrom(c *gin.Context) (rbac.Capability, bool) {
	v, ok := c.Get(capabilityKey)
	if !ok {
		return nil, false
	}
	cp, ok := v.(rbac.Capability)
	return cp, ok
}

// capability aborts with 401 when the request was not authenticated.
func capability(c *gin.Context) (rbac.Capability, bool) {
	cp, ok := CapabilityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		c.Abort()
		return nil, false
	}
	return cp, true
}

// PathID parses a positive integer path parameter.
func PathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, ok := PathID(c, name)
	if !ok {
		badRequest(c, "invalid "+name+" parameter")
	}
	return id, ok
}
