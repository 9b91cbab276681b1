package router

import "github.com/gin-gonic/gin"

// Module is a feature area (profile, debug) that mounts its routes on the
// group it is given. Modules needing the engine root are added with
// Registry.AddRoot instead.
type Module interface {
	Register(rg *gin.RouterGroup)
}
