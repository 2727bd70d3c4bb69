package httpapi

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
)

// mountPprof exposes the runtime profiles under /debug/pprof behind the API
// token.
func (s *Server) mountPprof() {
	g := s.router.Group("/debug/pprof", s.auth())
	g.GET("/", gin.WrapF(pprof.Index))
	g.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	g.GET("/profile", gin.WrapF(pprof.Profile))
	g.GET("/symbol", gin.WrapF(pprof.Symbol))
	g.POST("/symbol", gin.WrapF(pprof.Symbol))
	g.GET("/trace", gin.WrapF(pprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		g.GET("/"+name, gin.WrapH(pprof.Handler(name)))
	}
}
