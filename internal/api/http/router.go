package http

import (
	"net/http"

	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/token"
)

// basePath is the protocol prefix every fingerprint-sync route is mounted
// under, per §6.
const basePath = "/frkbapi/v1/fingerprint-sync"

// Router builds the route table for the fingerprint-sync HTTP surface.
// It mirrors the teacher's constructor-holds-services, Register-returns-
// server shape, minus the gRPC-specific interceptor chain.
type Router struct {
	handler *SyncHandler
	admin   *token.Admin
	logger  *logger.Logger
}

func NewRouter(handler *SyncHandler, admin *token.Admin, log *logger.Logger) *Router {
	return &Router{handler: handler, admin: admin, logger: log}
}

// Register builds the final http.Handler, applying request logging to
// every route and admin auth to the two operator-only ones.
func (ro *Router) Register() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+basePath+"/check", ro.handler.Check)
	mux.HandleFunc("POST "+basePath+"/bidirectional-diff", ro.handler.BidirectionalDiff)
	mux.HandleFunc("POST "+basePath+"/add", ro.handler.Add)
	mux.HandleFunc("POST "+basePath+"/analyze-diff", ro.handler.AnalyzeDiff)
	mux.HandleFunc("POST "+basePath+"/pull-diff-page", ro.handler.PullDiffPage)
	mux.HandleFunc("POST "+basePath+"/reset", ro.handler.Reset)
	mux.HandleFunc("GET "+basePath+"/status", ro.handler.Status)
	mux.HandleFunc("GET "+basePath+"/stats", ro.handler.ServiceStats)

	mux.Handle("DELETE "+basePath+"/lock/{userKey}", withAdminAuth(ro.admin, http.HandlerFunc(ro.handler.ReleaseLock)))
	mux.Handle("DELETE "+basePath+"/cache/{userKey}", withAdminAuth(ro.admin, http.HandlerFunc(ro.handler.ResetCache)))

	return withLogging(ro.logger, mux)
}
