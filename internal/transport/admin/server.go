// Package admin serves the operator HTTP API: read-only views of the territory
// state, on-demand snapshots and an admin command passthrough.
package admin

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory"
)

// Runtime is the part of territory.Runtime the admin API uses.
type Runtime interface {
	Do(ctx context.Context, fn func(e *territory.Engine)) error
	Execute(ctx context.Context, cmd protocol.CmdMsg) (protocol.ResultMsg, error)
	Digest(ctx context.Context) (string, error)
	RequestSnapshot(ctx context.Context) error
}

// OperatorID is the actor recorded for admin commands that do not name one.
var OperatorID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("townclaims.dev/operator"))

type Config struct {
	// AllowRemote disables the loopback-only check.
	AllowRemote  bool
	TuningDigest string
	// Sessions reports connected host bridges, if set.
	Sessions func() int
	Timeout  time.Duration
}

type api struct {
	rt  Runtime
	log *log.Logger
	cfg Config
}

func NewRouter(rt Runtime, logger *log.Logger, cfg Config) *gin.Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	a := &api{rt: rt, log: logger, cfg: cfg}
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok\n") })

	g := r.Group("/admin/v1")
	if !cfg.AllowRemote {
		g.Use(loopbackOnly)
	}
	g.GET("/state", a.state)
	g.GET("/towns", a.towns)
	g.GET("/towns/:query", a.town)
	g.GET("/contests", a.contests)
	g.GET("/top", a.top)
	g.POST("/snapshot", a.snapshot)
	g.POST("/cmd", a.cmd)
	return r
}

func loopbackOnly(c *gin.Context) {
	if !IsLoopbackRemote(c.Request.RemoteAddr) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (a *api) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.cfg.Timeout)
}

func (a *api) unavailable(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
}

func (a *api) state(c *gin.Context) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	var towns, claims, contests int
	var digest string
	err := a.rt.Do(ctx, func(e *territory.Engine) {
		for _, t := range e.Towns() {
			towns++
			claims += t.ClaimCount()
		}
		contests = len(e.ContestViews())
		digest = e.StateDigest()
	})
	if err != nil {
		a.unavailable(c, err)
		return
	}
	resp := gin.H{
		"towns":         towns,
		"claims":        claims,
		"contests":      contests,
		"digest":        digest,
		"tuning_digest": a.cfg.TuningDigest,
	}
	if a.cfg.Sessions != nil {
		resp["host_sessions"] = a.cfg.Sessions()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) towns(c *gin.Context) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	var out []territory.TownView
	if err := a.rt.Do(ctx, func(e *territory.Engine) {
		for _, t := range e.Towns() {
			out = append(out, e.TownView(t))
		}
	}); err != nil {
		a.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) town(c *gin.Context) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	query := c.Param("query")
	var (
		view  territory.TownView
		found bool
	)
	if err := a.rt.Do(ctx, func(e *territory.Engine) {
		if t := e.FindTown(query); t != nil {
			view, found = e.TownView(t), true
		}
	}); err != nil {
		a.unavailable(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "town not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) contests(c *gin.Context) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	var out []territory.ContestView
	if err := a.rt.Do(ctx, func(e *territory.Engine) { out = e.ContestViews() }); err != nil {
		a.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) top(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	a.execute(c, protocol.CmdMsg{Op: protocol.OpTop, Name: c.Query("board"), Limit: limit})
}

func (a *api) snapshot(c *gin.Context) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	if err := a.rt.RequestSnapshot(ctx); err != nil {
		a.unavailable(c, err)
		return
	}
	digest, _ := a.rt.Digest(ctx)
	a.log.Printf("admin snapshot requested from %s", c.Request.RemoteAddr)
	c.JSON(http.StatusOK, gin.H{"ok": true, "digest": digest})
}

// cmd runs any engine op with admin rights.
func (a *api) cmd(c *gin.Context) {
	var cmd protocol.CmdMsg
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(cmd.Op) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing op"})
		return
	}
	a.log.Printf("admin cmd op=%s actor=%s target=%s remote=%s", cmd.Op, cmd.Actor, cmd.Target, c.Request.RemoteAddr)
	a.execute(c, cmd)
}

func (a *api) execute(c *gin.Context, cmd protocol.CmdMsg) {
	ctx, cancel := a.ctx(c)
	defer cancel()

	cmd.Type = protocol.TypeCmd
	cmd.ProtocolVersion = protocol.Version
	cmd.Admin = true
	if cmd.Actor == "" {
		cmd.Actor = OperatorID.String()
	}
	if cmd.ID == "" {
		cmd.ID = "admin-" + uuid.NewString()
	}
	res, err := a.rt.Execute(ctx, cmd)
	if err != nil {
		a.unavailable(c, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = statusFor(res.Code)
	}
	c.JSON(status, res)
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrNoPermission:
		return http.StatusForbidden
	case protocol.ErrConflict:
		return http.StatusConflict
	}
	switch protocol.ClassOf(code) {
	case protocol.ClassProtocol:
		return http.StatusBadRequest
	case protocol.ClassPending:
		return http.StatusAccepted
	case protocol.ClassInternal, protocol.ClassUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
