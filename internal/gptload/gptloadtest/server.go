// Package gptloadtest provides an in-memory gpt-load admin API for tests and benchmarks.
package gptloadtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/gptload"
)

type failure struct {
	op        string
	group     string
	remaining int
}

type link struct {
	id     int
	weight int
}

// Server is a fake gpt-load. All state lives in memory and is safe for concurrent use.
type Server struct {
	AuthKey string

	mu       sync.Mutex
	nextID   int
	groups   map[int]*gptload.Group
	links    map[int][]link
	keys     map[int][]string
	failures []*failure
	calls    []string

	engine *gin.Engine
	srv    *httptest.Server
}

// New returns a fake that is not yet listening; use Start or Handler.
func New(authKey string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		AuthKey: authKey,
		nextID:  1,
		groups:  make(map[int]*gptload.Group),
		links:   make(map[int][]link),
		keys:    make(map[int][]string),
	}
	s.engine = gin.New()
	s.routes()
	return s
}

// Start serves the fake on a loopback httptest server.
func Start(authKey string) *Server {
	s := New(authKey)
	s.srv = httptest.NewServer(s.engine)
	return s
}

func (s *Server) URL() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.URL
}

func (s *Server) Close() {
	if s.srv != nil {
		s.srv.Close()
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Seed inserts a group directly. Aggregate members are resolved by name from
// g.SubGroups and must already exist.
func (s *Server) Seed(g gptload.Group) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	g.ID = id
	if g.GroupType == "" {
		g.GroupType = gptload.TypeStandard
	}
	members := g.SubGroups
	g.SubGroups = nil
	s.groups[id] = &g

	for _, m := range members {
		if memberID, ok := s.idOf(m.Name); ok {
			s.links[id] = append(s.links[id], link{id: memberID, weight: gptload.DefaultWeight})
		}
	}
	return id
}

// FailNext makes the next `times` calls of op fail with a business error. An empty
// group matches any group. Ops: create, update, delete, add_sub_groups,
// remove_sub_group, add_keys, list, sub_groups.
func (s *Server) FailNext(op, group string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{op: op, group: group, remaining: times})
}

// Groups returns the current state sorted by name, with aggregate memberships filled in.
func (s *Server) Groups() []gptload.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gptload.Group, 0, len(s.groups))
	for id, g := range s.groups {
		cp := *g
		cp.SubGroups = s.subGroups(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Group returns the named group and whether it exists.
func (s *Server) Group(name string) (gptload.Group, bool) {
	for _, g := range s.Groups() {
		if g.Name == name {
			return g, true
		}
	}
	return gptload.Group{}, false
}

func (s *Server) Keys(groupID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys[groupID]...)
}

// Calls lists every mutating call as "op:group", in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := s.engine.Group("/api", s.auth)
	api.GET("/groups", s.listGroups)
	api.POST("/groups", s.createGroup)
	api.PUT("/groups/:id", s.updateGroup)
	api.DELETE("/groups/:id", s.deleteGroup)
	api.GET("/groups/:id/sub-groups", s.getSubGroups)
	api.POST("/groups/:id/sub-groups", s.addSubGroups)
	api.DELETE("/groups/:id/sub-groups/:sub", s.removeSubGroup)
	api.POST("/keys/add-multiple", s.addKeys)
}

func (s *Server) auth(c *gin.Context) {
	if s.AuthKey != "" && c.GetHeader("X-Api-Key") != s.AuthKey {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
		c.Abort()
		return
	}
	c.Next()
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"code": code, "message": message})
}

// injected consumes a matching failure rule. Callers hold s.mu.
func (s *Server) injected(op, group string) bool {
	for _, f := range s.failures {
		if f.op != op || f.remaining <= 0 {
			continue
		}
		if f.group != "" && f.group != group {
			continue
		}
		f.remaining--
		return true
	}
	return false
}

func (s *Server) idOf(name string) (int, bool) {
	for id, g := range s.groups {
		if g.Name == name {
			return id, true
		}
	}
	return 0, false
}

func (s *Server) subGroups(id int) []gptload.SubGroup {
	var out []gptload.SubGroup
	for _, l := range s.links[id] {
		if g, ok := s.groups[l.id]; ok {
			out = append(out, gptload.SubGroup{ID: l.id, Name: g.Name, Weight: l.weight})
		}
	}
	return out
}

func (s *Server) record(op, group string) {
	s.calls = append(s.calls, op+":"+group)
}

func pathID(c *gin.Context, key string) (int, bool) {
	id, err := strconv.Atoi(c.Param(key))
	if err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) listGroups(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.injected("list", "") {
		fail(c, http.StatusInternalServerError, "INTERNAL", "injected list failure")
		return
	}
	out := make([]gptload.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	ok(c, out)
}

func (s *Server) createGroup(c *gin.Context) {
	var req gptload.GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create", req.Name)

	if s.injected("create", req.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected create failure")
		return
	}
	if _, exists := s.idOf(req.Name); exists {
		fail(c, http.StatusConflict, "DUPLICATE_RESOURCE", fmt.Sprintf("group %q already exists", req.Name))
		return
	}

	id := s.nextID
	s.nextID++
	s.groups[id] = fromRequest(id, req)
	ok(c, gin.H{"id": id, "name": req.Name})
}

func (s *Server) updateGroup(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req gptload.GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[id]
	if !exists {
		fail(c, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	s.record("update", g.Name)
	if s.injected("update", g.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected update failure")
		return
	}
	s.groups[id] = fromRequest(id, req)
	ok(c, gin.H{"id": id})
}

func (s *Server) deleteGroup(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[id]
	if !exists {
		fail(c, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	s.record("delete", g.Name)
	if s.injected("delete", g.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected delete failure")
		return
	}
	for aggID, links := range s.links {
		for _, l := range links {
			if l.id == id {
				fail(c, http.StatusConflict, "GROUP_IN_USE",
					fmt.Sprintf("group %q is a sub-group of %q", g.Name, s.groups[aggID].Name))
				return
			}
		}
	}

	delete(s.groups, id)
	delete(s.links, id)
	delete(s.keys, id)
	ok(c, nil)
}

func (s *Server) getSubGroups(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[id]
	if !exists {
		fail(c, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	if s.injected("sub_groups", g.Name) {
		fail(c, http.StatusInternalServerError, "INTERNAL", "injected sub-group failure")
		return
	}

	// gpt-load nests the member group next to its weight
	out := make([]gin.H, 0, len(s.links[id]))
	for _, sg := range s.subGroups(id) {
		out = append(out, gin.H{"group": gin.H{"id": sg.ID, "name": sg.Name}, "weight": sg.Weight})
	}
	ok(c, out)
}

func (s *Server) addSubGroups(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req struct {
		SubGroups []gptload.SubGroupWeight `json:"sub_groups"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[id]
	if !exists || g.GroupType != gptload.TypeAggregate {
		fail(c, http.StatusNotFound, "NOT_FOUND", "aggregate group not found")
		return
	}
	s.record("add_sub_groups", g.Name)
	if s.injected("add_sub_groups", g.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected link failure")
		return
	}

	for _, sg := range req.SubGroups {
		member, exists := s.groups[sg.GroupID]
		if !exists || member.GroupType != gptload.TypeStandard {
			fail(c, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("sub-group %d is not a standard group", sg.GroupID))
			return
		}
	}
	for _, sg := range req.SubGroups {
		if !s.linked(id, sg.GroupID) {
			s.links[id] = append(s.links[id], link{id: sg.GroupID, weight: sg.Weight})
		}
	}
	ok(c, nil)
}

func (s *Server) linked(aggID, memberID int) bool {
	for _, l := range s.links[aggID] {
		if l.id == memberID {
			return true
		}
	}
	return false
}

func (s *Server) removeSubGroup(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	sub, valid := pathID(c, "sub")
	if !valid {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[id]
	if !exists {
		fail(c, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	s.record("remove_sub_group", g.Name)
	if s.injected("remove_sub_group", g.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected unlink failure")
		return
	}

	links := s.links[id][:0]
	removed := false
	for _, l := range s.links[id] {
		if l.id == sub {
			removed = true
			continue
		}
		links = append(links, l)
	}
	if !removed {
		fail(c, http.StatusNotFound, "NOT_FOUND", "sub-group not linked")
		return
	}
	s.links[id] = links
	ok(c, nil)
}

func (s *Server) addKeys(c *gin.Context) {
	var req struct {
		GroupID  int    `json:"group_id"`
		KeysText string `json:"keys_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[req.GroupID]
	if !exists {
		fail(c, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	s.record("add_keys", g.Name)
	if s.injected("add_keys", g.Name) {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "injected key failure")
		return
	}

	added := 0
	for _, k := range strings.Split(req.KeysText, "\n") {
		if k = strings.TrimSpace(k); k != "" {
			s.keys[req.GroupID] = append(s.keys[req.GroupID], k)
			added++
		}
	}
	ok(c, gin.H{"added_count": added})
}

func fromRequest(id int, req gptload.GroupRequest) *gptload.Group {
	return &gptload.Group{
		ID:          id,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		GroupType:   req.GroupType,
		ChannelType: req.ChannelType,
		Upstreams:   append([]gptload.Upstream(nil), req.Upstreams...),
		Redirects:   req.ModelRedirectRules,
		TestModel:   req.TestModel,
	}
}
