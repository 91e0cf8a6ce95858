// Package pbtest runs an in-memory stand-in for the PocketBase REST API.
// It covers the record endpoints, admin auth and simple filters used by this
// repository, nothing more.
package pbtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05.000Z"

type Record map[string]any

type Server struct {
	*httptest.Server

	AdminEmail    string
	AdminPassword string
	Token         string
	// LegacyAdmins exposes /api/admins; otherwise only _superusers works.
	LegacyAdmins bool
	RequireAuth  bool

	mu          sync.Mutex
	collections map[string]map[string]Record
	failures    map[string]int
	seq         int
	clock       time.Time
	calls       []string
}

func New() *Server {
	s := &Server{
		AdminEmail:    "admin@example.com",
		AdminPassword: "secret",
		Token:         "test-token",
		LegacyAdmins:  true,
		collections:   map[string]map[string]Record{},
		failures:      map[string]int{},
		clock:         time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admins/auth-with-password", s.adminAuth(true))
	mux.HandleFunc("POST /api/collections/_superusers/auth-with-password", s.adminAuth(false))
	mux.HandleFunc("GET /api/collections", s.listCollections)
	mux.HandleFunc("GET /api/collections/{collection}/records", s.list)
	mux.HandleFunc("POST /api/collections/{collection}/records", s.create)
	mux.HandleFunc("GET /api/collections/{collection}/records/{id}", s.get)
	mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", s.update)
	mux.HandleFunc("DELETE /api/collections/{collection}/records/{id}", s.delete)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddCollection makes a collection known to the server.
func (s *Server) AddCollection(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if s.collections[n] == nil {
			s.collections[n] = map[string]Record{}
		}
	}
}

// Put stores a record as-is and returns its id.
func (s *Server) Put(collection string, rec Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = map[string]Record{}
	}
	return s.insert(collection, rec)
}

// Record returns a copy of a stored record, or nil.
func (s *Server) Record(collection, id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.collections[collection][id]
	if rec == nil {
		return nil
	}
	return clone(rec)
}

// Count returns the number of records in a collection.
func (s *Server) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// Fail makes every request with method on collection answer status.
// A zero status clears the failure.
func (s *Server) Fail(method, collection string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + collection
	if status == 0 {
		delete(s.failures, key)
		return
	}
	s.failures[key] = status
}

// Calls lists "METHOD path" for every request seen so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) insert(collection string, rec Record) string {
	rec = clone(rec)
	id, _ := rec["id"].(string)
	if id == "" {
		s.seq++
		id = fmt.Sprintf("rec%012d", s.seq)
		rec["id"] = id
	}
	now := s.tick()
	if _, ok := rec["created"]; !ok {
		rec["created"] = now
	}
	rec["updated"] = now
	rec["collectionName"] = collection
	s.collections[collection][id] = rec
	return id
}

func (s *Server) tick() string {
	s.clock = s.clock.Add(time.Second)
	return s.clock.Format(timeLayout)
}

func (s *Server) track(r *http.Request) {
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
}

func (s *Server) guard(w http.ResponseWriter, r *http.Request, collection string) (map[string]Record, bool) {
	s.track(r)
	if st := s.failures[r.Method+" "+collection]; st != 0 {
		writeErr(w, st, "injected failure")
		return nil, false
	}
	if s.RequireAuth && r.Header.Get("Authorization") != s.Token {
		writeErr(w, http.StatusForbidden, "Only admins can perform this action.")
		return nil, false
	}
	col := s.collections[collection]
	if col == nil {
		writeErr(w, http.StatusNotFound, "Missing collection context.")
		return nil, false
	}
	return col, true
}

func (s *Server) adminAuth(legacy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.track(r)
		if legacy != s.LegacyAdmins {
			writeErr(w, http.StatusNotFound, "The requested resource wasn't found.")
			return
		}
		var body struct {
			Identity string `json:"identity"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Identity != s.AdminEmail || body.Password != s.AdminPassword {
			writeErr(w, http.StatusBadRequest, "Failed to authenticate.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": s.Token})
	}
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(r)
	if r.Header.Get("Authorization") != s.Token {
		writeErr(w, http.StatusUnauthorized, "The request requires admin authorization token to be set.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": 1, "perPage": 1, "items": []any{}})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.guard(w, r, r.PathValue("collection"))
	if !ok {
		return
	}
	q := r.URL.Query()
	match, err := compileFilter(q.Get("filter"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	items := make([]Record, 0, len(col))
	for _, rec := range col {
		if match(rec) {
			items = append(items, rec)
		}
	}
	sortRecords(items, q.Get("sort"))

	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("perPage"), 30)
	total := len(items)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	out := make([]Record, 0, end-start)
	for _, rec := range items[start:end] {
		out = append(out, clone(rec))
	}
	pages := (total + perPage - 1) / perPage
	writeJSON(w, http.StatusOK, map[string]any{
		"page": page, "perPage": perPage, "totalItems": total, "totalPages": pages, "items": out,
	})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.guard(w, r, r.PathValue("collection"))
	if !ok {
		return
	}
	rec := col[r.PathValue("id")]
	if rec == nil {
		writeErr(w, http.StatusNotFound, "The requested resource wasn't found.")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection := r.PathValue("collection")
	if _, ok := s.guard(w, r, collection); !ok {
		return
	}
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeErr(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.")
		return
	}
	id := s.insert(collection, rec)
	writeJSON(w, http.StatusOK, s.collections[collection][id])
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.guard(w, r, r.PathValue("collection"))
	if !ok {
		return
	}
	rec := col[r.PathValue("id")]
	if rec == nil {
		writeErr(w, http.StatusNotFound, "The requested resource wasn't found.")
		return
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				rec[k] = v[0]
			}
		}
		for field, headers := range r.MultipartForm.File {
			names := toStrings(rec[field])
			for _, h := range headers {
				names = append(names, h.Filename)
			}
			rec[field] = names
		}
	} else {
		var patch Record
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && err != io.EOF {
			writeErr(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.")
			return
		}
		for k, v := range patch {
			if k == "id" || k == "created" {
				continue
			}
			rec[k] = v
		}
	}
	rec["updated"] = s.tick()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.guard(w, r, r.PathValue("collection"))
	if !ok {
		return
	}
	id := r.PathValue("id")
	if col[id] == nil {
		writeErr(w, http.StatusNotFound, "The requested resource wasn't found.")
		return
	}
	delete(col, id)
	w.WriteHeader(http.StatusNoContent)
}

var clauseRe = regexp.MustCompile(`^\s*(\w+)\s*(=|~)\s*"((?:[^"\\]|\\.)*)"\s*$`)

// compileFilter understands `field = "v"` and `field ~ "v"` clauses joined
// by || or &&.
func compileFilter(filter string) (func(Record) bool, error) {
	if strings.TrimSpace(filter) == "" {
		return func(Record) bool { return true }, nil
	}
	var anyOf []func(Record) bool
	for _, alt := range strings.Split(filter, "||") {
		var allOf []func(Record) bool
		for _, part := range strings.Split(alt, "&&") {
			m := clauseRe.FindStringSubmatch(part)
			if m == nil {
				return nil, fmt.Errorf("unsupported filter %q", part)
			}
			field, op := m[1], m[2]
			value := strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(m[3])
			allOf = append(allOf, func(rec Record) bool {
				got := fmt.Sprint(rec[field])
				if op == "=" {
					return got == value
				}
				return strings.Contains(strings.ToLower(got), strings.ToLower(value))
			})
		}
		anyOf = append(anyOf, func(rec Record) bool {
			for _, f := range allOf {
				if !f(rec) {
					return false
				}
			}
			return true
		})
	}
	return func(rec Record) bool {
		for _, f := range anyOf {
			if f(rec) {
				return true
			}
		}
		return false
	}, nil
}

func sortRecords(items []Record, sortBy string) {
	field, desc := "created", false
	if sortBy != "" {
		field = strings.TrimPrefix(strings.TrimPrefix(sortBy, "-"), "+")
		desc = strings.HasPrefix(sortBy, "-")
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := fmt.Sprint(items[i][field]), fmt.Sprint(items[j][field])
		if a == b {
			a, b = fmt.Sprint(items[i]["id"]), fmt.Sprint(items[j]["id"])
		}
		if desc {
			return a > b
		}
		return a < b
	})
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func clone(rec Record) Record {
	b, _ := json.Marshal(rec)
	var out Record
	_ = json.Unmarshal(b, &out)
	return out
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg, "data": map[string]any{}})
}
