package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
)

func (s *Server) fases(c *gin.Context) {
	ok(c, gin.H{"groups": s.Shows.Catalog().Groups, "defaults": s.Shows.Catalog().DefaultHeadings()})
}

func (s *Server) readMotherfile(c *gin.Context) {
	h, err := s.File.Read()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, h)
}

func (s *Server) writeMotherfile(message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, badRequest(err))
			return
		}
		h, err := fase.DecodeHeadings(b)
		if err != nil {
			fail(c, err)
			return
		}
		err = s.File.Write(h)
		if errors.Is(err, motherfile.ErrServerless) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": motherfile.ServerlessNotice, "data": h})
			return
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("%s at %s", message, s.File.Path)})
	}
}

func motherMeta(loc motherfile.Location) gin.H {
	return gin.H{"collection": loc.Collection, "recordId": loc.RecordID}
}

func (s *Server) getPBMotherfile(c *gin.Context) {
	rec, loc, err := s.Mother.Get(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec, "meta": motherMeta(loc)})
}

func (s *Server) putPBMotherfile(c *gin.Context) {
	var req struct {
		Fases json.RawMessage `json:"fases"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest(err))
		return
	}
	if len(req.Fases) == 0 || bytes.Equal(req.Fases, []byte("null")) {
		fail(c, badRequest(errors.New("missing fases payload")))
		return
	}
	h, err := fase.DecodeHeadings(req.Fases)
	if err != nil {
		fail(c, err)
		return
	}
	rec, loc, err := s.Mother.UpdateFases(c.Request.Context(), h)
	if err != nil {
		fail(c, err)
		return
	}
	s.Shows.RefreshMotherfile(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec, "meta": motherMeta(loc)})
}

func (s *Server) uploadPBMotherfile(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, badRequest(err))
		return
	}
	var files []pocketbase.File
	for _, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				fail(c, err)
				return
			}
			defer f.Close()
			files = append(files, pocketbase.File{Field: motherfile.MediaField, Name: fh.Filename, Data: f})
		}
	}
	rec, loc, err := s.Mother.UploadMedia(c.Request.Context(), files)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec, "meta": motherMeta(loc)})
}

// saveToISP uploads {data, filename?} (or a bare JSON object) as pretty
// printed JSON.
func (s *Server) saveToISP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, badRequest(err))
		return
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped == nil {
		fail(c, badRequest(errors.New("invalid JSON payload")))
		return
	}
	doc := body
	var name string
	if raw, has := wrapped["data"]; has {
		doc = raw
		if fn, has := wrapped["filename"]; has {
			if err := json.Unmarshal(fn, &name); err != nil {
				fail(c, badRequest(errors.New("filename must be a string")))
				return
			}
		}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil || obj == nil {
		fail(c, badRequest(errors.New("invalid JSON payload")))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, doc, "", "  "); err != nil {
		fail(c, badRequest(err))
		return
	}

	target, err := s.NewExport()
	if err != nil {
		fail(c, err)
		return
	}
	if name, err = export.CleanName(name); err != nil {
		fail(c, err)
		return
	}
	dst, err := target.Put(c.Request.Context(), name, pretty.Bytes())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Uploaded " + name, "data": gin.H{"path": dst}})
}

func (s *Server) authTest(c *gin.Context) {
	meta := gin.H{
		"baseUrl":     s.PocketBaseURL,
		"hasEmail":    s.Admin.Email != "",
		"hasPassword": s.Admin.Password != "",
		"hasToken":    s.Admin.Token != "",
	}
	pb := pocketbase.New(s.PocketBaseURL)
	mode, err := pb.Authenticate(c.Request.Context(), s.Admin)
	if errors.Is(err, pocketbase.ErrMissingCredentials) {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "no_credentials", "meta": meta})
		return
	}
	if err == nil {
		err = pb.ListCollections(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": mode + "_auth_failed", "details": err.Error(), "meta": meta})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mode": mode, "meta": meta})
}
