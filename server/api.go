package server

import (
	"embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/cyclopcam/roadscan/server/model"
	"github.com/cyclopcam/roadscan/server/registry"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Running the pipeline is expensive, so each client IP gets a limited number of runs per minute
	rateLimited := func(method, route string, handle httprouter.Handle) {
		limited := httprate.Limit(s.Config.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	rateLimited("POST", "/api/run", s.httpRun)
	handle("GET", "/api/active", s.httpActiveRuns)
	handle("GET", "/api/runs", s.httpListRuns)
	handle("GET", "/api/runs/:id", s.httpGetRun)
	handle("GET", "/api/runs/:id/defects", s.httpRunDefects)
	handle("GET", "/api/runs/:id/progress", s.httpRunProgress)
	handle("POST", "/api/runs/:id/processed", s.httpMarkProcessed)
	handle("POST", "/api/runs/:id/cancel", s.httpCancelRun)
	handle("GET", "/api/defects", s.httpFindDefects)
	handle("GET", "/api/videos", s.httpListVideos)
	handle("GET", "/api/images/:video/:name", s.httpGetImage)

	static, err := staticfiles.NewCachedStaticFileServer(staticWWW, "www", []string{"/api/"}, s.Log, false, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	ping := &pingJSON{
		Time: time.Now().Unix(),
	}
	www.SendJSON(w, ping)
}

// httpRun runs a request. By default the response is the summary of the finished run.
// With ?async=1, the response is {"id": <run id>}, and the run continues in the background.
func (s *Server) httpRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := pipeline.Request{}
	www.ReadJSON(w, r, &req, s.Config.MaxRequestBytes)

	if www.QueryValue(r, "async") == "1" {
		id := s.StartRun(&req)
		www.SendJSON(w, map[string]string{"id": id})
		return
	}

	id, summary := s.RunSync(&req)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Run-ID", id)
	if !summary.OK() {
		w.WriteHeader(http.StatusBadRequest)
	}
	w.Write(summary.Compact())
}

func (s *Server) httpActiveRuns(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.progress.active())
}

func (s *Server) httpListRuns(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	runs, err := s.Registry.Runs(www.QueryInt(r, "limit"))
	www.Check(err)
	www.SendJSON(w, runs)
}

func (s *Server) getRun(runID string) *model.SummaryData {
	run, err := s.Registry.Run(runID)
	if errors.Is(err, registry.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	return run
}

func (s *Server) httpGetRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.getRun(params.ByName("id")))
}

func (s *Server) httpRunDefects(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	run := s.getRun(params.ByName("id"))
	defects, err := s.Registry.RunDefects(run.RunID)
	www.Check(err)
	www.SendJSON(w, defects)
}

func (s *Server) httpMarkProcessed(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	run, err := s.Registry.MarkProcessed(params.ByName("id"))
	if errors.Is(err, registry.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, run)
}

func (s *Server) httpCancelRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if !s.progress.cancel(params.ByName("id")) {
		www.PanicNotFound()
	}
	www.SendOK(w)
}

func (s *Server) httpFindDefects(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	defects, err := s.Registry.FindDefects(www.QueryValue(r, "video"), www.QueryValue(r, "class"), www.QueryInt(r, "limit"))
	www.Check(err)
	www.SendJSON(w, defects)
}

func (s *Server) httpListVideos(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	videos, err := s.Registry.Videos()
	www.Check(err)
	www.SendJSON(w, videos)
}

// httpGetImage serves a frame capture. :video is the video name without its extension.
func (s *Server) httpGetImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := path.Join(s.Options.ImageDir, params.ByName("video"), params.ByName("name"))
	if !storage.ValidName(name) {
		www.PanicBadRequestf("Invalid image name")
	}
	if url, err := s.storage.URL(name); err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	file, err := s.storage.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		www.PanicNotFound()
	}
	www.Check(err)
	defer file.Reader.Close()
	// Captures never change once written
	www.CacheImmutable(w)
	w.Header().Set("Content-Type", "image/jpeg")
	io.Copy(w, file.Reader)
}

type wsMessage struct {
	Progress *pipeline.Progress `json:"progress,omitempty"`
	Summary  *model.SummaryData `json:"summary,omitempty"`
	Error    string             `json:"error,omitempty"`
}

type wsCommand struct {
	Command string `json:"command"`
}

// httpRunProgress streams the progress of a run over a websocket, ending with its summary.
// The client may send {"command": "quit"} to stop the run early.
func (s *Server) httpRunProgress(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	runID := params.ByName("id")
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpRunProgress websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	sendSummary := func() {
		run, err := s.Registry.Run(runID)
		if err != nil {
			c.WriteJSON(wsMessage{Error: err.Error()})
		} else {
			c.WriteJSON(wsMessage{Summary: run})
		}
	}

	ch, last, ok := s.progress.subscribe(runID)
	if !ok {
		// Already finished, or never existed
		sendSummary()
		return
	}
	defer s.progress.unsubscribe(runID, ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			cmd := wsCommand{}
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.Log.Infof("Invalid websocket command: %v", err)
				continue
			}
			if cmd.Command == "quit" {
				s.Log.Infof("Quit requested for run %v", runID)
				s.progress.cancel(runID)
			}
		}
	}()

	if err := c.WriteJSON(wsMessage{Progress: &last}); err != nil {
		return
	}
	for {
		select {
		case p, more := <-ch:
			if !more {
				sendSummary()
				return
			}
			if err := c.WriteJSON(wsMessage{Progress: &p}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
