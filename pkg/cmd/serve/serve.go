// Package serve runs the studio web service: a JSON API over in-memory chat
// and studio sessions plus the embedded single-page UI.
package serve

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/browser"

	"github.com/imanolz/songstudio/pkg/chat"
	"github.com/imanolz/songstudio/pkg/openai"
	"github.com/imanolz/songstudio/pkg/release"
	"github.com/imanolz/songstudio/pkg/song"
	"github.com/imanolz/songstudio/pkg/songwriter"
	"github.com/imanolz/songstudio/pkg/studio"
)

type Config struct {
	Debug       bool
	Addr        string
	Credentials map[string]string
	Open        bool
	SessionTTL  time.Duration

	Token      string
	Model      string
	ImageModel string
	Host       string
	Wait       time.Duration

	Endpoint    string
	PersonaFile string
}

//go:embed static/*
var staticContent embed.FS

// Serve starts the studio service and blocks until the context is cancelled.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	persona := chat.DefaultPersona()
	if cfg.PersonaFile != "" {
		p, err := chat.LoadPersona(cfg.PersonaFile)
		if err != nil {
			return err
		}
		persona = p
	}

	client := openai.New(&openai.Config{
		Debug:      cfg.Debug,
		Token:      cfg.Token,
		Model:      cfg.Model,
		ImageModel: cfg.ImageModel,
		Host:       cfg.Host,
		Wait:       cfg.Wait,
	})
	writer := songwriter.New(&songwriter.Config{Debug: cfg.Debug, Oracle: client})
	var publisher studio.Publisher
	if cfg.Endpoint != "" {
		publisher = release.New(&release.Config{
			Debug:    cfg.Debug,
			Endpoint: cfg.Endpoint,
		})
	}

	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	reg := &registry{
		chats:   map[string]*entry[*chat.Session]{},
		studios: map[string]*entry[*studio.Session]{},
		ttl:     ttl,
	}
	go reg.janitor(ctx)

	newStudio := func() *studio.Session {
		return studio.New(&studio.Config{
			Debug:     cfg.Debug,
			Writer:    writer,
			Oracle:    client,
			Publisher: publisher,
		})
	}

	staticFS, err := iofs.Sub(staticContent, "static")
	if err != nil {
		return fmt.Errorf("serve: couldn't load static content: %w", err)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(5 * time.Minute))
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}
	r := mux.Group(func(r chi.Router) {
		if cfg.Debug {
			r.Use(middleware.Logger)
		}
	})

	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("serve: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("serve: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if cfg.Open {
		go func() {
			u := fmt.Sprintf("http://localhost:%d", port)
			if err := browser.OpenURL(u); err != nil {
				log.Println("couldn't open browser:", err)
			}
		}()
	}

	mux.Get("/*", http.StripPrefix("/", http.FileServer(http.FS(staticFS))).ServeHTTP)

	r.Post("/api/chats", func(w http.ResponseWriter, req *http.Request) {
		s := chat.New(&chat.Config{Debug: cfg.Debug, Oracle: client, Persona: persona})
		greeting := s.Greeting()
		id := reg.addChat(s)
		writeJSON(w, map[string]any{"id": id, "greeting": greeting, "artist": persona.Name})
	})

	r.Get("/api/chats/{id}", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.chat(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find chat session", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"turns": s.Turns()})
	})

	r.Post("/api/chats/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.chat(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find chat session", http.StatusNotFound)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		turn, err := s.Send(req.Context(), body.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, turn)
	})

	r.Post("/api/chats/{id}/export/{index}", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.chat(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find chat session", http.StatusNotFound)
			return
		}
		index, err := strconv.Atoi(chi.URLParam(req, "index"))
		if err != nil {
			http.Error(w, "invalid turn index", http.StatusBadRequest)
			return
		}
		doc, err := s.Song(index)
		if err != nil {
			writeError(w, err)
			return
		}
		st := newStudio()
		if err := st.Import(doc); err != nil {
			writeError(w, err)
			return
		}
		id := reg.addStudio(st)
		writeJSON(w, map[string]any{"id": id})
	})

	r.Post("/api/studios", func(w http.ResponseWriter, req *http.Request) {
		id := reg.addStudio(newStudio())
		writeJSON(w, map[string]any{"id": id})
	})

	r.Get("/api/studios/{id}", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		writeJSON(w, studioView(s))
	})

	r.Post("/api/studios/{id}/generate", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var params songwriter.Params
		if !readJSON(w, req, &params) {
			return
		}
		doc, err := s.Generate(req.Context(), params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"song": doc, "transcript": s.Transcript()})
	})

	r.Post("/api/studios/{id}/edits", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var body struct {
			Instruction string `json:"instruction"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		doc, err := s.Edit(req.Context(), body.Instruction)
		if err != nil && (errors.Is(err, studio.ErrBusy) || errors.Is(err, studio.ErrState)) {
			writeError(w, err)
			return
		}
		// A failed edit is a normal outcome: the transcript carries the
		// apology and the document is untouched.
		writeJSON(w, map[string]any{"song": doc, "transcript": s.Transcript(), "applied": err == nil})
	})

	r.Post("/api/studios/{id}/revert", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		doc, err := s.Revert()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"song": doc})
	})

	r.Put("/api/studios/{id}/title", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var body struct {
			Title string `json:"title"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		doc, err := s.SetTitle(body.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"song": doc})
	})

	r.Put("/api/studios/{id}/parts/{index}", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		index, err := strconv.Atoi(chi.URLParam(req, "index"))
		if err != nil {
			http.Error(w, "invalid part index", http.StatusBadRequest)
			return
		}
		var body struct {
			Lines []string `json:"lines"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		doc, err := s.SetPartLines(index, body.Lines)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"song": doc})
	})

	r.Post("/api/studios/{id}/label", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var params songwriter.Params
		if !readJSON(w, req, &params) {
			return
		}
		writeJSON(w, map[string]any{"label": s.ActionLabel(params)})
	})

	r.Post("/api/studios/{id}/cover", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var body struct {
			Prompt string `json:"prompt"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		if _, err := s.GenerateCover(req.Context(), body.Prompt); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"cover": true})
	})

	r.Get("/api/studios/{id}/cover", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		img := s.Cover()
		if img == nil {
			http.Error(w, "couldn't find cover", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})

	r.Post("/api/studios/{id}/submit", func(w http.ResponseWriter, req *http.Request) {
		s, ok := reg.studio(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, "couldn't find studio session", http.StatusNotFound)
			return
		}
		var body struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if !readJSON(w, req, &body) {
			return
		}
		if err := s.Submit(req.Context(), body.Name, body.Email); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"submitted": true})
	})

	r.Get("/api/random/{kind}", func(w http.ResponseWriter, req *http.Request) {
		var value string
		var err error
		switch kind := chi.URLParam(req, "kind"); kind {
		case "idea":
			value, err = writer.RandomIdea(req.Context())
		case "structure":
			value, err = writer.RandomStructure(req.Context())
		case "instrumentation":
			value, err = writer.RandomInstrumentation(req.Context())
		case "vocal-style":
			value, err = writer.RandomVocalStyle(req.Context())
		default:
			http.Error(w, fmt.Sprintf("unknown suggestion kind: %s", kind), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"value": value})
	})

	<-ctx.Done()
	return nil
}

func studioView(s *studio.Session) map[string]any {
	return map[string]any{
		"state":      s.State(),
		"song":       s.Current(),
		"original":   s.Original(),
		"transcript": s.Transcript(),
		"diverged":   s.HasDiverged(),
		"submitted":  s.Submitted(),
		"has_cover":  s.Cover() != nil,
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("couldn't encode response:", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, studio.ErrBusy), errors.Is(err, chat.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, studio.ErrState):
		code = http.StatusConflict
	case errors.Is(err, studio.ErrNoSong), errors.Is(err, chat.ErrNoSong):
		code = http.StatusNotFound
	case errors.Is(err, song.ErrPartIndex):
		code = http.StatusBadRequest
	case errors.Is(err, songwriter.ErrInvalidSong):
		code = http.StatusBadGateway
	case errors.Is(err, release.ErrMissingEndpoint):
		code = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), code)
}

type entry[T any] struct {
	value T
	last  time.Time
}

// registry keeps live sessions in memory, keyed by ulid, and evicts the ones
// idle longer than the ttl.
type registry struct {
	mu      sync.Mutex
	chats   map[string]*entry[*chat.Session]
	studios map[string]*entry[*studio.Session]
	ttl     time.Duration
}

func (g *registry) addChat(s *chat.Session) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.Make().String()
	g.chats[id] = &entry[*chat.Session]{value: s, last: time.Now()}
	return id
}

func (g *registry) addStudio(s *studio.Session) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.Make().String()
	g.studios[id] = &entry[*studio.Session]{value: s, last: time.Now()}
	return id
}

func (g *registry) chat(id string) (*chat.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.chats[id]
	if !ok {
		return nil, false
	}
	e.last = time.Now()
	return e.value, true
}

func (g *registry) studio(id string) (*studio.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.studios[id]
	if !ok {
		return nil, false
	}
	e.last = time.Now()
	return e.value, true
}

func (g *registry) janitor(ctx context.Context) {
	ticker := time.NewTicker(g.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		g.mu.Lock()
		deadline := time.Now().Add(-g.ttl)
		for id, e := range g.chats {
			if e.last.Before(deadline) {
				delete(g.chats, id)
			}
		}
		for id, e := range g.studios {
			if e.last.Before(deadline) {
				delete(g.studios, id)
			}
		}
		g.mu.Unlock()
	}
}
