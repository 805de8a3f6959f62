package relay

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/drpcorg/mural/mural_errors"
	"github.com/drpcorg/mural/utils"
)

type ServerOptions struct {
	Logger utils.Logger
	Peer   PeerOptions
	// per-user outbound queue
	QueueSize int
	// messages per websocket write wakeup
	WriteBatch  int
	ReadBuffer  int
	WriteBuffer int
	// the page served at /{room}; receives the room name
	Shell *template.Template
}

func (o *ServerOptions) SetDefaults() {
	if o.QueueSize == 0 {
		o.QueueSize = 1024
	}
	if o.WriteBatch == 0 {
		o.WriteBatch = 64
	}
	if o.ReadBuffer == 0 {
		o.ReadBuffer = 1024
	}
	if o.WriteBuffer == 0 {
		o.WriteBuffer = 1024
	}
	if o.Shell == nil {
		o.Shell = shell
	}
}

var shell = template.Must(template.New("room").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.}}</title></head>
<body data-room="{{.}}" data-socket="/{{.}}/ws"><img src="/{{.}}/preview.png" alt="{{.}}"></body></html>
`))

// Server is the HTTP face of a lobby.
type Server struct {
	lobby    *Lobby
	log      utils.Logger
	opts     ServerOptions
	upgrader websocket.Upgrader
	router   *mux.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(lobby *Lobby, opts ServerOptions) *Server {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		lobby: lobby,
		log:   opts.Logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBuffer,
			WriteBufferSize: opts.WriteBuffer,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.newRoom)
	r.Methods(http.MethodGet).Path("/{room}").HandlerFunc(s.getRoom)
	r.Methods(http.MethodGet).Path("/{room}/ws").HandlerFunc(s.socket)
	r.Methods(http.MethodGet).Path("/{room}/preview.png").HandlerFunc(s.preview)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.log.Debug("relay: handled", "method", request.Method, "url", request.URL.String(), "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) newRoom(writer http.ResponseWriter, request *http.Request) {
	room, err := s.lobby.Create()
	if err != nil {
		http.Error(writer, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Redirect(writer, request, "/"+room.Name(), http.StatusFound)
}

func (s *Server) getRoom(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)["room"]
	if _, ok := s.lobby.Room(name); !ok {
		http.Redirect(writer, request, "/", http.StatusFound)
		return
	}
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.opts.Shell.Execute(writer, name); err != nil {
		s.log.Warn("relay: shell page failed", "room", name, "err", err)
	}
}

func (s *Server) socket(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)["room"]
	room, ok := s.lobby.Room(name)
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	link := NewLink(room, s.opts.QueueSize, s.opts.WriteBatch)
	user, err := link.Join()
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, mural_errors.ErrRoomFull) {
			status = http.StatusConflict
		}
		http.Error(writer, err.Error(), status)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Warn("relay: upgrade failed", "room", name, "err", err)
		_ = link.Close()
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	ctx := utils.WithDefaultArgs(s.ctx, "room", name, "user", user, "trace", link.GetTraceId())
	s.log.InfoCtx(ctx, "relay: connected", "remote", request.RemoteAddr)
	peer := NewPeer(conn, link, s.opts.Peer)
	start := time.Now()
	rerr, werr, cerr := peer.Keep(ctx)
	if err := peer.Close(); err != nil {
		s.log.WarnCtx(ctx, "relay: leave failed", "err", err)
	}
	avg, most := peer.WriteBatch()
	s.log.InfoCtx(ctx, "relay: disconnected",
		"duration", time.Since(start), "read_err", rerr, "write_err", werr, "close_err", cerr,
		"batch_avg", avg, "batch_max", most)
}

func (s *Server) preview(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)["room"]
	room, ok := s.lobby.Room(name)
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	previewer, ok := room.Authority().(Previewer)
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	img, err := previewer.Preview(request.Context())
	if err != nil {
		s.log.Warn("relay: preview failed", "room", name, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "image/png")
	if _, err := writer.Write(img); err != nil {
		s.log.Debug("relay: preview write failed", "room", name, "err", err)
	}
}

// Close disconnects every user and waits for their connections to end.
func (s *Server) Close() error {
	s.cancel()
	err := s.lobby.Close()
	s.wg.Wait()
	return err
}
