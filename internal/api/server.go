// Package api is the operator HTTP surface: status, commands, effective
// configuration and the lamp test.
package api

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/controller"
	"github.com/banshee-data/junction/internal/httputil"
	"github.com/banshee-data/junction/internal/telemetry"
	"github.com/banshee-data/junction/internal/traffic"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Junction is what the API needs from the running controller.
type Junction interface {
	Report() controller.Report
	Submit(raw string) (traffic.Command, error)
	LampTest(d traffic.Direction, c traffic.Color) error
	Config() *config.Config
}

type Server struct {
	j Junction
}

func NewServer(j Junction) *Server {
	return &Server{j: j}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Hijack passes websocket upgrades through to the underlying connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/lamp_test", s.lampTest)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.j.Report())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.j.Config())
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Ack string `json:"ack"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req commandRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cmd, err := s.j.Submit(req.Command)
	switch {
	case errors.Is(err, traffic.ErrInvalidCommand):
		httputil.BadRequest(w, err.Error())
		return
	case errors.Is(err, telemetry.ErrQueueFull):
		httputil.ServiceUnavailable(w, err.Error())
		return
	case err != nil:
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, commandResponse{Ack: cmd.String()})
}

type lampTestRequest struct {
	Direction string `json:"direction"`
	Color     string `json:"color"`
}

func (s *Server) lampTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req lampTestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	d, err := traffic.ParseDirection(req.Direction)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	c, err := traffic.ParseColor(req.Color)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.j.LampTest(d, c); err != nil {
		if errors.Is(err, controller.ErrNotInSafetyHold) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"direction": d.String(), "color": c.String()})
}
