package transport

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/hi-im-vika/zoomy-client/internal/protocol"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var robotSendTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/robot-send.html.tmpl"))

// AttachAdminRoutes registers the robot link debug pages under /debug/.
// The send endpoint accepts a command payload ("1 2 3 ...") or the word
// "ping".
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("robot-send", "send a payload to the robot and tail its telemetry", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct {
			Host      string
			Port      int
			Connected bool
		}{m.cfg.Host, m.cfg.Port, m.Connected()}
		if err := robotSendTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("robot-send-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		text := strings.TrimSpace(r.FormValue("payload"))
		if text == "" {
			http.Error(w, "Missing payload", http.StatusBadRequest)
			return
		}
		var payload []byte
		if text == "ping" {
			payload = protocol.Ping()
		} else {
			values, err := protocol.Decode([]byte(text))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			payload = protocol.Encode(values)
		}
		if err := m.SendNow(payload); err != nil {
			http.Error(w, "Failed to send payload", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %q to robot", payload))
	})

	debug.HandleSilentFunc("robot-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Connected bool          `json:"connected"`
			Stats     StatsSnapshot `json:"stats"`
		}{m.Connected(), m.stats.Snapshot()})
	})

	debug.HandleSilentFunc("robot-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("robot-tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/robot-tail.js")
		if err != nil {
			http.Error(w, "Failed to open robot-tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
