// Command trajectory-plot exports one recorded autopilot session as a PNG
// trajectory or an HTML chart page.
//
// Usage:
//
//	trajectory-plot -session <id> [-server http://localhost:8080 | -db zoomy.db] [-out session.png]
//
// The output format follows the -out extension: .png or .html.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/httputil"
	"github.com/hi-im-vika/zoomy-client/internal/monitor"
	"github.com/hi-im-vika/zoomy-client/internal/security"
)

func main() {
	session := flag.String("session", "", "Session id to export (required)")
	server := flag.String("server", "", "Base URL of a running operator API")
	dbPath := flag.String("db", "", "Session log to read directly instead of -server")
	out := flag.String("out", "", "Output file under the working or temp directory, .png or .html (default <session>.png)")
	flag.Parse()

	if *session == "" {
		log.Fatal("-session is required")
	}
	if (*server == "") == (*dbPath == "") {
		log.Fatal("exactly one of -server or -db is required")
	}
	if *out == "" {
		*out = security.SanitizeFilename(*session) + ".png"
	}
	if err := security.ExportPath(*out); err != nil {
		log.Fatal(err)
	}

	var (
		detail *db.SessionDetail
		err    error
	)
	if *server != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
		detail, err = fetchSession(client, *server, *session)
	} else {
		detail, err = readSession(*dbPath, *session)
	}
	if err != nil {
		log.Fatalf("failed to load session %s: %v", *session, err)
	}

	if err := export(*out, detail); err != nil {
		log.Fatalf("failed to export: %v", err)
	}
	log.Printf("wrote %s (%d samples, %d/%d waypoints reached)",
		*out, detail.Summary.SampleCount, detail.Summary.Reached, detail.WaypointCount)
}

func fetchSession(c httputil.HTTPClient, base, id string) (*db.SessionDetail, error) {
	endpoint := strings.TrimRight(base, "/") + "/api/sessions/" + url.PathEscape(id)
	var d db.SessionDetail
	if err := httputil.GetJSON(c, endpoint, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func readSession(path, id string) (*db.SessionDetail, error) {
	store, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.GetSession(id)
}

// sessionWaypoints returns the waypoints the session actually started, in
// step order.
func sessionWaypoints(d *db.SessionDetail) []arena.Waypoint {
	wps := make([]arena.Waypoint, 0, len(d.Events))
	for _, e := range d.Events {
		wps = append(wps, e.Waypoint)
	}
	return wps
}

func export(path string, d *db.SessionDetail) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	title := "Session " + d.ID
	points := monitor.SessionTrail(d)
	waypoints := sessionWaypoints(d)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		err = monitor.WriteTrajectoryPNG(f, title, points, waypoints)
	case ".html", ".htm":
		subtitle := fmt.Sprintf("outcome=%s path=%.0fpx mean_error=%.1fpx max_error=%.1fpx",
			d.Outcome, d.Summary.PathLength, d.Summary.MeanFinalError, d.Summary.MaxFinalError)
		err = monitor.RenderPage(f, monitor.PathChart(title, subtitle, points, waypoints), monitor.CommandChart(points))
	default:
		return fmt.Errorf("unsupported output extension %q", ext)
	}
	if err != nil {
		return err
	}
	return f.Close()
}
