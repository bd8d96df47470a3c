package registry

import (
	"net/http"
	"strings"
	"time"
)

// DeclareHandler implements the legacy push-registration route
// /dvr/source/declare. Peers that don't support discovery announce
// themselves with a form POST instead of waiting to be polled. Missing
// required parameters are silently ignored; the peer will simply retry
// on its own schedule.
func (r *Registry) DeclareHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	name := req.FormValue("name")
	adminURL := req.FormValue("admin")
	url := req.FormValue("url")
	available := req.FormValue("available")
	devices := req.FormValue("devices")

	if name == "" || url == "" || available == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	baseURL := "http://" + url

	now := time.Now()
	r.mu.Lock()
	srv, known := r.servers[name]
	if !known {
		srv = &FeedServer{Name: name, BaseURL: baseURL}
		r.servers[name] = srv
	}
	srv.BaseURL = baseURL
	srv.Console = adminURL
	srv.Available = available
	srv.LastContact = now
	if rolledMin, rolled := srv.Ring.sample(now, parseAvailable(available)); rolled {
		r.sink.Event("registry", srv.Name, "SENSOR", "hourly minimum available space", map[string]any{"availableMB": rolledMin})
	}
	r.lastServerContact = now

	for _, device := range strings.Split(devices, "+") {
		if device == "" {
			continue
		}
		camName := name + ":" + device
		cam, known := r.cameras[camName]
		if !known {
			cam = &Camera{Name: camName}
			r.cameras[camName] = cam
			r.markDirtyLocked()
		}
		cam.Server = name
		cam.StreamURL = "http://" + url + "/" + device + "/stream"
		cam.LastContact = now
		cam.Forgotten = false
	}
	r.lastCameraContact = now
	r.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
