package nodehttp

import (
	"fmt"
	"net/http"
	"strings"
)

type webfingerResponse struct {
	Subject string           `json:"subject"`
	Links   []webfingerLink  `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// handleWebFinger resolves acct:user@host to the Node's actor URL (spec
// §4.15). The Node serves exactly one account.
func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	want := "acct:" + s.Username + "@" + s.hostname()
	if resource != want {
		writeError(w, http.StatusNotFound, "not_found", "no such resource")
		return
	}

	writeJSON(w, http.StatusOK, "application/jrd+json", webfingerResponse{
		Subject: resource,
		Links: []webfingerLink{
			{Rel: "self", Type: activityJSONType, Href: s.actorURL()},
		},
	})
}

func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xrd+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" type="application/jrd+json" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, s.BaseURL)
}

type nodeInfoDiscovery struct {
	Links []webfingerLink `json:"links"`
}

func (s *Server) handleNodeInfoDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", nodeInfoDiscovery{
		Links: []webfingerLink{
			{Rel: "http://nodeinfo.diaspora.software/ns/schema/2.0", Href: s.BaseURL + "/nodeinfo/2.0"},
		},
	})
}

type nodeInfo struct {
	Version           string            `json:"version"`
	Software          nodeInfoSoftware  `json:"software"`
	Protocols         []string          `json:"protocols"`
	Usage             nodeInfoUsage     `json:"usage"`
	OpenRegistrations bool              `json:"openRegistrations"`
	Metadata          map[string]string `json:"metadata"`
}

type nodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type nodeInfoUsage struct {
	Users nodeInfoUsers `json:"users"`
}

type nodeInfoUsers struct {
	Total int `json:"total"`
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", nodeInfo{
		Version:  "2.0",
		Software: nodeInfoSoftware{Name: "fedi3-node", Version: "0.1.0"},
		Protocols: []string{"activitypub", "fedi3"},
		Usage:     nodeInfoUsage{Users: nodeInfoUsers{Total: 1}},
	})
}

func (s *Server) hostname() string {
	host := strings.TrimPrefix(s.BaseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return host
}
