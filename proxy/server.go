// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package proxy

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/grailbio/base/log"
)

// A Server receives push webhooks from the two hosting providers and
// fires the gate for payloads naming the configured repositories. The
// project check is a filter against accidental cross-wiring, not a
// security boundary.
type Server struct {
	gate      *Gate
	gitRepo   string
	pijulRepo string
}

// NewServer returns a webhook receiver for the two remote URLs,
// triggering gate on every accepted hook.
func NewServer(gate *Gate, gitURL, pijulURL string) *Server {
	return &Server{
		gate:      gate,
		gitRepo:   RepositoryPath(gitURL),
		pijulRepo: RepositoryPath(pijulURL),
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fromGitlab", s.fromGitlab)
	mux.HandleFunc("/fromNest", s.fromNest)
	return mux
}

// fromGitlab handles GitLab push hooks.
func (s *Server) fromGitlab(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		log.Error.Printf("bad GitLab hook payload: %v", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if payload.Project.PathWithNamespace != s.gitRepo {
		log.Printf("dropping GitLab hook for %s", payload.Project.PathWithNamespace)
		return
	}
	s.gate.Trigger()
}

// fromNest handles Pijul Nest NewPatches hooks.
func (s *Server) fromNest(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		NewPatches *struct {
			RepositoryOwner string `json:"repository_owner"`
			RepositoryName  string `json:"repository_name"`
		} `json:"NewPatches"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		log.Error.Printf("bad Nest hook payload: %v", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if payload.NewPatches == nil {
		return
	}
	repo := payload.NewPatches.RepositoryOwner + "/" + payload.NewPatches.RepositoryName
	if repo != s.pijulRepo {
		log.Printf("dropping Nest hook for %s", repo)
		return
	}
	s.gate.Trigger()
}

// RepositoryPath extracts the "owner/name" repository path from a
// remote URL of either hosting provider. A trailing .git suffix is
// dropped. URLs with no recognizable repository path yield "".
func RepositoryPath(url string) string {
	url = strings.TrimSuffix(url, ".git")
	for _, scheme := range []string{"git://", "https://", "ssh://"} {
		if rest, ok := strings.CutPrefix(url, scheme); ok {
			if _, path, ok := strings.Cut(rest, "/"); ok {
				return path
			}
			return ""
		}
	}
	if !strings.Contains(url, "://") {
		// scp-like: user@host:owner/name
		if _, path, ok := strings.Cut(url, ":"); ok {
			return path
		}
	}
	return ""
}
