// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"net/http"

	"github.com/agntcy/discovery/internal/query"
	"github.com/agntcy/discovery/internal/workload"
)

// newMux builds the HTTP binding for the query surface. This is glue only
// (spec.md names the HTTP layer itself an external collaborator); every
// decision lives in query.Surface.
func newMux(s *query.Surface) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/identify", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Identify(r.URL.Query().Get("identity"))
		writeResult(w, res, err)
	})

	mux.HandleFunc("/reachable", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.FindReachable(r.URL.Query().Get("identity"))
		writeResult(w, res, err)
	})

	mux.HandleFunc("/workloads/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/workloads/"):]
		res, err := s.Get(id)
		writeResult(w, res, err)
	})

	mux.HandleFunc("/by-hostname", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.GetByHostname(r.URL.Query().Get("hostname"))
		writeResult(w, res, err)
	})

	mux.HandleFunc("/by-name", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.GetByName(r.URL.Query().Get("name"), r.URL.Query().Get("namespace"))
		writeResult(w, res, err)
	})

	mux.HandleFunc("/workloads", func(w http.ResponseWriter, r *http.Request) {
		filter := query.ListFilter{Runtime: workload.Runtime(r.URL.Query().Get("runtime"))}
		writeJSON(w, http.StatusOK, s.ListAll(filter))
	})

	return mux
}

func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
