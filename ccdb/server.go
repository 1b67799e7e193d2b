// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is a read-only HTTP view of a Store.
//
//	GET /browse/<path>           descriptors stored under path
//	GET /retrieve/<path>?at=<ms> payload valid at the given time (default now)
type Server struct {
	Store  Store
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/browse/{path:.*}", s.browse).Methods(http.MethodGet)
	router.HandleFunc("/retrieve/{path:.*}", s.retrieve).Methods(http.MethodGet)
	return router
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok\n"))
}

func (s *Server) browse(w http.ResponseWriter, r *http.Request) {
	p := CleanPath(mux.Vars(r)["path"])
	infos, err := s.Store.List(r.Context(), p)
	if err != nil {
		s.logger().Error("list failed", zap.String("path", p), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []ObjectInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	p := CleanPath(mux.Vars(r)["path"])

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := toMillis(now())
	if v := r.URL.Query().Get("at"); v != "" {
		var err error
		at, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "bad timestamp: "+v, http.StatusBadRequest)
			return
		}
	}

	obj, err := s.Store.Retrieve(r.Context(), p, at)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger().Error("retrieve failed", zap.String("path", p), zap.Int64("at", at), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="`+obj.Info.FileName+`"`)
	h.Set("ETag", `"`+obj.Info.Checksum+`"`)
	h.Set("Valid-From", strconv.FormatInt(obj.Info.Start, 10))
	h.Set("Valid-Until", strconv.FormatInt(obj.Info.End, 10))
	h.Set("Object-Type", obj.Info.ObjectType)
	h.Set("Object-Metadata", obj.Info.Metadata.String())
	w.Write(obj.Payload)
}
