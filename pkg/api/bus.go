// Package api serves the manager bus that shaper daemons report to and pull
// overrides from.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"k8s.io/klog/v2"

	"bracket-qos/pkg/auth"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/store"
)

const maxBody = 8 << 20

// Bus wires the bus routes over a store.
type Bus struct {
	Store  store.BusStore
	Signer *auth.Signer // nil disables bus auth
	Hub    *WSHub
}

func NewBus(s store.BusStore, signer *auth.Signer) *Bus {
	return &Bus{Store: s, Signer: signer, Hub: NewWSHub()}
}

// RegisterRoutes wires the HTTP handlers on the provided mux.
func (b *Bus) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := b.Store.Ping(); err != nil {
			http.Error(w, "store unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	guard := func(method string, h http.HandlerFunc) http.Handler {
		return b.Signer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		}))
	}

	mux.Handle("/bus/tree", guard(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var rep model.TreeReport
		if !decodeJSON(w, r, &rep) {
			return
		}
		b.saved(w, "tree", rep.ID, b.Store.SaveTree(rep))
	}))
	mux.Handle("/bus/duplicate_ip", guard(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var rep model.DuplicateIPReport
		if !decodeJSON(w, r, &rep) {
			return
		}
		if len(rep.Dupes) > 0 {
			klog.Warningf("bus: daemon reports %d duplicate addresses: %v", len(rep.Dupes), rep.Dupes)
		}
		b.saved(w, "duplicate_ip", rep.ID, b.Store.SaveDuplicates(rep))
	}))
	mux.Handle("/bus/unmapped_clients", guard(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var rep model.UnmappedReport
		if !decodeJSON(w, r, &rep) {
			return
		}
		b.saved(w, "unmapped_clients", rep.ID, b.Store.SaveUnmapped(rep))
	}))
	mux.Handle("/bus/reports", guard(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		reps, err := b.Store.Reports()
		if err != nil {
			http.Error(w, "failed to load reports", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, reps)
	}))

	mux.Handle("/bus/site_config", guard(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		cfg, err := b.Store.ShaperConfig()
		if err != nil {
			klog.Errorf("bus: load shaper config: %v", err)
			http.Error(w, "failed to load overrides", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}))
	siteLimit := guard(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var l model.SiteLimit
		if !decodeJSON(w, r, &l) {
			return
		}
		b.limitChanged(w, "site", l.ID, b.Store.UpsertSiteLimit(l))
	})
	apLimit := guard(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var l model.APLimit
		if !decodeJSON(w, r, &l) {
			return
		}
		b.limitChanged(w, "access point", l.ID, b.Store.UpsertAPLimit(l))
	})
	mux.Handle("/bus/site_limit", siteLimit)
	mux.Handle("/bus/ap_limit", apLimit)
	// older management scripts post here
	mux.Handle("/bus/add_site_limit", siteLimit)
	mux.Handle("/bus/add_ap_limit", apLimit)

	mux.Handle("/bus/ws", b.Signer.Middleware(http.HandlerFunc(b.Hub.HandleWS)))
}

func (b *Bus) saved(w http.ResponseWriter, kind, id string, err error) {
	if err != nil {
		klog.Errorf("bus: persist %s report %s: %v", kind, id, err)
		http.Error(w, "failed to persist report", http.StatusInternalServerError)
		return
	}
	klog.V(2).Infof("bus: stored %s report %s", kind, id)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Bus) limitChanged(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, store.ErrInvalidLimit) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		klog.Errorf("bus: upsert %s limit %s: %v", kind, id, err)
		http.Error(w, "failed to persist limit", http.StatusInternalServerError)
		return
	}
	version, err := b.Store.LimitsVersion()
	if err != nil {
		klog.Warningf("bus: read limits version: %v", err)
	}
	n := b.Hub.Broadcast(WSMessage{Type: MsgLimitsChanged, Payload: map[string]int64{"version": version}})
	klog.Infof("bus: %s limit %s updated (version %d), notified %d daemons", kind, id, version, n)
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Warningf("failed to write response: %v", err)
	}
}
