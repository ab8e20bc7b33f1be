package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/audit"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

type namedRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// GroupsHandler lists groups.
func GroupsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, st.Groups())
	}
}

// CreateGroupHandler adds a group.
func CreateGroupHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req namedRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		group := &store.Group{ID: uuid.New().String(), Name: req.Name, Color: req.Color}
		err := st.Update(func(snap *store.Snapshot) error {
			snap.Groups[group.ID] = group
			return nil
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, group)
	}
}

// DeleteGroupHandler removes a group, clearing member references.
func DeleteGroupHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteGroup(chi.URLParam(r, "id")); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, nil)
	}
}

// TagsHandler lists tags.
func TagsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, st.Tags())
	}
}

// CreateTagHandler adds a tag.
func CreateTagHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req namedRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		tag := &store.Tag{ID: uuid.New().String(), Name: req.Name, Color: req.Color}
		err := st.Update(func(snap *store.Snapshot) error {
			snap.Tags[tag.ID] = tag
			return nil
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, tag)
	}
}

// DeleteTagHandler removes a tag, clearing references.
func DeleteTagHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteTag(chi.URLParam(r, "id")); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, nil)
	}
}

type assignRequest struct {
	GroupID *string  `json:"groupId,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// AssignAccountHandler sets an account's group and/or tags.
func AssignAccountHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req assignRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		err := st.Update(func(snap *store.Snapshot) error {
			account, ok := snap.Accounts[id]
			if !ok {
				return errors.New("account not found")
			}
			if req.GroupID != nil {
				if *req.GroupID != "" {
					if _, ok := snap.Groups[*req.GroupID]; !ok {
						return errors.New("group not found")
					}
				}
				account.GroupID = *req.GroupID
			}
			if req.Tags != nil {
				for _, tid := range req.Tags {
					if _, ok := snap.Tags[tid]; !ok {
						return errors.New("tag not found: " + tid)
					}
				}
				account.Tags = req.Tags
			}
			account.UpdatedAt = time.Now().UnixMilli()
			return nil
		})
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, st.Account(id))
	}
}

// SettingsHandler returns the global settings.
func SettingsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, st.Settings())
	}
}

// UpdateSettingsHandler replaces the global settings.
func UpdateSettingsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req store.Settings
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		// Same normalization the store applies on load: a partial update
		// never zeroes the refresh cadence.
		if req.AutoRefreshIntervalMin <= 0 {
			req.AutoRefreshIntervalMin = 30
		}
		if req.AutoRefreshConcurrency <= 0 {
			req.AutoRefreshConcurrency = 10
		}
		err := st.Update(func(snap *store.Snapshot) error {
			snap.Settings = req
			return nil
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, st.Settings())
	}
}

// AuditHandler returns recent audit entries, optionally for one account.
func AuditHandler(auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var (
			entries []audit.Entry
			err     error
		)
		if accountID := r.URL.Query().Get("accountId"); accountID != "" {
			entries, err = auditLog.ForAccount(accountID, limit)
		} else {
			entries, err = auditLog.Recent(limit)
		}
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, entries)
	}
}
