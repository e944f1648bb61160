package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/sydlexius/reelsync/internal/catalog"
	"github.com/sydlexius/reelsync/internal/detail"
	"github.com/sydlexius/reelsync/internal/listing"
	"github.com/sydlexius/reelsync/internal/metadata"
	"github.com/sydlexius/reelsync/internal/store"
)

type libraryFolder struct {
	Folder string `json:"folder"`
	metadata.FolderEntry
	Year      string `json:"year"`
	PosterURL string `json:"poster_url"`
}

type libraryResponse struct {
	Root          string          `json:"root"`
	LastRefresh   *time.Time      `json:"last_refresh"`
	ResourceCount int             `json:"resource_count"`
	Resolved      int             `json:"resolved"`
	Failed        int             `json:"failed"`
	Folders       []libraryFolder `json:"folders"`
}

// handleLibrary returns the metadata document for the configured root.
// GET /api/v1/library
func (r *Router) handleLibrary(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	cfg, err := r.settingsService.Get(ctx)
	if err != nil {
		r.logger.Error("loading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	doc, err := r.loader.Load(ctx, cfg.Root)
	if err != nil {
		r.logger.Error("loading metadata", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := libraryResponse{Root: cfg.Root, Folders: make([]libraryFolder, 0, len(doc.Folders))}
	resp.Resolved, resp.Failed = doc.Counts()
	if !doc.LastRefresh.IsZero() {
		t := doc.LastRefresh
		resp.LastRefresh = &t
	}
	resp.ResourceCount = len(doc.Folders)
	if v, ok, err := r.store.GetGlobalValue(ctx, store.KeyResourceCount); err == nil && ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			resp.ResourceCount = n
		}
	}

	for name, e := range doc.Folders {
		resp.Folders = append(resp.Folders, libraryFolder{
			Folder:      name,
			FolderEntry: e,
			Year:        e.Year(),
			PosterURL:   catalog.PosterURL(cfg.ImageBaseURL, e.PosterRef),
		})
	}
	sort.Slice(resp.Folders, func(i, j int) bool { return resp.Folders[i].Folder < resp.Folders[j].Folder })

	writeJSON(w, http.StatusOK, resp)
}

// handleFolderDetail assembles one folder's detail view.
// GET /api/v1/library/{folder}
func (r *Router) handleFolderDetail(w http.ResponseWriter, req *http.Request) {
	d, err := r.detailService.Assemble(req.Context(), req.PathValue("folder"))
	if errors.Is(err, detail.ErrInvalidFolder) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		r.logger.Warn("assembling folder detail", "folder", req.PathValue("folder"), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleStream redirects to the raw URL behind a stream reference.
// GET /api/v1/stream?path=...
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	raw, err := r.detailService.Resolve(req.Context(), req.URL.Query().Get("path"))
	if errors.Is(err, detail.ErrInvalidPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var se *listing.ErrStatus
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		r.logger.Warn("resolving stream", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	http.Redirect(w, req, raw, http.StatusFound)
}
