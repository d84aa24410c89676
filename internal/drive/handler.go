package drive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

type Handler struct {
	source  Source
	intake  *IntakeService
	sync    *FolderSync
	dataDir string
}

func NewHandler(source Source, intake *IntakeService, dataDir string) *Handler {
	return &Handler{
		source:  source,
		intake:  intake,
		sync:    NewFolderSync(source),
		dataDir: dataDir,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/drive/files", h.ListFiles).Methods("GET")
	router.HandleFunc("/api/drive/forecasts", h.Forecasts).Methods("GET")
	router.HandleFunc("/api/drive/solve", h.SolveFile).Methods("POST")
	router.HandleFunc("/api/drive/sync", h.SyncFolder).Methods("POST")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	folderID := query.Get("folderId")
	folderPath := query.Get("path")

	var err error
	if folderPath != "" {
			folderID, err = h.source.FindFolderByPath(r.Context(), folderPath)
		if errors.Is(err, ErrFolderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	files, err := h.source.ListFiles(r.Context(), folderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []*File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) Forecasts(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId parameter is required", http.StatusBadRequest)
		return
	}

	forecasts, err := h.intake.Forecasts(r.Context(), fileID)
	if err != nil {
		http.Error(w, fmt.Sprintf("forecast read failed: %v", err), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, forecasts)
}

func (h *Handler) SolveFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		http.Error(w, "fileId parameter is required", http.StatusBadRequest)
		return
	}

	results, err := h.intake.SolveFile(r.Context(), fileID)
	if err != nil {
		http.Error(w, fmt.Sprintf("intake failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "results": results})
}

func (h *Handler) SyncFolder(w http.ResponseWriter, r *http.Request) {
	paths, err := h.sync.Sync(r.Context(), SyncOptions{
		FolderID: r.URL.Query().Get("folderId"),
		Dir:      h.dataDir,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("sync failed: %v", err), http.StatusInternalServerError)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "files": paths})
}
