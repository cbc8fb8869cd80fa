package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// maxWorkbookUpload bounds the in-memory portion of a multipart upload.
const maxWorkbookUpload = 32 << 20

// uploadWorkbook accepts an .xlsx workbook, stores it in the models
// directory, and registers it as a runnable sheet model. The model ID is
// derived from the file name, so uploading a workbook whose stem collides
// with an existing model is rejected.
func (s *Server) uploadWorkbook(w http.ResponseWriter, r *http.Request) {
	if s.sheets == nil {
		writeError(w, http.StatusServiceUnavailable, "workbook uploads are not enabled")
		return
	}
	if err := r.ParseMultipartForm(maxWorkbookUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("workbook")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing workbook file field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") || strings.HasPrefix(name, "~$") {
		writeError(w, http.StatusBadRequest, "workbook must be an .xlsx file")
		return
	}

	// Reject duplicate stems before writing anything so an existing
	// model's backing workbook is never clobbered.
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if _, exists := s.registry.Get(stem); exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("model %q already exists", stem))
		return
	}

	dest := filepath.Join(s.cfg.Models.Dir, name)
	if err := saveUpload(dest, file); err != nil {
		s.logger.Error("save workbook", zap.String("path", dest), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store workbook")
		return
	}

	mdl, err := s.sheets(dest)
	if err != nil {
		_ = os.Remove(dest)
		s.logger.Warn("parse workbook", zap.String("path", dest), zap.Error(err))
		writeError(w, http.StatusBadRequest, "workbook could not be parsed")
		return
	}
	if err := s.registry.Register(mdl); err != nil {
		_ = os.Remove(dest)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Info("workbook uploaded", zap.String("model_id", mdl.ID()), zap.String("path", dest))
	writeJSON(w, http.StatusCreated, map[string]string{"model_id": mdl.ID()})
}

func saveUpload(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}
