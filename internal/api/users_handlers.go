package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Color     *int    `json:"color"`
}

// Me serves the authenticated user's profile resource.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newUserResponse(actor))
	case http.MethodPatch:
		var req updateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Color:     req.Color,
		}
		user, err := h.Store.UpdateProfile(actor.ID, update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	default:
		w.Header().Set("Allow", "GET, PATCH")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// MyImage uploads or removes the authenticated user's profile image.
func (h *Handler) MyImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		imageURL, err := h.saveImageUpload(r, "profile-"+actor.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.SetProfileImage(actor.ID, imageURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		user, err := h.Store.RemoveProfileImage(actor.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.removeMediaFiles("profile-" + actor.ID)
		writeJSON(w, http.StatusOK, newUserResponse(user))
	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// Users lists every account. Admin only.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if !actor.HasRole(roleAdmin) {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}
	users := h.Store.ListUsers()
	response := make([]userResponse, 0, len(users))
	for _, user := range users {
		response = append(response, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, response)
}

type contactResponse struct {
	User          userResponse `json:"user"`
	LastMessageAt string       `json:"lastMessageAt"`
}

// Contacts lists the users the authenticated user has exchanged direct
// messages with, most recent conversation first.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	contacts, err := h.Store.ListContacts(actor.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]contactResponse, 0, len(contacts))
	for _, contact := range contacts {
		response = append(response, contactResponse{
			User:          newUserResponse(contact.User),
			LastMessageAt: contact.LastMessageAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// ContactSearch finds users by name or email, excluding the requester.
func (h *Handler) ContactSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q is required"))
		return
	}
	users := h.Store.SearchUsers(query, actor.ID)
	response := make([]userResponse, 0, len(users))
	for _, user := range users {
		response = append(response, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, response)
}

// ServeMedia serves an uploaded image from the media directory.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/media/"))
	if name == "" || name == "." || name == "/" {
		writeError(w, http.StatusNotFound, fmt.Errorf("media not found"))
		return
	}
	fullPath := filepath.Join(h.mediaDir(), name)
	file, err := os.Open(fullPath)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("media not found"))
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("media stat failed"))
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, r, name, stat.ModTime(), file)
}

var allowedImageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
	".svg":  {},
}

const maxImageUploadBytes = 8 << 20

// saveImageUpload reads the "file" part of a multipart request, stores it in
// the media directory under baseName, and returns the public URL path.
func (h *Handler) saveImageUpload(r *http.Request, baseName string) (string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", fmt.Errorf("invalid multipart payload")
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read multipart data: %w", err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		return h.persistImagePart(part, baseName)
	}
	return "", fmt.Errorf("file part is required")
}

func (h *Handler) persistImagePart(part *multipart.Part, baseName string) (string, error) {
	defer part.Close()

	ext := strings.ToLower(filepath.Ext(part.FileName()))
	if _, ok := allowedImageExtensions[ext]; !ok {
		return "", fmt.Errorf("unsupported image type %q", ext)
	}

	dir := h.mediaDir()
	tmp, err := os.CreateTemp(dir, "pending-image-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(part, maxImageUploadBytes+1))
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("save image: %w", err)
	}
	if written == 0 {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("image payload is empty")
	}
	if written > maxImageUploadBytes {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("image exceeds %d bytes", maxImageUploadBytes)
	}

	// Drop any stale variant with a different extension before renaming.
	h.removeMediaFiles(baseName)
	storedName := baseName + ext
	if err := os.Rename(tmp.Name(), filepath.Join(dir, storedName)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("store image: %w", err)
	}
	return "/media/" + storedName, nil
}

func (h *Handler) removeMediaFiles(baseName string) {
	matches, err := filepath.Glob(filepath.Join(h.mediaDir(), baseName+".*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		_ = os.Remove(match)
	}
}
