package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

type createChannelRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type channelResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AdminID   string   `json:"adminId"`
	MemberIDs []string `json:"memberIds"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

func newChannelResponse(channel models.Channel) channelResponse {
	return channelResponse{
		ID:        channel.ID,
		Name:      channel.Name,
		AdminID:   channel.AdminID,
		MemberIDs: append([]string{}, channel.MemberIDs...),
		ImageURL:  channel.ImageURL,
		CreatedAt: channel.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: channel.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Seq            uint64 `json:"seq"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId,omitempty"`
	ChannelID      string `json:"channelId,omitempty"`
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	FileURL        string `json:"fileUrl,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func newMessageResponse(message models.Message) messageResponse {
	return messageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Seq:            message.Seq,
		SenderID:       message.SenderID,
		RecipientID:    message.RecipientID,
		ChannelID:      message.ChannelID,
		Type:           string(message.Type),
		Content:        message.Content,
		FileURL:        message.FileURL,
		CreatedAt:      message.CreatedAt.Format(time.RFC3339Nano),
	}
}

func newMessageListResponse(messages []models.Message) []messageResponse {
	response := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		response = append(response, newMessageResponse(message))
	}
	return response
}

func parseLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// Channels lists the authenticated user's channels and creates new ones. The
// creator of a channel becomes its admin.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		channels := h.Store.ListChannelsForUser(actor.ID)
		response := make([]channelResponse, 0, len(channels))
		for _, channel := range channels {
			response = append(response, newChannelResponse(channel))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		var req createChannelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		channel, err := h.Store.CreateChannel(actor.ID, req.Name, req.MemberIDs)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newChannelResponse(channel))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// ChannelByID routes /api/channels/{id} and its subresources.
func (h *Handler) ChannelByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel id missing"))
		return
	}
	channelID := parts[0]

	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	channel, exists := h.Store.GetChannel(channelID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
		return
	}
	if !channel.HasMember(actor.ID) {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		writeJSON(w, http.StatusOK, newChannelResponse(channel))
		return
	}

	switch parts[1] {
	case "messages":
		h.channelMessages(w, r, channel)
	case "image":
		h.channelImage(w, r, channel, actor.ID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel path"))
	}
}

func (h *Handler) channelMessages(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	messages, err := h.Store.ListChannelMessages(channel.ID, parseLimit(r))
	if err != nil {
		if errors.Is(err, storage.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageListResponse(messages))
}

func (h *Handler) channelImage(w http.ResponseWriter, r *http.Request, channel models.Channel, actorID string) {
	if channel.AdminID != actorID {
		writeError(w, http.StatusForbidden, fmt.Errorf("only the channel admin may change the image"))
		return
	}
	switch r.Method {
	case http.MethodPost:
		imageURL, err := h.saveImageUpload(r, "channel-"+channel.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.Store.SetChannelImage(channel.ID, imageURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newChannelResponse(updated))
	case http.MethodDelete:
		updated, err := h.Store.SetChannelImage(channel.ID, "")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.removeMediaFiles("channel-" + channel.ID)
		writeJSON(w, http.StatusOK, newChannelResponse(updated))
	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// DirectMessages serves /api/messages/{peerID}: the direct conversation
// history between the authenticated user and the peer.
func (h *Handler) DirectMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	peerID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/messages/"), "/")
	if peerID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("peer id missing"))
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if _, exists := h.Store.GetUser(peerID); !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", peerID))
		return
	}
	messages, err := h.Store.ListDirectMessages(actor.ID, peerID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageListResponse(messages))
}
