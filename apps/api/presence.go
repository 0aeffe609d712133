package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
)

type TypingUser struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type TypingResponse struct {
	ChannelID string       `json:"channel_id"`
	Users     []TypingUser `json:"users"`
}

// TypingHandler lists who is typing in a channel.
type TypingHandler struct {
	typing channelstore.TypingLister
	logger *slog.Logger
}

func NewTypingHandler(typing channelstore.TypingLister, logger *slog.Logger) *TypingHandler {
	return &TypingHandler{typing: typing, logger: logger}
}

func (h *TypingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["id"]

	users, err := h.typing.Typing(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, channelstore.ErrInvalidChannel) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to fetch typing users", "channel", channelID, "error", err)
		http.Error(w, "Failed to fetch typing users", http.StatusInternalServerError)
		return
	}

	resp := TypingResponse{ChannelID: channelID, Users: make([]TypingUser, 0, len(users))}
	for id, name := range users {
		resp.Users = append(resp.Users, TypingUser{UserID: id, Name: name})
	}
	slices.SortFunc(resp.Users, func(a, b TypingUser) int { return strings.Compare(a.UserID, b.UserID) })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
