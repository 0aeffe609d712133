package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mahaj/dupahar-composer/pkg/auth"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
)

type LoginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func LoginHandler(issuer *auth.Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		// User ids end up in presence keys.
		if err := channelstore.CheckChannel(req.UserID); err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}

		token, err := issuer.GenerateToken(req.UserID, req.Name)
		if err != nil {
			logger.Error("Failed to generate token", "error", err)
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		logger.Info("user logged in", "user_id", req.UserID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{Token: token})
	}
}
