package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func check(req *http.Request, want int) ([]byte, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s %s: got %s, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status, want, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func run(apiAddr, channel string) error {
	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": "test_user", "name": "Test User"})
	req, _ := http.NewRequest(http.MethodPost, apiAddr+"/login", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	body, err := check(req, http.StatusOK)
	if err != nil {
		return err
	}
	var loginResp LoginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return err
	}
	slog.Info("Logged in", "token_prefix", loginResp.Token[:min(10, len(loginResp.Token))])

	// 2. Typing lookups need the token
	req, _ = http.NewRequest(http.MethodGet, apiAddr+"/channels/"+channel+"/typing", nil)
	if _, err := check(req, http.StatusUnauthorized); err != nil {
		return err
	}

	req, _ = http.NewRequest(http.MethodGet, apiAddr+"/channels/"+channel+"/typing", nil)
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)
	body, err = check(req, http.StatusOK)
	if err != nil {
		return err
	}
	slog.Info("Typing", "channel", channel, "body", strings.TrimSpace(string(body)))
	return nil
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	channel := flag.String("channel", "general", "channel to inspect")
	flag.Parse()

	if err := run(*apiAddr, *channel); err != nil {
		slog.Error("verify failed", "error", err)
		os.Exit(1)
	}
	slog.Info("API looks healthy")
}
