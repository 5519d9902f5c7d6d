package app

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-resty/resty/v2"
)

type pingResponse struct {
	Message string `json:"message"`
	Session string `json:"session"`
}

// waitReady polls the ping route until it answers for this session.
func waitReady(ctx context.Context, baseURL, sessionID string) error {
	client := resty.New().SetTimeout(time.Second)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	var lastErr error
	for {
		var body pingResponse
		resp, err := client.R().
			SetContext(ctx).
			SetResult(&body).
			Get(baseURL + "/api/ping")
		switch {
		case err != nil:
			lastErr = err
		case !resp.IsSuccess():
			lastErr = fmt.Errorf("ping returned %s", resp.Status())
		case body.Session != sessionID:
			lastErr = errors.New("ping answered by another session")
		default:
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// openBrowser is a variable so tests can stub it.
var openBrowser = func(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
