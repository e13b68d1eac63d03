// internal/providers/native/models.go
package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/vlmbench/internal/logging"
)

type modelsResponse struct {
	Data   []engineModel `json:"data"`
	Models []engineModel `json:"models"`
}

type engineModel struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Model  string      `json:"model"`
	Path   string      `json:"path"`
	Status statusField `json:"status"`
}

// Prepare asks the engine to load model and waits until it reports the model loaded.
// Engines without the load endpoint (404/405) load on first request.
func (e *HTTPEngine) Prepare(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]any{"model": model})
	if err != nil {
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logging.LogRequest("BENCH->ENGINE", e.baseURL, model, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/models/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logging.LogRequest("ENGINE->BENCH", e.baseURL, model, respBody)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	if resp.StatusCode >= 400 && !isAlreadyLoadedError(resp.StatusCode, respBody) {
		return fmt.Errorf("engine: /models/load returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	if err := e.waitForModelLoaded(ctx, model); err != nil {
		return err
	}

	if loaded, err := e.LoadedModels(ctx); err == nil {
		logging.LogEvent("engine %s ready: loaded models %v", e.baseURL, loaded)
	}
	return nil
}

// LoadedModels returns the models the engine reports as loaded.
func (e *HTTPEngine) LoadedModels(ctx context.Context) ([]string, error) {
	models, err := e.fetchModels(ctx)
	if err != nil {
		return nil, err
	}
	var loaded []string
	for _, m := range models {
		if strings.EqualFold(m.Status.Value, "loaded") {
			if name := modelDisplayName(m); name != "" {
				loaded = append(loaded, name)
			}
		}
	}
	return loaded, nil
}

func (e *HTTPEngine) fetchModels(ctx context.Context) ([]engineModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine: /models returned %s", resp.Status)
	}
	return parseModels(body)
}

func (e *HTTPEngine) waitForModelLoaded(ctx context.Context, model string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		loaded, err := e.isModelLoaded(ctx, model)
		if err != nil {
			return err
		}
		if loaded {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: model %s did not load before timeout", model)
		case <-ticker.C:
		}
	}
}

func (e *HTTPEngine) isModelLoaded(ctx context.Context, model string) (bool, error) {
	models, err := e.fetchModels(ctx)
	if err != nil {
		return false, err
	}
	for _, item := range models {
		if strings.EqualFold(modelDisplayName(item), model) {
			return strings.EqualFold(item.Status.Value, "loaded"), nil
		}
	}
	return false, nil
}

func parseModels(body []byte) ([]engineModel, error) {
	var wrapped modelsResponse
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Models) > 0 {
			return wrapped.Models, nil
		}
		if len(wrapped.Data) > 0 {
			return wrapped.Data, nil
		}
	}

	var direct []engineModel
	if err := json.Unmarshal(body, &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}

	var names struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(body, &names); err == nil && len(names.Models) > 0 {
		out := make([]engineModel, 0, len(names.Models))
		for _, name := range names.Models {
			out = append(out, engineModel{Name: name})
		}
		return out, nil
	}

	return nil, fmt.Errorf("engine: unrecognized /models response")
}

func modelDisplayName(model engineModel) string {
	for _, v := range []string{model.ID, model.Name, model.Model, model.Path} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// statusField accepts both "loaded" and {"value":"loaded"}.
type statusField struct {
	Value string
}

func (s *statusField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		s.Value = ""
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(data, &s.Value)
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Value = obj.Value
	return nil
}

func isAlreadyLoadedError(statusCode int, body []byte) bool {
	if statusCode != http.StatusBadRequest {
		return false
	}
	if strings.Contains(strings.ToLower(string(body)), "already loaded") {
		return true
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		return strings.Contains(strings.ToLower(payload.Error.Message), "already loaded")
	}
	return false
}
