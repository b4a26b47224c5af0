package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// CLI holds the client configuration
type CLI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// ---- HTTP Helpers ----

func (c *CLI) get(path string) ([]byte, error) {
	return c.request(http.MethodGet, path, nil)
}

func (c *CLI) post(path string, body interface{}) ([]byte, error) {
	return c.request(http.MethodPost, path, body)
}

func (c *CLI) delete(path string, body interface{}) ([]byte, error) {
	return c.request(http.MethodDelete, path, body)
}

func (c *CLI) request(method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, data)
	}

	return data, nil
}

// apiError turns the server's error envelope into a readable error.
func apiError(status int, data []byte) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(data)))
	}
	return fmt.Errorf("HTTP %d %s: %s", status, body.Error.Code, body.Error.Message)
}

// ---- Utility Functions ----

func parseArgs(args []string) map[string]string {
	opts := make(map[string]string)
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
			if len(parts) == 2 {
				opts[parts[0]] = parts[1]
			} else {
				opts[parts[0]] = "true"
			}
		}
	}
	return opts
}

// positional returns the arguments that are not --flags.
func positional(args []string) []string {
	var out []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			out = append(out, arg)
		}
	}
	return out
}

func buildQuery(opts map[string]string, keys ...string) string {
	q := url.Values{}
	for _, k := range keys {
		// Map CLI arg names to query params
		queryKey := k
		switch k {
		case "subject":
			queryKey = "subject_id"
		case "actor":
			queryKey = "actor_id"
		case "object":
			queryKey = "object_id"
		}
		if v, ok := opts[k]; ok {
			q.Set(queryKey, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// parseObject splits "namespace:id" into its parts.
func parseObject(s string) (string, string, error) {
	ns, id, ok := strings.Cut(s, ":")
	if !ok || ns == "" || id == "" {
		return "", "", fmt.Errorf("object must look like namespace:id, got %q", s)
	}
	return ns, id, nil
}

func prettyPrint(data []byte) error {
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
