package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/flowstudio/authz/api"
)

// ---- Audit Commands ----

func (c *CLI) auditCommand(args []string) error {
	opts := parseArgs(args)
	query := buildQuery(opts, "limit", "actor", "subject", "namespace", "object", "type", "since")

	resp, err := c.get("/api/v1/admin/audit" + query)
	if err != nil {
		return err
	}
	if opts["format"] == "json" {
		return prettyPrint(resp)
	}

	var result struct {
		Events []struct {
			Type      string    `json:"type"`
			ActorID   string    `json:"actor_id"`
			SubjectID string    `json:"subject_id"`
			Namespace string    `json:"namespace"`
			ObjectID  string    `json:"object_id"`
			Relation  string    `json:"relation"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"events"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tACTOR\tSUBJECT\tOBJECT\tRELATION\tSTATUS")
	for _, e := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s:%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Type, e.ActorID, e.SubjectID,
			e.Namespace, e.ObjectID, e.Relation, e.Status)
	}
	return w.Flush()
}

// ---- Admin Commands ----

func (c *CLI) adminCommand(args []string) error {
	if len(args) < 2 || args[0] != "add" {
		return fmt.Errorf("usage: authz-cli admin add <subject>")
	}
	if _, err := c.post("/api/v1/admin/admins", map[string]string{"subject_id": args[1]}); err != nil {
		return err
	}
	fmt.Printf("%s is now a system administrator\n", args[1])
	return nil
}

// ---- Token Command ----

// tokenCommand mints a bearer token with the shared secret, for local
// development against a server started with the same JWT_SECRET.
func tokenCommand(args []string) error {
	pos := positional(args)
	if len(pos) < 1 {
		return fmt.Errorf("usage: authz-cli token <subject> [--ttl=1h]")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}

	ttl := time.Hour
	if raw, ok := parseArgs(args)["ttl"]; ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	token, err := api.NewTokenVerifier(secret).Issue(pos[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// ---- Health Commands ----

func (c *CLI) healthCommand(args []string) error {
	sub := "full"
	if len(args) > 0 {
		sub = args[0]
	}

	var path string
	switch sub {
	case "live":
		path = "/healthz"
	case "ready":
		path = "/ready"
	case "full":
		path = "/health"
	default:
		return fmt.Errorf("unknown health subcommand: %s", sub)
	}

	resp, err := c.get(path)
	if err != nil {
		return err
	}
	return prettyPrint(resp)
}
