package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"
)

// ---- Permission Commands ----

func (c *CLI) checkCommand(args []string) error {
	pos := positional(args)
	if len(pos) < 2 {
		return fmt.Errorf("usage: authz-cli check <namespace:id> <relation> [--subject=ID]")
	}
	ns, id, err := parseObject(pos[0])
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("namespace", ns)
	q.Set("object_id", id)
	q.Set("relation", pos[1])
	if s, ok := parseArgs(args)["subject"]; ok {
		q.Set("subject_id", s)
	}

	resp, err := c.get("/api/v1/permissions/check?" + q.Encode())
	if err != nil {
		return err
	}

	var result struct {
		SubjectID string `json:"subject_id"`
		Allowed   bool   `json:"allowed"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	verdict := "DENIED"
	if result.Allowed {
		verdict = "ALLOWED"
	}
	fmt.Printf("%s %s#%s@%s\n", verdict, pos[0], pos[1], result.SubjectID)
	return nil
}

func tupleBody(args []string, usage string) (map[string]string, error) {
	pos := positional(args)
	if len(pos) < 3 {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	ns, id, err := parseObject(pos[0])
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"namespace":  ns,
		"object_id":  id,
		"relation":   pos[1],
		"subject_id": pos[2],
	}, nil
}

func (c *CLI) grantCommand(args []string) error {
	body, err := tupleBody(args, "authz-cli grant <namespace:id> <relation> <subject>")
	if err != nil {
		return err
	}
	if _, err := c.post("/api/v1/permissions/grants", body); err != nil {
		return err
	}
	fmt.Printf("Granted %s on %s:%s to %s\n", body["relation"], body["namespace"], body["object_id"], body["subject_id"])
	return nil
}

func (c *CLI) revokeCommand(args []string) error {
	body, err := tupleBody(args, "authz-cli revoke <namespace:id> <relation> <subject>")
	if err != nil {
		return err
	}
	if _, err := c.delete("/api/v1/permissions/grants", body); err != nil {
		return err
	}
	fmt.Printf("Revoked %s on %s:%s from %s\n", body["relation"], body["namespace"], body["object_id"], body["subject_id"])
	return nil
}

func (c *CLI) transferCommand(args []string) error {
	pos := positional(args)
	if len(pos) < 2 {
		return fmt.Errorf("usage: authz-cli transfer <namespace:id> <new-owner>")
	}
	ns, id, err := parseObject(pos[0])
	if err != nil {
		return err
	}
	_, err = c.post("/api/v1/permissions/transfer", map[string]string{
		"namespace": ns,
		"object_id": id,
		"to":        pos[1],
	})
	if err != nil {
		return err
	}
	fmt.Printf("Transferred ownership of %s to %s\n", pos[0], pos[1])
	return nil
}

// listCommand prints the objects the caller can access in a namespace, with
// the strongest relation held on each.
func (c *CLI) listCommand(args []string) error {
	pos := positional(args)
	if len(pos) < 1 {
		return fmt.Errorf("usage: authz-cli list <namespace> [--relation=REL]")
	}
	opts := parseArgs(args)

	if rel, ok := opts["relation"]; ok {
		q := url.Values{}
		q.Set("namespace", pos[0])
		q.Set("relation", rel)
		resp, err := c.get("/api/v1/permissions/accessible?" + q.Encode())
		if err != nil {
			return err
		}
		var result struct {
			ObjectIDs []string `json:"object_ids"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return err
		}
		for _, id := range result.ObjectIDs {
			fmt.Println(id)
		}
		return nil
	}

	resp, err := c.get("/api/v1/permissions/relations?namespace=" + url.QueryEscape(pos[0]))
	if err != nil {
		return err
	}
	var result struct {
		Objects []struct {
			ObjectID string `json:"object_id"`
			Relation string `json:"relation"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT\tRELATION")
	for _, o := range result.Objects {
		fmt.Fprintf(w, "%s\t%s\n", o.ObjectID, o.Relation)
	}
	return w.Flush()
}

func (c *CLI) usersCommand(args []string) error {
	pos := positional(args)
	if len(pos) < 1 {
		return fmt.Errorf("usage: authz-cli users <namespace:id>")
	}
	ns, id, err := parseObject(pos[0])
	if err != nil {
		return err
	}

	resp, err := c.get(fmt.Sprintf("/api/v1/%s/%s/users", url.PathEscape(ns), url.PathEscape(id)))
	if err != nil {
		return err
	}

	var result struct {
		Users []struct {
			SubjectID string    `json:"subject_id"`
			Relation  string    `json:"relation"`
			GrantedBy string    `json:"granted_by"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"users"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tRELATION\tGRANTED BY\tSINCE")
	for _, u := range result.Users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.SubjectID, u.Relation, u.GrantedBy, u.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
