package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// Version is set at build time
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cli := &CLI{
		BaseURL: getEnv("AUTHZ_URL", "http://localhost:8080"),
		Token:   os.Getenv("AUTHZ_TOKEN"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch cmd {
	case "check":
		err = cli.checkCommand(args)
	case "grant":
		err = cli.grantCommand(args)
	case "revoke":
		err = cli.revokeCommand(args)
	case "transfer":
		err = cli.transferCommand(args)
	case "list":
		err = cli.listCommand(args)
	case "users":
		err = cli.usersCommand(args)
	case "audit":
		err = cli.auditCommand(args)
	case "admin":
		err = cli.adminCommand(args)
	case "health":
		err = cli.healthCommand(args)
	case "token":
		err = tokenCommand(args)
	case "version":
		fmt.Printf("authz-cli %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`authz-cli - FlowStudio Authorization Command Line Interface

Usage:
  authz-cli <command> [arguments] [options]

Environment Variables:
  AUTHZ_URL    Base URL of the authorization server (default: http://localhost:8080)
  AUTHZ_TOKEN  Bearer token of the acting user
  JWT_SECRET   Shared secret, only needed by the token command

Commands:
  check     <namespace:id> <relation> [--subject=ID]   Check a permission
  grant     <namespace:id> <relation> <subject>        Grant a relation
  revoke    <namespace:id> <relation> <subject>        Revoke a relation
  transfer  <namespace:id> <new-owner>                 Transfer ownership
  list      <namespace> [--relation=REL]               List accessible objects
  users     <namespace:id>                             List grants on an object

  audit     Query the audit trail (administrators)
    [--actor=ID] [--subject=ID] [--namespace=NS] [--object=ID]
    [--type=TYPE] [--since=24h] [--limit=N] [--format=json]

  admin     Manage administrators
    add     <subject>

  health    Check server health
    live    Liveness check
    ready   Readiness check
    full    Full health report

  token     <subject> [--ttl=1h]                       Mint a development token
  version   Show CLI version
  help      Show this help

Examples:
  # Share a project read-only
  authz-cli grant image_project:proj-1 viewer user-b

  # Can user-b edit it?
  authz-cli check image_project:proj-1 editor --subject=user-b

  # Who has access?
  authz-cli users image_project:proj-1

  # Recent grants
  authz-cli audit --type=permission.granted --since=24h
`)
}
