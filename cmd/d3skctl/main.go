package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/d3sk-io/d3sk/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "chat":
		cmdChat(os.Args[2:])
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: d3skctl tickets <list|show|resolve|stats>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: d3skctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "resolve":
			cmdTicketsResolve(os.Args[3:])
		case "stats":
			cmdTicketsStats()
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "tenants":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: d3skctl tenants <list|add|disable|enable>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTenantsList()
		case "add":
			cmdTenantsAdd(os.Args[3:])
		case "disable":
			cmdTenantsSetActive(os.Args[3:], false)
		case "enable":
			cmdTenantsSetActive(os.Args[3:], true)
		default:
			fmt.Fprintf(os.Stderr, "unknown tenants subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: d3skctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- chat command ---

func cmdChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	tenantID := fs.String("tenant", envOr("D3SK_TENANT_ID", ""), "Tenant ID")
	message := fs.String("message", "", "Single message (omit for interactive)")
	threadID := fs.String("thread", "", "Continue an existing thread")
	fs.Parse(args)

	if *tenantID == "" {
		fmt.Fprintln(os.Stderr, "error: tenant required (--tenant or D3SK_TENANT_ID)")
		os.Exit(1)
	}

	if *message != "" {
		resp, err := postTurn(*tenantID, *threadID, *message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		printTurn(resp)
		return
	}

	fmt.Println("d3skctl interactive chat (type 'quit' to exit)")
	fmt.Printf("Tenant: %s\n\n", *tenantID)
	thread := *threadID
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		resp, err := postTurn(*tenantID, thread, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		thread = resp["thread_id"].(string)
		printTurn(resp)
		fmt.Println()
	}
}

func postTurn(tenantID, threadID, message string) (map[string]any, error) {
	body, err := apiPost("/api/chat", map[string]string{
		"tenant_id": tenantID,
		"thread_id": threadID,
		"message":   message,
	})
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func printTurn(resp map[string]any) {
	fmt.Println(resp["answer"])
	if esc, _ := resp["escalated"].(bool); esc {
		if ticketID, _ := resp["ticket_id"].(string); ticketID != "" {
			fmt.Printf("[escalated, ticket %s]\n", ticketID)
		} else {
			fmt.Println("[escalated]")
		}
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open|resolved)")
	tenantID := fs.String("tenant", "", "Filter by tenant")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *tenantID != "" {
		query += "&tenant=" + *tenantID
	}

	body, err := apiGet("/api/tickets" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("%-38s %-10s %-12s %s\n", t["ticket_id"], t["status"], t["tenant_id"], t["issue_text"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsResolve(args []string) {
	fs := flag.NewFlagSet("tickets resolve", flag.ExitOnError)
	remarks := fs.String("remarks", "", "Resolution remarks")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: d3skctl tickets resolve [--remarks <text>] <id>")
		os.Exit(1)
	}

	id := fs.Arg(0)
	body, err := apiPost("/api/tickets/"+id+"/resolve", map[string]string{"remarks": *remarks})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsStats() {
	body, err := apiGet("/api/tickets/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTenantsList() {
	body, err := apiGet("/api/tenants")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tenants []map[string]any
	json.Unmarshal(body, &tenants)
	for _, t := range tenants {
		state := "inactive"
		if active, _ := t["active"].(bool); active {
			state = "active"
		}
		fmt.Printf("%-20s %-10s %s\n", t["tenant_id"], state, t["name"])
	}
}

func cmdTenantsAdd(args []string) {
	fs := flag.NewFlagSet("tenants add", flag.ExitOnError)
	name := fs.String("name", "", "Display name")
	domains := fs.String("domains", "", "Comma-separated allowed domains")
	fs.Parse(args)
	if fs.NArg() < 1 || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: d3skctl tenants add --name <name> [--domains a.com,b.com] <id>")
		os.Exit(1)
	}

	payload := map[string]any{"tenant_id": fs.Arg(0), "name": *name}
	if *domains != "" {
		var list []string
		for _, d := range strings.Split(*domains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				list = append(list, d)
			}
		}
		payload["allowed_domains"] = list
	}

	body, err := apiPost("/api/tenants", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTenantsSetActive(args []string, active bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: d3skctl tenants <enable|disable> <id>")
		os.Exit(1)
	}
	body, err := apiPost("/api/tenants/"+args[0]+"/active", map[string]bool{"active": active})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiBase()+path, nil)
	if err != nil {
		return nil, err
	}
	return doRequest(req)
}

func apiPost(path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", apiBase()+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	if key := os.Getenv("D3SK_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiBase() string {
	return envOr("D3SK_API_URL", "http://localhost:8080")
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("d3skctl - support bot management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat                  Chat with the bot (--tenant, --message, --thread)")
	fmt.Println("  health                Check daemon health")
	fmt.Println("  tickets list          List tickets (--status, --tenant, --limit)")
	fmt.Println("  tickets show <id>     Show ticket details")
	fmt.Println("  tickets resolve <id>  Resolve a ticket (--remarks)")
	fmt.Println("  tickets stats         Ticket counts by status")
	fmt.Println("  tenants list          List tenants")
	fmt.Println("  tenants add <id>      Add a tenant (--name, --domains)")
	fmt.Println("  tenants enable <id>   Activate a tenant")
	fmt.Println("  tenants disable <id>  Deactivate a tenant")
	fmt.Println("  config validate <p>   Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  D3SK_API_URL    Daemon URL (default: http://localhost:8080)")
	fmt.Println("  D3SK_API_KEY    API key for admin commands")
	fmt.Println("  D3SK_TENANT_ID  Default tenant for chat")
}
