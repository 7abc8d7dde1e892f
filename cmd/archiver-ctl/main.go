package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var version = "dev"

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "plot-archiver API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("archiver-ctl %s\n", version)
	case "status":
		err = cmdStatus(*addr)
	case "destinations":
		err = cmdDestinations(*addr)
	case "jobs":
		err = cmdJobs(*addr)
	case "history":
		kind, limit := "archivals", 20
		if len(args) > 1 {
			kind = args[1]
		}
		if len(args) > 2 {
			limit, err = strconv.Atoi(args[2])
			if err != nil {
				fmt.Fprintln(os.Stderr, "usage: archiver-ctl history [archivals|evictions] [limit]")
				os.Exit(1)
			}
		}
		err = cmdHistory(*addr, kind, limit)
	case "refresh":
		err = cmdRefresh(*addr)
	case "enqueue":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: archiver-ctl enqueue <path>")
			os.Exit(1)
		}
		err = cmdEnqueue(*addr, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `archiver-ctl - plot-archiver management CLI

Usage:
  archiver-ctl [flags] <command> [args]

Commands:
  status                                 Show overall status
  destinations                           List destinations with free and claimable space
  jobs                                   List queued, waiting and active jobs
  history [archivals|evictions] [limit]  Show recent archivals or evictions
  refresh                                Re-probe free space on every destination
  enqueue <path>                         Queue a plot file for archival
  version                                Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

func cmdStatus(addr string) error {
	var status map[string]interface{}
	if err := getJSON(addr+"/v1/status", &status); err != nil {
		return err
	}
	renderStatus(os.Stdout, status)
	return nil
}

func cmdDestinations(addr string) error {
	var dests []destinationRow
	if err := getJSON(addr+"/v1/destinations", &dests); err != nil {
		return err
	}
	renderDestinations(os.Stdout, dests)
	return nil
}

func cmdRefresh(addr string) error {
	var dests []destinationRow
	if err := sendJSON(addr+"/v1/admin/refresh", nil, &dests); err != nil {
		return err
	}
	renderDestinations(os.Stdout, dests)
	return nil
}

func cmdJobs(addr string) error {
	var jobs []jobRow
	if err := getJSON(addr+"/v1/jobs", &jobs); err != nil {
		return err
	}
	renderJobs(os.Stdout, jobs)
	return nil
}

func cmdHistory(addr, kind string, limit int) error {
	q := url.Values{}
	q.Set("kind", kind)
	q.Set("limit", strconv.Itoa(limit))

	var entries []map[string]interface{}
	if err := getJSON(addr+"/v1/history?"+q.Encode(), &entries); err != nil {
		return err
	}
	if kind == "evictions" {
		renderEvictions(os.Stdout, entries)
	} else {
		renderArchivals(os.Stdout, entries)
	}
	return nil
}

func cmdEnqueue(addr, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	var out map[string]interface{}
	if err := sendJSON(addr+"/v1/admin/enqueue", map[string]string{"path": abs}, &out); err != nil {
		return err
	}
	fmt.Printf("queued %v as job %v\n", out["plot"], out["job_id"])
	return nil
}

func getJSON(u string, v interface{}) error {
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	return decodeResponse(resp, v)
}

func sendJSON(u string, body, v interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	resp, err := client.Post(u, "application/json", r)
	if err != nil {
		return err
	}
	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
