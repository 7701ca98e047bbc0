package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hamed0406/apipulse/internal/domain"
	"github.com/hamed0406/apipulse/internal/scheduler"
)

const usage = `usage:
  cli               sweep all targets and print their status
  cli check URL [METHOD]   run a detailed check of one target`

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Minute}

	args := os.Args[1:]
	switch {
	case len(args) == 0 || args[0] == "sweep":
		os.Exit(sweep(client, api))
	case args[0] == "check" && len(args) >= 2:
		method := http.MethodGet
		if len(args) >= 3 {
			method = strings.ToUpper(args[2])
		}
		os.Exit(check(client, api, method, args[1]))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// sweep exits 1 when any target is DOWN.
func sweep(client *http.Client, api string) int {
	resp, err := client.Post(api+"/api/sweep?wait=true", "application/json", nil)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return 2
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Println("API returned status:", resp.Status)
		return 2
	}

	var out struct {
		Report scheduler.Report `json:"report"`
		Rows   []domain.Row     `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Println("Unexpected response:", err)
		return 2
	}

	down := 0
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tLATENCY\tENV\tMETHOD\tURL")
	for _, r := range out.Rows {
		lat := "-"
		if r.LatencyMS != nil {
			lat = fmt.Sprintf("%dms", *r.LatencyMS)
		}
		if r.Status == domain.StatusDown {
			down++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Status, lat, r.Environment, r.Method, r.URL)
	}
	tw.Flush()
	fmt.Printf("\n%d targets checked in %s, %d down\n",
		out.Report.Completed, out.Report.Duration.Round(time.Millisecond), down)

	if down > 0 {
		return 1
	}
	return 0
}

func check(client *http.Client, api, method, target string) int {
	body, _ := json.Marshal(map[string]string{"method": method, "url": target})
	resp, err := client.Post(api+"/api/targets/check", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return 2
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Println("API returned status:", resp.Status)
		return 2
	}

	var d domain.DetailedCheck
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		fmt.Println("Unexpected response:", err)
		return 2
	}
	fmt.Printf("%s %s -> %s (%d) in %dms\n", d.Method, d.URL, d.Status, d.HTTPCode, d.LatencyMS)
	if d.Reason != "" {
		fmt.Println("reason:", d.Reason)
	}
	for k, v := range d.Headers {
		fmt.Printf("  %s: %s\n", k, v)
	}
	if d.Status == domain.StatusDown {
		return 1
	}
	return 0
}
