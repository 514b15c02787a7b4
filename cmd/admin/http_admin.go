package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func catalogCmd(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	remove := fs.String("delete", "", "delete this item id instead of listing")
	_ = fs.Parse(args)

	if id := strings.TrimSpace(*remove); id != "" {
		adminCall(*baseURL, http.MethodDelete, "/admin/v1/catalog/"+url.PathEscape(id), 5*time.Second)
		return
	}
	adminCall(*baseURL, http.MethodGet, "/admin/v1/catalog", 5*time.Second)
}

func decayCmd(args []string) {
	fs := flag.NewFlagSet("decay", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	adminCall(*baseURL, http.MethodPost, "/admin/v1/decay", 60*time.Second)
}

func vehicleCmd(args []string) {
	fs := flag.NewFlagSet("vehicle", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	key := fs.String("key", "", "vehicle key (required)")
	live := fs.Bool("live", true, "mark the vehicle live (false removes it)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*key) == "" {
		fmt.Fprintln(os.Stderr, "missing -key")
		os.Exit(2)
	}
	method := http.MethodPost
	if !*live {
		method = http.MethodDelete
	}
	adminCall(*baseURL, method, "/admin/v1/vehicles/"+url.PathEscape(strings.TrimSpace(*key)), 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	adminCall(*baseURL, http.MethodPost, "/admin/v1/snapshot", 30*time.Second)
}

// adminCall prints the response body and exits non-zero on a non-2xx status.
func adminCall(baseURL, method, path string, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
