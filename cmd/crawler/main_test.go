package main

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func listingHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("p")
		switch page {
		case "1":
			fmt.Fprint(w, `<html><body><ol>`+
				`<li><div class="product details product-item-details"><a class="product-item-link" href="/aurora.html">Aurora MR</a><span class="price">$30.00</span></div></li>`+
				`<li><div class="product details product-item-details"><a class="product-item-link" href="/carrack.html">Carrack, Expedition</a><span class="price">$1,200.00</span></div></li>`+
				`</ol></body></html>`)
		case "2":
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		default:
			fmt.Fprint(w, `<html><body><p>No products</p></body></html>`)
		}
	})
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "crawler.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRootCommandCrawlsToCSV(t *testing.T) {
	srv := httptest.NewServer(listingHandler(t))
	defer srv.Close()

	dir := t.TempDir()
	output := filepath.Join(dir, "out", "listings.csv")
	configPath := writeConfig(t, dir, `
retry_delay_base = "0s"
task_delay_base = "0s"
base_workers = 2
speed_factor = 1.0
max_retries = 2
`)

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--base-url", srv.URL + "/catalog",
		"--pages", "3",
		"--output", output,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want header + 2", len(rows))
	}
	if strings.Join(rows[0], ",") != "Name,Price,Link" {
		t.Fatalf("header=%v", rows[0])
	}
	names := map[string]bool{rows[1][0]: true, rows[2][0]: true}
	if !names["Aurora MR"] || !names["Carrack, Expedition"] {
		t.Fatalf("unexpected rows: %v", rows[1:])
	}
	for _, row := range rows[1:] {
		if !strings.HasPrefix(row[2], srv.URL+"/") {
			t.Fatalf("link %q is not absolute", row[2])
		}
	}
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "listings.csv")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--env-file", filepath.Join(dir, "missing.env"),
		"--pages", "0",
		"--output", output,
	})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected configuration error")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("output should not exist after a configuration error, stat err=%v", err)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "pages = 10\nmax_retries = 3\n")
	t.Setenv("CRAWLER_PAGES", "20")

	var flags cliFlags
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--config", configPath, "--env-file", filepath.Join(dir, "none.env"), "--max-retries", "7"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	flags.configFile, _ = cmd.Flags().GetString("config")
	flags.envFile, _ = cmd.Flags().GetString("env-file")
	flags.maxRetries, _ = cmd.Flags().GetInt("max-retries")

	cfg, err := loadConfig(cmd, &flags)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Pages != 20 {
		t.Fatalf("pages=%d, want env value 20", cfg.Pages)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("max retries=%d, want flag value 7", cfg.MaxRetries)
	}
}
