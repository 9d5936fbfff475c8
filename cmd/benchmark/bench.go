package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulzo/gptload-sync/internal/gptload/gptloadtest"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
	benchKey = "bench-key-12345"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	providers := flag.Int("providers", 20, "Providers to register before the attack")
	storm := flag.Int("sync-storm", 0, "Concurrent sync requests fired before the attack (0 disables)")
	flag.Parse()

	// gpt-load stand-in
	fake := gptloadtest.New("bench-admin")
	go func() {
		_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), fake.Handler())
	}()

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configFile := "bench_config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig), 0644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)

	fmt.Println("Starting application...")
	cmd := exec.Command("./bin/server")
	cmd.Env = append(os.Environ(), "CONFIG_FILE="+configFile, "LOG_LEVEL=error", "NO_COLOR=1")

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = os.Remove("bench.db")
	}()

	base := fmt.Sprintf("http://localhost:%d", appPort)
	waitForApp(base + "/health")
	seedProviders(base, *providers)

	if *storm > 0 {
		syncStorm(base, *storm)
	}

	done := make(chan struct{})
	go monitorResources(cmd.Process.Pid, done)

	fmt.Printf("Running plan/status benchmark: %s duration, %d req/s\n", *duration, *rate)

	var n uint64
	targeter := func(t *vegeta.Target) error {
		t.Header = http.Header{"Authorization": []string{"Bearer " + benchKey}}
		// rotate over the dry-run planner, run status and cached gpt-load status
		switch atomic.AddUint64(&n, 1) % 3 {
		case 0:
			t.Method = http.MethodPost
			t.URL = base + "/api/config/plan"
		case 1:
			t.Method = http.MethodGet
			t.URL = base + "/api/config/sync/status"
		default:
			t.Method = http.MethodGet
			t.URL = base + "/api/gptload/status"
		}
		return nil
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()
	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Printf("gpt-load groups: %d\n", len(fake.Groups()))
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if !seen[msg] && len(seen) < 5 {
				fmt.Println(msg)
				seen[msg] = true
			}
		}
	}
}

// seedProviders registers n providers that share a few popular models so the plan
// carries aggregates.
func seedProviders(base string, n int) {
	shared := []string{"gpt-4o", "claude-3-5-sonnet", "deepseek-chat"}
	for i := 0; i < n; i++ {
		models := append([]string{fmt.Sprintf("exclusive-%d-a", i), fmt.Sprintf("exclusive-%d-b", i)}, shared[:i%len(shared)+1]...)
		body, _ := json.Marshal(map[string]any{
			"name":     fmt.Sprintf("provider-%03d", i),
			"base_url": fmt.Sprintf("https://p%d.example/v1", i),
			"api_key":  fmt.Sprintf("sk-bench-%d", i),
			"models":   models,
		})
		status := post(base+"/api/providers", body)
		if status != http.StatusCreated && status != http.StatusConflict {
			log.Fatalf("seeding provider %d: status %d", i, status)
		}
	}
	fmt.Printf("Seeded %d providers\n", n)
}

// syncStorm fires concurrent syncs; exactly one should run, the rest are rejected.
func syncStorm(base string, concurrency int) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := make(map[int]int)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := post(base+"/api/config/sync", nil)
			mu.Lock()
			counts[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	fmt.Printf("Sync storm (%d requests, %s):", concurrency, time.Since(start).Round(time.Millisecond))
	for status, n := range counts {
		fmt.Printf(" %d=%d", status, n)
	}
	fmt.Println()
}

func post(url string, body []byte) int {
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+benchKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func monitorResources(pid int, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (ps) ---")
	fmt.Printf("% -10s % -10s % -10s\n", "Time", "RSS(MB)", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "rss=,%cpu=").Output()
			if err != nil {
				continue
			}
			fields := strings.Fields(string(out))
			if len(fields) < 2 {
				continue
			}
			rss, _ := strconv.ParseFloat(fields[0], 64)
			cpu, _ := strconv.ParseFloat(fields[1], 64)
			fmt.Printf("% -10s % -10.2f % -10.2f\n", time.Now().Format("15:04:05"), rss/1024, cpu)
		}
	}
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: "%d"
  env: production
  api_keys: ["%s"]
  rate_limit:
    requests_per_second: 100000
    burst: 100000
log:
  level: error
  format: json
database:
  dsn: "file:bench.db?_foreign_keys=on"
gptload:
  url: "http://localhost:%d"
  auth_key: "bench-admin"
  retry:
    max_attempts: 1
cache:
  status_ttl: 2s
`, appPort, benchKey, mockPort)
