// Benchmark tool for testing the validation engine against labeled receipt data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/receipts.csv -url http://localhost:8080
//
// This tool:
//  1. Reads extracted receipt data with legitimacy labels
//  2. Sends each receipt to the /validate endpoint
//  3. Compares the engine's verdict (auto-approve vs review/block) with the labels
//  4. Calculates precision, recall, F1-score, and the confusion matrix
//
// Expected CSV columns (header, any order):
//
//	valor,fecha,hora,entidad,referencia,tipo,islegit
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledReceipt is one row of the benchmark dataset.
type LabeledReceipt struct {
	Valor      string
	Fecha      string
	Hora       string
	Entidad    string
	Referencia string
	Tipo       string
	IsLegit    bool
}

// ValidateRequest matches the /validate request format.
type ValidateRequest struct {
	Data ReceiptData `json:"data"`
}

// ReceiptData is the extracted field set sent for validation.
type ReceiptData struct {
	Valor           string `json:"valor"`
	Fecha           string `json:"fecha"`
	Hora            string `json:"hora,omitempty"`
	Entidad         string `json:"entidad"`
	Referencia      string `json:"referencia"`
	TipoComprobante string `json:"tipoComprobante,omitempty"`
}

// ValidateResponse is the subset of the outcome the benchmark needs.
type ValidateResponse struct {
	ID     string `json:"id"`
	Score  int    `json:"score"`
	Status string `json:"status"`
	Action string `json:"action"`
}

// Metrics tracks benchmark results. A "positive" prediction is anything the
// engine does not auto-approve.
type Metrics struct {
	TruePositives  int64 // Bad receipt held for review
	FalsePositives int64 // Legit receipt held for review
	TrueNegatives  int64 // Legit receipt auto-approved
	FalseNegatives int64 // Bad receipt auto-approved (missed!)

	TotalProcessed int64
	TotalBad       int64
	TotalLegit     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled receipts CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Comprobante base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum receipts to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	badOnly := flag.Bool("bad-only", false, "Only test receipts labeled illegitimate")
	verbose := flag.Bool("verbose", false, "Print each receipt result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/receipts.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("===============================================================")
	fmt.Println("        COMPROBANTE BENCHMARK - Receipt Validation")
	fmt.Println("===============================================================")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Base URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:  %s\n", *tenantID)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Limit:      %d\n", *limit)
	fmt.Printf("Bad Only:   %v\n", *badOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: service not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the service is running:")
		fmt.Println("  go run cmd/comprobante/main.go")
		os.Exit(1)
	}
	fmt.Println("service is healthy")

	fmt.Printf("\nReading receipts from %s...\n", *csvPath)
	receipts, err := readReceiptsCSV(*csvPath, *limit, *badOnly)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d receipts\n", len(receipts))

	badCount := 0
	for _, r := range receipts {
		if !r.IsLegit {
			badCount++
		}
	}
	fmt.Printf("  - Illegitimate: %d (%.2f%%)\n", badCount, 100*float64(badCount)/float64(len(receipts)))
	fmt.Printf("  - Legitimate:   %d (%.2f%%)\n", len(receipts)-badCount, 100*float64(len(receipts)-badCount)/float64(len(receipts)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(receipts, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readReceiptsCSV(path string, limit int, badOnly bool) ([]LabeledReceipt, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	col := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var receipts []LabeledReceipt

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isLegit := col(record, "islegit") == "1"
		if badOnly && isLegit {
			continue
		}

		receipts = append(receipts, LabeledReceipt{
			Valor:      col(record, "valor"),
			Fecha:      col(record, "fecha"),
			Hora:       col(record, "hora"),
			Entidad:    col(record, "entidad"),
			Referencia: col(record, "referencia"),
			Tipo:       col(record, "tipo"),
			IsLegit:    isLegit,
		})

		if limit > 0 && len(receipts) >= limit {
			break
		}
	}

	return receipts, nil
}

func runBenchmark(receipts []LabeledReceipt, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledReceipt, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for r := range work {
				start := time.Now()
				result, err := validateReceipt(client, baseURL, tenantID, r)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", r.Referencia, err)
					}
					continue
				}

				if r.IsLegit {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				} else {
					atomic.AddInt64(&metrics.TotalBad, 1)
				}

				// Anything short of auto-approval counts as a flag.
				flagged := result.Action != "auto_approve"
				bad := !r.IsLegit

				if flagged && bad {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if flagged && !bad {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !flagged && !bad {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !flagged && bad
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok "
					if (flagged && !bad) || (!flagged && bad) {
						mark = "MISS"
					}
					fmt.Printf("%s ref=%-15s | %-14s | valor=%-10s | legit=%-5v | %s (%d)\n",
						mark,
						r.Referencia,
						r.Entidad,
						r.Valor,
						r.IsLegit,
						result.Status,
						result.Score,
					)
				}
			}
		}()
	}

	for _, r := range receipts {
		work <- r
	}
	close(work)

	wg.Wait()

	return metrics
}

func validateReceipt(client *http.Client, baseURL, tenantID string, r LabeledReceipt) (*ValidateResponse, error) {
	req := ValidateRequest{
		Data: ReceiptData{
			Valor:           r.Valor,
			Fecha:           r.Fecha,
			Hora:            r.Hora,
			Entidad:         r.Entidad,
			Referencia:      r.Referencia,
			TipoComprobante: r.Tipo,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n===============================================================")
	fmt.Println("                     BENCHMARK RESULTS")
	fmt.Println("===============================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:    %d\n", m.TotalProcessed)
	fmt.Printf("   Total Illegitimate: %d\n", m.TotalBad)
	fmt.Printf("   Total Legitimate:   %d\n", m.TotalLegit)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                         Predicted")
	fmt.Println("                    Flagged    Approved")
	fmt.Printf("   Actual   Bad   %8d    %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          Legit   %8d    %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged receipts, how many were bad)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of bad receipts, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalBad > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalBad) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalBad) * 100
		fmt.Printf("   Bad Caught:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalBad, detectionRate)
		fmt.Printf("   Bad Missed:   %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalBad, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Flags:  %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:     %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:      %.2f receipts/sec\n", rps)
	}

	fmt.Println()
}
