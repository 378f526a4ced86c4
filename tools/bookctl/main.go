// bookctl is a development smoke tool: it books an appointment
// against a running instance and prints the response.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "service base url")
		company  = flag.String("company-id", getenv("COMPANY_ID", ""), "company scope")
		customer = flag.String("customer-id", getenv("CUSTOMER_ID", ""), "customer id")
		staff    = flag.String("staff-id", getenv("STAFF_ID", ""), "staff id")
		service  = flag.String("service-id", getenv("SERVICE_ID", ""), "service id")
		ledgerID = flag.String("ledger-id", getenv("LEDGER_ID", ""), "optional session ledger to consume")
		start    = flag.String("start", "", "start time (RFC3339, default: tomorrow 10:00 UTC)")
		idempKey = flag.Bool("idempotency-key", true, "send a generated Idempotency-Key header")
	)
	flag.Parse()

	for name, v := range map[string]string{
		"COMPANY_ID":  *company,
		"CUSTOMER_ID": *customer,
		"STAFF_ID":    *staff,
		"SERVICE_ID":  *service,
	} {
		if strings.TrimSpace(v) == "" {
			fatal(name + " is required")
		}
	}

	startTime := *start
	if startTime == "" {
		tomorrow := time.Now().UTC().AddDate(0, 0, 1)
		startTime = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, time.UTC).Format(time.RFC3339)
	}

	payload, err := json.Marshal(map[string]any{
		"customer_id": *customer,
		"staff_id":    *staff,
		"services": []map[string]string{
			{"service_id": *service, "ledger_id": *ledgerID},
		},
		"start_time": startTime,
	})
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/appointments", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-Id", *company)
	if *idempKey {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, body)
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
