package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Fires N concurrent booking requests at the same slot and reports how many
// won. Against a correctly serialised engine exactly one request per slot
// pair should come back 201; everything else should be a 409.

type attempt struct {
	Worker   int
	Status   int
	Duration time.Duration
	Body     string
	Err      error
}

type bookingPayload struct {
	ChildID        string `json:"child_id"`
	PsychologistID string `json:"psychologist_id"`
	SessionType    string `json:"session_type"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
}

func main() {
	var (
		base        string
		tokensPath  string
		psyID       string
		date        string
		startTime   string
		sessionType string
		workers     int
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&tokensPath, "tokens", "scripts/hold_contention/tokens.txt", "File with one parent token and child id per line, comma separated")
	flag.StringVar(&psyID, "psychologist", "", "Psychologist ID to contend on")
	flag.StringVar(&date, "date", "", "Slot date (YYYY-MM-DD)")
	flag.StringVar(&startTime, "start", "09:00", "Slot start time (HH:MM)")
	flag.StringVar(&sessionType, "session", "OnlineMeeting", "Session type (OnlineMeeting or InitialConsultation)")
	flag.IntVar(&workers, "workers", 10, "Concurrent booking attempts")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if psyID == "" || date == "" {
		log.Fatal("both -psychologist and -date are required")
	}

	identities, err := loadIdentities(tokensPath)
	if err != nil {
		log.Fatalf("failed to load tokens: %v", err)
	}
	if len(identities) < workers {
		log.Fatalf("need %d identities, have %d", workers, len(identities))
	}

	client := &http.Client{Timeout: timeout}
	results := make([]attempt, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-start
			results[worker] = fire(client, base, identities[worker], bookingPayload{
				ChildID:        identities[worker].childID,
				PsychologistID: psyID,
				SessionType:    sessionType,
				Date:           date,
				StartTime:      startTime,
			}, worker)
		}(i)
	}
	close(start)
	wg.Wait()

	won, conflicts, failures := report(results)

	fmt.Printf("\nWinners: %d, Conflicts: %d, Failures: %d\n", won, conflicts, failures)
	if won != 1 {
		fmt.Printf("EXPECTED exactly 1 winner for slot %s %s %s\n", psyID, date, startTime)
		os.Exit(1)
	}
}

type identity struct {
	token   string
	childID string
}

func loadIdentities(path string) ([]identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []identity
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad line %q, want token,child_id", line)
		}
		out = append(out, identity{token: strings.TrimSpace(parts[0]), childID: strings.TrimSpace(parts[1])})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no identities in %s", path)
	}
	return out, nil
}

func fire(client *http.Client, base string, id identity, payload bookingPayload, worker int) attempt {
	res := attempt{Worker: worker}

	body, err := json.Marshal(payload)
	if err != nil {
		res.Err = err
		return res
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+"/api/v1/bookings", bytes.NewReader(body))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+id.token)

	begin := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(begin)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		res.Err = err
		return res
	}
	res.Body = strings.TrimSpace(string(raw))
	return res
}

func report(results []attempt) (won, conflicts, failures int) {
	fmt.Println("Hold Contention Report")
	fmt.Println("======================")
	for _, res := range results {
		outcome := "FAIL"
		switch {
		case res.Err != nil:
			failures++
		case res.Status == http.StatusCreated:
			outcome = "WON"
			won++
		case res.Status == http.StatusConflict:
			outcome = "CONFLICT"
			conflicts++
		default:
			failures++
		}
		fmt.Printf("[%s] worker %d: status=%d duration=%s\n", outcome, res.Worker, res.Status, res.Duration)
		if res.Err != nil {
			fmt.Printf("  error: %v\n", res.Err)
		} else if outcome == "FAIL" {
			fmt.Printf("  body: %s\n", res.Body)
		}
	}
	return won, conflicts, failures
}
