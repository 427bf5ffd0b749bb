//go:build ignore
// +build ignore

// Package main fires concurrent borrows of one book to show how many loans
// the server grants against its copy count.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <isbn> <user1_id> [user2_id ...]
//
// Or:
//
//	ISBN=<isbn>  USER_IDS=<uuid1>,<uuid2>,...  go run ./scripts/concurrency_test.go
//
// With loan.conditional_copies off, more borrows than copies may succeed and
// GET /audit reports the drift afterwards. With it on, the surplus requests
// get 409 and the audit stays clean.
//
// Prerequisites:
//   - Server must be running (SERVER_ADDR, default http://localhost:8080).
//   - The book and the patrons must exist, e.g. via `librarian seed`.

package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const defaultServerAddr = "http://localhost:8080"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type borrowResult struct {
	UserID     string
	OK         bool
	Message    string
	Attempts   int
	StatusCode int
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	isbn := os.Getenv("ISBN")
	var userIDs []string
	if env := os.Getenv("USER_IDS"); env != "" {
		userIDs = strings.Split(env, ",")
	}
	args := os.Args[1:]
	if len(args) >= 1 {
		isbn = args[0]
	}
	if len(args) >= 2 {
		userIDs = args[1:]
	}
	if isbn == "" || len(userIDs) == 0 {
		log.Fatal("Usage: ISBN=<isbn> USER_IDS=<u1,u2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <isbn> <user1_id> [user2_id ...]")
	}

	before, err := availableCopies(serverAddr, isbn)
	if err != nil {
		log.Fatalf("read book: %v", err)
	}

	fmt.Printf("=== Library Concurrency Test ===\n")
	fmt.Printf("Server    : %s\n", serverAddr)
	fmt.Printf("Book      : %s (%d available)\n", isbn, before)
	fmt.Printf("Patrons   : %d\n\n", len(userIDs))

	results := make([]borrowResult, len(userIDs))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, uid := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, isbn, strings.TrimSpace(userID))
		}(i, uid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()

	var granted, refused, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-38s err=%v\n", r.UserID, r.Err)
		case r.OK:
			granted++
			fmt.Printf("  [LENT] user=%-38s attempts=%d\n", r.UserID, r.Attempts)
		case r.StatusCode == http.StatusConflict:
			refused++
			fmt.Printf("  [FULL] user=%-38s %s\n", r.UserID, r.Message)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-38s status=%d %s\n", r.UserID, r.StatusCode, r.Message)
		}
	}

	after, err := availableCopies(serverAddr, isbn)
	if err != nil {
		log.Fatalf("read book: %v", err)
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Granted   : %d\n", granted)
	fmt.Printf("Refused   : %d\n", refused)
	fmt.Printf("Failures  : %d\n", failures)
	fmt.Printf("Copies    : %d -> %d\n\n", before, after)

	if granted > before {
		fmt.Printf("[RACE] %d loans granted for %d copies; run GET /audit to see the drift.\n", granted, before)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

func attemptBorrow(serverAddr, isbn, userID string) borrowResult {
	body, _ := json.Marshal(map[string]string{"user_id": userID, "isbn": isbn})
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverAddr+"/borrows", "application/json", bytes.NewReader(body))
	if err != nil {
		return borrowResult{UserID: userID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		OK       bool   `json:"ok"`
		Message  string `json:"message"`
		Attempts int    `json:"attempts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{UserID: userID, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}
	return borrowResult{
		UserID:     userID,
		OK:         parsed.OK,
		Message:    parsed.Message,
		Attempts:   parsed.Attempts,
		StatusCode: resp.StatusCode,
	}
}

func availableCopies(serverAddr, isbn string) (int, error) {
	resp, err := http.Get(serverAddr + "/books/" + isbn)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	var book struct {
		AvailableCopies int `json:"available_copies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return 0, err
	}
	return book.AvailableCopies, nil
}
