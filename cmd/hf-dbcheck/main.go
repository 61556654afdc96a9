package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"hostfact/internal/server"
)

// Quick doctor for a hostfact database. Prints the schema, row counts and
// how stale each agent's last heartbeat is.
func main() {
	dbPath := os.Getenv("HF_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/hostfact.db"
	}

	db, err := server.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		log.Fatalf("query tables: %v", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Fatalf("scan: %v", err)
		}
		tables = append(tables, name)
	}
	rows.Close()

	fmt.Println("tables:")
	for _, name := range tables {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + name).Scan(&n); err != nil {
			fmt.Printf("  %-20s ?\n", name)
			continue
		}
		fmt.Printf("  %-20s %d rows\n", name, n)
	}

	agents, err := db.Query(`SELECT id, hostname, last_seen FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		log.Fatalf("query agents: %v", err)
	}
	defer agents.Close()

	fmt.Println("agents:")
	now := time.Now()
	for agents.Next() {
		var id, hostname string
		var lastSeen int64
		if err := agents.Scan(&id, &hostname, &lastSeen); err != nil {
			log.Fatalf("scan: %v", err)
		}
		age := "never"
		if lastSeen > 0 {
			age = now.Sub(time.Unix(lastSeen, 0)).Round(time.Second).String() + " ago"
		}
		fmt.Printf("  %s  %-20s last heartbeat %s\n", id, hostname, age)
	}
}
